// Package metrics aggregates observational metrics for the synchronization
// core: success/failure counts, a rolling average latency (exponential
// moving average), queue depth, conflict counts, registry and history sizes.
//
// The aggregator has no control-flow impact on the core. Values are mirrored
// into the process-wide VictoriaMetrics registry so a host process can expose
// them via metrics.WritePrometheus on an HTTP endpoint.
package metrics
