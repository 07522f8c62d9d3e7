package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
)

// latencyAlpha is the smoothing factor of the exponential moving average
// over operation latencies.
const latencyAlpha = 0.1

// Snapshot is a point-in-time copy of the aggregated synchronization
// metrics. Purely observational; nothing in the core branches on it.
type Snapshot struct {
	Successful        uint64        `json:"successful_count"`
	Failed            uint64        `json:"failed_count"`
	AverageLatency    time.Duration `json:"average_latency"`
	LastSyncTime      time.Time     `json:"last_sync_time"`
	ActiveConflicts   int           `json:"active_conflict_count"`
	QueueSize         int           `json:"queue_size"`
	RegisteredSystems int           `json:"registered_system_count"`
	HistorySize       int           `json:"history_size"`
}

// Process-wide gauge state exposed to the Prometheus registry. The gauges
// are registered once and read through these atomics, so creating multiple
// aggregators (e.g. in tests) never re-registers a metric.
var (
	gaugeQueueSize         atomic.Int64
	gaugeActiveConflicts   atomic.Int64
	gaugeRegisteredSystems atomic.Int64
	gaugeHistorySize       atomic.Int64

	registerOnce sync.Once
)

func registerGauges() {
	vm.GetOrCreateGauge(`statesync_queue_size`, func() float64 {
		return float64(gaugeQueueSize.Load())
	})
	vm.GetOrCreateGauge(`statesync_active_conflicts`, func() float64 {
		return float64(gaugeActiveConflicts.Load())
	})
	vm.GetOrCreateGauge(`statesync_registered_systems`, func() float64 {
		return float64(gaugeRegisteredSystems.Load())
	})
	vm.GetOrCreateGauge(`statesync_history_size`, func() float64 {
		return float64(gaugeHistorySize.Load())
	})
}

// Aggregator tracks operation outcomes, rolling average latency, queue
// depth and conflict counts. Counts are mirrored into the process-wide
// VictoriaMetrics registry for the /metrics endpoint.
type Aggregator struct {
	mu                sync.RWMutex
	successful        uint64
	failed            uint64
	avgLatencySec     float64
	hasLatency        bool
	lastSyncTime      time.Time
	activeConflicts   int
	queueSize         int
	registeredSystems int
	historySize       int

	opsSuccess *vm.Counter
	opsFailure *vm.Counter
	latency    *vm.Histogram
}

// NewAggregator creates a metrics aggregator.
func NewAggregator() *Aggregator {
	registerOnce.Do(registerGauges)
	return &Aggregator{
		opsSuccess: vm.GetOrCreateCounter(`statesync_ops_total{status="success"}`),
		opsFailure: vm.GetOrCreateCounter(`statesync_ops_total{status="failure"}`),
		latency:    vm.GetOrCreateHistogram(`statesync_op_latency_seconds`),
	}
}

// --------------------------------------------------------------------------
// Recording
// --------------------------------------------------------------------------

// RecordSuccess counts a successfully completed operation and folds its
// latency into the moving average.
func (a *Aggregator) RecordSuccess(latency time.Duration, at time.Time) {
	a.mu.Lock()
	a.successful++
	a.updateLatency(latency)
	a.lastSyncTime = at
	a.mu.Unlock()

	a.opsSuccess.Inc()
	a.latency.Update(latency.Seconds())
}

// RecordFailure counts a failed operation and folds its latency into the
// moving average.
func (a *Aggregator) RecordFailure(latency time.Duration, at time.Time) {
	a.mu.Lock()
	a.failed++
	a.updateLatency(latency)
	a.lastSyncTime = at
	a.mu.Unlock()

	a.opsFailure.Inc()
	a.latency.Update(latency.Seconds())
}

// RecordConflict counts a detected conflict by kind.
func (a *Aggregator) RecordConflict(kind string) {
	vm.GetOrCreateCounter(`statesync_conflicts_total{kind="` + kind + `"}`).Inc()
}

// updateLatency must be called with the mutex held.
func (a *Aggregator) updateLatency(latency time.Duration) {
	sec := latency.Seconds()
	if !a.hasLatency {
		a.avgLatencySec = sec
		a.hasLatency = true
		return
	}
	a.avgLatencySec = latencyAlpha*sec + (1-latencyAlpha)*a.avgLatencySec
}

// --------------------------------------------------------------------------
// Gauges
// --------------------------------------------------------------------------

// SetQueueSize updates the queue depth gauge.
func (a *Aggregator) SetQueueSize(n int) {
	a.mu.Lock()
	a.queueSize = n
	a.mu.Unlock()
	gaugeQueueSize.Store(int64(n))
}

// SetActiveConflicts updates the active conflict gauge.
func (a *Aggregator) SetActiveConflicts(n int) {
	a.mu.Lock()
	a.activeConflicts = n
	a.mu.Unlock()
	gaugeActiveConflicts.Store(int64(n))
}

// SetRegisteredSystems updates the registered subsystem gauge.
func (a *Aggregator) SetRegisteredSystems(n int) {
	a.mu.Lock()
	a.registeredSystems = n
	a.mu.Unlock()
	gaugeRegisteredSystems.Store(int64(n))
}

// SetHistorySize updates the snapshot history gauge.
func (a *Aggregator) SetHistorySize(n int) {
	a.mu.Lock()
	a.historySize = n
	a.mu.Unlock()
	gaugeHistorySize.Store(int64(n))
}

// --------------------------------------------------------------------------
// Reading
// --------------------------------------------------------------------------

// Snapshot returns a copy of the current metric values.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Snapshot{
		Successful:        a.successful,
		Failed:            a.failed,
		AverageLatency:    time.Duration(a.avgLatencySec * float64(time.Second)),
		LastSyncTime:      a.lastSyncTime,
		ActiveConflicts:   a.activeConflicts,
		QueueSize:         a.queueSize,
		RegisteredSystems: a.registeredSystems,
		HistorySize:       a.historySize,
	}
}
