// Package core implements the real-time state synchronization core: an
// in-process optimistic-replication system over a registry of
// independently-owned subsystem states.
//
// The package wires the leaf components of this module together:
//   - syncable: the boundary contract of the synchronized subsystems
//   - queue: the unbounded MPSC operation queue feeding the scheduler
//   - state: the per-subsystem state store with monotonic versions
//   - conflict: concurrent-modification detection and pluggable resolution
//   - snapshot: periodic capture and bounded FIFO history with rollback
//   - metrics: purely observational aggregation of outcomes and gauges
//
// Data flow: subsystem change notification -> operation queue -> (conflict
// detection -> optional resolution) -> state store update -> observer
// notification. Independently, a ticker enqueues periodic snapshot-create
// operations.
//
// Scheduling model: one cooperative loop goroutine drives fixed-interval
// ticks, draining at most a configured number of operations per tick to
// bound per-tick latency. Operations targeting the same subsystem are
// applied in enqueue order; across subsystems there is no ordering
// guarantee. There is no cancellation of in-flight operations - timeouts
// are the sole bail-out for stuck manual resolutions, and stale resolution
// contexts are swept every tick.
//
// Failure philosophy: nothing in this core is process-fatal. Every failure
// path degrades to "operation marked failed, metric incremented, continue";
// one misbehaving subsystem never stalls the scheduler.
//
// Lifecycle:
//
//	c, err := core.New(core.DefaultConfig())
//	if err != nil { ... }
//	if err := c.Register(adapter); err != nil { ... }
//	if err := c.Start(); err != nil { ... }
//	defer c.Stop()
package core
