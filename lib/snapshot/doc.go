// Package snapshot provides periodic consistent snapshotting and bounded
// history retention for the state synchronization core.
//
// A snapshot is an immutable capture of every registered subsystem's state
// at one point in time, with an estimated in-memory size. Snapshots are
// retained in a FIFO ring capped at a configured maximum; when the cap is
// exceeded the oldest snapshots are evicted first. Restoration from a
// snapshot is orchestrated by the core, which skips subsystems that have
// been unregistered since the capture (partial restore is acceptable).
//
// The manager can optionally persist its history to an io.Writer and load
// it back (gob encoded). This is an explicit call; by default all history
// lives in memory for the lifetime of the process.
package snapshot
