// Package conflict provides concurrent-modification detection and pluggable
// conflict resolution for the state synchronization core.
//
// The package focuses on:
//   - Detection by structural value equality over canonical payload
//     encodings, avoiding the false negatives of string-representation
//     comparison
//   - A conflict taxonomy (Kind) covering concurrent modification, version
//     mismatch, corruption, partition and validation failure
//   - Four resolution strategies: last-writer-wins (default),
//     first-writer-wins, merge (pluggable per subsystem) and
//     manual/deferred resolution bounded by a timeout
//   - Bounded memory: active manual resolutions live in a concurrent map
//     that is purged on completion, timeout, and a per-tick stale sweep
//
// Resolution never silently drops an operation: every attempt ends with a
// resolved value or a structured failure carrying a typed return code.
//
// Thread Safety:
//
//	The detector is stateless. The resolver may be driven from the
//	scheduling loop while external callers concurrently supply manual
//	resolutions; the active map and a per-context settle flag arbitrate
//	the inherent race between resolution, timeout and sweep.
package conflict
