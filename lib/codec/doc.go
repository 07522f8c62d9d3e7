// Package codec provides payload serialization for the state synchronization
// core. It defines a common interface and multiple implementations for
// converting typed subsystem states to and from their canonical byte form.
//
// The package focuses on:
//   - Providing a consistent interface for different serialization formats
//   - Deterministic output, since the core detects conflicts by comparing
//     encoded payloads byte-wise
//   - Keeping the core itself payload-agnostic: only the adapter boundary
//     (see the syncable package) knows the concrete state types
//
// Key Components:
//
//   - ICodec: Core interface that all codec implementations must satisfy.
//
//   - jsonCodecImpl: Implementation using JSON encoding. Human-readable,
//     useful for debugging and for subsystems whose state is exchanged with
//     non-Go tooling. Map keys are emitted sorted, so output is stable.
//
//   - gobCodecImpl: Implementation using Go's built-in gob encoding. Compact
//     and faithful to Go's type system, but opaque on the wire.
//
// Thread Safety:
//
//	All codec implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	Codecs are typically created once and passed to a typed adapter:
//
//	  c := codec.NewJSONCodec()
//	  adapter := syncable.NewTyped("economy", c, funcs)
package codec
