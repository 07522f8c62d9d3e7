// Package state provides the per-subsystem state store of the synchronization
// core together with the module's unified error handling.
//
// The package focuses on:
//   - A single record (SystemState) per registered subsystem holding the
//     last known payload, a monotonic version, a modification timestamp and
//     a validity flag
//   - A unified interface (IStateStore) so alternative store backends can be
//     substituted without touching the core
//   - A structured error system using typed return codes shared by all
//     packages of this module
//
// Version semantics:
//
//	Registration seeds a record at version 1. Every accepted apply operation
//	increments the version by exactly 1 - no gaps, no decreases. This makes
//	version progression a cheap consistency check for callers.
//
// Error System:
//
//	All failure paths of the core report *state.Error values carrying a
//	RetCode. Callers can branch on the code via state.Code(err) instead of
//	string matching. Nothing in this module treats an error as fatal.
package state
