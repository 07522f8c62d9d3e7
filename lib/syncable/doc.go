// Package syncable defines the boundary contract between the synchronization
// core and the subsystems it keeps consistent.
//
// The package focuses on:
//   - The ISyncable interface: the complete capability contract a subsystem
//     must expose (identity, state access, apply/restore commands, a
//     validation predicate and a change-notification stream)
//   - Channel-based change notification: subsystems report out-of-band
//     mutations on a bounded channel per subsystem instead of invoking
//     callbacks, which makes ordering and backpressure explicit
//   - The Typed generic adapter: wraps plain typed accessor functions and a
//     codec so application code never handles encoded payloads directly
//
// Key Components:
//
//   - ISyncable: Core interface. The synchronization core only issues read
//     requests and write commands through it, preserving the single-writer
//     discipline over all core-owned state.
//
//   - Merger: Optional capability for subsystems that can perform a real
//     three-way merge. The merge resolution strategy consults it when
//     present and keeps the incoming value otherwise.
//
//   - Typed[T]: Generic adapter implementing ISyncable (and Merger) on top
//     of a Funcs[T] bundle. NotifyChange encodes the current value and
//     offers it to the change channel without ever blocking the caller.
//
// Note on codecs: conflict detection compares encoded payloads byte-wise,
// so the codec must encode equal values identically. The JSON codec
// guarantees this for maps (sorted keys); gob should only be used for
// struct-shaped state.
//
// The sibling testing package provides a scriptable fake subsystem and a
// conformance suite for ISyncable implementations.
package syncable
