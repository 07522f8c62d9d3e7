package syncable

import (
	"time"
)

// StateChange is the notification a subsystem emits whenever its internal
// state changes outside of a core-driven apply. The core enqueues every
// received change as a state-update operation.
type StateChange struct {
	SystemID string
	NewState []byte
	At       time.Time
}

// ISyncable is the boundary contract every synchronized subsystem must
// implement. The core only ever issues read requests (CurrentState,
// ValidateState) and write commands (ApplyState, RestoreState) to a
// subsystem; subsystems never mutate core-owned structures directly.
type ISyncable interface {
	// SystemID returns the stable unique identifier of the subsystem.
	SystemID() string
	// CurrentState returns the canonical encoding of the subsystem's present
	// condition. Must be side-effect-free.
	CurrentState() ([]byte, error)
	// ApplyState commits a new state value. It may fail if the value is
	// structurally invalid for this subsystem.
	ApplyState(value []byte) error
	// RestoreState commits a value on the rollback path. Implementations may
	// differ from ApplyState when restoration has to bypass validation that
	// would reject a historical value as stale.
	RestoreState(value []byte) error
	// ValidateState is a pure predicate used before commit when validation
	// is enabled.
	ValidateState(value []byte) bool
	// Changes is the subsystem's change-notification stream. The channel is
	// closed when the subsystem shuts down.
	Changes() <-chan StateChange
}

// Merger is an optional capability a subsystem can implement to supply a
// real three-way merge for the merge resolution strategy. Without it the
// default merge degenerates to keeping the local value.
type Merger interface {
	// MergeStates reconciles a conflicting update. local is the incoming
	// value, remote the subsystem's actual current value and base the last
	// value the core recorded.
	MergeStates(local, remote, base []byte) ([]byte, error)
}
