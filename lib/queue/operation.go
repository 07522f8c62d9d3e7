package queue

import (
	"time"

	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Operation Kinds
// --------------------------------------------------------------------------

// Kind identifies the type of a pending synchronization operation.
type Kind int

const (
	KindStateUpdate        Kind = iota + 1 // apply a new state value to a subsystem
	KindStateRestore                       // roll a subsystem back to a previous value
	KindConflictResolution                 // apply the outcome of a resolved conflict
	KindRegistration                       // audit record for a subsystem registration
	KindDeregistration                     // remove a subsystem from the registry
	KindSnapshotCreate                     // capture a snapshot of all subsystems
	KindSnapshotRestore                    // restore all subsystems from a snapshot
)

func (k Kind) String() string {
	switch k {
	case KindStateUpdate:
		return "state-update"
	case KindStateRestore:
		return "state-restore"
	case KindConflictResolution:
		return "conflict-resolution"
	case KindRegistration:
		return "registration"
	case KindDeregistration:
		return "deregistration"
	case KindSnapshotCreate:
		return "snapshot-create"
	case KindSnapshotRestore:
		return "snapshot-restore"
	default:
		return "unknown"
	}
}

// Valid reports whether k is a known operation kind.
func (k Kind) Valid() bool {
	return k >= KindStateUpdate && k <= KindSnapshotRestore
}

// --------------------------------------------------------------------------
// Sync Operation
// --------------------------------------------------------------------------

// SyncOperation is a single pending synchronization operation. It is created
// when a subsystem reports a change or when a caller requests work explicitly,
// and archived to metrics once processed.
type SyncOperation struct {
	ID          string    `json:"id"`
	SystemID    string    `json:"system_id"`
	Kind        Kind      `json:"kind"`
	Payload     []byte    `json:"payload"`
	Priority    int       `json:"priority"`
	QueuedAt    time.Time `json:"queued_at"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Success     bool      `json:"success"`
	Err         string    `json:"error_message"`
}

// NewOperation creates a new operation with a unique id and the current
// time as QueuedAt.
func NewOperation(kind Kind, systemID string, payload []byte) *SyncOperation {
	return &SyncOperation{
		ID:       uuid.NewString(),
		SystemID: systemID,
		Kind:     kind,
		Payload:  payload,
		QueuedAt: time.Now(),
	}
}

// Latency returns the enqueue-to-completion duration of a processed operation.
func (op *SyncOperation) Latency() time.Duration {
	if op.CompletedAt.IsZero() {
		return 0
	}
	return op.CompletedAt.Sub(op.QueuedAt)
}
