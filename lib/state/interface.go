package state

import (
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Data Model
// --------------------------------------------------------------------------

// SystemState is the last known state record for a registered subsystem.
// It is owned exclusively by the state store and mutated only through
// successful apply operations.
type SystemState struct {
	SystemID     string    `json:"system_id"`
	Version      uint64    `json:"version"`
	Payload      []byte    `json:"payload"`
	LastModified time.Time `json:"last_modified"`
	IsValid      bool      `json:"is_valid"`
}

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IStateStore is the generic interface for the per-subsystem state store.
// All write operations return the updated record and an error (nil on success).
//
// Version discipline: Seed creates a record at version 1, every accepted
// Apply increments the version by exactly 1. There are no gaps and no
// decreases for the lifetime of a record.
//
// Thread-safety: reads may happen from any goroutine; writes for the same
// system id must be issued from a single goroutine at a time (the scheduling
// loop in normal operation).
type IStateStore interface {
	// Seed creates the record for a newly registered subsystem at version 1.
	// It fails with RetCDuplicateSystem if a record already exists.
	Seed(systemID string, payload []byte) (SystemState, error)
	// Apply replaces the payload of an existing record and increments its
	// version by 1. It fails with RetCSystemNotFound if no record exists.
	Apply(systemID string, payload []byte) (SystemState, error)
	// Get returns the record for a system id. The boolean return value
	// indicates whether a record was found.
	Get(systemID string) (SystemState, bool)
	// Remove deletes the record for a system id. It returns whether a
	// record existed.
	Remove(systemID string) bool
	// Invalidate marks the record for a system id as invalid without
	// touching payload or version. Used for corruption handling.
	Invalidate(systemID string) error
	// Snapshot returns a copy of all records keyed by system id.
	Snapshot() map[string]SystemState
	// Len returns the number of records.
	Len() int
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("SyncError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// NewErrorf creates a new Error with the given code and a formatted message.
func NewErrorf(code RetCode, format string, args ...interface{}) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Code extracts the return code from an error.
// It returns RetCSuccess for nil and RetCInternalError for foreign errors.
func Code(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return RetCInternalError
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess             RetCode = iota // 0: Operation executed successfully.
	RetCInternalError                      // 1: Operation failed due to an internal error.
	RetCDuplicateSystem                    // 2: A subsystem with the same id is already registered.
	RetCSystemNotFound                     // 3: No subsystem is registered under the given id.
	RetCValidationFailed                   // 4: The subsystem rejected the value as invalid.
	RetCUnsupportedStrategy                // 5: The requested conflict resolution strategy is unknown.
	RetCResolutionTimeout                  // 6: Manual conflict resolution timed out.
	RetCSnapshotNotFound                   // 7: The requested snapshot is absent or was evicted.
	RetCApplyFailed                        // 8: The subsystem failed to apply or restore a value.
	RetCQueueClosed                        // 9: The operation queue is closed.
	RetCNotImplemented                     // 10: The requested feature is not implemented.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCDuplicateSystem:
		return "DuplicateSystem"
	case RetCSystemNotFound:
		return "SystemNotFound"
	case RetCValidationFailed:
		return "ValidationFailed"
	case RetCUnsupportedStrategy:
		return "UnsupportedStrategy"
	case RetCResolutionTimeout:
		return "ResolutionTimeout"
	case RetCSnapshotNotFound:
		return "SnapshotNotFound"
	case RetCApplyFailed:
		return "ApplyFailed"
	case RetCQueueClosed:
		return "QueueClosed"
	case RetCNotImplemented:
		return "NotImplemented"
	default:
		return "Unknown"
	}
}
