package syncable

import (
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/statesync/lib/codec"
	"github.com/ValentinKolb/statesync/lib/state"
)

// defaultChangeBuffer is the capacity of the per-subsystem change channel.
// A full buffer makes NotifyChange return false instead of blocking the
// subsystem, which is the explicit backpressure signal of this design.
const defaultChangeBuffer = 16

// Funcs bundles the typed accessors a subsystem supplies to a Typed adapter.
// Current and Apply are mandatory, the rest are optional:
//   - Restore falls back to Apply when nil
//   - Validate treats every decodable value as valid when nil
//   - Merge makes the merge resolution strategy keep the local value when nil
type Funcs[T any] struct {
	Current  func() T
	Apply    func(T) error
	Restore  func(T) error
	Validate func(T) bool
	Merge    func(local, remote, base T) T
}

// Typed adapts a pair of typed accessor functions to the ISyncable contract.
// The codec turns values of type T into their canonical byte encoding at the
// adapter boundary, so the core stays payload-agnostic while callers keep
// full type safety.
//
// Thread-safety: the adapter itself is safe for concurrent use; the supplied
// accessor functions must be safe to call from the core's goroutines.
type Typed[T any] struct {
	id      string
	codec   codec.ICodec
	fns     Funcs[T]
	changes chan StateChange
	closed  atomic.Bool
	now     func() time.Time
}

// TypedOption configures a Typed adapter during creation.
type TypedOption[T any] func(*Typed[T])

// WithChangeBuffer overrides the capacity of the change channel.
func WithChangeBuffer[T any](size int) TypedOption[T] {
	return func(t *Typed[T]) {
		t.changes = make(chan StateChange, size)
	}
}

// WithTypedClock overrides the time source used for change timestamps.
// Intended for tests.
func WithTypedClock[T any](now func() time.Time) TypedOption[T] {
	return func(t *Typed[T]) {
		t.now = now
	}
}

// NewTyped creates a new typed adapter for the given subsystem id.
func NewTyped[T any](id string, c codec.ICodec, fns Funcs[T], opts ...TypedOption[T]) *Typed[T] {
	t := &Typed[T]{
		id:      id,
		codec:   c,
		fns:     fns,
		changes: make(chan StateChange, defaultChangeBuffer),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// --------------------------------------------------------------------------
// Interface Methods (docu see syncable/interface.go)
// --------------------------------------------------------------------------

func (t *Typed[T]) SystemID() string {
	return t.id
}

func (t *Typed[T]) CurrentState() ([]byte, error) {
	return t.codec.Encode(t.fns.Current())
}

func (t *Typed[T]) ApplyState(value []byte) error {
	var v T
	if err := t.codec.Decode(value, &v); err != nil {
		return state.NewErrorf(state.RetCApplyFailed, "decode state for %q: %v", t.id, err)
	}
	return t.fns.Apply(v)
}

func (t *Typed[T]) RestoreState(value []byte) error {
	var v T
	if err := t.codec.Decode(value, &v); err != nil {
		return state.NewErrorf(state.RetCApplyFailed, "decode state for %q: %v", t.id, err)
	}
	if t.fns.Restore != nil {
		return t.fns.Restore(v)
	}
	return t.fns.Apply(v)
}

func (t *Typed[T]) ValidateState(value []byte) bool {
	var v T
	if err := t.codec.Decode(value, &v); err != nil {
		return false
	}
	if t.fns.Validate == nil {
		return true
	}
	return t.fns.Validate(v)
}

func (t *Typed[T]) Changes() <-chan StateChange {
	return t.changes
}

// MergeStates implements the Merger capability. Without a typed merge
// function it keeps the local value, mirroring the default merge behavior
// of the resolver.
func (t *Typed[T]) MergeStates(local, remote, base []byte) ([]byte, error) {
	if t.fns.Merge == nil {
		return local, nil
	}
	var l, r, b T
	if err := t.codec.Decode(local, &l); err != nil {
		return nil, state.NewErrorf(state.RetCInternalError, "decode local value for %q: %v", t.id, err)
	}
	if err := t.codec.Decode(remote, &r); err != nil {
		return nil, state.NewErrorf(state.RetCInternalError, "decode remote value for %q: %v", t.id, err)
	}
	if err := t.codec.Decode(base, &b); err != nil {
		return nil, state.NewErrorf(state.RetCInternalError, "decode base value for %q: %v", t.id, err)
	}
	return t.codec.Encode(t.fns.Merge(l, r, b))
}

// --------------------------------------------------------------------------
// Producer Side
// --------------------------------------------------------------------------

// NotifyChange emits the subsystem's current value on the change channel.
// Call it after every out-of-band mutation of the underlying state.
// It never blocks: the return value is false when the adapter is closed,
// the value cannot be encoded, or the change buffer is full (backpressure).
func (t *Typed[T]) NotifyChange() bool {
	if t.closed.Load() {
		return false
	}
	encoded, err := t.codec.Encode(t.fns.Current())
	if err != nil {
		return false
	}
	select {
	case t.changes <- StateChange{SystemID: t.id, NewState: encoded, At: t.now()}:
		return true
	default:
		return false
	}
}

// Close shuts the change stream down. Further NotifyChange calls are no-ops.
func (t *Typed[T]) Close() {
	if t.closed.CompareAndSwap(false, true) {
		close(t.changes)
	}
}
