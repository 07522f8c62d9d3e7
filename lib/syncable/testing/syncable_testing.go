package testing

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/statesync/lib/syncable"
)

// --------------------------------------------------------------------------
// Fake Subsystem
// --------------------------------------------------------------------------

// FakeSystem is a scriptable ISyncable implementation for tests. It keeps
// its state as raw bytes, records every apply and restore, and supports
// failure injection for the error handling paths of the core.
type FakeSystem struct {
	id string

	mu         sync.Mutex
	state      []byte
	applyErr   error
	restoreErr error
	invalid    bool
	applied    [][]byte
	restored   [][]byte

	changes   chan syncable.StateChange
	closeOnce sync.Once
}

// NewFakeSystem creates a fake subsystem with the given id and initial state.
func NewFakeSystem(id string, initial []byte) *FakeSystem {
	return &FakeSystem{
		id:      id,
		state:   append([]byte(nil), initial...),
		changes: make(chan syncable.StateChange, 16),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see syncable/interface.go)
// --------------------------------------------------------------------------

func (f *FakeSystem) SystemID() string {
	return f.id
}

func (f *FakeSystem) CurrentState() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.state...), nil
}

func (f *FakeSystem) ApplyState(value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		err := f.applyErr
		f.applyErr = nil
		return err
	}
	f.state = append([]byte(nil), value...)
	f.applied = append(f.applied, append([]byte(nil), value...))
	return nil
}

func (f *FakeSystem) RestoreState(value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.restoreErr != nil {
		err := f.restoreErr
		f.restoreErr = nil
		return err
	}
	f.state = append([]byte(nil), value...)
	f.restored = append(f.restored, append([]byte(nil), value...))
	return nil
}

func (f *FakeSystem) ValidateState(value []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.invalid
}

func (f *FakeSystem) Changes() <-chan syncable.StateChange {
	return f.changes
}

// --------------------------------------------------------------------------
// Scripting Helpers
// --------------------------------------------------------------------------

// SetState mutates the fake's state out-of-band and emits a change
// notification, like a real subsystem changing on its own.
func (f *FakeSystem) SetState(value []byte) {
	f.SetStateSilently(value)
	f.changes <- syncable.StateChange{
		SystemID: f.id,
		NewState: append([]byte(nil), value...),
		At:       time.Now(),
	}
}

// SetStateSilently mutates the fake's state without a notification. Used to
// fabricate concurrent modifications the core has not seen.
func (f *FakeSystem) SetStateSilently(value []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = append([]byte(nil), value...)
}

// FailNextApply makes the next ApplyState call return err.
func (f *FakeSystem) FailNextApply(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applyErr = err
}

// FailNextRestore makes the next RestoreState call return err.
func (f *FakeSystem) FailNextRestore(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restoreErr = err
}

// SetInvalid controls ValidateState's verdict for all subsequent calls.
func (f *FakeSystem) SetInvalid(invalid bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalid = invalid
}

// Applied returns all values committed via ApplyState, in order.
func (f *FakeSystem) Applied() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.applied))
	copy(out, f.applied)
	return out
}

// Restored returns all values committed via RestoreState, in order.
func (f *FakeSystem) Restored() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.restored))
	copy(out, f.restored)
	return out
}

// Close closes the change stream.
func (f *FakeSystem) Close() {
	f.closeOnce.Do(func() {
		close(f.changes)
	})
}

// --------------------------------------------------------------------------
// Conformance Suite
// --------------------------------------------------------------------------

// SyncableFactory creates a fresh ISyncable instance seeded with the given
// initial state for each conformance run.
type SyncableFactory func(initial []byte) syncable.ISyncable

// RunSyncableTests runs a conformance test suite for an ISyncable
// implementation. The factory must produce a subsystem whose CurrentState
// returns the initial bytes verbatim and whose ApplyState accepts any value
// previously produced by CurrentState.
func RunSyncableTests(t *testing.T, name string, factory SyncableFactory) {
	t.Run(name, func(t *testing.T) {
		initial := []byte(`{"value":1}`)

		t.Run("StableID", func(t *testing.T) {
			s := factory(initial)
			if s.SystemID() == "" {
				t.Fatal("SystemID must not be empty")
			}
			if s.SystemID() != s.SystemID() {
				t.Fatal("SystemID must be stable")
			}
		})

		t.Run("CurrentStateSideEffectFree", func(t *testing.T) {
			s := factory(initial)
			first, err := s.CurrentState()
			if err != nil {
				t.Fatalf("CurrentState failed: %v", err)
			}
			second, err := s.CurrentState()
			if err != nil {
				t.Fatalf("CurrentState failed: %v", err)
			}
			if !bytes.Equal(first, second) {
				t.Errorf("repeated reads differ: %q vs %q", first, second)
			}
		})

		t.Run("ApplyRoundTrip", func(t *testing.T) {
			s := factory(initial)
			value, err := s.CurrentState()
			if err != nil {
				t.Fatalf("CurrentState failed: %v", err)
			}
			if !s.ValidateState(value) {
				t.Fatal("own state must validate")
			}
			if err := s.ApplyState(value); err != nil {
				t.Fatalf("ApplyState rejected own state: %v", err)
			}
			after, err := s.CurrentState()
			if err != nil {
				t.Fatalf("CurrentState failed: %v", err)
			}
			if !bytes.Equal(value, after) {
				t.Errorf("state changed after idempotent apply: %q vs %q", value, after)
			}
		})

		t.Run("RestoreRoundTrip", func(t *testing.T) {
			s := factory(initial)
			value, err := s.CurrentState()
			if err != nil {
				t.Fatalf("CurrentState failed: %v", err)
			}
			if err := s.RestoreState(value); err != nil {
				t.Fatalf("RestoreState rejected own state: %v", err)
			}
		})
	})
}
