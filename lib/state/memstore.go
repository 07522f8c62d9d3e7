package state

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// storeImpl is the in-memory implementation of IStateStore.
type storeImpl struct {
	records *xsync.MapOf[string, SystemState]
	now     func() time.Time
}

// StoreOption configures the in-memory store during creation.
type StoreOption func(*storeImpl)

// WithClock overrides the time source used for LastModified timestamps.
// Intended for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *storeImpl) {
		s.now = now
	}
}

// NewMemoryStore creates a new in-memory state store.
// All state is held for the lifetime of the process; durable persistence is
// explicitly out of scope for this store.
func NewMemoryStore(opts ...StoreOption) IStateStore {
	s := &storeImpl{
		records: xsync.NewMapOf[string, SystemState](),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// --------------------------------------------------------------------------
// Interface Methods (docu see state/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Seed(systemID string, payload []byte) (SystemState, error) {
	if _, loaded := s.records.Load(systemID); loaded {
		return SystemState{}, NewErrorf(RetCDuplicateSystem, "record for %q already exists", systemID)
	}
	record := SystemState{
		SystemID:     systemID,
		Version:      1,
		Payload:      cloneBytes(payload),
		LastModified: s.now(),
		IsValid:      true,
	}
	s.records.Store(systemID, record)
	return record, nil
}

func (s *storeImpl) Apply(systemID string, payload []byte) (SystemState, error) {
	record, loaded := s.records.Load(systemID)
	if !loaded {
		return SystemState{}, NewErrorf(RetCSystemNotFound, "no record for %q", systemID)
	}
	record.Version++
	record.Payload = cloneBytes(payload)
	record.LastModified = s.now()
	record.IsValid = true
	s.records.Store(systemID, record)
	return record, nil
}

func (s *storeImpl) Get(systemID string) (SystemState, bool) {
	return s.records.Load(systemID)
}

func (s *storeImpl) Remove(systemID string) bool {
	_, loaded := s.records.LoadAndDelete(systemID)
	return loaded
}

func (s *storeImpl) Invalidate(systemID string) error {
	record, loaded := s.records.Load(systemID)
	if !loaded {
		return NewErrorf(RetCSystemNotFound, "no record for %q", systemID)
	}
	record.IsValid = false
	s.records.Store(systemID, record)
	return nil
}

func (s *storeImpl) Snapshot() map[string]SystemState {
	out := make(map[string]SystemState, s.records.Size())
	s.records.Range(func(key string, value SystemState) bool {
		value.Payload = cloneBytes(value.Payload)
		out[key] = value
		return true
	})
	return out
}

func (s *storeImpl) Len() int {
	return s.records.Size()
}

// cloneBytes copies a payload so records never alias caller-owned memory.
func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
