package snapshot

import (
	"encoding/gob"
	"io"
	"sync"
	"time"

	"github.com/ValentinKolb/statesync/lib/logging"
	"github.com/ValentinKolb/statesync/lib/state"
	"github.com/google/uuid"
)

// recordOverhead approximates the per-record bookkeeping cost (id string
// header, version, timestamps, flags) counted into EstimatedSize.
const recordOverhead = 48

// StateSnapshot is an immutable point-in-time capture of all registered
// subsystems' states. Once created it is never modified; history eviction
// discards whole snapshots.
type StateSnapshot struct {
	ID            string                       `json:"id"`
	Timestamp     time.Time                    `json:"timestamp"`
	States        map[string]state.SystemState `json:"states"`
	EstimatedSize int                          `json:"estimated_size"`
	IsCompressed  bool                         `json:"is_compressed"`
}

// Manager captures snapshots and retains them in a bounded FIFO history.
// Eviction is strictly oldest-first: for rollback, recency matters more
// than access frequency, so FIFO beats LRU here.
type Manager struct {
	max     int
	mu      sync.RWMutex
	history []StateSnapshot
	events  chan StateSnapshot
	now     func() time.Time
	logger  logging.ILogger
}

// ManagerOption configures a Manager during creation.
type ManagerOption func(*Manager)

// WithManagerClock overrides the manager's time source. Intended for tests.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// WithManagerLogger overrides the manager's logger.
func WithManagerLogger(logger logging.ILogger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a snapshot manager retaining at most max snapshots.
func NewManager(max int, opts ...ManagerOption) *Manager {
	m := &Manager{
		max:     max,
		history: make([]StateSnapshot, 0, max),
		events:  make(chan StateSnapshot, 4),
		now:     time.Now,
		logger:  logging.GetLogger("snapshot"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// --------------------------------------------------------------------------
// Capture & Lookup
// --------------------------------------------------------------------------

// Capture creates a new snapshot from the given captured states, appends it
// to the history and evicts the oldest entries beyond the configured cap.
// The input map and payloads are deep-copied; the caller may reuse them.
func (m *Manager) Capture(states map[string]state.SystemState) StateSnapshot {
	captured := make(map[string]state.SystemState, len(states))
	size := 0
	for id, record := range states {
		record.Payload = append([]byte(nil), record.Payload...)
		captured[id] = record
		size += len(id) + len(record.Payload) + recordOverhead
	}

	snap := StateSnapshot{
		ID:            uuid.NewString(),
		Timestamp:     m.now(),
		States:        captured,
		EstimatedSize: size,
	}

	m.mu.Lock()
	m.history = append(m.history, snap)
	if evict := len(m.history) - m.max; evict > 0 {
		m.history = append(m.history[:0:0], m.history[evict:]...)
	}
	m.mu.Unlock()

	m.logger.Debugf("captured snapshot %s (%d systems, ~%d bytes)", snap.ID, len(captured), size)

	// Notify observers without ever blocking the capture path.
	select {
	case m.events <- snap:
	default:
	}

	return snap
}

// Get returns the snapshot with the given id. The boolean return value
// indicates whether the snapshot is present (false if it was never created
// or has been evicted).
func (m *Manager) Get(id string) (StateSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].ID == id {
			return m.history[i], true
		}
	}
	return StateSnapshot{}, false
}

// History returns a copy of the retained snapshots, oldest first.
func (m *Manager) History() []StateSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]StateSnapshot, len(m.history))
	copy(out, m.history)
	return out
}

// Len returns the number of retained snapshots.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.history)
}

// Events returns the stream on which newly captured snapshots are published.
func (m *Manager) Events() <-chan StateSnapshot {
	return m.events
}

// --------------------------------------------------------------------------
// Persistence
// --------------------------------------------------------------------------

// Save writes the snapshot history to w using gob encoding. Persistence is
// opt-in; nothing in the core calls Save on its own.
func (m *Manager) Save(w io.Writer) error {
	m.mu.RLock()
	history := make([]StateSnapshot, len(m.history))
	copy(history, m.history)
	m.mu.RUnlock()

	return gob.NewEncoder(w).Encode(history)
}

// Load replaces the snapshot history with the one read from r, trimming it
// to the configured cap (oldest first).
func (m *Manager) Load(r io.Reader) error {
	var history []StateSnapshot
	if err := gob.NewDecoder(r).Decode(&history); err != nil {
		return err
	}
	if evict := len(history) - m.max; evict > 0 {
		history = history[evict:]
	}

	m.mu.Lock()
	m.history = history
	m.mu.Unlock()
	return nil
}
