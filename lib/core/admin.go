package core

import (
	"sort"

	"github.com/ValentinKolb/statesync/lib/conflict"
	"github.com/ValentinKolb/statesync/lib/metrics"
	"github.com/ValentinKolb/statesync/lib/queue"
	"github.com/ValentinKolb/statesync/lib/snapshot"
	"github.com/ValentinKolb/statesync/lib/state"
)

// --------------------------------------------------------------------------
// Queueing
// --------------------------------------------------------------------------

// QueueOperation enqueues an operation for the scheduling loop. The queue
// is unbounded; callers must apply their own backpressure when the enqueue
// rate persistently exceeds the drain rate.
func (c *Core) QueueOperation(op *queue.SyncOperation) error {
	if op == nil {
		return state.NewError(state.RetCInternalError, "cannot queue nil operation")
	}
	if !op.Kind.Valid() {
		return state.NewErrorf(state.RetCInternalError, "invalid operation kind %d", op.Kind)
	}
	if !c.ops.Push(op) {
		return state.NewError(state.RetCQueueClosed, "operation queue is closed")
	}
	return nil
}

// QueueUpdate is a convenience wrapper enqueuing a state-update operation.
func (c *Core) QueueUpdate(systemID string, payload []byte) error {
	return c.QueueOperation(queue.NewOperation(queue.KindStateUpdate, systemID, payload))
}

// --------------------------------------------------------------------------
// Forced Sync
// --------------------------------------------------------------------------

// ForceSync bypasses the queue and conflict detection entirely: it pulls
// the subsystem's current state and writes it straight to the state store.
// Intended for administrative and recovery use only - under concurrent
// modification it can overwrite changes the detector would have caught.
func (c *Core) ForceSync(id string) bool {
	reg, ok := c.systems.Load(id)
	if !ok {
		c.logger.Warningf("force sync: subsystem %q is not registered", id)
		return false
	}
	payload, err := reg.system.CurrentState()
	if err != nil {
		c.logger.Errorf("force sync: read state of %q: %v", id, err)
		return false
	}

	c.applyMu.Lock()
	record, err := c.store.Apply(id, payload)
	c.applyMu.Unlock()
	if err != nil {
		c.logger.Errorf("force sync: %v", err)
		return false
	}

	c.notifyUpdate(record)
	c.logger.Infof("force synced %q to version %d", id, record.Version)
	return true
}

// --------------------------------------------------------------------------
// Snapshots
// --------------------------------------------------------------------------

// CreateSnapshot captures the current state of every registered subsystem
// (via its accessor, not the store record) into a new immutable snapshot
// and returns the snapshot id. Subsystems whose accessor fails are skipped.
func (c *Core) CreateSnapshot() (string, error) {
	states := make(map[string]state.SystemState)
	now := c.now()

	c.systems.Range(func(id string, reg *registration) bool {
		payload, err := reg.system.CurrentState()
		if err != nil {
			c.logger.Warningf("snapshot: skipping %q: %v", id, err)
			return true
		}
		record, _ := c.store.Get(id)
		states[id] = state.SystemState{
			SystemID:     id,
			Version:      record.Version,
			Payload:      payload,
			LastModified: now,
			IsValid:      true,
		}
		return true
	})

	snap := c.snapshots.Capture(states)
	c.agg.SetHistorySize(c.snapshots.Len())
	return snap.ID, nil
}

// RestoreFromSnapshot rolls every subsystem captured in the snapshot back
// to its captured value. Subsystems no longer registered are skipped -
// partial restore is acceptable. It returns the number of subsystems
// successfully restored, and fails only when the snapshot is absent or
// was evicted.
func (c *Core) RestoreFromSnapshot(id string) (int, error) {
	snap, ok := c.snapshots.Get(id)
	if !ok {
		return 0, state.NewErrorf(state.RetCSnapshotNotFound, "snapshot %q not found", id)
	}

	// Deterministic restore order.
	ids := make([]string, 0, len(snap.States))
	for systemID := range snap.States {
		ids = append(ids, systemID)
	}
	sort.Strings(ids)

	restored := 0
	for _, systemID := range ids {
		captured := snap.States[systemID]
		reg, ok := c.systems.Load(systemID)
		if !ok {
			c.logger.Infof("restore: skipping unregistered subsystem %q", systemID)
			continue
		}
		if err := reg.system.RestoreState(captured.Payload); err != nil {
			c.logger.Warningf("restore: subsystem %q rejected value: %v", systemID, err)
			continue
		}

		c.applyMu.Lock()
		record, err := c.store.Apply(systemID, captured.Payload)
		c.applyMu.Unlock()
		if err != nil {
			c.logger.Warningf("restore: %v", err)
			continue
		}

		c.notifyUpdate(record)
		restored++
	}

	c.logger.Infof("restored %d of %d subsystems from snapshot %s", restored, len(snap.States), id)
	return restored, nil
}

// History returns a copy of the retained snapshots, oldest first.
func (c *Core) History() []snapshot.StateSnapshot {
	return c.snapshots.History()
}

// Snapshots exposes the snapshot manager, e.g. for explicit Save/Load.
func (c *Core) Snapshots() *snapshot.Manager {
	return c.snapshots
}

// --------------------------------------------------------------------------
// Conflict Administration
// --------------------------------------------------------------------------

// ResolveManually supplies the resolution value for a pending manual
// conflict.
func (c *Core) ResolveManually(conflictID string, value []byte) error {
	return c.resolver.Supply(conflictID, value)
}

// Conflicts returns the stream on which manual conflicts are exposed to
// external resolvers.
func (c *Core) Conflicts() <-chan conflict.StateConflict {
	return c.resolver.Events()
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

// GetState returns the last known state record for a subsystem id.
func (c *Core) GetState(id string) (state.SystemState, bool) {
	return c.store.Get(id)
}

// Metrics returns a snapshot of the aggregated synchronization metrics.
func (c *Core) Metrics() metrics.Snapshot {
	return c.agg.Snapshot()
}

// Updates returns the stream of committed state records. Slow consumers
// miss updates instead of stalling the core.
func (c *Core) Updates() <-chan state.SystemState {
	return c.updates
}

// QueueLen returns the current depth of the operation queue.
func (c *Core) QueueLen() int {
	return c.ops.Len()
}

// --------------------------------------------------------------------------
// Runtime Flags
// --------------------------------------------------------------------------

// SetRealtimeSyncEnabled toggles whether subsystem change notifications are
// enqueued. Notifications arriving while disabled are dropped, not buffered.
func (c *Core) SetRealtimeSyncEnabled(enabled bool) {
	c.realtime.Store(enabled)
	c.logger.Infof("realtime sync enabled: %v", enabled)
}

// RealtimeSyncEnabled reports the current realtime sync flag.
func (c *Core) RealtimeSyncEnabled() bool {
	return c.realtime.Load()
}

// SetConflictResolutionEnabled toggles conflict detection for updates.
// While disabled, updates are applied without consulting the detector.
func (c *Core) SetConflictResolutionEnabled(enabled bool) {
	c.resolution.Store(enabled)
	c.logger.Infof("conflict resolution enabled: %v", enabled)
}

// ConflictResolutionEnabled reports the current conflict resolution flag.
func (c *Core) ConflictResolutionEnabled() bool {
	return c.resolution.Load()
}
