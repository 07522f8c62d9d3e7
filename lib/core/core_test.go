package core_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ValentinKolb/statesync/lib/conflict"
	"github.com/ValentinKolb/statesync/lib/core"
	"github.com/ValentinKolb/statesync/lib/queue"
	"github.com/ValentinKolb/statesync/lib/state"
	syncabletesting "github.com/ValentinKolb/statesync/lib/syncable/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testConfig returns a configuration tuned for fast tests: short ticks,
// no automatic snapshots, quiet logging.
func testConfig() *core.Config {
	cfg := core.DefaultConfig()
	cfg.TickInterval = 5 * time.Millisecond
	cfg.SnapshotInterval = time.Hour
	cfg.LogLevel = "ERROR"
	return cfg
}

func newTestCore(t *testing.T, mutate func(*core.Config)) *core.Core {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	c, err := core.New(cfg)
	require.NoError(t, err)
	t.Cleanup(c.Stop)
	return c
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 2*time.Millisecond, msg)
}

// --------------------------------------------------------------------------
// Configuration & Lifecycle
// --------------------------------------------------------------------------

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MaxOpsPerTick = 0
	_, err := core.New(cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.NetworkSyncEnabled = true
	_, err = core.New(cfg)
	require.Error(t, err)
	assert.Equal(t, state.RetCNotImplemented, state.Code(err))
}

func TestNewNilConfigUsesDefaults(t *testing.T) {
	c, err := core.New(nil)
	require.NoError(t, err)
	defer c.Stop()
	assert.True(t, c.RealtimeSyncEnabled())
	assert.True(t, c.ConflictResolutionEnabled())
}

func TestStartTwice(t *testing.T) {
	c := newTestCore(t, nil)
	require.NoError(t, c.Start())
	assert.Error(t, c.Start())
}

func TestStopIsIdempotent(t *testing.T) {
	c := newTestCore(t, nil)
	require.NoError(t, c.Start())
	c.Stop()
	c.Stop()

	// the queue refuses new work once the core is stopped
	err := c.QueueUpdate("economy", []byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, state.RetCQueueClosed, state.Code(err))
}

// --------------------------------------------------------------------------
// Registration
// --------------------------------------------------------------------------

func TestRegisterSeedsStore(t *testing.T) {
	c := newTestCore(t, nil)
	sys := syncabletesting.NewFakeSystem("economy", []byte(`{"cash":100}`))
	require.NoError(t, c.Register(sys))

	record, ok := c.GetState("economy")
	require.True(t, ok)
	assert.Equal(t, uint64(1), record.Version)
	assert.Equal(t, []byte(`{"cash":100}`), record.Payload)
	assert.True(t, c.IsRegistered("economy"))
}

func TestRegisterDuplicate(t *testing.T) {
	c := newTestCore(t, nil)
	require.NoError(t, c.Register(syncabletesting.NewFakeSystem("economy", []byte(`{}`))))

	err := c.Register(syncabletesting.NewFakeSystem("economy", []byte(`{}`)))
	require.Error(t, err)
	assert.Equal(t, state.RetCDuplicateSystem, state.Code(err))
}

func TestRegisterNilAndEmptyID(t *testing.T) {
	c := newTestCore(t, nil)
	assert.Error(t, c.Register(nil))
	assert.Error(t, c.Register(syncabletesting.NewFakeSystem("", nil)))
}

func TestUnregister(t *testing.T) {
	c := newTestCore(t, nil)
	require.NoError(t, c.Register(syncabletesting.NewFakeSystem("economy", []byte(`{}`))))
	require.NoError(t, c.Unregister("economy"))

	assert.False(t, c.IsRegistered("economy"))
	_, ok := c.GetState("economy")
	assert.False(t, ok, "store record must be dropped on unregister")

	err := c.Unregister("economy")
	require.Error(t, err)
	assert.Equal(t, state.RetCSystemNotFound, state.Code(err))
}

// --------------------------------------------------------------------------
// Update Pipeline
// --------------------------------------------------------------------------

func TestRealtimeUpdate(t *testing.T) {
	c := newTestCore(t, nil)
	sys := syncabletesting.NewFakeSystem("economy", []byte(`{"cash":100}`))
	require.NoError(t, c.Register(sys))
	require.NoError(t, c.Start())

	sys.SetState([]byte(`{"cash":150}`))

	eventually(t, func() bool {
		record, _ := c.GetState("economy")
		return record.Version == 2
	}, "update never committed")

	record, _ := c.GetState("economy")
	assert.Equal(t, []byte(`{"cash":150}`), record.Payload)
}

func TestBackToBackUpdatesKeepOrder(t *testing.T) {
	c := newTestCore(t, nil)
	sys := syncabletesting.NewFakeSystem("economy", []byte(`{"cash":100}`))
	require.NoError(t, c.Register(sys))
	require.NoError(t, c.Start())

	sys.SetState([]byte(`{"cash":150}`))
	sys.SetState([]byte(`{"cash":200}`))

	eventually(t, func() bool {
		record, _ := c.GetState("economy")
		return record.Version == 3
	}, "both updates must commit")

	record, _ := c.GetState("economy")
	assert.Equal(t, []byte(`{"cash":200}`), record.Payload, "the later update wins")
}

func TestUpdateForUnregisteredSystemFails(t *testing.T) {
	c := newTestCore(t, nil)
	require.NoError(t, c.Start())

	require.NoError(t, c.QueueUpdate("ghost", []byte(`{}`)))

	eventually(t, func() bool {
		return c.Metrics().Failed >= 1
	}, "update for an unknown id must fail fast")
	assert.Equal(t, uint64(0), c.Metrics().Successful)
}

func TestValidationFailureRejectsUpdate(t *testing.T) {
	c := newTestCore(t, nil)
	sys := syncabletesting.NewFakeSystem("economy", []byte(`{"cash":100}`))
	require.NoError(t, c.Register(sys))
	require.NoError(t, c.Start())

	sys.SetInvalid(true)
	require.NoError(t, c.QueueUpdate("economy", []byte(`{"cash":-1}`)))

	eventually(t, func() bool {
		return c.Metrics().Failed >= 1
	}, "invalid update must be rejected")

	record, _ := c.GetState("economy")
	assert.Equal(t, uint64(1), record.Version, "rejected update must not touch the store")
	assert.Empty(t, sys.Applied())
}

func TestApplyFailureIsRecorded(t *testing.T) {
	c := newTestCore(t, nil)
	sys := syncabletesting.NewFakeSystem("economy", []byte(`{"cash":100}`))
	require.NoError(t, c.Register(sys))
	require.NoError(t, c.Start())

	sys.FailNextApply(errors.New("subsystem busy"))
	require.NoError(t, c.QueueUpdate("economy", []byte(`{"cash":150}`)))

	eventually(t, func() bool {
		return c.Metrics().Failed >= 1
	}, "apply failure must be recorded")

	record, _ := c.GetState("economy")
	assert.Equal(t, uint64(1), record.Version)
	assert.False(t, record.IsValid, "a failed write must invalidate the record")

	// the next successful commit revalidates the record
	require.NoError(t, c.QueueUpdate("economy", []byte(`{"cash":150}`)))
	eventually(t, func() bool {
		record, _ := c.GetState("economy")
		return record.Version == 2
	}, "recovery update never committed")
	record, _ = c.GetState("economy")
	assert.True(t, record.IsValid)
}

func TestMaxOpsPerTickBoundsDrain(t *testing.T) {
	c := newTestCore(t, func(cfg *core.Config) {
		cfg.TickInterval = 50 * time.Millisecond
		cfg.MaxOpsPerTick = 2
		cfg.ConflictResolutionEnabled = false
	})
	sys := syncabletesting.NewFakeSystem("economy", []byte(`{"cash":0}`))
	require.NoError(t, c.Register(sys))

	for i := 0; i < 6; i++ {
		require.NoError(t, c.QueueUpdate("economy", []byte(`{"cash":1}`)))
	}
	require.NoError(t, c.Start())

	// after the first tick at most 2 of the 6 operations may have drained
	time.Sleep(70 * time.Millisecond)
	assert.GreaterOrEqual(t, c.QueueLen(), 2, "one tick must not drain more than MaxOpsPerTick")

	eventually(t, func() bool {
		return c.Metrics().Successful == 6
	}, "all queued updates must drain across ticks")
}

// --------------------------------------------------------------------------
// Conflict Handling
// --------------------------------------------------------------------------

func TestConflictLastWriterWins(t *testing.T) {
	c := newTestCore(t, nil)
	sys := syncabletesting.NewFakeSystem("economy", []byte(`{"cash":100}`))
	require.NoError(t, c.Register(sys))
	require.NoError(t, c.Start())

	// the subsystem changed out-of-band, so the incoming update conflicts
	sys.SetStateSilently([]byte(`{"cash":999}`))
	require.NoError(t, c.QueueUpdate("economy", []byte(`{"cash":150}`)))

	eventually(t, func() bool {
		record, _ := c.GetState("economy")
		return record.Version == 2
	}, "conflicting update never resolved")

	record, _ := c.GetState("economy")
	assert.Equal(t, []byte(`{"cash":150}`), record.Payload, "last-writer-wins keeps the incoming value")
}

func TestConflictFirstWriterWins(t *testing.T) {
	c := newTestCore(t, func(cfg *core.Config) {
		cfg.DefaultStrategy = conflict.StrategyFirstWriterWins
	})
	sys := syncabletesting.NewFakeSystem("economy", []byte(`{"cash":100}`))
	require.NoError(t, c.Register(sys))
	require.NoError(t, c.Start())

	sys.SetStateSilently([]byte(`{"cash":999}`))
	require.NoError(t, c.QueueUpdate("economy", []byte(`{"cash":150}`)))

	eventually(t, func() bool {
		record, _ := c.GetState("economy")
		return record.Version == 2
	}, "conflicting update never resolved")

	record, _ := c.GetState("economy")
	assert.Equal(t, []byte(`{"cash":999}`), record.Payload, "first-writer-wins keeps the subsystem's value")
}

func TestConflictDetectionDisabled(t *testing.T) {
	c := newTestCore(t, func(cfg *core.Config) {
		cfg.ConflictResolutionEnabled = false
	})
	sys := syncabletesting.NewFakeSystem("economy", []byte(`{"cash":100}`))
	require.NoError(t, c.Register(sys))
	require.NoError(t, c.Start())

	sys.SetStateSilently([]byte(`{"cash":999}`))
	require.NoError(t, c.QueueUpdate("economy", []byte(`{"cash":150}`)))

	eventually(t, func() bool {
		record, _ := c.GetState("economy")
		return record.Version == 2
	}, "update never committed")

	record, _ := c.GetState("economy")
	assert.Equal(t, []byte(`{"cash":150}`), record.Payload)
	assert.Equal(t, uint64(1), c.Metrics().Successful)
}

func TestManualResolutionSupplied(t *testing.T) {
	c := newTestCore(t, func(cfg *core.Config) {
		cfg.DefaultStrategy = conflict.StrategyManual
	})
	sys := syncabletesting.NewFakeSystem("economy", []byte(`{"cash":100}`))
	require.NoError(t, c.Register(sys))
	require.NoError(t, c.Start())

	sys.SetStateSilently([]byte(`{"cash":999}`))
	require.NoError(t, c.QueueUpdate("economy", []byte(`{"cash":150}`)))

	var conflictID string
	select {
	case conf := <-c.Conflicts():
		conflictID = conf.ID
		assert.Equal(t, "economy", conf.SystemID)
		assert.Equal(t, []byte(`{"cash":150}`), conf.Local)
		assert.Equal(t, []byte(`{"cash":999}`), conf.Remote)
		assert.Equal(t, []byte(`{"cash":100}`), conf.Base)
	case <-time.After(2 * time.Second):
		t.Fatal("conflict was never exposed")
	}

	require.NoError(t, c.ResolveManually(conflictID, []byte(`{"cash":500}`)))

	eventually(t, func() bool {
		record, _ := c.GetState("economy")
		return record.Version == 2
	}, "supplied resolution never committed")

	record, _ := c.GetState("economy")
	assert.Equal(t, []byte(`{"cash":500}`), record.Payload)
}

func TestManualResolutionHoldsLaterUpdates(t *testing.T) {
	c := newTestCore(t, func(cfg *core.Config) {
		cfg.DefaultStrategy = conflict.StrategyManual
	})
	sys := syncabletesting.NewFakeSystem("economy", []byte(`{"cash":100}`))
	require.NoError(t, c.Register(sys))
	require.NoError(t, c.Start())

	sys.SetStateSilently([]byte(`{"cash":999}`))
	require.NoError(t, c.QueueUpdate("economy", []byte(`{"cash":150}`)))
	require.NoError(t, c.QueueUpdate("economy", []byte(`{"cash":200}`)))

	var conf conflict.StateConflict
	select {
	case conf = <-c.Conflicts():
	case <-time.After(2 * time.Second):
		t.Fatal("conflict was never exposed")
	}

	// while the resolution is pending the later update must wait: nothing
	// commits and no second conflict is raised for the subsystem
	time.Sleep(50 * time.Millisecond)
	select {
	case <-c.Conflicts():
		t.Fatal("held update must not enter the conflict pipeline")
	default:
	}
	record, _ := c.GetState("economy")
	assert.Equal(t, uint64(1), record.Version)

	require.NoError(t, c.ResolveManually(conf.ID, []byte(`{"cash":175}`)))

	eventually(t, func() bool {
		record, _ := c.GetState("economy")
		return record.Version == 3
	}, "resolution and held update never committed")

	// the resolved value commits first, the held update after it
	applied := sys.Applied()
	require.Len(t, applied, 2)
	assert.Equal(t, []byte(`{"cash":175}`), applied[0])
	assert.Equal(t, []byte(`{"cash":200}`), applied[1])

	record, _ = c.GetState("economy")
	assert.Equal(t, []byte(`{"cash":200}`), record.Payload, "the later update's effect lands last")
}

func TestManualResolutionApplyFailure(t *testing.T) {
	c := newTestCore(t, func(cfg *core.Config) {
		cfg.DefaultStrategy = conflict.StrategyManual
	})
	sys := syncabletesting.NewFakeSystem("economy", []byte(`{"cash":100}`))
	require.NoError(t, c.Register(sys))
	require.NoError(t, c.Start())

	sys.SetStateSilently([]byte(`{"cash":999}`))
	require.NoError(t, c.QueueUpdate("economy", []byte(`{"cash":150}`)))

	var conf conflict.StateConflict
	select {
	case conf = <-c.Conflicts():
	case <-time.After(2 * time.Second):
		t.Fatal("conflict was never exposed")
	}

	// the resolved value fails to apply; the deferred update must be
	// recorded as a single failure, never as a success
	sys.FailNextApply(errors.New("subsystem busy"))
	require.NoError(t, c.ResolveManually(conf.ID, []byte(`{"cash":175}`)))

	eventually(t, func() bool {
		return c.Metrics().Failed >= 1
	}, "failed resolution apply never recorded")

	assert.Equal(t, uint64(0), c.Metrics().Successful)
	record, _ := c.GetState("economy")
	assert.Equal(t, uint64(1), record.Version)
}

func TestManualResolutionTimeout(t *testing.T) {
	c := newTestCore(t, func(cfg *core.Config) {
		cfg.DefaultStrategy = conflict.StrategyManual
		cfg.ResolutionTimeout = 30 * time.Millisecond
	})
	sys := syncabletesting.NewFakeSystem("economy", []byte(`{"cash":100}`))
	require.NoError(t, c.Register(sys))
	require.NoError(t, c.Start())

	sys.SetStateSilently([]byte(`{"cash":999}`))
	require.NoError(t, c.QueueUpdate("economy", []byte(`{"cash":150}`)))

	eventually(t, func() bool {
		return c.Metrics().Failed >= 1
	}, "an unresolved conflict must fail after the timeout")

	record, _ := c.GetState("economy")
	assert.Equal(t, uint64(1), record.Version, "a timed-out update must not commit")
	eventually(t, func() bool {
		return c.Metrics().ActiveConflicts == 0
	}, "timed-out context must be purged")
}

// --------------------------------------------------------------------------
// Forced Sync
// --------------------------------------------------------------------------

func TestForceSync(t *testing.T) {
	c := newTestCore(t, nil)
	sys := syncabletesting.NewFakeSystem("economy", []byte(`{"cash":100}`))
	require.NoError(t, c.Register(sys))

	sys.SetStateSilently([]byte(`{"cash":777}`))
	require.True(t, c.ForceSync("economy"))

	record, _ := c.GetState("economy")
	assert.Equal(t, uint64(2), record.Version)
	assert.Equal(t, []byte(`{"cash":777}`), record.Payload)

	assert.False(t, c.ForceSync("ghost"))
}

// --------------------------------------------------------------------------
// Snapshots & Rollback
// --------------------------------------------------------------------------

func TestSnapshotAndRestore(t *testing.T) {
	c := newTestCore(t, nil)
	economy := syncabletesting.NewFakeSystem("economy", []byte(`{"cash":100}`))
	combat := syncabletesting.NewFakeSystem("combat", []byte(`{"hp":100}`))
	require.NoError(t, c.Register(economy))
	require.NoError(t, c.Register(combat))

	snapID, err := c.CreateSnapshot()
	require.NoError(t, err)
	require.Len(t, c.History(), 1)

	// diverge both systems, drop one from the registry
	economy.SetStateSilently([]byte(`{"cash":0}`))
	combat.SetStateSilently([]byte(`{"hp":1}`))
	require.NoError(t, c.Unregister("combat"))

	restored, err := c.RestoreFromSnapshot(snapID)
	require.NoError(t, err)
	assert.Equal(t, 1, restored, "unregistered subsystems are skipped")

	require.Len(t, economy.Restored(), 1)
	assert.Equal(t, []byte(`{"cash":100}`), economy.Restored()[0])
	assert.Empty(t, combat.Restored())

	record, _ := c.GetState("economy")
	assert.Equal(t, []byte(`{"cash":100}`), record.Payload)
}

func TestRestoreSkipsFailingSubsystem(t *testing.T) {
	c := newTestCore(t, nil)
	economy := syncabletesting.NewFakeSystem("economy", []byte(`{"cash":100}`))
	combat := syncabletesting.NewFakeSystem("combat", []byte(`{"hp":100}`))
	require.NoError(t, c.Register(economy))
	require.NoError(t, c.Register(combat))

	snapID, err := c.CreateSnapshot()
	require.NoError(t, err)

	combat.FailNextRestore(errors.New("mid-fight"))
	restored, err := c.RestoreFromSnapshot(snapID)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)
}

func TestRestoreUnknownSnapshot(t *testing.T) {
	c := newTestCore(t, nil)
	_, err := c.RestoreFromSnapshot("no-such-snapshot")
	require.Error(t, err)
	assert.Equal(t, state.RetCSnapshotNotFound, state.Code(err))
}

func TestPeriodicSnapshots(t *testing.T) {
	c := newTestCore(t, func(cfg *core.Config) {
		cfg.SnapshotInterval = 20 * time.Millisecond
	})
	require.NoError(t, c.Register(syncabletesting.NewFakeSystem("economy", []byte(`{}`))))
	require.NoError(t, c.Start())

	eventually(t, func() bool {
		return len(c.History()) >= 2
	}, "periodic snapshots were never captured")
}

// --------------------------------------------------------------------------
// Runtime Flags & Queueing
// --------------------------------------------------------------------------

func TestRealtimeToggleDropsNotifications(t *testing.T) {
	c := newTestCore(t, nil)
	sys := syncabletesting.NewFakeSystem("economy", []byte(`{"cash":100}`))
	require.NoError(t, c.Register(sys))
	require.NoError(t, c.Start())

	c.SetRealtimeSyncEnabled(false)
	sys.SetState([]byte(`{"cash":150}`))

	// dropped, not buffered: re-enabling must not replay the notification
	time.Sleep(30 * time.Millisecond)
	c.SetRealtimeSyncEnabled(true)
	time.Sleep(30 * time.Millisecond)

	record, _ := c.GetState("economy")
	assert.Equal(t, uint64(1), record.Version)
}

func TestQueueOperationValidation(t *testing.T) {
	c := newTestCore(t, nil)
	assert.Error(t, c.QueueOperation(nil))
	assert.Error(t, c.QueueOperation(&queue.SyncOperation{Kind: queue.Kind(99)}))
}

func TestQueuedDeregistration(t *testing.T) {
	c := newTestCore(t, nil)
	require.NoError(t, c.Register(syncabletesting.NewFakeSystem("economy", []byte(`{}`))))
	require.NoError(t, c.Start())

	require.NoError(t, c.QueueOperation(queue.NewOperation(queue.KindDeregistration, "economy", nil)))

	eventually(t, func() bool {
		return !c.IsRegistered("economy")
	}, "queued deregistration never processed")
}

func TestUpdatesStream(t *testing.T) {
	c := newTestCore(t, nil)
	sys := syncabletesting.NewFakeSystem("economy", []byte(`{"cash":100}`))
	require.NoError(t, c.Register(sys))
	require.NoError(t, c.Start())

	sys.SetState([]byte(`{"cash":150}`))

	select {
	case record := <-c.Updates():
		assert.Equal(t, "economy", record.SystemID)
		assert.Equal(t, []byte(`{"cash":150}`), record.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no update published")
	}
}

func TestMetricsSnapshot(t *testing.T) {
	c := newTestCore(t, nil)
	sys := syncabletesting.NewFakeSystem("economy", []byte(`{"cash":100}`))
	require.NoError(t, c.Register(sys))
	require.NoError(t, c.Start())

	sys.SetState([]byte(`{"cash":150}`))

	eventually(t, func() bool {
		return c.Metrics().Successful >= 1
	}, "successful sync never recorded")

	m := c.Metrics()
	assert.Equal(t, 1, m.RegisteredSystems)
	assert.False(t, m.LastSyncTime.IsZero())
	assert.GreaterOrEqual(t, m.AverageLatency, time.Duration(0))
}
