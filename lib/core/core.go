package core

import (
	"context"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/statesync/lib/conflict"
	"github.com/ValentinKolb/statesync/lib/logging"
	"github.com/ValentinKolb/statesync/lib/metrics"
	"github.com/ValentinKolb/statesync/lib/queue"
	"github.com/ValentinKolb/statesync/lib/snapshot"
	"github.com/ValentinKolb/statesync/lib/state"
	"github.com/ValentinKolb/statesync/lib/syncable"
	"github.com/puzpuzpuz/xsync/v3"
)

// registration tracks one registered subsystem and the stop channel of its
// change forwarder goroutine.
type registration struct {
	system syncable.ISyncable
	stop   chan struct{}
}

// resolutionOutcome carries a finished manual resolution back to the
// scheduling loop, which owns the deferred operation's completion.
type resolutionOutcome struct {
	op  *queue.SyncOperation
	ctx *conflict.ResolutionContext
}

// Core is the real-time state synchronization core: a registry of
// independently-owned subsystem states kept consistent through a
// queue-driven scheduling loop with conflict detection and resolution,
// periodic snapshotting and rollback.
//
// Concurrency model: a single scheduling goroutine drives periodic ticks,
// draining a bounded number of queued operations per tick. The state store
// and active-conflict map are only mutated through the core; subsystems
// only ever receive read requests and write commands issued by it.
type Core struct {
	cfg    Config
	logger logging.ILogger
	now    func() time.Time

	store     state.IStateStore
	ops       *queue.OpQueue
	detector  *conflict.Detector
	resolver  *conflict.Resolver
	snapshots *snapshot.Manager
	agg       *metrics.Aggregator

	systems *xsync.MapOf[string, *registration]
	updates chan state.SystemState

	// resolving and held are owned exclusively by the scheduling loop.
	// While a subsystem has a manual resolution in flight, later operations
	// for the same id are held back so per-subsystem enqueue order survives
	// the suspension. Finished resolutions arrive on resolutions.
	resolving   map[string]bool
	held        map[string][]*queue.SyncOperation
	resolutions chan resolutionOutcome

	// applyMu serializes store commits between the scheduling loop and the
	// administrative bypass paths (ForceSync, RestoreFromSnapshot).
	applyMu stdsync.Mutex

	realtime   atomic.Bool
	resolution atomic.Bool

	ctx     context.Context
	cancel  context.CancelFunc
	wg      stdsync.WaitGroup
	started atomic.Bool
	stopped atomic.Bool
}

// New creates a synchronization core from the given configuration.
// Dependencies (logger, clock, store, metrics sink) can be injected via
// options; sensible defaults are used otherwise.
func New(cfg *Config, opts ...Option) (*Core, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Core{
		cfg:       *cfg,
		logger:    logging.GetLogger("core"),
		now:       time.Now,
		ops:       queue.NewOpQueue(),
		detector:  conflict.NewDetector(),
		snapshots: snapshot.NewManager(cfg.MaxHistory),
		systems:   xsync.NewMapOf[string, *registration](),
		updates:   make(chan state.SystemState, 16),
		resolving: make(map[string]bool),
		held:      make(map[string][]*queue.SyncOperation),

		resolutions: make(chan resolutionOutcome, 16),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = state.NewMemoryStore()
	}
	if c.agg == nil {
		c.agg = metrics.NewAggregator()
	}
	c.logger.SetLevel(logging.ParseLevel(cfg.LogLevel))
	c.resolver = conflict.NewResolver(cfg.ResolutionTimeout,
		conflict.WithResolverClock(c.now),
		conflict.WithResolverLogger(c.logger),
	)
	c.realtime.Store(cfg.RealtimeSyncEnabled)
	c.resolution.Store(cfg.ConflictResolutionEnabled)
	return c, nil
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Start launches the scheduling loop. It is an error to start twice.
func (c *Core) Start() error {
	if !c.started.CompareAndSwap(false, true) {
		return state.NewError(state.RetCInternalError, "core already started")
	}
	c.wg.Add(1)
	go c.loop()
	c.logger.Infof("core started (tick %v, %d ops/tick, snapshot every %v)",
		c.cfg.TickInterval, c.cfg.MaxOpsPerTick, c.cfg.SnapshotInterval)
	return nil
}

// Stop terminates the scheduling loop and all forwarder goroutines, closes
// the operation queue and waits for everything to wind down. Queued but
// undrained operations are discarded.
func (c *Core) Stop() {
	if !c.stopped.CompareAndSwap(false, true) {
		return
	}
	c.cancel()
	c.ops.Close()
	c.wg.Wait()
	c.logger.Infof("core stopped")
}

// loop is the single cooperative scheduling loop.
func (c *Core) loop() {
	defer c.wg.Done()

	tick := time.NewTicker(c.cfg.TickInterval)
	defer tick.Stop()
	snap := time.NewTicker(c.cfg.SnapshotInterval)
	defer snap.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-snap.C:
			// Periodic snapshots go through the queue so they serialize
			// with the operations of the same tick cycle.
			c.ops.Push(queue.NewOperation(queue.KindSnapshotCreate, "", nil))
		case out := <-c.resolutions:
			c.finishResolution(out)
		case <-tick.C:
			c.tick()
		}
	}
}

// tick drains at most MaxOpsPerTick operations, sweeps stale conflict
// contexts and refreshes the gauges.
func (c *Core) tick() {
	c.resolver.SweepStale(c.now())

	for drained := 0; drained < c.cfg.MaxOpsPerTick; drained++ {
		op, ok := c.ops.TryDequeue()
		if !ok {
			break
		}
		c.process(op)
	}

	c.agg.SetQueueSize(c.ops.Len())
	c.agg.SetActiveConflicts(c.resolver.ActiveCount())
	c.agg.SetRegisteredSystems(c.systems.Size())
	c.agg.SetHistorySize(c.snapshots.Len())
}

// --------------------------------------------------------------------------
// Registration
// --------------------------------------------------------------------------

// Register adds a subsystem to the registry, seeds the state store with its
// current value at version 1 and subscribes to its change stream.
// Registration fails for nil subsystems, empty ids and duplicate ids.
func (c *Core) Register(s syncable.ISyncable) error {
	if s == nil {
		err := state.NewError(state.RetCInternalError, "cannot register nil subsystem")
		c.logger.Errorf("%v", err)
		return err
	}
	id := s.SystemID()
	if id == "" {
		err := state.NewError(state.RetCInternalError, "cannot register subsystem with empty id")
		c.logger.Errorf("%v", err)
		return err
	}

	reg := &registration{system: s, stop: make(chan struct{})}
	if _, loaded := c.systems.LoadOrStore(id, reg); loaded {
		err := state.NewErrorf(state.RetCDuplicateSystem, "subsystem %q is already registered", id)
		c.logger.Warningf("%v", err)
		return err
	}

	payload, err := s.CurrentState()
	if err != nil {
		c.systems.Delete(id)
		return state.NewErrorf(state.RetCInternalError, "read initial state of %q: %v", id, err)
	}
	if _, err := c.store.Seed(id, payload); err != nil {
		c.systems.Delete(id)
		return err
	}

	c.wg.Add(1)
	go c.forward(reg)

	c.agg.SetRegisteredSystems(c.systems.Size())
	c.logger.Infof("registered subsystem %q", id)
	return nil
}

// Unregister removes a subsystem from the registry, drops its store record
// and unsubscribes from its change stream. Operations still queued for the
// id fail fast once drained.
func (c *Core) Unregister(id string) error {
	reg, loaded := c.systems.LoadAndDelete(id)
	if !loaded {
		return state.NewErrorf(state.RetCSystemNotFound, "subsystem %q is not registered", id)
	}
	close(reg.stop)
	c.store.Remove(id)
	c.agg.SetRegisteredSystems(c.systems.Size())
	c.logger.Infof("unregistered subsystem %q", id)
	return nil
}

// IsRegistered reports whether a subsystem id is currently registered.
func (c *Core) IsRegistered(id string) bool {
	_, ok := c.systems.Load(id)
	return ok
}

// forward moves change notifications of one subsystem into the operation
// queue. One forwarder goroutine exists per registered subsystem, which is
// what makes per-subsystem enqueue order deterministic.
func (c *Core) forward(reg *registration) {
	defer c.wg.Done()
	changes := reg.system.Changes()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-reg.stop:
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if !c.realtime.Load() {
				continue
			}
			c.ops.Push(queue.NewOperation(queue.KindStateUpdate, change.SystemID, change.NewState))
		}
	}
}

// --------------------------------------------------------------------------
// Operation Processing
// --------------------------------------------------------------------------

// errResolutionPending marks an update whose completion was handed to a
// manual conflict resolution; the loop completes it once the outcome arrives
// on the resolutions channel.
var errResolutionPending = state.NewError(state.RetCSuccess, "resolution pending")

// process dispatches one dequeued operation. Every failure path degrades to
// "operation marked failed, metric incremented, continue".
//
// At most one operation per subsystem is in flight: while a manual
// resolution is pending for an id, further operations for that id are held
// back in enqueue order instead of being processed.
func (c *Core) process(op *queue.SyncOperation) {
	if op.SystemID != "" && c.resolving[op.SystemID] {
		c.held[op.SystemID] = append(c.held[op.SystemID], op)
		return
	}
	op.StartedAt = c.now()

	var err error
	switch op.Kind {
	case queue.KindStateUpdate:
		err = c.applyUpdate(op)
	case queue.KindStateRestore:
		err = c.applyValue(op.SystemID, op.Payload, true)
	case queue.KindConflictResolution:
		err = c.applyValue(op.SystemID, op.Payload, false)
	case queue.KindRegistration:
		// Registration itself is synchronous; the queued kind is an audit
		// record that fails fast when the subsystem has vanished.
		if !c.IsRegistered(op.SystemID) {
			err = state.NewErrorf(state.RetCSystemNotFound, "subsystem %q is not registered", op.SystemID)
		}
	case queue.KindDeregistration:
		err = c.Unregister(op.SystemID)
	case queue.KindSnapshotCreate:
		_, err = c.CreateSnapshot()
	case queue.KindSnapshotRestore:
		_, err = c.RestoreFromSnapshot(string(op.Payload))
	default:
		err = state.NewErrorf(state.RetCInternalError, "unknown operation kind %d", op.Kind)
	}

	if err == errResolutionPending {
		// Completed by finishResolution once the outcome arrives.
		return
	}
	c.complete(op, err)
}

// complete finalizes an operation record and archives it to metrics.
func (c *Core) complete(op *queue.SyncOperation, err error) {
	op.CompletedAt = c.now()
	if err != nil {
		op.Success = false
		op.Err = err.Error()
		c.agg.RecordFailure(op.Latency(), op.CompletedAt)
		c.logger.Warningf("operation %s (%s, %s) failed: %v", op.ID, op.Kind, op.SystemID, err)
		return
	}
	op.Success = true
	c.agg.RecordSuccess(op.Latency(), op.CompletedAt)
	c.logger.Debugf("operation %s (%s, %s) completed in %v", op.ID, op.Kind, op.SystemID, op.Latency())
}

// applyUpdate runs the full state-update pipeline: registry lookup,
// validation, conflict detection and (possibly deferred) resolution.
func (c *Core) applyUpdate(op *queue.SyncOperation) error {
	reg, ok := c.systems.Load(op.SystemID)
	if !ok {
		return state.NewErrorf(state.RetCSystemNotFound, "subsystem %q is not registered", op.SystemID)
	}

	if c.cfg.ValidationEnabled && !reg.system.ValidateState(op.Payload) {
		return state.NewErrorf(state.RetCValidationFailed, "subsystem %q rejected the value", op.SystemID)
	}

	if c.resolution.Load() {
		recorded, _ := c.store.Get(op.SystemID)
		actual, err := reg.system.CurrentState()
		if err != nil {
			return state.NewErrorf(state.RetCInternalError, "read current state of %q: %v", op.SystemID, err)
		}

		if conf, found := c.detector.Detect(op.SystemID, op.Payload, recorded.Payload, actual, c.now()); found {
			c.agg.RecordConflict(conf.Kind.String())
			c.logger.Infof("detected %s conflict on %q", conf.Kind, conf.SystemID)

			resolved, pending, err := c.resolver.Resolve(*conf, c.cfg.DefaultStrategy, mergeFuncFor(reg.system),
				func(ctx *conflict.ResolutionContext) { c.onManualResolution(op, ctx) })
			if err != nil {
				return err
			}
			if pending {
				c.resolving[op.SystemID] = true
				return errResolutionPending
			}
			return c.commit(reg, op.SystemID, resolved, false)
		}
	}

	return c.commit(reg, op.SystemID, op.Payload, false)
}

// onManualResolution hands a finished manual resolution back to the
// scheduling loop. Called from the resolver's callback goroutine; the loop
// owns the deferred operation's completion.
func (c *Core) onManualResolution(op *queue.SyncOperation, ctx *conflict.ResolutionContext) {
	select {
	case c.resolutions <- resolutionOutcome{op: op, ctx: ctx}:
	case <-c.ctx.Done():
	}
}

// finishResolution completes a deferred update on the scheduling loop. The
// resolved value is applied as part of the deferred operation itself, so its
// success is recorded only once the value actually committed. Afterwards the
// operations held back for the subsystem are released.
func (c *Core) finishResolution(out resolutionOutcome) {
	id := out.op.SystemID
	delete(c.resolving, id)

	if out.ctx.Success {
		c.complete(out.op, c.applyValue(id, out.ctx.Resolved, false))
	} else {
		c.complete(out.op, out.ctx.Err)
	}

	c.releaseHeld(id)
}

// releaseHeld re-dispatches operations held back during a manual resolution,
// in their original enqueue order. If a released operation defers again, the
// remainder stays held for the new resolution.
func (c *Core) releaseHeld(id string) {
	held := c.held[id]
	delete(c.held, id)
	for i, op := range held {
		c.process(op)
		if c.resolving[id] {
			c.held[id] = append(c.held[id], held[i+1:]...)
			return
		}
	}
}

// applyValue commits a payload for restore and conflict-resolution
// operations, which bypass validation and detection.
func (c *Core) applyValue(systemID string, payload []byte, restore bool) error {
	reg, ok := c.systems.Load(systemID)
	if !ok {
		return state.NewErrorf(state.RetCSystemNotFound, "subsystem %q is not registered", systemID)
	}
	return c.commit(reg, systemID, payload, restore)
}

// commit pushes a value into the subsystem and records it in the store.
func (c *Core) commit(reg *registration, systemID string, payload []byte, restore bool) error {
	var err error
	if restore {
		err = reg.system.RestoreState(payload)
	} else {
		err = reg.system.ApplyState(payload)
	}
	if err != nil {
		// the record may no longer reflect the subsystem after a failed
		// write; mark it invalid until the next successful commit
		c.applyMu.Lock()
		_ = c.store.Invalidate(systemID)
		c.applyMu.Unlock()
		return state.NewErrorf(state.RetCApplyFailed, "subsystem %q: %v", systemID, err)
	}

	c.applyMu.Lock()
	record, err := c.store.Apply(systemID, payload)
	c.applyMu.Unlock()
	if err != nil {
		return err
	}

	c.notifyUpdate(record)
	return nil
}

// notifyUpdate publishes a committed record to observers without blocking.
func (c *Core) notifyUpdate(record state.SystemState) {
	select {
	case c.updates <- record:
	default:
	}
}

// mergeFuncFor returns the subsystem's three-way merge when it implements
// the Merger capability, nil otherwise.
func mergeFuncFor(s syncable.ISyncable) conflict.MergeFunc {
	if m, ok := s.(syncable.Merger); ok {
		return m.MergeStates
	}
	return nil
}
