package conflict

import (
	"time"

	"github.com/ValentinKolb/statesync/lib/logging"
	"github.com/ValentinKolb/statesync/lib/state"
	"github.com/puzpuzpuz/xsync/v3"
)

// MergeFunc reconciles a conflicting update from (local, remote, base).
type MergeFunc func(local, remote, base []byte) ([]byte, error)

// Resolver applies a resolution strategy to detected conflicts.
//
// The synchronous strategies (last-writer-wins, first-writer-wins, merge)
// produce their result inline. The manual strategy registers the conflict in
// the active map, publishes it on the event stream and completes from a
// waiter goroutine once a resolution is supplied or the timeout elapses.
// Resolution always produces either a resolved value or a structured
// failure; it never silently drops a conflict.
type Resolver struct {
	timeout time.Duration
	active  *xsync.MapOf[string, *ResolutionContext]
	events  chan StateConflict
	now     func() time.Time
	logger  logging.ILogger
}

// ResolverOption configures a Resolver during creation.
type ResolverOption func(*Resolver)

// WithResolverClock overrides the resolver's time source. Intended for tests.
func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		r.now = now
	}
}

// WithResolverLogger overrides the resolver's logger.
func WithResolverLogger(logger logging.ILogger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a new resolver. timeout bounds every manual
// resolution; synchronous strategies complete immediately and are not
// affected by it.
func NewResolver(timeout time.Duration, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		timeout: timeout,
		active:  xsync.NewMapOf[string, *ResolutionContext](),
		events:  make(chan StateConflict, 16),
		now:     time.Now,
		logger:  logging.GetLogger("conflict"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// --------------------------------------------------------------------------
// Resolution
// --------------------------------------------------------------------------

// Resolve resolves conflict c with the given strategy.
//
// For the synchronous strategies the resolved value (or error) is returned
// directly and pending is false; done is not invoked. For the manual
// strategy pending is true and done is invoked exactly once on its own
// goroutine - with a successful context when a resolution was supplied in
// time, or with a timeout failure otherwise.
//
// merge may be nil; the merge strategy then keeps the local value.
func (r *Resolver) Resolve(c StateConflict, strategy Strategy, merge MergeFunc, done func(*ResolutionContext)) (resolved []byte, pending bool, err error) {
	switch strategy {
	case StrategyLastWriterWins:
		return c.Local, false, nil
	case StrategyFirstWriterWins:
		return c.Remote, false, nil
	case StrategyMerge:
		if merge == nil {
			// default merge keeps the incoming value
			return c.Local, false, nil
		}
		resolved, err = merge(c.Local, c.Remote, c.Base)
		return resolved, false, err
	case StrategyManual:
		r.deferResolution(c, done)
		return nil, true, nil
	default:
		return nil, false, state.NewErrorf(state.RetCUnsupportedStrategy, "strategy %d is not supported", strategy)
	}
}

// deferResolution registers a manual conflict and starts its waiter.
func (r *Resolver) deferResolution(c StateConflict, done func(*ResolutionContext)) {
	ctx := &ResolutionContext{
		Conflict:  c,
		Strategy:  StrategyManual,
		StartTime: r.now(),
		supply:    make(chan []byte, 1),
		notify:    done,
	}
	r.active.Store(c.ID, ctx)

	// Publish the conflict for external resolvers. The event channel is
	// buffered; a full buffer means nobody is listening and the conflict
	// will simply time out.
	select {
	case r.events <- c:
	default:
		r.logger.Warningf("conflict event dropped for %s (no listener)", c.SystemID)
	}

	timer := time.NewTimer(r.timeout)
	go func() {
		defer timer.Stop()
		select {
		case value := <-ctx.supply:
			r.finish(ctx, value, nil)
		case <-timer.C:
			r.finish(ctx, nil, state.NewErrorf(state.RetCResolutionTimeout,
				"manual resolution for %s timed out after %v", c.SystemID, r.timeout))
		}
	}()
}

// finish completes a manual resolution exactly once and purges it from the
// active map.
func (r *Resolver) finish(ctx *ResolutionContext, resolved []byte, err error) {
	if !ctx.settled.CompareAndSwap(false, true) {
		return
	}
	ctx.EndTime = r.now()
	ctx.Resolved = resolved
	ctx.Success = err == nil
	ctx.Err = err
	r.active.Delete(ctx.Conflict.ID)

	if err != nil {
		r.logger.Warningf("conflict %s (%s) failed: %v", ctx.Conflict.ID, ctx.Conflict.SystemID, err)
	} else {
		r.logger.Debugf("conflict %s (%s) resolved manually", ctx.Conflict.ID, ctx.Conflict.SystemID)
	}

	// The callback runs on its own goroutine: SweepStale invokes finish from
	// the consumer's tick, which must never block on the callback.
	if ctx.notify != nil {
		go ctx.notify(ctx)
	}
}

// Supply provides the external resolution for a pending manual conflict.
// It fails with RetCSystemNotFound semantics if the conflict is unknown,
// already resolved, or already timed out.
func (r *Resolver) Supply(conflictID string, value []byte) error {
	ctx, ok := r.active.Load(conflictID)
	if !ok {
		return state.NewErrorf(state.RetCSystemNotFound, "no active conflict %q", conflictID)
	}
	select {
	case ctx.supply <- value:
		return nil
	default:
		return state.NewErrorf(state.RetCInternalError, "conflict %q already has a pending resolution", conflictID)
	}
}

// --------------------------------------------------------------------------
// Maintenance
// --------------------------------------------------------------------------

// SweepStale times out every active context older than the resolution
// timeout. The waiter normally handles its own timeout; the sweep keeps the
// active map bounded even if a waiter was lost. Called once per scheduling
// tick.
func (r *Resolver) SweepStale(now time.Time) {
	r.active.Range(func(id string, ctx *ResolutionContext) bool {
		if now.Sub(ctx.StartTime) > r.timeout {
			r.finish(ctx, nil, state.NewErrorf(state.RetCResolutionTimeout,
				"manual resolution for %s swept after %v", ctx.Conflict.SystemID, r.timeout))
		}
		return true
	})
}

// ActiveCount returns the number of conflicts awaiting manual resolution.
func (r *Resolver) ActiveCount() int {
	return r.active.Size()
}

// Events returns the stream on which manual conflicts are published.
func (r *Resolver) Events() <-chan StateConflict {
	return r.events
}
