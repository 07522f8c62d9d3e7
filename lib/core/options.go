package core

import (
	"time"

	"github.com/ValentinKolb/statesync/lib/logging"
	"github.com/ValentinKolb/statesync/lib/metrics"
	"github.com/ValentinKolb/statesync/lib/state"
)

// Option injects a dependency into a Core during creation.
type Option func(*Core)

// WithLogger overrides the core's logger.
func WithLogger(logger logging.ILogger) Option {
	return func(c *Core) {
		c.logger = logger
	}
}

// WithClock overrides the core's time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Core) {
		c.now = now
	}
}

// WithStore substitutes the state store backend.
func WithStore(store state.IStateStore) Option {
	return func(c *Core) {
		c.store = store
	}
}

// WithMetrics substitutes the metrics sink.
func WithMetrics(agg *metrics.Aggregator) Option {
	return func(c *Core) {
		c.agg = agg
	}
}
