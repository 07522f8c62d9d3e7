package core

import (
	"time"

	"github.com/ValentinKolb/statesync/lib/conflict"
	"github.com/ValentinKolb/statesync/lib/state"
)

// Config holds all configuration parameters of the synchronization core.
type Config struct {
	// TickInterval is the period of the scheduling loop.
	TickInterval time.Duration
	// MaxOpsPerTick bounds how many queued operations one tick may drain.
	MaxOpsPerTick int
	// SnapshotInterval is the period of automatic snapshot capture.
	SnapshotInterval time.Duration
	// MaxHistory caps the snapshot history (FIFO eviction beyond it).
	MaxHistory int
	// ResolutionTimeout bounds every manual conflict resolution.
	ResolutionTimeout time.Duration
	// DefaultStrategy is the resolution strategy applied to detected
	// conflicts.
	DefaultStrategy conflict.Strategy
	// ValidationEnabled runs each subsystem's validation predicate before
	// committing an update.
	ValidationEnabled bool
	// RealtimeSyncEnabled controls whether subsystem change notifications
	// are enqueued. Can be toggled at runtime.
	RealtimeSyncEnabled bool
	// ConflictResolutionEnabled controls whether updates pass through
	// conflict detection. Can be toggled at runtime.
	ConflictResolutionEnabled bool
	// NetworkSyncEnabled would replicate state across processes. The flag
	// exists for forward compatibility but is not implemented; Validate
	// rejects it.
	NetworkSyncEnabled bool
	// LogLevel is the minimum level for the core's logger
	// (DEBUG, INFO, WARN, ERROR, CRITICAL).
	LogLevel string
}

// DefaultConfig returns the default core configuration.
func DefaultConfig() *Config {
	return &Config{
		TickInterval:              100 * time.Millisecond,
		MaxOpsPerTick:             10,
		SnapshotInterval:          time.Second,
		MaxHistory:                100,
		ResolutionTimeout:         5 * time.Second,
		DefaultStrategy:           conflict.StrategyLastWriterWins,
		ValidationEnabled:         true,
		RealtimeSyncEnabled:       true,
		ConflictResolutionEnabled: true,
		LogLevel:                  "INFO",
	}
}

// Validate checks the configuration for values the core cannot run with.
func (c *Config) Validate() error {
	if c.TickInterval <= 0 {
		return state.NewError(state.RetCInternalError, "tick interval must be positive")
	}
	if c.MaxOpsPerTick <= 0 {
		return state.NewError(state.RetCInternalError, "max operations per tick must be positive")
	}
	if c.SnapshotInterval <= 0 {
		return state.NewError(state.RetCInternalError, "snapshot interval must be positive")
	}
	if c.MaxHistory <= 0 {
		return state.NewError(state.RetCInternalError, "history cap must be positive")
	}
	if c.ResolutionTimeout <= 0 {
		return state.NewError(state.RetCInternalError, "resolution timeout must be positive")
	}
	if c.DefaultStrategy.String() == "unknown" {
		return state.NewError(state.RetCUnsupportedStrategy, "unknown default resolution strategy")
	}
	if c.NetworkSyncEnabled {
		return state.NewError(state.RetCNotImplemented, "network sync is not implemented")
	}
	return nil
}
