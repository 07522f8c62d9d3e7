package conflict

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// --------------------------------------------------------------------------
// Conflict Kinds
// --------------------------------------------------------------------------

// Kind classifies a detected state conflict.
type Kind int

const (
	KindConcurrentModification Kind = iota + 1 // subsystem changed out-of-band since the last recorded state
	KindVersionMismatch                        // recorded and expected versions diverge
	KindCorruption                             // recorded state failed an integrity check
	KindPartition                              // subsystem was unreachable while changes accumulated
	KindValidationFailure                      // subsystem rejected a value it previously produced
)

func (k Kind) String() string {
	switch k {
	case KindConcurrentModification:
		return "concurrent-modification"
	case KindVersionMismatch:
		return "version-mismatch"
	case KindCorruption:
		return "corruption"
	case KindPartition:
		return "partition"
	case KindValidationFailure:
		return "validation-failure"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Resolution Strategies
// --------------------------------------------------------------------------

// Strategy selects how a conflict is resolved.
type Strategy int

const (
	// StrategyLastWriterWins keeps the incoming (local) value unconditionally.
	StrategyLastWriterWins Strategy = iota + 1
	// StrategyFirstWriterWins rejects the incoming value and keeps the
	// subsystem's actual current (remote) value.
	StrategyFirstWriterWins
	// StrategyMerge invokes a merge function over (local, remote, base).
	// Without a subsystem-supplied merge function it keeps the local value.
	StrategyMerge
	// StrategyManual exposes the conflict via the resolver's event stream and
	// waits for an externally supplied resolution until the timeout elapses.
	StrategyManual
)

func (s Strategy) String() string {
	switch s {
	case StrategyLastWriterWins:
		return "last-writer-wins"
	case StrategyFirstWriterWins:
		return "first-writer-wins"
	case StrategyMerge:
		return "merge"
	case StrategyManual:
		return "manual"
	default:
		return "unknown"
	}
}

// ParseStrategy converts a strategy name to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "lww", "last-writer-wins":
		return StrategyLastWriterWins, nil
	case "fww", "first-writer-wins":
		return StrategyFirstWriterWins, nil
	case "merge":
		return StrategyMerge, nil
	case "manual", "deferred":
		return StrategyManual, nil
	default:
		return 0, fmt.Errorf("unknown resolution strategy %q", name)
	}
}

// --------------------------------------------------------------------------
// Data Model
// --------------------------------------------------------------------------

// StateConflict is a detected discrepancy between the core's recorded state
// and a subsystem's actual current state. Created by the detector, consumed
// by the resolver, then discarded.
type StateConflict struct {
	ID         string    `json:"id"`
	SystemID   string    `json:"system_id"`
	Kind       Kind      `json:"kind"`
	Local      []byte    `json:"local_value"`  // the incoming update
	Remote     []byte    `json:"remote_value"` // the subsystem's actual current value
	Base       []byte    `json:"base_value"`   // the core's last recorded value
	DetectedAt time.Time `json:"detected_at"`
}

// ResolutionContext tracks one resolution attempt from start to finish.
// Contexts for the manual strategy live in the resolver's active map until
// they are resolved, time out, or are swept as stale.
type ResolutionContext struct {
	Conflict  StateConflict
	Strategy  Strategy
	StartTime time.Time
	EndTime   time.Time
	Resolved  []byte
	Success   bool
	Err       error

	// settled guards against double completion (waiter vs. sweeper race).
	settled atomic.Bool
	supply  chan []byte
	notify  func(*ResolutionContext)
}
