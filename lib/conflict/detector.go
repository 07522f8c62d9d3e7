package conflict

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// Detector decides whether an incoming state update conflicts with a
// concurrent out-of-band modification of the subsystem.
//
// Detection is a structural value-equality check over the canonical payload
// encodings (bytes.Equal), never a comparison of string representations.
type Detector struct {
}

// NewDetector creates a new conflict detector.
func NewDetector() *Detector {
	return &Detector{}
}

// Detect compares the core's recorded payload for a subsystem against the
// subsystem's actual current payload. If they differ, the subsystem changed
// out-of-band since the recorded state and a concurrent-modification
// conflict is raised for the incoming update.
//
// The boolean return value indicates whether a conflict was detected.
func (d *Detector) Detect(systemID string, incoming, recorded, actual []byte, now time.Time) (*StateConflict, bool) {
	if bytes.Equal(recorded, actual) {
		return nil, false
	}
	return &StateConflict{
		ID:         uuid.NewString(),
		SystemID:   systemID,
		Kind:       KindConcurrentModification,
		Local:      incoming,
		Remote:     actual,
		Base:       recorded,
		DetectedAt: now,
	}, true
}
