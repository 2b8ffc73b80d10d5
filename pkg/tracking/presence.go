package tracking

import (
	"time"

	"github.com/teslashibe/go-proctor/pkg/integrity"
)

// PresenceTracker flags a missing candidate (debounced) and extra people
// in frame (every tick). Not safe for concurrent use.
type PresenceTracker struct {
	state            TrackerState
	threshold        time.Duration
	noFaceConfidence float64
	multiConfidence  float64
}

// NewPresenceTracker creates a presence tracker from config
func NewPresenceTracker(cfg Config) *PresenceTracker {
	return &PresenceTracker{
		threshold:        cfg.NoFaceThreshold,
		noFaceConfidence: cfg.NoFaceConfidence,
		multiConfidence:  cfg.MultipleFacesConfidence,
	}
}

// State returns a copy of the tracker state
func (p *PresenceTracker) State() TrackerState {
	return p.state
}

// Observe evaluates one tick. At most one event is returned.
func (p *PresenceTracker) Observe(faces []FaceObservation, now time.Time) *integrity.ViolationEvent {
	switch n := len(faces); {
	case n == 0:
		if !p.state.bad(now, p.threshold) {
			return nil
		}
		ev := integrity.NewEvent(integrity.NoFace, now, p.noFaceConfidence)
		return &ev

	case n == 1:
		p.state.good(now)
		return nil

	default:
		// Someone is in frame, so the absence countdown stops too.
		p.state.good(now)
		ev := integrity.NewEvent(integrity.MultipleFaces, now, p.multiConfidence)
		return &ev
	}
}
