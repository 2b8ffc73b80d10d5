package tracking

import (
	"math"
	"time"

	"github.com/teslashibe/go-proctor/pkg/integrity"
)

// FocusTracker flags a single face that stays away from the frame center.
// It judges only ticks with exactly one face; presence is someone else's job.
// Not safe for concurrent use.
type FocusTracker struct {
	state      TrackerState
	threshold  time.Duration
	center     float64
	confidence float64

	sawSingleFace bool // previous tick had exactly one face
}

// NewFocusTracker creates a focus tracker from config
func NewFocusTracker(cfg Config) *FocusTracker {
	return &FocusTracker{
		threshold:  cfg.FocusLostThreshold,
		center:     cfg.FaceCenterThreshold,
		confidence: cfg.FocusLostConfidence,
	}
}

// State returns a copy of the tracker state
func (f *FocusTracker) State() TrackerState {
	return f.state
}

// Observe evaluates one tick and returns a FOCUS_LOST event when due
func (f *FocusTracker) Observe(faces []FaceObservation, frameWidth, frameHeight int, now time.Time) *integrity.ViolationEvent {
	if len(faces) != 1 || frameWidth <= 0 {
		f.sawSingleFace = false
		return nil
	}

	// A face coming back starts deviation tracking from scratch.
	if !f.sawSingleFace {
		f.state.good(now)
		f.sawSingleFace = true
	}

	if DeviationRatio(faces[0].Box, frameWidth) < f.center {
		f.state.good(now)
		return nil
	}

	if !f.state.bad(now, f.threshold) {
		return nil
	}
	ev := integrity.NewEvent(integrity.FocusLost, now, f.confidence)
	return &ev
}

// DeviationRatio is the horizontal distance of the box center from the
// frame center, as a fraction of frame width.
func DeviationRatio(box BoundingBox, frameWidth int) float64 {
	w := float64(frameWidth)
	return math.Abs(box.CenterX()-w/2) / w
}
