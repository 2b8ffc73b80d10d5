package tracking

import (
	"context"
	"time"
)

// BoundingBox is a detection rectangle in frame pixels
type BoundingBox struct {
	OriginX float64 `json:"origin_x"`
	OriginY float64 `json:"origin_y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
}

// CenterX returns the horizontal center of the box
func (b BoundingBox) CenterX() float64 {
	return b.OriginX + b.Width/2
}

// FaceObservation is one detected face. Faces carry no identity across ticks.
type FaceObservation struct {
	Box        BoundingBox `json:"box"`
	Confidence float64     `json:"confidence"`
}

// ObjectObservation is one classified object
type ObjectObservation struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Observation is everything perception reports for a single frame
type Observation struct {
	Faces       []FaceObservation   `json:"faces"`
	Objects     []ObjectObservation `json:"objects"`
	FrameWidth  int                 `json:"frame_width"`
	FrameHeight int                 `json:"frame_height"`

	// Degraded marks an observation from a backend that cannot see.
	// Trackers skip it: zero faces here means "unknown", not "absent".
	Degraded bool `json:"degraded,omitempty"`
}

// Frame is one sampled video frame
type Frame struct {
	RoomID     string
	Data       []byte // JPEG
	Width      int    // 0 if unknown; perception fills it in
	Height     int
	CapturedAt time.Time // client clock, informational only
}

// PerceptionPort turns a frame into typed observations.
// Model-specific types stay behind this boundary.
type PerceptionPort interface {
	Detect(ctx context.Context, frame Frame) (Observation, error)
}

// PerceptionFunc adapts a function to PerceptionPort
type PerceptionFunc func(ctx context.Context, frame Frame) (Observation, error)

// Detect calls f
func (f PerceptionFunc) Detect(ctx context.Context, frame Frame) (Observation, error) {
	return f(ctx, frame)
}

// NullPerception never sees anything. It is used when no detection backend
// could be loaded so a session still runs, deterministically, without signals.
type NullPerception struct{}

// Detect reports an empty, degraded observation sized to the frame
func (NullPerception) Detect(_ context.Context, frame Frame) (Observation, error) {
	return Observation{
		FrameWidth:  frame.Width,
		FrameHeight: frame.Height,
		Degraded:    true,
	}, nil
}
