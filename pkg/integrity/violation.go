// Package integrity holds the scoring side of proctoring: violation kinds,
// the per-session score, the ordered event log and the report summary
// derived from it.
package integrity

import (
	"math"
	"time"
)

// ViolationKind identifies one class of integrity violation.
// The set is closed; trackers only ever emit these values.
type ViolationKind string

const (
	FocusLost     ViolationKind = "FOCUS_LOST"
	NoFace        ViolationKind = "NO_FACE"
	MultipleFaces ViolationKind = "MULTIPLE_FACES"
	PhoneDetected ViolationKind = "PHONE_DETECTED"
	NotesDetected ViolationKind = "NOTES_DETECTED"
	BookDetected  ViolationKind = "BOOK_DETECTED"
)

// Kinds returns every violation kind in reporting order.
func Kinds() []ViolationKind {
	return []ViolationKind{FocusLost, NoFace, MultipleFaces, PhoneDetected, NotesDetected, BookDetected}
}

// Valid reports whether k is one of the known kinds.
func (k ViolationKind) Valid() bool {
	switch k {
	case FocusLost, NoFace, MultipleFaces, PhoneDetected, NotesDetected, BookDetected:
		return true
	}
	return false
}

// ViolationEvent is a single detected violation. Treat it as a value:
// once created it is never modified.
type ViolationEvent struct {
	Kind       ViolationKind `json:"type"`
	Timestamp  time.Time     `json:"timestamp"`
	Confidence float64       `json:"confidence"`
}

// NewEvent creates an event with confidence clamped to [0,1].
func NewEvent(kind ViolationKind, ts time.Time, confidence float64) ViolationEvent {
	return ViolationEvent{
		Kind:       kind,
		Timestamp:  ts,
		Confidence: ClampConfidence(confidence),
	}
}

// ClampConfidence forces an upstream confidence into [0,1]. NaN becomes 0.
func ClampConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
