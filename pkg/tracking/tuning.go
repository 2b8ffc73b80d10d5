package tracking

import "time"

// Tuning holds the real-time adjustable tracking thresholds.
// Changes apply to sessions started afterwards; running sessions keep the
// thresholds they started with.
type Tuning struct {
	// Sampling
	TickIntervalMs int64 `json:"tick_interval_ms"` // Time between detection ticks

	// Focus
	FaceCenterThreshold float64 `json:"face_center_threshold"` // Max deviation ratio still centered (0-0.5)
	FocusLostSeconds    float64 `json:"focus_lost_seconds"`

	// Presence
	NoFaceSeconds float64 `json:"no_face_seconds"`

	// Contraband
	MinObjectConfidence float64 `json:"min_object_confidence"` // 0 keeps every detection
}

// Valid ranges for tuning values
const (
	minTickInterval = 250 * time.Millisecond
	maxTickInterval = 30 * time.Second
	maxThreshold    = 10 * time.Minute
)

// Tuning returns the adjustable part of c
func (c Config) Tuning() Tuning {
	return Tuning{
		TickIntervalMs:      c.TickInterval.Milliseconds(),
		FaceCenterThreshold: c.FaceCenterThreshold,
		FocusLostSeconds:    c.FocusLostThreshold.Seconds(),
		NoFaceSeconds:       c.NoFaceThreshold.Seconds(),
		MinObjectConfidence: c.MinObjectConfidence,
	}
}

// ApplyTuning returns c updated with t.
// Only positive values are applied; each is clamped to its valid range.
func (c Config) ApplyTuning(t Tuning) Config {
	if t.TickIntervalMs > 0 {
		d := time.Duration(t.TickIntervalMs) * time.Millisecond
		c.TickInterval = clampDuration(d, minTickInterval, maxTickInterval)
	}
	if t.FaceCenterThreshold > 0 {
		c.FaceCenterThreshold = clamp(t.FaceCenterThreshold, 0.05, 0.5)
	}
	if t.FocusLostSeconds > 0 {
		c.FocusLostThreshold = clampDuration(seconds(t.FocusLostSeconds), time.Second, maxThreshold)
	}
	if t.NoFaceSeconds > 0 {
		c.NoFaceThreshold = clampDuration(seconds(t.NoFaceSeconds), time.Second, maxThreshold)
	}
	if t.MinObjectConfidence > 0 {
		c.MinObjectConfidence = clamp(t.MinObjectConfidence, 0, 1)
	}
	return c
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// clamp limits a value to a range
func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
