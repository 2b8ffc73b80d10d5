package tracking

import "time"

// TrackerState is the debounce timer of a threshold tracker.
//
// ConditionActive means the adverse condition has held continuously since
// LastGoodTime. One good observation clears it and moves LastGoodTime to now.
// Each tracker owns its state; it is never shared between trackers or sessions.
type TrackerState struct {
	LastGoodTime    time.Time
	ConditionActive bool
}

// good records a non-violating observation
func (s *TrackerState) good(now time.Time) {
	s.ConditionActive = false
	s.LastGoodTime = now
}

// bad records a violating observation and reports whether threshold has
// elapsed since the countdown started. On true the countdown re-arms at now,
// so the next report needs another full threshold.
func (s *TrackerState) bad(now time.Time, threshold time.Duration) bool {
	if !s.ConditionActive {
		s.ConditionActive = true
		s.LastGoodTime = now
		return false
	}
	if now.Sub(s.LastGoodTime) < threshold {
		return false
	}
	s.LastGoodTime = now
	return true
}
