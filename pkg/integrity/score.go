package integrity

// Score bounds.
const (
	MaxScore = 100
	MinScore = 0
)

// DefaultDeductions is the fixed penalty table, in score points per event.
var DefaultDeductions = map[ViolationKind]int{
	FocusLost:     5,
	NoFace:        10,
	MultipleFaces: 15,
	PhoneDetected: 20,
	NotesDetected: 15,
	BookDetected:  15,
}

// ScoreEngine turns violations into score deductions.
// It is stateless; the score itself lives on the Session.
type ScoreEngine struct {
	deductions map[ViolationKind]int
}

// NewScoreEngine returns an engine using DefaultDeductions.
func NewScoreEngine() *ScoreEngine {
	d := make(map[ViolationKind]int, len(DefaultDeductions))
	for k, v := range DefaultDeductions {
		d[k] = v
	}
	return &ScoreEngine{deductions: d}
}

// Deduction returns the penalty for kind. Unknown kinds cost nothing.
func (e *ScoreEngine) Deduction(kind ViolationKind) int {
	return e.deductions[kind]
}

// Apply deducts the penalty for ev from the session score and returns the new score.
func (e *ScoreEngine) Apply(ev ViolationEvent, s *Session) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.apply(ev, s)
}

// apply expects s.mu to be held.
func (e *ScoreEngine) apply(ev ViolationEvent, s *Session) int {
	s.score = e.next(s.score, ev.Kind)
	return s.score
}

func (e *ScoreEngine) next(score int, kind ViolationKind) int {
	d := e.Deduction(kind)
	if d < 0 {
		d = 0
	}
	score -= d
	if score < MinScore {
		score = MinScore
	}
	return score
}

// Severity is the human-readable band a score falls in.
type Severity string

const (
	SeverityExcellent Severity = "Excellent"
	SeverityGood      Severity = "Good"
	SeverityAverage   Severity = "Average"
	SeverityPoor      Severity = "Poor"
	SeverityCritical  Severity = "Critical"
)

// SeverityFor maps a score to its band. Lower bounds are inclusive.
func SeverityFor(score int) Severity {
	switch {
	case score >= 90:
		return SeverityExcellent
	case score >= 75:
		return SeverityGood
	case score >= 60:
		return SeverityAverage
	case score >= 40:
		return SeverityPoor
	default:
		return SeverityCritical
	}
}
