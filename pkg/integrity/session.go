package integrity

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrUnknownKind is returned for events whose kind is outside the closed set
var ErrUnknownKind = errors.New("integrity: unknown violation kind")

// Session is the running integrity state for one interview.
//
// Score, log and counts are guarded by a single mutex so a reader never sees
// a score that disagrees with the log. Mutation goes through ScoreEngine and
// Aggregator; nothing else writes to it.
type Session struct {
	ID            string
	RoomID        string
	CandidateName string
	StartTime     time.Time
	Degraded      bool // running without a working perception backend

	mu      sync.RWMutex
	score   int
	events  []ViolationEvent
	counts  map[ViolationKind]int
	endTime time.Time
	ended   bool
}

// NewSession creates a session with a full score and an empty log.
func NewSession(id, roomID, candidate string, start time.Time) *Session {
	return &Session{
		ID:            id,
		RoomID:        roomID,
		CandidateName: candidate,
		StartTime:     start,
		score:         MaxScore,
		counts:        make(map[ViolationKind]int),
	}
}

// Score returns the current score.
func (s *Session) Score() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.score
}

// Ended reports whether End has been called.
func (s *Session) Ended() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ended
}

// Commit scores and records a batch of events as one atomic step. Events of
// an unknown kind are dropped. It returns the accepted events and the score
// after each, index-aligned.
func (s *Session) Commit(engine *ScoreEngine, events []ViolationEvent) ([]ViolationEvent, []int) {
	if len(events) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	accepted := make([]ViolationEvent, 0, len(events))
	scores := make([]int, 0, len(events))
	for _, ev := range events {
		if !ev.Kind.Valid() {
			continue
		}
		scores = append(scores, engine.apply(ev, s))
		s.record(ev)
		accepted = append(accepted, ev)
	}
	return accepted, scores
}

// record expects s.mu to be held.
func (s *Session) record(ev ViolationEvent) {
	s.events = append(s.events, ev)
	s.counts[ev.Kind]++
}

// Aggregator accumulates the ordered event log and per-kind counts of a session.
type Aggregator struct {
	session *Session
}

// NewAggregator returns the aggregator for s.
func NewAggregator(s *Session) *Aggregator {
	return &Aggregator{session: s}
}

// Session returns the aggregated session.
func (a *Aggregator) Session() *Session {
	return a.session
}

// Record appends ev to the log in arrival order and bumps its kind's count.
// Unknown kinds are rejected so the counts always sum to the log length.
func (a *Aggregator) Record(ev ViolationEvent) error {
	if !ev.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, ev.Kind)
	}
	a.session.mu.Lock()
	defer a.session.mu.Unlock()
	a.session.record(ev)
	return nil
}

// End marks the session finished at now. Only the first call has an effect.
func (a *Aggregator) End(now time.Time) {
	s := a.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.endTime = now
}

// Snapshot is an immutable point-in-time copy of a session.
type Snapshot struct {
	SessionID       string                `json:"session_id"`
	RoomID          string                `json:"room_id"`
	CandidateName   string                `json:"candidate_name"`
	StartTime       time.Time             `json:"start_time"`
	EndTime         *time.Time            `json:"end_time,omitempty"`
	Degraded        bool                  `json:"degraded,omitempty"`
	TotalEvents     int                   `json:"total_events"`
	CountsByKind    map[ViolationKind]int `json:"counts_by_kind"`
	Score           int                   `json:"score"`
	Severity        Severity              `json:"severity"`
	DurationMinutes *int                  `json:"duration_minutes"`
	Events          []ViolationEvent      `json:"events"`
}

// Snapshot copies the session under its read lock. DurationMinutes is set
// only once the session has ended.
func (a *Aggregator) Snapshot() Snapshot {
	s := a.session
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[ViolationKind]int, len(Kinds()))
	for _, k := range Kinds() {
		counts[k] = s.counts[k]
	}
	events := make([]ViolationEvent, len(s.events))
	copy(events, s.events)

	snap := Snapshot{
		SessionID:     s.ID,
		RoomID:        s.RoomID,
		CandidateName: s.CandidateName,
		StartTime:     s.StartTime,
		Degraded:      s.Degraded,
		TotalEvents:   len(s.events),
		CountsByKind:  counts,
		Score:         s.score,
		Severity:      SeverityFor(s.score),
		Events:        events,
	}
	if s.ended {
		end := s.endTime
		minutes := DurationMinutes(s.StartTime, end)
		snap.EndTime = &end
		snap.DurationMinutes = &minutes
	}
	return snap
}

// DurationMinutes rounds the span between start and end to whole minutes.
func DurationMinutes(start, end time.Time) int {
	d := end.Sub(start)
	if d < 0 {
		return 0
	}
	return int(math.Round(d.Minutes()))
}
