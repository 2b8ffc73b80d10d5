package tracking

import (
	"context"
	"log/slog"
	"time"

	"github.com/teslashibe/go-proctor/internal/log"
	"github.com/teslashibe/go-proctor/pkg/integrity"
	"github.com/teslashibe/go-proctor/pkg/metrics"
	"github.com/teslashibe/go-proctor/pkg/sink"
)

// Orchestrator runs one detection tick for one session: perception, the
// three trackers, scoring, and forwarding to the event sink.
//
// Ticks must be serialized by the caller (see Tracker); the trackers it
// owns are not safe for concurrent use.
type Orchestrator struct {
	perception PerceptionPort
	session    *integrity.Session
	engine     *integrity.ScoreEngine
	sink       sink.EventSink
	metrics    *metrics.Metrics
	logger     *slog.Logger
	clock      func() time.Time

	focus      *FocusTracker
	presence   *PresenceTracker
	contraband *ContrabandTracker
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithSink forwards emitted events to s.
func WithSink(s sink.EventSink) OrchestratorOption {
	return func(o *Orchestrator) { o.sink = s }
}

// WithMetrics records tick outcomes.
func WithMetrics(m *metrics.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides the time source that stamps ticks and drives the
// debounce thresholds.
func WithClock(clock func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithScoreEngine overrides the default deduction table.
func WithScoreEngine(e *integrity.ScoreEngine) OrchestratorOption {
	return func(o *Orchestrator) { o.engine = e }
}

// NewOrchestrator creates an orchestrator with fresh trackers for session.
func NewOrchestrator(cfg Config, perception PerceptionPort, session *integrity.Session, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		perception: perception,
		session:    session,
		engine:     integrity.NewScoreEngine(),
		sink:       sink.Discard{},
		clock:      time.Now,
		focus:      NewFocusTracker(cfg),
		presence:   NewPresenceTracker(cfg),
		contraband: NewContrabandTracker(cfg),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.perception == nil {
		o.perception = NullPerception{}
	}
	o.logger = log.Or(cfg.Logger, "orchestrator").With("room", session.RoomID)
	return o
}

// Session returns the session this orchestrator scores.
func (o *Orchestrator) Session() *integrity.Session {
	return o.session
}

// Tick samples one frame and returns the violations it produced, in order:
// focus, presence, then contraband. A perception failure is logged and the
// tick is discarded without touching any state.
//
// Thresholds run on the server tick time. frame.CapturedAt comes from the
// candidate's clock and never affects timing.
func (o *Orchestrator) Tick(ctx context.Context, frame Frame) []integrity.ViolationEvent {
	started := time.Now()
	now := o.clock()

	obs, err := o.perception.Detect(ctx, frame)
	if err != nil {
		o.metrics.PerceptionFailed()
		o.logger.Warn("perception failed, skipping tick", "error", err)
		return nil
	}
	if obs.Degraded {
		o.metrics.TickCompleted(time.Since(started))
		return nil
	}

	width, height := obs.FrameWidth, obs.FrameHeight
	if width == 0 {
		width, height = frame.Width, frame.Height
	}

	var events []integrity.ViolationEvent
	if ev := o.focus.Observe(obs.Faces, width, height, now); ev != nil {
		events = append(events, *ev)
	}
	if ev := o.presence.Observe(obs.Faces, now); ev != nil {
		events = append(events, *ev)
	}
	events = append(events, o.contraband.Observe(obs.Objects, now)...)

	if len(events) > 0 {
		events = o.commit(ctx, events)
	}
	o.metrics.TickCompleted(time.Since(started))
	return events
}

// commit applies events to the session in one step, then forwards the
// accepted ones.
func (o *Orchestrator) commit(ctx context.Context, events []integrity.ViolationEvent) []integrity.ViolationEvent {
	events, scores := o.session.Commit(o.engine, events)

	for i, ev := range events {
		o.metrics.Violation(string(ev.Kind))
		o.logger.Info("violation",
			"kind", ev.Kind,
			"confidence", ev.Confidence,
			"score", scores[i])

		notice := sink.ViolationNotice{
			SessionID: o.session.ID,
			RoomID:    o.session.RoomID,
			Event:     ev,
			Score:     scores[i],
			Severity:  integrity.SeverityFor(scores[i]),
		}
		if err := o.sink.Violation(ctx, notice); err != nil {
			o.logger.Debug("violation not delivered", "error", err)
		}
	}
	return events
}
