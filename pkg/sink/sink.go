// Package sink delivers proctoring events to downstream consumers:
// persistence, message brokers and live dashboards.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-proctor/internal/log"
	"github.com/teslashibe/go-proctor/pkg/integrity"
	"github.com/teslashibe/go-proctor/pkg/metrics"
)

// ViolationNotice is one violation as published downstream, with the score
// it left the session at.
type ViolationNotice struct {
	SessionID string                   `json:"sessionId"`
	RoomID    string                   `json:"roomId"`
	Event     integrity.ViolationEvent `json:"event"`
	Score     int                      `json:"integrityScore"`
	Severity  integrity.Severity       `json:"severity"`
}

// EventSink receives the ordered event stream of sessions.
// Implementations must be safe for concurrent use across sessions.
type EventSink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	SessionStarted(ctx context.Context, rec integrity.SessionRecord) error
	Violation(ctx context.Context, n ViolationNotice) error
	SessionEnded(ctx context.Context, rec integrity.SessionRecord) error
}

// Multi fans events out to several sinks. Every sink is attempted;
// failures are counted, logged and joined.
type Multi struct {
	sinks   []EventSink
	metrics *metrics.Metrics
	logger  *slog.Logger
	timeout time.Duration
}

// MultiOption configures a Multi.
type MultiOption func(*Multi)

// WithMetrics records sink failures.
func WithMetrics(m *metrics.Metrics) MultiOption {
	return func(s *Multi) { s.metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) MultiOption {
	return func(s *Multi) { s.logger = l }
}

// WithTimeout bounds each individual delivery.
func WithTimeout(d time.Duration) MultiOption {
	return func(s *Multi) { s.timeout = d }
}

// NewMulti creates a fan-out sink. Nil sinks are dropped.
func NewMulti(sinks []EventSink, opts ...MultiOption) *Multi {
	m := &Multi{timeout: 5 * time.Second}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = log.Or(m.logger, "sink")
	return m
}

// Add appends a sink.
func (m *Multi) Add(s EventSink) {
	if s != nil {
		m.sinks = append(m.sinks, s)
	}
}

// Len returns the number of sinks.
func (m *Multi) Len() int {
	return len(m.sinks)
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) SessionStarted(ctx context.Context, rec integrity.SessionRecord) error {
	return m.each(ctx, "session_started", func(ctx context.Context, s EventSink) error {
		return s.SessionStarted(ctx, rec)
	})
}

func (m *Multi) Violation(ctx context.Context, n ViolationNotice) error {
	return m.each(ctx, "violation", func(ctx context.Context, s EventSink) error {
		return s.Violation(ctx, n)
	})
}

func (m *Multi) SessionEnded(ctx context.Context, rec integrity.SessionRecord) error {
	return m.each(ctx, "session_ended", func(ctx context.Context, s EventSink) error {
		return s.SessionEnded(ctx, rec)
	})
}

func (m *Multi) each(ctx context.Context, op string, fn func(context.Context, EventSink) error) error {
	var errs []error
	for _, s := range m.sinks {
		dctx, cancel := context.WithTimeout(ctx, m.timeout)
		err := fn(dctx, s)
		cancel()
		if err != nil {
			m.metrics.SinkError(s.Name())
			m.logger.Warn("sink delivery failed", "sink", s.Name(), "op", op, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Discard is a sink that accepts and drops everything.
type Discard struct{}

func (Discard) Name() string { return "discard" }

func (Discard) SessionStarted(context.Context, integrity.SessionRecord) error {
	return nil
}

func (Discard) Violation(context.Context, ViolationNotice) error {
	return nil
}

func (Discard) SessionEnded(context.Context, integrity.SessionRecord) error {
	return nil
}
