// Package metrics exposes Prometheus instrumentation for the proctoring loop.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all proctor collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	ticksTotal         prometheus.Counter
	ticksSkipped       prometheus.Counter
	perceptionFailures prometheus.Counter
	tickDuration       prometheus.Histogram
	violations         *prometheus.CounterVec
	activeSessions     prometheus.Gauge
	sinkErrors         *prometheus.CounterVec
	framesReceived     prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proctor_ticks_total",
			Help: "Detection ticks that ran to completion.",
		}),
		ticksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proctor_ticks_skipped_total",
			Help: "Timer fires dropped because the previous tick was still running.",
		}),
		perceptionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proctor_perception_failures_total",
			Help: "Ticks discarded because perception returned an error.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "proctor_tick_duration_seconds",
			Help:    "Wall time of one detection tick, perception included.",
			Buckets: prometheus.DefBuckets,
		}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_violations_total",
			Help: "Violations emitted, by kind.",
		}, []string{"kind"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proctor_active_sessions",
			Help: "Sessions currently recording.",
		}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_sink_errors_total",
			Help: "Event sink delivery failures, by sink.",
		}, []string{"sink"}),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proctor_frames_received_total",
			Help: "Frames pushed by candidate clients.",
		}),
	}

	m.registry.MustRegister(
		m.ticksTotal,
		m.ticksSkipped,
		m.perceptionFailures,
		m.tickDuration,
		m.violations,
		m.activeSessions,
		m.sinkErrors,
		m.framesReceived,
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TickCompleted(d time.Duration) {
	if m == nil {
		return
	}
	m.ticksTotal.Inc()
	m.tickDuration.Observe(d.Seconds())
}

func (m *Metrics) TickSkipped() {
	if m == nil {
		return
	}
	m.ticksSkipped.Inc()
}

func (m *Metrics) PerceptionFailed() {
	if m == nil {
		return
	}
	m.perceptionFailures.Inc()
}

func (m *Metrics) Violation(kind string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(kind).Inc()
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *Metrics) SinkError(sink string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(sink).Inc()
}

func (m *Metrics) FrameReceived() {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
}
