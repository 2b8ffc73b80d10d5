// Package proctor runs proctoring sessions, one per interview room.
//
// A Manager owns every live room: its session, trackers, frame buffer and
// tick loop. Rooms share nothing but the event sink and metrics.
package proctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-proctor/internal/log"
	"github.com/teslashibe/go-proctor/pkg/camera"
	"github.com/teslashibe/go-proctor/pkg/integrity"
	"github.com/teslashibe/go-proctor/pkg/metrics"
	"github.com/teslashibe/go-proctor/pkg/sink"
	"github.com/teslashibe/go-proctor/pkg/tracking"
)

var (
	// ErrSessionExists is returned when a room already has a running session
	ErrSessionExists = errors.New("proctor: session already running in room")

	// ErrSessionNotFound is returned for a room without a running session
	ErrSessionNotFound = errors.New("proctor: no session running in room")

	// ErrPerceptionUnavailable means the perception backend could not be opened
	ErrPerceptionUnavailable = errors.New("proctor: perception unavailable")

	// ErrInvalidRoom is returned for an empty room ID
	ErrInvalidRoom = errors.New("proctor: room id must not be empty")
)

// PerceptionFactory opens a perception backend for a new session.
// If the port implements io.Closer it is closed when the session ends.
type PerceptionFactory func() (tracking.PerceptionPort, error)

// Config configures a Manager
type Config struct {
	Tracking tracking.Config

	// FrameMaxAge is how old the newest frame may be before a tick treats
	// the room as having no frame (0 = never stale)
	FrameMaxAge time.Duration

	// AllowDegraded starts sessions on NullPerception when the backend
	// fails to open, instead of refusing them
	AllowDegraded bool

	Logger *slog.Logger
}

// DefaultConfig returns the standard manager configuration
func DefaultConfig() Config {
	return Config{
		Tracking:    tracking.DefaultConfig(),
		FrameMaxAge: 10 * time.Second,
	}
}

// Option configures a Manager
type Option func(*Manager)

// WithSink sets the sink that receives every room's events
func WithSink(s sink.EventSink) Option {
	return func(m *Manager) { m.sink = s }
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock overrides the time source
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithIDGenerator overrides session ID generation
func WithIDGenerator(next func() string) Option {
	return func(m *Manager) { m.newID = next }
}

// Manager starts, tracks and ends proctoring sessions
type Manager struct {
	cfg        Config
	perception PerceptionFactory
	sink       sink.EventSink
	metrics    *metrics.Metrics
	logger     *slog.Logger
	clock      func() time.Time
	newID      func() string

	mu       sync.Mutex
	rooms    map[string]*room
	starting map[string]struct{} // rooms whose perception is still loading
}

// room is everything one live session owns
type room struct {
	session    *integrity.Session
	aggregator *integrity.Aggregator
	tracker    *tracking.Tracker
	buffer     *camera.Buffer
	perception tracking.PerceptionPort
}

// NewManager creates a manager. With a nil factory, sessions can only start
// when AllowDegraded is set.
func NewManager(cfg Config, perception PerceptionFactory, opts ...Option) *Manager {
	m := &Manager{
		cfg:        cfg,
		perception: perception,
		sink:       sink.Discard{},
		logger:     log.Or(cfg.Logger, "proctor"),
		clock:      time.Now,
		newID:      uuid.NewString,
		rooms:      make(map[string]*room),
		starting:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cfg.Tracking.Logger == nil {
		m.cfg.Tracking.Logger = m.logger
	}
	return m
}

// Start opens a session in roomID and begins sampling its frames
func (m *Manager) Start(ctx context.Context, roomID, candidate string) (integrity.Snapshot, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return integrity.Snapshot{}, ErrInvalidRoom
	}

	// Reserve the room, then load perception without the lock so other
	// rooms keep ticking while a model loads.
	m.mu.Lock()
	_, running := m.rooms[roomID]
	_, loading := m.starting[roomID]
	if running || loading {
		m.mu.Unlock()
		return integrity.Snapshot{}, fmt.Errorf("%w: %s", ErrSessionExists, roomID)
	}
	m.starting[roomID] = struct{}{}
	cfg := m.cfg.Tracking
	m.mu.Unlock()

	perception, degraded, err := m.openPerception()
	if err != nil {
		m.mu.Lock()
		delete(m.starting, roomID)
		m.mu.Unlock()
		return integrity.Snapshot{}, err
	}

	session := integrity.NewSession(m.newID(), roomID, candidate, m.clock())
	session.Degraded = degraded

	orch := tracking.NewOrchestrator(cfg, perception, session,
		tracking.WithSink(m.sink),
		tracking.WithMetrics(m.metrics),
		tracking.WithClock(m.clock),
	)
	buffer := camera.NewBuffer(roomID, m.cfg.FrameMaxAge)
	r := &room{
		session:    session,
		aggregator: integrity.NewAggregator(session),
		tracker:    tracking.NewTracker(cfg, orch, buffer, m.metrics),
		buffer:     buffer,
		perception: perception,
	}

	m.mu.Lock()
	delete(m.starting, roomID)
	m.rooms[roomID] = r
	m.mu.Unlock()

	snap := r.aggregator.Snapshot()
	m.metrics.SessionStarted()
	m.logger.Info("session started",
		"room", roomID,
		"session_id", session.ID,
		"candidate", candidate,
		"degraded", degraded,
	)
	if err := m.sink.SessionStarted(ctx, snap.Record()); err != nil {
		m.logger.Warn("session start not delivered", "room", roomID, "error", err)
	}

	// The loop outlives the request that started it; End stops it.
	r.tracker.Start(context.WithoutCancel(ctx))
	return snap, nil
}

// openPerception may block for as long as a model takes to load. It must be
// called without m.mu held.
func (m *Manager) openPerception() (tracking.PerceptionPort, bool, error) {
	if m.perception == nil {
		if !m.cfg.AllowDegraded {
			return nil, false, fmt.Errorf("%w: no backend configured", ErrPerceptionUnavailable)
		}
		return tracking.NullPerception{}, true, nil
	}

	p, err := m.perception()
	if err == nil {
		return p, false, nil
	}
	if !m.cfg.AllowDegraded {
		return nil, false, fmt.Errorf("%w: %v", ErrPerceptionUnavailable, err)
	}
	m.logger.Warn("perception unavailable, running degraded", "error", err)
	return tracking.NullPerception{}, true, nil
}

// End stops the room's session and returns its final snapshot. The tick in
// flight, if any, completes first.
func (m *Manager) End(ctx context.Context, roomID string) (integrity.Snapshot, error) {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if ok {
		delete(m.rooms, roomID)
	}
	m.mu.Unlock()
	if !ok {
		return integrity.Snapshot{}, fmt.Errorf("%w: %s", ErrSessionNotFound, roomID)
	}

	r.tracker.Stop()
	r.aggregator.End(m.clock())
	snap := r.aggregator.Snapshot()

	if c, ok := r.perception.(io.Closer); ok {
		if err := c.Close(); err != nil {
			m.logger.Warn("perception close failed", "room", roomID, "error", err)
		}
	}

	m.metrics.SessionEnded()
	m.logger.Info("session ended",
		"room", roomID,
		"session_id", snap.SessionID,
		"score", snap.Score,
		"severity", snap.Severity,
		"events", snap.TotalEvents,
	)
	if err := m.sink.SessionEnded(ctx, snap.Record()); err != nil {
		m.logger.Warn("session end not delivered", "room", roomID, "error", err)
	}
	return snap, nil
}

// Snapshot returns the live state of the room's session
func (m *Manager) Snapshot(roomID string) (integrity.Snapshot, error) {
	r, err := m.room(roomID)
	if err != nil {
		return integrity.Snapshot{}, err
	}
	return r.aggregator.Snapshot(), nil
}

// Report returns the report summary of the room's running session
func (m *Manager) Report(roomID string) (integrity.Report, error) {
	snap, err := m.Snapshot(roomID)
	if err != nil {
		return integrity.Report{}, err
	}
	return snap.Report(), nil
}

// List returns snapshots of all running sessions, ordered by room
func (m *Manager) List() []integrity.Snapshot {
	m.mu.Lock()
	rooms := make([]*room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	snaps := make([]integrity.Snapshot, 0, len(rooms))
	for _, r := range rooms {
		snaps = append(snaps, r.aggregator.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].RoomID < snaps[j].RoomID
	})
	return snaps
}

// PushFrame stores the newest frame of a room. The next tick samples it.
func (m *Manager) PushFrame(frame tracking.Frame) error {
	r, err := m.room(frame.RoomID)
	if err != nil {
		return err
	}
	r.buffer.Put(frame.Data, frame.Width, frame.Height, frame.CapturedAt)
	return nil
}

// Buffer returns the frame buffer of the room's session
func (m *Manager) Buffer(roomID string) (*camera.Buffer, error) {
	r, err := m.room(roomID)
	if err != nil {
		return nil, err
	}
	return r.buffer, nil
}

// Tuning returns the thresholds new sessions start with
func (m *Manager) Tuning() tracking.Tuning {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Tracking.Tuning()
}

// SetTuning adjusts the thresholds for sessions started from now on and
// returns the values in effect
func (m *Manager) SetTuning(t tracking.Tuning) tracking.Tuning {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Tracking = m.cfg.Tracking.ApplyTuning(t)
	m.logger.Info("tuning updated", "tuning", m.cfg.Tracking.Tuning())
	return m.cfg.Tracking.Tuning()
}

// Active returns the number of running sessions
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// Shutdown ends every running session
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if _, err := m.End(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) room(roomID string) (*room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, roomID)
	}
	return r, nil
}
