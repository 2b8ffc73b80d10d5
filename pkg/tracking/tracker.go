package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-proctor/internal/log"
	"github.com/teslashibe/go-proctor/pkg/metrics"
)

// ErrNoFrame is returned by a FrameSource that has nothing to sample yet.
// The tick is a no-op: trackers are not touched.
var ErrNoFrame = errors.New("tracking: no frame available")

// ErrStaleFrame is returned when the newest frame arrived too long ago.
// It wraps ErrNoFrame, so the tick is a no-op too.
var ErrStaleFrame = fmt.Errorf("%w: feed stalled", ErrNoFrame)

// FrameSource supplies the most recent frame of a session's video
type FrameSource interface {
	Latest(ctx context.Context) (Frame, error)
}

// FrameSourceFunc adapts a function to FrameSource
type FrameSourceFunc func(ctx context.Context) (Frame, error)

// Latest calls f
func (f FrameSourceFunc) Latest(ctx context.Context) (Frame, error) {
	return f(ctx)
}

// Tracker drives an Orchestrator at a fixed tick interval.
//
// At most one tick runs at a time. A timer fire that lands while a tick is
// still in flight is dropped, not queued.
type Tracker struct {
	orch     *Orchestrator
	source   FrameSource
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger

	busy    atomic.Bool
	stalled atomic.Bool // warned about a stale feed, not yet recovered
	wg      sync.WaitGroup
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewTracker creates a tracker that samples source every cfg.TickInterval
func NewTracker(cfg Config, orch *Orchestrator, source FrameSource, m *metrics.Metrics) *Tracker {
	interval := cfg.TickInterval
	if interval <= 0 {
		interval = DefaultConfig().TickInterval
	}
	return &Tracker{
		orch:     orch,
		source:   source,
		interval: interval,
		metrics:  m,
		logger:   log.Or(cfg.Logger, "tracker").With("room", orch.Session().RoomID),
	}
}

// Start launches the tick loop. Calling Start on a running tracker is a no-op.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})
	t.running = true
	go t.run(ctx, t.done)
}

// Stop halts the loop and waits for an in-flight tick to finish, so no
// event is recorded after Stop returns.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.cancel()
	done := t.done
	t.mu.Unlock()

	<-done
	t.wg.Wait()
}

// Running reports whether the loop is active
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Tracker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info("tracker started", "interval", t.interval)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("tracker stopped")
			return

		case <-ticker.C:
			t.fire(ctx)
		}
	}
}

// fire starts one tick unless the previous one is still running
func (t *Tracker) fire(ctx context.Context) {
	if !t.busy.CompareAndSwap(false, true) {
		t.metrics.TickSkipped()
		t.logger.Debug("tick skipped, previous still running")
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.busy.Store(false)
		// Cancellation stops scheduling, not a tick already underway.
		t.TickOnce(context.WithoutCancel(ctx))
	}()
}

// TickOnce samples the source and runs a single orchestrator tick
func (t *Tracker) TickOnce(ctx context.Context) {
	frame, err := t.source.Latest(ctx)
	switch {
	case errors.Is(err, ErrStaleFrame):
		if !t.stalled.Swap(true) {
			t.logger.Warn("candidate feed stalled, ticks paused until frames resume")
		}
		return
	case errors.Is(err, ErrNoFrame):
		return
	case err != nil:
		t.logger.Warn("frame source failed", "error", err)
		return
	}
	if t.stalled.Swap(false) {
		t.logger.Info("candidate feed resumed")
	}
	t.orch.Tick(ctx, frame)
}
