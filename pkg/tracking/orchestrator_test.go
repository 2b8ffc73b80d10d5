package tracking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-proctor/internal/log"
	"github.com/teslashibe/go-proctor/pkg/integrity"
	"github.com/teslashibe/go-proctor/pkg/sink"
)

// recordingSink captures violation notices
type recordingSink struct {
	mu      sync.Mutex
	notices []sink.ViolationNotice
	err     error
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) SessionStarted(context.Context, integrity.SessionRecord) error {
	return nil
}

func (r *recordingSink) Violation(_ context.Context, n sink.ViolationNotice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	return r.err
}

func (r *recordingSink) SessionEnded(context.Context, integrity.SessionRecord) error {
	return nil
}

func (r *recordingSink) all() []sink.ViolationNotice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sink.ViolationNotice(nil), r.notices...)
}

// scripted returns one observation per call, repeating the last one
func scripted(obs ...Observation) PerceptionPort {
	var i int
	return PerceptionFunc(func(context.Context, Frame) (Observation, error) {
		o := obs[i]
		if i < len(obs)-1 {
			i++
		}
		return o, nil
	})
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Logger = log.Discard()
	return cfg
}

func newTestOrchestrator(p PerceptionPort, opts ...OrchestratorOption) (*Orchestrator, *integrity.Session) {
	sess := integrity.NewSession("s-1", "room-1", "Ada", t0)
	return NewOrchestrator(testConfig(), p, sess, opts...), sess
}

func frameAt(d time.Duration) Frame {
	return Frame{RoomID: "room-1", Width: testWidth, Height: testHeight, CapturedAt: at(d)}
}

// tickAt runs one tick with the orchestrator clock at t0+d. The frame keeps
// a fixed client timestamp.
func tickAt(orch *Orchestrator, d time.Duration) []integrity.ViolationEvent {
	now := at(d)
	orch.clock = func() time.Time { return now }
	return orch.Tick(context.Background(), frameAt(0))
}

func TestOrchestrator_FocusLostScoresAndForwards(t *testing.T) {
	rec := &recordingSink{}
	orch, sess := newTestOrchestrator(scripted(Observation{
		Faces: offCenter(), FrameWidth: testWidth, FrameHeight: testHeight,
	}), WithSink(rec))

	var events []integrity.ViolationEvent
	for i := 0; i < 4; i++ {
		events = append(events, tickAt(orch, time.Duration(i)*2*time.Second)...)
	}

	if len(events) != 1 || events[0].Kind != integrity.FocusLost {
		t.Fatalf("events = %+v, want one FOCUS_LOST", events)
	}
	if sess.Score() != 95 {
		t.Errorf("score = %d, want 95", sess.Score())
	}

	notices := rec.all()
	if len(notices) != 1 {
		t.Fatalf("sink got %d notices, want 1", len(notices))
	}
	n := notices[0]
	if n.SessionID != "s-1" || n.RoomID != "room-1" || n.Score != 95 || n.Severity != integrity.SeverityExcellent {
		t.Errorf("notice = %+v", n)
	}
}

func TestOrchestrator_NoFaceScenario(t *testing.T) {
	orch, sess := newTestOrchestrator(scripted(Observation{FrameWidth: testWidth, FrameHeight: testHeight}))

	for i := 0; i < 6; i++ {
		events := tickAt(orch, time.Duration(i)*2*time.Second)
		if i < 5 && len(events) != 0 {
			t.Fatalf("tick %d: unexpected events %+v", i+1, events)
		}
		if i == 5 && (len(events) != 1 || events[0].Kind != integrity.NoFace) {
			t.Fatalf("tick 6: events = %+v, want one NO_FACE", events)
		}
	}
	if sess.Score() != 90 {
		t.Errorf("score = %d, want 90", sess.Score())
	}
}

func TestOrchestrator_EventOrder(t *testing.T) {
	orch, sess := newTestOrchestrator(scripted(Observation{
		Faces:      []FaceObservation{face(100), face(500)},
		Objects:    []ObjectObservation{{Label: "cell phone", Confidence: 0.87}, {Label: "book", Confidence: 0.6}},
		FrameWidth: testWidth, FrameHeight: testHeight,
	}))

	events := tickAt(orch, 0)

	want := []integrity.ViolationKind{integrity.MultipleFaces, integrity.PhoneDetected, integrity.BookDetected}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, k := range want {
		if events[i].Kind != k {
			t.Errorf("event %d = %s, want %s", i, events[i].Kind, k)
		}
	}
	// 100 - 15 - 20 - 15
	if sess.Score() != 50 {
		t.Errorf("score = %d, want 50", sess.Score())
	}

	snap := integrity.NewAggregator(sess).Snapshot()
	if snap.TotalEvents != 3 || len(snap.Events) != 3 {
		t.Errorf("snapshot totals = %d/%d, want 3", snap.TotalEvents, len(snap.Events))
	}
}

func TestOrchestrator_PerceptionFailureSkipsTick(t *testing.T) {
	calls := 0
	failing := PerceptionFunc(func(context.Context, Frame) (Observation, error) {
		calls++
		if calls == 2 {
			return Observation{}, errors.New("model crashed")
		}
		return Observation{FrameWidth: testWidth, FrameHeight: testHeight}, nil
	})
	orch, sess := newTestOrchestrator(failing)

	tickAt(orch, 0)
	before := orch.presence.State()

	if events := tickAt(orch, 2*time.Second); events != nil {
		t.Errorf("failed tick returned %+v", events)
	}
	if orch.presence.State() != before {
		t.Error("failed tick must not touch tracker state")
	}
	if sess.Score() != integrity.MaxScore {
		t.Errorf("score = %d, want %d", sess.Score(), integrity.MaxScore)
	}
}

func TestOrchestrator_DegradedObservationIsIgnored(t *testing.T) {
	orch, sess := newTestOrchestrator(NullPerception{})

	for i := 0; i < 20; i++ {
		if events := tickAt(orch, time.Duration(i)*2*time.Second); len(events) != 0 {
			t.Fatalf("degraded perception produced %+v", events)
		}
	}
	if sess.Score() != integrity.MaxScore {
		t.Errorf("score = %d, want %d", sess.Score(), integrity.MaxScore)
	}
	if orch.presence.State().ConditionActive {
		t.Error("degraded ticks must not start the absence countdown")
	}
}

func TestOrchestrator_SinkErrorIsNotFatal(t *testing.T) {
	rec := &recordingSink{err: errors.New("broker down")}
	orch, sess := newTestOrchestrator(scripted(Observation{
		Objects: []ObjectObservation{{Label: "cell phone", Confidence: 0.9}},
	}), WithSink(rec))

	events := tickAt(orch, 0)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if sess.Score() != 80 {
		t.Errorf("score = %d, want 80", sess.Score())
	}
}

func TestOrchestrator_EventTimeIsTickTime(t *testing.T) {
	fixed := at(42 * time.Second)
	orch, _ := newTestOrchestrator(scripted(Observation{
		Objects: []ObjectObservation{{Label: "book", Confidence: 0.7}},
	}), WithClock(func() time.Time { return fixed }))

	events := orch.Tick(context.Background(), Frame{RoomID: "room-1", CapturedAt: at(-time.Hour)})
	if len(events) != 1 || !events[0].Timestamp.Equal(fixed) {
		t.Errorf("events = %+v, want timestamp %v", events, fixed)
	}
}

func TestOrchestrator_ThresholdsIgnoreClientClock(t *testing.T) {
	tests := []struct {
		name       string
		capturedAt func(tick int) time.Time
	}{
		{"frozen", func(int) time.Time { return at(0) }},
		{"rewinding", func(tick int) time.Time { return at(-time.Duration(tick) * time.Second) }},
		{"unset", func(int) time.Time { return time.Time{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var now time.Time
			orch, sess := newTestOrchestrator(
				scripted(Observation{FrameWidth: testWidth, FrameHeight: testHeight}),
				WithClock(func() time.Time { return now }),
			)

			// 30 absent ticks, 2s apart on the server clock: countdown starts
			// at 0s, NO_FACE at 10, 20, 30, 40 and 50s.
			noFace := 0
			for i := 0; i < 30; i++ {
				now = at(time.Duration(i) * 2 * time.Second)
				frame := Frame{RoomID: "room-1", Width: testWidth, Height: testHeight, CapturedAt: tt.capturedAt(i)}
				for _, ev := range orch.Tick(context.Background(), frame) {
					if ev.Kind == integrity.NoFace {
						noFace++
					}
				}
			}

			if noFace != 5 {
				t.Errorf("NO_FACE events = %d, want 5", noFace)
			}
			if sess.Score() != 50 {
				t.Errorf("score = %d, want 50", sess.Score())
			}
		})
	}
}

func TestTracker_TickOnceNoFrame(t *testing.T) {
	var perceived atomic.Int32
	p := PerceptionFunc(func(context.Context, Frame) (Observation, error) {
		perceived.Add(1)
		return Observation{}, nil
	})
	orch, _ := newTestOrchestrator(p)
	src := FrameSourceFunc(func(context.Context) (Frame, error) {
		return Frame{}, ErrNoFrame
	})

	tr := NewTracker(testConfig(), orch, src, nil)
	tr.TickOnce(context.Background())

	if perceived.Load() != 0 {
		t.Error("perception should not run without a frame")
	}
}

func TestTracker_StaleFeedPausesTicks(t *testing.T) {
	var perceived atomic.Int32
	p := PerceptionFunc(func(context.Context, Frame) (Observation, error) {
		perceived.Add(1)
		return Observation{Faces: centered(), FrameWidth: testWidth, FrameHeight: testHeight}, nil
	})
	orch, _ := newTestOrchestrator(p)

	stale := true
	src := FrameSourceFunc(func(context.Context) (Frame, error) {
		if stale {
			return Frame{}, ErrStaleFrame
		}
		return frameAt(0), nil
	})
	tr := NewTracker(testConfig(), orch, src, nil)

	tr.TickOnce(context.Background())
	tr.TickOnce(context.Background())
	if perceived.Load() != 0 {
		t.Error("perception should not run on a stale feed")
	}
	if !tr.stalled.Load() {
		t.Error("stale feed should be flagged")
	}

	stale = false
	tr.TickOnce(context.Background())
	if perceived.Load() != 1 {
		t.Errorf("perception calls = %d, want 1 after the feed resumes", perceived.Load())
	}
	if tr.stalled.Load() {
		t.Error("stale flag should clear once frames resume")
	}
}

func TestTracker_SkipsWhileBusyAndStopWaits(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var calls atomic.Int32

	slow := PerceptionFunc(func(ctx context.Context, _ Frame) (Observation, error) {
		calls.Add(1)
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return Observation{Faces: centered(), FrameWidth: testWidth, FrameHeight: testHeight}, nil
	})
	orch, _ := newTestOrchestrator(slow)
	src := FrameSourceFunc(func(context.Context) (Frame, error) {
		return frameAt(0), nil
	})

	cfg := testConfig()
	cfg.TickInterval = 5 * time.Millisecond
	tr := NewTracker(cfg, orch, src, nil)
	tr.Start(context.Background())

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("tick never started")
	}

	// Several timer fires pass while the first tick is blocked.
	time.Sleep(50 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("perception calls = %d, want 1 while busy", n)
	}

	stopped := make(chan struct{})
	go func() {
		tr.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a tick was in flight")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the tick finished")
	}
	if tr.Running() {
		t.Error("tracker still reports running")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("perception calls = %d after stop, want 1", n)
	}
}

func TestTracker_StartStopIdempotent(t *testing.T) {
	orch, _ := newTestOrchestrator(NullPerception{})
	src := FrameSourceFunc(func(context.Context) (Frame, error) {
		return Frame{}, ErrNoFrame
	})

	tr := NewTracker(testConfig(), orch, src, nil)
	tr.Stop() // not started

	tr.Start(context.Background())
	tr.Start(context.Background())
	if !tr.Running() {
		t.Fatal("tracker should be running")
	}
	tr.Stop()
	tr.Stop()
	if tr.Running() {
		t.Error("tracker should be stopped")
	}
}
