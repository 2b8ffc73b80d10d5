package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/go-proctor/pkg/integrity"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

// backends returns a fresh instance of every Store implementation.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	sqlite, err := NewSQLiteStore(filepath.Join(dir, "proctor.db"))
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	js, err := NewJSONStore(filepath.Join(dir, "sessions.json"))
	if err != nil {
		t.Fatalf("failed to create json store: %v", err)
	}

	return map[string]Store{"sqlite": sqlite, "json": js}
}

func record(id, room string, start time.Time, events ...integrity.ViolationKind) integrity.SessionRecord {
	rec := integrity.SessionRecord{
		ID:             id,
		RoomID:         room,
		CandidateName:  "Ada",
		StartTime:      start,
		IntegrityScore: 100,
		Events:         []integrity.ViolationEvent{},
	}
	for i, k := range events {
		rec.Events = append(rec.Events, integrity.NewEvent(k, start.Add(time.Duration(i)*2*time.Second), 0.9))
	}
	return rec
}

func TestStore_SaveAndGet(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			end := t0.Add(31 * time.Minute)
			rec := record("s-1", "room-1", t0, integrity.NoFace, integrity.PhoneDetected, integrity.NoFace)
			rec.EndTime = &end
			rec.IntegrityScore = 60
			rec.Degraded = true

			if err := s.Save(ctx, rec); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			got, err := s.Get(ctx, "s-1")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got.RoomID != "room-1" || got.CandidateName != "Ada" || got.IntegrityScore != 60 || !got.Degraded {
				t.Errorf("got %+v", got)
			}
			if !got.StartTime.Equal(t0) {
				t.Errorf("StartTime = %v, want %v", got.StartTime, t0)
			}
			if got.EndTime == nil || !got.EndTime.Equal(end) {
				t.Errorf("EndTime = %v, want %v", got.EndTime, end)
			}
			if len(got.Events) != 3 {
				t.Fatalf("events = %d, want 3", len(got.Events))
			}
			for i, want := range rec.Events {
				ev := got.Events[i]
				if ev.Kind != want.Kind || !ev.Timestamp.Equal(want.Timestamp) || ev.Confidence != want.Confidence {
					t.Errorf("event %d = %+v, want %+v", i, ev, want)
				}
			}
		})
	}
}

func TestStore_SaveReplacesPriorRecord(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first := record("s-1", "room-1", t0, integrity.NoFace, integrity.NoFace, integrity.BookDetected)
			if err := s.Save(ctx, first); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			second := record("s-1", "room-2", t0, integrity.FocusLost)
			second.CandidateName = "Grace"
			second.IntegrityScore = 95
			if err := s.Save(ctx, second); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			got, err := s.Get(ctx, "s-1")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got.RoomID != "room-2" || got.CandidateName != "Grace" || got.IntegrityScore != 95 {
				t.Errorf("fields not replaced: %+v", got)
			}
			if len(got.Events) != 1 || got.Events[0].Kind != integrity.FocusLost {
				t.Errorf("events not replaced: %+v", got.Events)
			}
			if got.EndTime != nil {
				t.Errorf("EndTime = %v, want nil", got.EndTime)
			}
		})
	}
}

func TestStore_GetNotFound(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), "missing")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for _, rec := range []integrity.SessionRecord{
				record("a", "room-1", t0),
				record("b", "room-2", t0.Add(time.Hour), integrity.MultipleFaces),
				record("c", "room-1", t0.Add(2*time.Hour)),
			} {
				if err := s.Save(ctx, rec); err != nil {
					t.Fatalf("Save failed: %v", err)
				}
			}

			all, err := s.List(ctx, "")
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if ids := idsOf(all); ids != "c,b,a" {
				t.Errorf("List order = %s, want c,b,a", ids)
			}
			if len(all[1].Events) != 1 {
				t.Errorf("List should include events, got %d", len(all[1].Events))
			}

			room1, err := s.List(ctx, "room-1")
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if ids := idsOf(room1); ids != "c,a" {
				t.Errorf("List(room-1) = %s, want c,a", ids)
			}

			none, err := s.List(ctx, "room-9")
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(none) != 0 {
				t.Errorf("List(room-9) = %d records, want 0", len(none))
			}
		})
	}
}

func TestJSONStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.json")

	s, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := s.Save(context.Background(), record("s-1", "room-1", t0, integrity.PhoneDetected)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reopened, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	if reopened.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", reopened.Count())
	}
	got, err := reopened.Get(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Events) != 1 || got.Events[0].Kind != integrity.PhoneDetected {
		t.Errorf("events = %+v", got.Events)
	}
}

func TestJSONStore_GeneratesID(t *testing.T) {
	s, err := NewJSONStore(filepath.Join(t.TempDir(), "sessions.json"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if err := s.Save(context.Background(), record("", "room-1", t0)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	recs, _ := s.List(context.Background(), "")
	if len(recs) != 1 || recs[0].ID == "" {
		t.Errorf("expected a generated ID, got %+v", recs)
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proctor.db")

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := s.Save(context.Background(), record("s-1", "room-1", t0, integrity.NotesDetected)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	s.Close()

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Events) != 1 || got.Events[0].Kind != integrity.NotesDetected {
		t.Errorf("events = %+v", got.Events)
	}
}

func idsOf(recs []integrity.SessionRecord) string {
	out := ""
	for i, r := range recs {
		if i > 0 {
			out += ","
		}
		out += r.ID
	}
	return out
}
