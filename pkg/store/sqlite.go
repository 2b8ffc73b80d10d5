package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration

	"github.com/teslashibe/go-proctor/pkg/integrity"
)

// SQLiteStore implements Store on a SQLite database.
// Times are stored as Unix nanoseconds in UTC.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at dataSourceName.
// ":memory:" is accepted for tests.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	dbPath := dataSourceName
	if idx := strings.Index(dataSourceName, "?"); idx != -1 {
		dbPath = dataSourceName[:idx]
	}

	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("store: create database directory: %w", err)
			}
		}
	}

	// Busy timeout in milliseconds
	if !strings.Contains(dataSourceName, "_busy_timeout") {
		if strings.Contains(dataSourceName, "?") {
			dataSourceName += "&_busy_timeout=5000"
		} else {
			dataSourceName += "?_busy_timeout=5000"
		}
	}
	if !strings.Contains(dataSourceName, "_foreign_keys") {
		dataSourceName += "&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// One writer; also keeps an in-memory database alive across calls.
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create tables: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func createTables(db *sql.DB) error {
	createSessionsTable := `
    CREATE TABLE IF NOT EXISTS sessions (
        id TEXT PRIMARY KEY,
        room_id TEXT NOT NULL,
        candidate_name TEXT NOT NULL,
        start_time INTEGER NOT NULL,
        end_time INTEGER,
        integrity_score INTEGER NOT NULL,
        degraded INTEGER NOT NULL DEFAULT 0
    );
    CREATE INDEX IF NOT EXISTS idx_sessions_room ON sessions(room_id);
    CREATE INDEX IF NOT EXISTS idx_sessions_start ON sessions(start_time);
    `

	createViolationsTable := `
    CREATE TABLE IF NOT EXISTS violations (
        session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
        seq INTEGER NOT NULL,
        kind TEXT NOT NULL,
        timestamp INTEGER NOT NULL,
        confidence REAL NOT NULL,
        PRIMARY KEY (session_id, seq)
    );
    `

	if _, err := db.Exec(createSessionsTable); err != nil {
		return fmt.Errorf("sessions table: %w", err)
	}
	if _, err := db.Exec(createViolationsTable); err != nil {
		return fmt.Errorf("violations table: %w", err)
	}
	return nil
}

// Save upserts the session row and rewrites its violations in one transaction
func (s *SQLiteStore) Save(ctx context.Context, rec integrity.SessionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	var endTime sql.NullInt64
	if rec.EndTime != nil {
		endTime = sql.NullInt64{Int64: rec.EndTime.UnixNano(), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO sessions (id, room_id, candidate_name, start_time, end_time, integrity_score, degraded)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            room_id = excluded.room_id,
            candidate_name = excluded.candidate_name,
            start_time = excluded.start_time,
            end_time = excluded.end_time,
            integrity_score = excluded.integrity_score,
            degraded = excluded.degraded`,
		rec.ID, rec.RoomID, rec.CandidateName, rec.StartTime.UnixNano(), endTime, rec.IntegrityScore, rec.Degraded)
	if err != nil {
		return fmt.Errorf("store: upsert session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM violations WHERE session_id = ?", rec.ID); err != nil {
		return fmt.Errorf("store: clear violations: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO violations (session_id, seq, kind, timestamp, confidence) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("store: prepare: %w", err)
	}
	defer stmt.Close()

	for i, ev := range rec.Events {
		if _, err := stmt.ExecContext(ctx, rec.ID, i, string(ev.Kind), ev.Timestamp.UnixNano(), ev.Confidence); err != nil {
			return fmt.Errorf("store: insert violation %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// Get retrieves a record with its full event log
func (s *SQLiteStore) Get(ctx context.Context, id string) (integrity.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, room_id, candidate_name, start_time, end_time, integrity_score, degraded
        FROM sessions WHERE id = ?`, id)

	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return integrity.SessionRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return integrity.SessionRecord{}, fmt.Errorf("store: get %s: %w", id, err)
	}

	if rec.Events, err = s.events(ctx, id); err != nil {
		return integrity.SessionRecord{}, err
	}
	return rec, nil
}

// List returns records newest first, each with its event log
func (s *SQLiteStore) List(ctx context.Context, roomID string) ([]integrity.SessionRecord, error) {
	query := `SELECT id, room_id, candidate_name, start_time, end_time, integrity_score, degraded FROM sessions`
	var args []any
	if roomID != "" {
		query += " WHERE room_id = ?"
		args = append(args, roomID)
	}
	query += " ORDER BY start_time DESC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}

	var recs []integrity.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		recs = append(recs, rec)
	}
	// Close before issuing the per-session queries on the single connection
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}

	for i := range recs {
		if recs[i].Events, err = s.events(ctx, recs[i].ID); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

func (s *SQLiteStore) events(ctx context.Context, sessionID string) ([]integrity.ViolationEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT kind, timestamp, confidence FROM violations WHERE session_id = ? ORDER BY seq", sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: events of %s: %w", sessionID, err)
	}
	defer rows.Close()

	events := []integrity.ViolationEvent{}
	for rows.Next() {
		var (
			kind string
			ts   int64
			conf float64
		)
		if err := rows.Scan(&kind, &ts, &conf); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		events = append(events, integrity.ViolationEvent{
			Kind:       integrity.ViolationKind(kind),
			Timestamp:  time.Unix(0, ts).UTC(),
			Confidence: conf,
		})
	}
	return events, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (integrity.SessionRecord, error) {
	var (
		rec      integrity.SessionRecord
		start    int64
		end      sql.NullInt64
		degraded bool
	)
	if err := row.Scan(&rec.ID, &rec.RoomID, &rec.CandidateName, &start, &end, &rec.IntegrityScore, &degraded); err != nil {
		return integrity.SessionRecord{}, err
	}
	rec.StartTime = time.Unix(0, start).UTC()
	if end.Valid {
		t := time.Unix(0, end.Int64).UTC()
		rec.EndTime = &t
	}
	rec.Degraded = degraded
	return rec, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
