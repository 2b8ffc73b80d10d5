package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teslashibe/go-proctor/pkg/integrity"
)

// JSONStore implements Store using a JSON file for persistence.
// Suited to single-node deployments and local development.
type JSONStore struct {
	path    string
	records map[string]integrity.SessionRecord
	mu      sync.RWMutex
}

var _ Store = (*JSONStore)(nil)

// storeData is the JSON structure for the store file.
type storeData struct {
	Version   int                       `json:"version"`
	UpdatedAt string                    `json:"updated_at"`
	Sessions  []integrity.SessionRecord `json:"sessions"`
}

const currentVersion = 1

// NewJSONStore creates a new JSON-based store at the given path.
// If the file doesn't exist, it will be created on first save.
func NewJSONStore(path string) (*JSONStore, error) {
	store := &JSONStore{
		path:    path,
		records: make(map[string]integrity.SessionRecord),
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := store.load(); err != nil {
			return nil, fmt.Errorf("failed to load store: %w", err)
		}
	}

	return store, nil
}

// load reads the store from disk.
func (s *JSONStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var stored storeData
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}

	s.records = make(map[string]integrity.SessionRecord, len(stored.Sessions))
	for _, rec := range stored.Sessions {
		s.records[rec.ID] = rec
	}

	return nil
}

// save writes the store to disk. Caller holds the write lock.
func (s *JSONStore) save() error {
	recs := make([]integrity.SessionRecord, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	sortNewestFirst(recs)

	stored := storeData{
		Version:   currentVersion,
		UpdatedAt: time.Now().Format(time.RFC3339),
		Sessions:  recs,
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	// Write to temp file first, then rename (atomic write)
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Save creates or replaces a record. A record without an ID gets a new UUID.
func (s *JSONStore) Save(ctx context.Context, rec integrity.SessionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.Events = append([]integrity.ViolationEvent{}, rec.Events...)

	prev, existed := s.records[rec.ID]
	s.records[rec.ID] = rec
	if err := s.save(); err != nil {
		if existed {
			s.records[rec.ID] = prev
		} else {
			delete(s.records, rec.ID)
		}
		return err
	}
	return nil
}

// Get retrieves a record by ID
func (s *JSONStore) Get(ctx context.Context, id string) (integrity.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return integrity.SessionRecord{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return integrity.SessionRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rec.Events = append([]integrity.ViolationEvent{}, rec.Events...)
	return rec, nil
}

// List returns records newest first
func (s *JSONStore) List(ctx context.Context, roomID string) ([]integrity.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := make([]integrity.SessionRecord, 0, len(s.records))
	for _, rec := range s.records {
		if roomID != "" && rec.RoomID != roomID {
			continue
		}
		rec.Events = append([]integrity.ViolationEvent{}, rec.Events...)
		recs = append(recs, rec)
	}
	sortNewestFirst(recs)
	return recs, nil
}

// Count returns the total number of records
func (s *JSONStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Path returns the file path of the store.
func (s *JSONStore) Path() string {
	return s.path
}

// Close is a no-op; every Save is already on disk.
func (s *JSONStore) Close() error {
	return nil
}
