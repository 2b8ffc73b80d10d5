// Package store persists finished (and running) session records.
package store

import (
	"context"
	"errors"
	"sort"

	"github.com/teslashibe/go-proctor/pkg/integrity"
)

// ErrNotFound is returned when no record has the requested ID
var ErrNotFound = errors.New("store: record not found")

// Store defines the interface for session record storage.
type Store interface {
	// Save creates a record, or replaces every field and the whole event
	// log of an existing record with the same ID.
	Save(ctx context.Context, rec integrity.SessionRecord) error

	// Get retrieves a record by ID
	Get(ctx context.Context, id string) (integrity.SessionRecord, error)

	// List returns records newest first. A non-empty roomID filters by room.
	List(ctx context.Context, roomID string) ([]integrity.SessionRecord, error)

	// Close releases the backing resources
	Close() error
}

// sortNewestFirst orders records by start time descending, ID breaking ties
func sortNewestFirst(recs []integrity.SessionRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].StartTime.Equal(recs[j].StartTime) {
			return recs[i].StartTime.After(recs[j].StartTime)
		}
		return recs[i].ID < recs[j].ID
	})
}
