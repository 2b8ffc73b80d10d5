package sink

import (
	"context"

	"github.com/teslashibe/go-proctor/pkg/integrity"
	"github.com/teslashibe/go-proctor/pkg/store"
)

// StoreSink persists session records. Individual violations are not written;
// the full ordered log arrives with SessionEnded.
type StoreSink struct {
	store store.Store
}

// NewStoreSink wraps a record store
func NewStoreSink(s store.Store) *StoreSink {
	return &StoreSink{store: s}
}

func (s *StoreSink) Name() string { return "store" }

// SessionStarted saves the opening record so running sessions are listable
func (s *StoreSink) SessionStarted(ctx context.Context, rec integrity.SessionRecord) error {
	return s.store.Save(ctx, rec)
}

func (s *StoreSink) Violation(context.Context, ViolationNotice) error {
	return nil
}

// SessionEnded replaces the stored record with the final one
func (s *StoreSink) SessionEnded(ctx context.Context, rec integrity.SessionRecord) error {
	return s.store.Save(ctx, rec)
}
