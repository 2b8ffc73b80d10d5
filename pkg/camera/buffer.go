package camera

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/go-proctor/pkg/tracking"
)

// ErrNoFrame means nothing usable has been captured yet
var ErrNoFrame = tracking.ErrNoFrame

// ErrStaleFrame means the newest frame is older than the buffer's max age
var ErrStaleFrame = tracking.ErrStaleFrame

// Buffer keeps only the most recent frame of one room.
// Producers overwrite it; the tracker samples it once per tick.
type Buffer struct {
	roomID string
	maxAge time.Duration // 0 = frames never go stale
	clock  func() time.Time

	mu       sync.RWMutex
	frame    tracking.Frame
	received time.Time // server receipt time; staleness is judged on this
	has      bool
	count    uint64
}

// NewBuffer creates a frame buffer. Frames received more than maxAge ago are
// treated as missing so a frozen feed does not keep being scored.
func NewBuffer(roomID string, maxAge time.Duration) *Buffer {
	return &Buffer{roomID: roomID, maxAge: maxAge, clock: time.Now}
}

// Put stores a JPEG frame. capturedAt is the client's clock and is kept for
// information only; a zero value is stamped with the receipt time.
func (b *Buffer) Put(jpeg []byte, width, height int, capturedAt time.Time) {
	received := b.clock()
	if capturedAt.IsZero() {
		capturedAt = received
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frame = tracking.Frame{
		RoomID:     b.roomID,
		Data:       jpeg,
		Width:      width,
		Height:     height,
		CapturedAt: capturedAt,
	}
	b.received = received
	b.has = true
	b.count++
}

// Latest returns the newest frame, or ErrNoFrame
func (b *Buffer) Latest(ctx context.Context) (tracking.Frame, error) {
	if err := ctx.Err(); err != nil {
		return tracking.Frame{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.has {
		return tracking.Frame{}, ErrNoFrame
	}
	if b.maxAge > 0 && b.clock().Sub(b.received) > b.maxAge {
		return tracking.Frame{}, ErrStaleFrame
	}
	return b.frame, nil
}

// Count returns how many frames have been stored
func (b *Buffer) Count() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}
