package hub

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/teslashibe/go-proctor/internal/log"
)

// Rooms lazily creates one Hub per proctoring room. Every hub runs until
// the context given to NewRooms is cancelled.
type Rooms struct {
	ctx    context.Context
	logger *slog.Logger

	mu   sync.Mutex
	hubs map[string]*Hub
}

// NewRooms creates an empty room registry
func NewRooms(ctx context.Context, logger *slog.Logger) *Rooms {
	return &Rooms{
		ctx:    ctx,
		logger: log.Or(logger, "rooms"),
		hubs:   make(map[string]*Hub),
	}
}

// Get returns the hub for room, starting it on first use
func (r *Rooms) Get(room string) *Hub {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.hubs[room]; ok {
		return h
	}
	h := New(room, r.logger)
	r.hubs[room] = h
	go h.Run(r.ctx)
	return h
}

// Lookup returns the hub for room without creating one
func (r *Rooms) Lookup(room string) (*Hub, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hubs[room]
	return h, ok
}

// Names returns the rooms that have a hub, sorted
func (r *Rooms) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.hubs))
	for name := range r.hubs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ClientCount returns the number of dashboards across all rooms
func (r *Rooms) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, h := range r.hubs {
		total += h.ClientCount()
	}
	return total
}
