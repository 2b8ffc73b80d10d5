// Package ingest accepts candidate webcam frames over WebSocket
package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-proctor/internal/log"
	"github.com/teslashibe/go-proctor/pkg/metrics"
	"github.com/teslashibe/go-proctor/pkg/protocol"
	"github.com/teslashibe/go-proctor/pkg/tracking"
)

// ErrRoomBusy is sent when a second candidate connects to an occupied room
var ErrRoomBusy = errors.New("ingest: room already has a candidate connected")

// FrameHandler receives every decoded frame. A returned error is reported
// back to the candidate; the connection stays open.
type FrameHandler func(frame tracking.Frame) error

// Candidate represents a connected candidate client
type Candidate struct {
	Room      string
	Conn      *websocket.Conn
	Connected time.Time
	LastSeen  time.Time
	Frames    uint64

	mu sync.Mutex
}

// Send sends a message to the candidate
func (c *Candidate) Send(msg *protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Candidate) touch(frame bool) {
	c.mu.Lock()
	c.LastSeen = time.Now()
	if frame {
		c.Frames++
	}
	c.mu.Unlock()
}

// Hub manages WebSocket connections from candidates, one per room
type Hub struct {
	mu         sync.RWMutex
	candidates map[string]*Candidate
	logger     *slog.Logger
	metrics    *metrics.Metrics

	onFrame FrameHandler

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	framesReceived   atomic.Uint64
	framesRejected   atomic.Uint64
}

// NewHub creates a new candidate hub
func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		candidates: make(map[string]*Candidate),
		logger:     log.Or(logger, "ingest"),
		metrics:    m,
	}
}

// OnFrame sets the callback for incoming frames
func (h *Hub) OnFrame(handler FrameHandler) {
	h.mu.Lock()
	h.onFrame = handler
	h.mu.Unlock()
}

// RegisterRoutes registers the candidate WebSocket route
func (h *Hub) RegisterRoutes(router fiber.Router) {
	// WebSocket upgrade middleware
	router.Use("/ws/candidate", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/ws/candidate/:room", websocket.New(h.handleCandidate))
}

// handleCandidate handles a candidate WebSocket connection
func (h *Hub) handleCandidate(c *websocket.Conn) {
	room := c.Params("room")
	candidate := &Candidate{
		Room:      room,
		Conn:      c,
		Connected: time.Now(),
		LastSeen:  time.Now(),
	}

	if !h.add(candidate) {
		h.logger.Warn("rejected second candidate", "room", room)
		if msg, err := protocol.NewErrorMessage(ErrRoomBusy.Error()); err == nil {
			candidate.Send(msg)
		}
		return
	}

	logger := h.logger.With("room", room)
	logger.Info("candidate connected", "candidates", h.CandidateCount())

	defer func() {
		h.mu.Lock()
		delete(h.candidates, room)
		count := len(h.candidates)
		h.mu.Unlock()
		logger.Info("candidate disconnected", "candidates", count)
	}()

	// Read loop
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			logger.Debug("read ended", "error", err)
			return
		}

		h.messagesReceived.Add(1)
		h.handleMessage(candidate, data)
	}
}

func (h *Hub) add(c *Candidate) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.candidates[c.Room]; ok {
		return false
	}
	h.candidates[c.Room] = c
	return true
}

// handleMessage processes an incoming message from a candidate
func (h *Hub) handleMessage(c *Candidate, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		h.logger.Debug("parse error", "room", c.Room, "error", err)
		h.reply(c, errorMessage(err))
		return
	}

	switch msg.Type {
	case protocol.TypeFrame:
		c.touch(true)
		if err := h.handleFrame(c.Room, msg); err != nil {
			h.framesRejected.Add(1)
			h.reply(c, errorMessage(err))
		}

	case protocol.TypePing:
		c.touch(false)
		ping, _ := msg.GetPingData()
		id := ""
		if ping != nil {
			id = ping.ID
		}
		pong, err := protocol.NewPongMessage(id, msg.Timestamp, time.Now().UnixMilli())
		if err == nil {
			h.reply(c, pong)
		}

	default:
		c.touch(false)
		h.logger.Debug("ignoring message", "room", c.Room, "type", msg.Type)
	}
}

func (h *Hub) handleFrame(room string, msg *protocol.Message) error {
	fd, err := msg.GetFrameData()
	if err != nil {
		return fmt.Errorf("bad frame: %w", err)
	}
	jpeg, err := fd.DecodeFrameData()
	if err != nil {
		return fmt.Errorf("bad frame data: %w", err)
	}
	if len(jpeg) == 0 {
		return errors.New("empty frame")
	}

	h.framesReceived.Add(1)
	h.metrics.FrameReceived()

	h.mu.RLock()
	handler := h.onFrame
	h.mu.RUnlock()
	if handler == nil {
		return nil
	}

	return handler(tracking.Frame{
		RoomID:     room,
		Data:       jpeg,
		Width:      fd.Width,
		Height:     fd.Height,
		CapturedAt: fd.CapturedTime(),
	})
}

func (h *Hub) reply(c *Candidate, msg *protocol.Message) {
	if msg == nil {
		return
	}
	h.messagesSent.Add(1)
	if err := c.Send(msg); err != nil {
		h.logger.Debug("send failed", "room", c.Room, "error", err)
	}
}

func errorMessage(err error) *protocol.Message {
	msg, _ := protocol.NewErrorMessage(err.Error())
	return msg
}

// Send sends a message to the candidate in room
func (h *Hub) Send(room string, msg *protocol.Message) error {
	h.mu.RLock()
	c, ok := h.candidates[room]
	h.mu.RUnlock()

	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "candidate not connected")
	}

	h.messagesSent.Add(1)
	return c.Send(msg)
}

// Candidate returns the connection for room, or nil
func (h *Hub) Candidate(room string) *Candidate {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.candidates[room]
}

// CandidateCount returns the number of connected candidates
func (h *Hub) CandidateCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.candidates)
}

// Stats contains hub statistics
type Stats struct {
	CandidateCount   int    `json:"candidate_count"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	FramesReceived   uint64 `json:"frames_received"`
	FramesRejected   uint64 `json:"frames_rejected"`
}

// GetStats returns hub statistics
func (h *Hub) GetStats() Stats {
	return Stats{
		CandidateCount:   h.CandidateCount(),
		MessagesReceived: h.messagesReceived.Load(),
		MessagesSent:     h.messagesSent.Load(),
		FramesReceived:   h.framesReceived.Load(),
		FramesRejected:   h.framesRejected.Load(),
	}
}

// CandidateInfo contains info about a connected candidate
type CandidateInfo struct {
	Room      string    `json:"room"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
	Frames    uint64    `json:"frames"`
}

// GetCandidateInfos returns info about all connected candidates
func (h *Hub) GetCandidateInfos() []CandidateInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]CandidateInfo, 0, len(h.candidates))
	for _, c := range h.candidates {
		c.mu.Lock()
		infos = append(infos, CandidateInfo{
			Room:      c.Room,
			Connected: c.Connected,
			LastSeen:  c.LastSeen,
			Frames:    c.Frames,
		})
		c.mu.Unlock()
	}
	return infos
}

// RegisterAPIRoutes registers candidate listing routes
func (h *Hub) RegisterAPIRoutes(api fiber.Router) {
	candidates := api.Group("/candidates")

	candidates.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"candidates": h.GetCandidateInfos(),
			"count":      h.CandidateCount(),
		})
	})

	candidates.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(h.GetStats())
	})
}
