package web

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-proctor/pkg/hub"
	"github.com/teslashibe/go-proctor/pkg/integrity"
	"github.com/teslashibe/go-proctor/pkg/proctor"
	"github.com/teslashibe/go-proctor/pkg/protocol"
	"github.com/teslashibe/go-proctor/pkg/store"
	"github.com/teslashibe/go-proctor/pkg/tracking"
)

// StartSessionRequest is the request body for starting a session
type StartSessionRequest struct {
	RoomID        string `json:"room_id"`
	CandidateName string `json:"candidate_name"`
}

// EndSessionResponse is returned when a session ends
type EndSessionResponse struct {
	Record integrity.SessionRecord `json:"record"`
	Report integrity.Report        `json:"report"`
}

// errorStatus maps domain errors to HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, proctor.ErrInvalidRoom):
		return fiber.StatusBadRequest
	case errors.Is(err, proctor.ErrSessionNotFound), errors.Is(err, store.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, proctor.ErrSessionExists):
		return fiber.StatusConflict
	case errors.Is(err, proctor.ErrPerceptionUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func fail(c *fiber.Ctx, err error) error {
	return c.Status(errorStatus(err)).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// handleStartSession opens a session in a room
func (s *Server) handleStartSession(c *fiber.Ctx) error {
	var req StartSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	snap, err := s.manager.Start(c.UserContext(), req.RoomID, strings.TrimSpace(req.CandidateName))
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(snap)
}

// handleListSessions returns the running sessions
func (s *Server) handleListSessions(c *fiber.Ctx) error {
	sessions := s.manager.List()
	return c.JSON(fiber.Map{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleGetSession returns the live snapshot of a room
func (s *Server) handleGetSession(c *fiber.Ctx) error {
	snap, err := s.manager.Snapshot(c.Params("room"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(snap)
}

// handleGetReport returns the report summary of a running session
func (s *Server) handleGetReport(c *fiber.Ctx) error {
	report, err := s.manager.Report(c.Params("room"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(report)
}

// handleEndSession ends a session and returns its final record
func (s *Server) handleEndSession(c *fiber.Ctx) error {
	snap, err := s.manager.End(c.UserContext(), c.Params("room"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(EndSessionResponse{
		Record: snap.Record(),
		Report: snap.Report(),
	})
}

// handlePushFrame stores a raw JPEG body as the room's newest frame.
// Optional query parameters: width, height, captured_at (Unix ms).
func (s *Server) handlePushFrame(c *fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "empty frame",
		})
	}

	frame := tracking.Frame{
		RoomID: c.Params("room"),
		Data:   append([]byte(nil), body...), // fiber reuses the body buffer
		Width:  c.QueryInt("width"),
		Height: c.QueryInt("height"),
	}
	if ms := c.Query("captured_at"); ms != "" {
		v, err := strconv.ParseInt(ms, 10, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "captured_at must be Unix milliseconds",
			})
		}
		frame.CapturedAt = time.UnixMilli(v)
	}

	if err := s.manager.PushFrame(frame); err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "queued",
	})
}

// handleListRecords returns stored sessions, optionally filtered by ?room=
func (s *Server) handleListRecords(c *fiber.Ctx) error {
	if s.records == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "persistence disabled",
		})
	}

	recs, err := s.records.List(c.UserContext(), c.Query("room"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"records": recs,
		"count":   len(recs),
	})
}

// handleGetRecord returns one stored session with its report
func (s *Server) handleGetRecord(c *fiber.Ctx) error {
	if s.records == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "persistence disabled",
		})
	}

	rec, err := s.records.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(rec)
}

func (s *Server) handleGetTuning(c *fiber.Ctx) error {
	return c.JSON(s.manager.Tuning())
}

// handleSetTuning adjusts thresholds for sessions started afterwards. Zero
// fields are left unchanged and the rest are clamped to valid ranges.
func (s *Server) handleSetTuning(c *fiber.Ctx) error {
	var t tracking.Tuning
	if err := c.BodyParser(&t); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	return c.JSON(s.manager.SetTuning(t))
}

// handleHealth reports liveness and connection counts
func (s *Server) handleHealth(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status":     "ok",
		"version":    Version,
		"sessions":   s.manager.Active(),
		"candidates": s.ingest.CandidateCount(),
	}
	if s.rooms != nil {
		resp["dashboards"] = s.rooms.ClientCount()
	}
	return c.JSON(resp)
}

// handleEventsWS streams a room's events to a dashboard. The current state
// of a running session is sent first.
func (s *Server) handleEventsWS(c *websocket.Conn) {
	room := c.Params("room")
	client := hub.NewClient(s.rooms.Get(room), c)

	if snap, err := s.manager.Snapshot(room); err == nil {
		if msg, err := protocol.NewSessionMessage(protocol.TypeSessionStart, snap.Record()); err == nil {
			if data, err := msg.Bytes(); err == nil {
				c.WriteMessage(websocket.TextMessage, data)
			}
		}
	}

	client.Run()
}
