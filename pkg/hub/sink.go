package hub

import (
	"context"

	"github.com/teslashibe/go-proctor/pkg/integrity"
	"github.com/teslashibe/go-proctor/pkg/protocol"
	"github.com/teslashibe/go-proctor/pkg/sink"
)

// Sink broadcasts session events to the dashboards watching each room
type Sink struct {
	rooms *Rooms
}

var _ sink.EventSink = (*Sink)(nil)

// NewSink creates a dashboard sink over rooms
func NewSink(rooms *Rooms) *Sink {
	return &Sink{rooms: rooms}
}

func (s *Sink) Name() string { return "hub" }

func (s *Sink) SessionStarted(_ context.Context, rec integrity.SessionRecord) error {
	msg, err := protocol.NewSessionMessage(protocol.TypeSessionStart, rec)
	if err != nil {
		return err
	}
	return s.send(rec.RoomID, msg)
}

func (s *Sink) Violation(_ context.Context, n sink.ViolationNotice) error {
	msg, err := protocol.NewViolationMessage(n.RoomID, n.SessionID, n.Event, n.Score, n.Severity)
	if err != nil {
		return err
	}
	return s.send(n.RoomID, msg)
}

func (s *Sink) SessionEnded(_ context.Context, rec integrity.SessionRecord) error {
	msg, err := protocol.NewSessionMessage(protocol.TypeSessionEnd, rec)
	if err != nil {
		return err
	}
	return s.send(rec.RoomID, msg)
}

func (s *Sink) send(room string, msg *protocol.Message) error {
	m, err := NewEnvelope(msg)
	if err != nil {
		return err
	}
	s.rooms.Get(room).Broadcast(m)
	return nil
}
