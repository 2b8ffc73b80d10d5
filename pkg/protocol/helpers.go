package protocol

import (
	"encoding/base64"
	"time"

	"github.com/teslashibe/go-proctor/pkg/integrity"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewFrameMessage creates a frame message from raw JPEG data
func NewFrameMessage(width, height int, jpegData []byte, frameID uint64, capturedAt time.Time) (*Message, error) {
	return NewMessage(TypeFrame, FrameData{
		Width:      width,
		Height:     height,
		Format:     "jpeg",
		Data:       base64.StdEncoding.EncodeToString(jpegData),
		FrameID:    frameID,
		CapturedAt: unixMilli(capturedAt),
	})
}

// NewViolationMessage creates a violation message for room
func NewViolationMessage(room, sessionID string, ev integrity.ViolationEvent, score int, severity integrity.Severity) (*Message, error) {
	msg, err := NewMessage(TypeViolation, ViolationData{
		SessionID:      sessionID,
		Kind:           string(ev.Kind),
		Timestamp:      unixMilli(ev.Timestamp),
		Confidence:     ev.Confidence,
		IntegrityScore: score,
		Severity:       string(severity),
	})
	if err != nil {
		return nil, err
	}
	msg.Room = room
	return msg, nil
}

// NewSessionMessage creates a session_start or session_end message from a record
func NewSessionMessage(msgType MessageType, rec integrity.SessionRecord) (*Message, error) {
	data := SessionData{
		SessionID:      rec.ID,
		CandidateName:  rec.CandidateName,
		StartTime:      unixMilli(rec.StartTime),
		IntegrityScore: rec.IntegrityScore,
		TotalEvents:    len(rec.Events),
		Degraded:       rec.Degraded,
	}
	if rec.EndTime != nil {
		data.EndTime = unixMilli(*rec.EndTime)
	}

	msg, err := NewMessage(msgType, data)
	if err != nil {
		return nil, err
	}
	msg.Room = rec.RoomID
	return msg, nil
}

// NewErrorMessage creates an error message
func NewErrorMessage(text string) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Message: text})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetFrameData extracts frame data from a message
func (m *Message) GetFrameData() (*FrameData, error) {
	var data FrameData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DecodeFrameData decodes the base64 image data
func (f *FrameData) DecodeFrameData() ([]byte, error) {
	return base64.StdEncoding.DecodeString(f.Data)
}

// CapturedTime returns the capture time, or the zero time if unset
func (f *FrameData) CapturedTime() time.Time {
	if f.CapturedAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(f.CapturedAt)
}

// GetViolationData extracts violation data from a message
func (m *Message) GetViolationData() (*ViolationData, error) {
	var data ViolationData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetSessionData extracts session data from a message
func (m *Message) GetSessionData() (*SessionData, error) {
	var data SessionData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
