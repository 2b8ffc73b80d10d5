// Package protocol defines the JSON envelopes exchanged between candidate
// clients, the proctoring server, dashboards and message brokers.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of message
type MessageType string

const (
	// Candidate → Server messages
	TypeFrame MessageType = "frame" // Webcam frame

	// Server → Dashboard / broker messages
	TypeViolation    MessageType = "violation"     // One integrity violation
	TypeSessionStart MessageType = "session_start" // Session began recording
	TypeSessionEnd   MessageType = "session_end"   // Session closed, final record
	TypeError        MessageType = "error"         // Request could not be served

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all messages
type Message struct {
	Type      MessageType     `json:"type"`
	Room      string          `json:"room,omitempty"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// =============================================================================
// Candidate → Server Message Types
// =============================================================================

// FrameData contains a webcam frame
type FrameData struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Format     string `json:"format"` // "jpeg"
	Data       string `json:"data"`   // base64 encoded
	FrameID    uint64 `json:"frame_id,omitempty"`
	CapturedAt int64  `json:"captured_at,omitempty"` // Unix milliseconds
}

// =============================================================================
// Server → Dashboard Message Types
// =============================================================================

// ViolationData is one violation with the score it left the session at
type ViolationData struct {
	SessionID      string  `json:"session_id"`
	Kind           string  `json:"kind"`
	Timestamp      int64   `json:"timestamp"` // Unix milliseconds
	Confidence     float64 `json:"confidence"`
	IntegrityScore int     `json:"integrity_score"`
	Severity       string  `json:"severity"`
}

// SessionData summarizes a session at start or end
type SessionData struct {
	SessionID      string `json:"session_id"`
	CandidateName  string `json:"candidate_name"`
	StartTime      int64  `json:"start_time"`         // Unix milliseconds
	EndTime        int64  `json:"end_time,omitempty"` // Unix milliseconds, 0 while running
	IntegrityScore int    `json:"integrity_score"`
	TotalEvents    int    `json:"total_events"`
	Degraded       bool   `json:"degraded,omitempty"`
}

// ErrorData describes a rejected request
type ErrorData struct {
	Message string `json:"message"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
