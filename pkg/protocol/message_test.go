package protocol

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/teslashibe/go-proctor/pkg/integrity"
)

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    interface{}
		wantErr bool
	}{
		{
			name:    "frame message",
			msgType: TypeFrame,
			data:    FrameData{Width: 640, Height: 480, Format: "jpeg"},
			wantErr: false,
		},
		{
			name:    "violation message",
			msgType: TypeViolation,
			data:    ViolationData{Kind: "NO_FACE", Confidence: 0.9},
			wantErr: false,
		},
		{
			name:    "nil data",
			msgType: TypePing,
			data:    nil,
			wantErr: false,
		},
		{
			name:    "unmarshalable data",
			msgType: TypeError,
			data:    make(chan int),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewMessage() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if msg.Type != tt.msgType {
				t.Errorf("NewMessage() type = %v, want %v", msg.Type, tt.msgType)
			}
			if msg.Timestamp == 0 {
				t.Error("NewMessage() timestamp should be set")
			}
		})
	}
}

func TestFrameMessage(t *testing.T) {
	jpegData := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10} // Fake JPEG header
	captured := time.UnixMilli(1700000000123)

	msg, err := NewFrameMessage(640, 480, jpegData, 7, captured)
	if err != nil {
		t.Fatalf("NewFrameMessage() error = %v", err)
	}

	raw, err := msg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	parsed, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}

	frameData, err := parsed.GetFrameData()
	if err != nil {
		t.Fatalf("GetFrameData() error = %v", err)
	}
	if frameData.Width != 640 || frameData.Height != 480 || frameData.FrameID != 7 {
		t.Errorf("FrameData = %+v", frameData)
	}
	if !frameData.CapturedTime().Equal(captured) {
		t.Errorf("CapturedTime = %v, want %v", frameData.CapturedTime(), captured)
	}

	decoded, err := frameData.DecodeFrameData()
	if err != nil {
		t.Fatalf("DecodeFrameData() error = %v", err)
	}
	if !bytes.Equal(decoded, jpegData) {
		t.Errorf("decoded = %x, want %x", decoded, jpegData)
	}
}

func TestFrameMessage_NoCaptureTime(t *testing.T) {
	msg, _ := NewFrameMessage(320, 240, []byte{1}, 1, time.Time{})
	frameData, _ := msg.GetFrameData()

	if !frameData.CapturedTime().IsZero() {
		t.Errorf("CapturedTime = %v, want zero", frameData.CapturedTime())
	}
}

func TestViolationMessage(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 6, 0, time.UTC)
	ev := integrity.NewEvent(integrity.PhoneDetected, ts, 0.87)

	msg, err := NewViolationMessage("room-1", "sess-1", ev, 80, integrity.SeverityGood)
	if err != nil {
		t.Fatalf("NewViolationMessage() error = %v", err)
	}
	if msg.Type != TypeViolation || msg.Room != "room-1" {
		t.Errorf("envelope = %+v", msg)
	}

	data, err := msg.GetViolationData()
	if err != nil {
		t.Fatalf("GetViolationData() error = %v", err)
	}
	if data.Kind != "PHONE_DETECTED" || data.Confidence != 0.87 || data.IntegrityScore != 80 {
		t.Errorf("ViolationData = %+v", data)
	}
	if data.Timestamp != ts.UnixMilli() {
		t.Errorf("Timestamp = %d, want %d", data.Timestamp, ts.UnixMilli())
	}
	if data.Severity != string(integrity.SeverityGood) {
		t.Errorf("Severity = %q, want %q", data.Severity, integrity.SeverityGood)
	}
}

func TestSessionMessage(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)
	rec := integrity.SessionRecord{
		ID:             "sess-1",
		RoomID:         "room-1",
		CandidateName:  "Ada",
		StartTime:      start,
		EndTime:        &end,
		IntegrityScore: 70,
		Events: []integrity.ViolationEvent{
			integrity.NewEvent(integrity.NoFace, start, 0.9),
		},
	}

	msg, err := NewSessionMessage(TypeSessionEnd, rec)
	if err != nil {
		t.Fatalf("NewSessionMessage() error = %v", err)
	}
	if msg.Room != "room-1" {
		t.Errorf("Room = %q, want room-1", msg.Room)
	}

	data, err := msg.GetSessionData()
	if err != nil {
		t.Fatalf("GetSessionData() error = %v", err)
	}
	if data.EndTime != end.UnixMilli() || data.TotalEvents != 1 || data.IntegrityScore != 70 {
		t.Errorf("SessionData = %+v", data)
	}

	rec.EndTime = nil
	msg, _ = NewSessionMessage(TypeSessionStart, rec)
	data, _ = msg.GetSessionData()
	if data.EndTime != 0 {
		t.Errorf("running session EndTime = %d, want 0", data.EndTime)
	}
}

func TestPingPongMessage(t *testing.T) {
	pingMsg, err := NewPingMessage("test-123")
	if err != nil {
		t.Fatalf("NewPingMessage() error = %v", err)
	}

	pingData, err := pingMsg.GetPingData()
	if err != nil {
		t.Fatalf("GetPingData() error = %v", err)
	}
	if pingData.ID != "test-123" {
		t.Errorf("ID = %v, want test-123", pingData.ID)
	}

	now := time.Now().UnixMilli()
	pongMsg, err := NewPongMessage("test-123", pingData.Timestamp, now)
	if err != nil {
		t.Fatalf("NewPongMessage() error = %v", err)
	}

	pongData, err := pongMsg.GetPongData()
	if err != nil {
		t.Fatalf("GetPongData() error = %v", err)
	}
	if pongData.ID != "test-123" {
		t.Errorf("ID = %v, want test-123", pongData.ID)
	}
	if pongData.LatencyMs < 0 {
		t.Errorf("LatencyMs = %v, should be >= 0", pongData.LatencyMs)
	}
}

func TestParseInvalidMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name:    "invalid json",
			input:   "not json",
			wantErr: true,
		},
		{
			name:    "missing type",
			input:   "{}",
			wantErr: true,
		},
		{
			name:    "valid message",
			input:   `{"type":"ping","ts":1234567890}`,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessage([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMessageJSON(t *testing.T) {
	msg, _ := NewErrorMessage("session not found")
	msg.Room = "room-9"

	raw, _ := msg.Bytes()

	var parsed map[string]interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("Failed to unmarshal as map: %v", err)
	}

	if parsed["type"] != "error" {
		t.Errorf("type = %v, want error", parsed["type"])
	}
	if parsed["room"] != "room-9" {
		t.Errorf("room = %v, want room-9", parsed["room"])
	}
	if _, ok := parsed["ts"]; !ok {
		t.Error("ts field should be present")
	}
	if _, ok := parsed["data"]; !ok {
		t.Error("data field should be present")
	}
}

func BenchmarkNewFrameMessage(b *testing.B) {
	jpegData := make([]byte, 100*1024) // 100KB fake JPEG
	now := time.Now()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		NewFrameMessage(640, 480, jpegData, uint64(i), now)
	}
}

func BenchmarkParseMessage(b *testing.B) {
	msg, _ := NewFrameMessage(640, 480, make([]byte, 100*1024), 1, time.Now())
	raw, _ := msg.Bytes()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ParseMessage(raw)
	}
}
