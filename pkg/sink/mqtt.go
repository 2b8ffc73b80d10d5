package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-proctor/internal/log"
	"github.com/teslashibe/go-proctor/pkg/integrity"
	"github.com/teslashibe/go-proctor/pkg/protocol"
)

// MQTTConfig configures the MQTT event sink
type MQTTConfig struct {
	Broker      string // host:port
	ClientID    string
	TopicPrefix string // e.g. "proctor/rooms"
	QoS         byte
	Logger      *slog.Logger
}

// ErrMQTTNotConnected is returned while the client is disconnected
var ErrMQTTNotConnected = errors.New("sink: mqtt not connected")

type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes protocol envelopes to per-room topics:
//
//	<prefix>/<room>/violations
//	<prefix>/<room>/session   (retained, so late subscribers see the latest state)
type MQTTSink struct {
	cfg    MQTTConfig
	client mqtt.Client
	pub    mqttPublisher
	logger *slog.Logger

	mu        sync.RWMutex
	connected bool
}

// NewMQTTSink connects to the broker. Reconnection is automatic afterwards.
func NewMQTTSink(ctx context.Context, cfg MQTTConfig) (*MQTTSink, error) {
	if cfg.Broker == "" {
		return nil, errors.New("sink: mqtt broker must not be empty")
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "proctor/rooms"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "proctord"
	}

	s := &MQTTSink{cfg: cfg, logger: log.Or(cfg.Logger, "mqtt_sink")}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		s.setConnected(true)
		s.logger.Info("mqtt connection established", "broker", cfg.Broker, "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		s.setConnected(false)
		s.logger.Warn("mqtt connection lost, will auto-reconnect", "error", err, "broker", cfg.Broker)
	}

	s.client = mqtt.NewClient(opts)
	s.pub = s.client

	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	token := s.client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("sink: mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("sink: mqtt connection failed: %w", err)
	}
	s.setConnected(true)

	return s, nil
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) SessionStarted(ctx context.Context, rec integrity.SessionRecord) error {
	msg, err := protocol.NewSessionMessage(protocol.TypeSessionStart, rec)
	if err != nil {
		return err
	}
	return s.publish(ctx, s.topic(rec.RoomID, "session"), true, msg)
}

func (s *MQTTSink) Violation(ctx context.Context, n ViolationNotice) error {
	msg, err := protocol.NewViolationMessage(n.RoomID, n.SessionID, n.Event, n.Score, n.Severity)
	if err != nil {
		return err
	}
	return s.publish(ctx, s.topic(n.RoomID, "violations"), false, msg)
}

func (s *MQTTSink) SessionEnded(ctx context.Context, rec integrity.SessionRecord) error {
	msg, err := protocol.NewSessionMessage(protocol.TypeSessionEnd, rec)
	if err != nil {
		return err
	}
	return s.publish(ctx, s.topic(rec.RoomID, "session"), true, msg)
}

func (s *MQTTSink) topic(room, leaf string) string {
	return strings.TrimSuffix(s.cfg.TopicPrefix, "/") + "/" + room + "/" + leaf
}

func (s *MQTTSink) publish(ctx context.Context, topic string, retained bool, msg *protocol.Message) error {
	if !s.isConnected() {
		return ErrMQTTNotConnected
	}

	payload, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}

	token := s.pub.Publish(topic, s.cfg.QoS, retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	s.logger.Debug("published", "topic", topic, "type", msg.Type, "size", len(payload))
	return nil
}

func (s *MQTTSink) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *MQTTSink) isConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Close disconnects from the broker
func (s *MQTTSink) Close() error {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250) // 250ms grace period
		s.logger.Info("mqtt disconnected")
	}
	s.setConnected(false)
	return nil
}
