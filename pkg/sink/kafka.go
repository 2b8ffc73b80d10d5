package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/teslashibe/go-proctor/internal/log"
	"github.com/teslashibe/go-proctor/pkg/integrity"
	"github.com/teslashibe/go-proctor/pkg/protocol"
)

// KafkaConfig configures the Kafka event sink
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes protocol envelopes to one topic. Messages are keyed by
// room so each room's events stay ordered within a partition.
type KafkaSink struct {
	topic  string
	writer kafkaMessageWriter
	logger *slog.Logger
}

// NewKafkaSink creates a sink backed by a kafka-go writer
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("sink: kafka topic must not be empty")
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("sink: at least one kafka broker is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
	}
	return newKafkaSink(cfg.Topic, w, cfg.Logger), nil
}

func newKafkaSink(topic string, w kafkaMessageWriter, logger *slog.Logger) *KafkaSink {
	s := &KafkaSink{
		topic:  topic,
		writer: w,
		logger: log.Or(logger, "kafka_sink"),
	}
	s.logger.Info("kafka sink ready", "topic", topic)
	return s
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) SessionStarted(ctx context.Context, rec integrity.SessionRecord) error {
	msg, err := protocol.NewSessionMessage(protocol.TypeSessionStart, rec)
	if err != nil {
		return err
	}
	return s.publish(ctx, rec.RoomID, msg)
}

func (s *KafkaSink) Violation(ctx context.Context, n ViolationNotice) error {
	msg, err := protocol.NewViolationMessage(n.RoomID, n.SessionID, n.Event, n.Score, n.Severity)
	if err != nil {
		return err
	}
	return s.publish(ctx, n.RoomID, msg)
}

func (s *KafkaSink) SessionEnded(ctx context.Context, rec integrity.SessionRecord) error {
	msg, err := protocol.NewSessionMessage(protocol.TypeSessionEnd, rec)
	if err != nil {
		return err
	}
	return s.publish(ctx, rec.RoomID, msg)
}

func (s *KafkaSink) publish(ctx context.Context, room string, msg *protocol.Message) error {
	value, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(room),
		Value: value,
		Time:  time.UnixMilli(msg.Timestamp),
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(msg.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("write %s to %s: %w", msg.Type, s.topic, err)
	}

	s.logger.Debug("published", "type", msg.Type, "room", room)
	return nil
}

// Close flushes and closes the writer
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
