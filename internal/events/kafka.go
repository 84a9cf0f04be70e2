package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"loft/internal/config"

	"github.com/segmentio/kafka-go"
)

const headerEventType = "event-type"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes reservation events keyed by booking id, so every
// change of one booking lands on the same partition in order.
type KafkaSink struct {
	writer messageWriter
}

func NewKafkaSink(cfg config.KafkaConfig) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
		Logger:                 kafka.LoggerFunc(func(msg string, args ...any) {}),
	}}
}

func (s *KafkaSink) Name() string {
	return "kafka"
}

func (s *KafkaSink) Deliver(ctx context.Context, eventType string, payload []byte) error {
	var ref struct {
		BookingID int64 `json:"booking_id"`
	}
	if err := json.Unmarshal(payload, &ref); err != nil {
		return fmt.Errorf("decode event payload: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(ref.BookingID, 10)),
		Value: payload,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: headerEventType, Value: []byte(eventType)},
		},
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
