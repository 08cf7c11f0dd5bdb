package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

const defaultPublishTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink publishes entries as JSON, keyed by tenant so one tenant's events stay ordered.
type KafkaSink struct {
	w       messageWriter
	timeout time.Duration
}

// NewKafkaWriter returns a synchronous writer for topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// NewKafkaSink wraps a writer such as the one returned by NewKafkaWriter.
func NewKafkaSink(w messageWriter) *KafkaSink {
	return &KafkaSink{w: w, timeout: defaultPublishTimeout}
}

// Write implements Sink.
func (s *KafkaSink) Write(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("kafka: marshal audit entry: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	msg := kafka.Message{
		Key:   []byte(e.TenantID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(e.Event)},
		},
		Time: e.Time,
	}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: publish audit entry: %w", err)
	}
	return nil
}
