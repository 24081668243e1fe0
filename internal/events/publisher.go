// Package events publishes order lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/models"
)

// KafkaPublisher writes order events keyed by order id, so every event of
// one order lands on the same partition in order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates an asynchronous writer for topic
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Error().Err(err).Int("messages", len(messages)).Msg("Failed to deliver order events")
			}
		},
	}
	return NewKafkaPublisherWithWriter(w)
}

// NewKafkaPublisherWithWriter wraps an existing writer
func NewKafkaPublisherWithWriter(w *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

// Message builds the Kafka message for event
func Message(event models.OrderEvent) (kafka.Message, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal order event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(event.OrderID),
		Value: body,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, event models.OrderEvent) error {
	msg, err := Message(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to produce order event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher discards events; used when no brokers are configured
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, models.OrderEvent) error { return nil }
func (NoopPublisher) Close() error                                     { return nil }
