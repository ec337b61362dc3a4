// Package kafka publishes committed traceability events to a Kafka topic.
// Messages are keyed by entity id so a partition sees each entity's events in
// commit order.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"herbtrace/pkg/domain"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes domain events as JSON messages.
type Publisher struct {
	writer messageWriter
	topic  string
}

// NewPublisher returns a synchronous, hash-balanced publisher.
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
	return newPublisher(w, topic), nil
}

func newPublisher(w messageWriter, topic string) *Publisher {
	return &Publisher{writer: w, topic: topic}
}

// Topic returns the destination topic.
func (p *Publisher) Topic() string { return p.topic }

// Publish writes one event.
func (p *Publisher) Publish(ctx context.Context, evt domain.Event) error {
	msg, err := encode(evt)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish event %s: %w", evt.ID, err)
	}
	return nil
}

// Close flushes pending writes and releases connections.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

func encode(evt domain.Event) (kafka.Message, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode event %s: %w", evt.ID, err)
	}
	return kafka.Message{
		Key:   []byte(evt.EntityID),
		Value: body,
		Time:  evt.RecordedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
			{Key: "entity_kind", Value: []byte(evt.EntityKind)},
			{Key: "event_id", Value: []byte(evt.ID)},
		},
	}, nil
}
