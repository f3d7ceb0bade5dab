package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/acme/voice-dispatch/internal/dispatch"
)

// OutcomePublisher emits finished-call events to the outcome topic, keyed by
// lead so consumers see each lead's attempts in order.
type OutcomePublisher struct {
	writer *kafka.Writer
}

// NewOutcomePublisher constructs a publisher for the given topic.
func NewOutcomePublisher(k *Kafka, topic string) *OutcomePublisher {
	return &OutcomePublisher{writer: k.NewWriter(topic)}
}

// PublishOutcome writes the outcome event to Kafka.
func (p *OutcomePublisher) PublishOutcome(ctx context.Context, event dispatch.OutcomeEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("outcome publisher: marshal event: %w", err)
	}
	record := kafka.Message{
		Key:   event.LeadID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("outcome publisher: write event: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *OutcomePublisher) Close() error {
	return p.writer.Close()
}
