package sinks

import (
	"context"
	"fmt"

	"github.com/JakeFAU/repo-capture-engine/internal/events"
)

// Publisher pushes event payloads to an external topic (Pub/Sub or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// PublisherSink forwards each batch to a Publisher, one message per event.
// Publish failures fail the batch; the hub logs and moves on, matching the
// fire-and-forget monitoring contract.
type PublisherSink struct {
	publisher Publisher
	topic     string
}

// NewPublisherSink constructs a PublisherSink.
func NewPublisherSink(publisher Publisher, topic string) *PublisherSink {
	return &PublisherSink{publisher: publisher, topic: topic}
}

// Consume publishes every event in the batch.
func (s *PublisherSink) Consume(ctx context.Context, batch []events.Event) error {
	if s.publisher == nil || s.topic == "" {
		return nil
	}
	for _, evt := range batch {
		if _, err := s.publisher.Publish(ctx, s.topic, evt); err != nil {
			return fmt.Errorf("publish %s event: %w", evt.Kind, err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
