// Package pubsub publishes price batches to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/price-harvester/internal/crawler"
)

// Event types carried in the "event" attribute.
const (
	EventBatch      = "batch"
	EventCompletion = "completion"
)

type publisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// Sink publishes one message per batch and one per completion.
type Sink struct {
	topic publisher
}

// New wraps a topic (a *pubsub.Topic in production).
func New(topic publisher) (*Sink, error) {
	if topic == nil {
		return nil, errors.New("pubsub topic is required")
	}
	return &Sink{topic: topic}, nil
}

// PushBatch publishes the batch as JSON and waits for the server ack.
func (s *Sink) PushBatch(ctx context.Context, batch crawler.Batch) error {
	return s.publish(ctx, EventBatch, batch.SourceID, batch.Hash, batch.Kind, batch)
}

// Complete publishes the completion marker.
func (s *Sink) Complete(ctx context.Context, c crawler.Completion) error {
	return s.publish(ctx, EventCompletion, c.SourceID, c.Hash, c.Kind, c)
}

func (s *Sink) publish(ctx context.Context, event, sourceID, hash string, kind crawler.Kind, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	result := s.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event":     event,
			"source_id": sourceID,
			"hash":      hash,
			"kind":      string(kind),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}
	return nil
}
