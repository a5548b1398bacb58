// Package redis appends price batches to Redis streams.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/price-harvester/internal/crawler"
)

const defaultPrefix = "harvester"

type streamer interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Options configures the stream names.
type Options struct {
	// Prefix namespaces the streams: <prefix>:prices:<kind> and <prefix>:completions.
	Prefix string
	// MaxLen caps each stream approximately; zero keeps everything.
	MaxLen int64
}

// Sink writes one stream entry per batch and per completion.
type Sink struct {
	client streamer
	opts   Options
}

// New wraps a client (a *redis.Client in production).
func New(client streamer, opts Options) (*Sink, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	return &Sink{client: client, opts: opts}, nil
}

// PricesStream is the stream batches of kind are appended to.
func (s *Sink) PricesStream(kind crawler.Kind) string {
	return fmt.Sprintf("%s:prices:%s", s.opts.Prefix, kind)
}

// CompletionsStream is the stream completions are appended to.
func (s *Sink) CompletionsStream() string {
	return s.opts.Prefix + ":completions"
}

// PushBatch appends the batch as a JSON payload.
func (s *Sink) PushBatch(ctx context.Context, batch crawler.Batch) error {
	records, err := json.Marshal(batch.Records)
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	return s.add(ctx, s.PricesStream(batch.Kind), map[string]any{
		"source_id": batch.SourceID,
		"hash":      batch.Hash,
		"count":     len(batch.Records),
		"records":   string(records),
	})
}

// Complete appends the completion marker.
func (s *Sink) Complete(ctx context.Context, c crawler.Completion) error {
	return s.add(ctx, s.CompletionsStream(), map[string]any{
		"source_id": c.SourceID,
		"hash":      c.Hash,
		"kind":      string(c.Kind),
		"date":      c.Date,
	})
}

func (s *Sink) add(ctx context.Context, stream string, values map[string]any) error {
	args := &redis.XAddArgs{Stream: stream, Values: values}
	if s.opts.MaxLen > 0 {
		args.MaxLen = s.opts.MaxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", stream, err)
	}
	return nil
}
