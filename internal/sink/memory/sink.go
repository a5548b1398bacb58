// Package memory keeps flushed batches in process. It backs development runs
// and tests.
package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/price-harvester/internal/crawler"
)

// Sink stores batches and completions in the order they arrive.
type Sink struct {
	logger *zap.Logger

	mu          sync.RWMutex
	batches     []crawler.Batch
	completions []crawler.Completion
}

// New creates an empty Sink.
func New(logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{logger: logger.Named("memory_sink")}
}

// PushBatch stores a copy of batch.
func (s *Sink) PushBatch(_ context.Context, batch crawler.Batch) error {
	batch.Records = append([]crawler.Record(nil), batch.Records...)
	s.mu.Lock()
	s.batches = append(s.batches, batch)
	s.mu.Unlock()
	s.logger.Debug("batch stored",
		zap.String("hash", batch.Hash),
		zap.String("kind", string(batch.Kind)),
		zap.Int("records", len(batch.Records)),
	)
	return nil
}

// Complete stores c.
func (s *Sink) Complete(_ context.Context, c crawler.Completion) error {
	s.mu.Lock()
	s.completions = append(s.completions, c)
	s.mu.Unlock()
	s.logger.Info("run completed", zap.String("hash", c.Hash), zap.String("date", c.Date))
	return nil
}

// Batches returns the stored batches.
func (s *Sink) Batches() []crawler.Batch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.Batch(nil), s.batches...)
}

// Records flattens every stored batch.
func (s *Sink) Records() []crawler.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Record
	for _, b := range s.batches {
		out = append(out, b.Records...)
	}
	return out
}

// Completions returns the stored completions.
func (s *Sink) Completions() []crawler.Completion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.Completion(nil), s.completions...)
}
