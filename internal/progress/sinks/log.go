package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/price-harvester/internal/progress"
)

// LogSink emits structured logs for each snapshot.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs the snapshot.
func (s *LogSink) Consume(_ context.Context, snap progress.Snapshot) error {
	s.logger.Info(snap.String(),
		zap.String("queue", snap.Queue),
		zap.Int64("consumed", snap.Consumed),
		zap.Int64("produced", snap.Produced),
		zap.Int("remaining", snap.Remaining),
		zap.Duration("elapsed", snap.Elapsed),
		zap.Float64("throughput", snap.Throughput),
		zap.Duration("etc", snap.ETC),
		zap.Bool("final", snap.Final),
	)
	return nil
}
