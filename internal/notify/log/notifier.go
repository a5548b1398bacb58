// Package log writes run reports to the application logger.
package log

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/price-harvester/internal/crawler"
)

// Notifier logs every report at info level.
type Notifier struct {
	logger *zap.Logger
}

// New creates a Notifier.
func New(logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{logger: logger.Named("report")}
}

// Report logs the report.
func (n *Notifier) Report(_ context.Context, r crawler.Report) error {
	fields := make([]zap.Field, 0, len(r.Fields)+2)
	fields = append(fields, zap.String("title", r.Title), zap.String("link", r.TitleLink))
	for _, f := range r.Fields {
		fields = append(fields, zap.String(f.Title, f.Value))
	}
	n.logger.Info(r.Text, fields...)
	return nil
}
