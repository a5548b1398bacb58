// Package pusher buffers crawled records and delivers them to a sink in
// bounded batches, closing each run with a single completion.
package pusher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/price-harvester/internal/crawler"
	"github.com/JakeFAU/price-harvester/internal/dates"
	"github.com/JakeFAU/price-harvester/internal/metrics"
	"github.com/JakeFAU/price-harvester/internal/record"
)

// DefaultThreshold is the batch size used when Options.Threshold is unset.
const DefaultThreshold = 100

// FrequencyMonthly marks a source that publishes one figure per month.
const FrequencyMonthly = "m"

// Options configures a Pusher.
type Options struct {
	Source crawler.Source
	Kind   crawler.Kind
	// Threshold is both the auto-flush trigger and the maximum batch size.
	Threshold int
	// Defaults fills empty record fields before validation and at flush.
	Defaults crawler.Record
	// Frequency "m" moves every record date to the end of its month.
	Frequency string
	// LastMonthOnly drops records dated before the same day last month.
	LastMonthOnly bool
}

// Pusher is safe for concurrent use by the consumers of one run.
type Pusher struct {
	opts      Options
	sink      crawler.Sink
	validator *record.Validator
	clock     crawler.Clock
	logger    *zap.Logger
	hash      string

	mu     sync.Mutex
	buffer []crawler.Record
	count  int
	dates  map[string]struct{}

	flushMu sync.Mutex
}

// New builds a Pusher for one run. The run hash is drawn from hashes once.
func New(
	opts Options,
	sink crawler.Sink,
	validator *record.Validator,
	clock crawler.Clock,
	hashes crawler.HashGenerator,
	logger *zap.Logger,
) (*Pusher, error) {
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	if validator == nil {
		return nil, errors.New("validator is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if hashes == nil {
		return nil, errors.New("hash generator is required")
	}
	if !opts.Kind.Valid() {
		return nil, fmt.Errorf("unknown record kind %q", opts.Kind)
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	hash, err := hashes.NewRunHash()
	if err != nil {
		return nil, fmt.Errorf("create pusher: %w", err)
	}
	return &Pusher{
		opts:      opts,
		sink:      sink,
		validator: validator,
		clock:     clock,
		logger: logger.Named("pusher").With(
			zap.String("source", opts.Source.Name),
			zap.String("hash", hash),
		),
		hash:  hash,
		dates: make(map[string]struct{}),
	}, nil
}

// Hash is the run correlation hash carried by every batch and the completion.
func (p *Pusher) Hash() string { return p.hash }

// Count is the number of records accepted so far. It never decreases. Records
// dropped as invalid or stale are not counted.
func (p *Pusher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Dates lists the record dates seen so far in ascending order.
func (p *Pusher) Dates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.dates))
	for d := range p.dates {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Push buffers the records that pass the filters and flushes once the buffer
// reaches the threshold. It returns the number of records accepted.
func (p *Pusher) Push(ctx context.Context, records ...crawler.Record) int {
	return p.push(ctx, records, false)
}

// PushAndFlush is Push followed by an unconditional flush.
func (p *Pusher) PushAndFlush(ctx context.Context, records ...crawler.Record) int {
	return p.push(ctx, records, true)
}

func (p *Pusher) push(ctx context.Context, records []crawler.Record, force bool) int {
	accepted := make([]crawler.Record, 0, len(records))
	for _, r := range records {
		prepared, reason, err := p.prepare(r)
		if err != nil {
			metrics.ObserveRejected(p.opts.Source.Name, reason)
			p.logger.Warn("dropping record", zap.String("reason", reason), zap.Error(err))
			continue
		}
		if reason != "" {
			metrics.ObserveRejected(p.opts.Source.Name, reason)
			continue
		}
		accepted = append(accepted, prepared)
	}

	p.mu.Lock()
	p.buffer = append(p.buffer, accepted...)
	p.count += len(accepted)
	for _, r := range accepted {
		p.dates[r.Date] = struct{}{}
	}
	full := len(p.buffer) >= p.opts.Threshold
	p.mu.Unlock()

	metrics.ObserveRecords(p.opts.Source.Name, len(accepted))
	if force || full {
		if err := p.Flush(ctx); err != nil {
			p.logger.Error("flush failed", zap.Error(err))
		}
	}
	return len(accepted)
}

// prepare applies defaults and the date rules, then validates. A non-empty
// reason with a nil error is a silent filter.
func (p *Pusher) prepare(r crawler.Record) (crawler.Record, string, error) {
	r = record.WithDefaults(r, p.opts.Defaults)
	r.Prices = record.CleanPrices(r.Prices)
	now := p.clock.Now()
	if p.opts.Frequency == FrequencyMonthly && r.Date != "" {
		clamped, err := dates.ClampMonthly(r.Date, now)
		if err != nil {
			return r, "invalid", fmt.Errorf("clamp monthly date: %w", err)
		}
		r.Date = clamped
	}
	if err := p.validator.Validate(r); err != nil {
		return r, "invalid", err
	}
	if p.opts.LastMonthOnly && !dates.WithinLastMonth(r.Date, now) {
		return r, "stale", nil
	}
	return r, "", nil
}

// Flush sends every buffered record in threshold-sized batches, in push
// order. A failed batch is logged and skipped; the joined failures are
// returned after every batch was attempted.
func (p *Pusher) Flush(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	pending := p.buffer
	p.buffer = nil
	p.mu.Unlock()

	var errs []error
	for start := 0; start < len(pending); start += p.opts.Threshold {
		end := min(start+p.opts.Threshold, len(pending))
		batch := crawler.Batch{
			SourceID: p.opts.Source.ID,
			Hash:     p.hash,
			Kind:     p.opts.Kind,
			Records:  make([]crawler.Record, 0, end-start),
		}
		for _, r := range pending[start:end] {
			batch.Records = append(batch.Records, record.Normalize(r))
		}
		if err := p.sink.PushBatch(ctx, batch); err != nil {
			metrics.ObserveBatch(p.opts.Source.Name, false)
			p.logger.Error("failed to push batch", zap.Int("records", len(batch.Records)), zap.Error(err))
			errs = append(errs, fmt.Errorf("push batch of %d: %w", len(batch.Records), err))
			continue
		}
		metrics.ObserveBatch(p.opts.Source.Name, true)
		p.logger.Debug("batch pushed", zap.Int("records", len(batch.Records)))
	}
	return errors.Join(errs...)
}

// Complete flushes what is left and tells the sink the run is over. Nothing
// is sent when no record was ever accepted.
func (p *Pusher) Complete(ctx context.Context, date string) error {
	if p.Count() == 0 {
		p.logger.Info("nothing was pushed, skipping completion")
		return nil
	}
	if err := p.Flush(ctx); err != nil {
		p.logger.Error("final flush failed", zap.Error(err))
	}
	err := p.sink.Complete(ctx, crawler.Completion{
		SourceID: p.opts.Source.ID,
		Hash:     p.hash,
		Kind:     p.opts.Kind,
		Date:     date,
	})
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	p.logger.Info("run completed", zap.Int("records", p.Count()), zap.String("date", date))
	return nil
}
