// Package orchestrator drives crawl runs: it resolves the source identity,
// builds one pusher and one queue per run, completes the run with the sink and
// reports the outcome. Date-aware sources can also be crawled over a range.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/price-harvester/internal/crawler"
	"github.com/JakeFAU/price-harvester/internal/metrics"
	"github.com/JakeFAU/price-harvester/internal/pusher"
	"github.com/JakeFAU/price-harvester/internal/queue"
	"github.com/JakeFAU/price-harvester/internal/record"
	"github.com/JakeFAU/price-harvester/internal/telemetry"
)

// EnvProduction is the only environment in which documents are archived.
const EnvProduction = "prod"

const (
	defaultFirstDate      = "1970-01-01"
	defaultRangeThreshold = 14
)

// Mode tells single-shot sources from sources that can be crawled by date.
type Mode int

// Crawl modes.
const (
	ModeSingle Mode = iota
	ModeByDate
)

func (m Mode) String() string {
	if m == ModeByDate {
		return "by-date"
	}
	return "single"
}

// Definition describes one source: its identity, record defaults and the
// producer and consumer it runs.
type Definition struct {
	Name     string
	Version  int
	Metadata crawler.SourceMetadata
	Kind     crawler.Kind
	Mode     Mode
	// Timezone is an IANA zone name used for yesterday/last week/last month.
	Timezone  string
	FirstDate string
	Defaults  crawler.Record
	Frequency string
	// LastMonthOnly drops records older than one month.
	LastMonthOnly bool
	Producers     int
	Consumers     int

	NewProducer func(run *Run, index int) queue.Producer
	NewConsumer func(run *Run, index int) queue.Consumer
}

// Settings holds the deployment-wide knobs shared by every source.
type Settings struct {
	Environment    string
	PushThreshold  int
	RangeThreshold int
	// RangeDelay is the pause between two dates of a range. Zero or negative
	// disables it.
	RangeDelay time.Duration
	Queue      queue.Options
}

// Dependencies are the collaborators a Crawler talks to. Archiver,
// ArchiveReader, Notifier and Alarmer are optional.
type Dependencies struct {
	Registry      crawler.Registry
	Sink          crawler.Sink
	Archiver      crawler.Archiver
	ArchiveReader crawler.ArchiveReader
	Notifier      crawler.Notifier
	Alarmer       crawler.Alarmer
	Clock         crawler.Clock
	Hashes        crawler.HashGenerator
	Validator     *record.Validator
	Logger        *zap.Logger
}

// ErrDateCrawlUnsupported is returned by range crawls of single-shot sources.
var ErrDateCrawlUnsupported = errors.New("source does not support crawling by date")

// Crawler runs one source.
type Crawler struct {
	def      Definition
	deps     Dependencies
	settings Settings
	loc      *time.Location
	logger   *zap.Logger

	mu     sync.Mutex
	source *crawler.Source
}

// New validates def and deps and returns a Crawler in its created state.
func New(def Definition, deps Dependencies, settings Settings) (*Crawler, error) {
	switch {
	case def.Name == "":
		return nil, errors.New("source name is required")
	case def.NewProducer == nil || def.NewConsumer == nil:
		return nil, fmt.Errorf("source %s: producer and consumer are required", def.Name)
	case !def.Kind.Valid():
		return nil, fmt.Errorf("source %s: unknown record kind %q", def.Name, def.Kind)
	case deps.Registry == nil || deps.Sink == nil:
		return nil, fmt.Errorf("source %s: registry and sink are required", def.Name)
	case deps.Clock == nil || deps.Hashes == nil || deps.Validator == nil:
		return nil, fmt.Errorf("source %s: clock, hash generator and validator are required", def.Name)
	}

	loc := time.UTC
	if def.Timezone != "" {
		l, err := time.LoadLocation(def.Timezone)
		if err != nil {
			return nil, fmt.Errorf("source %s: load timezone: %w", def.Name, err)
		}
		loc = l
	}
	if def.Version <= 0 {
		def.Version = 1
	}
	if def.FirstDate == "" {
		def.FirstDate = defaultFirstDate
	}
	if def.Metadata.Name == "" {
		def.Metadata.Name = def.Name
	}
	if settings.RangeThreshold <= 0 {
		settings.RangeThreshold = defaultRangeThreshold
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		def:      def,
		deps:     deps,
		settings: settings,
		loc:      loc,
		logger:   logger.Named("crawler").With(zap.String("source", def.Name)),
	}, nil
}

// Definition returns the source definition.
func (c *Crawler) Definition() Definition { return c.def }

// Location is the source's timezone.
func (c *Crawler) Location() *time.Location { return c.loc }

// Initialize resolves and caches the source identity. It is the one failure
// that ends a run before anything is crawled.
func (c *Crawler) Initialize(ctx context.Context) (crawler.Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.source != nil {
		return *c.source, nil
	}
	src, err := c.deps.Registry.CreateOrUpdateSource(ctx, c.def.Metadata)
	if err != nil {
		return crawler.Source{}, fmt.Errorf("initialize source %s: %w", c.def.Name, err)
	}
	if src.Name == "" {
		src.Name = c.def.Name
	}
	c.source = &src
	c.logger.Info("source resolved", zap.String("source_id", src.ID))
	return src, nil
}

// Crawl performs one run for date (empty for single-shot sources) and returns
// the number of records pushed. When ctx is canceled the records pushed so far
// are still flushed and completed, and the cancellation is returned.
func (c *Crawler) Crawl(ctx context.Context, date string) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "crawl",
		attribute.String("source", c.def.Name),
		attribute.String("date", date),
	)
	n, err := c.crawl(ctx, date)
	telemetry.EndSpan(span, n, err)
	return n, err
}

func (c *Crawler) crawl(ctx context.Context, date string) (int, error) {
	start := c.deps.Clock.Now()
	source, err := c.Initialize(ctx)
	if err != nil {
		metrics.ObserveRun(c.def.Name, false, 0)
		return 0, err
	}

	logger := c.logger.With(telemetry.LogFields(ctx)...)
	if date != "" {
		logger = logger.With(zap.String("date", date))
	}
	logger.Info("start crawling")

	p, err := pusher.New(pusher.Options{
		Source:        source,
		Kind:          c.def.Kind,
		Threshold:     c.settings.PushThreshold,
		Defaults:      c.recordDefaults(),
		Frequency:     c.def.Frequency,
		LastMonthOnly: c.def.LastMonthOnly,
	}, c.deps.Sink, c.deps.Validator, c.deps.Clock, c.deps.Hashes, logger)
	if err != nil {
		metrics.ObserveRun(c.def.Name, false, 0)
		return 0, fmt.Errorf("create pusher: %w", err)
	}

	run := &Run{Date: date, Source: source, Pusher: p, crawler: c, logger: logger}
	q, err := queue.New(c.queueOptions(),
		func(i int) queue.Producer { return c.def.NewProducer(run, i) },
		func(i int) queue.Consumer { return c.def.NewConsumer(run, i) },
		logger,
	)
	if err != nil {
		metrics.ObserveRun(c.def.Name, false, 0)
		return 0, fmt.Errorf("create queue: %w", err)
	}

	if _, err := q.Run(ctx); err != nil {
		logger.Error("failed to run a queue", zap.Error(err))
	}
	canceled := ctx.Err()
	if canceled != nil {
		logger.Warn("run canceled, delivering buffered records", zap.Error(canceled))
	}
	// Buffered records are delivered even when the run was canceled.
	if err := p.Complete(context.WithoutCancel(ctx), date); err != nil {
		logger.Error("failed to complete run", zap.Error(err))
	}

	count := p.Count()
	elapsed := c.deps.Clock.Now().Sub(start)
	if canceled != nil {
		metrics.ObserveRun(c.def.Name, false, elapsed)
		return count, fmt.Errorf("crawl %s: %w", c.def.Name, canceled)
	}
	metrics.ObserveRun(c.def.Name, true, elapsed)
	logger.Info("finished crawling", zap.Int("records", count), zap.Duration("elapsed", elapsed))

	if count > 0 {
		c.report(ctx, ReportInput{
			Metadata: c.def.Metadata,
			Source:   source,
			Kind:     c.def.Kind,
			Mode:     c.def.Mode,
			Timezone: c.loc.String(),
			Date:     date,
			Dates:    p.Dates(),
			Count:    count,
			Elapsed:  elapsed,
		})
	}
	return count, nil
}

func (c *Crawler) report(ctx context.Context, in ReportInput) {
	if c.deps.Notifier == nil {
		return
	}
	if err := c.deps.Notifier.Report(ctx, FormatReport(in)); err != nil {
		c.logger.Warn("failed to send report", zap.Error(err))
	}
}

func (c *Crawler) recordDefaults() crawler.Record {
	d := c.def.Defaults
	if d.Country == "" {
		d.Country = c.def.Metadata.Country
	}
	if d.Currency == "" {
		d.Currency = c.def.Metadata.Currency
	}
	return d
}

func (c *Crawler) queueOptions() queue.Options {
	opts := c.settings.Queue
	opts.Name = c.def.Name
	if c.def.Producers > 0 {
		opts.Producers = c.def.Producers
	}
	if c.def.Consumers > 0 {
		opts.Consumers = c.def.Consumers
	}
	return opts
}
