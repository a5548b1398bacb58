// Package schedule runs configured crawls on cron expressions in process.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Entry runs Source over Window whenever Spec fires.
type Entry struct {
	Spec   string
	Source string
	Window string
}

// Runner performs one scheduled crawl.
type Runner func(ctx context.Context, e Entry) error

// Upcoming is the next activation of an entry.
type Upcoming struct {
	Entry Entry
	Next  time.Time
}

// Scheduler owns a cron instance. A crawl still running when its entry fires
// again makes that activation a no-op.
type Scheduler struct {
	cron   *cron.Cron
	run    Runner
	logger *zap.Logger
	ids    map[cron.EntryID]Entry
	ctx    context.Context
}

// New registers every entry. Extra cron options (a location, seconds
// precision) are passed through.
func New(entries []Entry, run Runner, logger *zap.Logger, opts ...cron.Option) (*Scheduler, error) {
	if run == nil {
		return nil, errors.New("schedule runner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("schedule")
	cl := cronLogger{logger: logger}
	opts = append([]cron.Option{
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	}, opts...)

	s := &Scheduler{
		cron:   cron.New(opts...),
		run:    run,
		logger: logger,
		ids:    make(map[cron.EntryID]Entry, len(entries)),
		ctx:    context.Background(),
	}
	for _, e := range entries {
		id, err := s.cron.AddFunc(e.Spec, func() { s.fire(e) })
		if err != nil {
			return nil, fmt.Errorf("schedule %s at %q: %w", e.Source, e.Spec, err)
		}
		s.ids[id] = e
	}
	return s, nil
}

func (s *Scheduler) fire(e Entry) {
	logger := s.logger.With(zap.String("source", e.Source), zap.String("window", e.Window))
	logger.Info("scheduled crawl started")
	start := time.Now()
	if err := s.run(s.ctx, e); err != nil {
		logger.Error("scheduled crawl failed", zap.Error(err))
		return
	}
	logger.Info("scheduled crawl finished", zap.Duration("elapsed", time.Since(start)))
}

// Run starts the cron loop and blocks until ctx is done, then waits for
// running crawls to return. Crawls see ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("entries", len(s.ids)))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// Upcoming lists entries by next activation. It is meaningful once Run started.
func (s *Scheduler) Upcoming() []Upcoming {
	var out []Upcoming
	for _, ce := range s.cron.Entries() {
		out = append(out, Upcoming{Entry: s.ids[ce.ID], Next: ce.Next})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Next.Before(out[j].Next) })
	return out
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
