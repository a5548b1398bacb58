package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/price-harvester/internal/browser"
	"github.com/JakeFAU/price-harvester/internal/metrics"
	"github.com/JakeFAU/price-harvester/internal/progress"
)

// ErrAlreadyRun is returned when Run is called twice on one Queue.
var ErrAlreadyRun = errors.New("queue already run")

// Result summarizes a finished run.
type Result struct {
	Produced  int64
	Processed int64
}

// Queue runs producers and consumers over a shared FIFO job list.
type Queue struct {
	opts        Options
	logger      *zap.Logger
	newProducer ProducerFactory
	newConsumer ConsumerFactory
	browser     *browser.Shared

	mu   sync.Mutex
	jobs []Job
	done bool

	allProduced atomic.Bool
	stopped     atomic.Bool
	stopOnce    sync.Once
	stopCh      chan struct{}
	ran         atomic.Bool

	startedAt time.Time
	produced  atomic.Int64
	consumed  atomic.Int64
}

// New builds a Queue. Nothing starts until Run.
func New(opts Options, newProducer ProducerFactory, newConsumer ConsumerFactory, logger *zap.Logger) (*Queue, error) {
	if newProducer == nil {
		return nil, errors.New("producer factory is required")
	}
	if newConsumer == nil {
		return nil, errors.New("consumer factory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	logger = logger.Named("queue").With(zap.String("queue", opts.Name))
	return &Queue{
		opts:        opts,
		logger:      logger,
		newProducer: newProducer,
		newConsumer: newConsumer,
		browser:     browser.New(opts.Browser, logger),
		stopCh:      make(chan struct{}),
	}, nil
}

// Name returns the queue name used in logs and metrics.
func (q *Queue) Name() string { return q.opts.Name }

// Run starts every producer and consumer at once and returns when all
// consumers have returned. Cancelling ctx stops the queue.
func (q *Queue) Run(ctx context.Context) (Result, error) {
	if !q.ran.CompareAndSwap(false, true) {
		return Result{}, ErrAlreadyRun
	}
	q.startedAt = time.Now()
	q.logger.Info("queue started",
		zap.Int("producers", q.opts.Producers),
		zap.Int("consumers", q.opts.Consumers),
	)

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			q.logger.Warn("context canceled, stopping queue", zap.Error(ctx.Err()))
			q.Stop()
		case <-finished:
		}
	}()

	stopStats := q.startStats(ctx)

	var producers sync.WaitGroup
	for i := range q.opts.Producers {
		w := newWorker(q, RoleProducer, i, q.opts.Producers)
		producers.Add(1)
		go func() {
			defer producers.Done()
			q.runProducer(ctx, w)
		}()
	}
	go func() {
		producers.Wait()
		q.allProduced.Store(true)
		q.logger.Info("all producers finished", zap.Int64("produced", q.produced.Load()))
	}()

	var consumers sync.WaitGroup
	for i := range q.opts.Consumers {
		w := newWorker(q, RoleConsumer, i, q.opts.Consumers)
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			q.runConsumer(ctx, w)
		}()
	}
	consumers.Wait()

	if !q.IsDone() {
		q.logger.Warn("all consumers stopped before the queue drained", zap.Int("remaining", q.Len()))
		q.Stop()
	}
	stopStats()
	q.emitStats(ctx, true)
	q.browser.Close()

	res := Result{Produced: q.produced.Load(), Processed: q.consumed.Load()}
	q.logger.Info("queue finished",
		zap.Int64("produced", res.Produced),
		zap.Int64("processed", res.Processed),
		zap.Duration("elapsed", time.Since(q.startedAt)),
	)
	return res, nil
}

// Stop ends the run: pending jobs are dropped, waiting consumers wake up and
// the shared browser is closed. Calls already in flight finish on their own.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.stopped.Store(true)
		q.mu.Lock()
		dropped := len(q.jobs)
		q.jobs = nil
		q.mu.Unlock()
		close(q.stopCh)
		q.browser.Close()
		q.logger.Info("queue stopped", zap.Int("dropped", dropped))
	})
}

// IsStopped reports whether Stop has been called.
func (q *Queue) IsStopped() bool {
	return q.stopped.Load()
}

// AllProduced reports whether every producer has returned.
func (q *Queue) AllProduced() bool {
	return q.allProduced.Load()
}

// IsDone reports whether consumers should stop: the queue was stopped, or it
// is empty and every producer has returned. Once true it stays true.
func (q *Queue) IsDone() bool {
	if q.stopped.Load() {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.done && len(q.jobs) == 0 && q.allProduced.Load() {
		q.done = true
	}
	return q.done
}

// Len is the number of jobs waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Snapshot returns the current progress figures.
func (q *Queue) Snapshot() progress.Snapshot {
	var elapsed time.Duration
	if !q.startedAt.IsZero() {
		elapsed = time.Since(q.startedAt)
	}
	return progress.Compute(q.opts.Name, q.consumed.Load(), q.produced.Load(), q.Len(), elapsed)
}

func (q *Queue) push(jobs []Job) bool {
	if q.stopped.Load() {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.done || q.stopped.Load() {
		return false
	}
	q.jobs = append(q.jobs, jobs...)
	metrics.ObserveProduced(q.opts.Name, len(jobs))
	return true
}

func (q *Queue) pop() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil, false
	}
	job := q.jobs[0]
	q.jobs[0] = nil
	q.jobs = q.jobs[1:]
	return job, true
}

// wait sleeps one poll interval or until the queue is stopped.
func (q *Queue) wait() {
	timer := time.NewTimer(q.opts.PollInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-q.stopCh:
	}
}

func (q *Queue) runProducer(ctx context.Context, w *Worker) {
	metrics.IncActiveWorkers(string(RoleProducer))
	defer metrics.DecActiveWorkers(string(RoleProducer))
	defer w.ClosePage()

	var p Producer
	if err := guard(func() error {
		p = q.newProducer(w.index)
		if p == nil {
			return errors.New("producer factory returned nil")
		}
		return nil
	}); err != nil {
		w.logger.Error("failed to build producer", zap.Error(err))
		return
	}

	if err := initialize(ctx, p, w); err != nil {
		w.logger.Error("producer initialization failed", zap.Error(err))
	} else if err := guard(func() error { return p.Produce(ctx, w) }); err != nil {
		w.logger.Error("producer stopped with error", zap.Error(err))
	}
	if err := finalize(ctx, p, w); err != nil {
		w.logger.Warn("producer finalization failed", zap.Error(err))
	}
	w.logger.Info("producer finished", zap.Int64("produced", w.Produced()))
}

func (q *Queue) runConsumer(ctx context.Context, w *Worker) {
	metrics.IncActiveWorkers(string(RoleConsumer))
	defer metrics.DecActiveWorkers(string(RoleConsumer))
	defer w.ClosePage()

	var c Consumer
	if err := guard(func() error {
		c = q.newConsumer(w.index)
		if c == nil {
			return errors.New("consumer factory returned nil")
		}
		return nil
	}); err != nil {
		w.logger.Error("failed to build consumer", zap.Error(err))
		return
	}

	if err := initialize(ctx, c, w); err != nil {
		w.logger.Error("consumer initialization failed", zap.Error(err))
	} else {
		q.consumeLoop(ctx, w, c)
	}
	if err := finalize(ctx, c, w); err != nil {
		w.logger.Warn("consumer finalization failed", zap.Error(err))
	}
	w.logger.Info("consumer finished", zap.Int64("processed", w.Processed()))
}

func (q *Queue) consumeLoop(ctx context.Context, w *Worker, c Consumer) {
	failures := 0
	for !q.IsDone() {
		if job, ok := q.pop(); ok {
			if err := q.consumeOne(ctx, w, c, job); err != nil {
				failures++
				metrics.ObserveConsumed(q.opts.Name, false)
				w.logger.Warn("failed to consume job", zap.Error(err), zap.Int("consecutive_failures", failures))
				if failures > q.opts.MaxConsecutiveFailures {
					w.logger.Error("too many consecutive failures, consumer aborting",
						zap.Int("consecutive_failures", failures),
					)
					return
				}
			} else {
				failures = 0
				w.processed.Add(1)
				q.consumed.Add(1)
				metrics.ObserveConsumed(q.opts.Name, true)
			}
		}
		q.wait()
	}
}

func (q *Queue) consumeOne(ctx context.Context, w *Worker, c Consumer, job Job) error {
	if q.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.opts.JobTimeout)
		defer cancel()
	}
	return guard(func() error { return c.Consume(ctx, w, job) })
}

func (q *Queue) startStats(ctx context.Context) func() {
	if q.opts.StatsInterval <= 0 || len(q.opts.StatsSinks) == 0 {
		return func() {}
	}
	ticker := time.NewTicker(q.opts.StatsInterval)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ticker.C:
				q.emitStats(ctx, false)
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
		wg.Wait()
	}
}

func (q *Queue) emitStats(ctx context.Context, final bool) {
	if len(q.opts.StatsSinks) == 0 {
		return
	}
	snap := q.Snapshot()
	snap.Final = final
	for _, sink := range q.opts.StatsSinks {
		if err := guard(func() error { return sink.Consume(context.WithoutCancel(ctx), snap) }); err != nil {
			q.logger.Warn("failed to emit stats", zap.Error(err))
		}
	}
}

func initialize(ctx context.Context, role any, w *Worker) error {
	init, ok := role.(Initializer)
	if !ok {
		return nil
	}
	return guard(func() error { return init.Initialize(ctx, w) })
}

func finalize(ctx context.Context, role any, w *Worker) error {
	fin, ok := role.(Finalizer)
	if !ok {
		return nil
	}
	return guard(func() error { return fin.Finalize(context.WithoutCancel(ctx), w) })
}

// guard runs fn and turns a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
