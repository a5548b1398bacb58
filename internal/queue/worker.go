package queue

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/price-harvester/internal/browser"
)

// Job is an opaque unit of work defined by the producer.
type Job any

// Role tells producers and consumers apart.
type Role string

// Worker roles.
const (
	RoleProducer Role = "producer"
	RoleConsumer Role = "consumer"
)

// Worker is the handle a producer or consumer receives from its queue. It
// gives access to the queue's shared browser and owns at most one page.
// A Worker is used by a single goroutine.
type Worker struct {
	queue  *Queue
	role   Role
	index  int
	total  int
	logger *zap.Logger
	page   *browser.Page

	produced  atomic.Int64
	processed atomic.Int64
}

func newWorker(q *Queue, role Role, index, total int) *Worker {
	return &Worker{
		queue: q,
		role:  role,
		index: index,
		total: total,
		logger: q.logger.With(
			zap.String("role", string(role)),
			zap.Int("worker", index),
		),
	}
}

// Index is the worker's position among the workers of its role.
func (w *Worker) Index() int { return w.index }

// Total is the number of workers of this role.
func (w *Worker) Total() int { return w.total }

// Role reports whether this is a producer or a consumer.
func (w *Worker) Role() Role { return w.role }

// Logger returns the worker's annotated logger.
func (w *Worker) Logger() *zap.Logger { return w.logger }

// Produced is the number of jobs this worker appended.
func (w *Worker) Produced() int64 { return w.produced.Load() }

// Processed is the number of jobs this worker consumed successfully.
func (w *Worker) Processed() int64 { return w.processed.Load() }

// Push appends jobs to the queue. It reports false, and counts nothing, when
// the queue is stopped or already done.
func (w *Worker) Push(jobs ...Job) bool {
	if len(jobs) == 0 {
		return true
	}
	if !w.queue.push(jobs) {
		w.logger.Debug("push rejected", zap.Int("jobs", len(jobs)))
		return false
	}
	w.produced.Add(int64(len(jobs)))
	w.queue.produced.Add(int64(len(jobs)))
	return true
}

// Browser returns the shared browser context, launching it on first use.
func (w *Worker) Browser(ctx context.Context) (context.Context, error) {
	return w.queue.browser.Context(ctx)
}

// Page returns the worker's own tab, opening it on first use.
func (w *Worker) Page(ctx context.Context) (*browser.Page, error) {
	if w.page != nil {
		return w.page, nil
	}
	w.logger.Info("opening a new page")
	page, err := w.queue.browser.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	w.page = page
	return page, nil
}

// ClosePage closes the worker's tab if one is open. Failures are logged only.
func (w *Worker) ClosePage() {
	if w.page == nil {
		return
	}
	w.logger.Info("closing a page")
	if err := w.page.Close(); err != nil {
		w.logger.Warn("failed to close page", zap.Error(err))
	}
	w.page = nil
}

// Tab attaches to an already open tab by position. An out of range index
// yields a nil page and no error. The caller owns the returned page.
func (w *Worker) Tab(ctx context.Context, index int) (*browser.Page, error) {
	return w.queue.browser.AttachTab(ctx, index)
}
