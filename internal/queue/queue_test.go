package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/price-harvester/internal/progress"
)

func testOptions() Options {
	return Options{
		Name:          "test",
		PollInterval:  time.Millisecond,
		StatsInterval: -1,
	}
}

func newTestQueue(t *testing.T, opts Options, p ProducerFactory, c ConsumerFactory) *Queue {
	t.Helper()
	q, err := New(opts, p, c, zap.NewNop())
	require.NoError(t, err)
	return q
}

type countingProducer struct {
	n         int
	finalized *sync.Map
}

func (p *countingProducer) Produce(_ context.Context, w *Worker) error {
	for j := range p.n {
		if !w.Push(j) {
			return errors.New("push rejected")
		}
	}
	return nil
}

func (p *countingProducer) Finalize(_ context.Context, w *Worker) error {
	if p.finalized != nil {
		p.finalized.Store(w.Index(), w.Produced())
	}
	return nil
}

func TestRunTwoProducersThreeConsumers(t *testing.T) {
	t.Parallel()

	var finalized sync.Map
	var consumed atomic.Int64
	opts := testOptions()
	opts.Producers = 2
	opts.Consumers = 3
	q := newTestQueue(t, opts,
		func(int) Producer { return &countingProducer{n: 5, finalized: &finalized} },
		func(int) Consumer {
			return ConsumerFunc(func(context.Context, *Worker, Job) error {
				consumed.Add(1)
				return nil
			})
		},
	)

	res, err := q.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Produced)
	assert.Equal(t, int64(10), res.Processed)
	assert.Equal(t, int64(10), consumed.Load())
	assert.True(t, q.AllProduced())
	assert.True(t, q.IsDone())

	for i := range 2 {
		v, ok := finalized.Load(i)
		require.True(t, ok)
		assert.Equal(t, int64(5), v, "each producer keeps its own counter")
	}
}

func TestConsumerStopsAfterCeilingPlusOneFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	opts := testOptions()
	opts.MaxConsecutiveFailures = 3
	q := newTestQueue(t, opts,
		func(int) Producer { return &countingProducer{n: 20} },
		func(int) Consumer {
			return ConsumerFunc(func(context.Context, *Worker, Job) error {
				calls.Add(1)
				return errors.New("boom")
			})
		},
	)

	res, err := q.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), calls.Load())
	assert.Zero(t, res.Processed)
	assert.True(t, q.IsStopped(), "queue is stopped once every consumer gave up")
	assert.Zero(t, q.Len())
}

func TestDefaultCeilingIsOneHundred(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	q := newTestQueue(t, testOptions(),
		func(int) Producer { return &countingProducer{n: 150} },
		func(int) Consumer {
			return ConsumerFunc(func(context.Context, *Worker, Job) error {
				calls.Add(1)
				return errors.New("boom")
			})
		},
	)
	_, err := q.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(101), calls.Load())
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.MaxConsecutiveFailures = 2
	q := newTestQueue(t, opts,
		func(int) Producer { return &countingProducer{n: 9} },
		func(int) Consumer {
			return ConsumerFunc(func(_ context.Context, _ *Worker, job Job) error {
				if job.(int)%3 == 2 {
					return nil
				}
				return errors.New("flaky")
			})
		},
	)
	res, err := q.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Processed)
	assert.False(t, q.IsStopped())
}

func TestProducerFailuresAreIsolated(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.Producers = 3
	opts.Consumers = 2
	q := newTestQueue(t, opts,
		func(i int) Producer {
			switch i {
			case 0:
				return ProducerFunc(func(context.Context, *Worker) error { panic("producer exploded") })
			case 1:
				return ProducerFunc(func(_ context.Context, w *Worker) error {
					w.Push("a")
					return errors.New("gave up")
				})
			default:
				return &countingProducer{n: 3}
			}
		},
		func(int) Consumer {
			return ConsumerFunc(func(context.Context, *Worker, Job) error { return nil })
		},
	)

	done := make(chan Result, 1)
	go func() {
		res, err := q.Run(context.Background())
		assert.NoError(t, err)
		done <- res
	}()

	select {
	case res := <-done:
		assert.Equal(t, int64(4), res.Produced)
		assert.Equal(t, int64(4), res.Processed)
	case <-time.After(5 * time.Second):
		t.Fatal("queue run did not resolve")
	}
}

func TestConsumerPanicCountsAsFailure(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, testOptions(),
		func(int) Producer { return &countingProducer{n: 4} },
		func(int) Consumer {
			return ConsumerFunc(func(_ context.Context, _ *Worker, job Job) error {
				if job.(int) == 1 {
					panic("bad job")
				}
				return nil
			})
		},
	)
	res, err := q.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Processed)
}

func TestConsumersWaitForSlowProducers(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.Consumers = 3
	q := newTestQueue(t, opts,
		func(int) Producer {
			return ProducerFunc(func(_ context.Context, w *Worker) error {
				for i := range 5 {
					time.Sleep(15 * time.Millisecond)
					w.Push(i)
				}
				return nil
			})
		},
		func(int) Consumer {
			return ConsumerFunc(func(context.Context, *Worker, Job) error { return nil })
		},
	)
	res, err := q.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Processed)
}

func TestIsDoneLatches(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, testOptions(),
		func(int) Producer { return &countingProducer{} },
		func(int) Consumer { return ConsumerFunc(func(context.Context, *Worker, Job) error { return nil }) },
	)
	assert.False(t, q.IsDone())

	w := newWorker(q, RoleProducer, 0, 1)
	require.True(t, w.Push("x"))
	q.allProduced.Store(true)
	assert.False(t, q.IsDone(), "jobs remain")

	_, ok := q.pop()
	require.True(t, ok)
	assert.True(t, q.IsDone())

	assert.False(t, w.Push("late"), "a done queue rejects pushes")
	assert.Equal(t, int64(1), w.Produced())
	assert.True(t, q.IsDone())
}

func TestConsumerCanPushFollowUpJobs(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, testOptions(),
		func(int) Producer { return &countingProducer{n: 3} },
		func(int) Consumer {
			return ConsumerFunc(func(_ context.Context, w *Worker, job Job) error {
				if n, ok := job.(int); ok {
					w.Push("detail-" + string(rune('a'+n)))
				}
				return nil
			})
		},
	)
	res, err := q.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(6), res.Produced)
	assert.Equal(t, int64(6), res.Processed)
}

func TestStopClearsJobsAndEndsRun(t *testing.T) {
	t.Parallel()

	var q *Queue
	var calls atomic.Int64
	q = newTestQueue(t, testOptions(),
		func(int) Producer { return &countingProducer{n: 50} },
		func(int) Consumer {
			return ConsumerFunc(func(context.Context, *Worker, Job) error {
				if calls.Add(1) == 2 {
					q.Stop()
					q.Stop()
				}
				return nil
			})
		},
	)
	res, err := q.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, int64(2), res.Processed)
	assert.True(t, q.IsStopped())
	assert.True(t, q.IsDone())
	assert.Zero(t, q.Len())

	w := newWorker(q, RoleConsumer, 0, 1)
	assert.False(t, w.Push("after stop"))
	assert.Zero(t, w.Produced())
}

func TestContextCancellationStopsQueue(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	q := newTestQueue(t, testOptions(),
		func(int) Producer {
			return ProducerFunc(func(ctx context.Context, w *Worker) error {
				w.Push(1)
				<-ctx.Done()
				return ctx.Err()
			})
		},
		func(int) Consumer {
			return ConsumerFunc(func(context.Context, *Worker, Job) error {
				cancel()
				return nil
			})
		},
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := q.Run(ctx)
		assert.NoError(t, err)
	}()
	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, 5*time.Second, 5*time.Millisecond)
	assert.True(t, q.IsStopped())
}

func TestJobTimeoutBoundsConsume(t *testing.T) {
	t.Parallel()

	var deadlineHits atomic.Int64
	opts := testOptions()
	opts.JobTimeout = 10 * time.Millisecond
	q := newTestQueue(t, opts,
		func(int) Producer { return &countingProducer{n: 2} },
		func(int) Consumer {
			return ConsumerFunc(func(ctx context.Context, _ *Worker, _ Job) error {
				<-ctx.Done()
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					deadlineHits.Add(1)
				}
				return ctx.Err()
			})
		},
	)
	res, err := q.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.Equal(t, int64(2), deadlineHits.Load())
}

func TestRunTwiceFails(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, testOptions(),
		func(int) Producer { return &countingProducer{n: 1} },
		func(int) Consumer { return ConsumerFunc(func(context.Context, *Worker, Job) error { return nil }) },
	)
	_, err := q.Run(context.Background())
	require.NoError(t, err)
	_, err = q.Run(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRun)
}

func TestNewRequiresFactories(t *testing.T) {
	t.Parallel()

	_, err := New(Options{}, nil, func(int) Consumer { return nil }, nil)
	require.Error(t, err)
	_, err = New(Options{}, func(int) Producer { return nil }, nil, nil)
	require.Error(t, err)
}

func TestNilFactoryResultIsContained(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.Producers = 2
	q := newTestQueue(t, opts,
		func(i int) Producer {
			if i == 0 {
				return nil
			}
			return &countingProducer{n: 2}
		},
		func(int) Consumer { return ConsumerFunc(func(context.Context, *Worker, Job) error { return nil }) },
	)
	res, err := q.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Processed)
}

type hookedConsumer struct {
	initErr   error
	finalized atomic.Bool
	consumed  atomic.Int64
}

func (c *hookedConsumer) Initialize(context.Context, *Worker) error { return c.initErr }

func (c *hookedConsumer) Consume(context.Context, *Worker, Job) error {
	c.consumed.Add(1)
	return nil
}

func (c *hookedConsumer) Finalize(context.Context, *Worker) error {
	c.finalized.Store(true)
	return nil
}

func TestConsumerHooks(t *testing.T) {
	t.Parallel()

	c := &hookedConsumer{}
	q := newTestQueue(t, testOptions(),
		func(int) Producer { return &countingProducer{n: 2} },
		func(int) Consumer { return c },
	)
	_, err := q.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, c.finalized.Load())
	assert.Equal(t, int64(2), c.consumed.Load())

	failing := &hookedConsumer{initErr: errors.New("no session")}
	q = newTestQueue(t, testOptions(),
		func(int) Producer { return &countingProducer{n: 2} },
		func(int) Consumer { return failing },
	)
	res, err := q.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, failing.consumed.Load())
	assert.True(t, failing.finalized.Load(), "finalize runs even when initialize fails")
	assert.Zero(t, res.Processed)
}

type recordingSink struct {
	mu    sync.Mutex
	snaps []progress.Snapshot
}

func (s *recordingSink) Consume(_ context.Context, snap progress.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
	return nil
}

type panickingSink struct{}

func (panickingSink) Consume(context.Context, progress.Snapshot) error { panic("stats exploded") }

type failingSink struct{}

func (failingSink) Consume(context.Context, progress.Snapshot) error { return errors.New("sink unavailable") }

func TestStatsAreBestEffort(t *testing.T) {
	t.Parallel()

	rec := &recordingSink{}
	opts := testOptions()
	opts.StatsInterval = 2 * time.Millisecond
	opts.StatsSinks = []progress.Sink{panickingSink{}, failingSink{}, rec}
	q := newTestQueue(t, opts,
		func(int) Producer { return &countingProducer{n: 10} },
		func(int) Consumer {
			return ConsumerFunc(func(context.Context, *Worker, Job) error {
				time.Sleep(2 * time.Millisecond)
				return nil
			})
		},
	)
	res, err := q.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Processed)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.snaps)
	last := rec.snaps[len(rec.snaps)-1]
	assert.True(t, last.Final)
	assert.Equal(t, int64(10), last.Consumed)
	assert.Equal(t, "test", last.Queue)
	assert.Zero(t, last.Remaining)
}

func TestZeroStatsIntervalEmitsOnlyFinalSnapshot(t *testing.T) {
	t.Parallel()

	rec := &recordingSink{}
	opts := testOptions()
	opts.StatsInterval = 0
	opts.StatsSinks = []progress.Sink{rec}
	q := newTestQueue(t, opts,
		func(int) Producer { return &countingProducer{n: 5} },
		func(int) Consumer {
			return ConsumerFunc(func(context.Context, *Worker, Job) error {
				time.Sleep(2 * time.Millisecond)
				return nil
			})
		},
	)
	assert.Zero(t, q.opts.StatsInterval, "zero is kept, not replaced by a default")

	_, err := q.Run(context.Background())
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.snaps, 1)
	assert.True(t, rec.snaps[0].Final)
}
