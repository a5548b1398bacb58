package pusher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/price-harvester/internal/crawler"
	"github.com/JakeFAU/price-harvester/internal/record"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type staticHash string

func (h staticHash) NewRunHash() (string, error) { return string(h), nil }

type failingHash struct{}

func (failingHash) NewRunHash() (string, error) { return "", errors.New("entropy exhausted") }

type fakeSink struct {
	mu          sync.Mutex
	batches     []crawler.Batch
	completions []crawler.Completion
	failBatch   map[int]bool
	calls       int
}

func (s *fakeSink) PushBatch(_ context.Context, b crawler.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failBatch[s.calls] {
		return errors.New("sink rejected batch")
	}
	s.batches = append(s.batches, b)
	return nil
}

func (s *fakeSink) Complete(_ context.Context, c crawler.Completion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completions = append(s.completions, c)
	return nil
}

func (s *fakeSink) sizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.batches))
	for _, b := range s.batches {
		out = append(out, len(b.Records))
	}
	return out
}

var now = time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)

func newTestPusher(t *testing.T, opts Options, sink crawler.Sink) *Pusher {
	t.Helper()
	clock := fixedClock{now: now}
	if opts.Kind == "" {
		opts.Kind = crawler.KindWholesale
	}
	if opts.Source.ID == "" {
		opts.Source = crawler.Source{ID: "src-1", Name: "test-source"}
	}
	p, err := New(opts, sink, record.NewValidator(clock), clock, staticHash("abc123"), zap.NewNop())
	require.NoError(t, err)
	return p
}

func rec(i int) crawler.Record {
	return crawler.Record{
		Product:  fmt.Sprintf("product-%d", i),
		Country:  "KR",
		Date:     "2024-06-14",
		Type:     "w",
		PageURL:  "https://example.com/prices",
		Unit:     "kg",
		Currency: "KRW",
		Prices:   crawler.Prices{Avg: record.Price(float64(1000 + i))},
	}
}

func recs(from, n int) []crawler.Record {
	out := make([]crawler.Record, 0, n)
	for i := range n {
		out = append(out, rec(from+i))
	}
	return out
}

func TestThresholdFlushAndComplete(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	p := newTestPusher(t, Options{Threshold: 30}, sink)
	ctx := context.Background()

	p.Push(ctx, recs(0, 10)...)
	p.Push(ctx, recs(10, 10)...)
	assert.Empty(t, sink.sizes())
	p.Push(ctx, recs(20, 15)...)
	assert.Equal(t, 35, p.Count())
	assert.Equal(t, []int{30, 5}, sink.sizes(), "reaching the threshold flushes everything pending")

	require.NoError(t, p.Complete(ctx, "2024-06-14"))
	assert.Equal(t, []int{30, 5}, sink.sizes())
	assert.Equal(t, 35, p.Count())

	require.Len(t, sink.completions, 1)
	assert.Equal(t, crawler.Completion{
		SourceID: "src-1",
		Hash:     "abc123",
		Kind:     crawler.KindWholesale,
		Date:     "2024-06-14",
	}, sink.completions[0])

	// batches keep push order
	assert.Equal(t, "product-0", sink.batches[0].Records[0].Product)
	assert.Equal(t, "product-34", sink.batches[1].Records[4].Product)
	for _, b := range sink.batches {
		assert.Equal(t, "abc123", b.Hash)
		assert.Equal(t, "src-1", b.SourceID)
	}
}

func TestCountIsAdditive(t *testing.T) {
	t.Parallel()

	p := newTestPusher(t, Options{Threshold: 4}, &fakeSink{})
	ctx := context.Background()
	total := 0
	for _, n := range []int{3, 0, 7, 1} {
		total += p.Push(ctx, recs(total, n)...)
		assert.Equal(t, total, p.Count())
	}
	require.NoError(t, p.Flush(ctx))
	assert.Equal(t, 11, p.Count(), "flushing never lowers the count")
}

func TestCompleteIsNoOpWithoutRecords(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	p := newTestPusher(t, Options{}, sink)
	require.NoError(t, p.Complete(context.Background(), ""))
	assert.Empty(t, sink.batches)
	assert.Empty(t, sink.completions)
}

func TestPushAndFlushForcesDelivery(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	p := newTestPusher(t, Options{Threshold: 100}, sink)
	p.PushAndFlush(context.Background(), recs(0, 3)...)
	assert.Equal(t, []int{3}, sink.sizes())
}

func TestFailedBatchDoesNotStopFlush(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{failBatch: map[int]bool{1: true}}
	p := newTestPusher(t, Options{Threshold: 2}, sink)
	ctx := context.Background()
	p.mu.Lock()
	p.buffer = recs(0, 5)
	p.count = 5
	p.mu.Unlock()

	err := p.Flush(ctx)
	require.Error(t, err)
	assert.Equal(t, []int{2, 1}, sink.sizes())

	require.NoError(t, p.Complete(ctx, ""))
	assert.Len(t, sink.completions, 1)
}

func TestInvalidRecordsAreDropped(t *testing.T) {
	t.Parallel()

	p := newTestPusher(t, Options{}, &fakeSink{})
	bad := rec(1)
	bad.Prices = crawler.Prices{Min: record.Price(10)}
	future := rec(2)
	future.Date = "2024-06-20"

	accepted := p.Push(context.Background(), rec(0), bad, future)
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, p.Count())
}

func TestDefaultsFillMissingFields(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	p := newTestPusher(t, Options{Defaults: crawler.Record{Country: "KR", Currency: "KRW", Unit: "kg", Type: "w"}}, sink)
	r := crawler.Record{
		Product: "garlic",
		Date:    "2024-06-01",
		PageURL: "https://example.com/prices?q=마늘",
		Prices:  crawler.Prices{Min: record.Price(1.1234567891234), Max: record.Price(2)},
	}
	require.Equal(t, 1, p.PushAndFlush(context.Background(), r))

	got := sink.batches[0].Records[0]
	assert.Equal(t, "KR", got.Country)
	assert.Equal(t, "KRW", got.Currency)
	assert.Equal(t, "kg", got.Unit)
	assert.Equal(t, "w", got.Type)
	assert.Equal(t, "https://example.com/prices?q=%EB%A7%88%EB%8A%98", got.PageURL)
	assert.InDelta(t, 1.123456789, *got.Prices.Min, 1e-12)
	assert.Equal(t, "https://example.com/prices?q=마늘", r.PageURL, "caller's record is untouched")
}

func TestMonthlyFrequencyClampsDates(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	p := newTestPusher(t, Options{Frequency: FrequencyMonthly}, sink)
	april := rec(0)
	april.Date = "2024-04-01"
	june := rec(1)
	june.Date = "2024-06-01"

	require.Equal(t, 2, p.PushAndFlush(context.Background(), april, june))
	assert.Equal(t, []string{"2024-04-30", "2024-06-14"}, p.Dates())
}

func TestLastMonthOnlyFiltersOldRecords(t *testing.T) {
	t.Parallel()

	p := newTestPusher(t, Options{LastMonthOnly: true}, &fakeSink{})
	old := rec(0)
	old.Date = "2024-05-14"
	edge := rec(1)
	edge.Date = "2024-05-15"

	assert.Equal(t, 2, p.Push(context.Background(), old, edge, rec(2)))
	assert.Equal(t, []string{"2024-05-15", "2024-06-14"}, p.Dates())
	assert.Equal(t, 2, p.Count(), "stale records are not counted")
}

func TestConcurrentPushes(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	p := newTestPusher(t, Options{Threshold: 7}, sink)
	ctx := context.Background()
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 10 {
				p.Push(ctx, rec(w*10+i))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, p.Complete(ctx, ""))

	total := 0
	for _, n := range sink.sizes() {
		assert.LessOrEqual(t, n, 7)
		total += n
	}
	assert.Equal(t, 80, total)
	assert.Equal(t, 80, p.Count())
}

func TestNewValidatesDependencies(t *testing.T) {
	t.Parallel()

	clock := fixedClock{now: now}
	v := record.NewValidator(clock)
	opts := Options{Kind: crawler.KindRetail}

	_, err := New(opts, nil, v, clock, staticHash("h"), nil)
	require.Error(t, err)
	_, err = New(Options{Kind: "bogus"}, &fakeSink{}, v, clock, staticHash("h"), nil)
	require.Error(t, err)
	_, err = New(opts, &fakeSink{}, v, clock, failingHash{}, nil)
	require.Error(t, err)

	p, err := New(opts, &fakeSink{}, v, clock, staticHash("h"), nil)
	require.NoError(t, err)
	assert.Equal(t, "h", p.Hash())
	assert.Equal(t, DefaultThreshold, p.opts.Threshold)
}
