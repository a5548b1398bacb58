package schedule

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
)

func TestNewRejectsBadSpec(t *testing.T) {
	t.Parallel()

	_, err := New([]Entry{{Spec: "whenever", Source: "Tapm"}}, func(context.Context, Entry) error { return nil }, nil)
	require.Error(t, err)

	_, err = New(nil, nil, nil)
	require.Error(t, err)
}

func TestSchedulerRunsEntries(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen []Entry
	)
	run := func(_ context.Context, e Entry) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e)
		return errors.New("upstream down")
	}
	s, err := New([]Entry{{Spec: "@every 1s", Source: "Tapm", Window: "yesterday"}}, run, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	}, 5*time.Second, 20*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, Entry{Spec: "@every 1s", Source: "Tapm", Window: "yesterday"}, seen[0])
}

func TestSchedulerRecoversPanics(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	run := func(context.Context, Entry) error {
		calls.Add(1)
		panic("boom")
	}
	s, err := New([]Entry{{Spec: "@every 1s", Source: "Tapm"}}, run, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 5*time.Second, 20*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestUpcomingOrdersByNextActivation(t *testing.T) {
	t.Parallel()

	s, err := New([]Entry{
		{Spec: "0 6 1 1 *", Source: "daily"},
		{Spec: "@every 1m", Source: "often"},
	}, func(context.Context, Entry) error { return nil }, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	require.Eventually(t, func() bool {
		up := s.Upcoming()
		return len(up) == 2 && !up[0].Next.IsZero()
	}, time.Second, 10*time.Millisecond)

	up := s.Upcoming()
	assert.Equal(t, "often", up[0].Entry.Source)
	assert.Equal(t, "daily", up[1].Entry.Source)
	cancel()
	require.NoError(t, <-done)
}
