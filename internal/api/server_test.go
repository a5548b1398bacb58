package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/price-harvester/internal/progress"
)

func do(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec, body := do(t, NewServer(Options{}, zap.NewNop()).Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyzRunsChecks(t *testing.T) {
	t.Parallel()

	ok := NewServer(Options{Checks: map[string]Check{
		"postgres": func(context.Context) error { return nil },
	}}, nil)
	rec, body := do(t, ok.Handler(), "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body["status"])

	failing := NewServer(Options{Checks: map[string]Check{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}}, nil)
	rec, body = do(t, failing.Handler(), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, map[string]any{"redis": "connection refused"}, body["failed"])
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	rec, _ := do(t, NewServer(Options{}, nil).Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestQueueEndpoints(t *testing.T) {
	t.Parallel()

	board := NewBoard()
	require.NoError(t, board.Consume(context.Background(), progress.Compute("Tapm", 10, 12, 2, 5*time.Second)))
	srv := NewServer(Options{Board: board}, nil).Handler()

	rec, body := do(t, srv, "/v1/queues")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["queues"], 1)

	rec, body = do(t, srv, "/v1/queues/Tapm")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 10, body["consumed"], 0)
	assert.InDelta(t, 2, body["throughput"], 1e-9)
	assert.Equal(t, "1s", body["etc"])

	rec, _ = do(t, srv, "/v1/queues/unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, NewServer(Options{}, nil).Handler(), "/v1/queues")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBoardKeepsLatestSnapshot(t *testing.T) {
	t.Parallel()

	board := NewBoard()
	ctx := context.Background()
	require.NoError(t, board.Consume(ctx, progress.Snapshot{Queue: "a", Consumed: 1}))
	require.NoError(t, board.Consume(ctx, progress.Snapshot{Queue: "a", Consumed: 5, Final: true}))
	require.NoError(t, board.Consume(ctx, progress.Snapshot{Queue: "b", Consumed: 2}))

	stats, ok := board.Queue("a")
	require.True(t, ok)
	assert.Equal(t, int64(5), stats.Consumed)
	assert.True(t, stats.Final)
	assert.Len(t, board.Queues(), 2)
}

func TestScheduleEndpoint(t *testing.T) {
	t.Parallel()

	next := time.Date(2024, 6, 15, 6, 0, 0, 0, time.UTC)
	srv := NewServer(Options{Schedule: func() []ScheduledRun {
		return []ScheduledRun{
			{Source: "Maha Grid", Spec: "0 7 * * *", Next: next.Add(time.Hour)},
			{Source: "Tapm", Spec: "0 6 * * *", Next: next},
		}
	}}, nil).Handler()

	rec, body := do(t, srv, "/v1/schedule")
	assert.Equal(t, http.StatusOK, rec.Code)
	runs, ok := body["runs"].([]any)
	require.True(t, ok)
	require.Len(t, runs, 2)
	assert.Equal(t, "Tapm", runs[0].(map[string]any)["source"])
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	s := NewServer(Options{}, nil)
	h := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec, body := do(t, h, "/")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", body["error"])
}

func TestServeStopsWithContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(Options{}, nil).Serve(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
