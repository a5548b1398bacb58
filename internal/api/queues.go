package api

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/price-harvester/internal/progress"
)

// Board keeps the latest snapshot of every queue. It is a progress.Sink.
type Board struct {
	mu    sync.RWMutex
	snaps map[string]QueueStats
	now   func() time.Time
}

// QueueStats is a snapshot as served over HTTP.
type QueueStats struct {
	Queue      string    `json:"queue"`
	Consumed   int64     `json:"consumed"`
	Produced   int64     `json:"produced"`
	Remaining  int       `json:"remaining"`
	Elapsed    string    `json:"elapsed"`
	Throughput float64   `json:"throughput"`
	ETC        string    `json:"etc"`
	Final      bool      `json:"final"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewBoard creates an empty Board.
func NewBoard() *Board {
	return &Board{snaps: make(map[string]QueueStats), now: time.Now}
}

// Consume records snap as the latest view of its queue.
func (b *Board) Consume(_ context.Context, snap progress.Snapshot) error {
	stats := QueueStats{
		Queue:      snap.Queue,
		Consumed:   snap.Consumed,
		Produced:   snap.Produced,
		Remaining:  snap.Remaining,
		Elapsed:    snap.Elapsed.Round(time.Millisecond).String(),
		Throughput: snap.Throughput,
		ETC:        snap.ETC.String(),
		Final:      snap.Final,
		UpdatedAt:  b.now().UTC(),
	}
	b.mu.Lock()
	b.snaps[snap.Queue] = stats
	b.mu.Unlock()
	return nil
}

// Queues returns every known queue, most recently updated first.
func (b *Board) Queues() []QueueStats {
	b.mu.RLock()
	out := make([]QueueStats, 0, len(b.snaps))
	for _, s := range b.snaps {
		out = append(out, s)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].Queue < out[j].Queue
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Queue returns the latest snapshot of name.
func (b *Board) Queue(name string) (QueueStats, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.snaps[name]
	return s, ok
}

func (s *Server) listQueues(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Board == nil {
		writeError(w, http.StatusServiceUnavailable, "queue stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queues": s.opts.Board.Queues()})
}

func (s *Server) getQueue(w http.ResponseWriter, r *http.Request) {
	if s.opts.Board == nil {
		writeError(w, http.StatusServiceUnavailable, "queue stats unavailable")
		return
	}
	stats, ok := s.opts.Board.Queue(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "queue not found")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
