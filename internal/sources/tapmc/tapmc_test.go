package tapmc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/price-harvester/internal/crawler"
	"github.com/JakeFAU/price-harvester/internal/fetch"
	"github.com/JakeFAU/price-harvester/internal/orchestrator"
	"github.com/JakeFAU/price-harvester/internal/queue"
	"github.com/JakeFAU/price-harvester/internal/record"
	registrymemory "github.com/JakeFAU/price-harvester/internal/registry/memory"
	sinkmemory "github.com/JakeFAU/price-harvester/internal/sink/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type staticHash string

func (h staticHash) NewRunHash() (string, error) { return string(h), nil }

func TestParseBoard(t *testing.T) {
	t.Parallel()

	board, err := Parse([]byte(boardHTML))
	require.NoError(t, err)
	assert.Equal(t, "2024-06-14", board.Date)
	assert.False(t, board.Holiday)
	assert.Equal(t, []string{"品名", "品種", "上價", "中價", "下價"}, board.Columns)
	require.Len(t, board.Records, 2)

	cabbage := board.Records[0]
	assert.Equal(t, "甘藍", cabbage.Product)
	assert.Equal(t, "初秋", cabbage.Variety)
	assert.InDelta(t, 30.5, *cabbage.Prices.Max, 1e-9)
	assert.InDelta(t, 22.1, *cabbage.Prices.Avg, 1e-9)
	assert.InDelta(t, 15, *cabbage.Prices.Min, 1e-9)

	garlic := board.Records[1]
	assert.InDelta(t, 1200, *garlic.Prices.Max, 1e-9)
	assert.InDelta(t, 95.3, *garlic.Prices.Min, 1e-9, "missing low price falls back to the average")
}

func TestParseHoliday(t *testing.T) {
	t.Parallel()

	board, err := Parse([]byte(holidayHTML))
	require.NoError(t, err)
	assert.True(t, board.Holiday)
	assert.Empty(t, board.Records)
}

func TestParseRejectsPageWithoutDate(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("<html><body><p>maintenance</p></body></html>"))
	require.Error(t, err)
}

func newCrawler(t *testing.T, page string) (*orchestrator.Crawler, *sinkmemory.Sink, *registrymemory.Registry) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}))
	t.Cleanup(srv.Close)

	clock := fixedClock{now: time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)}
	sink := sinkmemory.New(nil)
	reg := registrymemory.New()
	def := Definition(Config{URL: srv.URL + "/Pages/Index"}, fetch.New(fetch.Config{Timeout: time.Second}, nil))
	c, err := orchestrator.New(def, orchestrator.Dependencies{
		Registry:  reg,
		Sink:      sink,
		Alarmer:   reg,
		Clock:     clock,
		Hashes:    staticHash("run"),
		Validator: record.NewValidator(clock),
		Logger:    zap.NewNop(),
	}, orchestrator.Settings{
		Queue: queue.Options{PollInterval: time.Millisecond, StatsInterval: -1},
	})
	require.NoError(t, err)
	return c, sink, reg
}

func TestCrawlPushesBoardRecords(t *testing.T) {
	t.Parallel()

	c, sink, reg := newCrawler(t, boardHTML)
	n, err := c.Crawl(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records := sink.Records()
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, "TW", r.Country)
		assert.Equal(t, "TWD", r.Currency)
		assert.Equal(t, "w", r.Type)
		assert.Equal(t, "Taipei", r.Region)
		assert.Equal(t, "2024-06-14", r.Date)
	}
	require.Len(t, sink.Completions(), 1)
	assert.Equal(t, crawler.KindWholesale, sink.Completions()[0].Kind)
	assert.Empty(t, reg.Alarms())
}

func TestCrawlRaisesAlarmOnChangedBoard(t *testing.T) {
	t.Parallel()

	c, sink, reg := newCrawler(t, changedHTML)
	n, err := c.Crawl(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, sink.Records(), 1)

	alarms := reg.Alarms()
	require.Len(t, alarms, 1)
	assert.Equal(t, "上價 -> 最高價", alarms[0].Message)
}

func TestCrawlHolidayPushesNothing(t *testing.T) {
	t.Parallel()

	c, sink, _ := newCrawler(t, holidayHTML)
	n, err := c.Crawl(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, sink.Batches())
	assert.Empty(t, sink.Completions())
}
