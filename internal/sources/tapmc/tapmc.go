// Package tapmc crawls the daily wholesale board of the Taipei Agricultural
// Products Marketing Corporation.
package tapmc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/price-harvester/internal/crawler"
	"github.com/JakeFAU/price-harvester/internal/dates"
	"github.com/JakeFAU/price-harvester/internal/fetch"
	"github.com/JakeFAU/price-harvester/internal/orchestrator"
	"github.com/JakeFAU/price-harvester/internal/queue"
	"github.com/JakeFAU/price-harvester/internal/record"
)

// Name identifies the source in the catalog and the registry.
const Name = "Tapm"

// DefaultURL is the board page.
const DefaultURL = "http://www.tapmc.com.taipei/Pages/Index"

// Board column titles.
const (
	colProduct = "品名"
	colVariety = "品種"
	colMax     = "上價"
	colAvg     = "中價"
	colMin     = "下價"
)

// rocOffset converts Minguo calendar years to Gregorian years.
const rocOffset = 1911

var digits = regexp.MustCompile(`\d+`)

// Config configures the source.
type Config struct {
	URL string
}

// Definition builds the source definition. Pages are fetched with f.
func Definition(cfg Config, f *fetch.Fetcher) orchestrator.Definition {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	return orchestrator.Definition{
		Name:    Name,
		Version: 1,
		Metadata: crawler.SourceMetadata{
			Name:        Name,
			Country:     "TW",
			Language:    "zh",
			Currency:    "TWD",
			Description: "Taipei Agricultural Products Marketing",
			URL:         cfg.URL,
		},
		Kind:     crawler.KindWholesale,
		Mode:     orchestrator.ModeSingle,
		Timezone: "Asia/Taipei",
		Defaults: crawler.Record{
			PageURL: cfg.URL,
			Region:  "Taipei",
			Unit:    "kg",
			Type:    "w",
		},
		NewProducer: func(_ *orchestrator.Run, _ int) queue.Producer {
			return queue.ProducerFunc(func(_ context.Context, w *queue.Worker) error {
				w.Push(cfg.URL)
				return nil
			})
		},
		NewConsumer: func(run *orchestrator.Run, _ int) queue.Consumer {
			return &consumer{run: run, fetcher: f}
		},
	}
}

type consumer struct {
	run     *orchestrator.Run
	fetcher *fetch.Fetcher
}

func (c *consumer) Consume(ctx context.Context, _ *queue.Worker, job queue.Job) error {
	url, ok := job.(string)
	if !ok {
		return fmt.Errorf("tapmc: unexpected job %T", job)
	}
	resp, err := c.fetcher.Get(ctx, url)
	if err != nil {
		return err
	}
	logger := c.run.Logger()
	if err := c.run.Archive(ctx, resp.Body, 1, "html"); err != nil {
		logger.Warn("failed to archive board", zap.Error(err))
	}

	board, err := Parse(resp.Body)
	if err != nil {
		return err
	}
	if board.Holiday {
		logger.Info("market is closed today")
		return nil
	}
	c.run.Assert(ctx, url,
		orchestrator.Check(board.column(0) == colProduct, colProduct+" -> "+board.column(0)),
		orchestrator.Check(board.column(1) == colVariety, colVariety+" -> "+board.column(1)),
		orchestrator.Check(board.column(2) == colMax, colMax+" -> "+board.column(2)),
		orchestrator.Check(board.column(3) == colAvg, colAvg+" -> "+board.column(3)),
		orchestrator.Check(board.column(4) == colMin, colMin+" -> "+board.column(4)),
	)
	c.run.Push(ctx, board.Records...)
	return nil
}

// Board is one parsed board page.
type Board struct {
	Date    string
	Holiday bool
	Columns []string
	Records []crawler.Record
}

func (b Board) column(i int) string {
	if i < len(b.Columns) {
		return b.Columns[i]
	}
	return ""
}

// Parse reads the board. Rows keep their scraped prices; a missing low price
// falls back to the lower of the average and the high.
func Parse(body []byte) (Board, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Board{}, fmt.Errorf("tapmc: parse board: %w", err)
	}
	if doc.Find(".selected-day.seletected-today-day").Length() > 0 {
		return Board{Holiday: true}, nil
	}

	date, err := boardDate(doc)
	if err != nil {
		return Board{}, err
	}
	board := Board{Date: date}
	doc.Find(".price-head > div").Each(func(_ int, s *goquery.Selection) {
		board.Columns = append(board.Columns, strings.TrimSpace(s.Text()))
	})

	index := func(title string) int {
		for i, c := range board.Columns {
			if c == title {
				return i
			}
		}
		return -1
	}
	productIdx, varietyIdx := index(colProduct), index(colVariety)
	maxIdx, avgIdx, minIdx := index(colMax), index(colAvg), index(colMin)

	doc.Find(".price-table tbody tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		cell := func(i int) string {
			if i < 0 {
				return ""
			}
			return strings.TrimSpace(cells.Eq(i).Text())
		}
		product := cell(productIdx)
		if product == "" {
			return
		}
		prices := crawler.Prices{
			Max: price(cell(maxIdx)),
			Avg: price(cell(avgIdx)),
			Min: price(cell(minIdx)),
		}
		if !record.PriceValid(prices.Min) {
			prices.Min = lower(prices.Avg, prices.Max)
		}
		board.Records = append(board.Records, crawler.Record{
			Product: product,
			Variety: cell(varietyIdx),
			Date:    date,
			Prices:  prices,
		})
	})
	return board, nil
}

func boardDate(doc *goquery.Document) (string, error) {
	day, err := strconv.Atoi(strings.TrimSpace(doc.Find(".today-day").First().Text()))
	if err != nil {
		return "", errors.New("tapmc: board day not found")
	}
	ym := digits.FindAllString(doc.Find("table .title td").Eq(1).Text(), 2)
	if len(ym) < 2 {
		return "", errors.New("tapmc: board year and month not found")
	}
	year, _ := strconv.Atoi(ym[0])
	month, _ := strconv.Atoi(ym[1])
	if year < rocOffset {
		year += rocOffset
	}
	return dates.Format(time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)), nil
}

func price(s string) *float64 {
	p, err := record.ParsePrice(s)
	if err != nil {
		return nil
	}
	return p
}

func lower(a, b *float64) *float64 {
	switch {
	case !record.PriceValid(a):
		return b
	case !record.PriceValid(b):
		return a
	case *a < *b:
		return a
	default:
		return b
	}
}
