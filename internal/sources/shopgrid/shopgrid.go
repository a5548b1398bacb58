// Package shopgrid crawls the retail catalog of a grid-layout web shop. Product
// pages carry a dated price history, so the source can be crawled by date.
package shopgrid

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/price-harvester/internal/crawler"
	"github.com/JakeFAU/price-harvester/internal/orchestrator"
	"github.com/JakeFAU/price-harvester/internal/queue"
	"github.com/JakeFAU/price-harvester/internal/record"
)

// Name identifies the source in the catalog and the registry.
const Name = "Maha Grid"

const (
	// DefaultBaseURL is the shop root.
	DefaultBaseURL  = "http://mahagrid.com"
	defaultCategory = 24
	defaultMaxPages = 20
	defaultFirstDay = "2019-01-01"
)

// Loader returns the rendered HTML of rawURL for worker w.
type Loader func(ctx context.Context, w *queue.Worker, rawURL string) (string, error)

// BrowserLoader renders pages on the worker's own browser tab.
func BrowserLoader(ctx context.Context, w *queue.Worker, rawURL string) (string, error) {
	page, err := w.Page(ctx)
	if err != nil {
		return "", err
	}
	return page.Fetch(ctx, rawURL)
}

// Config configures the source.
type Config struct {
	BaseURL   string
	Category  int
	MaxPages  int
	Consumers int
	// Loader defaults to BrowserLoader.
	Loader Loader
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Category <= 0 {
		c.Category = defaultCategory
	}
	if c.MaxPages <= 0 {
		c.MaxPages = defaultMaxPages
	}
	if c.Consumers <= 0 {
		c.Consumers = 2
	}
	if c.Loader == nil {
		c.Loader = BrowserLoader
	}
	return c
}

// ListURL is the n-th page of the configured category.
func (c Config) ListURL(n int) string {
	return fmt.Sprintf("%s/product/list.html?cate_no=%d&page=%d", c.BaseURL, c.Category, n)
}

// Definition builds the source definition.
func Definition(cfg Config) orchestrator.Definition {
	cfg = cfg.withDefaults()
	return orchestrator.Definition{
		Name:    Name,
		Version: 1,
		Metadata: crawler.SourceMetadata{
			Name:        Name,
			Country:     "KR",
			Language:    "ko",
			Currency:    "KRW",
			Description: "Maha Grid",
			URL:         cfg.BaseURL,
		},
		Kind:      crawler.KindRetail,
		Mode:      orchestrator.ModeByDate,
		Timezone:  "Asia/Seoul",
		FirstDate: defaultFirstDay,
		Defaults:  crawler.Record{Type: "r"},
		Producers: 1,
		Consumers: cfg.Consumers,
		NewProducer: func(run *orchestrator.Run, _ int) queue.Producer {
			return &producer{run: run, cfg: cfg}
		},
		NewConsumer: func(run *orchestrator.Run, _ int) queue.Consumer {
			return &consumer{run: run, cfg: cfg}
		},
	}
}

type producer struct {
	run *orchestrator.Run
	cfg Config
}

// Produce walks the listing pages until one has no products.
func (p *producer) Produce(ctx context.Context, w *queue.Worker) error {
	seen := make(map[string]struct{})
	for n := 1; n <= p.cfg.MaxPages; n++ {
		listURL := p.cfg.ListURL(n)
		html, err := p.cfg.Loader(ctx, w, listURL)
		if err != nil {
			return fmt.Errorf("load listing page %d: %w", n, err)
		}
		if err := p.run.Archive(ctx, []byte(html), n, "html"); err != nil {
			w.Logger().Warn("failed to archive listing page", zap.Int("page", n), zap.Error(err))
		}
		links, err := ParseListing(html, listURL)
		if err != nil {
			return err
		}
		if n == 1 {
			p.run.Assert(ctx, listURL, orchestrator.Check(len(links) > 0, "no product link under .mun-prd-thumb"))
		}
		fresh := 0
		for _, link := range links {
			if _, ok := seen[link]; ok {
				continue
			}
			seen[link] = struct{}{}
			if !w.Push(link) {
				return nil
			}
			fresh++
		}
		if fresh == 0 {
			return nil
		}
	}
	return nil
}

type consumer struct {
	run *orchestrator.Run
	cfg Config
}

func (c *consumer) Consume(ctx context.Context, w *queue.Worker, job queue.Job) error {
	productURL, ok := job.(string)
	if !ok {
		return fmt.Errorf("shopgrid: unexpected job %T", job)
	}
	html, err := c.cfg.Loader(ctx, w, productURL)
	if err != nil {
		return err
	}
	product, err := ParseProduct(html)
	if err != nil {
		return err
	}
	price, ok := product.History[c.run.Date]
	if !ok {
		w.Logger().Debug("no price for date", zap.String("url", productURL))
		return nil
	}
	c.run.Push(ctx, crawler.Record{
		Product: product.Name,
		Date:    c.run.Date,
		PageURL: productURL,
		Unit:    product.Unit,
		Prices:  crawler.Prices{Avg: price},
	})
	return nil
}

// ParseListing returns the absolute product links of a listing page.
func ParseListing(html, pageURL string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("shopgrid: parse listing: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("shopgrid: listing url: %w", err)
	}
	var links []string
	doc.Find(".mun-prd-thumb > a").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		links = append(links, base.ResolveReference(ref).String())
	})
	return links, nil
}

// Product is a parsed product page.
type Product struct {
	Name string
	Unit string
	// History maps YYYY-MM-DD to the price of that day.
	History map[string]*float64
}

// ParseProduct reads the name, the sales unit and the price history.
func ParseProduct(html string) (Product, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Product{}, fmt.Errorf("shopgrid: parse product: %w", err)
	}
	p := Product{
		Name:    strings.TrimSpace(doc.Find(".prd-name").First().Text()),
		Unit:    strings.TrimSpace(doc.Find(".prd-unit").First().Text()),
		History: make(map[string]*float64),
	}
	if p.Name == "" {
		return Product{}, errors.New("shopgrid: product name not found")
	}
	if p.Unit == "" {
		p.Unit = "ea"
	}
	doc.Find(".price-history tr").Each(func(_ int, row *goquery.Selection) {
		date := strings.TrimSpace(row.Find(".date").Text())
		price, err := record.ParsePrice(strings.TrimSuffix(strings.TrimSpace(row.Find(".price").Text()), "원"))
		if date == "" || err != nil || price == nil {
			return
		}
		p.History[date] = price
	})
	return p, nil
}
