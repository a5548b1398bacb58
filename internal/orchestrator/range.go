package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/price-harvester/internal/dates"
	"github.com/JakeFAU/price-harvester/internal/telemetry"
)

// RangeResult sums up a range crawl.
type RangeResult struct {
	Crawled []string
	Records int
	// Aborted is set when the empty-run streak exceeded the threshold.
	Aborted bool
}

// CrawlRange crawls every step-th date between start and end, both
// inclusive, walking backwards when end is before start. Runs that push no
// record extend the empty streak; once it exceeds threshold the rest of the
// range is skipped. A threshold of zero or less uses the configured one.
func (c *Crawler) CrawlRange(ctx context.Context, start, end string, step, threshold int) (RangeResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "crawl range",
		attribute.String("source", c.def.Name),
		attribute.String("from", start),
		attribute.String("to", end),
	)
	res, err := c.crawlRange(ctx, start, end, step, threshold)
	span.SetAttributes(attribute.Int("dates", len(res.Crawled)), attribute.Bool("aborted", res.Aborted))
	telemetry.EndSpan(span, res.Records, err)
	return res, err
}

func (c *Crawler) crawlRange(ctx context.Context, start, end string, step, threshold int) (RangeResult, error) {
	if c.def.Mode != ModeByDate {
		return RangeResult{}, ErrDateCrawlUnsupported
	}
	from, err := dates.Parse(start, c.loc)
	if err != nil {
		return RangeResult{}, fmt.Errorf("crawl range: %w", err)
	}
	to, err := dates.Parse(end, c.loc)
	if err != nil {
		return RangeResult{}, fmt.Errorf("crawl range: %w", err)
	}
	if threshold <= 0 {
		threshold = c.settings.RangeThreshold
	}
	if _, err := c.Initialize(ctx); err != nil {
		return RangeResult{}, err
	}

	c.logger.Info("start crawling range", zap.String("from", start), zap.String("to", end), zap.Int("step", step))

	var res RangeResult
	streak := 0
	for _, date := range dates.Range(from, to, step) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		count, err := c.Crawl(ctx, date)
		res.Crawled = append(res.Crawled, date)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return res, err
			}
			c.logger.Error("crawl did not complete", zap.String("date", date), zap.Error(err))
			continue
		}
		res.Records += count
		if count == 0 {
			streak++
		} else {
			streak = 0
		}
		c.logger.Debug("empty run streak", zap.Int("streak", streak))
		if streak > threshold {
			c.logger.Warn("too many empty runs in a row, stopping the range",
				zap.Int("threshold", threshold),
				zap.String("date", date),
			)
			res.Aborted = true
			return res, nil
		}
		if err := c.pause(ctx); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (c *Crawler) pause(ctx context.Context) error {
	if c.settings.RangeDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(c.settings.RangeDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Crawler) now() time.Time {
	return c.deps.Clock.Now().In(c.loc)
}

// CrawlAll walks from yesterday back to the source's first date.
func (c *Crawler) CrawlAll(ctx context.Context, step int) (RangeResult, error) {
	return c.CrawlRange(ctx, dates.Format(dates.Yesterday(c.now())), c.def.FirstDate, step, 0)
}

// CrawlYesterday crawls yesterday in the source's timezone.
func (c *Crawler) CrawlYesterday(ctx context.Context) (int, error) {
	return c.Crawl(ctx, dates.Format(dates.Yesterday(c.now())))
}

// CrawlLastWeek walks from yesterday back to the same day last week.
func (c *Crawler) CrawlLastWeek(ctx context.Context) (RangeResult, error) {
	now := c.now()
	return c.CrawlRange(ctx, dates.Format(dates.Yesterday(now)), dates.Format(dates.LastWeek(now)), 1, 0)
}

// CrawlLastMonth walks from yesterday back to the same day last month.
func (c *Crawler) CrawlLastMonth(ctx context.Context) (RangeResult, error) {
	now := c.now()
	return c.CrawlRange(ctx, dates.Format(dates.Yesterday(now)), dates.Format(dates.LastMonth(now)), 1, 0)
}
