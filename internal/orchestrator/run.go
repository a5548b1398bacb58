package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/price-harvester/internal/crawler"
	"github.com/JakeFAU/price-harvester/internal/metrics"
	"github.com/JakeFAU/price-harvester/internal/pusher"
)

// Run is what producers and consumers of one crawl share: the target date,
// the resolved source and the run's pusher.
type Run struct {
	Date   string
	Source crawler.Source
	Pusher *pusher.Pusher

	crawler *Crawler
	logger  *zap.Logger
}

// Condition is one structural expectation about a fetched page.
type Condition struct {
	OK      bool
	Message string
}

// Check builds a Condition.
func Check(ok bool, message string) Condition {
	return Condition{OK: ok, Message: message}
}

// Logger returns the run logger.
func (r *Run) Logger() *zap.Logger { return r.logger }

// Definition returns the definition of the source being crawled.
func (r *Run) Definition() Definition { return r.crawler.def }

// Push hands records to the run's pusher.
func (r *Run) Push(ctx context.Context, records ...crawler.Record) int {
	return r.Pusher.Push(ctx, records...)
}

// Archive stores a raw document under the run date. Outside production it
// does nothing.
func (r *Run) Archive(ctx context.Context, body []byte, seq int, ext string) error {
	if len(body) == 0 {
		return errors.New("archive: document is empty")
	}
	c := r.crawler
	if c.settings.Environment != EnvProduction || c.deps.Archiver == nil {
		return nil
	}
	key, err := c.deps.Archiver.Archive(ctx, crawler.Document{
		Source:    c.def.Name,
		Version:   c.def.Version,
		Date:      r.Date,
		Sequence:  seq,
		Extension: ext,
		Body:      body,
		CrawledAt: c.now(),
	})
	if err != nil {
		return fmt.Errorf("archive document: %w", err)
	}
	r.logger.Debug("document archived", zap.String("key", key))
	return nil
}

// ReadArchive loads the documents archived by the latest crawl of the run date.
func (r *Run) ReadArchive(ctx context.Context, ext string) ([][]byte, error) {
	c := r.crawler
	if c.deps.ArchiveReader == nil {
		return nil, errors.New("no archive reader configured")
	}
	docs, err := c.deps.ArchiveReader.ReadArchive(ctx, crawler.ArchiveQuery{
		Source:    c.def.Name,
		Version:   c.def.Version,
		Date:      r.Date,
		Extension: ext,
	})
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	return docs, nil
}

// Assert raises one alarm listing every failed condition and reports whether
// any failed. Crawling goes on either way.
func (r *Run) Assert(ctx context.Context, url string, conditions ...Condition) bool {
	var failed []string
	for _, cond := range conditions {
		if !cond.OK {
			failed = append(failed, cond.Message)
		}
	}
	if len(failed) == 0 {
		return false
	}
	msg := strings.Join(failed, "\n")
	r.logger.Warn("UI seems to be changed", zap.String("url", url), zap.Strings("failed", failed))
	metrics.ObserveAlarm(r.crawler.def.Name)

	if alarmer := r.crawler.deps.Alarmer; alarmer != nil {
		err := alarmer.CreateAlarm(ctx, crawler.Alarm{
			SourceID: r.Source.ID,
			Message:  msg,
			URL:      url,
			Date:     r.Date,
		})
		if err != nil {
			r.logger.Error("failed to create alarm", zap.Error(err))
		}
	}
	return true
}
