// Package fetch retrieves static pages with a gocolly collector.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	Headers       http.Header
	// RequestsPerSecond caps requests per host. Zero means unlimited.
	RequestsPerSecond float64
	Burst             int
}

// Response is one fetched page.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Fetcher issues single GET requests. It is safe for concurrent use.
type Fetcher struct {
	cfg     Config
	base    *colly.Collector
	limiter *hostLimiter
	logger  *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	return &Fetcher{
		cfg:     cfg,
		base:    c,
		limiter: newHostLimiter(cfg.RequestsPerSecond, cfg.Burst),
		logger:  logger.Named("fetch"),
	}
}

// Get fetches rawURL. Non-2xx answers are errors.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (Response, error) {
	var (
		result   Response
		fetchErr error
	)
	if err := f.limiter.wait(ctx, rawURL); err != nil {
		return Response{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	collector := f.base.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.SetRequestTimeout(f.cfg.Timeout)
	f.configureHooks(collector, time.Now(), &result, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return Response{}, fmt.Errorf("fetch %s canceled: %w", rawURL, ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return Response{}, fmt.Errorf("fetch %s: %w", rawURL, fetchErr)
		}
		if err != nil {
			return Response{}, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
	}
	if result.Body == nil {
		return Response{}, errors.New("fetch " + rawURL + ": no response")
	}
	f.logger.Debug("page fetched",
		zap.String("url", result.URL),
		zap.Int("status", result.StatusCode),
		zap.Int("bytes", len(result.Body)),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (f *Fetcher) configureHooks(hooks collectorHooks, start time.Time, result *Response, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range f.cfg.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte{}, r.Body...),
			Duration:   time.Since(start),
		}
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
