package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/price-harvester/internal/metrics"
)

// ErrClosed is returned once the shared browser has been torn down.
var ErrClosed = errors.New("browser closed")

// Shared lazily launches one browser and hands out tabs on it.
type Shared struct {
	opts   Options
	logger *zap.Logger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	closed        bool

	hostLimiters sync.Map
}

// New returns a Shared browser; nothing is launched until first use.
func New(opts Options, logger *zap.Logger) *Shared {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Shared{
		opts:   opts.withDefaults(),
		logger: logger.Named("browser"),
	}
}

// Options returns the effective options.
func (s *Shared) Options() Options {
	return s.opts
}

// Launched reports whether a browser process is currently running.
func (s *Shared) Launched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.browserCtx != nil
}

// Context returns the browser context, launching the browser on first call.
// The browser outlives ctx; only Close ends it.
func (s *Shared) Context(ctx context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.browserCtx != nil {
		return s.browserCtx, nil
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), s.opts.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := s.allocate(ctx, browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	s.allocCancel = allocCancel
	s.browserCtx = browserCtx
	s.browserCancel = browserCancel
	s.logger.Info("browser launched",
		zap.Bool("headless", s.opts.Headless),
		zap.Bool("stealth", s.opts.Stealth),
	)
	return browserCtx, nil
}

// allocate performs the first Run on a chromedp context. It has to run on the
// context returned by NewContext itself, so the wait is bounded here instead.
func (s *Shared) allocate(ctx context.Context, chromeCtx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(chromeCtx)
	}()
	launchCtx, cancel := context.WithTimeout(ctx, s.opts.NavigationTimeout)
	defer cancel()
	select {
	case err := <-done:
		return err
	case <-launchCtx.Done():
		return fmt.Errorf("allocate target: %w", launchCtx.Err())
	}
}

// NewPage opens a fresh tab configured with the viewport, user agent and,
// in stealth mode, the evasion script.
func (s *Shared) NewPage(ctx context.Context) (*Page, error) {
	browserCtx, err := s.Context(ctx)
	if err != nil {
		return nil, err
	}
	tabCtx, cancel := chromedp.NewContext(browserCtx)
	if err := s.allocate(ctx, tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("open page: %w", err)
	}
	page := newPage(s, tabCtx, cancel)
	if err := page.Run(ctx, page.setupAction()); err != nil {
		cancel()
		return nil, fmt.Errorf("open page: %w", err)
	}
	return page, nil
}

// AttachTab attaches to the index-th open page target. An out of range index
// is logged and yields a nil page without error.
func (s *Shared) AttachTab(ctx context.Context, index int) (*Page, error) {
	browserCtx, err := s.Context(ctx)
	if err != nil {
		return nil, err
	}
	infos, err := chromedp.Targets(browserCtx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	pages := pageTargets(infos)
	if index < 0 || index >= len(pages) {
		s.logger.Warn("tab index out of range",
			zap.Int("index", index),
			zap.Int("tabs", len(pages)),
		)
		return nil, nil
	}
	tabCtx, cancel := chromedp.NewContext(browserCtx, chromedp.WithTargetID(pages[index].TargetID))
	if err := s.allocate(ctx, tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("attach tab %d: %w", index, err)
	}
	return newPage(s, tabCtx, cancel), nil
}

// Close tears the browser down. It is safe to call repeatedly.
func (s *Shared) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.browserCancel != nil {
		s.browserCancel()
		s.allocCancel()
		s.browserCtx = nil
		s.logger.Info("browser closed")
	}
}

func (s *Shared) waitHost(ctx context.Context, rawURL string) error {
	if s.opts.NavigationQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse navigation url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := s.hostLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(s.opts.NavigationQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	metrics.ObserveRateLimitDelay(host, time.Since(start))
	return nil
}

func pageTargets(infos []*target.Info) []*target.Info {
	pages := make([]*target.Info, 0, len(infos))
	for _, info := range infos {
		if info != nil && info.Type == "page" {
			pages = append(pages, info)
		}
	}
	return pages
}
