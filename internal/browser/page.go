package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
)

// Page is one browser tab owned by a single worker.
type Page struct {
	shared *Shared
	ctx    context.Context
	cancel context.CancelFunc
}

func newPage(shared *Shared, ctx context.Context, cancel context.CancelFunc) *Page {
	return &Page{shared: shared, ctx: ctx, cancel: cancel}
}

// Context exposes the tab context for custom chromedp actions.
func (p *Page) Context() context.Context {
	return p.ctx
}

// Run executes actions on the tab, bounded by the navigation timeout and by ctx.
func (p *Page) Run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.ctx, p.shared.opts.NavigationTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

// Navigate loads rawURL and waits for the body to be ready.
func (p *Page) Navigate(ctx context.Context, rawURL string) error {
	if err := p.shared.waitHost(ctx, rawURL); err != nil {
		return err
	}
	return p.Run(ctx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// HTML returns the current document's outer HTML.
func (p *Page) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.Run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// Fetch navigates to rawURL and returns the rendered document.
func (p *Page) Fetch(ctx context.Context, rawURL string) (string, error) {
	if err := p.Navigate(ctx, rawURL); err != nil {
		return "", err
	}
	return p.HTML(ctx)
}

// Close closes the tab.
func (p *Page) Close() error {
	defer p.cancel()
	if err := chromedp.Cancel(p.ctx); err != nil {
		return fmt.Errorf("close page: %w", err)
	}
	return nil
}

func (p *Page) setupAction() chromedp.Action {
	opts := p.shared.opts
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := emulation.SetDeviceMetricsOverride(
			int64(opts.ViewportWidth), int64(opts.ViewportHeight), 1, false,
		).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		if opts.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(opts.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if opts.Stealth {
			if _, err := page.AddScriptToEvaluateOnNewDocument(stealth.JS).Do(ctx); err != nil {
				return fmt.Errorf("inject stealth script: %w", err)
			}
		}
		if len(opts.ExtraHeaders) > 0 {
			if err := network.Enable().Do(ctx); err != nil {
				return fmt.Errorf("enable network domain: %w", err)
			}
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(opts.ExtraHeaders)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		p.shared.logger.Debug("page ready", zap.Int("width", opts.ViewportWidth), zap.Int("height", opts.ViewportHeight))
		return nil
	})
}

func toNetworkHeaders(src map[string]string) network.Headers {
	out := network.Headers{}
	for key, value := range src {
		out[key] = value
	}
	return out
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
