package browser

import (
	"time"

	"github.com/chromedp/chromedp"
)

const (
	defaultNavigationTimeout = 30 * time.Second
	defaultViewportWidth     = 1400
	defaultViewportHeight    = 900
)

// Options configures browser launch and the pages opened on it.
type Options struct {
	Headless          bool
	Stealth           bool
	NoSandbox         bool
	ExecPath          string
	UserAgent         string
	NavigationTimeout time.Duration
	ViewportWidth     int
	ViewportHeight    int
	// NavigationQPS caps navigations per host; zero disables the limit.
	NavigationQPS float64
	ExtraHeaders  map[string]string
}

func (o Options) withDefaults() Options {
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = defaultNavigationTimeout
	}
	if o.ViewportWidth <= 0 {
		o.ViewportWidth = defaultViewportWidth
	}
	if o.ViewportHeight <= 0 {
		o.ViewportHeight = defaultViewportHeight
	}
	return o
}

func (o Options) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if o.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.WindowSize(o.ViewportWidth, o.ViewportHeight),
	)
	if o.Stealth {
		opts = append(opts,
			chromedp.Flag("enable-automation", false),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
		)
	}
	if o.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if o.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.ExecPath))
	}
	if o.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(o.UserAgent))
	}
	return opts
}
