package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// DefaultUserAgent is sent by ChromeRenderer unless overridden.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// ChromeConfig configures the browser started by ChromeRenderer.
type ChromeConfig struct {
	Headless  bool
	NoSandbox bool
	UserAgent string
	// ExecPath overrides the browser binary lookup.
	ExecPath string
}

// DefaultChromeConfig returns a headless configuration.
func DefaultChromeConfig() ChromeConfig {
	return ChromeConfig{
		Headless:  true,
		UserAgent: DefaultUserAgent,
	}
}

// ChromeRenderer renders pages in a shared headless browser, one tab per
// Render call.
type ChromeRenderer struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        *slog.Logger
	closeOnce     sync.Once
}

var _ Renderer = (*ChromeRenderer)(nil)

// NewChromeRenderer starts a browser. The browser lives until Close.
func NewChromeRenderer(cfg ChromeConfig, logger *slog.Logger) (*ChromeRenderer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("no-sandbox", cfg.NoSandbox),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return &ChromeRenderer{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        logger.With("component", "chrome-renderer"),
	}, nil
}

// Render opens url in a new tab, waits for wait.Selector and wait.Settle, and
// returns the outer HTML. The status is taken from the first document
// response seen by the tab.
func (r *ChromeRenderer) Render(ctx context.Context, url string, wait WaitCondition, timeout time.Duration) (*Page, error) {
	if wait.Selector == "" {
		wait.Selector = "body"
	}

	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		tabCtx, cancelTimeout = context.WithTimeout(tabCtx, timeout)
		defer cancelTimeout()
	}

	var status atomic.Int64
	chromedp.ListenTarget(tabCtx, func(ev any) {
		if e, ok := ev.(*network.EventResponseReceived); ok && e.Type == network.ResourceTypeDocument {
			status.CompareAndSwap(0, e.Response.Status)
		}
	})

	var html, title string
	err := chromedp.Run(tabCtx,
		network.Enable(),
		chromedp.Navigate(url),
		chromedp.WaitReady(wait.Selector, chromedp.ByQuery),
		chromedp.Sleep(wait.Settle),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		if tabCtx.Err() == context.DeadlineExceeded {
			return nil, &FetchError{Kind: KindTimeout, URL: url, StatusCode: int(status.Load()), Err: err}
		}
		return nil, &FetchError{Kind: KindRenderError, URL: url, StatusCode: int(status.Load()), Err: err}
	}

	r.logger.Debug("rendered page", "url", url, "status", status.Load(), "bytes", len(html))
	return &Page{HTML: html, Title: title, StatusCode: int(status.Load())}, nil
}

// Close shuts the browser down.
func (r *ChromeRenderer) Close() error {
	r.closeOnce.Do(func() {
		r.browserCancel()
		r.allocCancel()
	})
	return nil
}
