package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/poiesic/kbingest/core"
)

// DefaultTimeout bounds one attempt at one URL.
const DefaultTimeout = 30 * time.Second

// Result is the content of one fetched URL.
type Result struct {
	URL        string
	Title      string
	Markdown   string
	Links      []string
	StatusCode int
}

// Extractor turns a URL of one source kind into markdown.
type Extractor interface {
	Extract(ctx context.Context, url string, timeout time.Duration) (*Result, error)
}

// WebExtractor renders HTML pages and converts them to markdown.
type WebExtractor struct {
	renderer Renderer
	wait     WaitCondition
}

var _ Extractor = (*WebExtractor)(nil)

// NewWebExtractor extracts pages rendered by renderer once wait is satisfied.
func NewWebExtractor(renderer Renderer, wait WaitCondition) *WebExtractor {
	return &WebExtractor{renderer: renderer, wait: wait}
}

func (w *WebExtractor) Extract(ctx context.Context, url string, timeout time.Duration) (*Result, error) {
	page, err := w.renderer.Render(ctx, url, w.wait, timeout)
	if err != nil {
		return nil, classify(ctx, url, err)
	}
	if fe := statusError(url, page.StatusCode); fe != nil {
		return nil, fe
	}

	converted, err := ConvertHTML(page.HTML, url)
	if err != nil {
		return nil, &FetchError{Kind: KindRenderError, URL: url, StatusCode: page.StatusCode, Err: err}
	}
	title := page.Title
	if title == "" {
		title = converted.Title
	}
	status := page.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	return &Result{
		URL:        url,
		Title:      title,
		Markdown:   converted.Markdown,
		Links:      converted.Links,
		StatusCode: status,
	}, nil
}

// classify maps an arbitrary extraction error to a FetchError. Cancellation
// of ctx is returned as is.
func classify(ctx context.Context, url string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Kind: KindTimeout, URL: url, Err: err}
	}
	return &FetchError{Kind: KindRenderError, URL: url, Err: err}
}

// Fetcher retrieves URLs with the extractor registered for the source kind,
// retrying transient failures and honouring a Throttle.
type Fetcher struct {
	extractors map[core.SourceKind]Extractor
	renderer   Renderer
	wait       WaitCondition
	httpClient *http.Client
	throttle   *Throttle
	retry      RetryPolicy
	timeout    time.Duration
	logger     *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher) error

// WithRenderer sets the renderer used for web sources.
func WithRenderer(r Renderer) Option {
	return func(f *Fetcher) error {
		f.renderer = r
		return nil
	}
}

// WithWaitCondition sets when a rendered page is considered ready.
func WithWaitCondition(wait WaitCondition) Option {
	return func(f *Fetcher) error {
		f.wait = wait
		return nil
	}
}

// WithExtractor registers the extractor for kind, replacing the default.
func WithExtractor(kind core.SourceKind, e Extractor) Option {
	return func(f *Fetcher) error {
		if e == nil {
			return fmt.Errorf("nil extractor for %s", kind)
		}
		f.extractors[kind] = e
		return nil
	}
}

// WithHTTPClient sets the client used to download documents.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) error {
		f.httpClient = client
		return nil
	}
}

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(f *Fetcher) error {
		if p.MaxAttempts <= 0 {
			return fmt.Errorf("max attempts must be positive, got %d", p.MaxAttempts)
		}
		f.retry = p
		return nil
	}
}

// WithTimeout bounds a single attempt.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", d)
		}
		f.timeout = d
		return nil
	}
}

// WithThrottle sets the throttle shared by every Fetch call.
func WithThrottle(t *Throttle) Option {
	return func(f *Fetcher) error {
		f.throttle = t
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) error {
		if logger != nil {
			f.logger = logger
		}
		return nil
	}
}

// New builds a Fetcher. Web sources need a renderer or a web extractor; pdf
// sources are downloaded with the configured HTTP client.
func New(opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		extractors: make(map[core.SourceKind]Extractor),
		wait:       DefaultWaitCondition(),
		httpClient: http.DefaultClient,
		retry:      DefaultRetryPolicy(),
		timeout:    DefaultTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}

	if _, ok := f.extractors[core.SourceKindWeb]; !ok && f.renderer != nil {
		f.extractors[core.SourceKindWeb] = NewWebExtractor(f.renderer, f.wait)
	}
	if _, ok := f.extractors[core.SourceKindPDF]; !ok {
		f.extractors[core.SourceKindPDF] = NewPDFExtractor(f.httpClient, f.logger)
	}
	if f.throttle == nil {
		f.throttle = NewThrottle(DefaultRequestDelay, DefaultMaxDelay, f.logger)
	}
	f.logger = f.logger.With("component", "fetcher")
	return f, nil
}

// ForRun returns a Fetcher that shares f's extractors but paces its requests
// with t. Each crawl gets its own throttle so slowing down for one site does
// not slow the others.
func (f *Fetcher) ForRun(t *Throttle) *Fetcher {
	clone := *f
	clone.throttle = t
	return &clone
}

// Throttle returns the throttle pacing f's requests.
func (f *Fetcher) Throttle() *Throttle {
	return f.throttle
}

// Fetch retrieves url as part of source. The returned links are limited to
// the source's crawl scope. Errors are *FetchError unless ctx ended or the
// source kind has no extractor.
func (f *Fetcher) Fetch(ctx context.Context, url string, source *core.Source) (*Result, error) {
	extractor, ok := f.extractors[source.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, source.Kind)
	}
	scope, err := NewScope(source.URL, source.AllowCrossHost, source.MaxDepth)
	if err != nil {
		return nil, fmt.Errorf("invalid source url: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < f.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := f.retry.Backoff(attempt - 1)
			f.logger.Debug("retrying fetch", "url", url, "attempt", attempt+1, "backoff", backoff)
			if err := sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}
		if err := f.throttle.Wait(ctx); err != nil {
			return nil, err
		}

		result, err := extractor.Extract(ctx, url, f.timeout)
		if err == nil {
			result.Links = scope.Filter(result.Links)
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		if !shouldRetry(err) {
			break
		}
		if errors.Is(err, ErrBlocked) {
			f.throttle.SlowDown()
		}
		f.logger.Warn("fetch attempt failed", "url", url, "attempt", attempt+1, "err", err)
	}
	return nil, lastErr
}
