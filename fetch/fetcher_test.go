package fetch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/fetch"
	"github.com/poiesic/kbingest/fetch/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() fetch.RetryPolicy {
	return fetch.RetryPolicy{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func newTestFetcher(t *testing.T, site *mock.Site) (*fetch.Fetcher, *fetch.Throttle) {
	t.Helper()
	throttle := fetch.NewThrottle(time.Millisecond, 8*time.Millisecond, nil)
	f, err := fetch.New(
		fetch.WithRenderer(site),
		fetch.WithRetryPolicy(fastPolicy()),
		fetch.WithThrottle(throttle),
		fetch.WithTimeout(time.Second),
	)
	require.NoError(t, err)
	return f, throttle
}

func webSource(url string) *core.Source {
	return &core.Source{ID: "src", SourceConfig: core.SourceConfig{Kind: core.SourceKindWeb, URL: url}}
}

func TestFetcher_FetchFiltersLinksToScope(t *testing.T) {
	site := mock.NewSite()
	site.AddPage("https://example.com/docs/", "Docs", "Welcome to the docs.",
		"https://example.com/docs/a",
		"https://example.com/blog/",
		"https://elsewhere.org/",
		"https://example.com/docs/b",
	)
	f, _ := newTestFetcher(t, site)

	res, err := f.Fetch(context.Background(), "https://example.com/docs/", webSource("https://example.com/docs/"))
	require.NoError(t, err)

	assert.Equal(t, "Docs", res.Title)
	assert.Equal(t, 200, res.StatusCode)
	assert.Contains(t, res.Markdown, "Welcome to the docs.")
	assert.Equal(t, []string{"https://example.com/docs/a", "https://example.com/docs/b"}, res.Links)
}

func TestFetcher_RetriesTransientFailures(t *testing.T) {
	site := mock.NewSite()
	url := "https://example.com/"
	site.AddPage(url, "Home", "Hello.")
	site.Queue(url, mock.Response{Err: context.DeadlineExceeded}, mock.Response{Status: 503})
	f, _ := newTestFetcher(t, site)

	res, err := f.Fetch(context.Background(), url, webSource(url))
	require.NoError(t, err)
	assert.Equal(t, "Home", res.Title)
	assert.Equal(t, 3, site.RenderCount(url))
}

func TestFetcher_NotFoundIsNotRetried(t *testing.T) {
	site := mock.NewSite()
	f, _ := newTestFetcher(t, site)

	_, err := f.Fetch(context.Background(), "https://example.com/missing", webSource("https://example.com/"))
	require.Error(t, err)
	assert.ErrorIs(t, err, fetch.ErrHTTP)

	var fe *fetch.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 404, fe.StatusCode)
	assert.False(t, fe.Retryable())
	assert.Equal(t, 1, site.RenderCount("https://example.com/missing"))
}

func TestFetcher_BlockedSlowsThrottle(t *testing.T) {
	site := mock.NewSite()
	url := "https://example.com/"
	site.AddPage(url, "Home", "Hello.")
	site.Queue(url, mock.Response{Status: 429}, mock.Response{Status: 403})
	f, throttle := newTestFetcher(t, site)

	res, err := f.Fetch(context.Background(), url, webSource(url))
	require.NoError(t, err)
	assert.Equal(t, "Home", res.Title)
	assert.Equal(t, 3, site.RenderCount(url))
	assert.Equal(t, 8*time.Millisecond, throttle.Delay())
}

func TestFetcher_GivesUpAfterMaxAttempts(t *testing.T) {
	site := mock.NewSite()
	url := "https://example.com/"
	site.Queue(url, mock.Response{Status: 500}, mock.Response{Status: 500}, mock.Response{Status: 500})
	f, _ := newTestFetcher(t, site)

	_, err := f.Fetch(context.Background(), url, webSource(url))
	assert.ErrorIs(t, err, fetch.ErrHTTP)
	assert.Equal(t, 3, site.RenderCount(url))
}

func TestFetcher_RenderErrorIsNotRetried(t *testing.T) {
	site := mock.NewSite()
	url := "https://example.com/"
	site.Queue(url, mock.Response{Err: errors.New("net::ERR_NAME_NOT_RESOLVED")})
	f, _ := newTestFetcher(t, site)

	_, err := f.Fetch(context.Background(), url, webSource(url))
	assert.ErrorIs(t, err, fetch.ErrRender)
	assert.Equal(t, 1, site.RenderCount(url))
}

func TestFetcher_UnsupportedKind(t *testing.T) {
	f, _ := newTestFetcher(t, mock.NewSite())
	src := webSource("https://example.com/")
	src.Kind = core.SourceKindImage

	_, err := f.Fetch(context.Background(), "https://example.com/cat.png", src)
	assert.ErrorIs(t, err, fetch.ErrUnsupportedKind)
}

func TestFetcher_CancelledContext(t *testing.T) {
	site := mock.NewSite()
	site.AddPage("https://example.com/", "Home", "Hello.")
	f, _ := newTestFetcher(t, site)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Fetch(ctx, "https://example.com/", webSource("https://example.com/"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetcher_ForRunUsesOwnThrottle(t *testing.T) {
	site := mock.NewSite()
	url := "https://example.com/"
	site.AddPage(url, "Home", "Hello.")
	site.Queue(url, mock.Response{Status: 429})
	f, shared := newTestFetcher(t, site)

	own := fetch.NewThrottle(time.Millisecond, 4*time.Millisecond, nil)
	runFetcher := f.ForRun(own)
	_, err := runFetcher.Fetch(context.Background(), url, webSource(url))
	require.NoError(t, err)

	assert.Same(t, own, runFetcher.Throttle())
	assert.Equal(t, 4*time.Millisecond, own.Delay())
	assert.Equal(t, time.Millisecond, shared.Delay())
}

func TestNew_Options(t *testing.T) {
	_, err := fetch.New(fetch.WithRetryPolicy(fetch.RetryPolicy{}))
	assert.Error(t, err)

	_, err = fetch.New(fetch.WithTimeout(0))
	assert.Error(t, err)

	_, err = fetch.New(fetch.WithExtractor(core.SourceKindWeb, nil))
	assert.Error(t, err)

	f, err := fetch.New(fetch.WithLogger(nil))
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), "https://example.com/", webSource("https://example.com/"))
	assert.ErrorIs(t, err, fetch.ErrUnsupportedKind)
}
