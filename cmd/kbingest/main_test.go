package main

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/poiesic/kbingest"
	aimock "github.com/poiesic/kbingest/ai/mock"
	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/embed"
	"github.com/poiesic/kbingest/fetch"
	"github.com/poiesic/kbingest/fetch/mock"
	"github.com/poiesic/kbingest/pipeline"
)

func testServiceOptions(site *mock.Site) []kbingest.Option {
	embedder := aimock.NewMockEmbedder()
	embedder.Dimensions = 16
	return []kbingest.Option{
		kbingest.WithEmbedder(embedder),
		kbingest.WithRenderer(site),
		kbingest.WithFetchOptions(fetch.WithRetryPolicy(fetch.RetryPolicy{
			MaxAttempts:       1,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        time.Millisecond,
			BackoffMultiplier: 2,
		})),
		kbingest.WithPipelineOptions(
			pipeline.WithCrawlWorkers(1),
			pipeline.WithRequestDelay(0, time.Millisecond),
			pipeline.WithEmbedOptions(embed.WithRetry(1, time.Millisecond)),
		),
	}
}

// useTestService points every command at a store under dir backed by site.
func useTestService(t *testing.T, site *mock.Site) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "kb")
	orig := openService
	openService = func(c *cli.Context, _ bool) (*kbingest.Service, error) {
		return kbingest.Open(c.Context, dir, testServiceOptions(site)...)
	}
	t.Cleanup(func() { openService = orig })
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &errOut
	err := app.Run(append([]string{"kbingest"}, args...))
	return out.String(), err
}

func testSite() *mock.Site {
	site := mock.NewSite()
	root := "https://docs.example.com/guide/"
	site.AddPage(root, "Guide", "The guide explains installation and configuration of the server.", root+"install", root+"configure")
	site.AddPage(root+"install", "Install", "Download the release archive and unpack it somewhere on your path.", root)
	site.AddPage(root+"configure", "Configure", "Point the configuration file at your embedding server.", root)
	return site
}

var kbLine = regexp.MustCompile(`Knowledge base: (\S+)`)

func TestCommands_EndToEnd(t *testing.T) {
	useTestService(t, testSite())

	out, err := runApp(t, "ingest", "--max-pages", "2", "https://docs.example.com/guide/")
	require.NoError(t, err)
	m := kbLine.FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	kbID := m[1]
	assert.Contains(t, out, "status: completed")
	assert.Contains(t, out, "pages: 2 done")

	out, err = runApp(t, "documents", kbID)
	require.NoError(t, err)
	assert.Contains(t, out, "Found 2 documents")
	assert.Contains(t, out, "https://docs.example.com/guide/")

	out, err = runApp(t, "chunks", "--content", kbID)
	require.NoError(t, err)
	assert.Contains(t, out, "indexed")
	assert.NotContains(t, out, "Found 0 chunks")

	out, err = runApp(t, "search", "--top-k", "1", kbID, "installation", "guide")
	require.NoError(t, err)
	assert.Contains(t, out, "Found 1 hits")

	out, err = runApp(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Found 1 knowledge bases")
	assert.Contains(t, out, kbID)
	assert.Contains(t, out, "completed")

	out, err = runApp(t, "retry", kbID)
	require.NoError(t, err)
	assert.Contains(t, out, "pages: 0 done, 2 skipped")

	out, err = runApp(t, "delete", kbID)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted knowledge base")

	_, err = runApp(t, "documents", kbID)
	assert.Error(t, err)
}

func TestIngestCommand_Errors(t *testing.T) {
	useTestService(t, testSite())

	tests := []struct {
		name string
		args []string
		msg  string
	}{
		{"missing url", []string{"ingest"}, "expected exactly one URL"},
		{"overlap not below size", []string{"ingest", "--chunk-size", "10", "--chunk-overlap", "10", "https://example.com/"}, "invalid source"},
		{"unsupported kind", []string{"ingest", "--kind", "image", "https://example.com/a.png"}, "invalid source"},
		{"bad scheme", []string{"ingest", "ftp://example.com/"}, "invalid source"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runApp(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestIngestCommand_FailedRun(t *testing.T) {
	site := mock.NewSite()
	useTestService(t, site)

	out, err := runApp(t, "ingest", "https://missing.example.com/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
	assert.Contains(t, out, "status: failed")
	assert.Contains(t, out, "[fetch] https://missing.example.com/")
}

func TestInspectCommands_Errors(t *testing.T) {
	useTestService(t, testSite())

	tests := []struct {
		name string
		args []string
	}{
		{"status without run", []string{"status"}},
		{"status unknown run", []string{"status", "nope"}},
		{"documents unknown kb", []string{"documents", "nope"}},
		{"chunks unknown kb", []string{"chunks", "nope"}},
		{"search without query", []string{"search", "nope"}},
		{"retry unknown kb", []string{"retry", "nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runApp(t, tt.args...)
			assert.Error(t, err)
		})
	}

	out, err := runApp(t, "purge-drafts")
	require.NoError(t, err)
	assert.Contains(t, out, "Purged 0 expired drafts")
}

func TestWatch_InterruptCancelsRun(t *testing.T) {
	site := mock.NewSite()
	site.RenderFunc = func(ctx context.Context, url string) (*fetch.Page, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
		return &fetch.Page{
			HTML:       `<html><body><p>Slow page.</p><a href="/next">next</a></body></html>`,
			Title:      "Slow",
			StatusCode: 200,
		}, nil
	}

	ctx := context.Background()
	svc, err := kbingest.Open(ctx, "", append(testServiceOptions(site), kbingest.WithInMemory())...)
	require.NoError(t, err)
	defer svc.Close()

	draft, err := svc.CreateDraft(ctx, "slow")
	require.NoError(t, err)
	_, err = svc.CreateDraftSource(ctx, draft.ID, core.SourceConfig{URL: "https://slow.example.com/"})
	require.NoError(t, err)
	_, runID, err := svc.FinalizeDraft(ctx, draft.ID)
	require.NoError(t, err)

	interrupt := make(chan struct{})
	close(interrupt)

	var progress bytes.Buffer
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	status, err := watch(waitCtx, svc, runID, &progress, 50, interrupt)
	require.NoError(t, err)

	assert.Equal(t, core.RunCancelled, status.Status)
	assert.True(t, status.CancelRequested)
	assert.Contains(t, progress.String(), "Cancelling pipeline run")
	assert.Less(t, site.TotalRenders(), 50)
}

func TestSetupLogger(t *testing.T) {
	t.Run("valid log levels", func(t *testing.T) {
		testCases := []struct {
			input    string
			expected slog.Level
		}{
			{"debug", slog.LevelDebug},
			{"info", slog.LevelInfo},
			{"WaRn", slog.LevelWarn},
			{"ERROR", slog.LevelError},
		}

		for _, tc := range testCases {
			t.Run(tc.input, func(t *testing.T) {
				app := &cli.App{
					Name: "test",
					Flags: []cli.Flag{
						&cli.StringFlag{
							Name:  "log-level",
							Value: "info",
						},
					},
					Before: setupLogger,
					Action: func(c *cli.Context) error {
						return nil
					},
				}

				err := app.Run([]string{"test", "--log-level", tc.input})
				require.NoError(t, err)
				assert.True(t, slog.Default().Enabled(context.Background(), tc.expected))
			})
		}
	})

	t.Run("invalid log level returns error", func(t *testing.T) {
		_, err := runApp(t, "--log-level", "loud", "list")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("config file sets the level", func(t *testing.T) {
		t.Setenv("KBINGEST_LOG_LEVEL", "warn")
		app := newApp()
		app.Commands = nil
		app.Action = func(c *cli.Context) error {
			assert.False(t, slog.Default().Enabled(context.Background(), slog.LevelInfo))
			assert.Equal(t, "warn", configFrom(c).LogLevel)
			return nil
		}
		require.NoError(t, app.Run([]string{"kbingest"}))
	})

	t.Run("db flag overrides storage path", func(t *testing.T) {
		app := newApp()
		app.Commands = nil
		app.Action = func(c *cli.Context) error {
			assert.Equal(t, "/tmp/elsewhere", configFrom(c).StoragePath)
			return nil
		}
		require.NoError(t, app.Run([]string{"kbingest", "--db", "/tmp/elsewhere"}))
	})
}

func TestProgressTracker(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 10)

	status := &kbingest.PipelineStatus{Status: core.RunRunning, Stage: core.StageCrawl}
	tracker.Update(status)
	assert.Empty(t, buf.String(), "no output before Start")

	tracker.Start()
	status.Progress.PagesDone = 4
	status.Progress.PagesSkipped = 1
	tracker.Update(status)
	assert.Contains(t, buf.String(), "pages: 5/10 (50.0%)")

	n := buf.Len()
	tracker.Update(status)
	assert.Equal(t, n, buf.Len(), "unchanged progress is not reported again")

	status.Stage = core.StageEmbed
	status.Progress.ChunksTotal = 8
	status.Progress.ChunksEmbedded = 2
	tracker.Update(status)
	assert.Contains(t, buf.String(), "[embed] chunks: 2/8 embedded (25.0%)")

	status.Status = core.RunCompleted
	status.Progress.ChunksEmbedded = 8
	tracker.Finish(status)
	assert.Contains(t, buf.String(), "completed: [embed] chunks: 8/8 embedded (100.0%)")
	assert.True(t, bytes.HasSuffix(buf.Bytes(), []byte("\n")))
	assert.Greater(t, tracker.Elapsed(), time.Duration(0))
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b c", preview("a\n b\t\tc", 10))
	assert.Equal(t, "abc...", preview("abcdef", 3))
}
