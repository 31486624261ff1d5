// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/poiesic/kbingest"
	"github.com/poiesic/kbingest/config"
	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/pipeline"
)

const (
	configKey    = "config"
	pollInterval = 500 * time.Millisecond
)

// openService is replaced in tests.
var openService = func(c *cli.Context, browser bool) (*kbingest.Service, error) {
	var opts []kbingest.Option
	if !browser {
		opts = append(opts, kbingest.WithoutBrowser())
	}
	return kbingest.OpenConfig(c.Context, configFrom(c), opts...)
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "kbingest",
		Usage: "Build searchable knowledge bases from web sites and documents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a TOML configuration file",
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to the BadgerDB database directory (overrides storage_path)",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Crawl a URL into a new knowledge base and wait for the pipeline",
				ArgsUsage: "URL",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "name",
						Usage: "Knowledge base name (defaults to the URL)",
					},
					&cli.StringFlag{
						Name:  "kind",
						Usage: "Source kind (web, pdf)",
						Value: string(core.SourceKindWeb),
					},
					&cli.IntFlag{
						Name:  "max-pages",
						Usage: "Maximum number of pages to fetch",
					},
					&cli.IntFlag{
						Name:  "max-depth",
						Usage: "Maximum link depth from the start URL (0 for unlimited)",
					},
					&cli.IntFlag{
						Name:  "chunk-size",
						Usage: "Target chunk size in tokens",
					},
					&cli.IntFlag{
						Name:  "chunk-overlap",
						Usage: "Tokens shared between neighbouring chunks",
					},
					&cli.BoolFlag{
						Name:  "allow-cross-host",
						Usage: "Follow links to other hosts (requires --max-depth)",
					},
				},
			},
			{
				Name:      "retry",
				Usage:     "Run the pipeline again for a knowledge base, resuming from checkpoints",
				ArgsUsage: "KB_ID",
				Action:    retryCommand,
			},
			{
				Name:      "status",
				Usage:     "Show the state of a pipeline run",
				ArgsUsage: "RUN_ID",
				Action:    statusCommand,
			},
			{
				Name:   "list",
				Usage:  "List knowledge bases",
				Action: listCommand,
			},
			{
				Name:      "documents",
				Usage:     "List the documents of a knowledge base",
				ArgsUsage: "KB_ID",
				Action:    documentsCommand,
			},
			{
				Name:      "chunks",
				Usage:     "List the chunks of a knowledge base or one of its documents",
				ArgsUsage: "KB_ID",
				Action:    chunksCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "doc",
						Usage: "Only show chunks of this document",
					},
					&cli.BoolFlag{
						Name:  "content",
						Usage: "Print chunk content",
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Query a knowledge base's vector index",
				ArgsUsage: "KB_ID QUERY...",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "Number of results",
						Value: kbingest.DefaultTopK,
					},
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a knowledge base with its documents, chunks and vectors",
				ArgsUsage: "KB_ID",
				Action:    deleteCommand,
			},
			{
				Name:   "purge-drafts",
				Usage:  "Delete expired drafts",
				Action: purgeDraftsCommand,
			},
		},
	}
}

func setup(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("db") {
		cfg.StoragePath = c.String("db")
	}
	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]any)
	}
	c.App.Metadata[configKey] = cfg
	return setupLogger(c)
}

func configFrom(c *cli.Context) *config.Config {
	if cfg, ok := c.App.Metadata[configKey].(*config.Config); ok {
		return cfg
	}
	return config.Default()
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))
	if !c.IsSet("log-level") {
		if cfg, ok := c.App.Metadata[configKey].(*config.Config); ok {
			levelStr = cfg.LogLevel
		}
	}

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return nil
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one URL")
	}
	ctx := c.Context

	src := configFrom(c).NewSource(core.SourceKind(c.String("kind")), c.Args().First())
	if c.IsSet("max-pages") {
		src.MaxPages = c.Int("max-pages")
	}
	if c.IsSet("max-depth") {
		src.MaxDepth = c.Int("max-depth")
	}
	if c.IsSet("chunk-size") {
		src.ChunkSize = c.Int("chunk-size")
	}
	if c.IsSet("chunk-overlap") {
		src.ChunkOverlap = c.Int("chunk-overlap")
	}
	if c.IsSet("allow-cross-host") {
		src.AllowCrossHost = c.Bool("allow-cross-host")
	}
	name := c.String("name")
	if name == "" {
		name = src.URL
	}

	svc, err := openService(c, true)
	if err != nil {
		return fmt.Errorf("failed to open knowledge store: %w", err)
	}
	defer svc.Close()

	draft, err := svc.CreateDraft(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to create draft: %w", err)
	}
	if _, err := svc.CreateDraftSource(ctx, draft.ID, src); err != nil {
		return fmt.Errorf("invalid source: %w", err)
	}
	kbID, runID, err := svc.FinalizeDraft(ctx, draft.ID)
	if err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	out := c.App.Writer
	fmt.Fprintf(out, "Knowledge base: %s\n", kbID)
	fmt.Fprintf(out, "Pipeline run: %s\n", runID)

	return followRun(c, svc, runID, src.MaxPages)
}

func retryCommand(c *cli.Context) error {
	kbID, err := oneArg(c, "KB_ID")
	if err != nil {
		return err
	}
	svc, err := openService(c, true)
	if err != nil {
		return fmt.Errorf("failed to open knowledge store: %w", err)
	}
	defer svc.Close()

	kb, err := svc.GetKnowledgeBase(c.Context, kbID)
	if err != nil {
		return err
	}
	runID, err := svc.RetryPipeline(c.Context, kbID)
	if err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Pipeline run: %s\n", runID)

	pageLimit := 0
	for _, src := range kb.Sources {
		pageLimit += src.MaxPages
	}
	return followRun(c, svc, runID, pageLimit)
}

// followRun reports progress until the run ends. An interrupt cancels the
// run; it then stops at the next page or batch boundary.
func followRun(c *cli.Context, svc *kbingest.Service, runID string, pageLimit int) error {
	interrupt, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	status, err := watch(c.Context, svc, runID, c.App.ErrWriter, pageLimit, interrupt.Done())
	if err != nil {
		return err
	}
	printStatus(c.App.Writer, status)
	if status.Status == core.RunFailed {
		return fmt.Errorf("pipeline run %s failed", runID)
	}
	return nil
}

func watch(ctx context.Context, svc *kbingest.Service, runID string, w io.Writer, pageLimit int, interrupt <-chan struct{}) (*kbingest.PipelineStatus, error) {
	tracker := NewProgressTracker(w, pageLimit)
	tracker.Start()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		status, err := svc.GetPipelineStatus(ctx, runID)
		if err != nil {
			return nil, err
		}
		if status.Status.IsTerminal() {
			tracker.Finish(status)
			return status, nil
		}
		tracker.Update(status)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-interrupt:
			interrupt = nil
			fmt.Fprintln(w, "\nCancelling pipeline run...")
			if err := svc.CancelPipeline(ctx, runID); err != nil && !errors.Is(err, pipeline.ErrRunFinished) {
				return nil, err
			}
		case <-ticker.C:
		}
	}
}

func statusCommand(c *cli.Context) error {
	runID, err := oneArg(c, "RUN_ID")
	if err != nil {
		return err
	}
	svc, err := openService(c, false)
	if err != nil {
		return fmt.Errorf("failed to open knowledge store: %w", err)
	}
	defer svc.Close()

	status, err := svc.GetPipelineStatus(c.Context, runID)
	if err != nil {
		return err
	}
	printStatus(c.App.Writer, status)
	return nil
}

func printStatus(w io.Writer, s *kbingest.PipelineStatus) {
	fmt.Fprintf(w, "Run %s (knowledge base %s)\n", s.RunID, s.KBID)
	fmt.Fprintf(w, "  status: %s, stage: %s\n", s.Status, s.Stage)
	p := s.Progress
	fmt.Fprintf(w, "  pages: %d done, %d skipped, %d failed\n", p.PagesDone, p.PagesSkipped, p.PagesFailed)
	fmt.Fprintf(w, "  chunks: %d total, %d embedded, %d indexed, %d failed\n",
		p.ChunksTotal, p.ChunksEmbedded, p.ChunksIndexed, p.ChunksFailed)
	if !s.FinishedAt.IsZero() && !s.StartedAt.IsZero() {
		fmt.Fprintf(w, "  took: %s\n", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	}
	if len(s.ErrorLog) > 0 {
		fmt.Fprintf(w, "  errors:\n")
		for _, e := range s.ErrorLog {
			fmt.Fprintf(w, "    [%s] %s: %s\n", e.Kind, e.Key, e.Reason)
		}
	}
}

func listCommand(c *cli.Context) error {
	svc, err := openService(c, false)
	if err != nil {
		return fmt.Errorf("failed to open knowledge store: %w", err)
	}
	defer svc.Close()

	kbs, err := svc.ListKnowledgeBases(c.Context)
	if err != nil {
		return err
	}
	out := c.App.Writer
	fmt.Fprintf(out, "Found %d knowledge bases\n", len(kbs))
	for _, kb := range kbs {
		last := "no runs"
		runs, err := svc.ListRuns(c.Context, kb.ID)
		if err != nil {
			return err
		}
		if len(runs) > 0 {
			last = string(runs[len(runs)-1].Status)
		}
		fmt.Fprintf(out, "%s  %-30s  %d sources  %s  (created %s)\n",
			kb.ID, kb.Name, len(kb.Sources), last, humanize.Time(kb.CreatedAt))
	}
	return nil
}

func documentsCommand(c *cli.Context) error {
	kbID, err := oneArg(c, "KB_ID")
	if err != nil {
		return err
	}
	svc, err := openService(c, false)
	if err != nil {
		return fmt.Errorf("failed to open knowledge store: %w", err)
	}
	defer svc.Close()

	docs, err := svc.ListDocuments(c.Context, kbID)
	if err != nil {
		return err
	}
	out := c.App.Writer
	fmt.Fprintf(out, "Found %d documents\n", len(docs))
	for _, d := range docs {
		fmt.Fprintf(out, "%s  %-22s %7s words  %s\n", d.ID, d.Status, humanize.Comma(int64(d.WordCount)), d.URL)
		for _, w := range d.Warnings {
			fmt.Fprintf(out, "    warning: %s\n", w)
		}
	}
	return nil
}

func chunksCommand(c *cli.Context) error {
	kbID, err := oneArg(c, "KB_ID")
	if err != nil {
		return err
	}
	svc, err := openService(c, false)
	if err != nil {
		return fmt.Errorf("failed to open knowledge store: %w", err)
	}
	defer svc.Close()

	chunks, err := svc.ListChunks(c.Context, kbID, c.String("doc"))
	if err != nil {
		return err
	}
	out := c.App.Writer
	fmt.Fprintf(out, "Found %d chunks\n", len(chunks))
	for _, ch := range chunks {
		state := "pending"
		switch {
		case ch.Indexed:
			state = "indexed"
		case ch.HasEmbedding:
			state = "embedded"
		}
		fmt.Fprintf(out, "%s  doc %s #%d  %d tokens  %s  %s\n",
			ch.ID, ch.DocumentID, ch.ChunkIndex, ch.TokenCount, state, ch.Heading)
		if c.Bool("content") {
			fmt.Fprintf(out, "%s\n\n", ch.Content)
		}
	}
	return nil
}

func searchCommand(c *cli.Context) error {
	if c.NArg() < 2 {
		return fmt.Errorf("expected KB_ID and a query")
	}
	kbID := c.Args().First()
	query := strings.Join(c.Args().Tail(), " ")

	svc, err := openService(c, false)
	if err != nil {
		return fmt.Errorf("failed to open knowledge store: %w", err)
	}
	defer svc.Close()

	matches, err := svc.Search(c.Context, kbID, query, c.Int("top-k"))
	if err != nil {
		return err
	}
	out := c.App.Writer
	fmt.Fprintf(out, "Found %d hits\n", len(matches))
	for i, m := range matches {
		fmt.Fprintf(out, "%d: [%0.3f] %s (%s #%d)\n", i, m.Score, m.DocumentTitle, m.DocumentURL, m.ChunkIndex)
		fmt.Fprintf(out, "   %s\n", preview(m.Content, 160))
	}
	return nil
}

func deleteCommand(c *cli.Context) error {
	kbID, err := oneArg(c, "KB_ID")
	if err != nil {
		return err
	}
	svc, err := openService(c, false)
	if err != nil {
		return fmt.Errorf("failed to open knowledge store: %w", err)
	}
	defer svc.Close()

	if err := svc.DeleteKnowledgeBase(c.Context, kbID); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Deleted knowledge base %s\n", kbID)
	return nil
}

func purgeDraftsCommand(c *cli.Context) error {
	svc, err := openService(c, false)
	if err != nil {
		return fmt.Errorf("failed to open knowledge store: %w", err)
	}
	defer svc.Close()

	n, err := svc.PurgeExpiredDrafts(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Purged %d expired drafts\n", n)
	return nil
}

func oneArg(c *cli.Context, name string) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("expected exactly one %s argument", name)
	}
	return c.Args().First(), nil
}

func preview(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
