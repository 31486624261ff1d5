package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/kbingest/chunk"
	"github.com/poiesic/kbingest/clean"
	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/fetch"
	"github.com/poiesic/kbingest/index"
	"github.com/poiesic/kbingest/storage"
)

type target struct {
	url   string
	depth int
}

type pageResult struct {
	ok    bool
	depth int
	links []string
	// err is a storage failure that ends the crawl.
	err error
}

// crawler runs the crawl, clean and chunk stages of one run.
type crawler struct {
	kbID      string
	fetcher   *fetch.Fetcher
	index     index.VectorIndex
	documents storage.DocumentRepository
	chunks    storage.ChunkRepository
	state     *runState
	workers   int
	// completed holds the URLs checkpointed by earlier runs of the KB.
	completed map[string]bool
	logger    *slog.Logger
}

func (c *crawler) isCompleted(u string) bool {
	return c.completed[u] || c.state.hasCompleted(u)
}

// crawlSource walks one source breadth first until MaxPages pages are done,
// the frontier is empty, or the run is cancelled. Pages already checkpointed
// count towards MaxPages without being fetched. A page whose checkpoint cannot
// be written stops the crawl; pages still in flight are drained first.
func (c *crawler) crawlSource(ctx context.Context, src core.Source) error {
	scope, err := fetch.NewScope(src.URL, src.AllowCrossHost, src.MaxDepth)
	if err != nil {
		return fmt.Errorf("invalid source url: %w", err)
	}

	pool, err := ants.NewPool(c.workers)
	if err != nil {
		return err
	}
	defer pool.Release()

	seed := normalizeURL(src.URL)
	queue := []target{{url: seed}}
	seen := map[string]bool{seed: true}
	enqueue := func(links []string, depth int) {
		if !scope.AllowsDepth(depth) {
			return
		}
		for _, link := range links {
			link = normalizeURL(link)
			if seen[link] || !scope.Contains(link) {
				continue
			}
			seen[link] = true
			queue = append(queue, target{url: link, depth: depth})
		}
	}

	results := make(chan pageResult)
	inflight, done := 0, 0
	var fatal error
	for {
		for fatal == nil && len(queue) > 0 && inflight < c.workers && done+inflight < src.MaxPages {
			if c.state.isCancelled() || ctx.Err() != nil {
				queue = nil
				break
			}
			t := queue[0]
			queue = queue[1:]

			if c.isCompleted(t.url) {
				done++
				c.state.modify(func(run *core.PipelineRun) { run.Progress.PagesSkipped++ })
				enqueue(c.storedLinks(ctx, t.url), t.depth+1)
				continue
			}

			inflight++
			if err := pool.Submit(func() { results <- c.processPage(ctx, src, t) }); err != nil {
				inflight--
				c.logger.Error("failed to schedule page", "url", t.url, "err", err)
				queue = nil
				break
			}
		}
		if inflight == 0 {
			return fatal
		}

		r := <-results
		inflight--
		switch {
		case r.err != nil:
			if fatal == nil {
				fatal = r.err
			}
		case r.ok:
			done++
			enqueue(r.links, r.depth+1)
		}
	}
}

// storedLinks returns the outbound links saved with a checkpointed page.
func (c *crawler) storedLinks(ctx context.Context, u string) []string {
	doc, err := c.documents.GetDocumentByURL(ctx, c.kbID, u)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn("failed to load checkpointed document", "url", u, "err", err)
		}
		return nil
	}
	return doc.Links
}

func (c *crawler) processPage(ctx context.Context, src core.Source, t target) pageResult {
	c.state.modify(func(run *core.PipelineRun) { run.Stage = core.StageCrawl })
	res, err := c.fetcher.Fetch(ctx, t.url, &src)
	if err != nil {
		if ctx.Err() != nil {
			return pageResult{}
		}
		return pageResult{err: c.pageFailed(ctx, src, t, err)}
	}

	doc, chunkCount, err := c.ingest(ctx, src, t, res)
	if err != nil {
		if ctx.Err() != nil {
			return pageResult{}
		}
		return pageResult{err: c.pageFailed(ctx, src, t, err)}
	}

	err = c.state.update(ctx, func(run *core.PipelineRun) {
		run.MarkPageCompleted(t.url)
		run.Progress.PagesDone++
		run.Progress.ChunksTotal += chunkCount
		for _, w := range doc.Warnings {
			run.LogError(core.ErrorKindQuality, t.url, w)
		}
	})
	if err != nil {
		return pageResult{err: fmt.Errorf("%w: %s: %w", ErrCheckpointFailed, t.url, err)}
	}
	c.logger.Debug("page done", "url", t.url, "depth", t.depth, "chunks", chunkCount, "status", doc.Status)
	return pageResult{ok: true, depth: t.depth, links: res.Links}
}

// ingest cleans a fetched page, stores it as a Document and replaces its
// chunks. A page whose cleaned content is unchanged since it was last
// chunked keeps its chunks and embeddings.
func (c *crawler) ingest(ctx context.Context, src core.Source, t target, res *fetch.Result) (*core.Document, int, error) {
	c.state.modify(func(run *core.PipelineRun) { run.Stage = core.StageClean })
	cleaned := clean.Clean(res.Markdown, src.Cleaning)

	existing, err := c.existingDocument(ctx, t.url)
	if err != nil {
		return nil, 0, err
	}

	now := time.Now().UTC()
	doc := &core.Document{
		ID:             core.NewID(),
		KBID:           c.kbID,
		SourceID:       src.ID,
		URL:            t.url,
		Title:          res.Title,
		Depth:          t.depth,
		Links:          res.Links,
		WordCount:      cleaned.Quality.WordCount,
		LinkCount:      cleaned.Quality.LinkCount,
		LinkDensity:    cleaned.Quality.LinkDensity,
		HeadingCount:   cleaned.Quality.HeadingCount,
		CodeBlockCount: cleaned.Quality.CodeBlockCount,
		CleanedContent: cleaned.Content,
		Warnings:       cleaned.Quality.Warnings,
		Status:         core.DocumentCleaned,
		ContentHash:    core.ContentHash(cleaned.Content),
		FetchedAt:      now,
	}
	if cleaned.Quality.HasWarnings() {
		doc.Status = core.DocumentCleanedWithWarnings
	}

	if existing != nil {
		doc.ID = existing.ID
		if existing.ContentHash == doc.ContentHash && existing.Status != core.DocumentFailed {
			kept, err := c.chunks.ListChunks(ctx, c.kbID, existing.ID)
			if err != nil {
				return nil, 0, err
			}
			if len(kept) > 0 || existing.Status == core.DocumentEmpty {
				doc.Status = existing.Status
				if err := c.documents.SaveDocument(ctx, doc); err != nil {
					return nil, 0, err
				}
				return doc, len(kept), nil
			}
		}
	}

	if err := c.documents.SaveDocument(ctx, doc); err != nil {
		return nil, 0, err
	}

	c.state.modify(func(run *core.PipelineRun) { run.Stage = core.StageChunk })
	pieces, err := chunk.Chunk(cleaned.Content, src.ChunkSize, src.ChunkOverlap)
	if err != nil {
		return nil, 0, err
	}

	chunks := make([]*core.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = &core.Chunk{
			ID:         core.ChunkID(doc.ID, p.Index),
			KBID:       c.kbID,
			DocumentID: doc.ID,
			ChunkIndex: p.Index,
			Content:    p.Content,
			Heading:    p.Heading,
			TokenCount: p.TokenCount,
			CreatedAt:  now,
		}
	}
	if existing != nil {
		// Replaced chunks are re-embedded and re-indexed; drop the old
		// points so a shorter document leaves none behind.
		if err := c.index.DeleteDocument(ctx, c.kbID, doc.ID); err != nil {
			return nil, 0, fmt.Errorf("failed to drop stale vectors: %w", err)
		}
	}
	if err := c.chunks.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return nil, 0, err
	}

	switch {
	case len(chunks) == 0:
		doc.Status = core.DocumentEmpty
	case doc.Status == core.DocumentCleaned:
		doc.Status = core.DocumentChunked
	}
	if err := c.documents.SaveDocument(ctx, doc); err != nil {
		return nil, 0, err
	}
	return doc, len(chunks), nil
}

func (c *crawler) existingDocument(ctx context.Context, u string) (*core.Document, error) {
	doc, err := c.documents.GetDocumentByURL(ctx, c.kbID, u)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return doc, err
}

// pageFailed records a page failure in the run and, unless the page already
// has content from an earlier run, stores a failed Document for it. The
// returned error is non-nil only when the run itself could not be updated.
func (c *crawler) pageFailed(ctx context.Context, src core.Source, t target, cause error) error {
	c.logger.Warn("page failed", "url", t.url, "err", cause)

	existing, err := c.existingDocument(ctx, t.url)
	if err != nil {
		c.logger.Error("failed to look up document", "url", t.url, "err", err)
	}
	if existing == nil && err == nil {
		now := time.Now().UTC()
		doc := &core.Document{
			ID:        core.NewID(),
			KBID:      c.kbID,
			SourceID:  src.ID,
			URL:       t.url,
			Depth:     t.depth,
			Status:    core.DocumentFailed,
			Warnings:  []string{cause.Error()},
			FetchedAt: now,
		}
		if err := c.documents.SaveDocument(ctx, doc); err != nil {
			c.logger.Error("failed to store failed document", "url", t.url, "err", err)
		}
	}

	err = c.state.update(ctx, func(run *core.PipelineRun) {
		run.Progress.PagesFailed++
		run.LogError(core.ErrorKindFetch, t.url, cause.Error())
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCheckpointFailed, t.url, err)
	}
	return nil
}

// normalizeURL drops the fragment so the same page is visited once.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}
