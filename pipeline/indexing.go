package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/embed"
	"github.com/poiesic/kbingest/index"
	"github.com/poiesic/kbingest/storage"
)

// indexPass upserts every embedded chunk that is not yet in the vector index.
type indexPass struct {
	index       index.VectorIndex
	chunks      storage.ChunkRepository
	documents   storage.DocumentRepository
	state       *runState
	batchSize   int
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

func (p *indexPass) run(ctx context.Context, kbID string) error {
	docs := make(map[string]*core.Document)
	lookup := func(id string) (*core.Document, error) {
		if d, ok := docs[id]; ok {
			return d, nil
		}
		d, err := p.documents.GetDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		docs[id] = d
		return d, nil
	}

	indexed := 0
	it := embed.NewChunkIterator(p.chunks.ListUnindexed, kbID, p.batchSize)
	err := it.ForEach(ctx, func(batch []*core.Chunk) error {
		if p.state.isCancelled() {
			return errCancelled
		}

		points := make([]index.Point, 0, len(batch))
		for _, c := range batch {
			doc, err := lookup(c.DocumentID)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			point := index.Point{
				ChunkID:    c.ID,
				DocumentID: c.DocumentID,
				ChunkIndex: c.ChunkIndex,
				Heading:    c.Heading,
				Content:    c.Content,
				Vector:     c.Embedding,
			}
			if doc != nil {
				point.DocumentURL = doc.URL
				point.DocumentTitle = doc.Title
			}
			points = append(points, point)
		}

		err := embed.RetryWithBackoff(ctx, func() error {
			err := p.index.Upsert(ctx, kbID, points)
			if errors.Is(err, index.ErrDimensionMismatch) {
				return embed.Permanent(err)
			}
			return err
		}, p.maxAttempts, p.baseDelay)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
		}

		for _, c := range batch {
			c.Indexed = true
		}
		if err := p.chunks.UpdateChunks(ctx, batch...); err != nil {
			return fmt.Errorf("failed to mark chunks indexed: %w", err)
		}
		indexed += len(batch)
		return p.state.update(ctx, func(run *core.PipelineRun) {
			run.Progress.ChunksIndexed += len(batch)
		})
	})
	if err != nil {
		return err
	}
	p.logger.Debug("index pass done", "indexed", indexed)
	return nil
}
