package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/embed"
	"github.com/poiesic/kbingest/storage"
)

var errCancelled = errors.New("run cancelled")

// embedPass embeds every chunk of a knowledge base that has no embedding,
// whichever run created it.
type embedPass struct {
	batcher *embed.Batcher
	chunks  storage.ChunkRepository
	state   *runState
	logger  *slog.Logger
}

func (p *embedPass) run(ctx context.Context, kbID string) error {
	var attempted, embedded int
	var lastErr error

	it := embed.NewChunkIterator(p.chunks.ListUnembedded, kbID, p.batcher.BatchSize())
	err := it.ForEach(ctx, func(batch []*core.Chunk) error {
		if p.state.isCancelled() {
			return errCancelled
		}

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vectors, err := p.batcher.Embed(ctx, texts)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		now := time.Now().UTC()
		ok := make([]*core.Chunk, 0, len(batch))
		for i, c := range batch {
			if vectors[i] == nil {
				continue
			}
			c.Embedding = vectors[i]
			c.HasEmbedding = true
			c.EmbeddedAt = now
			ok = append(ok, c)
		}
		if len(ok) > 0 {
			if err := p.chunks.UpdateChunks(ctx, ok...); err != nil {
				return fmt.Errorf("failed to store embeddings: %w", err)
			}
		}

		failures := embed.Failures(err)
		if len(failures) > 0 {
			lastErr = failures[len(failures)-1].Err
		}
		attempted += len(batch)
		embedded += len(ok)

		return p.state.update(ctx, func(run *core.PipelineRun) {
			run.Progress.ChunksEmbedded += len(ok)
			run.Progress.ChunksFailed += len(failures)
			for _, f := range failures {
				run.LogError(core.ErrorKindEmbed, batch[f.Index].ID, f.Err.Error())
			}
		})
	})
	if err != nil {
		return err
	}

	if attempted > 0 && embedded == 0 {
		return fmt.Errorf("%w: %d chunks failed: %w", ErrEmbeddingUnavailable, attempted, lastErr)
	}
	p.logger.Debug("embedding pass done", "attempted", attempted, "embedded", embedded)
	return nil
}
