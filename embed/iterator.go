package embed

import (
	"context"

	"github.com/poiesic/kbingest/core"
)

// ChunkLister loads the chunks of a knowledge base that need processing.
type ChunkLister func(ctx context.Context, kbID string) ([]*core.Chunk, error)

// ChunkIterator iterates over a knowledge base's pending chunks in batches.
type ChunkIterator struct {
	list      ChunkLister
	kbID      string
	batchSize int
}

// NewChunkIterator creates a new chunk iterator.
// batchSize: number of chunks handed to fn per call (defaults to DefaultBatchSize)
func NewChunkIterator(list ChunkLister, kbID string, batchSize int) *ChunkIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &ChunkIterator{
		list:      list,
		kbID:      kbID,
		batchSize: batchSize,
	}
}

// ForEach loads the pending chunks once and calls fn for each batch.
// Iteration stops on the first error from fn. Context cancellation is
// checked between batches.
func (it *ChunkIterator) ForEach(ctx context.Context, fn func([]*core.Chunk) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	chunks, err := it.list(ctx, it.kbID)
	if err != nil {
		return err
	}

	for i := 0; i < len(chunks); i += it.batchSize {
		end := min(i+it.batchSize, len(chunks))
		if err := fn(chunks[i:end]); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}
