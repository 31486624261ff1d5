package badger

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/storage"
	"github.com/timshannon/badgerhold/v4"
)

// ChunkRepository implements storage.ChunkRepository for BadgerDB.
type ChunkRepository struct {
	backend *Backend
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// NewChunkRepository creates a new ChunkRepository.
func NewChunkRepository(backend *Backend) *ChunkRepository {
	return &ChunkRepository{backend: backend}
}

// ReplaceChunks deletes the document's existing chunks and stores the given
// ones in a single transaction.
func (r *ChunkRepository) ReplaceChunks(ctx context.Context, documentID string, chunks []*core.Chunk) error {
	now := time.Now().UTC()
	return r.backend.WithTx(func(tx *badger.Txn) error {
		query := badgerhold.Where("DocumentID").Eq(documentID).Index("DocumentID")
		if err := r.backend.store.TxDeleteMatching(tx, &core.Chunk{}, query); err != nil {
			return err
		}
		for _, c := range chunks {
			if c.CreatedAt.IsZero() {
				c.CreatedAt = now
			}
			if err := r.backend.store.TxUpsert(tx, c.ID, c); err != nil {
				return err
			}
		}
		return nil
	}, true)
}

// UpdateChunks overwrites existing chunks.
func (r *ChunkRepository) UpdateChunks(ctx context.Context, chunks ...*core.Chunk) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		for _, c := range chunks {
			if err := r.backend.store.TxUpdate(tx, c.ID, c); err != nil {
				return err
			}
		}
		return nil
	}, true)
}

// GetChunk retrieves a chunk by ID.
func (r *ChunkRepository) GetChunk(ctx context.Context, id string) (*core.Chunk, error) {
	var c core.Chunk
	if err := r.backend.store.Get(id, &c); err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// ListChunks returns a knowledge base's chunks, optionally restricted to
// one document, ordered by document and chunk index.
func (r *ChunkRepository) ListChunks(ctx context.Context, kbID, documentID string) ([]*core.Chunk, error) {
	var query *badgerhold.Query
	if documentID != "" {
		query = badgerhold.Where("DocumentID").Eq(documentID).Index("DocumentID").And("KBID").Eq(kbID)
	} else {
		query = badgerhold.Where("KBID").Eq(kbID).Index("KBID")
	}
	return r.find(query)
}

// ListUnembedded returns chunks that still need an embedding. The filter
// runs inside the query, so chunks that already carry a vector are never
// collected.
func (r *ChunkRepository) ListUnembedded(ctx context.Context, kbID string) ([]*core.Chunk, error) {
	query := badgerhold.Where("KBID").Eq(kbID).Index("KBID").And("HasEmbedding").Eq(false)
	return r.find(query)
}

// ListUnindexed returns embedded chunks missing from the vector index.
func (r *ChunkRepository) ListUnindexed(ctx context.Context, kbID string) ([]*core.Chunk, error) {
	query := badgerhold.Where("KBID").Eq(kbID).Index("KBID").And("HasEmbedding").Eq(true).And("Indexed").Eq(false)
	return r.find(query)
}

// DeleteChunks removes every chunk of a knowledge base.
func (r *ChunkRepository) DeleteChunks(ctx context.Context, kbID string) error {
	return translate(r.backend.store.DeleteMatching(&core.Chunk{}, badgerhold.Where("KBID").Eq(kbID).Index("KBID")))
}

func (r *ChunkRepository) find(query *badgerhold.Query) ([]*core.Chunk, error) {
	var chunks []core.Chunk
	if err := r.backend.store.Find(&chunks, query); err != nil {
		return nil, translate(err)
	}

	result := make([]*core.Chunk, len(chunks))
	for i := range chunks {
		result[i] = &chunks[i]
	}
	slices.SortFunc(result, func(a, b *core.Chunk) int {
		if c := cmp.Compare(a.DocumentID, b.DocumentID); c != 0 {
			return c
		}
		return cmp.Compare(a.ChunkIndex, b.ChunkIndex)
	})
	return result, nil
}
