package badger

import (
	"context"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/storage"
)

// KnowledgeBaseRepository implements storage.KnowledgeBaseRepository for BadgerDB.
type KnowledgeBaseRepository struct {
	backend *Backend
}

var _ storage.KnowledgeBaseRepository = (*KnowledgeBaseRepository)(nil)

// NewKnowledgeBaseRepository creates a new KnowledgeBaseRepository.
func NewKnowledgeBaseRepository(backend *Backend) *KnowledgeBaseRepository {
	return &KnowledgeBaseRepository{backend: backend}
}

// CreateKnowledgeBase stores a new knowledge base.
func (r *KnowledgeBaseRepository) CreateKnowledgeBase(ctx context.Context, kb *core.KnowledgeBase) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		return r.backend.store.TxInsert(tx, kb.ID, kb)
	}, true)
}

// GetKnowledgeBase retrieves a knowledge base by ID.
func (r *KnowledgeBaseRepository) GetKnowledgeBase(ctx context.Context, id string) (*core.KnowledgeBase, error) {
	var kb core.KnowledgeBase
	if err := r.backend.store.Get(id, &kb); err != nil {
		return nil, translate(err)
	}
	return &kb, nil
}

// ListKnowledgeBases returns all knowledge bases, oldest first.
func (r *KnowledgeBaseRepository) ListKnowledgeBases(ctx context.Context) ([]*core.KnowledgeBase, error) {
	var kbs []core.KnowledgeBase
	if err := r.backend.store.Find(&kbs, nil); err != nil {
		return nil, translate(err)
	}

	result := make([]*core.KnowledgeBase, len(kbs))
	for i := range kbs {
		result[i] = &kbs[i]
	}
	slices.SortFunc(result, func(a, b *core.KnowledgeBase) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result, nil
}

// DeleteKnowledgeBase removes the knowledge base record.
func (r *KnowledgeBaseRepository) DeleteKnowledgeBase(ctx context.Context, id string) error {
	return translate(r.backend.store.Delete(id, &core.KnowledgeBase{}))
}
