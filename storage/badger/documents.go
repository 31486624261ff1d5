package badger

import (
	"context"
	"slices"
	"time"

	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/storage"
	"github.com/timshannon/badgerhold/v4"
)

// DocumentRepository implements storage.DocumentRepository for BadgerDB.
type DocumentRepository struct {
	backend *Backend
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend) *DocumentRepository {
	return &DocumentRepository{backend: backend}
}

// SaveDocument inserts or replaces a document.
func (r *DocumentRepository) SaveDocument(ctx context.Context, doc *core.Document) error {
	if doc.ID == "" {
		return storage.ErrInvalidArgument
	}
	now := time.Now().UTC()
	if doc.FetchedAt.IsZero() {
		doc.FetchedAt = now
	}
	doc.UpdatedAt = now
	return translate(r.backend.store.Upsert(doc.ID, doc))
}

// GetDocument retrieves a document by ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, id string) (*core.Document, error) {
	var doc core.Document
	if err := r.backend.store.Get(id, &doc); err != nil {
		return nil, translate(err)
	}
	return &doc, nil
}

// GetDocumentByURL finds a knowledge base's document for url.
func (r *DocumentRepository) GetDocumentByURL(ctx context.Context, kbID, url string) (*core.Document, error) {
	var docs []core.Document
	query := badgerhold.Where("KBID").Eq(kbID).Index("KBID").And("URL").Eq(url)
	if err := r.backend.store.Find(&docs, query); err != nil {
		return nil, translate(err)
	}
	if len(docs) == 0 {
		return nil, storage.ErrNotFound
	}
	return &docs[0], nil
}

// ListDocuments returns a knowledge base's documents in fetch order.
func (r *DocumentRepository) ListDocuments(ctx context.Context, kbID string) ([]*core.Document, error) {
	var docs []core.Document
	if err := r.backend.store.Find(&docs, badgerhold.Where("KBID").Eq(kbID).Index("KBID")); err != nil {
		return nil, translate(err)
	}

	result := make([]*core.Document, len(docs))
	for i := range docs {
		result[i] = &docs[i]
	}
	slices.SortStableFunc(result, func(a, b *core.Document) int {
		return a.FetchedAt.Compare(b.FetchedAt)
	})
	return result, nil
}

// DeleteDocuments removes every document of a knowledge base.
func (r *DocumentRepository) DeleteDocuments(ctx context.Context, kbID string) error {
	return translate(r.backend.store.DeleteMatching(&core.Document{}, badgerhold.Where("KBID").Eq(kbID).Index("KBID")))
}
