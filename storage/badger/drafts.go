package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/storage"
)

// DraftRepository implements storage.DraftRepository for BadgerDB.
type DraftRepository struct {
	backend *Backend
}

var _ storage.DraftRepository = (*DraftRepository)(nil)

// NewDraftRepository creates a new DraftRepository.
func NewDraftRepository(backend *Backend) *DraftRepository {
	return &DraftRepository{backend: backend}
}

// CreateDraft stores a new draft.
func (r *DraftRepository) CreateDraft(ctx context.Context, draft *core.Draft) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		return r.backend.store.TxInsert(tx, draft.ID, draft)
	}, true)
}

// GetDraft retrieves a draft by ID.
func (r *DraftRepository) GetDraft(ctx context.Context, id string) (*core.Draft, error) {
	var draft core.Draft
	if err := r.backend.store.Get(id, &draft); err != nil {
		return nil, translate(err)
	}
	return &draft, nil
}

// UpdateDraft overwrites an existing draft.
func (r *DraftRepository) UpdateDraft(ctx context.Context, draft *core.Draft) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		return r.backend.store.TxUpdate(tx, draft.ID, draft)
	}, true)
}

// DeleteDraft removes a draft. Missing drafts are ignored.
func (r *DraftRepository) DeleteDraft(ctx context.Context, id string) error {
	err := translate(r.backend.store.Delete(id, &core.Draft{}))
	if err == storage.ErrNotFound {
		return nil
	}
	return err
}

// ListExpiredDrafts returns drafts whose TTL has elapsed at now.
func (r *DraftRepository) ListExpiredDrafts(ctx context.Context, now time.Time) ([]*core.Draft, error) {
	var drafts []core.Draft
	if err := r.backend.store.Find(&drafts, nil); err != nil {
		return nil, translate(err)
	}

	var expired []*core.Draft
	for i := range drafts {
		if drafts[i].Expired(now) {
			expired = append(expired, &drafts[i])
		}
	}
	return expired, nil
}
