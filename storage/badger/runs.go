package badger

import (
	"context"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/storage"
	"github.com/timshannon/badgerhold/v4"
)

// RunRepository implements storage.RunRepository for BadgerDB. The backend
// opens with SyncWrites, so every committed update is durable.
type RunRepository struct {
	backend *Backend
}

var _ storage.RunRepository = (*RunRepository)(nil)

// NewRunRepository creates a new RunRepository.
func NewRunRepository(backend *Backend) *RunRepository {
	return &RunRepository{backend: backend}
}

// CreateRun stores a new run.
func (r *RunRepository) CreateRun(ctx context.Context, run *core.PipelineRun) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		return r.backend.store.TxInsert(tx, run.ID, run)
	}, true)
}

// GetRun retrieves a run by ID.
func (r *RunRepository) GetRun(ctx context.Context, id string) (*core.PipelineRun, error) {
	var run core.PipelineRun
	if err := r.backend.store.Get(id, &run); err != nil {
		return nil, translate(err)
	}
	return &run, nil
}

// UpdateRun overwrites an existing run.
func (r *RunRepository) UpdateRun(ctx context.Context, run *core.PipelineRun) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		return r.backend.store.TxUpdate(tx, run.ID, run)
	}, true)
}

// ListRuns returns a knowledge base's runs, oldest first.
func (r *RunRepository) ListRuns(ctx context.Context, kbID string) ([]*core.PipelineRun, error) {
	return r.find(badgerhold.Where("KBID").Eq(kbID).Index("KBID"), nil)
}

// ListRunsByStatus returns runs in any of the given states.
func (r *RunRepository) ListRunsByStatus(ctx context.Context, statuses ...core.RunStatus) ([]*core.PipelineRun, error) {
	if len(statuses) == 0 {
		return nil, storage.ErrInvalidArgument
	}
	return r.find(nil, func(run *core.PipelineRun) bool {
		return slices.Contains(statuses, run.Status)
	})
}

// DeleteRuns removes every run of a knowledge base.
func (r *RunRepository) DeleteRuns(ctx context.Context, kbID string) error {
	return translate(r.backend.store.DeleteMatching(&core.PipelineRun{}, badgerhold.Where("KBID").Eq(kbID).Index("KBID")))
}

func (r *RunRepository) find(query *badgerhold.Query, keep func(*core.PipelineRun) bool) ([]*core.PipelineRun, error) {
	var runs []core.PipelineRun
	if err := r.backend.store.Find(&runs, query); err != nil {
		return nil, translate(err)
	}

	result := make([]*core.PipelineRun, 0, len(runs))
	for i := range runs {
		if keep == nil || keep(&runs[i]) {
			result = append(result, &runs[i])
		}
	}
	slices.SortStableFunc(result, func(a, b *core.PipelineRun) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result, nil
}
