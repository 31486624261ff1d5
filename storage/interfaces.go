package storage

import (
	"context"
	"time"

	"github.com/poiesic/kbingest/core"
)

// DraftRepository stores drafts and the sources attached to them.
type DraftRepository interface {
	// CreateDraft stores a new draft. Returns ErrDuplicateKey if the ID exists.
	CreateDraft(ctx context.Context, draft *core.Draft) error

	// GetDraft retrieves a draft by ID.
	// Returns ErrNotFound if the draft doesn't exist.
	GetDraft(ctx context.Context, id string) (*core.Draft, error)

	// UpdateDraft overwrites an existing draft.
	// Returns ErrNotFound if the draft doesn't exist.
	UpdateDraft(ctx context.Context, draft *core.Draft) error

	// DeleteDraft removes a draft. Deleting a missing draft is not an error.
	DeleteDraft(ctx context.Context, id string) error

	// ListExpiredDrafts returns drafts whose ExpiresAt is at or before now.
	ListExpiredDrafts(ctx context.Context, now time.Time) ([]*core.Draft, error)
}

// KnowledgeBaseRepository stores finalized knowledge bases.
type KnowledgeBaseRepository interface {
	// CreateKnowledgeBase stores a new knowledge base.
	// Returns ErrDuplicateKey if the ID exists.
	CreateKnowledgeBase(ctx context.Context, kb *core.KnowledgeBase) error

	// GetKnowledgeBase retrieves a knowledge base by ID.
	// Returns ErrNotFound if it doesn't exist.
	GetKnowledgeBase(ctx context.Context, id string) (*core.KnowledgeBase, error)

	// ListKnowledgeBases returns all knowledge bases ordered by creation time.
	ListKnowledgeBases(ctx context.Context) ([]*core.KnowledgeBase, error)

	// DeleteKnowledgeBase removes the knowledge base record only. Cascading
	// to documents, chunks and runs is the caller's job.
	DeleteKnowledgeBase(ctx context.Context, id string) error
}

// DocumentRepository stores fetched and cleaned pages.
type DocumentRepository interface {
	// SaveDocument inserts or replaces a document.
	SaveDocument(ctx context.Context, doc *core.Document) error

	// GetDocument retrieves a document by ID.
	// Returns ErrNotFound if it doesn't exist.
	GetDocument(ctx context.Context, id string) (*core.Document, error)

	// GetDocumentByURL finds the document for url within a knowledge base.
	// Returns ErrNotFound if none exists.
	GetDocumentByURL(ctx context.Context, kbID, url string) (*core.Document, error)

	// ListDocuments returns a knowledge base's documents ordered by fetch time.
	ListDocuments(ctx context.Context, kbID string) ([]*core.Document, error)

	// DeleteDocuments removes every document of a knowledge base.
	DeleteDocuments(ctx context.Context, kbID string) error
}

// ChunkRepository stores chunks and their embedding state.
type ChunkRepository interface {
	// ReplaceChunks atomically swaps a document's chunks for the given set.
	ReplaceChunks(ctx context.Context, documentID string, chunks []*core.Chunk) error

	// UpdateChunks overwrites existing chunks.
	// Returns ErrNotFound if any chunk doesn't exist.
	UpdateChunks(ctx context.Context, chunks ...*core.Chunk) error

	// GetChunk retrieves a chunk by ID.
	// Returns ErrNotFound if it doesn't exist.
	GetChunk(ctx context.Context, id string) (*core.Chunk, error)

	// ListChunks returns a knowledge base's chunks, restricted to one
	// document when documentID is non-empty. Chunks of a document are
	// ordered by ChunkIndex.
	ListChunks(ctx context.Context, kbID, documentID string) ([]*core.Chunk, error)

	// ListUnembedded returns chunks without an embedding.
	ListUnembedded(ctx context.Context, kbID string) ([]*core.Chunk, error)

	// ListUnindexed returns embedded chunks not yet written to the vector index.
	ListUnindexed(ctx context.Context, kbID string) ([]*core.Chunk, error)

	// DeleteChunks removes every chunk of a knowledge base.
	DeleteChunks(ctx context.Context, kbID string) error
}

// RunRepository stores pipeline runs, including their page checkpoints.
// Every write must be durable before it returns.
type RunRepository interface {
	// CreateRun stores a new run. Returns ErrDuplicateKey if the ID exists.
	CreateRun(ctx context.Context, run *core.PipelineRun) error

	// GetRun retrieves a run by ID.
	// Returns ErrNotFound if it doesn't exist.
	GetRun(ctx context.Context, id string) (*core.PipelineRun, error)

	// UpdateRun overwrites an existing run.
	// Returns ErrNotFound if it doesn't exist.
	UpdateRun(ctx context.Context, run *core.PipelineRun) error

	// ListRuns returns a knowledge base's runs ordered by creation time.
	ListRuns(ctx context.Context, kbID string) ([]*core.PipelineRun, error)

	// ListRunsByStatus returns runs in any of the given states across all
	// knowledge bases.
	ListRunsByStatus(ctx context.Context, statuses ...core.RunStatus) ([]*core.PipelineRun, error)

	// DeleteRuns removes every run of a knowledge base.
	DeleteRuns(ctx context.Context, kbID string) error
}

// Store aggregates the repositories behind a single backend.
type Store interface {
	Drafts() DraftRepository
	KnowledgeBases() KnowledgeBaseRepository
	Documents() DocumentRepository
	Chunks() ChunkRepository
	Runs() RunRepository
	Close() error
}
