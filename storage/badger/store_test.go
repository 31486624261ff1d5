package badger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestDraftRepository(t *testing.T) {
	store := newTestStore(t)
	repo := store.Drafts()
	ctx := context.Background()
	now := time.Now().UTC()

	draft := &core.Draft{ID: "d1", Name: "docs", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, repo.CreateDraft(ctx, draft))
	assert.ErrorIs(t, repo.CreateDraft(ctx, draft), storage.ErrDuplicateKey)

	draft.Sources = append(draft.Sources, core.Source{ID: "s1", DraftID: "d1", SourceConfig: core.SourceConfig{
		Kind: core.SourceKindWeb,
		URL:  "https://example.com/docs",
	}})
	require.NoError(t, repo.UpdateDraft(ctx, draft))

	got, err := repo.GetDraft(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, got.Sources, 1)
	assert.Equal(t, "https://example.com/docs", got.Sources[0].URL)

	_, err = repo.GetDraft(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, repo.UpdateDraft(ctx, &core.Draft{ID: "missing"}), storage.ErrNotFound)

	old := &core.Draft{ID: "d2", CreatedAt: now.Add(-48 * time.Hour), ExpiresAt: now.Add(-24 * time.Hour)}
	require.NoError(t, repo.CreateDraft(ctx, old))

	expired, err := repo.ListExpiredDrafts(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "d2", expired[0].ID)

	require.NoError(t, repo.DeleteDraft(ctx, "d2"))
	require.NoError(t, repo.DeleteDraft(ctx, "d2"))
	_, err = repo.GetDraft(ctx, "d2")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestKnowledgeBaseRepository(t *testing.T) {
	store := newTestStore(t)
	repo := store.KnowledgeBases()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.CreateKnowledgeBase(ctx, &core.KnowledgeBase{ID: "kb2", Name: "second", CreatedAt: now}))
	require.NoError(t, repo.CreateKnowledgeBase(ctx, &core.KnowledgeBase{ID: "kb1", Name: "first", CreatedAt: now.Add(-time.Minute)}))

	kbs, err := repo.ListKnowledgeBases(ctx)
	require.NoError(t, err)
	require.Len(t, kbs, 2)
	assert.Equal(t, "kb1", kbs[0].ID)
	assert.Equal(t, "kb2", kbs[1].ID)

	require.NoError(t, repo.DeleteKnowledgeBase(ctx, "kb1"))
	_, err = repo.GetKnowledgeBase(ctx, "kb1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDocumentRepository(t *testing.T) {
	store := newTestStore(t)
	repo := store.Documents()
	ctx := context.Background()
	base := time.Now().UTC()

	for i := range 3 {
		doc := &core.Document{
			ID:        fmt.Sprintf("doc-%d", i),
			KBID:      "kb1",
			URL:       fmt.Sprintf("https://example.com/p%d", i),
			Status:    core.DocumentChunked,
			FetchedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, repo.SaveDocument(ctx, doc))
	}
	require.NoError(t, repo.SaveDocument(ctx, &core.Document{ID: "other", KBID: "kb2", URL: "https://example.com/p0"}))

	docs, err := repo.ListDocuments(ctx, "kb1")
	require.NoError(t, err)
	require.Len(t, docs, 3)
	for i, d := range docs {
		assert.Equal(t, fmt.Sprintf("doc-%d", i), d.ID)
		assert.False(t, d.UpdatedAt.IsZero())
	}

	byURL, err := repo.GetDocumentByURL(ctx, "kb2", "https://example.com/p0")
	require.NoError(t, err)
	assert.Equal(t, "other", byURL.ID)

	_, err = repo.GetDocumentByURL(ctx, "kb1", "https://example.com/nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, repo.SaveDocument(ctx, &core.Document{}), storage.ErrInvalidArgument)

	require.NoError(t, repo.DeleteDocuments(ctx, "kb1"))
	docs, err = repo.ListDocuments(ctx, "kb1")
	require.NoError(t, err)
	assert.Empty(t, docs)

	docs, err = repo.ListDocuments(ctx, "kb2")
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestChunkRepository(t *testing.T) {
	store := newTestStore(t)
	repo := store.Chunks()
	ctx := context.Background()

	makeChunks := func(docID string, n int) []*core.Chunk {
		chunks := make([]*core.Chunk, n)
		for i := range chunks {
			chunks[i] = &core.Chunk{
				ID:         core.ChunkID(docID, i),
				KBID:       "kb1",
				DocumentID: docID,
				ChunkIndex: i,
				Content:    fmt.Sprintf("%s chunk %d", docID, i),
			}
		}
		return chunks
	}

	require.NoError(t, repo.ReplaceChunks(ctx, "docA", makeChunks("docA", 3)))
	require.NoError(t, repo.ReplaceChunks(ctx, "docB", makeChunks("docB", 2)))

	all, err := repo.ListChunks(ctx, "kb1", "")
	require.NoError(t, err)
	assert.Len(t, all, 5)

	docA, err := repo.ListChunks(ctx, "kb1", "docA")
	require.NoError(t, err)
	require.Len(t, docA, 3)
	for i, c := range docA {
		assert.Equal(t, i, c.ChunkIndex)
	}

	// Re-chunking a document replaces its chunks.
	require.NoError(t, repo.ReplaceChunks(ctx, "docA", makeChunks("docA", 1)))
	docA, err = repo.ListChunks(ctx, "kb1", "docA")
	require.NoError(t, err)
	assert.Len(t, docA, 1)

	pending, err := repo.ListUnembedded(ctx, "kb1")
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	embedded := pending[0]
	embedded.Embedding = []float32{1, 0}
	embedded.HasEmbedding = true
	require.NoError(t, repo.UpdateChunks(ctx, embedded))

	pending, err = repo.ListUnembedded(ctx, "kb1")
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	unindexed, err := repo.ListUnindexed(ctx, "kb1")
	require.NoError(t, err)
	require.Len(t, unindexed, 1)
	assert.Equal(t, []float32{1, 0}, unindexed[0].Embedding)
	for _, c := range pending {
		assert.False(t, c.HasEmbedding)
	}

	embedded.Indexed = true
	require.NoError(t, repo.UpdateChunks(ctx, embedded))
	unindexed, err = repo.ListUnindexed(ctx, "kb1")
	require.NoError(t, err)
	assert.Empty(t, unindexed)

	got, err := repo.GetChunk(ctx, embedded.ID)
	require.NoError(t, err)
	assert.True(t, got.HasEmbedding)

	assert.ErrorIs(t, repo.UpdateChunks(ctx, &core.Chunk{ID: "missing"}), storage.ErrNotFound)

	require.NoError(t, repo.DeleteChunks(ctx, "kb1"))
	all, err = repo.ListChunks(ctx, "kb1", "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRunRepository(t *testing.T) {
	store := newTestStore(t)
	repo := store.Runs()
	ctx := context.Background()
	now := time.Now().UTC()

	first := &core.PipelineRun{ID: "r1", KBID: "kb1", Status: core.RunCompleted, CreatedAt: now.Add(-time.Hour)}
	second := &core.PipelineRun{ID: "r2", KBID: "kb1", Status: core.RunRunning, CreatedAt: now}
	other := &core.PipelineRun{ID: "r3", KBID: "kb2", Status: core.RunQueued, CreatedAt: now}
	for _, r := range []*core.PipelineRun{second, first, other} {
		require.NoError(t, repo.CreateRun(ctx, r))
	}

	second.MarkPageCompleted("https://example.com/a")
	second.MarkPageCompleted("https://example.com/b")
	require.NoError(t, repo.UpdateRun(ctx, second))

	got, err := repo.GetRun(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, got.CompletedPageURLs)

	runs, err := repo.ListRuns(ctx, "kb1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r1", runs[0].ID)

	active, err := repo.ListRunsByStatus(ctx, core.RunQueued, core.RunRunning)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	_, err = repo.ListRunsByStatus(ctx)
	assert.ErrorIs(t, err, storage.ErrInvalidArgument)

	require.NoError(t, repo.DeleteRuns(ctx, "kb1"))
	runs, err = repo.ListRuns(ctx, "kb1")
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRunRepository_CheckpointSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := OpenStore(dir, false)
	require.NoError(t, err)
	run := &core.PipelineRun{ID: "r1", KBID: "kb1", Status: core.RunRunning, CreatedAt: time.Now().UTC()}
	require.NoError(t, store.Runs().CreateRun(ctx, run))
	run.MarkPageCompleted("https://example.com/")
	require.NoError(t, store.Runs().UpdateRun(ctx, run))
	require.NoError(t, store.Close())

	store, err = OpenStore(dir, false)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Runs().GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, got.HasCompleted("https://example.com/"))
}
