package kbingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/kbingest/ai"
	aimock "github.com/poiesic/kbingest/ai/mock"
	"github.com/poiesic/kbingest/config"
	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/embed"
	"github.com/poiesic/kbingest/fetch"
	"github.com/poiesic/kbingest/fetch/mock"
	"github.com/poiesic/kbingest/pipeline"
	"github.com/poiesic/kbingest/storage"
)

const testDimensions = 16

func testOptions(site *mock.Site) []Option {
	embedder := aimock.NewMockEmbedder()
	embedder.Dimensions = testDimensions
	return []Option{
		WithEmbedder(embedder),
		WithRenderer(site),
		WithFetchOptions(fetch.WithRetryPolicy(fetch.RetryPolicy{
			MaxAttempts:       2,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        2 * time.Millisecond,
			BackoffMultiplier: 2,
		})),
		WithPipelineOptions(
			pipeline.WithCrawlWorkers(1),
			pipeline.WithRequestDelay(0, time.Millisecond),
			pipeline.WithEmbedOptions(embed.WithRetry(1, time.Millisecond)),
			pipeline.WithIndexRetry(2, time.Millisecond),
		),
	}
}

func newTestService(t *testing.T, site *mock.Site, opts ...Option) *Service {
	t.Helper()
	all := append([]Option{WithInMemory()}, testOptions(site)...)
	svc, err := Open(context.Background(), "", append(all, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func docsSite() (*mock.Site, string) {
	site := mock.NewSite()
	root := "https://docs.example.com/guide/"
	site.AddPage(root, "Guide", "The guide explains installation and configuration in detail.", root+"install", root+"configure")
	site.AddPage(root+"install", "Install", "Download the release archive and unpack it into a directory on your path.", root)
	site.AddPage(root+"configure", "Configure", "Edit the configuration file to point at your embedding server.", root)
	return site, root
}

func ingest(t *testing.T, svc *Service, cfg core.SourceConfig) (string, *PipelineStatus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	draft, err := svc.CreateDraft(ctx, "docs")
	require.NoError(t, err)
	_, err = svc.CreateDraftSource(ctx, draft.ID, cfg)
	require.NoError(t, err)
	kbID, runID, err := svc.FinalizeDraft(ctx, draft.ID)
	require.NoError(t, err)
	status, err := svc.Wait(ctx, runID)
	require.NoError(t, err)
	return kbID, status
}

func TestOpen(t *testing.T) {
	t.Run("on disk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "kb.db")
		svc, err := Open(context.Background(), path, append(testOptions(mock.NewSite()), WithoutBrowser())...)
		require.NoError(t, err)
		assert.NotNil(t, svc.orch)
		assert.NotNil(t, svc.index)
		assert.NoError(t, svc.Close())
	})

	t.Run("error with invalid path", func(t *testing.T) {
		tmpFile := filepath.Join(t.TempDir(), "not_a_dir")
		require.NoError(t, os.WriteFile(tmpFile, []byte("test"), 0644))

		svc, err := Open(context.Background(), tmpFile, testOptions(mock.NewSite())...)
		assert.Error(t, err)
		assert.Nil(t, svc)
	})

	t.Run("invalid embedding config", func(t *testing.T) {
		svc, err := Open(context.Background(), "", WithInMemory(), WithoutBrowser(),
			WithAIConfig(&ai.Config{EmbeddingHost: "http://localhost:11434"}))
		if err == nil {
			svc.Close()
		}
		assert.Error(t, err)
	})
}

func TestOpen_RecoversStaleRuns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kb.db")

	svc, err := Open(ctx, path, testOptions(mock.NewSite())...)
	require.NoError(t, err)
	kb := &core.KnowledgeBase{ID: core.NewID(), Name: "crashed", CreatedAt: time.Now().UTC()}
	require.NoError(t, svc.store.KnowledgeBases().CreateKnowledgeBase(ctx, kb))
	run := &core.PipelineRun{ID: core.NewID(), KBID: kb.ID, Status: core.RunRunning, Stage: core.StageEmbed, CreatedAt: time.Now().UTC()}
	require.NoError(t, svc.store.Runs().CreateRun(ctx, run))
	require.NoError(t, svc.Close())

	svc, err = Open(ctx, path, testOptions(mock.NewSite())...)
	require.NoError(t, err)
	defer svc.Close()

	status, err := svc.GetPipelineStatus(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, core.RunFailed, status.Status)
	require.Len(t, status.ErrorLog, 1)
	assert.Equal(t, core.ErrorKindSystem, status.ErrorLog[0].Kind)
}

func TestService_IngestAndInspect(t *testing.T) {
	ctx := context.Background()
	site, root := docsSite()
	svc := newTestService(t, site)

	kbID, status := ingest(t, svc, core.SourceConfig{URL: root, ChunkSize: 8, ChunkOverlap: 2})

	assert.Equal(t, core.RunCompleted, status.Status)
	assert.Equal(t, kbID, status.KBID)
	assert.Equal(t, 3, status.Progress.PagesDone)
	assert.Equal(t, status.Progress.ChunksTotal, status.Progress.ChunksEmbedded)
	assert.Equal(t, status.Progress.ChunksTotal, status.Progress.ChunksIndexed)

	kb, err := svc.GetKnowledgeBase(ctx, kbID)
	require.NoError(t, err)
	require.Len(t, kb.Sources, 1)
	assert.Equal(t, kbID, kb.Sources[0].KBID)

	docs, err := svc.ListDocuments(ctx, kbID)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	doc, err := svc.GetDocument(ctx, kbID, docs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, docs[0].URL, doc.URL)

	chunks, err := svc.ListChunks(ctx, kbID, doc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, doc.ID, c.DocumentID)
		assert.True(t, c.HasEmbedding)
	}

	all, err := svc.ListChunks(ctx, kbID, "")
	require.NoError(t, err)
	assert.Len(t, all, status.Progress.ChunksTotal)

	matches, err := svc.Search(ctx, kbID, chunks[0].Content, 0)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.LessOrEqual(t, len(matches), DefaultTopK)
	assert.Equal(t, chunks[0].ID, matches[0].ChunkID)

	runs, err := svc.ListRuns(ctx, kbID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, status.RunID, runs[0].RunID)
}

func TestService_DocumentScopedToKnowledgeBase(t *testing.T) {
	ctx := context.Background()
	site, root := docsSite()
	svc := newTestService(t, site)

	kbA, _ := ingest(t, svc, core.SourceConfig{URL: root, MaxPages: 1})
	kbB, _ := ingest(t, svc, core.SourceConfig{URL: root + "install", MaxPages: 1})

	docs, err := svc.ListDocuments(ctx, kbA)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	_, err = svc.GetDocument(ctx, kbB, docs[0].ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = svc.ListChunks(ctx, kbB, docs[0].ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = svc.ListDocuments(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestService_CreateDraftSource_Validation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, mock.NewSite())

	draft, err := svc.CreateDraft(ctx, "invalid")
	require.NoError(t, err)

	tests := []struct {
		name  string
		cfg   core.SourceConfig
		field string
	}{
		{"overlap equals size", core.SourceConfig{URL: "https://example.com", ChunkSize: 100, ChunkOverlap: 100}, "chunk_overlap"},
		{"non http scheme", core.SourceConfig{URL: "ftp://example.com/files"}, "url"},
		{"image kind", core.SourceConfig{Kind: core.SourceKindImage, URL: "https://example.com/a.png"}, "kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateDraftSource(ctx, draft.ID, tt.cfg)
			require.ErrorIs(t, err, core.ErrConfig)
			var cfgErr *core.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}

	// Nothing was attached, so there is nothing to finalize.
	_, _, err = svc.FinalizeDraft(ctx, draft.ID)
	assert.ErrorIs(t, err, core.ErrEmptyDraft)

	_, err = svc.CreateDraftSource(ctx, "missing", core.SourceConfig{URL: "https://example.com"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestService_FinalizeDraftConsumesDraft(t *testing.T) {
	ctx := context.Background()
	site, root := docsSite()
	svc := newTestService(t, site)

	draft, err := svc.CreateDraft(ctx, "docs")
	require.NoError(t, err)
	_, err = svc.CreateDraftSource(ctx, draft.ID, core.SourceConfig{URL: root, MaxPages: 1})
	require.NoError(t, err)
	_, err = svc.CreateDraftSource(ctx, draft.ID, core.SourceConfig{URL: root + "install", MaxPages: 1})
	require.NoError(t, err)

	kbID, runID, err := svc.FinalizeDraft(ctx, draft.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, kbID)
	assert.NotEmpty(t, runID)

	kb, err := svc.GetKnowledgeBase(ctx, kbID)
	require.NoError(t, err)
	assert.Len(t, kb.Sources, 2)
	assert.Equal(t, draft.ID, kb.DraftID)

	_, _, err = svc.FinalizeDraft(ctx, draft.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	status, err := svc.Wait(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Progress.PagesDone)
}

func TestService_DraftExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	svc := newTestService(t, mock.NewSite(), WithClock(clock), WithDraftTTL(time.Hour))

	stale, err := svc.CreateDraft(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), stale.ExpiresAt)
	_, err = svc.CreateDraftSource(ctx, stale.ID, core.SourceConfig{URL: "https://example.com"})
	require.NoError(t, err)

	now = now.Add(30 * time.Minute)
	fresh, err := svc.CreateDraft(ctx, "fresh")
	require.NoError(t, err)

	now = now.Add(45 * time.Minute)
	_, err = svc.CreateDraftSource(ctx, stale.ID, core.SourceConfig{URL: "https://example.com"})
	assert.ErrorIs(t, err, core.ErrDraftExpired)
	_, _, err = svc.FinalizeDraft(ctx, stale.ID)
	assert.ErrorIs(t, err, core.ErrDraftExpired)

	purged, err := svc.PurgeExpiredDrafts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = svc.store.Drafts().GetDraft(ctx, stale.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = svc.store.Drafts().GetDraft(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestService_RetryAndCancel(t *testing.T) {
	ctx := context.Background()
	site, root := docsSite()
	site.Queue(root+"install", mock.Response{Status: 503}, mock.Response{Status: 503})
	svc := newTestService(t, site)

	kbID, first := ingest(t, svc, core.SourceConfig{URL: root})
	assert.Equal(t, core.RunPartial, first.Status)
	assert.Equal(t, 1, first.Progress.PagesFailed)

	err := svc.CancelPipeline(ctx, first.RunID)
	assert.ErrorIs(t, err, pipeline.ErrRunFinished)

	runID, err := svc.RetryPipeline(ctx, kbID)
	require.NoError(t, err)
	second, err := svc.Wait(ctx, runID)
	require.NoError(t, err)

	assert.Equal(t, core.RunCompleted, second.Status)
	assert.Equal(t, 2, second.Progress.PagesSkipped)
	assert.Equal(t, 1, second.Progress.PagesDone)

	docs, err := svc.ListDocuments(ctx, kbID)
	require.NoError(t, err)
	assert.Len(t, docs, 3)

	_, err = svc.RetryPipeline(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestService_DeleteKnowledgeBase(t *testing.T) {
	ctx := context.Background()
	site, root := docsSite()
	svc := newTestService(t, site)

	kbID, status := ingest(t, svc, core.SourceConfig{URL: root})
	require.Equal(t, core.RunCompleted, status.Status)
	chunks, err := svc.ListChunks(ctx, kbID, "")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	require.NoError(t, svc.DeleteKnowledgeBase(ctx, kbID))

	_, err = svc.GetKnowledgeBase(ctx, kbID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = svc.GetPipelineStatus(ctx, status.RunID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	left, err := svc.store.Chunks().ListChunks(ctx, kbID, "")
	require.NoError(t, err)
	assert.Empty(t, left)
	matches, err := svc.index.Query(ctx, kbID, chunks[0].Embedding, 10)
	require.NoError(t, err)
	assert.Empty(t, matches)

	assert.ErrorIs(t, svc.DeleteKnowledgeBase(ctx, kbID), storage.ErrNotFound)
}

func TestService_DeleteKnowledgeBase_RejectsActiveRun(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, mock.NewSite())

	kb := &core.KnowledgeBase{ID: core.NewID(), Name: "busy", CreatedAt: time.Now().UTC()}
	require.NoError(t, svc.store.KnowledgeBases().CreateKnowledgeBase(ctx, kb))
	run := &core.PipelineRun{ID: core.NewID(), KBID: kb.ID, Status: core.RunQueued, CreatedAt: time.Now().UTC()}
	require.NoError(t, svc.store.Runs().CreateRun(ctx, run))

	err := svc.DeleteKnowledgeBase(ctx, kb.ID)
	assert.ErrorIs(t, err, pipeline.ErrRunActive)

	require.NoError(t, svc.CancelPipeline(ctx, run.ID))
	status, err := svc.GetPipelineStatus(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, core.RunCancelled, status.Status)
	assert.NoError(t, svc.DeleteKnowledgeBase(ctx, kb.ID))
}

func TestConfigOptions(t *testing.T) {
	cfg := config.Default()
	base := len(ConfigOptions(cfg))

	cfg.Index.Backend = config.IndexMilvus
	assert.Len(t, ConfigOptions(cfg), base+1)

	cfg = config.Default()
	cfg.Drafts.TTL = config.Duration(2 * time.Hour)
	svc, err := OpenConfig(context.Background(), cfg, append(testOptions(mock.NewSite()), WithInMemory())...)
	require.NoError(t, err)
	defer svc.Close()
	assert.Equal(t, 2*time.Hour, svc.draftTTL)
}
