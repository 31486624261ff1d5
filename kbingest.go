// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package kbingest turns web sites and documents into searchable knowledge
// bases.
//
// A Service stages sources in a Draft. Finalizing the draft creates a
// KnowledgeBase and queues a pipeline run that fetches, cleans, chunks,
// embeds and indexes its pages in the background:
//
//	svc, err := kbingest.Open(ctx, "kb.db")
//	draft, err := svc.CreateDraft(ctx, "docs")
//	_, err = svc.CreateDraftSource(ctx, draft.ID, core.SourceConfig{URL: "https://example.com/docs/"})
//	kbID, runID, err := svc.FinalizeDraft(ctx, draft.ID)
//	status, err := svc.Wait(ctx, runID)
package kbingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/kbingest/ai"
	"github.com/poiesic/kbingest/ai/openai"
	"github.com/poiesic/kbingest/config"
	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/fetch"
	"github.com/poiesic/kbingest/index"
	"github.com/poiesic/kbingest/pipeline"
	"github.com/poiesic/kbingest/storage"
	"github.com/poiesic/kbingest/storage/badger"
)

// DefaultTopK is used by Search when topK is not positive.
const DefaultTopK = 5

// PipelineStatus reports where a pipeline run stands.
type PipelineStatus struct {
	RunID           string
	KBID            string
	Status          core.RunStatus
	Stage           core.Stage
	Progress        core.Progress
	ErrorLog        []core.ErrorEntry
	CancelRequested bool
	CreatedAt       time.Time
	StartedAt       time.Time
	FinishedAt      time.Time
}

func statusOf(run *core.PipelineRun) *PipelineStatus {
	return &PipelineStatus{
		RunID:           run.ID,
		KBID:            run.KBID,
		Status:          run.Status,
		Stage:           run.Stage,
		Progress:        run.Progress,
		ErrorLog:        run.ErrorLog,
		CancelRequested: run.CancelRequested,
		CreatedAt:       run.CreatedAt,
		StartedAt:       run.StartedAt,
		FinishedAt:      run.FinishedAt,
	}
}

// Service is the entry point for building and inspecting knowledge bases.
type Service struct {
	store    *badger.Store
	embedder ai.Embedder
	index    index.VectorIndex
	renderer fetch.Renderer
	orch     *pipeline.Orchestrator

	ownsIndex    bool
	ownsRenderer bool

	draftTTL time.Duration
	now      func() time.Time

	// draftMu serializes draft mutations so finalization sees every source.
	draftMu sync.Mutex

	logger *slog.Logger
}

// Open opens or creates the store at path and starts the pipeline workers.
// Runs left unfinished by a previous process are marked failed.
func Open(ctx context.Context, path string, opts ...Option) (*Service, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	store, err := badger.OpenStore(path, o.inMemory)
	if err != nil {
		return nil, err
	}

	s := &Service{
		store:    store,
		embedder: o.embedder,
		index:    o.vindex,
		renderer: o.renderer,
		draftTTL: o.draftTTL,
		now:      o.now,
		logger:   o.logger,
	}
	if err := s.init(ctx, o); err != nil {
		s.closeResources()
		return nil, err
	}

	recovered, err := s.orch.RecoverStale(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	if recovered > 0 {
		s.logger.Warn("marked interrupted pipeline runs as failed", "count", recovered)
	}
	return s, nil
}

// OpenConfig opens a Service as described by cfg. Extra options are applied
// after the configured ones.
func OpenConfig(ctx context.Context, cfg *config.Config, extra ...Option) (*Service, error) {
	return Open(ctx, cfg.StoragePath, append(ConfigOptions(cfg), extra...)...)
}

func (s *Service) init(ctx context.Context, o *options) error {
	if s.embedder == nil {
		if err := o.aiConfig.Validate(); err != nil {
			return err
		}
		embedder, err := openai.NewEmbedder(o.aiConfig)
		if err != nil {
			return err
		}
		s.embedder = embedder
	}

	if s.index == nil {
		if o.milvus != nil {
			m, err := index.NewMilvus(ctx, *o.milvus)
			if err != nil {
				return err
			}
			s.index = m
		} else {
			s.index = index.NewBadger(s.store.Backend())
		}
		s.ownsIndex = true
	}

	if s.renderer == nil && o.browser {
		r, err := fetch.NewChromeRenderer(o.chrome, o.logger)
		if err != nil {
			return err
		}
		s.renderer = r
		s.ownsRenderer = true
	}

	fetchOpts := []fetch.Option{fetch.WithLogger(o.logger)}
	if s.renderer != nil {
		fetchOpts = append(fetchOpts, fetch.WithRenderer(s.renderer))
	}
	fetcher, err := fetch.New(append(fetchOpts, o.fetchOpts...)...)
	if err != nil {
		return err
	}

	pipelineOpts := append([]pipeline.Option{pipeline.WithLogger(o.logger)}, o.pipelineOpts...)
	orch, err := pipeline.New(s.store, fetcher, s.embedder, s.index, pipelineOpts...)
	if err != nil {
		return err
	}
	s.orch = orch
	return nil
}

// Close stops the pipeline workers and releases the store. Runs still in
// flight end failed and can be retried after reopening.
func (s *Service) Close() error {
	if s.orch != nil {
		if err := s.orch.Close(); err != nil {
			s.logger.Error("error closing orchestrator", "err", err)
		}
	}
	return s.closeResources()
}

func (s *Service) closeResources() error {
	if s.ownsRenderer && s.renderer != nil {
		if err := s.renderer.Close(); err != nil {
			s.logger.Error("error closing renderer", "err", err)
		}
	}
	if s.ownsIndex && s.index != nil {
		if err := s.index.Close(); err != nil {
			s.logger.Error("error closing vector index", "err", err)
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("error closing backend storage", "err", err)
		return err
	}
	return nil
}

// CreateDraft starts a new draft that expires after the configured TTL.
func (s *Service) CreateDraft(ctx context.Context, name string) (*core.Draft, error) {
	now := s.now()
	draft := &core.Draft{
		ID:        core.NewID(),
		Name:      name,
		CreatedAt: now,
		ExpiresAt: now.Add(s.draftTTL),
	}
	if err := s.store.Drafts().CreateDraft(ctx, draft); err != nil {
		return nil, err
	}
	return draft, nil
}

// CreateDraftSource validates cfg and attaches it to the draft. Invalid
// configurations fail with a *core.ConfigError before the draft is read.
func (s *Service) CreateDraftSource(ctx context.Context, draftID string, cfg core.SourceConfig) (string, error) {
	if err := core.ValidateSourceConfig(&cfg); err != nil {
		return "", err
	}

	s.draftMu.Lock()
	defer s.draftMu.Unlock()

	draft, err := s.liveDraft(ctx, draftID)
	if err != nil {
		return "", err
	}
	source := core.Source{
		ID:           core.NewID(),
		DraftID:      draftID,
		SourceConfig: cfg,
		CreatedAt:    s.now(),
	}
	draft.Sources = append(draft.Sources, source)
	if err := s.store.Drafts().UpdateDraft(ctx, draft); err != nil {
		return "", err
	}
	return source.ID, nil
}

// FinalizeDraft turns the draft into a knowledge base and queues its first
// pipeline run. It returns once the run is persisted; the draft is removed.
func (s *Service) FinalizeDraft(ctx context.Context, draftID string) (kbID, runID string, err error) {
	s.draftMu.Lock()
	defer s.draftMu.Unlock()

	draft, err := s.liveDraft(ctx, draftID)
	if err != nil {
		return "", "", err
	}
	if len(draft.Sources) == 0 {
		return "", "", fmt.Errorf("%w: %s", core.ErrEmptyDraft, draftID)
	}

	kb := &core.KnowledgeBase{
		ID:        core.NewID(),
		Name:      draft.Name,
		DraftID:   draft.ID,
		CreatedAt: s.now(),
	}
	for _, src := range draft.Sources {
		src.KBID = kb.ID
		kb.Sources = append(kb.Sources, src)
	}
	if err := s.store.KnowledgeBases().CreateKnowledgeBase(ctx, kb); err != nil {
		return "", "", err
	}

	run, err := s.orch.Start(ctx, kb.ID)
	if err != nil {
		if derr := s.store.KnowledgeBases().DeleteKnowledgeBase(ctx, kb.ID); derr != nil {
			s.logger.Error("failed to roll back knowledge base", "kb", kb.ID, "err", derr)
		}
		return "", "", err
	}

	if err := s.store.Drafts().DeleteDraft(ctx, draft.ID); err != nil {
		s.logger.Warn("failed to delete finalized draft", "draft", draft.ID, "err", err)
	}
	s.logger.Info("draft finalized", "draft", draft.ID, "kb", kb.ID, "run", run.ID, "sources", len(kb.Sources))
	return kb.ID, run.ID, nil
}

func (s *Service) liveDraft(ctx context.Context, draftID string) (*core.Draft, error) {
	draft, err := s.store.Drafts().GetDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if draft.Expired(s.now()) {
		return nil, fmt.Errorf("%w: %s", core.ErrDraftExpired, draftID)
	}
	return draft, nil
}

// PurgeExpiredDrafts deletes every draft past its TTL and returns how many
// were removed.
func (s *Service) PurgeExpiredDrafts(ctx context.Context) (int, error) {
	s.draftMu.Lock()
	defer s.draftMu.Unlock()

	expired, err := s.store.Drafts().ListExpiredDrafts(ctx, s.now())
	if err != nil {
		return 0, err
	}
	for i, d := range expired {
		if err := s.store.Drafts().DeleteDraft(ctx, d.ID); err != nil {
			return i, err
		}
	}
	if len(expired) > 0 {
		s.logger.Info("purged expired drafts", "count", len(expired))
	}
	return len(expired), nil
}

// GetPipelineStatus returns the current state of a run.
func (s *Service) GetPipelineStatus(ctx context.Context, runID string) (*PipelineStatus, error) {
	run, err := s.store.Runs().GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return statusOf(run), nil
}

// ListRuns returns a knowledge base's runs, oldest first.
func (s *Service) ListRuns(ctx context.Context, kbID string) ([]*PipelineStatus, error) {
	if _, err := s.GetKnowledgeBase(ctx, kbID); err != nil {
		return nil, err
	}
	runs, err := s.store.Runs().ListRuns(ctx, kbID)
	if err != nil {
		return nil, err
	}
	statuses := make([]*PipelineStatus, len(runs))
	for i, r := range runs {
		statuses[i] = statusOf(r)
	}
	return statuses, nil
}

// Wait blocks until the run finishes or ctx ends.
func (s *Service) Wait(ctx context.Context, runID string) (*PipelineStatus, error) {
	run, err := s.orch.Wait(ctx, runID)
	if err != nil {
		return nil, err
	}
	return statusOf(run), nil
}

// CancelPipeline asks a queued or running run to stop.
func (s *Service) CancelPipeline(ctx context.Context, runID string) error {
	return s.orch.Cancel(ctx, runID)
}

// RetryPipeline queues a new run for the knowledge base. Pages checkpointed
// by earlier runs are not fetched again, and only chunks still missing an
// embedding or index entry are processed.
func (s *Service) RetryPipeline(ctx context.Context, kbID string) (string, error) {
	run, err := s.orch.Start(ctx, kbID)
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

// GetKnowledgeBase returns a knowledge base by ID.
func (s *Service) GetKnowledgeBase(ctx context.Context, kbID string) (*core.KnowledgeBase, error) {
	return s.store.KnowledgeBases().GetKnowledgeBase(ctx, kbID)
}

// ListKnowledgeBases returns every knowledge base, oldest first.
func (s *Service) ListKnowledgeBases(ctx context.Context) ([]*core.KnowledgeBase, error) {
	return s.store.KnowledgeBases().ListKnowledgeBases(ctx)
}

// DeleteKnowledgeBase removes a knowledge base with its documents, chunks,
// runs and vectors. It refuses while a run is queued or running.
func (s *Service) DeleteKnowledgeBase(ctx context.Context, kbID string) error {
	if _, err := s.GetKnowledgeBase(ctx, kbID); err != nil {
		return err
	}
	err := s.orch.WhileIdle(ctx, kbID, func(ctx context.Context) error {
		if err := s.index.DropCollection(ctx, kbID); err != nil {
			return fmt.Errorf("failed to drop vectors: %w", err)
		}
		err := errors.Join(
			s.store.Chunks().DeleteChunks(ctx, kbID),
			s.store.Documents().DeleteDocuments(ctx, kbID),
			s.store.Runs().DeleteRuns(ctx, kbID),
		)
		if err != nil {
			return err
		}
		return s.store.KnowledgeBases().DeleteKnowledgeBase(ctx, kbID)
	})
	if err != nil {
		return err
	}
	if _, err := s.store.Backend().Compact(ctx); err != nil {
		s.logger.Warn("value log compaction failed", "kb", kbID, "err", err)
	}
	s.logger.Info("knowledge base deleted", "kb", kbID)
	return nil
}

// ListDocuments returns a knowledge base's documents in fetch order.
func (s *Service) ListDocuments(ctx context.Context, kbID string) ([]*core.Document, error) {
	if _, err := s.GetKnowledgeBase(ctx, kbID); err != nil {
		return nil, err
	}
	return s.store.Documents().ListDocuments(ctx, kbID)
}

// GetDocument returns one document of a knowledge base. A document that
// belongs to another knowledge base is reported as not found.
func (s *Service) GetDocument(ctx context.Context, kbID, docID string) (*core.Document, error) {
	doc, err := s.store.Documents().GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.KBID != kbID {
		return nil, fmt.Errorf("document %s in knowledge base %s: %w", docID, kbID, storage.ErrNotFound)
	}
	return doc, nil
}

// ListChunks returns a knowledge base's chunks, or one document's chunks in
// order when docID is not empty.
func (s *Service) ListChunks(ctx context.Context, kbID, docID string) ([]*core.Chunk, error) {
	if docID != "" {
		if _, err := s.GetDocument(ctx, kbID, docID); err != nil {
			return nil, err
		}
	} else if _, err := s.GetKnowledgeBase(ctx, kbID); err != nil {
		return nil, err
	}
	return s.store.Chunks().ListChunks(ctx, kbID, docID)
}

// Search embeds text and returns the closest indexed chunks.
func (s *Service) Search(ctx context.Context, kbID, text string, topK int) ([]index.Match, error) {
	if _, err := s.GetKnowledgeBase(ctx, kbID); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	vector, err := s.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return s.index.Query(ctx, kbID, vector, topK)
}
