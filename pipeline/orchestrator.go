package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/kbingest/ai"
	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/embed"
	"github.com/poiesic/kbingest/fetch"
	"github.com/poiesic/kbingest/index"
	"github.com/poiesic/kbingest/storage"
)

const (
	DefaultJobWorkers   = 2
	DefaultCrawlWorkers = 2
	MaxCrawlWorkers     = 4

	DefaultIndexAttempts  = 3
	DefaultIndexBaseDelay = time.Second

	waitPollInterval = 200 * time.Millisecond
)

// Orchestrator schedules pipeline runs and executes them on a worker pool.
type Orchestrator struct {
	store    storage.Store
	fetcher  *fetch.Fetcher
	embedder ai.Embedder
	index    index.VectorIndex

	jobWorkers     int
	crawlWorkers   int
	embedOpts      []embed.Option
	indexAttempts  int
	indexBaseDelay time.Duration
	requestDelay   time.Duration
	maxDelay       time.Duration

	jobs    *ants.Pool
	batcher *embed.Batcher

	mu     sync.Mutex
	active map[string]*runState
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	logger *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// WithJobWorkers sets how many runs execute at once. Default is 2.
func WithJobWorkers(n int) Option {
	return func(o *Orchestrator) error {
		if n < 1 {
			n = 1
		}
		o.jobWorkers = n
		return nil
	}
}

// WithCrawlWorkers sets how many pages one run fetches in parallel, clamped
// to 1..4. Default is 2.
func WithCrawlWorkers(n int) Option {
	return func(o *Orchestrator) error {
		o.crawlWorkers = min(max(n, 1), MaxCrawlWorkers)
		return nil
	}
}

// WithRequestDelay sets the delay between page requests of one run and the
// cap it may grow to when a site refuses requests.
func WithRequestDelay(delay, maxDelay time.Duration) Option {
	return func(o *Orchestrator) error {
		if delay < 0 || maxDelay < 0 {
			return fmt.Errorf("request delays must not be negative")
		}
		o.requestDelay = delay
		o.maxDelay = maxDelay
		return nil
	}
}

// WithEmbedOptions configures the embedding batcher.
func WithEmbedOptions(opts ...embed.Option) Option {
	return func(o *Orchestrator) error {
		o.embedOpts = append(o.embedOpts, opts...)
		return nil
	}
}

// WithIndexRetry sets the attempts per vector upsert batch and the initial
// backoff delay.
func WithIndexRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(o *Orchestrator) error {
		if maxAttempts <= 0 {
			return embed.ErrInvalidMaxAttempts
		}
		o.indexAttempts = maxAttempts
		o.indexBaseDelay = baseDelay
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
		return nil
	}
}

// New creates an Orchestrator. Runs left queued or running by a previous
// process are not touched until RecoverStale is called.
func New(store storage.Store, fetcher *fetch.Fetcher, embedder ai.Embedder, vindex index.VectorIndex, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if fetcher == nil {
		return nil, ErrFetcherRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if vindex == nil {
		return nil, ErrIndexRequired
	}

	o := &Orchestrator{
		store:          store,
		fetcher:        fetcher,
		embedder:       embedder,
		index:          vindex,
		jobWorkers:     DefaultJobWorkers,
		crawlWorkers:   DefaultCrawlWorkers,
		indexAttempts:  DefaultIndexAttempts,
		indexBaseDelay: DefaultIndexBaseDelay,
		requestDelay:   fetch.DefaultRequestDelay,
		maxDelay:       fetch.DefaultMaxDelay,
		active:         make(map[string]*runState),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	o.logger = o.logger.With("component", "orchestrator")

	jobs, err := ants.NewPool(o.jobWorkers)
	if err != nil {
		return nil, err
	}
	batcher, err := embed.NewBatcher(embedder, append([]embed.Option{embed.WithLogger(o.logger)}, o.embedOpts...)...)
	if err != nil {
		jobs.Release()
		return nil, err
	}
	o.jobs = jobs
	o.batcher = batcher
	o.ctx, o.cancel = context.WithCancel(context.Background())
	return o, nil
}

// Start creates a queued run for kbID and schedules it. It returns as soon as
// the run is persisted. At most one run per knowledge base may be queued or
// running; otherwise ErrRunActive is returned.
func (o *Orchestrator) Start(ctx context.Context, kbID string) (*core.PipelineRun, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, ErrClosed
	}
	if _, err := o.store.KnowledgeBases().GetKnowledgeBase(ctx, kbID); err != nil {
		return nil, err
	}

	runs, err := o.store.Runs().ListRuns(ctx, kbID)
	if err != nil {
		return nil, err
	}
	var previous string
	for _, r := range runs {
		if !r.Status.IsTerminal() {
			return nil, fmt.Errorf("%w: run %s is %s", ErrRunActive, r.ID, r.Status)
		}
		previous = r.ID
	}

	run := &core.PipelineRun{
		ID:            core.NewID(),
		KBID:          kbID,
		Status:        core.RunQueued,
		Stage:         core.StageCrawl,
		PreviousRunID: previous,
		CreatedAt:     time.Now().UTC(),
	}
	if err := o.store.Runs().CreateRun(ctx, run); err != nil {
		return nil, err
	}

	state := newRunState(run, o.store.Runs())
	o.active[run.ID] = state
	o.wg.Add(1)
	go func() {
		if err := o.jobs.Submit(func() {
			defer o.wg.Done()
			o.execute(state)
		}); err != nil {
			defer o.wg.Done()
			o.abort(state, fmt.Errorf("failed to schedule run: %w", err))
		}
	}()

	o.logger.Info("pipeline run queued", "run", run.ID, "kb", kbID, "previous", previous)
	cp := state.snapshot()
	return &cp, nil
}

// WhileIdle calls fn while no run of kbID is queued or running, and keeps
// Start from admitting one until fn returns. It returns ErrRunActive without
// calling fn when a run is in progress.
func (o *Orchestrator) WhileIdle(ctx context.Context, kbID string, fn func(ctx context.Context) error) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	runs, err := o.store.Runs().ListRuns(ctx, kbID)
	if err != nil {
		return err
	}
	for _, r := range runs {
		if !r.Status.IsTerminal() {
			return fmt.Errorf("%w: run %s is %s", ErrRunActive, r.ID, r.Status)
		}
	}
	return fn(ctx)
}

// Cancel asks a run to stop. A queued run never starts; a running run stops
// at the next page or batch boundary and ends cancelled. Work already in
// flight completes.
func (o *Orchestrator) Cancel(ctx context.Context, runID string) error {
	o.mu.Lock()
	state, ok := o.active[runID]
	o.mu.Unlock()

	if ok {
		var status core.RunStatus
		err := state.update(ctx, func(run *core.PipelineRun) {
			status = run.Status
			if !status.IsTerminal() {
				run.CancelRequested = true
			}
		})
		if err != nil {
			return err
		}
		if status.IsTerminal() {
			return fmt.Errorf("%w: run %s is %s", ErrRunFinished, runID, status)
		}
		state.requestCancel()
		o.logger.Info("pipeline run cancellation requested", "run", runID)
		return nil
	}

	run, err := o.store.Runs().GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() {
		return fmt.Errorf("%w: run %s is %s", ErrRunFinished, runID, run.Status)
	}
	// Not owned by this process, so no worker will observe the flag.
	if err := core.ValidateTransition(run.Status, core.RunCancelled); err != nil {
		return err
	}
	run.CancelRequested = true
	run.Status = core.RunCancelled
	run.FinishedAt = time.Now().UTC()
	return o.store.Runs().UpdateRun(ctx, run)
}

// Wait blocks until the run reaches a terminal state or ctx ends, and returns
// the final run.
func (o *Orchestrator) Wait(ctx context.Context, runID string) (*core.PipelineRun, error) {
	o.mu.Lock()
	state, ok := o.active[runID]
	o.mu.Unlock()

	if ok {
		select {
		case <-state.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return o.store.Runs().GetRun(ctx, runID)
	}

	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		run, err := o.store.Runs().GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.Status.IsTerminal() {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// RecoverStale fails runs left queued or running by a process that stopped
// without finishing them, so the knowledge base can be retried. It returns
// the number of runs recovered.
func (o *Orchestrator) RecoverStale(ctx context.Context) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	stale, err := o.store.Runs().ListRunsByStatus(ctx, core.RunQueued, core.RunRunning)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, run := range stale {
		if _, ok := o.active[run.ID]; ok {
			continue
		}
		run.LogError(core.ErrorKindSystem, "", "run interrupted before completion")
		run.Status = core.RunFailed
		run.FinishedAt = time.Now().UTC()
		if err := o.store.Runs().UpdateRun(ctx, run); err != nil {
			return recovered, err
		}
		recovered++
		o.logger.Warn("recovered stale pipeline run", "run", run.ID, "kb", run.KBID)
	}
	return recovered, nil
}

// IsActive reports whether the run is queued or running in this process.
func (o *Orchestrator) IsActive(runID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[runID]
	return ok
}

// Close stops accepting runs, interrupts the active ones and waits for their
// workers to exit. Interrupted runs end failed.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
	o.jobs.Release()
	o.batcher.Release()
	return nil
}

func (o *Orchestrator) release(state *runState) {
	o.mu.Lock()
	delete(o.active, state.runID)
	o.mu.Unlock()
	close(state.done)
}

// abort fails a run that never started.
func (o *Orchestrator) abort(state *runState, cause error) {
	defer o.release(state)
	o.logger.Error("pipeline run aborted", "run", state.runID, "err", cause)
	err := state.transition(context.Background(), core.RunFailed, func(run *core.PipelineRun) {
		run.LogError(core.ErrorKindSystem, "", cause.Error())
	})
	if err != nil {
		o.logger.Error("failed to record aborted run", "run", state.runID, "err", err)
	}
}

// execute runs every stage of a run and records the outcome.
func (o *Orchestrator) execute(state *runState) {
	defer o.release(state)

	ctx := o.ctx
	runID := state.runID
	kbID := state.kbID
	logger := o.logger.With("run", runID, "kb", kbID)

	// Storage writes use a context that survives shutdown so the outcome is
	// always recorded.
	bg := context.Background()

	if ctx.Err() != nil {
		o.finish(bg, state, logger, ctx.Err())
		return
	}
	if state.isCancelled() {
		o.finish(bg, state, logger, errCancelled)
		return
	}
	if err := state.transition(bg, core.RunRunning, nil); err != nil {
		logger.Error("failed to start run", "err", err)
		return
	}
	logger.Info("pipeline run started")

	o.finish(bg, state, logger, o.runStages(ctx, state, logger))
}

func (o *Orchestrator) runStages(ctx context.Context, state *runState, logger *slog.Logger) error {
	kbID := state.kbID
	kb, err := o.store.KnowledgeBases().GetKnowledgeBase(ctx, kbID)
	if err != nil {
		return fmt.Errorf("failed to load knowledge base: %w", err)
	}

	completed, err := o.completedPages(ctx, kbID)
	if err != nil {
		return err
	}

	throttle := fetch.NewThrottle(o.requestDelay, o.maxDelay, logger)
	c := &crawler{
		kbID:      kbID,
		fetcher:   o.fetcher.ForRun(throttle),
		index:     o.index,
		documents: o.store.Documents(),
		chunks:    o.store.Chunks(),
		state:     state,
		workers:   o.crawlWorkers,
		completed: completed,
		logger:    logger,
	}
	for _, src := range kb.Sources {
		if state.isCancelled() {
			return errCancelled
		}
		if err := c.crawlSource(ctx, src); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if state.isCancelled() {
		return errCancelled
	}

	progress := state.snapshot().Progress
	if progress.PagesDone+progress.PagesSkipped == 0 && progress.PagesFailed > 0 {
		return ErrNoPagesFetched
	}

	if err := state.update(ctx, func(run *core.PipelineRun) { run.Stage = core.StageEmbed }); err != nil {
		return err
	}
	embedding := &embedPass{
		batcher: o.batcher,
		chunks:  o.store.Chunks(),
		state:   state,
		logger:  logger,
	}
	if err := embedding.run(ctx, kbID); err != nil {
		return err
	}

	if err := state.update(ctx, func(run *core.PipelineRun) { run.Stage = core.StageIndex }); err != nil {
		return err
	}
	indexing := &indexPass{
		index:       o.index,
		chunks:      o.store.Chunks(),
		documents:   o.store.Documents(),
		state:       state,
		batchSize:   o.batcher.BatchSize(),
		maxAttempts: o.indexAttempts,
		baseDelay:   o.indexBaseDelay,
		logger:      logger,
	}
	return indexing.run(ctx, kbID)
}

// completedPages collects the pages checkpointed by every earlier run of the
// knowledge base.
func (o *Orchestrator) completedPages(ctx context.Context, kbID string) (map[string]bool, error) {
	runs, err := o.store.Runs().ListRuns(ctx, kbID)
	if err != nil {
		return nil, err
	}
	completed := make(map[string]bool)
	for _, r := range runs {
		for _, u := range r.CompletedPageURLs {
			completed[u] = true
		}
	}
	return completed, nil
}

// finish moves the run to its terminal state based on the error returned by
// the stages and the failures recorded along the way.
func (o *Orchestrator) finish(ctx context.Context, state *runState, logger *slog.Logger, runErr error) {
	status := core.RunCompleted
	var kind core.ErrorKind
	switch {
	case runErr == nil:
		progress := state.snapshot().Progress
		if progress.PagesFailed > 0 || progress.ChunksFailed > 0 {
			status = core.RunPartial
		}
	case errors.Is(runErr, errCancelled):
		status = core.RunCancelled
	case errors.Is(runErr, ErrEmbeddingUnavailable):
		status, kind = core.RunFailed, core.ErrorKindEmbed
	case errors.Is(runErr, ErrIndexUnavailable):
		status, kind = core.RunFailed, core.ErrorKindIndex
	case errors.Is(runErr, ErrNoPagesFetched):
		status, kind = core.RunFailed, core.ErrorKindFetch
	case errors.Is(runErr, ErrCheckpointFailed):
		status, kind = core.RunFailed, core.ErrorKindSystem
	case errors.Is(runErr, context.Canceled):
		status, kind = core.RunFailed, core.ErrorKindSystem
		runErr = fmt.Errorf("interrupted by shutdown: %w", runErr)
	default:
		status, kind = core.RunFailed, core.ErrorKindSystem
	}

	err := state.transition(ctx, status, func(run *core.PipelineRun) {
		if kind != "" {
			run.LogError(kind, "", runErr.Error())
		}
	})
	if err != nil {
		logger.Error("failed to record run outcome", "status", status, "err", err)
		return
	}

	progress := state.snapshot().Progress
	attrs := []any{
		"status", status,
		"pages_done", progress.PagesDone,
		"pages_skipped", progress.PagesSkipped,
		"pages_failed", progress.PagesFailed,
		"chunks_embedded", progress.ChunksEmbedded,
		"chunks_failed", progress.ChunksFailed,
	}
	if runErr != nil && status == core.RunFailed {
		logger.Error("pipeline run failed", slices.Concat(attrs, []any{"err", runErr})...)
		return
	}
	logger.Info("pipeline run finished", attrs...)
}
