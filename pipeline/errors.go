package pipeline

import "errors"

var (
	// ErrRunActive is returned when a knowledge base already has a queued or
	// running run.
	ErrRunActive = errors.New("knowledge base has an active pipeline run")

	// ErrEmbeddingUnavailable fails a run whose embedding pass produced no
	// vectors at all.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrIndexUnavailable fails a run whose vector upserts kept failing.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrCheckpointFailed fails a run whose progress could not be written
	// after a page.
	ErrCheckpointFailed = errors.New("failed to checkpoint pipeline run")

	// ErrNoPagesFetched fails a run in which every page fetch failed.
	ErrNoPagesFetched = errors.New("no page could be fetched")

	// ErrRunFinished is returned when cancelling a run in a terminal state.
	ErrRunFinished = errors.New("pipeline run already finished")

	// ErrClosed is returned after the orchestrator has been closed.
	ErrClosed = errors.New("orchestrator closed")

	ErrStoreRequired    = errors.New("store required")
	ErrFetcherRequired  = errors.New("fetcher required")
	ErrEmbedderRequired = errors.New("embedder required")
	ErrIndexRequired    = errors.New("vector index required")
)
