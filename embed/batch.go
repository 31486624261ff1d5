package embed

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/kbingest/ai"
)

const (
	DefaultBatchSize   = 32
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultWorkers     = 4
)

// Batcher embeds texts in batches on a bounded worker pool.
type Batcher struct {
	embedder    ai.Embedder
	batchSize   int
	maxAttempts int
	baseDelay   time.Duration
	pool        *ants.Pool
	logger      *slog.Logger
}

// Option configures a Batcher.
type Option func(*Batcher) error

// WithBatchSize sets the number of texts sent per request.
func WithBatchSize(size int) Option {
	return func(b *Batcher) error {
		if size <= 0 {
			return ErrInvalidBatchSize
		}
		b.batchSize = size
		return nil
	}
}

// WithRetry sets the attempts per batch and the initial backoff delay.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(b *Batcher) error {
		if maxAttempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		b.maxAttempts = maxAttempts
		b.baseDelay = baseDelay
		return nil
	}
}

// WithWorkers sets how many batches are in flight at once.
func WithWorkers(n int) Option {
	return func(b *Batcher) error {
		if n < 1 {
			n = 1
		}
		if b.pool != nil {
			b.pool.Release()
		}
		pool, err := ants.NewPool(n)
		if err != nil {
			return err
		}
		b.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *Batcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		b.logger = logger
		return nil
	}
}

// NewBatcher creates a Batcher over embedder.
func NewBatcher(embedder ai.Embedder, opts ...Option) (*Batcher, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}

	pool, err := ants.NewPool(DefaultWorkers)
	if err != nil {
		return nil, err
	}

	b := &Batcher{
		embedder:    embedder,
		batchSize:   DefaultBatchSize,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		pool:        pool,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			b.Release()
			return nil, err
		}
	}
	b.logger = b.logger.With("component", "embed-batcher")
	return b, nil
}

// BatchSize returns the configured batch size.
func (b *Batcher) BatchSize() int {
	return b.batchSize
}

// Release stops the worker pool.
func (b *Batcher) Release() {
	if b.pool != nil {
		b.pool.Release()
	}
}

// Embed returns one unit-length vector per text, in input order. Texts that
// could not be embedded leave a nil slot and contribute an *EmbeddingError to
// the returned error, which joins all failures. A nil error means every text
// was embedded.
func (b *Batcher) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	if len(texts) == 0 {
		return results, nil
	}

	var (
		mu   sync.Mutex
		errs []*EmbeddingError
		wg   sync.WaitGroup
	)
	collect := func(batchErrs []*EmbeddingError) {
		if len(batchErrs) == 0 {
			return
		}
		mu.Lock()
		errs = append(errs, batchErrs...)
		mu.Unlock()
	}

	for start := 0; start < len(texts); start += b.batchSize {
		end := min(start+b.batchSize, len(texts))
		wg.Add(1)
		err := b.pool.Submit(func() {
			defer wg.Done()
			collect(b.embedBatch(ctx, texts, start, end, results))
		})
		if err != nil {
			wg.Done()
			collect(failRange(start, end, err))
		}
	}
	wg.Wait()

	if len(errs) == 0 {
		return results, nil
	}
	slices.SortFunc(errs, func(a, b *EmbeddingError) int { return cmp.Compare(a.Index, b.Index) })
	joined := make([]error, len(errs))
	for i, e := range errs {
		joined[i] = e
	}
	return results, errors.Join(joined...)
}

// embedBatch fills results[start:end]. A batch that fails after retries is
// retried one text at a time so only the offending texts are lost.
func (b *Batcher) embedBatch(ctx context.Context, texts []string, start, end int, results [][]float32) []*EmbeddingError {
	batch := texts[start:end]

	var vectors [][]float32
	err := RetryWithBackoff(ctx, func() error {
		v, err := b.embedder.EmbedTexts(ctx, batch)
		if err != nil {
			return err
		}
		if len(v) != len(batch) {
			return Permanent(fmt.Errorf("%w: expected %d, got %d", ErrCountMismatch, len(batch), len(v)))
		}
		vectors = v
		return nil
	}, b.maxAttempts, b.baseDelay)
	if err == nil {
		var errs []*EmbeddingError
		for i, v := range vectors {
			if err := setUnit(results, start+i, v); err != nil {
				errs = append(errs, err)
			}
		}
		return errs
	}

	if ctx.Err() != nil || len(batch) == 1 {
		return failRange(start, end, err)
	}

	b.logger.Warn("batch failed, retrying texts individually", "start", start, "size", len(batch), "err", err)

	var errs []*EmbeddingError
	for i, text := range batch {
		if ctxErr := ctx.Err(); ctxErr != nil {
			errs = append(errs, failRange(start+i, end, ctxErr)...)
			break
		}
		vec, itemErr := b.embedder.EmbedText(ctx, text)
		if itemErr != nil {
			errs = append(errs, &EmbeddingError{Index: start + i, Err: itemErr})
			continue
		}
		if err := setUnit(results, start+i, vec); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func setUnit(results [][]float32, i int, v []float32) *EmbeddingError {
	unit, err := UnitVector(v)
	if err != nil {
		return &EmbeddingError{Index: i, Err: err}
	}
	results[i] = unit
	return nil
}

func failRange(start, end int, err error) []*EmbeddingError {
	errs := make([]*EmbeddingError, 0, end-start)
	for i := start; i < end; i++ {
		errs = append(errs, &EmbeddingError{Index: i, Err: err})
	}
	return errs
}
