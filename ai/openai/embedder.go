package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/kbingest/ai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrDimensionMismatch is returned when the server answers with vectors of an
// unexpected length.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedder implements ai.Embedder using OpenAI-compatible embedding APIs.
type Embedder struct {
	embedder   embeddings.Embedder
	dimensions int
	logger     *slog.Logger
}

func newEmbedder(config *ai.Config) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.EmbeddingHost),
		openai.WithToken(config.APIToken),
		openai.WithEmbeddingModel(config.EmbeddingModel),
	)
	if err != nil {
		return nil, err
	}

	opts := []embeddings.Option{embeddings.WithStripNewLines(true)}
	if config.MaxBatch > 0 {
		opts = append(opts, embeddings.WithBatchSize(config.MaxBatch))
	}
	embedder, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, err
	}

	return &Embedder{
		embedder:   embedder,
		dimensions: config.Dimensions,
		logger:     slog.Default().With("component", "openai-embedder", "model", config.EmbeddingModel),
	}, nil
}

// NewEmbedder connects to the endpoint described by config. The config is
// validated, and normalized in place, first.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	return newEmbedder(config)
}

func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts sends texts to the server and checks the shape of the answer:
// one vector per text, each of the configured length when one is set.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		e.logger.Debug("embedding request failed", "texts", len(texts), "err", err)
		return nil, fmt.Errorf("embedding request for %d texts: %w", len(texts), err)
	}
	if got := len(vectors); got != len(texts) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d texts", got, len(texts))
	}
	for i, v := range vectors {
		if e.dimensions > 0 && len(v) != e.dimensions {
			return nil, fmt.Errorf("%w: text %d has %d dimensions, want %d", ErrDimensionMismatch, i, len(v), e.dimensions)
		}
	}
	return vectors, nil
}
