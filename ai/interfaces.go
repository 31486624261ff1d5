package ai

import "context"

// Embedder turns text into vectors. Implementations are shared by the
// embedding workers and must be safe for concurrent use.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts embeds a batch in one request and returns one vector per
	// text, in order.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}
