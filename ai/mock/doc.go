// Package mock provides test doubles for ai.Embedder.
//
// # Usage in Tests
//
//	m := mock.NewMockEmbedder()
//	vec, err := m.EmbedText(ctx, "test")
//
//	// Fail selected inputs, whether they arrive alone or in a batch
//	m.FailTexts = map[string]error{"bad chunk": errors.New("rejected")}
//
//	// Replace the behavior entirely
//	m.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
//	    return nil, errors.New("connection refused")
//	}
//
//	count := m.CallCount()
//
// # Default Behavior
//
// MockEmbedder returns unit-length vectors derived from an FNV hash of the
// text, so the same text always maps to the same vector.
package mock
