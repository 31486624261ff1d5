package embed

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrInvalidBatchSize is returned when a batch size is <= 0
	ErrInvalidBatchSize = errors.New("batch size must be greater than 0")

	// ErrCountMismatch is returned when the embedder answers with the wrong
	// number of vectors.
	ErrCountMismatch = errors.New("embedding count mismatch")
)

// EmbeddingError reports a single text that could not be embedded.
type EmbeddingError struct {
	Index int
	Err   error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("text %d: %v", e.Index, e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// Failures extracts every EmbeddingError in err, which may be a single error
// or the result of errors.Join.
func Failures(err error) []*EmbeddingError {
	if err == nil {
		return nil
	}
	var out []*EmbeddingError
	var walk func(error)
	walk = func(e error) {
		if ee, ok := e.(*EmbeddingError); ok {
			out = append(out, ee)
			return
		}
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				walk(inner)
			}
		}
	}
	walk(err)
	return out
}

// FailedIndices returns the indices of the texts reported by Failures.
func FailedIndices(err error) []int {
	failures := Failures(err)
	if failures == nil {
		return nil
	}
	out := make([]int, len(failures))
	for i, f := range failures {
		out[i] = f.Index
	}
	return out
}
