package embed

import (
	"errors"
	"math"
)

// ErrDegenerateVector reports an embedding that cannot be scored by cosine
// similarity: empty, all zeros, or containing NaN or Inf.
var ErrDegenerateVector = errors.New("degenerate embedding vector")

// UnitVector returns a copy of v scaled to length one. The input is left
// untouched.
func UnitVector(v []float32) ([]float32, error) {
	if len(v) == 0 {
		return nil, ErrDegenerateVector
	}

	var sq float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, ErrDegenerateVector
		}
		sq += f * f
	}
	if sq == 0 {
		return nil, ErrDegenerateVector
	}

	inv := 1 / math.Sqrt(sq)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out, nil
}
