package embeddings

import (
	"gonum.org/v1/gonum/floats"
)

// Cosine returns the cosine similarity of a and b. It reports false when the
// vectors are empty, differ in length or either has zero norm.
func Cosine(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	x, y := widen(a), widen(b)
	na, nb := floats.Norm(x, 2), floats.Norm(y, 2)
	if na == 0 || nb == 0 {
		return 0, false
	}
	return floats.Dot(x, y) / (na * nb), true
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
