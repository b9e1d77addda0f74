package recognition

import (
	"gonum.org/v1/gonum/floats"
)

// EuclideanDistance computes the L2 distance between two embedding
// vectors. Vectors of different lengths are incomparable and get +Inf
// so they can never win a match.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return inf
	}
	af := make([]float64, len(a))
	bf := make([]float64, len(b))
	for i := range a {
		af[i] = float64(a[i])
		bf[i] = float64(b[i])
	}
	return floats.Distance(af, bf, 2)
}
