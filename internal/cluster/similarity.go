package cluster

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Similarity returns the cosine similarity of a and b. When either vector has
// zero norm, or the quotient is not finite, it returns 0 and ok=false.
func Similarity(a, b []float64) (sim float64, ok bool) {
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0, false
	}
	sim = floats.Dot(a, b) / (na * nb)
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 0, false
	}
	return sim, true
}

// mean writes the component-wise mean of the given rows of points into dst.
func mean(dst []float64, points [][]float64, rows []int) {
	clear(dst)
	for _, r := range rows {
		floats.Add(dst, points[r])
	}
	floats.Scale(1/float64(len(rows)), dst)
}
