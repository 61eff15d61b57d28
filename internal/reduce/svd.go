// Package reduce projects the feature matrix onto its top singular directions.
package reduce

import (
	"fmt"
	"math"

	"github.com/keagan/keyframer/internal/errs"
	"github.com/keagan/keyframer/internal/features"
	"gonum.org/v1/gonum/mat"
)

// DefaultRank is the number of singular directions kept by default.
const DefaultRank = 63

// Result holds the reduced projection of every frame.
type Result struct {
	// Projections has one row of length Rank per frame: the frame's
	// coordinates along the top right singular vectors, each scaled by its
	// singular value.
	Projections [][]float64
	// Singular holds the kept singular values in descending order.
	Singular []float64
	Rank     int
}

// Truncated computes the rank-k SVD of the transposed feature matrix
// (features x frames) and returns V*diag(s) restricted to the top k
// directions. It needs the complete matrix and more than k frames.
func Truncated(m features.Matrix, k int) (*Result, error) {
	n := m.Rows()
	switch {
	case n == 0:
		return nil, errs.Input("feature matrix is empty")
	case k <= 0:
		return nil, errs.Config("svd rank must be positive, got %d", k)
	case k >= m.Cols():
		return nil, errs.Config("svd rank %d must be below the feature length %d", k, m.Cols())
	case n <= k:
		return nil, errs.Config("svd rank %d needs more than %d frames, got %d", k, k, n)
	}

	f := mat.NewDense(n, m.Cols(), nil)
	for i := 0; i < n; i++ {
		f.SetRow(i, m.Row(i))
	}

	proj, values, err := project(f, k)
	if err != nil {
		return nil, err
	}
	return &Result{Projections: proj, Singular: values, Rank: k}, nil
}

// project returns the top-k rows of V*diag(s) for the SVD of f^T, where f
// has one frame per row. It factorizes the smaller Gram matrix: f*f^T gives
// V and s^2 directly, f^T*f gives U and the projection is f*U.
func project(f *mat.Dense, k int) ([][]float64, []float64, error) {
	n, d := f.Dims()
	byFrame := n < d

	size := d
	if byFrame {
		size = n
	}
	g := mat.NewSymDense(size, nil)
	if byFrame {
		g.SymOuterK(1, f)
	} else {
		g.SymOuterK(1, f.T())
	}

	var es mat.EigenSym
	if ok := es.Factorize(g, true); !ok {
		return nil, nil, fmt.Errorf("eigendecomposition of %dx%d gram matrix did not converge", size, size)
	}
	// ascending
	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	singular := make([]float64, k)
	for j := range singular {
		singular[j] = math.Sqrt(math.Max(vals[size-1-j], 0))
	}

	proj := make([][]float64, n)
	for i := range proj {
		proj[i] = make([]float64, k)
	}

	if byFrame {
		for j := 0; j < k; j++ {
			col := size - 1 - j
			for i := 0; i < n; i++ {
				proj[i][j] = vecs.At(i, col) * singular[j]
			}
		}
		return proj, singular, nil
	}

	var p mat.Dense
	p.Mul(f, vecs.Slice(0, size, size-k, size))
	for j := 0; j < k; j++ {
		col := k - 1 - j
		for i := 0; i < n; i++ {
			proj[i][j] = p.At(i, col)
		}
	}
	return proj, singular, nil
}
