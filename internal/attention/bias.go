package attention

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// PottsBias derives the initial single-site potential from a Length x vocab
// per-position count table. Counts are smoothed with a pseudo-count
// proportional to the regularization coefficient, normalized to frequencies
// and log-transformed, so that with a zero pairwise term the bias alone
// reproduces the empirical per-position symbol distribution.
func PottsBias(counts *mat.Dense, l2Coeff float64, numSeqs int) (*mat.Dense, error) {
	if counts == nil {
		return nil, fmt.Errorf("attention: count table is required for bias initialization")
	}
	if numSeqs <= 0 {
		return nil, fmt.Errorf("attention: number of sequences must be positive, got %d", numSeqs)
	}
	rows, cols := counts.Dims()
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("attention: count table has degenerate shape (%d,%d)", rows, cols)
	}

	pseudo := l2Coeff
	if pseudo <= 0 {
		pseudo = 1e-8
	}

	bias := mat.NewDense(rows, cols, nil)
	total := float64(numSeqs) + pseudo*float64(cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			c := counts.At(i, j)
			if c < 0 {
				return nil, fmt.Errorf("attention: negative count at (%d,%d): %v", i, j, c)
			}
			bias.Set(i, j, math.Log((c+pseudo)/total))
		}
	}
	return bias, nil
}
