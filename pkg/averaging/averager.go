// Package averaging computes class templates and the corpus-wide mean
// feature vector.
package averaging

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"mnistfeatures/internal/models"
)

// ColumnMean returns the elementwise mean of the given columns of m
func ColumnMean(m mat.Matrix, cols []int) ([]float64, error) {
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: averaging subset is empty", models.ErrConfiguration)
	}

	rows, n := m.Dims()
	sum := make([]float64, rows)
	col := make([]float64, rows)
	for _, j := range cols {
		if j < 0 || j >= n {
			return nil, fmt.Errorf("%w: averaging index %d outside [0, %d)", models.ErrConfiguration, j, n)
		}
		mat.Col(col, j, m)
		floats.Add(sum, col)
	}
	floats.Scale(1/float64(len(cols)), sum)

	return sum, nil
}

// Mean returns the elementwise mean of equal-length vectors
func Mean(vectors [][]float64) ([]float64, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: no vectors to average", models.ErrConfiguration)
	}

	sum := make([]float64, len(vectors[0]))
	for i, v := range vectors {
		if len(v) != len(sum) {
			return nil, fmt.Errorf("%w: vector %d has length %d, expected %d",
				models.ErrConfiguration, i, len(v), len(sum))
		}
		floats.Add(sum, v)
	}
	floats.Scale(1/float64(len(vectors)), sum)

	return sum, nil
}

// ClassTemplates averages the given samples of every class of the tensor
func ClassTemplates(t *models.FeatureTensor, samples []int) ([][]float64, error) {
	templates := make([][]float64, t.Classes())
	for c := range templates {
		avg, err := ColumnMean(t.Class(c), samples)
		if err != nil {
			return nil, fmt.Errorf("failed to average class %d: %w", c, err)
		}
		templates[c] = avg
	}
	return templates, nil
}
