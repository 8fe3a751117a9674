// Package normalization mean-subtracts, clips and rescales feature vectors
// so every column carries the same total pixel mass.
package normalization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"

	"mnistfeatures/internal/models"
)

// DefaultTolerance is the relative tolerance Verify accepts on column sums
const DefaultTolerance = 1e-6

// Normalizer rescales every (sample, class) column of a FeatureTensor to
// sum to PixelSum after subtracting a shared mean and clipping at zero.
type Normalizer struct {
	PixelSum float64
}

// NewNormalizer returns a Normalizer targeting pixelSum
func NewNormalizer(pixelSum float64) (*Normalizer, error) {
	if !(pixelSum > 0) || math.IsInf(pixelSum, 0) {
		return nil, fmt.Errorf("%w: pixel sum must be a positive finite number, got %v",
			models.ErrConfiguration, pixelSum)
	}
	return &Normalizer{PixelSum: pixelSum}, nil
}

// Apply normalizes the tensor in place. A column left with nothing after
// clipping is an error: it cannot be rescaled.
func (n *Normalizer) Apply(t *models.FeatureTensor, mean []float64) error {
	if len(mean) != t.Pixels() {
		return fmt.Errorf("%w: mean vector has %d values, tensor has %d pixels",
			models.ErrConfiguration, len(mean), t.Pixels())
	}

	for c := 0; c < t.Classes(); c++ {
		for s := 0; s < t.Samples(); s++ {
			col := t.Column(s, c)
			floats.Sub(col, mean)
			for i, v := range col {
				if v < 0 {
					col[i] = 0
				}
			}

			sum := floats.Sum(col)
			if !(sum > 0) || math.IsInf(sum, 0) {
				return fmt.Errorf("%w: sample %d of class %d sums to %v after mean subtraction",
					models.ErrNumericDegeneracy, s, c, sum)
			}
			floats.Scale(n.PixelSum/sum, col)
			t.SetColumn(s, c, col)
		}
	}

	return nil
}

// Verify checks that every column is non-negative and sums to PixelSum
// within the given relative tolerance.
func (n *Normalizer) Verify(t *models.FeatureTensor, tol float64) error {
	for c := 0; c < t.Classes(); c++ {
		for s := 0; s < t.Samples(); s++ {
			col := t.Column(s, c)
			for p, v := range col {
				if v < 0 || math.IsNaN(v) {
					return fmt.Errorf("%w: pixel %d of sample %d, class %d is %v",
						models.ErrNumericDegeneracy, p, s, c, v)
				}
			}
			sum := floats.Sum(col)
			if !scalar.EqualWithinRel(sum, n.PixelSum, tol) {
				return fmt.Errorf("%w: sample %d of class %d sums to %v, expected %v",
					models.ErrNumericDegeneracy, s, c, sum, n.PixelSum)
			}
		}
	}
	return nil
}
