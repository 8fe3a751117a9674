package normalization

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"mnistfeatures/internal/models"
)

func newTensor(t *testing.T, columns [][]float64) *models.FeatureTensor {
	t.Helper()
	tensor, err := models.NewFeatureTensor(len(columns[0]), len(columns), 1)
	require.NoError(t, err)
	for s, col := range columns {
		tensor.SetColumn(s, 0, col)
	}
	return tensor
}

func TestNewNormalizer_RejectsNonPositiveTarget(t *testing.T) {
	for _, v := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := NewNormalizer(v)
		require.ErrorIs(t, err, models.ErrConfiguration)
	}
}

func TestApply_SubtractClipRescale(t *testing.T) {
	tensor := newTensor(t, [][]float64{
		{1, 2, 3, 4},
		{4, 0, 0, 8},
	})
	mean := []float64{2, 1, 1, 2}

	n, err := NewNormalizer(6)
	require.NoError(t, err)
	require.NoError(t, n.Apply(tensor, mean))

	// column 0: {-1, 1, 2, 2} -> {0, 1, 2, 2}, sum 5
	assert.InDeltaSlice(t, []float64{0, 1.2, 2.4, 2.4}, tensor.Column(0, 0), 1e-12)
	// column 1: {2, -1, -1, 6} -> {2, 0, 0, 6}, sum 8
	assert.InDeltaSlice(t, []float64{1.5, 0, 0, 4.5}, tensor.Column(1, 0), 1e-12)

	require.NoError(t, n.Verify(tensor, DefaultTolerance))
}

func TestApply_InvariantHoldsOnVariedInput(t *testing.T) {
	tensor, err := models.NewFeatureTensor(16, 5, 3)
	require.NoError(t, err)
	for c := 0; c < 3; c++ {
		for s := 0; s < 5; s++ {
			for p := 0; p < 16; p++ {
				tensor.Set(p, s, c, float64((p*7+s*3+c*11)%17)/17)
			}
		}
	}
	mean := make([]float64, 16)
	for i := range mean {
		mean[i] = 0.25
	}

	n, err := NewNormalizer(6)
	require.NoError(t, err)
	require.NoError(t, n.Apply(tensor, mean))

	for c := 0; c < 3; c++ {
		for s := 0; s < 5; s++ {
			col := tensor.Column(s, c)
			assert.GreaterOrEqual(t, floats.Min(col), 0.0)
			assert.InEpsilon(t, 6.0, floats.Sum(col), 1e-6)
		}
	}
}

func TestApply_AllZeroColumnIsDegenerate(t *testing.T) {
	tensor := newTensor(t, [][]float64{
		{1, 1, 1},
		{0, 0, 0},
	})

	n, err := NewNormalizer(6)
	require.NoError(t, err)

	err = n.Apply(tensor, []float64{0, 0, 0})
	require.ErrorIs(t, err, models.ErrNumericDegeneracy)

	for _, v := range tensor.Column(1, 0) {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
	}
}

func TestApply_ColumnBelowMeanIsDegenerate(t *testing.T) {
	tensor := newTensor(t, [][]float64{{0.1, 0.2}})

	n, err := NewNormalizer(1)
	require.NoError(t, err)

	err = n.Apply(tensor, []float64{0.5, 0.5})
	require.ErrorIs(t, err, models.ErrNumericDegeneracy)
}

func TestApply_ShapeMismatch(t *testing.T) {
	tensor := newTensor(t, [][]float64{{1, 2, 3}})

	n, err := NewNormalizer(1)
	require.NoError(t, err)

	err = n.Apply(tensor, []float64{0, 0})
	require.ErrorIs(t, err, models.ErrConfiguration)
}

func TestVerify_DetectsBadColumns(t *testing.T) {
	n, err := NewNormalizer(1)
	require.NoError(t, err)

	require.ErrorIs(t, n.Verify(newTensor(t, [][]float64{{0.5, 0.4}}), DefaultTolerance), models.ErrNumericDegeneracy)
	require.ErrorIs(t, n.Verify(newTensor(t, [][]float64{{1.5, -0.5}}), DefaultTolerance), models.ErrNumericDegeneracy)
	require.NoError(t, n.Verify(newTensor(t, [][]float64{{0.25, 0.75}}), DefaultTolerance))
}
