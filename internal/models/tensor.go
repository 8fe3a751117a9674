package models

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// FeatureTensor is a 3-D container indexed as [pixel, sample, class].
// Each class slice is a pixels x samples matrix whose columns are the
// flattened feature vectors of that class.
type FeatureTensor struct {
	pixels  int
	samples int
	classes []*mat.Dense
}

// NewFeatureTensor allocates a zero-filled tensor
func NewFeatureTensor(pixels, samples, classes int) (*FeatureTensor, error) {
	if pixels <= 0 || samples <= 0 || classes <= 0 {
		return nil, fmt.Errorf("%w: tensor dimensions must be positive, got [%d, %d, %d]",
			ErrConfiguration, pixels, samples, classes)
	}

	t := &FeatureTensor{
		pixels:  pixels,
		samples: samples,
		classes: make([]*mat.Dense, classes),
	}
	for c := range t.classes {
		t.classes[c] = mat.NewDense(pixels, samples, nil)
	}

	return t, nil
}

// Dims returns the lengths of the pixel, sample and class axes
func (t *FeatureTensor) Dims() (pixels, samples, classes int) {
	return t.pixels, t.samples, len(t.classes)
}

// Pixels returns the length of the pixel axis
func (t *FeatureTensor) Pixels() int { return t.pixels }

// Samples returns the length of the sample axis
func (t *FeatureTensor) Samples() int { return t.samples }

// Classes returns the length of the class axis
func (t *FeatureTensor) Classes() int { return len(t.classes) }

func (t *FeatureTensor) At(pixel, sample, class int) float64 {
	return t.classes[class].At(pixel, sample)
}

func (t *FeatureTensor) Set(pixel, sample, class int, v float64) {
	t.classes[class].Set(pixel, sample, v)
}

// Class returns the pixels x samples matrix of one class. The matrix shares
// storage with the tensor.
func (t *FeatureTensor) Class(class int) *mat.Dense {
	return t.classes[class]
}

// Column returns a copy of the feature vector for a (sample, class) pair
func (t *FeatureTensor) Column(sample, class int) []float64 {
	return mat.Col(nil, sample, t.classes[class])
}

// SetColumn overwrites the feature vector for a (sample, class) pair
func (t *FeatureTensor) SetColumn(sample, class int, v []float64) {
	t.classes[class].SetCol(sample, v)
}

// Project returns a new tensor holding only the given pixel rows, in the
// order given. Sample and class axes are unchanged.
func (t *FeatureTensor) Project(pixels []int) (*FeatureTensor, error) {
	for _, p := range pixels {
		if p < 0 || p >= t.pixels {
			return nil, fmt.Errorf("%w: pixel index %d outside [0, %d)", ErrConfiguration, p, t.pixels)
		}
	}

	out, err := NewFeatureTensor(len(pixels), t.samples, len(t.classes))
	if err != nil {
		return nil, err
	}
	for c, m := range t.classes {
		for i, p := range pixels {
			out.classes[c].SetRow(i, mat.Row(nil, p, m))
		}
	}

	return out, nil
}

// SubSamples returns a new tensor holding only the given sample columns
func (t *FeatureTensor) SubSamples(samples []int) (*FeatureTensor, error) {
	for _, s := range samples {
		if s < 0 || s >= t.samples {
			return nil, fmt.Errorf("%w: sample index %d outside [0, %d)", ErrConfiguration, s, t.samples)
		}
	}

	out, err := NewFeatureTensor(t.pixels, len(samples), len(t.classes))
	if err != nil {
		return nil, err
	}
	for c, m := range t.classes {
		for i, s := range samples {
			out.classes[c].SetCol(i, mat.Col(nil, s, m))
		}
	}

	return out, nil
}

// FeatureTensorFromClasses builds a tensor from per-class matrices that all
// share the same shape. The matrices are used without copying.
func FeatureTensorFromClasses(classes []*mat.Dense) (*FeatureTensor, error) {
	if len(classes) == 0 {
		return nil, fmt.Errorf("%w: tensor needs at least one class", ErrConfiguration)
	}

	pixels, samples := classes[0].Dims()
	for c, m := range classes {
		r, s := m.Dims()
		if r != pixels || s != samples {
			return nil, fmt.Errorf("%w: class %d is %dx%d, expected %dx%d",
				ErrConfiguration, c, r, s, pixels, samples)
		}
	}

	return &FeatureTensor{pixels: pixels, samples: samples, classes: classes}, nil
}

// ActivePixelIndexSet lists retained pixel positions in the pre-selection
// coordinate space, in ascending order.
type ActivePixelIndexSet []int

// NewActivePixelIndexSet sorts the indices and rejects duplicates
func NewActivePixelIndexSet(indices []int) (ActivePixelIndexSet, error) {
	set := make(ActivePixelIndexSet, len(indices))
	copy(set, indices)
	sort.Ints(set)

	for i := 1; i < len(set); i++ {
		if set[i] == set[i-1] {
			return nil, fmt.Errorf("%w: duplicate active pixel %d", ErrConfiguration, set[i])
		}
	}

	return set, nil
}

// Contains reports whether the pixel position is retained
func (s ActivePixelIndexSet) Contains(pixel int) bool {
	i := sort.SearchInts(s, pixel)
	return i < len(s) && s[i] == pixel
}

// Embed places a reduced vector back into a zero-filled thumbnail with the
// given side length. The result is row-major, side*side long.
func (s ActivePixelIndexSet) Embed(reduced []float64, side int) ([]float64, error) {
	if len(reduced) != len(s) {
		return nil, fmt.Errorf("%w: vector has %d values for %d active pixels",
			ErrConfiguration, len(reduced), len(s))
	}

	thumb := make([]float64, side*side)
	for i, p := range s {
		if p < 0 || p >= len(thumb) {
			return nil, fmt.Errorf("%w: active pixel %d does not fit a %dx%d thumbnail",
				ErrConfiguration, p, side, side)
		}
		thumb[p] = reduced[i]
	}

	return thumb, nil
}

// EmbedTensor re-embeds every column of a projected tensor into side x side
// thumbnails, producing a tensor with side*side pixels.
func (s ActivePixelIndexSet) EmbedTensor(t *FeatureTensor, side int) (*FeatureTensor, error) {
	pixels, samples, classes := t.Dims()
	if pixels != len(s) {
		return nil, fmt.Errorf("%w: tensor has %d pixels for %d active pixels",
			ErrConfiguration, pixels, len(s))
	}

	out, err := NewFeatureTensor(side*side, samples, classes)
	if err != nil {
		return nil, err
	}
	for c := 0; c < classes; c++ {
		for j := 0; j < samples; j++ {
			thumb, err := s.Embed(t.Column(j, c), side)
			if err != nil {
				return nil, err
			}
			out.SetColumn(j, c, thumb)
		}
	}

	return out, nil
}
