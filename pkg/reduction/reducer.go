// Package reduction crops and spatially downsamples images into flattened
// feature vectors.
package reduction

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"mnistfeatures/internal/models"
)

// Reducer crops a fixed margin from every edge, then pools non-overlapping
// Rate x Rate blocks into one value each.
type Reducer struct {
	// CropMargin is the number of pixels removed from each of the four edges
	CropMargin int

	// Rate is the integer downsample factor
	Rate int

	method  Method
	pooling Pooling
}

// NewReducer validates the parameters and returns a Reducer
func NewReducer(cropMargin, rate int, method Method) (*Reducer, error) {
	if cropMargin < 0 {
		return nil, fmt.Errorf("%w: crop margin must be non-negative, got %d", models.ErrConfiguration, cropMargin)
	}
	if rate <= 0 {
		return nil, fmt.Errorf("%w: downsample rate must be positive, got %d", models.ErrConfiguration, rate)
	}
	pooling, err := method.Pooling()
	if err != nil {
		return nil, err
	}

	return &Reducer{CropMargin: cropMargin, Rate: rate, method: method, pooling: pooling}, nil
}

// Method returns the pooling strategy in use
func (r *Reducer) Method() Method { return r.method }

// Geometry returns the reduced dimensions for an image of the given size.
// The cropped size of each axis has to divide exactly by the rate.
func (r *Reducer) Geometry(height, width int) (newHeight, newWidth int, err error) {
	croppedH := height - 2*r.CropMargin
	croppedW := width - 2*r.CropMargin
	if croppedH <= 0 || croppedW <= 0 {
		return 0, 0, fmt.Errorf("%w: crop margin %d leaves nothing of a %dx%d image",
			models.ErrConfiguration, r.CropMargin, height, width)
	}
	if croppedH%r.Rate != 0 || croppedW%r.Rate != 0 {
		return 0, 0, fmt.Errorf("%w: cropped size %dx%d is not divisible by downsample rate %d",
			models.ErrConfiguration, croppedH, croppedW, r.Rate)
	}

	return croppedH / r.Rate, croppedW / r.Rate, nil
}

// ReduceImage crops, pools and flattens a single image row-major
func (r *Reducer) ReduceImage(img models.RawImage) ([]float64, error) {
	newH, newW, err := r.Geometry(img.Height, img.Width)
	if err != nil {
		return nil, err
	}

	out := make([]float64, newH*newW)
	block := make([]float64, r.Rate*r.Rate)
	for by := 0; by < newH; by++ {
		for bx := 0; bx < newW; bx++ {
			k := 0
			for dy := 0; dy < r.Rate; dy++ {
				row := r.CropMargin + by*r.Rate + dy
				for dx := 0; dx < r.Rate; dx++ {
					block[k] = img.At(row, r.CropMargin+bx*r.Rate+dx)
					k++
				}
			}
			out[by*newW+bx] = r.pooling(block)
		}
	}

	return out, nil
}

// ReduceStack reduces every image of the stack into a FeatureTensor of shape
// [newHeight*newWidth, samples, classes].
func (r *Reducer) ReduceStack(stack *models.ImageStack) (*models.FeatureTensor, error) {
	newH, newW, err := r.Geometry(stack.Height, stack.Width)
	if err != nil {
		return nil, err
	}

	tensor, err := models.NewFeatureTensor(newH*newW, stack.Samples(), stack.Classes())
	if err != nil {
		return nil, err
	}
	for c := 0; c < stack.Classes(); c++ {
		for s := 0; s < stack.Samples(); s++ {
			vec, err := r.ReduceImage(stack.At(s, c))
			if err != nil {
				return nil, fmt.Errorf("failed to reduce sample %d of class %d: %w", s, stack.Labels[c], err)
			}
			tensor.SetColumn(s, c, vec)
		}
	}

	return tensor, nil
}

// Flatten returns the matrix contents in row-major order
func Flatten(m mat.Matrix) []float64 {
	rows, cols := m.Dims()
	out := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out = append(out, m.At(i, j))
		}
	}
	return out
}

// Unflatten reshapes a row-major vector into a side x side matrix
func Unflatten(vec []float64, side int) (*mat.Dense, error) {
	if side <= 0 || len(vec) != side*side {
		return nil, fmt.Errorf("%w: cannot reshape %d values into %dx%d",
			models.ErrConfiguration, len(vec), side, side)
	}
	data := make([]float64, len(vec))
	copy(data, vec)
	return mat.NewDense(side, side, data), nil
}

// SideLength returns s such that s*s == pixels
func SideLength(pixels int) (int, error) {
	side := int(math.Round(math.Sqrt(float64(pixels))))
	if pixels <= 0 || side*side != pixels {
		return 0, fmt.Errorf("%w: %d pixels do not form a square image", models.ErrConfiguration, pixels)
	}
	return side, nil
}
