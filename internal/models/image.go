package models

import (
	"fmt"
)

// Split names a partition of the labeled corpus
type Split string

const (
	SplitTrain Split = "train"
	SplitTest  Split = "test"
)

// ParseSplit converts a split name into a Split
func ParseSplit(name string) (Split, error) {
	switch Split(name) {
	case SplitTrain, SplitTest:
		return Split(name), nil
	default:
		return "", fmt.Errorf("%w: unknown split %q", ErrConfiguration, name)
	}
}

// RawImage represents a single labeled grayscale image
type RawImage struct {
	// Pixels holds the intensities in row-major order, values in [0, 1]
	Pixels []float64

	// Height and Width are the image dimensions in pixels
	Height int
	Width  int

	// Label is the class this image belongs to
	Label int

	// Split is the corpus partition the image was drawn from
	Split Split
}

// At returns the intensity at the given row and column
func (im RawImage) At(row, col int) float64 {
	return im.Pixels[row*im.Width+col]
}

// ImageStack holds the images of a pipeline run organized as [class][sample]
type ImageStack struct {
	// Labels is the ordered list of classes, one per entry of Images
	Labels []int

	// Images is indexed as Images[classIdx][sampleIdx]
	Images [][]RawImage

	// Height and Width are shared by every image in the stack
	Height int
	Width  int
}

// Classes returns the length of the class axis
func (s *ImageStack) Classes() int { return len(s.Images) }

// Samples returns the number of samples per class
func (s *ImageStack) Samples() int {
	if len(s.Images) == 0 {
		return 0
	}
	return len(s.Images[0])
}

// At returns the image for a (sample, class) pair
func (s *ImageStack) At(sample, class int) RawImage {
	return s.Images[class][sample]
}

// Validate checks that the stack has uniform dimensions and a rectangular
// [class][sample] layout.
func (s *ImageStack) Validate() error {
	if len(s.Images) != len(s.Labels) {
		return fmt.Errorf("image stack has %d classes but %d labels", len(s.Images), len(s.Labels))
	}
	if s.Height <= 0 || s.Width <= 0 {
		return fmt.Errorf("image stack has invalid dimensions %dx%d", s.Height, s.Width)
	}

	samples := s.Samples()
	for c, class := range s.Images {
		if len(class) != samples {
			return fmt.Errorf("class %d has %d samples, expected %d", s.Labels[c], len(class), samples)
		}
		for i, img := range class {
			if img.Height != s.Height || img.Width != s.Width {
				return fmt.Errorf("sample %d of class %d is %dx%d, expected %dx%d",
					i, s.Labels[c], img.Height, img.Width, s.Height, s.Width)
			}
			if len(img.Pixels) != img.Height*img.Width {
				return fmt.Errorf("sample %d of class %d has %d pixels, expected %d",
					i, s.Labels[c], len(img.Pixels), img.Height*img.Width)
			}
		}
	}

	return nil
}
