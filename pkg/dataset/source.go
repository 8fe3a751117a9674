// Package dataset provides the labeled image sources the feature pipeline
// reads from. A Source hands out images bucketed by split and class; it is
// the only place the pipeline touches external data.
package dataset

import (
	"errors"
	"fmt"

	"mnistfeatures/internal/models"
)

// ErrMissingBackingFile is returned when a source's files are not on disk.
// Callers can react by running a fetch step and retrying.
var ErrMissingBackingFile = errors.New("missing backing file")

// Source is a provider of labeled images
type Source interface {
	// ImageSize reports the dimensions shared by every image of a split
	ImageSize(split models.Split) (height, width int, err error)

	// LoadLabeledSplit returns, for every label in order, the images at the
	// given per-class sample indices.
	LoadLabeledSplit(labels []int, indices []int, split models.Split) (*models.ImageStack, error)
}

// MemorySource keeps images in memory, bucketed by split and class
type MemorySource struct {
	buckets map[models.Split]map[int][]models.RawImage
	height  map[models.Split]int
	width   map[models.Split]int
}

// NewMemorySource creates an empty in-memory source
func NewMemorySource() *MemorySource {
	return &MemorySource{
		buckets: make(map[models.Split]map[int][]models.RawImage),
		height:  make(map[models.Split]int),
		width:   make(map[models.Split]int),
	}
}

// Add appends an image to the bucket of its split and label. All images of a
// split must share the same dimensions.
func (m *MemorySource) Add(img models.RawImage) error {
	if len(img.Pixels) != img.Height*img.Width || img.Height <= 0 || img.Width <= 0 {
		return fmt.Errorf("%w: image has %d pixels for %dx%d", models.ErrDataSource,
			len(img.Pixels), img.Height, img.Width)
	}

	bucket, ok := m.buckets[img.Split]
	if !ok {
		bucket = make(map[int][]models.RawImage)
		m.buckets[img.Split] = bucket
		m.height[img.Split] = img.Height
		m.width[img.Split] = img.Width
	}
	if img.Height != m.height[img.Split] || img.Width != m.width[img.Split] {
		return fmt.Errorf("%w: image is %dx%d but split %s holds %dx%d images", models.ErrDataSource,
			img.Height, img.Width, img.Split, m.height[img.Split], m.width[img.Split])
	}

	bucket[img.Label] = append(bucket[img.Label], img)
	return nil
}

// ImageSize implements Source
func (m *MemorySource) ImageSize(split models.Split) (int, int, error) {
	if _, ok := m.buckets[split]; !ok {
		return 0, 0, fmt.Errorf("%w: split %s is not available", models.ErrDataSource, split)
	}
	return m.height[split], m.width[split], nil
}

// LoadLabeledSplit implements Source
func (m *MemorySource) LoadLabeledSplit(labels []int, indices []int, split models.Split) (*models.ImageStack, error) {
	bucket, ok := m.buckets[split]
	if !ok {
		return nil, fmt.Errorf("%w: split %s is not available", models.ErrDataSource, split)
	}

	stack := &models.ImageStack{
		Labels: append([]int(nil), labels...),
		Images: make([][]models.RawImage, len(labels)),
		Height: m.height[split],
		Width:  m.width[split],
	}

	for c, label := range labels {
		images, ok := bucket[label]
		if !ok || len(images) == 0 {
			return nil, fmt.Errorf("%w: class %d is absent from split %s", models.ErrDataSource, label, split)
		}

		stack.Images[c] = make([]models.RawImage, len(indices))
		for i, idx := range indices {
			if idx < 0 || idx >= len(images) {
				return nil, fmt.Errorf("%w: sample %d of class %d unavailable in split %s (%d images)",
					models.ErrDataSource, idx, label, split, len(images))
			}
			stack.Images[c][i] = images[idx]
		}
	}

	return stack, nil
}
