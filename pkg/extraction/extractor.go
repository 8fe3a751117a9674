// Package extraction assembles the class-indexed image stack a pipeline run
// works on.
package extraction

import (
	"fmt"

	"mnistfeatures/internal/models"
	"mnistfeatures/pkg/dataset"
)

// ExtractFeatureArray returns maxIndex+1 images of every class in labels,
// in label order, taken from the given split.
func ExtractFeatureArray(src dataset.Source, labels []int, maxIndex int, split models.Split) (*models.ImageStack, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: no class labels requested", models.ErrConfiguration)
	}
	if maxIndex < 0 {
		return nil, fmt.Errorf("%w: maxIndex must be non-negative, got %d", models.ErrConfiguration, maxIndex)
	}
	seen := make(map[int]bool, len(labels))
	for _, l := range labels {
		if seen[l] {
			return nil, fmt.Errorf("%w: class label %d requested twice", models.ErrConfiguration, l)
		}
		seen[l] = true
	}

	indices := make([]int, maxIndex+1)
	for i := range indices {
		indices[i] = i
	}

	stack, err := src.LoadLabeledSplit(labels, indices, split)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s split: %w", split, err)
	}

	// The source is external; check it honored the request.
	if stack == nil {
		return nil, fmt.Errorf("%w: source returned no images", models.ErrDataSource)
	}
	if stack.Classes() != len(labels) {
		return nil, fmt.Errorf("%w: source returned %d classes, requested %d",
			models.ErrDataSource, stack.Classes(), len(labels))
	}
	for c, l := range labels {
		if stack.Labels[c] != l {
			return nil, fmt.Errorf("%w: source returned class %d at position %d, requested %d",
				models.ErrDataSource, stack.Labels[c], c, l)
		}
		if len(stack.Images[c]) != len(indices) {
			return nil, fmt.Errorf("%w: source returned %d samples of class %d, requested %d",
				models.ErrDataSource, len(stack.Images[c]), l, len(indices))
		}
	}
	if err := stack.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDataSource, err)
	}

	return stack, nil
}
