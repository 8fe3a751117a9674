package receptive

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"mnistfeatures/internal/models"
)

// Policy scores one pixel position from its values across the ranked samples
// of every class. Higher scores are more informative.
type Policy interface {
	Name() string
	Score(values []float64) float64
}

// MeanActivity ranks pixels by their average value
type MeanActivity struct{}

func (MeanActivity) Name() string { return "mean" }

func (MeanActivity) Score(values []float64) float64 { return stat.Mean(values, nil) }

// Variance ranks pixels by the sample variance of their values
type Variance struct{}

func (Variance) Name() string { return "variance" }

func (Variance) Score(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return stat.Variance(values, nil)
}

// ParsePolicy returns the ranking policy with the given name
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "mean", "activity":
		return MeanActivity{}, nil
	case "variance":
		return Variance{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown ranking policy %q", models.ErrConfiguration, name)
	}
}

// rank orders pixel positions by score descending, breaking ties by the
// lower position. NaN scores count as zero.
func rank(scores []float64) []int {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	clean := make([]float64, len(scores))
	for i, s := range scores {
		if math.IsNaN(s) {
			s = 0
		}
		clean[i] = s
	}

	sort.Slice(order, func(a, b int) bool {
		sa, sb := clean[order[a]], clean[order[b]]
		if sa != sb {
			return sa > sb
		}
		return order[a] < order[b]
	})

	return order
}
