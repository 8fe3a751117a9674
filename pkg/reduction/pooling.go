package reduction

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"mnistfeatures/internal/models"
)

// Method names a pooling strategy
type Method string

const (
	MethodMean Method = "mean"
	MethodMax  Method = "max"
	MethodMin  Method = "min"
	MethodSum  Method = "sum"
)

// Pooling reduces one block of pixels to a single value
type Pooling func(block []float64) float64

// ParseMethod converts a method name into a Method
func ParseMethod(name string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(name)))
	if _, err := m.Pooling(); err != nil {
		return "", err
	}
	return m, nil
}

// Pooling returns the block reducer for the method
func (m Method) Pooling() (Pooling, error) {
	switch m {
	case MethodMean:
		return func(block []float64) float64 { return stat.Mean(block, nil) }, nil
	case MethodMax:
		return floats.Max, nil
	case MethodMin:
		return floats.Min, nil
	case MethodSum:
		return floats.Sum, nil
	default:
		return nil, fmt.Errorf("%w: unknown downsample method %q", models.ErrConfiguration, string(m))
	}
}
