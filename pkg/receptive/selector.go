// Package receptive chooses the receptive field: the reduced pixel positions
// kept as input features.
package receptive

import (
	"fmt"

	"github.com/rs/zerolog"

	"mnistfeatures/internal/models"
	"mnistfeatures/pkg/averaging"
	"mnistfeatures/pkg/reduction"
)

// ThumbnailRenderer draws a grid of thumbnails. samples is indexed as
// [pixel, sample, class] with a square pixel count.
type ThumbnailRenderer interface {
	RenderThumbnailGrid(samples *models.FeatureTensor, perClass int, normalize bool, title, savePath string) error
}

// Selector picks the k highest ranked pixel positions of a FeatureTensor
type Selector struct {
	policy   Policy
	renderer ThumbnailRenderer
	savePath string
	log      zerolog.Logger
}

// Option configures a Selector
type Option func(*Selector)

// WithPolicy sets the ranking policy. The default is MeanActivity.
func WithPolicy(p Policy) Option {
	return func(s *Selector) { s.policy = p }
}

// WithPreview renders the selected receptive field to savePath after each
// selection.
func WithPreview(renderer ThumbnailRenderer, savePath string) Option {
	return func(s *Selector) {
		s.renderer = renderer
		s.savePath = savePath
	}
}

// WithLogger sets the logger
func WithLogger(log zerolog.Logger) Option {
	return func(s *Selector) { s.log = log }
}

// NewSelector creates a Selector
func NewSelector(opts ...Option) *Selector {
	s := &Selector{policy: MeanActivity{}, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the ranking policy in use
func (s *Selector) Policy() Policy { return s.policy }

// Select ranks every pixel over the given samples of all classes and returns
// the k best positions in ascending order.
func (s *Selector) Select(t *models.FeatureTensor, samples []int, k int) (models.ActivePixelIndexSet, error) {
	pixels := t.Pixels()
	if k <= 0 || k > pixels {
		return nil, fmt.Errorf("%w: cannot select %d of %d pixels", models.ErrConfiguration, k, pixels)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: receptive field sample subset is empty", models.ErrConfiguration)
	}
	ranked, err := t.SubSamples(samples)
	if err != nil {
		return nil, fmt.Errorf("invalid receptive field samples: %w", err)
	}

	_, n, classes := ranked.Dims()
	scores := make([]float64, pixels)
	values := make([]float64, 0, n*classes)
	for p := 0; p < pixels; p++ {
		values = values[:0]
		for c := 0; c < classes; c++ {
			for j := 0; j < n; j++ {
				values = append(values, ranked.At(p, j, c))
			}
		}
		scores[p] = s.policy.Score(values)
	}

	active, err := models.NewActivePixelIndexSet(rank(scores)[:k])
	if err != nil {
		return nil, err
	}

	s.log.Debug().
		Str("policy", s.policy.Name()).
		Int("selected", k).
		Int("pixels", pixels).
		Msg("selected active pixels")

	if s.renderer != nil && s.savePath != "" {
		s.preview(ranked, active)
	}

	return active, nil
}

// preview renders, per class, the mean of the ranked samples restricted to
// the active pixels. Failures are logged only.
func (s *Selector) preview(t *models.FeatureTensor, active models.ActivePixelIndexSet) {
	side, err := reduction.SideLength(t.Pixels())
	if err != nil {
		s.log.Warn().Err(err).Msg("skipping receptive field preview")
		return
	}

	thumbs, err := models.NewFeatureTensor(side*side, 1, t.Classes())
	if err != nil {
		s.log.Warn().Err(err).Msg("skipping receptive field preview")
		return
	}
	for c := 0; c < t.Classes(); c++ {
		avg, err := averaging.ColumnMean(t.Class(c), allColumns(t.Samples()))
		if err != nil {
			s.log.Warn().Err(err).Msg("skipping receptive field preview")
			return
		}
		masked := make([]float64, len(avg))
		for _, p := range active {
			masked[p] = avg[p]
		}
		thumbs.SetColumn(0, c, masked)
	}

	title := fmt.Sprintf("receptive field: %d active pixels (%s)", len(active), s.policy.Name())
	if err := s.renderer.RenderThumbnailGrid(thumbs, 1, true, title, s.savePath); err != nil {
		s.log.Warn().Err(err).Str("path", s.savePath).Msg("failed to render receptive field preview")
		return
	}
	s.log.Info().Str("path", s.savePath).Msg("saved receptive field preview")
}

func allColumns(n int) []int {
	cols := make([]int, n)
	for i := range cols {
		cols[i] = i
	}
	return cols
}
