// Package features turns a labeled image corpus into class-organized feature
// vectors: crop and downsample every image, subtract the corpus mean, clip
// and normalize, then keep only the most informative pixels.
package features

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"mnistfeatures/internal/models"
	"mnistfeatures/pkg/averaging"
	"mnistfeatures/pkg/config"
	"mnistfeatures/pkg/dataset"
	"mnistfeatures/pkg/extraction"
	"mnistfeatures/pkg/normalization"
	"mnistfeatures/pkg/receptive"
	"mnistfeatures/pkg/reduction"
)

// Params holds the preprocessing parameters of one pipeline run
type Params struct {
	// CropMargin is the number of pixels removed from every image edge
	CropMargin int

	// DownsampleRate is the integer block size used for pooling
	DownsampleRate int

	// DownsampleMethod is the pooling strategy applied to each block
	DownsampleMethod reduction.Method

	// ClassLabels is the ordered list of classes; it fixes the class axis
	ClassLabels []int

	// MaxInd is the highest per-class sample index extracted, so every class
	// contributes MaxInd+1 samples
	MaxInd int

	// IndsToAverageGeneral selects the samples averaged into class templates
	IndsToAverageGeneral []int

	// IndsToCalculateReceptiveField selects the samples the active pixels are
	// ranked on
	IndsToCalculateReceptiveField []int

	// PixelSum is the total every normalized feature vector sums to
	PixelSum float64

	// NumFeatures is the number of active pixels kept
	NumFeatures int

	// Ranking scores pixels for the receptive field; nil means mean activity
	Ranking receptive.Policy

	// ShowThumbnails writes a thumbnail grid after each stage to ThumbnailDir
	ShowThumbnails bool
	ThumbnailDir   string

	// ScreenSize is the display size hint for thumbnail grids
	ScreenSize [2]int

	// Split is the corpus partition images are drawn from
	Split models.Split
}

// ParamsFromConfig converts a loaded configuration into pipeline parameters
func ParamsFromConfig(cfg *config.Config) (Params, error) {
	if err := cfg.Validate(); err != nil {
		return Params{}, err
	}

	p := cfg.Preprocessing
	method, err := reduction.ParseMethod(p.DownsampleMethod)
	if err != nil {
		return Params{}, err
	}
	policy, err := receptive.ParsePolicy(p.RankingPolicy)
	if err != nil {
		return Params{}, err
	}
	split, err := models.ParseSplit(cfg.Dataset.Split)
	if err != nil {
		return Params{}, err
	}

	return Params{
		CropMargin:                    p.Crop,
		DownsampleRate:                p.DownsampleRate,
		DownsampleMethod:              method,
		ClassLabels:                   append([]int(nil), p.ClassLabels...),
		MaxInd:                        p.MaxInd,
		IndsToAverageGeneral:          p.IndsToAverageGeneral.Indices(),
		IndsToCalculateReceptiveField: p.IndsToCalculateReceptiveField.Indices(),
		PixelSum:                      p.PixelSum,
		NumFeatures:                   p.NumFeatures,
		Ranking:                       policy,
		ShowThumbnails:                cfg.Display.ShowThumbnails,
		ThumbnailDir:                  cfg.Display.ThumbnailDir,
		ScreenSize:                    cfg.Display.ScreenSize,
		Split:                         split,
	}, nil
}

// clone copies the slices so the caller cannot change a running pipeline
func (p Params) clone() Params {
	p.ClassLabels = append([]int(nil), p.ClassLabels...)
	p.IndsToAverageGeneral = append([]int(nil), p.IndsToAverageGeneral...)
	p.IndsToCalculateReceptiveField = append([]int(nil), p.IndsToCalculateReceptiveField...)
	if p.Ranking == nil {
		p.Ranking = receptive.MeanActivity{}
	}
	if p.Split == "" {
		p.Split = models.SplitTrain
	}
	return p
}

// validateIndices checks an index subset against the extracted sample range
func (p Params) validateIndices(name string, inds []int) error {
	if len(inds) == 0 {
		return fmt.Errorf("%w: %s is empty", models.ErrConfiguration, name)
	}
	for _, i := range inds {
		if i < 0 || i > p.MaxInd {
			return fmt.Errorf("%w: %s index %d outside [0, maxInd=%d]", models.ErrConfiguration, name, i, p.MaxInd)
		}
	}
	return nil
}

// Result is the output of one pipeline run
type Result struct {
	// Features is indexed as [activePixel, sample, class]
	Features *models.FeatureTensor

	// ActivePixels lists the kept pixel positions in the pre-selection
	// coordinate space
	ActivePixels models.ActivePixelIndexSet

	// SideLength is the side of the square image before pixel selection, so
	// ActivePixels can be re-embedded into SideLength x SideLength thumbnails
	SideLength int
}

// ThumbnailRenderer is the presentation collaborator used for stage previews
type ThumbnailRenderer = receptive.ThumbnailRenderer

// Assembler runs the feature pipeline against a dataset source
type Assembler struct {
	src      dataset.Source
	params   Params
	renderer ThumbnailRenderer
	log      zerolog.Logger
}

// Option configures an Assembler
type Option func(*Assembler)

// WithRenderer sets the thumbnail renderer used when ShowThumbnails is on
func WithRenderer(r ThumbnailRenderer) Option {
	return func(a *Assembler) { a.renderer = r }
}

// WithLogger sets the logger
func WithLogger(log zerolog.Logger) Option {
	return func(a *Assembler) { a.log = log }
}

// NewAssembler creates an assembler. The parameters are copied.
func NewAssembler(src dataset.Source, params Params, opts ...Option) *Assembler {
	a := &Assembler{
		src:    src,
		params: params.clone(),
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Params returns a copy of the parameters in use
func (a *Assembler) Params() Params { return a.params.clone() }

// Process runs extraction, reduction, averaging, normalization and pixel
// selection once, in that order. Any error aborts the run with no result.
func (a *Assembler) Process() (*Result, error) {
	p := a.params
	log := a.log.With().Str("component", "assembler").Logger()

	reducer, err := reduction.NewReducer(p.CropMargin, p.DownsampleRate, p.DownsampleMethod)
	if err != nil {
		return nil, err
	}
	normalizer, err := normalization.NewNormalizer(p.PixelSum)
	if err != nil {
		return nil, err
	}
	if err := p.validateIndices("indsToAverageGeneral", p.IndsToAverageGeneral); err != nil {
		return nil, err
	}
	if err := p.validateIndices("indsToCalculateReceptiveField", p.IndsToCalculateReceptiveField); err != nil {
		return nil, err
	}

	// Geometry is fixed by the source, so check it before reading any pixels
	height, width, err := a.src.ImageSize(p.Split)
	if err != nil {
		return nil, fmt.Errorf("failed to read image size: %w", err)
	}
	newHeight, newWidth, err := reducer.Geometry(height, width)
	if err != nil {
		return nil, err
	}
	if newHeight != newWidth {
		return nil, fmt.Errorf("%w: reduced images are %dx%d, thumbnails need a square",
			models.ErrConfiguration, newHeight, newWidth)
	}
	sideLength := newHeight
	if p.NumFeatures <= 0 || p.NumFeatures > sideLength*sideLength {
		return nil, fmt.Errorf("%w: numFeatures %d outside [1, %d]",
			models.ErrConfiguration, p.NumFeatures, sideLength*sideLength)
	}

	// Step 1: extract images
	log.Info().
		Ints("classes", p.ClassLabels).
		Int("perClass", p.MaxInd+1).
		Str("split", string(p.Split)).
		Msg("Step 1: Extracting images...")
	stack, err := extraction.ExtractFeatureArray(a.src, p.ClassLabels, p.MaxInd, p.Split)
	if err != nil {
		return nil, fmt.Errorf("failed to extract images: %w", err)
	}

	// Step 2: crop, downsample and vectorize
	log.Info().
		Int("crop", p.CropMargin).
		Int("rate", p.DownsampleRate).
		Str("method", string(reducer.Method())).
		Msgf("Step 2: Reducing %dx%d images to %dx%d...", height, width, newHeight, newWidth)
	tensor, err := reducer.ReduceStack(stack)
	if err != nil {
		return nil, fmt.Errorf("failed to reduce images: %w", err)
	}
	a.saveStage("01_reduced_samples", tensor, 5, true, "cropped and downsampled")

	// Step 3: class templates and the overall mean
	log.Info().Int("samples", len(p.IndsToAverageGeneral)).Msg("Step 3: Averaging class templates...")
	templates, err := averaging.ClassTemplates(tensor, p.IndsToAverageGeneral)
	if err != nil {
		return nil, fmt.Errorf("failed to build class templates: %w", err)
	}
	overall, err := averaging.Mean(templates)
	if err != nil {
		return nil, fmt.Errorf("failed to average class templates: %w", err)
	}
	if a.previewing() {
		a.saveTemplates(templates)
	}

	// Step 4: mean-subtract, clip and normalize
	log.Info().Float64("pixelSum", p.PixelSum).Msg("Step 4: Normalizing feature vectors...")
	if err := normalizer.Apply(tensor, overall); err != nil {
		return nil, fmt.Errorf("failed to normalize features: %w", err)
	}
	if err := normalizer.Verify(tensor, normalization.DefaultTolerance); err != nil {
		return nil, fmt.Errorf("normalization invariant violated: %w", err)
	}
	a.saveStage("03_normalized_samples", tensor, 5, true, "mean-subtracted and normalized")

	// Step 5: choose the receptive field and project onto it
	log.Info().
		Int("numFeatures", p.NumFeatures).
		Str("policy", p.Ranking.Name()).
		Msg("Step 5: Selecting active pixels...")
	selOpts := []receptive.Option{receptive.WithPolicy(p.Ranking), receptive.WithLogger(a.log)}
	if a.previewing() {
		selOpts = append(selOpts, receptive.WithPreview(a.renderer, a.stagePath("04_active_pixels")))
	}
	active, err := receptive.NewSelector(selOpts...).Select(tensor, p.IndsToCalculateReceptiveField, p.NumFeatures)
	if err != nil {
		return nil, fmt.Errorf("failed to select active pixels: %w", err)
	}
	if len(active) != p.NumFeatures {
		return nil, fmt.Errorf("%w: selected %d active pixels, expected %d",
			models.ErrConfiguration, len(active), p.NumFeatures)
	}

	projected, err := tensor.Project(active)
	if err != nil {
		return nil, fmt.Errorf("failed to project onto active pixels: %w", err)
	}

	pixels, samples, classes := projected.Dims()
	log.Info().
		Int("pixels", pixels).
		Int("samples", samples).
		Int("classes", classes).
		Int("sideLength", sideLength).
		Msg("Feature array complete")

	return &Result{
		Features:     projected,
		ActivePixels: active,
		SideLength:   sideLength,
	}, nil
}

func (a *Assembler) previewing() bool {
	return a.params.ShowThumbnails && a.renderer != nil && a.params.ThumbnailDir != ""
}

func (a *Assembler) stagePath(stage string) string {
	return filepath.Join(a.params.ThumbnailDir, stage+".png")
}

// saveStage renders the first perClass samples of every class. Preview
// failures are logged and never abort the run.
func (a *Assembler) saveStage(stage string, t *models.FeatureTensor, perClass int, normalize bool, title string) {
	if !a.previewing() {
		return
	}

	path := a.stagePath(stage)
	if err := a.renderer.RenderThumbnailGrid(t, perClass, normalize, title, path); err != nil {
		a.log.Warn().Err(err).Str("stage", stage).Msg("failed to save stage thumbnails")
		return
	}
	a.log.Debug().Str("path", path).Msg("saved stage thumbnails")
}

// saveTemplates renders one thumbnail per class template
func (a *Assembler) saveTemplates(templates [][]float64) {
	t, err := models.NewFeatureTensor(len(templates[0]), 1, len(templates))
	if err != nil {
		a.log.Warn().Err(err).Msg("failed to save class templates")
		return
	}
	for c, tmpl := range templates {
		t.SetColumn(0, c, tmpl)
	}
	a.saveStage("02_class_templates", t, 1, true, "class templates")
}
