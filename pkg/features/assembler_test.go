package features

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"mnistfeatures/internal/models"
	"mnistfeatures/pkg/config"
	"mnistfeatures/pkg/dataset"
	"mnistfeatures/pkg/receptive"
	"mnistfeatures/pkg/reduction"
	"mnistfeatures/pkg/visualization"
)

// createDigit draws a bright square for the class, shifted by the sample
// index, on top of a faint background.
func createDigit(label, sample, size int) models.RawImage {
	img := models.RawImage{
		Pixels: make([]float64, size*size),
		Height: size,
		Width:  size,
		Label:  label,
		Split:  models.SplitTrain,
	}
	for i := range img.Pixels {
		img.Pixels[i] = 0.01
	}

	top := 4 + (label*5)%14 + sample%3
	left := 4 + (label*7)%14 + (sample/3)%3
	for y := top; y < top+6 && y < size; y++ {
		for x := left; x < left+6 && x < size; x++ {
			img.Pixels[y*size+x] = 0.5 + 0.05*float64((x+y+sample)%10)
		}
	}
	return img
}

// createTestSource fills a memory source with perClass digits of each label
func createTestSource(t *testing.T, labels []int, perClass, size int) *dataset.MemorySource {
	t.Helper()
	src := dataset.NewMemorySource()
	for _, l := range labels {
		for s := 0; s < perClass; s++ {
			require.NoError(t, src.Add(createDigit(l, s, size)))
		}
	}
	return src
}

func testParams() Params {
	return Params{
		CropMargin:                    2,
		DownsampleRate:                2,
		DownsampleMethod:              reduction.MethodMean,
		ClassLabels:                   []int{0, 1, 2},
		MaxInd:                        9,
		IndsToAverageGeneral:          []int{0, 1, 2, 3, 4},
		IndsToCalculateReceptiveField: []int{5, 6, 7, 8, 9},
		PixelSum:                      6,
		NumFeatures:                   40,
		Split:                         models.SplitTrain,
	}
}

// countingSource records how often images were requested
type countingSource struct {
	dataset.Source
	loads int
}

func (c *countingSource) LoadLabeledSplit(labels []int, indices []int, split models.Split) (*models.ImageStack, error) {
	c.loads++
	return c.Source.LoadLabeledSplit(labels, indices, split)
}

type stageRecorder struct {
	paths []string
}

func (r *stageRecorder) RenderThumbnailGrid(samples *models.FeatureTensor, perClass int, normalize bool, title, savePath string) error {
	r.paths = append(r.paths, filepath.Base(savePath))
	return nil
}

func TestProcess_MNISTScenario(t *testing.T) {
	src := createTestSource(t, []int{0, 1, 2}, 10, 28)

	result, err := NewAssembler(src, testParams()).Process()
	require.NoError(t, err)

	pixels, samples, classes := result.Features.Dims()
	assert.Equal(t, 40, pixels)
	assert.Equal(t, 10, samples)
	assert.Equal(t, 3, classes)
	assert.Equal(t, 12, result.SideLength)
	assert.Equal(t, 144, result.SideLength*result.SideLength)

	require.Len(t, result.ActivePixels, 40)
	seen := map[int]bool{}
	for _, p := range result.ActivePixels {
		assert.GreaterOrEqual(t, p, 0)
		assert.Less(t, p, 144)
		assert.False(t, seen[p])
		seen[p] = true
	}
}

func TestProcess_ProjectionKeepsNormalizedValues(t *testing.T) {
	src := createTestSource(t, []int{0, 1, 2}, 10, 28)
	params := testParams()
	params.NumFeatures = 144

	result, err := NewAssembler(src, params).Process()
	require.NoError(t, err)

	// keeping every pixel leaves the normalized columns intact
	for c := 0; c < 3; c++ {
		for s := 0; s < 10; s++ {
			col := result.Features.Column(s, c)
			assert.GreaterOrEqual(t, floats.Min(col), 0.0)
			assert.InEpsilon(t, 6.0, floats.Sum(col), 1e-6)
		}
	}
}

func TestProcess_Deterministic(t *testing.T) {
	src := createTestSource(t, []int{0, 1, 2}, 10, 28)

	for _, policy := range []receptive.Policy{receptive.MeanActivity{}, receptive.Variance{}} {
		params := testParams()
		params.Ranking = policy

		first, err := NewAssembler(src, params).Process()
		require.NoError(t, err)
		second, err := NewAssembler(src, params).Process()
		require.NoError(t, err)

		assert.Equal(t, first.ActivePixels, second.ActivePixels, policy.Name())
		assert.Equal(t, first.Features.Column(3, 2), second.Features.Column(3, 2))
	}
}

func TestProcess_AbsentClassFailsBeforeReduction(t *testing.T) {
	src := createTestSource(t, []int{0, 1}, 10, 28)
	params := testParams()
	params.ShowThumbnails = true
	params.ThumbnailDir = t.TempDir()
	recorder := &stageRecorder{}

	result, err := NewAssembler(src, params, WithRenderer(recorder)).Process()
	require.ErrorIs(t, err, models.ErrDataSource)
	assert.Nil(t, result)
	assert.Empty(t, recorder.paths)
}

func TestProcess_BadGeometryFailsBeforeReadingImages(t *testing.T) {
	src := &countingSource{Source: createTestSource(t, []int{0, 1, 2}, 10, 28)}
	params := testParams()
	params.DownsampleRate = 5

	_, err := NewAssembler(src, params).Process()
	require.ErrorIs(t, err, models.ErrConfiguration)
	assert.Zero(t, src.loads)
}

func TestProcess_TooManyFeatures(t *testing.T) {
	src := &countingSource{Source: createTestSource(t, []int{0, 1, 2}, 10, 28)}
	params := testParams()
	params.NumFeatures = 145

	_, err := NewAssembler(src, params).Process()
	require.ErrorIs(t, err, models.ErrConfiguration)
	assert.Zero(t, src.loads)
}

func TestProcess_IndexSubsetsValidated(t *testing.T) {
	src := createTestSource(t, []int{0, 1, 2}, 10, 28)

	params := testParams()
	params.IndsToAverageGeneral = nil
	_, err := NewAssembler(src, params).Process()
	require.ErrorIs(t, err, models.ErrConfiguration)

	params = testParams()
	params.IndsToCalculateReceptiveField = []int{10}
	_, err = NewAssembler(src, params).Process()
	require.ErrorIs(t, err, models.ErrConfiguration)
}

func TestProcess_BlankImageIsDegenerate(t *testing.T) {
	src := createTestSource(t, []int{0, 1}, 10, 28)
	for s := 0; s < 10; s++ {
		img := createDigit(2, s, 28)
		if s == 7 {
			for i := range img.Pixels {
				img.Pixels[i] = 0
			}
		}
		require.NoError(t, src.Add(img))
	}

	result, err := NewAssembler(src, testParams()).Process()
	require.ErrorIs(t, err, models.ErrNumericDegeneracy)
	assert.Nil(t, result)
}

func TestProcess_NonSquareImages(t *testing.T) {
	src := dataset.NewMemorySource()
	for _, l := range []int{0, 1, 2} {
		require.NoError(t, src.Add(models.RawImage{
			Pixels: make([]float64, 28*32), Height: 28, Width: 32, Label: l, Split: models.SplitTrain,
		}))
	}
	params := testParams()
	params.MaxInd = 0
	params.IndsToAverageGeneral = []int{0}
	params.IndsToCalculateReceptiveField = []int{0}

	_, err := NewAssembler(src, params).Process()
	require.ErrorIs(t, err, models.ErrConfiguration)
}

func TestProcess_StagePreviews(t *testing.T) {
	src := createTestSource(t, []int{0, 1, 2}, 10, 28)
	params := testParams()
	params.ShowThumbnails = true
	params.ThumbnailDir = t.TempDir()
	recorder := &stageRecorder{}

	withPreviews, err := NewAssembler(src, params, WithRenderer(recorder)).Process()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"01_reduced_samples.png",
		"02_class_templates.png",
		"03_normalized_samples.png",
		"04_active_pixels.png",
	}, recorder.paths)

	plain, err := NewAssembler(src, testParams()).Process()
	require.NoError(t, err)
	assert.Equal(t, plain.ActivePixels, withPreviews.ActivePixels)
}

func TestProcess_WritesThumbnailFiles(t *testing.T) {
	src := createTestSource(t, []int{0, 1, 2}, 10, 28)
	params := testParams()
	params.ShowThumbnails = true
	params.ThumbnailDir = filepath.Join(t.TempDir(), "thumbs")

	grid := visualization.NewThumbnailGrid(800, 600)
	_, err := NewAssembler(src, params, WithRenderer(grid)).Process()
	require.NoError(t, err)

	for _, name := range []string{"01_reduced_samples.png", "02_class_templates.png", "03_normalized_samples.png", "04_active_pixels.png"} {
		_, err := os.Stat(filepath.Join(params.ThumbnailDir, name))
		assert.NoError(t, err, name)
	}
}

func TestNewAssembler_CopiesParams(t *testing.T) {
	params := testParams()
	a := NewAssembler(dataset.NewMemorySource(), params)

	params.ClassLabels[0] = 99
	params.IndsToAverageGeneral[0] = 42
	assert.Equal(t, 0, a.Params().ClassLabels[0])
	assert.Equal(t, 0, a.Params().IndsToAverageGeneral[0])
	assert.Equal(t, "mean", a.Params().Ranking.Name())
}

func TestParamsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Preprocessing.RankingPolicy = "variance"
	cfg.Preprocessing.DownsampleMethod = "max"

	params, err := ParamsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, reduction.MethodMax, params.DownsampleMethod)
	assert.Equal(t, "variance", params.Ranking.Name())
	assert.Len(t, params.IndsToAverageGeneral, 450)
	assert.Equal(t, 550, params.IndsToCalculateReceptiveField[0])
	assert.Equal(t, models.SplitTrain, params.Split)

	cfg.Preprocessing.DownsampleMethod = "bicubic"
	_, err = ParamsFromConfig(cfg)
	require.ErrorIs(t, err, models.ErrConfiguration)
}
