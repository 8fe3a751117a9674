package export

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"mnistfeatures/internal/models"
	"mnistfeatures/pkg/features"
)

func sampleResult(t *testing.T) *features.Result {
	t.Helper()
	tensor, err := models.NewFeatureTensor(3, 4, 2)
	require.NoError(t, err)
	for c := 0; c < 2; c++ {
		for s := 0; s < 4; s++ {
			for p := 0; p < 3; p++ {
				tensor.Set(p, s, c, float64(c)+0.1*float64(s)+0.01*float64(p))
			}
		}
	}
	return &features.Result{
		Features:     tensor,
		ActivePixels: models.ActivePixelIndexSet{2, 5, 11},
		SideLength:   4,
	}
}

func TestSaveLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	result := sampleResult(t)

	require.NoError(t, Save(dir, result, []int{3, 8}))
	assert.FileExists(t, filepath.Join(dir, "class_3.bin"))
	assert.FileExists(t, filepath.Join(dir, "class_8.bin"))

	loaded, labels, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 8}, labels)
	assert.Equal(t, result.ActivePixels, loaded.ActivePixels)
	assert.Equal(t, 4, loaded.SideLength)
	for c := 0; c < 2; c++ {
		assert.True(t, mat.Equal(result.Features.Class(c), loaded.Features.Class(c)))
	}
}

func TestSave_RejectsMismatchedLabels(t *testing.T) {
	err := Save(t.TempDir(), sampleResult(t), []int{1})
	require.Error(t, err)
}

func TestLoad_Errors(t *testing.T) {
	_, _, err := Load(t.TempDir())
	require.Error(t, err)

	dir := t.TempDir()
	require.NoError(t, Save(dir, sampleResult(t), []int{3, 8}))
	require.NoError(t, os.Remove(filepath.Join(dir, "class_8.bin")))
	_, _, err = Load(dir)
	require.Error(t, err)
}

func TestLoad_RejectsInconsistentManifest(t *testing.T) {
	tests := map[string]func(*Manifest){
		"too few active pixels": func(m *Manifest) { m.ActivePixels = m.ActivePixels[:2] },
		"pixel beyond image":    func(m *Manifest) { m.ActivePixels[2] = 16 },
		"negative pixel":        func(m *Manifest) { m.ActivePixels[0] = -1 },
		"side too small":        func(m *Manifest) { m.SideLength = 3 },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, Save(dir, sampleResult(t), []int{3, 8}))

			path := filepath.Join(dir, manifestName)
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			var manifest Manifest
			require.NoError(t, yaml.Unmarshal(data, &manifest))
			mutate(&manifest)
			data, err = yaml.Marshal(manifest)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(path, data, 0644))

			_, _, err = Load(dir)
			require.Error(t, err)
		})
	}
}
