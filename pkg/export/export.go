// Package export persists a pipeline result so a downstream consumer can
// load the features without re-running the preprocessing.
//
// A result directory holds manifest.yaml plus one gonum binary matrix per
// class (activePixels x samples), named class_<label>.bin.
package export

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"mnistfeatures/internal/models"
	"mnistfeatures/pkg/features"
)

const manifestName = "manifest.yaml"

// Manifest describes the exported feature tensor
type Manifest struct {
	NumFeatures  int      `yaml:"numFeatures"`
	Samples      int      `yaml:"samples"`
	ClassLabels  []int    `yaml:"classLabels"`
	SideLength   int      `yaml:"sideLength"`
	ActivePixels []int    `yaml:"activePixels"`
	ClassFiles   []string `yaml:"classFiles"`
}

// Save writes the result to dir, creating it if needed
func Save(dir string, result *features.Result, labels []int) error {
	pixels, samples, classes := result.Features.Dims()
	if len(labels) != classes {
		return fmt.Errorf("%d labels for %d classes", len(labels), classes)
	}
	if len(result.ActivePixels) != pixels {
		return fmt.Errorf("%d active pixels for %d feature rows", len(result.ActivePixels), pixels)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	manifest := Manifest{
		NumFeatures:  pixels,
		Samples:      samples,
		ClassLabels:  append([]int(nil), labels...),
		SideLength:   result.SideLength,
		ActivePixels: append([]int(nil), result.ActivePixels...),
	}

	for c, label := range labels {
		name := fmt.Sprintf("class_%d.bin", label)
		if err := writeMatrix(filepath.Join(dir, name), result.Features.Class(c)); err != nil {
			return err
		}
		manifest.ClassFiles = append(manifest.ClassFiles, name)
	}

	data, err := yaml.Marshal(&manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestName), data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	return nil
}

// Load reads a result written by Save and returns it with its class labels
func Load(dir string) (*features.Result, []int, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if len(manifest.ClassFiles) != len(manifest.ClassLabels) {
		return nil, nil, fmt.Errorf("manifest lists %d files for %d classes",
			len(manifest.ClassFiles), len(manifest.ClassLabels))
	}
	if len(manifest.ActivePixels) != manifest.NumFeatures {
		return nil, nil, fmt.Errorf("manifest lists %d active pixels for %d features",
			len(manifest.ActivePixels), manifest.NumFeatures)
	}
	area := manifest.SideLength * manifest.SideLength
	for _, p := range manifest.ActivePixels {
		if p < 0 || p >= area {
			return nil, nil, fmt.Errorf("active pixel %d outside a %dx%d image",
				p, manifest.SideLength, manifest.SideLength)
		}
	}

	classes := make([]*mat.Dense, len(manifest.ClassFiles))
	for c, name := range manifest.ClassFiles {
		m, err := readMatrix(filepath.Join(dir, name))
		if err != nil {
			return nil, nil, err
		}
		if r, s := m.Dims(); r != manifest.NumFeatures || s != manifest.Samples {
			return nil, nil, fmt.Errorf("%s is %dx%d, manifest says %dx%d",
				name, r, s, manifest.NumFeatures, manifest.Samples)
		}
		classes[c] = m
	}

	tensor, err := models.FeatureTensorFromClasses(classes)
	if err != nil {
		return nil, nil, err
	}
	active, err := models.NewActivePixelIndexSet(manifest.ActivePixels)
	if err != nil {
		return nil, nil, err
	}

	return &features.Result{
		Features:     tensor,
		ActivePixels: active,
		SideLength:   manifest.SideLength,
	}, manifest.ClassLabels, nil
}

func writeMatrix(path string, m *mat.Dense) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	if _, err := m.MarshalBinaryTo(w); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}

func readMatrix(path string) (*mat.Dense, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	var m mat.Dense
	if _, err := m.UnmarshalBinaryFrom(bufio.NewReader(file)); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return &m, nil
}
