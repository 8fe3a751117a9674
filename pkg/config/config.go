// Package config provides configuration loading and management for mnistfeatures.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"mnistfeatures/internal/models"
)

// IndexSelection names a subset of per-class sample indices, either as the
// half-open range [Start, Stop) or as an explicit list. List wins when set.
type IndexSelection struct {
	Start int   `yaml:"start,omitempty"`
	Stop  int   `yaml:"stop,omitempty"`
	List  []int `yaml:"list,omitempty"`
}

// Range returns the selection [start, stop)
func Range(start, stop int) IndexSelection {
	return IndexSelection{Start: start, Stop: stop}
}

// Indices expands the selection into a list
func (s IndexSelection) Indices() []int {
	if len(s.List) > 0 {
		return append([]int(nil), s.List...)
	}
	var out []int
	for i := s.Start; i < s.Stop; i++ {
		out = append(out, i)
	}
	return out
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Dataset location and split
	Dataset struct {
		// Dir holds the MNIST IDX files
		Dir string `yaml:"dir"`

		// Split is "train" or "test"
		Split string `yaml:"split"`
	} `yaml:"dataset"`

	// Preprocessing parameters
	Preprocessing struct {
		// Crop is the margin removed from each image edge
		Crop int `yaml:"crop"`

		// DownsampleRate is the integer pooling factor
		DownsampleRate int `yaml:"downsampleRate"`

		// DownsampleMethod is one of mean, max, min, sum
		DownsampleMethod string `yaml:"downsampleMethod"`

		// ClassLabels is the ordered list of classes to extract
		ClassLabels []int `yaml:"classLabels"`

		// MaxInd is the highest per-class sample index extracted
		MaxInd int `yaml:"maxInd"`

		// IndsToAverageGeneral selects the samples used for class templates
		IndsToAverageGeneral IndexSelection `yaml:"indsToAverageGeneral"`

		// IndsToCalculateReceptiveField selects the samples used to rank pixels
		IndsToCalculateReceptiveField IndexSelection `yaml:"indsToCalculateReceptiveField"`

		// PixelSum is the total each normalized feature vector sums to
		PixelSum float64 `yaml:"pixelSum"`

		// NumFeatures is the number of active pixels kept
		NumFeatures int `yaml:"numFeatures"`

		// RankingPolicy is "mean" or "variance"
		RankingPolicy string `yaml:"rankingPolicy"`
	} `yaml:"preprocessing"`

	// Display parameters
	Display struct {
		// ShowThumbnails writes thumbnail grids of each stage
		ShowThumbnails bool `yaml:"showThumbnails"`

		// ThumbnailDir is where thumbnail grids are written
		ThumbnailDir string `yaml:"thumbnailDir"`

		// ScreenSize is the width and height hint for thumbnail grids
		ScreenSize [2]int `yaml:"screenSize"`
	} `yaml:"display"`

	// Output parameters
	Output struct {
		// Dir receives the exported feature tensor
		Dir string `yaml:"dir"`

		// LogLevel controls the level of logging output
		LogLevel string `yaml:"logLevel"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Dataset.Dir = "MNIST_all"
	cfg.Dataset.Split = string(models.SplitTrain)

	cfg.Preprocessing.Crop = 2
	cfg.Preprocessing.DownsampleRate = 2
	cfg.Preprocessing.DownsampleMethod = "mean"
	cfg.Preprocessing.ClassLabels = []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	cfg.Preprocessing.MaxInd = 999
	cfg.Preprocessing.IndsToAverageGeneral = Range(550, 1000)
	cfg.Preprocessing.IndsToCalculateReceptiveField = Range(550, 1000)
	cfg.Preprocessing.PixelSum = 6
	cfg.Preprocessing.NumFeatures = 85
	cfg.Preprocessing.RankingPolicy = "mean"

	cfg.Display.ShowThumbnails = false
	cfg.Display.ThumbnailDir = "thumbnails"
	cfg.Display.ScreenSize = [2]int{1920, 1080}

	cfg.Output.Dir = "features"
	cfg.Output.LogLevel = "info"

	return cfg
}

// Validate checks the values that can be checked without looking at the data
func (c *Config) Validate() error {
	p := c.Preprocessing

	if _, err := models.ParseSplit(c.Dataset.Split); err != nil {
		return err
	}
	if p.Crop < 0 {
		return fmt.Errorf("%w: crop must be non-negative, got %d", models.ErrConfiguration, p.Crop)
	}
	if p.DownsampleRate <= 0 {
		return fmt.Errorf("%w: downsampleRate must be positive, got %d", models.ErrConfiguration, p.DownsampleRate)
	}
	if len(p.ClassLabels) == 0 {
		return fmt.Errorf("%w: classLabels is empty", models.ErrConfiguration)
	}
	if p.MaxInd < 0 {
		return fmt.Errorf("%w: maxInd must be non-negative, got %d", models.ErrConfiguration, p.MaxInd)
	}
	if !(p.PixelSum > 0) {
		return fmt.Errorf("%w: pixelSum must be positive, got %v", models.ErrConfiguration, p.PixelSum)
	}
	if p.NumFeatures <= 0 {
		return fmt.Errorf("%w: numFeatures must be positive, got %d", models.ErrConfiguration, p.NumFeatures)
	}

	selections := []struct {
		name string
		sel  IndexSelection
	}{
		{"indsToAverageGeneral", p.IndsToAverageGeneral},
		{"indsToCalculateReceptiveField", p.IndsToCalculateReceptiveField},
	}
	for _, s := range selections {
		name, inds := s.name, s.sel.Indices()
		if len(inds) == 0 {
			return fmt.Errorf("%w: %s selects no samples", models.ErrConfiguration, name)
		}
		for _, i := range inds {
			if i < 0 || i > p.MaxInd {
				return fmt.Errorf("%w: %s index %d outside [0, maxInd=%d]", models.ErrConfiguration, name, i, p.MaxInd)
			}
		}
	}

	if c.Display.ScreenSize[0] <= 0 || c.Display.ScreenSize[1] <= 0 {
		return fmt.Errorf("%w: screenSize must be positive, got %v", models.ErrConfiguration, c.Display.ScreenSize)
	}
	if c.Display.ShowThumbnails && c.Display.ThumbnailDir == "" {
		return fmt.Errorf("%w: showThumbnails needs a thumbnailDir", models.ErrConfiguration)
	}

	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
