package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/floats"

	"mnistfeatures/internal/models"
	"mnistfeatures/pkg/reduction"
)

// Viewer turns the columns of a square-pixel FeatureTensor back into images
type Viewer struct {
	// tensor holds [pixel, sample, class] with side*side pixels
	tensor *models.FeatureTensor

	// side is the thumbnail side length
	side int

	// labels names the classes in file names
	labels []int
}

// NewViewer creates a viewer over a tensor whose pixel axis is a square image
func NewViewer(tensor *models.FeatureTensor, labels []int) (*Viewer, error) {
	side, err := reduction.SideLength(tensor.Pixels())
	if err != nil {
		return nil, err
	}
	if len(labels) != tensor.Classes() {
		return nil, fmt.Errorf("%d labels for %d classes", len(labels), tensor.Classes())
	}

	return &Viewer{tensor: tensor, side: side, labels: labels}, nil
}

// ExtractThumbnail renders one (sample, class) column as a grayscale image,
// scaled so the column maximum is white.
func (v *Viewer) ExtractThumbnail(sample, class int) (image.Image, error) {
	if sample < 0 || sample >= v.tensor.Samples() {
		return nil, fmt.Errorf("sample %d exceeds %d samples", sample, v.tensor.Samples())
	}
	if class < 0 || class >= v.tensor.Classes() {
		return nil, fmt.Errorf("class %d exceeds %d classes", class, v.tensor.Classes())
	}

	col := v.tensor.Column(sample, class)
	scale := 0.0
	if peak := floats.Max(col); peak > 0 {
		scale = 1 / peak
	}

	img := image.NewGray16(image.Rect(0, 0, v.side, v.side))
	for y := 0; y < v.side; y++ {
		for x := 0; x < v.side; x++ {
			img.SetGray16(x, y, color.Gray16{Y: toGray16(col[y*v.side+x] * scale)})
		}
	}

	return img, nil
}

// SaveThumbnail writes an image as PNG or JPEG depending on the extension
func (v *Viewer) SaveThumbnail(img image.Image, filename string) error {
	return saveImage(img, filename)
}

// SaveThumbnailSequence writes every column of the tensor to outputDir
func (v *Viewer) SaveThumbnailSequence(outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for c := 0; c < v.tensor.Classes(); c++ {
		for s := 0; s < v.tensor.Samples(); s++ {
			img, err := v.ExtractThumbnail(s, c)
			if err != nil {
				return err
			}

			filename := filepath.Join(outputDir, fmt.Sprintf("class_%d_%04d.png", v.labels[c], s))
			if err := v.SaveThumbnail(img, filename); err != nil {
				return err
			}
		}
	}

	return nil
}

func toGray16(v float64) uint16 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 65535
	}
	return uint16(v * 65535)
}

func saveImage(img image.Image, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %v", err)
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create image file: %v", err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		err = png.Encode(file, img)
	default:
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	}
	if err != nil {
		return fmt.Errorf("failed to encode image: %v", err)
	}

	return nil
}
