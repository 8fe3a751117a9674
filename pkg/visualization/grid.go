// Package visualization renders feature vectors back into images for visual
// inspection. Nothing here feeds back into the numeric pipeline.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"gonum.org/v1/gonum/floats"

	"mnistfeatures/internal/models"
	"mnistfeatures/pkg/reduction"
)

const (
	titleHeight = 20
	cellPadding = 2
)

// ThumbnailGrid lays out thumbnails of several classes in one image. The
// figure takes half of the screen size hint in each direction.
type ThumbnailGrid struct {
	ScreenWidth  int
	ScreenHeight int
}

// NewThumbnailGrid creates a grid renderer for the given screen size hint
func NewThumbnailGrid(screenWidth, screenHeight int) *ThumbnailGrid {
	return &ThumbnailGrid{ScreenWidth: screenWidth, ScreenHeight: screenHeight}
}

// GridShape returns the rows and columns used for total thumbnails
func GridShape(total int) (rows, cols int) {
	rows = int(math.Ceil(math.Sqrt(float64(total) / 2)))
	cols = int(math.Ceil(math.Sqrt(float64(total) * 2)))
	if rows < 1 {
		rows = 1
	}
	for rows*cols < total {
		cols++
	}
	return rows, cols
}

// Compose draws the first perClass samples of every class into one image,
// class by class, with the title below the grid. With normalize set each
// thumbnail is divided by its maximum, otherwise its range is stretched.
func (g *ThumbnailGrid) Compose(samples *models.FeatureTensor, perClass int, normalize bool, title string) (*image.Gray, error) {
	side, err := reduction.SideLength(samples.Pixels())
	if err != nil {
		return nil, err
	}
	if perClass <= 0 {
		return nil, fmt.Errorf("thumbnails per class must be positive, got %d", perClass)
	}
	if perClass > samples.Samples() {
		perClass = samples.Samples()
	}

	total := perClass * samples.Classes()
	rows, cols := GridShape(total)

	figW := g.ScreenWidth / 2
	figH := g.ScreenHeight/2 - titleHeight
	cell := side
	if rows > 0 && cols > 0 {
		if c := min(figW/cols, figH/rows) - cellPadding; c > cell {
			cell = c
		}
	}

	width := cols * (cell + cellPadding)
	height := rows*(cell+cellPadding) + titleHeight
	canvas := image.NewGray(image.Rect(0, 0, width, height))
	xdraw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, xdraw.Src)

	for c := 0; c < samples.Classes(); c++ {
		for i := 0; i < perClass; i++ {
			k := c*perClass + i
			x0 := (k%cols)*(cell+cellPadding) + cellPadding/2
			y0 := (k/cols)*(cell+cellPadding) + cellPadding/2

			thumb := renderThumbnail(samples.Column(i, c), side, normalize)
			dst := image.Rect(x0, y0, x0+cell, y0+cell)
			xdraw.NearestNeighbor.Scale(canvas, dst, thumb, thumb.Bounds(), xdraw.Src, nil)
		}
	}

	if title != "" {
		drawer := &font.Drawer{
			Dst:  canvas,
			Src:  image.Black,
			Face: basicfont.Face7x13,
		}
		textWidth := drawer.MeasureString(title).Ceil()
		x := (width - textWidth) / 2
		if x < 0 {
			x = 0
		}
		drawer.Dot = fixed.P(x, height-titleHeight/2+4)
		drawer.DrawString(title)
	}

	return canvas, nil
}

// RenderThumbnailGrid composes the grid and writes it to savePath
func (g *ThumbnailGrid) RenderThumbnailGrid(samples *models.FeatureTensor, perClass int, normalize bool, title, savePath string) error {
	if savePath == "" {
		return fmt.Errorf("no save path for thumbnail grid %q", title)
	}

	canvas, err := g.Compose(samples, perClass, normalize, title)
	if err != nil {
		return err
	}

	return saveImage(canvas, savePath)
}

// renderThumbnail maps one column onto a side x side gray image
func renderThumbnail(col []float64, side int, normalize bool) *image.Gray {
	lo, hi := floats.Min(col), floats.Max(col)
	if normalize {
		lo = 0
	}

	img := image.NewGray(image.Rect(0, 0, side, side))
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			v := 0.0
			if hi > lo {
				v = (col[y*side+x] - lo) / (hi - lo)
			}
			img.SetGray(x, y, color.Gray{Y: uint8(math.Round(clamp01(v) * 255))})
		}
	}

	return img
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
