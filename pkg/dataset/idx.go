package dataset

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"mnistfeatures/internal/models"
)

const (
	idxImageMagic = 0x00000803
	idxLabelMagic = 0x00000801

	// maxIDXSide bounds the image height and width accepted from a header
	maxIDXSide = 1 << 12

	// idxPrealloc caps how many entries are allocated before data is read
	idxPrealloc = 1 << 16
)

type idxLabelHeader struct{ Magic, Num uint32 }

type idxImageHeader struct{ Magic, Num, Height, Width uint32 }

// splitFiles maps a split to the standard MNIST image and label file names
var splitFiles = map[models.Split][2]string{
	models.SplitTrain: {"train-images-idx3-ubyte", "train-labels-idx1-ubyte"},
	models.SplitTest:  {"t10k-images-idx3-ubyte", "t10k-labels-idx1-ubyte"},
}

// IDXSource reads the MNIST IDX files from a directory. Each split is parsed
// once on first use and kept in memory. Gzipped files (".gz") are accepted.
type IDXSource struct {
	dir    string
	loaded *MemorySource
	splits map[models.Split]bool
}

// NewIDXSource creates a source reading from dir
func NewIDXSource(dir string) *IDXSource {
	return &IDXSource{
		dir:    dir,
		loaded: NewMemorySource(),
		splits: make(map[models.Split]bool),
	}
}

// ImageSize implements Source
func (s *IDXSource) ImageSize(split models.Split) (int, int, error) {
	if err := s.ensure(split); err != nil {
		return 0, 0, err
	}
	return s.loaded.ImageSize(split)
}

// LoadLabeledSplit implements Source
func (s *IDXSource) LoadLabeledSplit(labels []int, indices []int, split models.Split) (*models.ImageStack, error) {
	if err := s.ensure(split); err != nil {
		return nil, err
	}
	return s.loaded.LoadLabeledSplit(labels, indices, split)
}

func (s *IDXSource) ensure(split models.Split) error {
	if s.splits[split] {
		return nil
	}

	names, ok := splitFiles[split]
	if !ok {
		return fmt.Errorf("%w: split %s has no IDX files", models.ErrDataSource, split)
	}

	images, err := s.readImages(names[0])
	if err != nil {
		return err
	}
	labels, err := s.readLabels(names[1])
	if err != nil {
		return err
	}
	if len(images) != len(labels) {
		return fmt.Errorf("%w: %s holds %d images but %d labels", models.ErrDataSource,
			split, len(images), len(labels))
	}

	for i, img := range images {
		img.Label = int(labels[i])
		img.Split = split
		if err := s.loaded.Add(img); err != nil {
			return err
		}
	}

	s.splits[split] = true
	return nil
}

// open finds name or name.gz in the source directory
func (s *IDXSource) open(name string) (io.ReadCloser, error) {
	path := filepath.Join(s.dir, name)
	file, err := os.Open(path)
	if err == nil {
		return file, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %v", models.ErrDataSource, err)
	}

	file, err = os.Open(path + ".gz")
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %w: %s", models.ErrDataSource, ErrMissingBackingFile, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDataSource, err)
	}

	gz, err := gzip.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: failed to open gzip stream %s.gz: %v", models.ErrDataSource, path, err)
	}
	return &gzipFile{Reader: gz, file: file}, nil
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	err := g.Reader.Close()
	if cerr := g.file.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *IDXSource) readImages(name string) ([]models.RawImage, error) {
	f, err := s.open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ReadIDXImages(bufio.NewReader(f))
}

func (s *IDXSource) readLabels(name string) ([]uint8, error) {
	f, err := s.open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ReadIDXLabels(bufio.NewReader(f))
}

// ReadIDXImages decodes an idx3-ubyte image file. Intensities are scaled
// to [0, 1].
func ReadIDXImages(r io.Reader) ([]models.RawImage, error) {
	var head idxImageHeader
	if err := binary.Read(r, binary.BigEndian, &head); err != nil {
		return nil, fmt.Errorf("%w: failed to read image header: %v", models.ErrDataSource, err)
	}
	if head.Magic != idxImageMagic {
		return nil, fmt.Errorf("%w: bad image file magic %#08x", models.ErrDataSource, head.Magic)
	}

	n, h, w := int(head.Num), int(head.Height), int(head.Width)
	if h == 0 || w == 0 || h > maxIDXSide || w > maxIDXSide {
		return nil, fmt.Errorf("%w: bad image size %dx%d", models.ErrDataSource, h, w)
	}

	// The count comes from the file, so grow with the data actually read.
	images := make([]models.RawImage, 0, min(n, idxPrealloc))
	pixels := make([]uint8, h*w)
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(r, pixels); err != nil {
			return nil, fmt.Errorf("%w: failed to read image %d of %d: %v", models.ErrDataSource, i, n, err)
		}
		data := make([]float64, h*w)
		for j, pix := range pixels {
			data[j] = float64(pix) / 255.0
		}
		images = append(images, models.RawImage{Pixels: data, Height: h, Width: w})
	}

	return images, nil
}

// ReadIDXLabels decodes an idx1-ubyte label file
func ReadIDXLabels(r io.Reader) ([]uint8, error) {
	var head idxLabelHeader
	if err := binary.Read(r, binary.BigEndian, &head); err != nil {
		return nil, fmt.Errorf("%w: failed to read label header: %v", models.ErrDataSource, err)
	}
	if head.Magic != idxLabelMagic {
		return nil, fmt.Errorf("%w: bad label file magic %#08x", models.ErrDataSource, head.Magic)
	}

	labels, err := io.ReadAll(io.LimitReader(r, int64(head.Num)))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %d labels: %v", models.ErrDataSource, head.Num, err)
	}
	if len(labels) != int(head.Num) {
		return nil, fmt.Errorf("%w: read %d labels, header says %d", models.ErrDataSource, len(labels), head.Num)
	}

	return labels, nil
}
