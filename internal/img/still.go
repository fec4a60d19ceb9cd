package img

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// Still is a fully decoded raster image held in memory. It carries no
// reference to the file or decoder it came from.
type Still struct {
	Image image.Image
}

// NewStill wraps an already decoded image. A nil image yields an empty 1x1 still.
func NewStill(src image.Image) *Still {
	if src == nil {
		src = imaging.New(1, 1, color.Black)
	}
	return &Still{Image: imaging.Clone(src)}
}

// Decode reads an encoded still (png, jpeg, gif, bmp, tiff) into memory.
func Decode(r io.Reader) (*Still, error) {
	src, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &Still{Image: imaging.Clone(src)}, nil
}

// Open loads a still from disk.
func Open(path string) (*Still, error) {
	src, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return &Still{Image: imaging.Clone(src)}, nil
}

func (s *Still) Width() int  { return s.Image.Bounds().Dx() }
func (s *Still) Height() int { return s.Image.Bounds().Dy() }

// Fit returns a copy scaled down to fit inside w x h. Smaller stills are not upscaled.
func (s *Still) Fit(w, h int) *Still {
	return &Still{Image: imaging.Fit(s.Image, w, h, imaging.Lanczos)}
}

// Save writes the still; the format follows the file extension.
func (s *Still) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	if err := imaging.Save(s.Image, path); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

// PNG encodes the still as PNG.
func (s *Still) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, s.Image, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURL encodes the still as a base64 PNG data URL, the form vendor
// image-to-video APIs accept in place of a hosted image.
func (s *Still) DataURL() (string, error) {
	b, err := s.PNG()
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(b), nil
}
