package img

import (
	"context"
	"fmt"
	"strings"
)

// Generator renders preview stills for one family of media.
type Generator interface {
	// Generate creates previews from the source file according to the provided specs
	Generate(ctx context.Context, srcPath string, baseDstPath string, specs []PreviewSpec) ([]PreviewOutput, error)

	// Supports returns true if this generator can handle the given MIME type
	Supports(mimeType string) bool

	// Name returns the generator name for logging
	Name() string
}

// GetGenerator routes a MIME type to its preview generator:
//   - Images: imaging library
//   - Videos: a poster frame from poster, then imaging
func GetGenerator(mimeType string, poster PosterTool) (Generator, error) {
	mimeType = strings.ToLower(mimeType)

	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return &ImageGenerator{}, nil
	case strings.HasPrefix(mimeType, "video/"):
		if poster == nil {
			return nil, fmt.Errorf("no poster tool for %s previews", mimeType)
		}
		return NewVideoGenerator(poster), nil
	default:
		return nil, fmt.Errorf("unsupported MIME type: %s (supported: image/*, video/*)", mimeType)
	}
}

// Previewer binds GetGenerator to one poster tool.
func Previewer(poster PosterTool) func(mimeType string) (Generator, error) {
	return func(mimeType string) (Generator, error) {
		return GetGenerator(mimeType, poster)
	}
}

// SupportedMimeTypes returns a list of all MIME types that can be previewed
func SupportedMimeTypes() []string {
	return []string{
		"image/jpeg",
		"image/png",
		"image/gif",
		"image/bmp",
		"image/tiff",
		"video/mp4",
		"video/mpeg",
		"video/quicktime",
		"video/webm",
		"video/x-matroska",
	}
}

// ImageGenerator implements Generator for raster images.
type ImageGenerator struct{}

func (g *ImageGenerator) Generate(ctx context.Context, srcPath string, baseDstPath string, specs []PreviewSpec) ([]PreviewOutput, error) {
	return GeneratePreviewsFromFile(srcPath, baseDstPath, specs)
}

func (g *ImageGenerator) Supports(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(mimeType), "image/")
}

func (g *ImageGenerator) Name() string {
	return "image"
}
