package img

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PosterTool renders one representative still of a clip. width and height of
// 0 keep the source size.
type PosterTool interface {
	Poster(ctx context.Context, input, output string, width, height int) error
}

// VideoGenerator previews a clip by extracting one poster frame and scaling
// it with the imaging library.
type VideoGenerator struct {
	tool PosterTool
}

func NewVideoGenerator(tool PosterTool) *VideoGenerator {
	return &VideoGenerator{tool: tool}
}

// Generate writes base_<spec>.jpg for every spec.
func (g *VideoGenerator) Generate(ctx context.Context, srcPath string, baseDstPath string, specs []PreviewSpec) ([]PreviewOutput, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	if g.tool == nil {
		return nil, errors.New("video preview: no poster tool")
	}

	posterDir, err := os.MkdirTemp("", "loom-poster-*")
	if err != nil {
		return nil, fmt.Errorf("poster dir: %w", err)
	}
	defer os.RemoveAll(posterDir)

	posterPath := filepath.Join(posterDir, "poster.png")
	if err := g.tool.Poster(ctx, srcPath, posterPath, 0, 0); err != nil {
		return nil, fmt.Errorf("poster: %w", err)
	}
	poster, err := Open(posterPath)
	if err != nil {
		return nil, err
	}

	var results []PreviewOutput
	for _, spec := range specs {
		dstPath := PreviewPath(baseDstPath, spec.Name, ".jpg")
		w, h, err := GeneratePreview(poster, dstPath, spec.Width, spec.Height)
		if err != nil {
			return nil, fmt.Errorf("preview %s: %w", spec.Name, err)
		}
		results = append(results, PreviewOutput{
			Name:         spec.Name,
			Path:         dstPath,
			Width:        w,
			Height:       h,
			SourceWidth:  poster.Width(),
			SourceHeight: poster.Height(),
		})
	}
	return results, nil
}

func (g *VideoGenerator) Supports(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(mimeType), "video/")
}

func (g *VideoGenerator) Name() string {
	return "video"
}
