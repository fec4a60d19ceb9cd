// internal/img/thumb.go
package img

import (
	"fmt"
	"path/filepath"
	"strings"
)

type PreviewSpec struct {
	Name   string
	Width  int
	Height int
}

type PreviewOutput struct {
	Name         string
	Path         string
	Width        int
	Height       int
	SourceWidth  int
	SourceHeight int
}

// DefaultPreviewSpecs are rendered for every still a run produces.
var DefaultPreviewSpecs = []PreviewSpec{
	{Name: "small", Width: 160, Height: 160},
	{Name: "medium", Width: 480, Height: 480},
}

// PreviewPath derives the path of a named preview from a base path:
// "out/frame.png" + "small" -> "out/frame_small.png".
func PreviewPath(basePath, name, ext string) string {
	base := strings.TrimSuffix(basePath, filepath.Ext(basePath))
	if ext == "" {
		ext = filepath.Ext(basePath)
	}
	return fmt.Sprintf("%s_%s%s", base, name, ext)
}

// GeneratePreview scales s to fit the box and writes it to dstPath. Stills
// smaller than the box are not upscaled.
func GeneratePreview(s *Still, dstPath string, boxW, boxH int) (w int, h int, _ error) {
	p := s.Fit(boxW, boxH)
	if err := p.Save(dstPath); err != nil {
		return 0, 0, err
	}
	return p.Width(), p.Height(), nil
}

// GeneratePreviews renders every spec of s next to baseDstPath.
func GeneratePreviews(s *Still, baseDstPath string, specs []PreviewSpec) ([]PreviewOutput, error) {
	var results []PreviewOutput
	for _, spec := range specs {
		dstPath := PreviewPath(baseDstPath, spec.Name, "")
		w, h, err := GeneratePreview(s, dstPath, spec.Width, spec.Height)
		if err != nil {
			return nil, fmt.Errorf("preview %s: %w", spec.Name, err)
		}
		results = append(results, PreviewOutput{
			Name:         spec.Name,
			Path:         dstPath,
			Width:        w,
			Height:       h,
			SourceWidth:  s.Width(),
			SourceHeight: s.Height(),
		})
	}
	return results, nil
}

// GeneratePreviewsFromFile loads srcPath and renders every spec.
func GeneratePreviewsFromFile(srcPath, baseDstPath string, specs []PreviewSpec) ([]PreviewOutput, error) {
	s, err := Open(srcPath)
	if err != nil {
		return nil, err
	}
	return GeneratePreviews(s, baseDstPath, specs)
}
