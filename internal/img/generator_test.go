package img

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/RhythrosaLabs/loom/internal/converters"
)

// posterRecorder renders a fixed still and remembers what it was asked for.
type posterRecorder struct {
	inputs []string
}

func (p *posterRecorder) Poster(ctx context.Context, input, output string, width, height int) error {
	p.inputs = append(p.inputs, input)
	return Render(120, 80, input).Save(output)
}

func TestGetGenerator(t *testing.T) {
	tests := []struct {
		name        string
		mimeType    string
		wantGen     string
		shouldError bool
	}{
		{"image jpeg", "image/jpeg", "image", false},
		{"image png", "image/png", "image", false},
		{"video mp4", "video/mp4", "video", false},
		{"video quicktime", "video/quicktime", "video", false},
		{"pdf", "application/pdf", "", true},
		{"unsupported", "application/zip", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen, err := GetGenerator(tt.mimeType, &posterRecorder{})

			if tt.shouldError {
				if err == nil {
					t.Errorf("expected error for %s, got nil", tt.mimeType)
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if gen.Name() != tt.wantGen {
				t.Errorf("GetGenerator(%s) = %s, want %s", tt.mimeType, gen.Name(), tt.wantGen)
			}

			if !gen.Supports(tt.mimeType) {
				t.Errorf("generator %s claims not to support %s", gen.Name(), tt.mimeType)
			}
		})
	}
}

func TestImageGeneratorGenerate(t *testing.T) {
	tmp := t.TempDir()
	srcPath := filepath.Join(tmp, "source.png")
	basePath := filepath.Join(tmp, "preview.png")

	createTestImage(t, srcPath, 400, 200)

	gen := &ImageGenerator{}
	ctx := context.Background()

	specs := []PreviewSpec{
		{Name: "small", Width: 100, Height: 100},
		{Name: "medium", Width: 200, Height: 200},
	}

	results, err := gen.Generate(ctx, srcPath, basePath, specs)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	for _, result := range results {
		if _, err := os.Stat(result.Path); err != nil {
			t.Errorf("preview %s not created: %v", result.Name, err)
		}
		if result.SourceWidth != 400 || result.SourceHeight != 200 {
			t.Errorf("unexpected source size %dx%d", result.SourceWidth, result.SourceHeight)
		}
	}
}

func TestGetGeneratorVideoNeedsPosterTool(t *testing.T) {
	if _, err := GetGenerator("video/mp4", nil); err == nil {
		t.Error("expected error without a poster tool")
	}
	if _, err := GetGenerator("image/png", nil); err != nil {
		t.Errorf("image previews need no poster tool: %v", err)
	}
}

func TestVideoGeneratorUsesInjectedTool(t *testing.T) {
	tool := &posterRecorder{}
	gen, err := Previewer(tool)("video/mp4")
	if err != nil {
		t.Fatal(err)
	}
	tmp := t.TempDir()
	results, err := gen.Generate(context.Background(), "/clips/final.mp4", filepath.Join(tmp, "final.mp4"), []PreviewSpec{{Name: "small", Width: 60, Height: 60}})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(tool.inputs) != 1 || tool.inputs[0] != "/clips/final.mp4" {
		t.Errorf("poster tool calls = %v", tool.inputs)
	}
	if len(results) != 1 || results[0].SourceWidth != 120 || results[0].Width > 60 {
		t.Errorf("results = %+v", results)
	}
}

func TestVideoGeneratorSupports(t *testing.T) {
	gen := NewVideoGenerator(&posterRecorder{})

	tests := []struct {
		mimeType string
		want     bool
	}{
		{"video/mp4", true},
		{"video/quicktime", true},
		{"video/webm", true},
		{"image/jpeg", false},
		{"application/pdf", false},
	}

	for _, tt := range tests {
		t.Run(tt.mimeType, func(t *testing.T) {
			if got := gen.Supports(tt.mimeType); got != tt.want {
				t.Errorf("Supports(%s) = %v, want %v", tt.mimeType, got, tt.want)
			}
		})
	}
}

func TestSupportedMimeTypes(t *testing.T) {
	types := SupportedMimeTypes()

	if len(types) == 0 {
		t.Error("SupportedMimeTypes returned empty list")
	}

	requiredTypes := []string{"image/jpeg", "image/png", "video/mp4"}
	for _, required := range requiredTypes {
		found := false
		for _, supported := range types {
			if supported == required {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("required MIME type %s not in supported list", required)
		}
	}
}

// TestVideoGeneratorWithRenderedClip animates a still into a short clip and
// previews it. Skipped when ffmpeg is not installed.
func TestVideoGeneratorWithRenderedClip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping ffmpeg test in short mode")
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}

	tmp := t.TempDir()
	stillPath := filepath.Join(tmp, "seed.png")
	if err := Render(160, 120, "clip").Save(stillPath); err != nil {
		t.Fatalf("save seed: %v", err)
	}

	ff := converters.NewFFmpeg()
	gen := NewVideoGenerator(ff)
	clip := filepath.Join(tmp, "clip.mp4")
	ctx := context.Background()
	if err := ff.AnimateStill(ctx, stillPath, clip, 1, 10, 160, 120); err != nil {
		t.Fatalf("AnimateStill: %v", err)
	}

	results, err := gen.Generate(ctx, clip, filepath.Join(tmp, "clip.mp4"), []PreviewSpec{{Name: "test", Width: 64, Height: 64}})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	info, err := os.Stat(results[0].Path)
	if err != nil {
		t.Fatalf("preview not created: %v", err)
	}
	if info.Size() == 0 {
		t.Errorf("preview is empty")
	}
	if results[0].Width > 64 || results[0].Height > 64 {
		t.Errorf("preview exceeds box: %dx%d", results[0].Width, results[0].Height)
	}
}
