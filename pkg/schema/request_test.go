package schema

import "testing"

func TestRunRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     RunRequest
		wantErr bool
	}{
		{name: "image", req: RunRequest{Mode: ModeImage, Prompt: "a red fox"}},
		{name: "text to video", req: RunRequest{Mode: ModeTextToVideo, Prompt: "waves", Segments: 3, CrossfadeSeconds: 0.5}},
		{name: "image to video with url", req: RunRequest{Mode: ModeImageToVideo, SeedImage: "https://cdn.example.com/seed.png"}},
		{name: "image to video with data url", req: RunRequest{Mode: ModeImageToVideo, SeedImage: "data:image/png;base64,iVBORw0KGgo="}},
		{name: "image to video with path", req: RunRequest{Mode: ModeImageToVideo, SeedImage: "/etc/passwd"}, wantErr: true},
		{name: "image to video with relative path", req: RunRequest{Mode: ModeImageToVideo, SeedImage: "seed.png"}, wantErr: true},
		{name: "image to video with file url", req: RunRequest{Mode: ModeImageToVideo, SeedImage: "file:///etc/passwd"}, wantErr: true},
		{name: "image to video with text data url", req: RunRequest{Mode: ModeImageToVideo, SeedImage: "data:text/plain;base64,aGk="}, wantErr: true},
		{name: "image to video with ftp url", req: RunRequest{Mode: ModeImageToVideo, SeedImage: "ftp://host/seed.png"}, wantErr: true},
		{name: "image to video with content", req: RunRequest{Mode: ModeImageToVideo, SeedContentID: "3f1c1f0e-8a64-4d4c-9d53-2f0d5a1b2c3d"}},
		{name: "image to video without seed", req: RunRequest{Mode: ModeImageToVideo, Prompt: "x"}, wantErr: true},
		{name: "missing prompt", req: RunRequest{Mode: ModeTextToVideo}, wantErr: true},
		{name: "unknown mode", req: RunRequest{Mode: "audio", Prompt: "x"}, wantErr: true},
		{name: "too many segments", req: RunRequest{Mode: ModeTextToVideo, Prompt: "x", Segments: 21}, wantErr: true},
		{name: "negative crossfade", req: RunRequest{Mode: ModeTextToVideo, Prompt: "x", CrossfadeSeconds: -1}, wantErr: true},
		{name: "bad run id", req: RunRequest{RunID: "nope", Mode: ModeImage, Prompt: "x"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSegmentCountAndPrompts(t *testing.T) {
	r := RunRequest{Mode: ModeTextToVideo, Prompt: "base", SegmentPrompts: []string{"", "second"}}
	if got := r.SegmentCount(3); got != 3 {
		t.Errorf("SegmentCount = %d", got)
	}
	r.Segments = 2
	if got := r.SegmentCount(3); got != 2 {
		t.Errorf("SegmentCount = %d", got)
	}
	if r.PromptFor(0) != "base" || r.PromptFor(1) != "second" || r.PromptFor(5) != "base" {
		t.Error("PromptFor fallback broken")
	}
	img := RunRequest{Mode: ModeImage}
	if img.SegmentCount(3) != 0 {
		t.Error("image runs have no segments")
	}
}
