package schema

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Mode string

const (
	ModeImage        Mode = "image"
	ModeImageToVideo Mode = "image-to-video"
	ModeTextToVideo  Mode = "text-to-video"
)

// RunRequest asks a worker to execute one generation pipeline.
type RunRequest struct {
	RunID            string            `json:"run_id,omitempty" validate:"omitempty,uuid"`
	Mode             Mode              `json:"mode" validate:"required,oneof=image image-to-video text-to-video"`
	Prompt           string            `json:"prompt" validate:"required_unless=Mode image-to-video,max=4000"`
	SegmentPrompts   []string          `json:"segment_prompts,omitempty" validate:"omitempty,dive,max=4000"`
	SeedImage        string            `json:"seed_image,omitempty"`
	SeedContentID    string            `json:"seed_content_id,omitempty" validate:"omitempty,uuid"`
	Segments         int               `json:"segments,omitempty" validate:"omitempty,min=1,max=20"`
	CrossfadeSeconds float64           `json:"crossfade_seconds,omitempty" validate:"gte=0,lte=5"`
	Params           map[string]string `json:"params,omitempty"`
	RequestedAt      int64             `json:"requested_at,omitempty"`
}

var validate = validator.New()

// Validate checks the request against its struct tags.
func (r *RunRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid run request: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid run request: %w", err)
	}
	if r.Mode == ModeImageToVideo && r.SeedImage == "" && r.SeedContentID == "" {
		return errors.New("invalid run request: image-to-video needs seed_image or seed_content_id")
	}
	if r.SeedImage != "" {
		if err := CheckSeedRef(r.SeedImage); err != nil {
			return fmt.Errorf("invalid run request: %w", err)
		}
	}
	return nil
}

// CheckSeedRef accepts base64 image data URLs and absolute http(s) URLs.
// Local paths and file URLs never reach a worker; trusted callers inline
// them as data URLs first.
func CheckSeedRef(ref string) error {
	if strings.HasPrefix(ref, "data:") {
		i := strings.Index(ref, ",")
		if i < 0 || !strings.HasPrefix(ref, "data:image/") || !strings.Contains(ref[:i], ";base64") {
			return errors.New("seed_image data URL must be a base64 image")
		}
		return nil
	}
	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("seed_image must be a data URL or an http(s) URL, got %q", truncate(ref, 64))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// SegmentCount is the number of chained segments a video run asks for.
func (r *RunRequest) SegmentCount(def int) int {
	if r.Mode == ModeImage {
		return 0
	}
	if r.Segments > 0 {
		return r.Segments
	}
	if def < 1 {
		def = 1
	}
	return def
}

// PromptFor returns the prompt for segment i, falling back to Prompt.
func (r *RunRequest) PromptFor(i int) string {
	if i >= 0 && i < len(r.SegmentPrompts) && r.SegmentPrompts[i] != "" {
		return r.SegmentPrompts[i]
	}
	return r.Prompt
}
