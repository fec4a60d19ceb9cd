// Package assemble joins ordered clips into one video, trimming the duplicated
// seam frame between chained segments and optionally inserting crossfades.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/RhythrosaLabs/loom/internal/converters"
	"github.com/RhythrosaLabs/loom/internal/process"
)

const (
	DefaultTrimFrames = 1
	DefaultFPS        = 30
)

// Toolkit is the part of the media toolkit the assembler needs.
type Toolkit interface {
	Probe(ctx context.Context, input string) (*converters.MediaInfo, error)
	Normalize(ctx context.Context, input, output string, opts converters.NormalizeOptions) error
	Crossfade(ctx context.Context, a, b, output string, aStart, dur float64, fps int) error
	Concat(ctx context.Context, inputs []string, output string, fps int) error
}

// Request is one assembly job.
type Request struct {
	Segments []string
	// Crossfade is the transition length in seconds; 0 disables transitions.
	Crossfade float64
	Output    string
}

// Skipped is a segment dropped by validation.
type Skipped struct {
	Path   string
	Reason string
}

// Piece is one clip of the final timeline.
type Piece struct {
	Source     string // segment path, or "" for a transition
	Transition bool
	Duration   float64 // seconds
}

// Result describes the assembled output.
type Result struct {
	Output   string
	Duration float64 // sum of piece durations
	FPS      int
	Timeline []Piece
	Skipped  []Skipped
}

// Transitions counts the crossfade clips in the timeline.
func (r *Result) Transitions() int {
	n := 0
	for _, p := range r.Timeline {
		if p.Transition {
			n++
		}
	}
	return n
}

type Assembler struct {
	Tools      Toolkit
	TrimFrames int
	// FallbackFPS is used when a segment's frame rate cannot be probed.
	FallbackFPS int
	// TempDir is the parent of the private working directory; empty means os.TempDir().
	TempDir string
	Logger  *slog.Logger
}

func New(tools Toolkit, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{Tools: tools, TrimFrames: DefaultTrimFrames, FallbackFPS: DefaultFPS, Logger: logger}
}

func (a *Assembler) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

type validSegment struct {
	path string
	info *converters.MediaInfo
	fps  float64
	keep float64
}

func (a *Assembler) validate(ctx context.Context, paths []string) ([]validSegment, []Skipped, error) {
	fallback := float64(a.FallbackFPS)
	if fallback <= 0 {
		fallback = DefaultFPS
	}

	var (
		valid   []validSegment
		skipped []Skipped
	)
	for _, p := range paths {
		reason := ""
		var info *converters.MediaInfo

		fi, err := os.Stat(p)
		switch {
		case err != nil:
			reason = err.Error()
		case fi.IsDir():
			reason = "is a directory"
		case fi.Size() == 0:
			reason = "empty file"
		default:
			info, err = a.Tools.Probe(ctx, p)
			switch {
			case err != nil:
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, nil, ctxErr
				}
				reason = fmt.Sprintf("probe: %v", err)
			case !info.HasVideo:
				reason = "no video stream"
			case info.Duration <= 0:
				reason = fmt.Sprintf("non-positive duration %.3f", info.Duration)
			}
		}

		if reason != "" {
			a.logger().Warn("skipping invalid segment", "path", p, "reason", reason)
			skipped = append(skipped, Skipped{Path: p, Reason: reason})
			continue
		}

		fps := info.FrameRate
		if fps <= 0 {
			fps = fallback
		}
		valid = append(valid, validSegment{path: p, info: info, fps: fps, keep: info.Duration})
	}
	return valid, skipped, nil
}

// Assemble validates req.Segments, trims every valid segment but the last by
// TrimFrames frames of the common output rate, optionally builds crossfade clips
// between neighbours and concatenates everything into req.Output. The output
// duration is the sum of the trimmed durations plus the transition durations.
// With no valid segment it returns process.ErrNoValidSegments and writes
// nothing.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*Result, error) {
	if req.Output == "" {
		return nil, errors.New("assemble: output path is required")
	}
	if req.Crossfade < 0 {
		return nil, fmt.Errorf("assemble: negative crossfade %.3f", req.Crossfade)
	}

	valid, skipped, err := a.validate(ctx, req.Segments)
	if err != nil {
		return nil, err
	}
	if len(valid) == 0 {
		return nil, process.ErrNoValidSegments
	}

	fps := int(math.Round(valid[0].fps))
	if fps <= 0 {
		fps = DefaultFPS
	}
	width, height := valid[0].info.Width, valid[0].info.Height
	width -= width % 2
	height -= height % 2

	// Every clip is re-encoded at fps, so durations live on that frame grid
	// and the seam trim is one output frame.
	trim := a.TrimFrames
	if trim < 0 {
		trim = 0
	}
	for i := range valid {
		frames := math.Round(valid[i].info.Duration * float64(fps))
		if frames < 1 {
			frames = 1
		}
		valid[i].keep = frames / float64(fps)
		if i == len(valid)-1 || trim == 0 {
			continue
		}
		if float64(trim) >= frames {
			a.logger().Warn("segment shorter than seam trim, keeping it whole", "path", valid[i].path)
			continue
		}
		valid[i].keep = (frames - float64(trim)) / float64(fps)
	}

	work, err := os.MkdirTemp(a.TempDir, "loom-assemble-*")
	if err != nil {
		return nil, &process.AssemblyError{Stage: "workdir", Err: err}
	}
	defer os.RemoveAll(work)

	normalized := make([]string, len(valid))
	for i, seg := range valid {
		out := filepath.Join(work, fmt.Sprintf("norm-%03d.mp4", i))
		opts := converters.NormalizeOptions{FPS: fps, Width: width, Height: height}
		if i < len(valid)-1 {
			opts.Duration = seg.keep
		}
		if err := a.Tools.Normalize(ctx, seg.path, out, opts); err != nil {
			return nil, a.fail(ctx, "normalize", fmt.Errorf("segment %s: %w", seg.path, err))
		}
		normalized[i] = out
	}

	res := &Result{Output: req.Output, FPS: fps, Skipped: skipped}
	var inputs []string
	for i, seg := range valid {
		inputs = append(inputs, normalized[i])
		res.Timeline = append(res.Timeline, Piece{Source: seg.path, Duration: seg.keep})

		if req.Crossfade <= 0 || i == len(valid)-1 {
			continue
		}
		next := valid[i+1]
		d := math.Min(req.Crossfade, math.Min(seg.keep, next.keep))
		if d < req.Crossfade {
			a.logger().Warn("crossfade clamped to neighbour length",
				"between", fmt.Sprintf("%d-%d", i, i+1), "requested", req.Crossfade, "used", d)
		}
		out := filepath.Join(work, fmt.Sprintf("xfade-%03d.mp4", i))
		if err := a.Tools.Crossfade(ctx, normalized[i], normalized[i+1], out, seg.keep-d, d, fps); err != nil {
			return nil, a.fail(ctx, "crossfade", fmt.Errorf("segments %d-%d: %w", i, i+1, err))
		}
		inputs = append(inputs, out)
		res.Timeline = append(res.Timeline, Piece{Transition: true, Duration: d})
	}

	if err := os.MkdirAll(filepath.Dir(req.Output), 0o755); err != nil {
		return nil, &process.AssemblyError{Stage: "output", Err: err}
	}
	ext := filepath.Ext(req.Output)
	if ext == "" {
		ext = ".mp4"
	}
	part := filepath.Join(work, "joined"+ext)
	if err := a.Tools.Concat(ctx, inputs, part, fps); err != nil {
		return nil, a.fail(ctx, "concat", err)
	}
	if err := moveFile(part, req.Output); err != nil {
		return nil, &process.AssemblyError{Stage: "output", Err: err}
	}

	for _, p := range res.Timeline {
		res.Duration += p.Duration
	}
	a.logger().Info("assembled",
		"output", req.Output,
		"segments", len(valid),
		"skipped", len(skipped),
		"transitions", res.Transitions(),
		"duration", res.Duration,
	)
	return res, nil
}

func (a *Assembler) fail(ctx context.Context, stage string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &process.AssemblyError{Stage: stage, Err: err}
}

// moveFile renames src to dst, copying when they sit on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("copy to %s: %w", tmp, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	return os.Rename(tmp, dst)
}
