// Package frames pulls stills out of finished clips.
package frames

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/RhythrosaLabs/loom/internal/converters"
	"github.com/RhythrosaLabs/loom/internal/img"
	"github.com/RhythrosaLabs/loom/internal/process"
)

// DefaultEpsilon is how far before the end of the stream the last frame is read.
const DefaultEpsilon = 0.05

// Toolkit is the part of the media toolkit the extractor needs.
type Toolkit interface {
	Probe(ctx context.Context, input string) (*converters.MediaInfo, error)
	ExtractFrameAt(ctx context.Context, input, output string, at float64) error
	ExtractTailFrame(ctx context.Context, input, output string) error
}

// Extractor reads the last frame of a clip into memory.
type Extractor struct {
	Tools   Toolkit
	Epsilon float64
	// TempDir holds the intermediate PNG; empty means os.TempDir().
	TempDir string
	Logger  *slog.Logger
}

func NewExtractor(tools Toolkit, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{Tools: tools, Epsilon: DefaultEpsilon, Logger: logger}
}

// LastFrame returns the frame shown just before the end of the clip at path.
// The returned still is fully decoded and independent of any file; the
// intermediate image is removed on every path. Failures are
// *process.ExtractionError.
func (e *Extractor) LastFrame(ctx context.Context, path string) (*img.Still, error) {
	still, err := e.lastFrame(ctx, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &process.ExtractionError{Path: path, Err: err}
	}
	return still, nil
}

func (e *Extractor) lastFrame(ctx context.Context, path string) (*img.Still, error) {
	info, err := e.Tools.Probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}
	if !info.HasVideo {
		return nil, errors.New("no video stream")
	}
	if info.Duration <= 0 {
		return nil, fmt.Errorf("non-positive duration %.3f", info.Duration)
	}

	eps := e.Epsilon
	if eps <= 0 {
		eps = DefaultEpsilon
	}
	at := info.Duration - eps
	if at < 0 {
		at = 0
	}

	tmp, err := os.CreateTemp(e.TempDir, "lastframe-*.png")
	if err != nil {
		return nil, fmt.Errorf("temp frame: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(tmpPath)

	if err := e.Tools.ExtractFrameAt(ctx, path, tmpPath, at); err != nil {
		return nil, fmt.Errorf("seek %.3fs: %w", at, err)
	}
	// ffmpeg exits cleanly without output when the seek lands past the last
	// decodable frame; fall back to keeping the final frame of the tail.
	if !nonEmpty(tmpPath) {
		e.logger().Warn("no frame at seek point, reading tail", "path", filepath.Base(path), "at", at)
		if err := e.Tools.ExtractTailFrame(ctx, path, tmpPath); err != nil {
			return nil, fmt.Errorf("tail frame: %w", err)
		}
		if !nonEmpty(tmpPath) {
			return nil, errors.New("no frame decoded")
		}
	}

	still, err := img.Open(tmpPath)
	if err != nil {
		return nil, err
	}
	return still, nil
}

func (e *Extractor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func nonEmpty(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Size() > 0
}
