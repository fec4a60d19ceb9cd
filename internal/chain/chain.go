// Package chain animates a seed still into a sequence of clips, feeding the
// last frame of each clip in as the seed of the next.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/RhythrosaLabs/loom/internal/img"
	"github.com/RhythrosaLabs/loom/internal/process"
	"github.com/RhythrosaLabs/loom/internal/remote"
)

// FrameSource extracts the still that seeds the next segment.
type FrameSource interface {
	LastFrame(ctx context.Context, path string) (*img.Still, error)
}

// Params are the animation settings for one segment.
type Params struct {
	Prompt  string
	Options map[string]string
}

// Constant returns a ParamsFor that uses p for every segment.
func Constant(p Params) func(int) Params {
	return func(int) Params { return p }
}

// Observer is told about every segment state change.
type Observer func(seg *process.Segment)

// Chainer runs the submit, await, download, extract loop.
type Chainer struct {
	Client remote.Client
	Poller *remote.Poller
	Frames FrameSource
	// Dir receives the downloaded clips.
	Dir       string
	ParamsFor func(i int) Params
	Observe   Observer
	Logger    *slog.Logger
}

func (c *Chainer) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Chainer) notify(seg *process.Segment) {
	if c.Observe != nil {
		c.Observe(seg)
	}
}

// SegmentPath is where segment i is downloaded to.
func SegmentPath(dir string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("segment-%03d.mp4", i))
}

// Run produces up to n segments starting from seed. It returns the longest
// prefix of segments whose clips were downloaded, in index order, and the
// error that stopped the chain (nil when all n succeeded). A segment whose
// clip is present but whose last frame could not be extracted is still part
// of the prefix; it is the last one.
func (c *Chainer) Run(ctx context.Context, seed *img.Still, n int) ([]*process.Segment, error) {
	if n < 1 {
		return nil, fmt.Errorf("segment count must be at least 1, got %d", n)
	}
	if seed == nil {
		return nil, errors.New("seed image is required")
	}
	if err := remote.Check(c.Client, process.KindVideo); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}

	done := make([]*process.Segment, 0, n)
	current := seed
	for i := 0; i < n; i++ {
		seg := process.NewSegment(i, current)
		logger := c.logger().With("segment", i)

		if err := c.produce(ctx, seg, logger); err != nil {
			seg.Fail(err)
			c.notify(seg)
			logger.Warn("chain stopped", "err", err)
			return done, fmt.Errorf("segment %d: %w", i, err)
		}
		done = append(done, seg)

		if i == n-1 {
			break
		}

		frame, err := c.Frames.LastFrame(ctx, seg.LocalPath)
		if err != nil {
			seg.Err = err
			c.notify(seg)
			logger.Warn("chain stopped at frame extraction", "err", err)
			return done, fmt.Errorf("segment %d: %w", i, err)
		}
		seg.LastFrame = frame
		seg.State = process.SegmentFrameExtracted
		c.notify(seg)
		current = frame
	}
	return done, nil
}

func (c *Chainer) produce(ctx context.Context, seg *process.Segment, logger *slog.Logger) error {
	var p Params
	if c.ParamsFor != nil {
		p = c.ParamsFor(seg.Index)
	}

	job, err := c.Client.Submit(ctx, remote.Request{
		Kind:   process.KindVideo,
		Prompt: p.Prompt,
		Image:  seg.SourceImage,
		Params: p.Options,
	})
	if err != nil {
		return err
	}
	seg.Job = job
	seg.State = process.SegmentSubmitted
	c.notify(seg)
	logger.Info("segment submitted", "job_id", job.ID)

	ref, err := c.Poller.Await(ctx, job)
	if err != nil {
		return err
	}

	dst := SegmentPath(c.Dir, seg.Index)
	if err := c.Client.Download(ctx, ref, dst); err != nil {
		_ = os.Remove(dst)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("download: %w", err)
	}
	seg.LocalPath = dst
	seg.State = process.SegmentCompleted
	c.notify(seg)
	logger.Info("segment downloaded", "path", dst)
	return nil
}
