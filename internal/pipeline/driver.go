package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/RhythrosaLabs/loom/internal/assemble"
	"github.com/RhythrosaLabs/loom/internal/bundle"
	"github.com/RhythrosaLabs/loom/internal/bus"
	"github.com/RhythrosaLabs/loom/internal/chain"
	"github.com/RhythrosaLabs/loom/internal/img"
	"github.com/RhythrosaLabs/loom/internal/process"
	"github.com/RhythrosaLabs/loom/internal/remote"
	"github.com/RhythrosaLabs/loom/internal/runstate"
	"github.com/RhythrosaLabs/loom/internal/store"
	"github.com/RhythrosaLabs/loom/pkg/schema"
)

const (
	DefaultSegments        = 3
	DefaultFinalizeTimeout = 2 * time.Minute
	DefaultSeedTimeout     = time.Minute
	BundleName             = "bundle.zip"
	FinalName              = "final.mp4"
	SeedName               = "seed.png"
)

// SourceFetcher downloads stored content, such as an uploaded seed image.
type SourceFetcher interface {
	FetchSource(ctx context.Context, ref string) (*store.Source, func() error, error)
}

// Driver executes runs. Its fields are shared configuration; everything that
// belongs to a single run lives on Run.
type Driver struct {
	Client    remote.Client
	Poller    *remote.Poller
	Frames    chain.FrameSource
	Assembler *assemble.Assembler
	Store     store.Store

	// Optional collaborators.
	Sources       SourceFetcher
	Recorder      runstate.Recorder
	Events        bus.Publisher
	ResultSubject string
	Previewer     func(mimeType string) (img.Generator, error)
	// HTTP fetches http(s) seeds; nil means a client that only dials public
	// addresses.
	HTTP *http.Client

	WorkRoot        string
	DefaultSegments int
	Previews        []img.PreviewSpec
	// FinalizeTimeout bounds assembly and upload after the run context was
	// cancelled mid-chain.
	FinalizeTimeout time.Duration
	KeepWorkDir     bool
	Logger          *slog.Logger
}

func (d *Driver) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Execute runs req to completion and returns its final status. The error is
// non-nil only when the run failed outright; truncated runs that still
// produced output report RunPartial with a nil error.
func (d *Driver) Execute(ctx context.Context, req schema.RunRequest) (*schema.RunDone, error) {
	root := d.WorkRoot
	if root == "" {
		root = os.TempDir()
	}
	run, err := NewRun(req, root, d.logger())
	if err != nil {
		return nil, err
	}
	defer func() {
		if d.KeepWorkDir {
			return
		}
		if err := run.Close(); err != nil {
			run.Logger.Warn("cleanup failed", "dir", run.Dir, "err", err)
		}
	}()
	return d.execute(ctx, run)
}

func (d *Driver) execute(ctx context.Context, run *Run) (*schema.RunDone, error) {
	req := &run.Request
	run.mu.Lock()
	run.requested = req.SegmentCount(d.defaultSegments())
	run.mu.Unlock()
	run.Logger.Info("run started", "segments", run.requested)
	run.setStatus(schema.RunRunning)

	if err := req.Validate(); err != nil {
		return d.finish(run, &process.ValidationError{Err: err})
	}
	if err := d.checkSupport(req.Mode); err != nil {
		return d.finish(run, err)
	}
	run.dest = d.Store
	if sc, ok := d.Store.(store.Scoper); ok && req.SeedContentID != "" {
		scoped, err := sc.Scope(req.SeedContentID)
		if err != nil {
			return d.finish(run, &process.ValidationError{Err: err})
		}
		run.dest = scoped
	}
	d.stage(run, schema.StageValidation, nil, nil)

	d.stage(run, schema.StageSeed, nil, nil)
	seed, err := d.seed(ctx, run)
	if err != nil {
		return d.finish(run, fmt.Errorf("seed: %w", err))
	}
	if err := d.putStill(ctx, run, SeedName, "seed", seed); err != nil {
		return d.finish(run, err)
	}
	d.previewStill(ctx, run, SeedName, seed)

	if req.Mode == schema.ModeImage {
		d.bundle(ctx, run)
		return d.finish(run, nil)
	}

	segments, chainErr := d.chain(ctx, run, seed)
	if len(segments) == 0 {
		return d.finish(run, chainErr)
	}
	if chainErr != nil {
		run.mu.Lock()
		run.truncated = true
		run.mu.Unlock()
		run.Logger.Warn("run truncated", "completed", len(segments), "requested", run.requested, "err", chainErr)
	}

	finalCtx := ctx
	if ctx.Err() != nil {
		timeout := d.FinalizeTimeout
		if timeout <= 0 {
			timeout = DefaultFinalizeTimeout
		}
		var cancel context.CancelFunc
		finalCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
	}

	if err := d.assemble(finalCtx, run, segments); err != nil {
		return d.finish(run, err)
	}
	if err := d.storeSegments(finalCtx, run, segments); err != nil {
		return d.finish(run, err)
	}
	d.bundle(finalCtx, run)
	return d.finish(run, nil)
}

func (d *Driver) defaultSegments() int {
	if d.DefaultSegments > 0 {
		return d.DefaultSegments
	}
	return DefaultSegments
}

func (d *Driver) checkSupport(mode schema.Mode) error {
	switch mode {
	case schema.ModeImage:
		return remote.Check(d.Client, process.KindImage)
	case schema.ModeTextToVideo:
		if err := remote.Check(d.Client, process.KindImage); err != nil {
			return err
		}
		return remote.Check(d.Client, process.KindVideo)
	case schema.ModeImageToVideo:
		return remote.Check(d.Client, process.KindVideo)
	}
	return process.Unsupported(d.Client.Name(), mode)
}

// stage records a lifecycle event, publishes it and saves a snapshot.
func (d *Driver) stage(run *Run, stage schema.RunStage, segment *int, err error) {
	ev := run.AddLifecycleEvent(stage, segment, err)
	if d.Events != nil && d.ResultSubject != "" {
		if perr := d.Events.PublishJSON(bus.LifecycleSubject(d.ResultSubject), ev); perr != nil {
			run.Logger.Error("publish lifecycle event failed", "stage", stage, "err", perr)
		}
	}
	d.record(run)
}

func (d *Driver) record(run *Run) {
	if d.Recorder == nil {
		return
	}
	if err := d.Recorder.Save(context.Background(), run.Snapshot()); err != nil {
		run.Logger.Warn("save run state failed", "err", err)
	}
}

// finish closes the run with cause (nil on success) and publishes the result.
func (d *Driver) finish(run *Run, cause error) (*schema.RunDone, error) {
	if cause != nil {
		run.fail(cause)
		run.Logger.Error("run failed", "err", cause, "failure_type", process.Classify(cause))
		d.stage(run, schema.StageFailed, nil, cause)
	} else {
		run.mu.Lock()
		if run.truncated {
			run.status = schema.RunPartial
		} else {
			run.status = schema.RunSucceeded
		}
		run.mu.Unlock()
		d.stage(run, schema.StageCompleted, nil, nil)
		run.Logger.Info("run completed", "status", run.Status(), "artifacts", len(run.Artifacts()), "processing_time_ms", run.GetProcessingDuration())
	}

	done := run.Snapshot()
	if d.Events != nil && d.ResultSubject != "" {
		if err := d.Events.PublishJSON(d.ResultSubject, done); err != nil {
			run.Logger.Error("publish result failed", "subject", d.ResultSubject, "err", err)
		}
	}
	return done, cause
}

func (d *Driver) seed(ctx context.Context, run *Run) (*img.Still, error) {
	req := run.Request
	switch {
	case req.Mode != schema.ModeImageToVideo:
		return d.generateImage(ctx, run, req.Prompt)
	case req.SeedContentID != "":
		if d.Sources == nil {
			return nil, errors.New("no content source configured")
		}
		src, cleanup, err := d.Sources.FetchSource(ctx, req.SeedContentID)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := cleanup(); err != nil {
				run.Logger.Warn("cleanup failed", "err", err)
			}
		}()
		if src.MimeType != "" && !strings.HasPrefix(src.MimeType, "image/") {
			return nil, fmt.Errorf("seed content is %s, not an image", src.MimeType)
		}
		return img.Open(src.Path)
	default:
		return d.loadSeed(ctx, run, req.SeedImage)
	}
}

// loadSeed reads a seed given as a data URL or an http(s) URL.
func (d *Driver) loadSeed(ctx context.Context, run *Run, ref string) (*img.Still, error) {
	if err := schema.CheckSeedRef(ref); err != nil {
		return nil, &process.ValidationError{Err: err}
	}
	if strings.HasPrefix(ref, "data:") {
		i := strings.Index(ref, ",")
		if i < 0 || !strings.Contains(ref[:i], ";base64") {
			return nil, errors.New("seed data URL must be base64")
		}
		raw, err := base64.StdEncoding.DecodeString(ref[i+1:])
		if err != nil {
			return nil, fmt.Errorf("decode seed data URL: %w", err)
		}
		return img.Decode(bytes.NewReader(raw))
	}
	dst := filepath.Join(run.Dir, "seed-source")
	if err := remote.Download(ctx, d.seedClient(), ref, dst); err != nil {
		return nil, err
	}
	return img.Open(dst)
}

func (d *Driver) seedClient() *http.Client {
	if d.HTTP != nil {
		return d.HTTP
	}
	return remote.NewPublicHTTPClient(DefaultSeedTimeout)
}

// generateImage runs a text-to-image job through the backend.
func (d *Driver) generateImage(ctx context.Context, run *Run, prompt string) (*img.Still, error) {
	job, err := d.Client.Submit(ctx, remote.Request{Kind: process.KindImage, Prompt: prompt, Params: run.Request.Params})
	if err != nil {
		return nil, err
	}
	run.Logger.Info("image submitted", "job_id", job.ID)

	ref := job.ArtifactRef
	if job.State != process.JobCompleted {
		if ref, err = d.poller().Await(ctx, job); err != nil {
			return nil, err
		}
	}
	dst := filepath.Join(run.Dir, "generated.img")
	if err := d.Client.Download(ctx, ref, dst); err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	return img.Open(dst)
}

func (d *Driver) poller() *remote.Poller {
	if d.Poller != nil {
		return d.Poller
	}
	return &remote.Poller{Client: d.Client, Logger: d.Logger}
}

func (d *Driver) chain(ctx context.Context, run *Run, seed *img.Still) ([]*process.Segment, error) {
	req := run.Request
	var tracked []*process.Segment
	c := &chain.Chainer{
		Client: d.Client,
		Poller: d.poller(),
		Frames: d.Frames,
		Dir:    filepath.Join(run.Dir, "segments"),
		ParamsFor: func(i int) chain.Params {
			return chain.Params{Prompt: req.PromptFor(i), Options: req.Params}
		},
		Observe: func(seg *process.Segment) {
			if seg.Index >= len(tracked) {
				tracked = append(tracked, seg)
				run.setSegments(append([]*process.Segment(nil), tracked...))
			}
			idx := seg.Index
			var err error
			if seg.State == process.SegmentFailed || seg.Err != nil {
				err = seg.Err
			}
			d.stage(run, schema.StageSegment, &idx, err)
		},
		Logger: run.Logger,
	}

	segments, err := c.Run(ctx, seed, run.requested)
	run.setSegments(tracked)
	return segments, err
}

func (d *Driver) assemble(ctx context.Context, run *Run, segments []*process.Segment) error {
	d.stage(run, schema.StageAssembly, nil, nil)

	paths := make([]string, len(segments))
	for i, seg := range segments {
		paths[i] = seg.LocalPath
	}
	out := filepath.Join(run.Dir, FinalName)
	res, err := d.Assembler.Assemble(ctx, assemble.Request{
		Segments:  paths,
		Crossfade: run.Request.CrossfadeSeconds,
		Output:    out,
	})
	if err != nil {
		return err
	}

	run.mu.Lock()
	for _, p := range res.Timeline {
		for _, seg := range segments {
			if !p.Transition && p.Source == seg.LocalPath {
				run.durations[seg.Index] = p.Duration
			}
		}
	}
	run.mu.Unlock()

	d.stage(run, schema.StageUpload, nil, nil)
	ref, err := d.putFile(ctx, run, FinalName, "final", out, "video/mp4")
	if err != nil {
		return err
	}
	run.mu.Lock()
	run.final = ref
	run.mu.Unlock()
	d.previewFile(ctx, run, FinalName, out, "video/mp4")
	return nil
}

func (d *Driver) storeSegments(ctx context.Context, run *Run, segments []*process.Segment) error {
	for _, seg := range segments {
		if _, err := d.putFile(ctx, run, segmentName(seg.Index), "segment", seg.LocalPath, "video/mp4"); err != nil {
			return err
		}
		if seg.LastFrame != nil {
			if err := d.putStill(ctx, run, frameName(seg.Index), "frame", seg.LastFrame); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Driver) key(run *Run, name string) string {
	return path.Join("runs", run.ID, name)
}

func (d *Driver) putStill(ctx context.Context, run *Run, name, role string, s *img.Still) error {
	p := filepath.Join(run.Dir, name)
	if err := s.Save(p); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	_, err := d.putFile(ctx, run, name, role, p, "image/png")
	return err
}

func (d *Driver) putFile(ctx context.Context, run *Run, name, role, p, mimeType string) (string, error) {
	fi, err := os.Stat(p)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", name, err)
	}
	ref, err := store.PutFile(ctx, run.dest, d.key(run, name), p, mimeType)
	if err != nil {
		return "", fmt.Errorf("store %s: %w", name, err)
	}
	run.addArtifact(schema.Artifact{Name: name, Ref: ref, MimeType: mimeType, Size: fi.Size(), Role: role, Path: p})
	run.Logger.Info("artifact stored", "name", name, "ref", ref, "size", fi.Size())
	return ref, nil
}

func (d *Driver) previewSpecs() []img.PreviewSpec {
	if d.Previews != nil {
		return d.Previews
	}
	return img.DefaultPreviewSpecs
}

// previewStill stores scaled copies of a still. Failures only cost the previews.
func (d *Driver) previewStill(ctx context.Context, run *Run, name string, s *img.Still) {
	outs, err := img.GeneratePreviews(s, filepath.Join(run.Dir, "previews", name), d.previewSpecs())
	if err != nil {
		run.Logger.Warn("preview generation failed", "name", name, "err", err)
		return
	}
	d.storePreviews(ctx, run, outs)
}

func (d *Driver) previewFile(ctx context.Context, run *Run, name, src, mimeType string) {
	if d.Previewer == nil {
		return
	}
	gen, err := d.Previewer(mimeType)
	if err != nil {
		run.Logger.Warn("no preview generator", "mime_type", mimeType, "err", err)
		return
	}
	outs, err := gen.Generate(ctx, src, filepath.Join(run.Dir, "previews", name), d.previewSpecs())
	if err != nil {
		run.Logger.Warn("preview generation failed", "name", name, "generator", gen.Name(), "err", err)
		return
	}
	d.storePreviews(ctx, run, outs)
}

func (d *Driver) storePreviews(ctx context.Context, run *Run, outs []img.PreviewOutput) {
	for _, o := range outs {
		name := filepath.Base(o.Path)
		if _, err := d.putFile(ctx, run, name, "preview", o.Path, ""); err != nil {
			run.Logger.Warn("store preview failed", "name", name, "err", err)
		}
	}
}

// bundle zips every stored artifact, in production order, and stores the archive.
func (d *Driver) bundle(ctx context.Context, run *Run) {
	arts := run.Artifacts()
	entries := make([]bundle.Entry, 0, len(arts))
	for _, a := range arts {
		entries = append(entries, bundle.Entry{Name: a.Name, MimeType: a.MimeType, Role: a.Role, Path: a.Path})
	}
	p := filepath.Join(run.Dir, BundleName)
	if _, err := bundle.WriteFile(p, run.ID, entries); err != nil {
		run.Logger.Warn("bundle failed", "err", err)
		return
	}
	if _, err := d.putFile(ctx, run, BundleName, "bundle", p, "application/zip"); err != nil {
		run.Logger.Warn("store bundle failed", "err", err)
	}
}
