// Package pipeline drives one generation run end to end: seed, chained
// segments, assembly, previews, bundling and storage.
package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RhythrosaLabs/loom/internal/process"
	"github.com/RhythrosaLabs/loom/internal/store"
	"github.com/RhythrosaLabs/loom/pkg/schema"
)

// Run is everything one execution accumulates. The driver creates it, every
// stage receives it explicitly and the caller decides when it is dropped.
type Run struct {
	ID        string
	Request   schema.RunRequest
	Dir       string
	Logger    *slog.Logger
	StartTime time.Time

	// dest receives this run's artifacts.
	dest store.Store

	mu        sync.Mutex
	status    schema.RunStatus
	segments  []*process.Segment
	lifecycle []schema.RunLifecycleEvent
	artifacts []schema.Artifact
	final     string
	truncated bool
	err       error
	requested int
	durations map[int]float64
}

// NewRun assigns an id when the request carries none and creates the run's
// working directory under root.
func NewRun(req schema.RunRequest, root string, logger *slog.Logger) (*Run, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	dir := filepath.Join(root, req.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	return &Run{
		ID:        req.RunID,
		Request:   req,
		Dir:       dir,
		Logger:    logger.With("run_id", req.RunID, "mode", req.Mode),
		StartTime: time.Now(),
		status:    schema.RunQueued,
		durations: map[int]float64{},
	}, nil
}

// AddLifecycleEvent appends a stage event and returns it.
func (r *Run) AddLifecycleEvent(stage schema.RunStage, segment *int, err error) schema.RunLifecycleEvent {
	ev := schema.RunLifecycleEvent{
		RunID:        r.ID,
		Stage:        stage,
		SegmentIndex: segment,
		HappenedAt:   time.Now().Unix(),
	}
	if err != nil {
		ev.Error = err.Error()
		ev.FailureType = process.Classify(err)
	}
	r.mu.Lock()
	r.lifecycle = append(r.lifecycle, ev)
	r.mu.Unlock()
	return ev
}

func (r *Run) GetProcessingDuration() int64 {
	if r.StartTime.IsZero() {
		return 0
	}
	return time.Since(r.StartTime).Milliseconds()
}

func (r *Run) setStatus(s schema.RunStatus) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

func (r *Run) Status() schema.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Run) fail(err error) {
	r.mu.Lock()
	r.status = schema.RunFailed
	r.err = err
	r.mu.Unlock()
}

func (r *Run) setSegments(segs []*process.Segment) {
	r.mu.Lock()
	r.segments = segs
	r.mu.Unlock()
}

func (r *Run) addArtifact(a schema.Artifact) {
	r.mu.Lock()
	r.artifacts = append(r.artifacts, a)
	r.mu.Unlock()
}

// Artifacts returns the stored artifacts in the order they were produced.
func (r *Run) Artifacts() []schema.Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schema.Artifact(nil), r.artifacts...)
}

// Snapshot renders the run as its wire status.
func (r *Run) Snapshot() *schema.RunDone {
	r.mu.Lock()
	defer r.mu.Unlock()

	done := &schema.RunDone{
		RunID:            r.ID,
		Status:           r.status,
		Mode:             string(r.Request.Mode),
		RequestedCount:   r.requested,
		Artifacts:        append([]schema.Artifact(nil), r.artifacts...),
		FinalArtifact:    r.final,
		Truncated:        r.truncated,
		ProcessingTimeMs: r.GetProcessingDuration(),
		Lifecycle:        append([]schema.RunLifecycleEvent(nil), r.lifecycle...),
		HappenedAt:       time.Now().Unix(),
	}
	for _, seg := range r.segments {
		res := schema.SegmentResult{
			Index:        seg.Index,
			State:        string(seg.State),
			Artifact:     r.refFor(segmentName(seg.Index)),
			DurationSecs: r.durations[seg.Index],
		}
		if seg.Job != nil {
			res.JobID = seg.Job.ID
		}
		if seg.LastFrame != nil {
			res.LastFrame = r.refFor(frameName(seg.Index))
		}
		if seg.Err != nil {
			res.Error = seg.Err.Error()
		}
		done.Segments = append(done.Segments, res)
	}
	if r.err != nil {
		done.Error = r.err.Error()
		done.FailureType = process.Classify(r.err)
	}
	return done
}

func (r *Run) refFor(name string) string {
	for _, a := range r.artifacts {
		if a.Name == name {
			return a.Ref
		}
	}
	return ""
}

// Close removes the working directory.
func (r *Run) Close() error {
	return os.RemoveAll(r.Dir)
}

func segmentName(i int) string { return fmt.Sprintf("segment-%03d.mp4", i) }
func frameName(i int) string   { return fmt.Sprintf("frame-%03d.png", i) }
