package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/RhythrosaLabs/loom/internal/img"
	"github.com/RhythrosaLabs/loom/internal/process"
)

// Animator turns a still into a short clip.
type Animator interface {
	AnimateStill(ctx context.Context, still, output string, seconds float64, fps, width, height int) error
}

// SyntheticConfig tunes the offline backend.
type SyntheticConfig struct {
	// Dir receives rendered stills and clips.
	Dir string
	// PendingPolls is how many status queries report running before a job completes.
	PendingPolls int
	Width        int
	Height       int
	Seconds      float64
	FPS          int
}

type syntheticJob struct {
	kind    process.Kind
	polls   int
	seconds float64
	seed    string
	fail    string
	output  string
}

// SyntheticClient is an offline backend. Images are deterministic gradients
// rendered from the prompt; videos animate the seed with a slow zoom. Jobs
// report running for PendingPolls queries before completing. A request
// carrying Params["fail"] completes as failed with that reason.
type SyntheticClient struct {
	cfg     SyntheticConfig
	animate Animator

	mu   sync.Mutex
	jobs map[string]*syntheticJob
}

// NewSyntheticClient builds the offline backend. A nil animator limits it to images.
func NewSyntheticClient(cfg SyntheticConfig, animate Animator) (*SyntheticClient, error) {
	if cfg.Dir == "" {
		return nil, errors.New("synthetic: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("synthetic: mkdir: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 320, 240
	}
	if cfg.Seconds <= 0 {
		cfg.Seconds = 2
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 24
	}
	return &SyntheticClient{cfg: cfg, animate: animate, jobs: make(map[string]*syntheticJob)}, nil
}

func (s *SyntheticClient) Name() string { return "synthetic" }

func (s *SyntheticClient) Supports(kind process.Kind) bool {
	switch kind {
	case process.KindImage:
		return true
	case process.KindVideo:
		return s.animate != nil
	}
	return false
}

func (s *SyntheticClient) Submit(ctx context.Context, req Request) (*process.Job, error) {
	if err := Check(s, req.Kind); err != nil {
		return nil, err
	}
	if req.Kind == process.KindVideo && req.Image == nil {
		return nil, &process.SubmissionError{Backend: s.Name(), Err: errors.New("video generation needs a seed image")}
	}

	id := uuid.NewString()
	sj := &syntheticJob{kind: req.Kind, fail: req.Params["fail"], seconds: s.cfg.Seconds}
	if v, err := strconv.ParseFloat(req.Params["duration"], 64); err == nil && v > 0 {
		sj.seconds = v
	}

	switch req.Kind {
	case process.KindImage:
		sj.output = filepath.Join(s.cfg.Dir, id+".png")
		if err := img.Render(s.cfg.Width, s.cfg.Height, req.Prompt).Save(sj.output); err != nil {
			return nil, &process.SubmissionError{Backend: s.Name(), Err: err}
		}
	case process.KindVideo:
		sj.seed = filepath.Join(s.cfg.Dir, id+"-seed.png")
		if err := req.Image.Save(sj.seed); err != nil {
			return nil, &process.SubmissionError{Backend: s.Name(), Err: err}
		}
		sj.output = filepath.Join(s.cfg.Dir, id+".mp4")
	}

	s.mu.Lock()
	s.jobs[id] = sj
	s.mu.Unlock()

	return process.NewJob(req.Kind, id), nil
}

func (s *SyntheticClient) Status(ctx context.Context, job *process.Job) (Status, error) {
	var polls int
	s.mu.Lock()
	sj, ok := s.jobs[job.ID]
	if ok {
		sj.polls++
		polls = sj.polls
	}
	s.mu.Unlock()

	if !ok {
		return Status{}, fmt.Errorf("synthetic: unknown job %s", job.ID)
	}
	if polls <= s.cfg.PendingPolls {
		return Status{State: process.JobRunning}, nil
	}
	if sj.fail != "" {
		return Status{State: process.JobFailed, Reason: sj.fail}, nil
	}

	if sj.kind == process.KindVideo {
		if _, err := os.Stat(sj.output); err != nil {
			if err := s.animate.AnimateStill(ctx, sj.seed, sj.output, sj.seconds, s.cfg.FPS, s.cfg.Width, s.cfg.Height); err != nil {
				return Status{State: process.JobFailed, Reason: err.Error()}, nil
			}
		}
	}
	return Status{State: process.JobCompleted, ArtifactRef: "file://" + sj.output}, nil
}

func (s *SyntheticClient) Download(ctx context.Context, ref, dst string) error {
	return Download(ctx, nil, ref, dst)
}
