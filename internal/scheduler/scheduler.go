// Package scheduler runs automation tasks on a fixed interval. The task list
// is owned by the loop goroutine; callers talk to it through channels, and
// only the loop flips a task's completion flag.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RhythrosaLabs/loom/internal/img"
	"github.com/RhythrosaLabs/loom/pkg/schema"
)

const DefaultInterval = 30 * time.Second

var ErrStopped = errors.New("scheduler: not running")

// Task is one scheduled run.
type Task struct {
	ID        string            `json:"id"`
	At        time.Time         `json:"at"`
	Request   schema.RunRequest `json:"request"`
	Running   bool              `json:"running"`
	Completed bool              `json:"completed"`
	Err       string            `json:"error,omitempty"`
}

// Executor performs a task. It runs on its own goroutine.
type Executor func(ctx context.Context, t Task) error

type outcome struct {
	id  string
	err error
}

type Scheduler struct {
	interval time.Duration
	exec     Executor
	logger   *slog.Logger
	now      func() time.Time

	add     chan Task
	snap    chan chan []Task
	results chan outcome
	stopped chan struct{}
}

func New(interval time.Duration, exec Executor, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		interval: interval,
		exec:     exec,
		logger:   logger,
		now:      time.Now,
		add:      make(chan Task),
		snap:     make(chan chan []Task),
		results:  make(chan outcome),
		stopped:  make(chan struct{}),
	}
}

// Add queues t. A zero At means due immediately.
func (s *Scheduler) Add(ctx context.Context, t Task) error {
	select {
	case s.add <- t:
		return nil
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the task list.
func (s *Scheduler) Snapshot(ctx context.Context) ([]Task, error) {
	reply := make(chan []Task, 1)
	select {
	case s.snap <- reply:
	case <-s.stopped:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case tasks := <-reply:
		return tasks, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run owns the task list until ctx is done, then waits for in-flight tasks.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.stopped)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var (
		tasks    []Task
		index    = map[string]int{}
		inflight int
	)

	for {
		select {
		case t := <-s.add:
			if t.ID == "" {
				t.ID = uuid.NewString()
			}
			if _, dup := index[t.ID]; dup {
				s.logger.Warn("ignoring duplicate task", "task_id", t.ID)
				continue
			}
			t.Running = false
			index[t.ID] = len(tasks)
			tasks = append(tasks, t)
			s.logger.Info("task added", "task_id", t.ID, "at", t.At, "completed", t.Completed)

		case reply := <-s.snap:
			reply <- append([]Task(nil), tasks...)

		case <-ticker.C:
			now := s.now()
			for i := range tasks {
				t := &tasks[i]
				if t.Running || t.Completed || t.At.After(now) {
					continue
				}
				t.Running = true
				inflight++
				s.logger.Info("task started", "task_id", t.ID)
				go s.execute(ctx, *t)
			}

		case o := <-s.results:
			inflight--
			i, ok := index[o.id]
			if !ok {
				continue
			}
			t := &tasks[i]
			t.Running = false
			t.Completed = true
			if o.err != nil {
				t.Err = o.err.Error()
				s.logger.Error("task failed", "task_id", t.ID, "err", o.err)
			} else {
				s.logger.Info("task completed", "task_id", t.ID)
			}

		case <-ctx.Done():
			for inflight > 0 {
				<-s.results
				inflight--
			}
			return ctx.Err()
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, t Task) {
	var err error
	if s.exec == nil {
		err = errors.New("scheduler: no executor")
	} else {
		err = s.exec(ctx, t)
	}
	s.results <- outcome{id: t.ID, err: err}
}

// LoadTasks reads a JSON array of tasks from path. Seed images given as local
// paths or file URLs, relative ones resolved against the schedule file, are
// read here and inlined as data URLs so workers never touch the filesystem
// on a request's behalf.
func LoadTasks(path string) ([]Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule: %w", err)
	}
	var tasks []Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	for i := range tasks {
		if err := inlineSeed(&tasks[i].Request, filepath.Dir(path)); err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		if err := tasks[i].Request.Validate(); err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
	}
	return tasks, nil
}

func inlineSeed(req *schema.RunRequest, base string) error {
	ref := req.SeedImage
	if ref == "" || strings.HasPrefix(ref, "data:") || strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return nil
	}
	p := strings.TrimPrefix(ref, "file://")
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	still, err := img.Open(p)
	if err != nil {
		return fmt.Errorf("read seed image: %w", err)
	}
	if req.SeedImage, err = still.DataURL(); err != nil {
		return fmt.Errorf("encode seed image: %w", err)
	}
	return nil
}
