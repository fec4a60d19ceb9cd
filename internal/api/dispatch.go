package api

import (
	"context"
	"log/slog"
	"sync"

	"github.com/RhythrosaLabs/loom/internal/bus"
	"github.com/RhythrosaLabs/loom/pkg/schema"
)

// BusDispatcher publishes accepted runs for workers to pick up.
type BusDispatcher struct {
	Bus     bus.Publisher
	Subject string
}

func (d *BusDispatcher) Dispatch(_ context.Context, req schema.RunRequest) error {
	return d.Bus.PublishJSON(d.Subject, req)
}

// Executor runs one request to completion.
type Executor interface {
	Execute(ctx context.Context, req schema.RunRequest) (*schema.RunDone, error)
}

// LocalDispatcher executes runs in this process, each on its own goroutine,
// bounded by Limit concurrent runs when Limit > 0.
type LocalDispatcher struct {
	exec   Executor
	ctx    context.Context
	sem    chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewLocalDispatcher runs every request under ctx.
func NewLocalDispatcher(ctx context.Context, exec Executor, limit int, logger *slog.Logger) *LocalDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &LocalDispatcher{exec: exec, ctx: ctx, logger: logger}
	if limit > 0 {
		d.sem = make(chan struct{}, limit)
	}
	return d
}

func (d *LocalDispatcher) Dispatch(_ context.Context, req schema.RunRequest) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if d.sem != nil {
			select {
			case d.sem <- struct{}{}:
				defer func() { <-d.sem }()
			case <-d.ctx.Done():
				return
			}
		}
		if _, err := d.exec.Execute(d.ctx, req); err != nil {
			d.logger.Warn("run failed", "run_id", req.RunID, "err", err)
		}
	}()
	return nil
}

// Wait blocks until every dispatched run has returned.
func (d *LocalDispatcher) Wait() { d.wg.Wait() }
