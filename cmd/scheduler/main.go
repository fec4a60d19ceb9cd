// cmd/scheduler publishes run requests from a schedule file when they fall due.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/RhythrosaLabs/loom/internal/bus"
	"github.com/RhythrosaLabs/loom/internal/config"
	"github.com/RhythrosaLabs/loom/internal/scheduler"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		fatal(logger, "load config", err)
	}

	file := flag.String("file", cfg.ScheduleFile, "Schedule file (JSON array of tasks)")
	dryRun := flag.Bool("dry-run", false, "Log due tasks without publishing them")
	flag.Parse()

	logger.Info("scheduler starting",
		"nats_url", cfg.NATSURL,
		"run_subject", cfg.RunSubject,
		"file", *file,
		"interval", cfg.ScheduleInterval,
		"dry_run", *dryRun,
	)

	tasks, err := scheduler.LoadTasks(*file)
	if err != nil {
		fatal(logger, "load schedule", err, "file", *file)
	}

	var pub bus.Publisher = dryRunPublisher{logger: logger}
	if !*dryRun {
		nc, err := bus.Connect(cfg.NATSURL)
		if err != nil {
			fatal(logger, "connect to NATS", err, "nats_url", cfg.NATSURL)
		}
		defer nc.Close()
		logger.Info("connected to NATS", "nats_url", cfg.NATSURL)
		pub = nc
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := scheduler.New(cfg.ScheduleInterval, publishTask(pub, cfg.RunSubject, cfg.CrossfadeSeconds, time.Now), logger)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for _, t := range tasks {
		if err := s.Add(ctx, t); err != nil {
			fatal(logger, "queue task", err, "task_id", t.ID)
		}
	}
	logger.Info("schedule loaded", "tasks", len(tasks))

	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		fatal(logger, "scheduler stopped", err)
	}
	logger.Info("scheduler stopped")
}

// publishTask hands a due task to the workers. Every firing gets a fresh run
// ID unless the schedule pinned one. A request without a crossfade picks up
// the configured default.
func publishTask(pub bus.Publisher, subject string, crossfade float64, now func() time.Time) scheduler.Executor {
	return func(_ context.Context, t scheduler.Task) error {
		req := t.Request
		if req.RunID == "" {
			req.RunID = uuid.NewString()
		}
		if req.CrossfadeSeconds == 0 {
			req.CrossfadeSeconds = crossfade
		}
		req.RequestedAt = now().Unix()
		if err := req.Validate(); err != nil {
			return err
		}
		return pub.PublishJSON(subject, req)
	}
}

type dryRunPublisher struct {
	logger *slog.Logger
}

func (d dryRunPublisher) PublishJSON(subject string, v any) error {
	d.logger.Info("dry run: would publish", "subject", subject, "payload", v)
	return nil
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
