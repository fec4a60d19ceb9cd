// cmd/worker consumes run requests from NATS and executes them.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/RhythrosaLabs/loom/internal/app"
	"github.com/RhythrosaLabs/loom/internal/bus"
	"github.com/RhythrosaLabs/loom/internal/config"
	"github.com/RhythrosaLabs/loom/internal/process"
	"github.com/RhythrosaLabs/loom/pkg/schema"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		fatal(logger, "load config", err)
	}
	logger.Info("worker starting",
		"nats_url", cfg.NATSURL,
		"run_subject", cfg.RunSubject,
		"queue", cfg.RunQueue,
		"result_subject", cfg.ResultSubject,
		"backend", cfg.Backend,
		"storage", cfg.StorageBackend,
		"work_dir", cfg.WorkDir,
		"concurrency", cfg.MaxConcurrentRuns,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		fatal(logger, "ensure work directory", err, "work_dir", cfg.WorkDir)
	}

	st, sources, err := app.NewStore(cfg, logger)
	if err != nil {
		fatal(logger, "build artifact store", err)
	}
	recorder, err := app.NewRecorder(ctx, cfg, logger)
	if err != nil {
		fatal(logger, "build run state recorder", err)
	}

	nc, err := bus.Connect(cfg.NATSURL)
	if err != nil {
		fatal(logger, "connect to NATS", err, "nats_url", cfg.NATSURL)
	}
	logger.Info("connected to NATS", "nats_url", cfg.NATSURL)
	defer nc.Close()

	driver, err := app.NewDriver(cfg, app.Deps{Store: st, Sources: sources, Recorder: recorder, Events: nc}, logger)
	if err != nil {
		fatal(logger, "build pipeline", err)
	}

	// Callbacks of one subscription run one at a time, so each subscription
	// is one concurrent run.
	runs := &runTracker{}
	subs := make([]*nats.Subscription, 0, cfg.MaxConcurrentRuns)
	for i := 0; i < cfg.MaxConcurrentRuns; i++ {
		sub, err := nc.QueueSubscribeJSON(ctx, cfg.RunSubject, cfg.RunQueue, cfg.RunTimeout, func(runCtx context.Context, data []byte) error {
			if !runs.start() {
				logger.Warn("worker stopping, run request not started")
				return nil
			}
			defer runs.done()
			return handleMessage(runCtx, data, driver, nc, cfg.ResultSubject, logger)
		})
		if err != nil {
			fatal(logger, "subscribe worker", err, "run_subject", cfg.RunSubject, "queue", cfg.RunQueue)
		}
		subs = append(subs, sub)
	}
	logger.Info("listening for runs", "subject", cfg.RunSubject, "queue", cfg.RunQueue)

	<-ctx.Done()
	logger.Info("worker stopping, finishing in-flight runs", "timeout", cfg.FinalizeTimeout)
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			logger.Warn("unsubscribe failed", "err", err)
		}
	}
	// In-flight runs see the cancelled context and assemble what they have
	// under their own finalize budget.
	if !runs.closeAndWait(cfg.FinalizeTimeout + shutdownGrace) {
		logger.Error("in-flight runs did not finish before shutdown", "timeout", cfg.FinalizeTimeout+shutdownGrace)
		return
	}
	logger.Info("worker stopped")
}

const shutdownGrace = 10 * time.Second

type executor interface {
	Execute(ctx context.Context, req schema.RunRequest) (*schema.RunDone, error)
}

// handleMessage decodes one run request and executes it. Undecodable
// messages are reported on the result subject as validation failures.
func handleMessage(ctx context.Context, data []byte, exec executor, pub bus.Publisher, resultSubject string, logger *slog.Logger) error {
	var req schema.RunRequest
	if err := json.Unmarshal(data, &req); err != nil {
		cause := &process.ValidationError{Err: fmt.Errorf("decode run request: %w", err)}
		logger.Warn("dropping malformed run request", "err", err)
		publishRejected(pub, resultSubject, cause, logger)
		return cause
	}

	runLogger := logger.With("run_id", req.RunID)
	runLogger.Info("received run", "mode", req.Mode, "segments", req.Segments)

	done, err := exec.Execute(ctx, req)
	if err != nil {
		return fmt.Errorf("run %s: %w", req.RunID, err)
	}
	runLogger.Info("run finished", "status", done.Status, "truncated", done.Truncated, "processing_time_ms", done.ProcessingTimeMs)
	return nil
}

func publishRejected(pub bus.Publisher, subject string, cause error, logger *slog.Logger) {
	done := schema.RunDone{
		Status:      schema.RunFailed,
		Error:       cause.Error(),
		FailureType: process.Classify(cause),
	}
	if err := pub.PublishJSON(subject, done); err != nil {
		logger.Error("publish result failed", "subject", subject, "err", err)
	}
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
