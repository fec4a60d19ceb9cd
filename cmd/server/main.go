// cmd/server accepts run requests over HTTP and serves run state and artifacts.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/RhythrosaLabs/loom/internal/api"
	"github.com/RhythrosaLabs/loom/internal/app"
	"github.com/RhythrosaLabs/loom/internal/bus"
	"github.com/RhythrosaLabs/loom/internal/config"
	"github.com/RhythrosaLabs/loom/internal/runstate"
	"github.com/RhythrosaLabs/loom/pkg/schema"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		fatal(logger, "load config", err)
	}
	local := flag.Bool("local", false, "Execute runs in this process instead of publishing them to workers")
	flag.Parse()

	logger.Info("server starting",
		"http_addr", cfg.HTTPAddr,
		"nats_url", cfg.NATSURL,
		"run_subject", cfg.RunSubject,
		"storage", cfg.StorageBackend,
		"local", *local,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, sources, err := app.NewStore(cfg, logger)
	if err != nil {
		fatal(logger, "build artifact store", err)
	}
	recorder, err := app.NewRecorder(ctx, cfg, logger)
	if err != nil {
		fatal(logger, "build run state recorder", err)
	}

	var nc *bus.Client
	if !*local {
		nc, err = bus.Connect(cfg.NATSURL)
		if err != nil {
			logger.Warn("NATS unavailable, executing runs locally", "nats_url", cfg.NATSURL, "err", err)
		} else {
			defer nc.Close()
			logger.Info("connected to NATS", "nats_url", cfg.NATSURL)
		}
	}

	var (
		dispatcher api.Dispatcher
		localRuns  *api.LocalDispatcher
	)
	if nc != nil {
		dispatcher = &api.BusDispatcher{Bus: nc, Subject: cfg.RunSubject}
		if _, err := nc.SubscribeJSON(cfg.ResultSubject, recordResults(recorder, logger)); err != nil {
			fatal(logger, "subscribe results", err, "subject", cfg.ResultSubject)
		}
	} else {
		if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
			fatal(logger, "ensure work directory", err, "work_dir", cfg.WorkDir)
		}
		driver, err := app.NewDriver(cfg, app.Deps{Store: st, Sources: sources, Recorder: recorder}, logger)
		if err != nil {
			fatal(logger, "build pipeline", err)
		}
		localRuns = api.NewLocalDispatcher(ctx, driver, cfg.MaxConcurrentRuns, logger)
		dispatcher = localRuns
	}

	gin.SetMode(gin.ReleaseMode)
	handler := api.NewHandler(dispatcher, recorder, st, logger)
	handler.DefaultSegments = cfg.Segments
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		fatal(logger, "http server", err)
	}

	logger.Info("server stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "err", err)
	}
	if localRuns != nil {
		localRuns.Wait()
	}
}

// recordResults stores the final state that workers publish so GET /runs
// answers even when the recorder is not shared with them.
func recordResults(rec runstate.Recorder, logger *slog.Logger) func(ctx context.Context, data []byte) {
	return func(ctx context.Context, data []byte) {
		var done schema.RunDone
		if err := json.Unmarshal(data, &done); err != nil {
			logger.Warn("ignoring malformed run result", "err", err)
			return
		}
		if done.RunID == "" {
			return
		}
		if err := rec.Save(ctx, &done); err != nil {
			logger.Error("record run result", "run_id", done.RunID, "err", err)
		}
	}
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
