// Package app assembles the pipeline from configuration for the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/RhythrosaLabs/loom/internal/assemble"
	"github.com/RhythrosaLabs/loom/internal/bus"
	"github.com/RhythrosaLabs/loom/internal/config"
	"github.com/RhythrosaLabs/loom/internal/converters"
	"github.com/RhythrosaLabs/loom/internal/frames"
	"github.com/RhythrosaLabs/loom/internal/img"
	"github.com/RhythrosaLabs/loom/internal/pipeline"
	"github.com/RhythrosaLabs/loom/internal/remote"
	"github.com/RhythrosaLabs/loom/internal/runstate"
	"github.com/RhythrosaLabs/loom/internal/store"
)

// NewStore builds the artifact store. The content store also serves as the
// source of uploaded seeds.
func NewStore(cfg config.Config, logger *slog.Logger) (store.Store, pipeline.SourceFetcher, error) {
	if cfg.StorageBackend != "content" {
		fs, err := store.NewFileStore(cfg.StorageDir)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("artifact store ready", "backend", "file", "dir", fs.BasePath())
		return fs, nil, nil
	}

	contentCfg, err := config.LoadSimpleContentConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load simplecontent config: %w", err)
	}
	backends := make([]string, 0, len(contentCfg.StorageBackends))
	for _, b := range contentCfg.StorageBackends {
		backends = append(backends, fmt.Sprintf("%s(%s)", b.Name, b.Type))
	}
	logger.Info("loaded simplecontent config", "default_backend", contentCfg.DefaultStorageBackend, "storage_backends", backends)

	svc, err := contentCfg.BuildService()
	if err != nil {
		return nil, nil, fmt.Errorf("build simplecontent service: %w", err)
	}
	parent := uuid.Nil
	if cfg.ContentParentID != "" {
		if parent, err = uuid.Parse(cfg.ContentParentID); err != nil {
			return nil, nil, fmt.Errorf("parse CONTENT_PARENT_ID: %w", err)
		}
	}
	cs := store.NewContentStore(svc, contentCfg.DefaultStorageBackend, parent)
	logger.Info("artifact store ready", "backend", "content", "parent", parent)
	return cs, cs, nil
}

// NewRecorder uses Redis when REDIS_ADDR is set and memory otherwise.
func NewRecorder(ctx context.Context, cfg config.Config, logger *slog.Logger) (runstate.Recorder, error) {
	if cfg.RedisAddr == "" {
		logger.Info("run state kept in memory")
		return runstate.NewMemory(), nil
	}
	r := runstate.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RunTTL)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}
	logger.Info("run state kept in redis", "addr", cfg.RedisAddr, "ttl", cfg.RunTTL)
	return r, nil
}

// NewClient builds the generation backend.
func NewClient(cfg config.Config, ff *converters.FFmpeg) (remote.Client, error) {
	switch cfg.Backend {
	case "ark":
		return remote.NewArkClient(remote.ArkConfig{
			APIKey:     cfg.ArkAPIKey,
			BaseURL:    cfg.ArkBaseURL,
			VideoModel: cfg.ArkVideoModel,
			ImageModel: cfg.ArkImageModel,
		})
	default:
		var animator remote.Animator
		if ff.Available() == nil {
			animator = ff
		}
		return remote.NewSyntheticClient(remote.SyntheticConfig{
			Dir:          filepath.Join(cfg.WorkDir, "synthetic"),
			PendingPolls: cfg.SyntheticPendingPolls,
		}, animator)
	}
}

// Deps are the collaborators a driver is built from.
type Deps struct {
	Store    store.Store
	Sources  pipeline.SourceFetcher
	Recorder runstate.Recorder
	Events   bus.Publisher
}

// NewDriver wires the pipeline. Events may be nil.
func NewDriver(cfg config.Config, deps Deps, logger *slog.Logger) (*pipeline.Driver, error) {
	ff := converters.NewFFmpeg()
	ff.Logger = logger
	if err := ff.Available(); err != nil {
		logger.Warn("ffmpeg unavailable; video runs will fail", "err", err)
	}

	client, err := NewClient(cfg, ff)
	if err != nil {
		return nil, fmt.Errorf("build %s client: %w", cfg.Backend, err)
	}
	logger.Info("generation backend ready", "backend", client.Name())

	return &pipeline.Driver{
		Client: client,
		Poller: &remote.Poller{
			Client:      client,
			Interval:    cfg.PollInterval,
			MaxAttempts: cfg.PollMaxAttempts,
			Backoff:     cfg.PollBackoff,
			MaxInterval: cfg.PollMaxInterval,
			Logger:      logger,
		},
		Frames:          frames.NewExtractor(ff, logger),
		Assembler:       assemble.New(ff, logger),
		Store:           deps.Store,
		Sources:         deps.Sources,
		Recorder:        deps.Recorder,
		Events:          deps.Events,
		ResultSubject:   cfg.ResultSubject,
		Previewer:       img.Previewer(ff),
		WorkRoot:        filepath.Join(cfg.WorkDir, "runs"),
		DefaultSegments: cfg.Segments,
		FinalizeTimeout: cfg.FinalizeTimeout,
		Logger:          logger,
	}, nil
}
