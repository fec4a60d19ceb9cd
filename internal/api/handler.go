// Package api exposes runs over HTTP: submission, status and artifact download.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/RhythrosaLabs/loom/internal/runstate"
	"github.com/RhythrosaLabs/loom/internal/store"
	"github.com/RhythrosaLabs/loom/pkg/schema"
)

// Dispatcher hands an accepted request to whatever executes runs.
type Dispatcher interface {
	Dispatch(ctx context.Context, req schema.RunRequest) error
}

type Handler struct {
	dispatch Dispatcher
	runs     runstate.Recorder
	store    store.Store
	logger   *slog.Logger

	// DefaultSegments is the chain length workers use when a request leaves
	// segments unset. Zero leaves the queued count unresolved.
	DefaultSegments int
}

func NewHandler(d Dispatcher, runs runstate.Recorder, st store.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{dispatch: d, runs: runs, store: st, logger: logger}
}

// NewRouter registers the run routes.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.logger))

	r.GET("/healthz", h.Health)
	r.POST("/runs", h.SubmitRun)
	r.GET("/runs/:run_id", h.GetRun)
	r.GET("/runs/:run_id/artifacts/:name", h.GetArtifact)
	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) SubmitRun(c *gin.Context) {
	var req schema.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.RequestedAt = time.Now().Unix()

	queued := &schema.RunDone{
		RunID:          req.RunID,
		Status:         schema.RunQueued,
		Mode:           string(req.Mode),
		RequestedCount: h.requestedSegments(req),
		HappenedAt:     req.RequestedAt,
	}
	if err := h.runs.Save(c.Request.Context(), queued); err != nil {
		h.logger.Error("save queued run failed", "run_id", req.RunID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
		return
	}
	if err := h.dispatch.Dispatch(c.Request.Context(), req); err != nil {
		h.logger.Error("dispatch run failed", "run_id", req.RunID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "queue error"})
		return
	}

	h.logger.Info("run accepted", "run_id", req.RunID, "mode", req.Mode)
	c.JSON(http.StatusAccepted, gin.H{
		"run_id": req.RunID,
		"status": schema.RunQueued,
	})
}

func (h *Handler) requestedSegments(req schema.RunRequest) int {
	if req.Segments == 0 && h.DefaultSegments <= 0 {
		return 0
	}
	return req.SegmentCount(h.DefaultSegments)
}

func (h *Handler) GetRun(c *gin.Context) {
	snap, err := h.runs.Load(c.Request.Context(), c.Param("run_id"))
	if errors.Is(err, runstate.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetArtifact streams one stored artifact of a run by name.
func (h *Handler) GetArtifact(c *gin.Context) {
	snap, err := h.runs.Load(c.Request.Context(), c.Param("run_id"))
	if errors.Is(err, runstate.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	name := c.Param("name")
	var art *schema.Artifact
	for i := range snap.Artifacts {
		if snap.Artifacts[i].Name == name {
			art = &snap.Artifacts[i]
			break
		}
	}
	if art == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "artifact not found"})
		return
	}

	rc, err := h.store.Open(c.Request.Context(), art.Ref)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "artifact not found"})
		return
	}
	if err != nil {
		h.logger.Error("open artifact failed", "run_id", snap.RunID, "name", name, "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "artifact unavailable"})
		return
	}
	defer rc.Close()

	mimeType := art.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, art.Size, mimeType, rc, map[string]string{
		"Content-Disposition": `attachment; filename="` + name + `"`,
	})
}
