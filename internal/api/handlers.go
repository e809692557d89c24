package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/sentiment-pipeline/internal/database"
	"github.com/jonesrussell/sentiment-pipeline/internal/domain"
	"github.com/jonesrussell/sentiment-pipeline/internal/logger"
	"github.com/jonesrussell/sentiment-pipeline/internal/telemetry"
)

// RunStore reads persisted runs.
type RunStore interface {
	Get(ctx context.Context, runID string) (*database.RunRecord, error)
	List(ctx context.Context, limit int) ([]database.RunRecord, error)
}

// Launcher starts runs without blocking the request.
type Launcher interface {
	Launch(exportPath, outputPath string) error
}

// Handler handles HTTP requests for the pipeline API.
type Handler struct {
	launcher Launcher
	runs     RunStore
	metrics  *telemetry.Provider
	service  string
	version  string
	logger   logger.Logger

	// one run at a time; a second trigger gets 409
	mu      sync.Mutex
	running bool
}

// NewHandler creates an API handler.
func NewHandler(launcher Launcher, runs RunStore, metrics *telemetry.Provider, service, version string, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{
		launcher: launcher,
		runs:     runs,
		metrics:  metrics,
		service:  service,
		version:  version,
		logger:   log,
	}
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": h.service,
		"version": h.version,
	})
}

// StartRunRequest is the body for POST /api/v1/runs.
type StartRunRequest struct {
	ExportPath string `json:"export_path" binding:"required"`
	OutputPath string `json:"output_path" binding:"required"`
}

// StartRun handles POST /api/v1/runs. The run executes in the background;
// poll GET /api/v1/runs for its state. Only one run may be active at a time.
func (h *Handler) StartRun(c *gin.Context) {
	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "a run is already in progress"})
		return
	}
	h.running = true
	h.mu.Unlock()

	go func() {
		defer func() {
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
		}()
		if err := h.launcher.Launch(req.ExportPath, req.OutputPath); err != nil {
			h.logger.Error("triggered run failed",
				logger.String("export", req.ExportPath),
				logger.Error(err),
			)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"status":      "accepted",
		"export_path": req.ExportPath,
	})
}

// ListRuns handles GET /api/v1/runs.
func (h *Handler) ListRuns(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	recs, err := h.runs.List(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("list runs failed", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list runs failed"})
		return
	}

	out := make([]gin.H, 0, len(recs))
	for _, rec := range recs {
		out = append(out, runResponse(&rec, false))
	}
	c.JSON(http.StatusOK, gin.H{"runs": out, "total": len(out)})
}

// GetRun handles GET /api/v1/runs/:run_id.
func (h *Handler) GetRun(c *gin.Context) {
	rec, err := h.runs.Get(c.Request.Context(), c.Param("run_id"))
	if errors.Is(err, database.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		h.logger.Error("get run failed", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get run failed"})
		return
	}
	c.JSON(http.StatusOK, runResponse(rec, true))
}

// GetSummary handles GET /api/v1/runs/:run_id/summary.
func (h *Handler) GetSummary(c *gin.Context) {
	rec, err := h.runs.Get(c.Request.Context(), c.Param("run_id"))
	if errors.Is(err, database.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		h.logger.Error("get summary failed", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get summary failed"})
		return
	}
	if rec.SummaryJSON == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "run has no summary yet"})
		return
	}
	c.Data(http.StatusOK, "application/json", []byte(rec.SummaryJSON))
}

// runResponse shapes one run row. The manifest is included only on the
// detail endpoint.
func runResponse(rec *database.RunRecord, withManifest bool) gin.H {
	out := gin.H{
		"run_id":     rec.RunID,
		"state":      rec.State,
		"started_at": rec.StartedAt,
	}
	if rec.FinishedAt != nil {
		out["finished_at"] = rec.FinishedAt
	}
	if withManifest {
		var manifest domain.RunManifest
		if err := json.Unmarshal([]byte(rec.Manifest), &manifest); err == nil {
			out["manifest"] = manifest
		}
	}
	return out
}
