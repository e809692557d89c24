// Package api exposes the operator HTTP surface: health, run management,
// summaries, and Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/sentiment-pipeline/internal/logger"
)

// Default timeout values.
const (
	defaultReadTimeout  = 30 * time.Second
	defaultWriteTimeout = 60 * time.Second
	defaultIdleTimeout  = 120 * time.Second
)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Port          int
	Debug         bool
	RatePerSecond int
	RateBurst     int
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

// Server wraps the HTTP server and its router.
type Server struct {
	httpServer *http.Server
	logger     logger.Logger
}

// NewServer builds the router and HTTP server around the handler.
func NewServer(handler *Handler, cfg ServerConfig, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(log))
	SetupRoutes(router, handler, cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  defaultIdleTimeout,
		},
		logger: log,
	}
}

// SetupRoutes configures all API routes.
func SetupRoutes(router *gin.Engine, handler *Handler, cfg ServerConfig) {
	router.GET("/health", handler.HealthCheck)
	if handler.metrics != nil {
		router.GET("/metrics", gin.WrapH(handler.metrics.Handler()))
	}

	v1 := router.Group("/api/v1")
	v1.Use(Throttle(cfg.RatePerSecond, cfg.RateBurst))
	{
		runs := v1.Group("/runs")
		{
			runs.POST("", handler.StartRun)              // POST /api/v1/runs
			runs.GET("", handler.ListRuns)               // GET /api/v1/runs
			runs.GET("/:run_id", handler.GetRun)         // GET /api/v1/runs/:run_id
			runs.GET("/:run_id/summary", handler.GetSummary) // GET /api/v1/runs/:run_id/summary
		}
	}
}

// Start begins serving and blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("http server listening", logger.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
