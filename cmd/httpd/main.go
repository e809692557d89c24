// Command httpd serves the operator API: trigger runs, inspect manifests
// and summaries, and scrape metrics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonesrussell/sentiment-pipeline/internal/api"
	"github.com/jonesrussell/sentiment-pipeline/internal/config"
	"github.com/jonesrussell/sentiment-pipeline/internal/logger"
	"github.com/jonesrussell/sentiment-pipeline/internal/pipeline"
	"github.com/jonesrussell/sentiment-pipeline/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// pipelineLauncher runs triggered pipelines in the background with their
// own context, detached from the triggering request.
type pipelineLauncher struct {
	pipeline *pipeline.Pipeline
}

func (l *pipelineLauncher) Launch(exportPath, outputPath string) error {
	_, _, err := l.pipeline.Execute(context.Background(), exportPath, outputPath)
	return err
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "httpd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(config.GetConfigPath("config.yaml"))
	if err != nil {
		return err
	}

	log := logger.Must(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	defer log.Sync() //nolint:errcheck

	metrics := telemetry.NewProvider()

	p, err := pipeline.New(cfg, log, pipeline.WithTelemetry(metrics))
	if err != nil {
		return err
	}

	handler := api.NewHandler(
		&pipelineLauncher{pipeline: p},
		p.Runs(),
		metrics,
		cfg.Service.Name,
		cfg.Service.Version,
		log,
	)
	server := api.NewServer(handler, api.ServerConfig{
		Port:          cfg.Service.Port,
		Debug:         cfg.Service.Debug,
		RatePerSecond: cfg.Service.APIRatePerSec,
		RateBurst:     cfg.Service.APIRateBurst,
	}, log)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
