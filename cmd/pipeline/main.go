// Command pipeline runs one classification pass over a harvested comment
// export and writes the sentiment summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonesrussell/sentiment-pipeline/internal/config"
	"github.com/jonesrussell/sentiment-pipeline/internal/logger"
	"github.com/jonesrussell/sentiment-pipeline/internal/pipeline"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pipeline: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", config.GetConfigPath("config.yaml"), "path to config file")
		inputPath  = flag.String("input", "", "path to the harvested comment export (json or csv)")
		outputPath = flag.String("output", "summary.json", "path to write the sentiment summary")
	)
	flag.Parse()

	if *inputPath == "" {
		return fmt.Errorf("missing required -input flag")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log := logger.Must(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	defer log.Sync() //nolint:errcheck

	p, err := pipeline.New(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manifest, summary, err := p.Execute(ctx, *inputPath, *outputPath)
	if err != nil {
		return err
	}

	if manifest.Partial() {
		log.Warn("run completed with failed batches",
			logger.String("run_id", manifest.RunID),
			logger.Int("failed_batches", len(manifest.FailedBatches())),
		)
	}
	log.Info("pipeline complete",
		logger.String("run_id", manifest.RunID),
		logger.String("state", string(manifest.State)),
		logger.Int("classified", summary.Classified),
		logger.Int("failed", summary.Failed),
		logger.String("output", *outputPath),
	)
	return nil
}
