// Package pipeline wires the harvest reader, planner, scheduler, and
// aggregate writer into one runnable unit shared by the CLI and the
// operator API.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/sentiment-pipeline/internal/aggregate"
	"github.com/jonesrussell/sentiment-pipeline/internal/config"
	"github.com/jonesrussell/sentiment-pipeline/internal/database"
	"github.com/jonesrussell/sentiment-pipeline/internal/domain"
	"github.com/jonesrussell/sentiment-pipeline/internal/ethics"
	"github.com/jonesrussell/sentiment-pipeline/internal/harvest"
	"github.com/jonesrussell/sentiment-pipeline/internal/llmclient"
	"github.com/jonesrussell/sentiment-pipeline/internal/llmtransport"
	"github.com/jonesrussell/sentiment-pipeline/internal/logger"
	"github.com/jonesrussell/sentiment-pipeline/internal/parser"
	"github.com/jonesrussell/sentiment-pipeline/internal/planner"
	"github.com/jonesrussell/sentiment-pipeline/internal/ratelimit"
	"github.com/jonesrussell/sentiment-pipeline/internal/retry"
	"github.com/jonesrussell/sentiment-pipeline/internal/scheduler"
	"github.com/jonesrussell/sentiment-pipeline/internal/storage"
	"github.com/jonesrussell/sentiment-pipeline/internal/telemetry"
)

// Pipeline executes classification runs.
type Pipeline struct {
	cfg       *config.Config
	logger    logger.Logger
	reader    *harvest.Reader
	planner   *planner.Planner
	scheduler *scheduler.Scheduler
	runs      *database.RunRepository
}

// Option overrides default collaborators, mainly for tests.
type Option func(*build)

type build struct {
	db        *sqlx.DB
	sink      scheduler.Sink
	telemetry *telemetry.Provider
	transport llmclient.Completer
}

// WithDB supplies an already-open database handle.
func WithDB(db *sqlx.DB) Option { return func(b *build) { b.db = db } }

// WithSink supplies the per-comment result sink.
func WithSink(s scheduler.Sink) Option { return func(b *build) { b.sink = s } }

// WithTelemetry supplies the metrics provider.
func WithTelemetry(p *telemetry.Provider) Option { return func(b *build) { b.telemetry = p } }

// WithTransport overrides the HTTP transport to the classification service.
func WithTransport(t llmclient.Completer) Option { return func(b *build) { b.transport = t } }

// New assembles a pipeline from configuration. The database connection is
// opened here unless one is supplied; Elasticsearch is only dialed when the
// sink is enabled in config and none is supplied.
func New(cfg *config.Config, log logger.Logger, opts ...Option) (*Pipeline, error) {
	if log == nil {
		log = logger.NewNop()
	}

	var b build
	for _, opt := range opts {
		opt(&b)
	}

	if b.db == nil {
		db, err := database.Connect(database.Config{
			Driver:   cfg.Database.Driver,
			Path:     cfg.Database.Path,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.Database,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			return nil, fmt.Errorf("open result store: %w", err)
		}
		b.db = db
	}

	if b.sink == nil && cfg.Elasticsearch.Enabled {
		esClient, err := storage.NewClient(cfg.Elasticsearch.URL)
		if err != nil {
			return nil, fmt.Errorf("open elasticsearch sink: %w", err)
		}
		sink := storage.NewResultSink(esClient, cfg.Elasticsearch.Index, log)
		if err := sink.EnsureIndex(context.Background()); err != nil {
			return nil, fmt.Errorf("prepare elasticsearch index: %w", err)
		}
		b.sink = sink
	}

	if b.transport == nil {
		b.transport = llmtransport.New(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Timeout)
	}

	client := llmclient.New(b.transport, llmclient.Config{
		Model:           cfg.LLM.Model,
		TokensPerRow:    cfg.Limits.TokensPerRow,
		MaxOutputTokens: cfg.Limits.MaxOutputTokens,
	}, log)

	runs := database.NewRunRepository(b.db)

	schedOpts := []scheduler.Option{
		scheduler.WithCache(database.NewCacheRepository(b.db)),
		scheduler.WithTagger(ethics.NewTagger()),
		scheduler.WithRunStore(runs),
	}
	if b.sink != nil {
		schedOpts = append(schedOpts, scheduler.WithSink(b.sink))
	}
	if b.telemetry != nil {
		schedOpts = append(schedOpts, scheduler.WithTelemetry(b.telemetry))
	}

	sched := scheduler.New(
		client,
		parser.New(log),
		ratelimit.PerMinute(cfg.Limits.RequestsPerMinute),
		scheduler.Config{
			Concurrency: cfg.Service.Concurrency,
			Model:       cfg.LLM.Model,
			Retry: retry.Config{
				MaxAttempts:  cfg.Retry.MaxAttempts,
				InitialDelay: cfg.Retry.InitialDelay,
				MaxDelay:     cfg.Retry.MaxDelay,
				Multiplier:   cfg.Retry.Multiplier,
			},
		},
		log,
		schedOpts...,
	)

	return &Pipeline{
		cfg:    cfg,
		logger: log,
		reader: harvest.NewReader(log),
		planner: planner.New(planner.Limits{
			MaxRows:         cfg.Limits.MaxRowsPerBatch,
			MaxCommentChars: cfg.Limits.MaxCommentChars,
			MaxPromptChars:  cfg.Limits.MaxPromptChars,
			TokensPerRow:    cfg.Limits.TokensPerRow,
			MaxOutputTokens: cfg.Limits.MaxOutputTokens,
		}, log),
		scheduler: sched,
		runs:      runs,
	}, nil
}

// Runs exposes the run repository for the operator API.
func (p *Pipeline) Runs() *database.RunRepository {
	return p.runs
}

// Execute runs the full pipeline on one export file and writes the summary
// to outputPath. A partially failed run still writes its summary and returns
// the manifest; only a run that could not start at all returns a nil manifest.
func (p *Pipeline) Execute(ctx context.Context, exportPath, outputPath string) (*domain.RunManifest, *aggregate.Summary, error) {
	comments, err := p.reader.ReadFile(exportPath)
	if err != nil {
		return nil, nil, err
	}
	if len(comments) == 0 {
		return nil, nil, fmt.Errorf("export %s holds no usable comments", exportPath)
	}

	batches := p.planner.Plan(comments)

	manifest, agg, err := p.scheduler.Run(ctx, batches)
	if err != nil {
		return manifest, nil, err
	}

	summary := agg.Summary(manifest.RunID, p.cfg.LLM.Model, time.Now().UTC())
	if writeErr := aggregate.WriteSummary(outputPath, summary); writeErr != nil {
		return manifest, summary, writeErr
	}

	if data, marshalErr := json.Marshal(summary); marshalErr == nil {
		if saveErr := p.runs.SaveSummary(ctx, manifest.RunID, data); saveErr != nil {
			p.logger.Warn("summary persistence failed",
				logger.String("run_id", manifest.RunID),
				logger.Error(saveErr),
			)
		}
	}

	p.logger.Info("summary written",
		logger.String("run_id", manifest.RunID),
		logger.String("path", outputPath),
		logger.Int("sources", len(summary.Sources)),
		logger.Int("classified", summary.Classified),
		logger.Int("failed", summary.Failed),
	)
	return manifest, summary, nil
}
