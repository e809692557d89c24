// Package scheduler runs planned batches through the classification service
// with a worker pool, bounded by the request rate limiter, and folds results
// into the run's aggregates.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonesrussell/sentiment-pipeline/internal/aggregate"
	"github.com/jonesrussell/sentiment-pipeline/internal/domain"
	"github.com/jonesrussell/sentiment-pipeline/internal/ethics"
	"github.com/jonesrussell/sentiment-pipeline/internal/llmtransport"
	"github.com/jonesrussell/sentiment-pipeline/internal/logger"
	"github.com/jonesrussell/sentiment-pipeline/internal/parser"
	"github.com/jonesrussell/sentiment-pipeline/internal/retry"
)

// maxSalvagePasses bounds follow-up requests for rows a response missed.
const maxSalvagePasses = 2

// Classifier requests labels for a set of comments.
type Classifier interface {
	Classify(ctx context.Context, comments []domain.CommentRecord) (string, error)
}

// ResponseParser decodes a raw response against the requested comments.
type ResponseParser interface {
	Parse(raw string, comments []domain.CommentRecord) (*parser.Result, error)
}

// Limiter gates request starts.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Cache looks up and stores batch results by content fingerprint.
type Cache interface {
	Get(ctx context.Context, fingerprint string) ([]domain.ClassificationResult, error)
	Put(ctx context.Context, fingerprint, model string, results []domain.ClassificationResult) error
}

// Tagger supplements model ethics codes from comment text.
type Tagger interface {
	Tag(text string) []string
}

// Sink receives per-comment results; indexing failures never fail the run.
type Sink interface {
	IndexResults(ctx context.Context, runID string, results []domain.ClassificationResult) error
}

// RunStore persists manifest state transitions.
type RunStore interface {
	Save(ctx context.Context, m *domain.RunManifest) error
}

// Telemetry is the metrics and tracing surface the scheduler reports to.
type Telemetry interface {
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)
	RecordBatch(size int, duration time.Duration, fromCache bool)
	RecordBatchFailure(reason string, size int)
	RecordResult(sentiment string, ethics []string)
	RecordRateLimitWait()
	RecordRetry()
	RecordSalvagePass()
	SetActiveWorkers(n int)
	RecordRunDuration(d time.Duration)
}

// Config holds scheduler settings.
type Config struct {
	Concurrency int
	Model       string
	Retry       retry.Config
}

// Scheduler coordinates a run.
type Scheduler struct {
	classifier Classifier
	parser     ResponseParser
	limiter    Limiter
	cache      Cache
	tagger     Tagger
	sink       Sink
	runs       RunStore
	telemetry  Telemetry
	config     Config
	logger     logger.Logger
}

// Option configures optional scheduler collaborators.
type Option func(*Scheduler)

// WithCache enables the fingerprint result cache.
func WithCache(c Cache) Option { return func(s *Scheduler) { s.cache = c } }

// WithTagger enables ethics keyword supplementation.
func WithTagger(t Tagger) Option { return func(s *Scheduler) { s.tagger = t } }

// WithSink enables the per-comment result sink.
func WithSink(k Sink) Option { return func(s *Scheduler) { s.sink = k } }

// WithRunStore enables manifest persistence.
func WithRunStore(r RunStore) Option { return func(s *Scheduler) { s.runs = r } }

// WithTelemetry enables metrics reporting.
func WithTelemetry(t Telemetry) Option { return func(s *Scheduler) { s.telemetry = t } }

// New creates a scheduler. Classifier, parser, and limiter are required;
// everything else is optional.
func New(classifier Classifier, p ResponseParser, limiter Limiter, config Config, log logger.Logger, opts ...Option) *Scheduler {
	if config.Concurrency <= 0 {
		config.Concurrency = 3
	}
	if log == nil {
		log = logger.NewNop()
	}
	s := &Scheduler{
		classifier: classifier,
		parser:     p,
		limiter:    limiter,
		config:     config,
		logger:     log,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.config.Retry.Classify == nil {
		s.config.Retry.Classify = classifyError
	}
	return s
}

// classifyError maps transport and parse failures onto retry kinds. Rate
// limits carry the server's delay hint and do not consume attempts.
func classifyError(err error) (retry.Kind, time.Duration) {
	var rle *llmtransport.RateLimitError
	if errors.As(err, &rle) {
		return retry.RateLimited, rle.RetryAfter
	}
	var se *llmtransport.ServerError
	if errors.As(err, &se) {
		return retry.Retryable, 0
	}
	var re *llmtransport.RequestError
	if errors.As(err, &re) {
		return retry.Terminal, 0
	}
	var mre *parser.MalformedResponseError
	if errors.As(err, &mre) {
		return retry.Retryable, 0
	}
	return retry.DefaultClassifier(err)
}

// batchOutcome carries one batch's results back from a worker.
type batchOutcome struct {
	batch     domain.Batch
	results   []domain.ClassificationResult
	attempts  int
	fromCache bool
	err       error
}

// Run processes all batches and returns the run manifest plus the aggregate
// folder it filled. A batch failing terminally marks the run partial but
// never aborts it; only context cancellation stops a run early.
func (s *Scheduler) Run(ctx context.Context, batches []domain.Batch) (*domain.RunManifest, *aggregate.Aggregator, error) {
	start := time.Now()
	manifest := &domain.RunManifest{
		RunID:     uuid.NewString(),
		State:     domain.RunRequesting,
		StartedAt: start.UTC(),
	}
	for _, b := range batches {
		manifest.Batches = append(manifest.Batches, domain.BatchStatus{
			Index:       b.Index,
			Fingerprint: b.Fingerprint,
			Size:        b.Size(),
			SourceIDs:   b.SourceIDs(),
		})
	}
	s.saveManifest(ctx, manifest)

	ctx, span := s.startSpan(ctx, "scheduler.run",
		attribute.String("run.id", manifest.RunID),
		attribute.Int("run.batches", len(batches)),
	)
	defer span.End()

	agg := aggregate.New()
	s.logger.Info("run started",
		logger.String("run_id", manifest.RunID),
		logger.Int("batches", len(batches)),
		logger.Int("concurrency", s.config.Concurrency),
	)

	jobs := make(chan domain.Batch, len(batches))
	outcomes := make(chan batchOutcome, len(batches))

	var wg sync.WaitGroup
	if s.telemetry != nil {
		s.telemetry.SetActiveWorkers(s.config.Concurrency)
	}
	for i := 0; i < s.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range jobs {
				outcomes <- s.processBatch(ctx, manifest.RunID, b)
			}
		}()
	}
	for _, b := range batches {
		jobs <- b
	}
	close(jobs)
	wg.Wait()
	close(outcomes)
	if s.telemetry != nil {
		s.telemetry.SetActiveWorkers(0)
	}

	manifest.State = domain.RunAggregating
	s.saveManifest(ctx, manifest)

	for outcome := range outcomes {
		status := &manifest.Batches[outcome.batch.Index]
		status.Attempts = outcome.attempts
		status.FromCache = outcome.fromCache

		if outcome.err != nil {
			status.Status = domain.BatchFailed
			status.Error = outcome.err.Error()
			s.logger.Error("batch failed",
				logger.String("run_id", manifest.RunID),
				logger.Int("batch", outcome.batch.Index),
				logger.Error(outcome.err),
			)
		} else {
			status.Status = domain.BatchSucceeded
		}

		agg.AddAll(outcome.results)
		if s.telemetry != nil {
			for _, r := range outcome.results {
				if r.Status == domain.ResultOK {
					s.telemetry.RecordResult(string(r.Sentiment), r.Ethics)
				}
			}
		}
	}

	manifest.FinishedAt = time.Now().UTC()
	if manifest.Partial() {
		manifest.State = domain.RunFailedPartial
	} else {
		manifest.State = domain.RunDone
	}
	s.saveManifest(ctx, manifest)
	if s.telemetry != nil {
		s.telemetry.RecordRunDuration(time.Since(start))
	}

	s.logger.Info("run finished",
		logger.String("run_id", manifest.RunID),
		logger.String("state", string(manifest.State)),
		logger.Int("failed_batches", len(manifest.FailedBatches())),
		logger.Duration("duration", time.Since(start)),
	)

	if err := ctx.Err(); err != nil {
		return manifest, agg, err
	}
	return manifest, agg, nil
}

// processBatch resolves one batch: cache, then classify with retry and
// salvage. A terminal failure yields failed placeholder results so the
// aggregates still account for every comment.
func (s *Scheduler) processBatch(ctx context.Context, runID string, b domain.Batch) batchOutcome {
	start := time.Now()

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, b.Fingerprint)
		if err != nil {
			s.logger.Warn("cache lookup failed",
				logger.Int("batch", b.Index),
				logger.Error(err),
			)
		} else if len(cached) == b.Size() {
			if s.telemetry != nil {
				s.telemetry.RecordBatch(b.Size(), 0, true)
			}
			s.sinkResults(ctx, runID, cached)
			return batchOutcome{batch: b, results: cached, fromCache: true}
		}
	}

	results, attempts, err := s.classifyBatch(ctx, b)
	if err != nil {
		if s.telemetry != nil {
			s.telemetry.RecordBatchFailure(failureReason(err), b.Size())
		}
		return batchOutcome{
			batch:    b,
			results:  failedResults(b.Comments),
			attempts: attempts,
			err:      err,
		}
	}

	if s.tagger != nil {
		for i := range results {
			if results[i].Status != domain.ResultOK {
				continue
			}
			results[i].Ethics = ethics.Merge(results[i].Ethics, s.tagger.Tag(commentText(b, results[i].CommentID)))
		}
	}

	if s.cache != nil {
		if putErr := s.cache.Put(ctx, b.Fingerprint, s.config.Model, results); putErr != nil {
			s.logger.Warn("cache store failed",
				logger.Int("batch", b.Index),
				logger.Error(putErr),
			)
		}
	}
	s.sinkResults(ctx, runID, results)
	if s.telemetry != nil {
		s.telemetry.RecordBatch(b.Size(), time.Since(start), false)
	}
	return batchOutcome{batch: b, results: results, attempts: attempts}
}

// classifyBatch requests the batch with retry, then issues up to
// maxSalvagePasses follow-up requests for rows the responses missed. Rows
// still missing after salvage become failed results rather than an error.
func (s *Scheduler) classifyBatch(ctx context.Context, b domain.Batch) ([]domain.ClassificationResult, int, error) {
	ctx, span := s.startSpan(ctx, "scheduler.classify_batch",
		attribute.Int("batch.index", b.Index),
		attribute.Int("batch.size", b.Size()),
	)
	defer span.End()

	attempts := 0
	var parsed *parser.Result

	err := retry.Do(ctx, s.config.Retry, func() error {
		attempts++
		if attempts > 1 && s.telemetry != nil {
			s.telemetry.RecordRetry()
		}
		if acquireErr := s.limiter.Acquire(ctx); acquireErr != nil {
			return acquireErr
		}
		raw, reqErr := s.classifier.Classify(ctx, b.Comments)
		if reqErr != nil {
			s.noteRateLimit(reqErr)
			return reqErr
		}
		var parseErr error
		parsed, parseErr = s.parser.Parse(raw, b.Comments)
		return parseErr
	})
	if err != nil {
		span.RecordError(err)
		return nil, attempts, err
	}

	results := parsed.Rows
	missing := parsed.Missing
	for pass := 0; pass < maxSalvagePasses && len(missing) > 0; pass++ {
		if s.telemetry != nil {
			s.telemetry.RecordSalvagePass()
		}
		s.logger.Warn("salvaging missing rows",
			logger.Int("batch", b.Index),
			logger.Int("missing", len(missing)),
			logger.Int("pass", pass+1),
		)

		if acquireErr := s.limiter.Acquire(ctx); acquireErr != nil {
			return nil, attempts, acquireErr
		}
		raw, reqErr := s.classifier.Classify(ctx, missing)
		if reqErr != nil {
			s.noteRateLimit(reqErr)
			break
		}
		salvage, parseErr := s.parser.Parse(raw, missing)
		if parseErr != nil {
			break
		}
		results = append(results, salvage.Rows...)
		missing = salvage.Missing
	}

	results = append(results, failedResults(missing)...)
	return results, attempts, nil
}

// startSpan delegates to the telemetry provider when one is configured;
// otherwise it returns the (no-op) span already on the context.
func (s *Scheduler) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if s.telemetry == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.telemetry.StartSpan(ctx, name, attrs...)
}

func (s *Scheduler) noteRateLimit(err error) {
	var rle *llmtransport.RateLimitError
	if errors.As(err, &rle) && s.telemetry != nil {
		s.telemetry.RecordRateLimitWait()
	}
}

func (s *Scheduler) sinkResults(ctx context.Context, runID string, results []domain.ClassificationResult) {
	if s.sink == nil {
		return
	}
	if err := s.sink.IndexResults(ctx, runID, results); err != nil {
		s.logger.Warn("result sink failed", logger.Error(err))
	}
}

func (s *Scheduler) saveManifest(ctx context.Context, m *domain.RunManifest) {
	if s.runs == nil {
		return
	}
	if err := s.runs.Save(ctx, m); err != nil {
		s.logger.Warn("manifest save failed",
			logger.String("run_id", m.RunID),
			logger.Error(err),
		)
	}
}

func failedResults(comments []domain.CommentRecord) []domain.ClassificationResult {
	if len(comments) == 0 {
		return nil
	}
	out := make([]domain.ClassificationResult, 0, len(comments))
	for _, c := range comments {
		out = append(out, domain.ClassificationResult{
			CommentID: c.ID,
			SourceID:  c.SourceID,
			Status:    domain.ResultFailed,
		})
	}
	return out
}

func failureReason(err error) string {
	kind, _ := classifyError(err)
	switch kind {
	case retry.RateLimited:
		return "rate_limited"
	case retry.Retryable:
		return "retries_exhausted"
	default:
		return "terminal"
	}
}

func commentText(b domain.Batch, commentID string) string {
	for _, c := range b.Comments {
		if c.ID == commentID {
			return c.Text
		}
	}
	return ""
}
