// Package telemetry provides OpenTelemetry instrumentation for the sentiment
// pipeline. It exports Prometheus metrics and provides tracing capabilities.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "sentiment-pipeline"

// Metrics holds all pipeline Prometheus metrics.
type Metrics struct {
	// Batch metrics
	BatchesProcessed prometheus.Counter
	BatchesFailed    *prometheus.CounterVec
	BatchesFromCache prometheus.Counter
	BatchSize        prometheus.Histogram
	SalvagePasses    prometheus.Counter

	// Request metrics
	RequestDuration prometheus.Histogram
	RateLimitWaits  prometheus.Counter
	RequestRetries  prometheus.Counter

	// Classification metrics
	CommentsClassified *prometheus.CounterVec
	CommentsFailed     prometheus.Counter
	EthicsFlags        *prometheus.CounterVec

	// Scheduler metrics
	ActiveWorkers prometheus.Gauge
	RunDuration   prometheus.Histogram
}

// Provider wraps telemetry providers.
type Provider struct {
	Tracer  trace.Tracer
	Metrics *Metrics
}

// NewProvider initializes telemetry with Prometheus metrics.
func NewProvider() *Provider {
	return &Provider{
		Tracer:  otel.Tracer(serviceName),
		Metrics: initMetrics(),
	}
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func (p *Provider) Handler() http.Handler {
	return promhttp.Handler()
}

// StartSpan starts a new trace span.
// The caller is responsible for ending the span with span.End().
//
//nolint:spancheck // Caller is responsible for ending the span
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := p.Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, span
}

func initMetrics() *Metrics {
	m := &Metrics{}
	initBatchMetrics(m)
	initRequestMetrics(m)
	initClassificationMetrics(m)
	initSchedulerMetrics(m)
	return m
}

func initBatchMetrics(m *Metrics) {
	m.BatchesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_batches_processed_total",
		Help: "Total batches classified successfully",
	})

	m.BatchesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_batches_failed_total",
		Help: "Total batches that exhausted retries",
	}, []string{"reason"})

	m.BatchesFromCache = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_batches_from_cache_total",
		Help: "Total batches served from the result cache",
	})

	m.BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_batch_size",
		Help:    "Number of comments per batch",
		Buckets: []float64{1, 5, 10, 20, 30, 40, 50, 60},
	})

	m.SalvagePasses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_salvage_passes_total",
		Help: "Total extra requests issued for rows missing from a response",
	})
}

func initRequestMetrics(m *Metrics) {
	m.RequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_request_duration_seconds",
		Help:    "Latency of classification service requests",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 35},
	})

	m.RateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_rate_limit_waits_total",
		Help: "Total waits imposed by 429 responses",
	})

	m.RequestRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_request_retries_total",
		Help: "Total retried classification requests",
	})
}

func initClassificationMetrics(m *Metrics) {
	m.CommentsClassified = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_comments_classified_total",
		Help: "Total comments classified by sentiment",
	}, []string{"sentiment"})

	m.CommentsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_comments_failed_total",
		Help: "Total comments whose batch failed terminally",
	})

	m.EthicsFlags = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_ethics_flags_total",
		Help: "Total ethics concern flags by code",
	}, []string{"code"})
}

func initSchedulerMetrics(m *Metrics) {
	m.ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_active_workers",
		Help: "Currently active batch workers",
	})

	m.RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_run_duration_seconds",
		Help:    "End-to-end duration of a pipeline run",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})
}

// RecordBatch records a completed batch and its request latency.
func (p *Provider) RecordBatch(size int, duration time.Duration, fromCache bool) {
	p.Metrics.BatchesProcessed.Inc()
	p.Metrics.BatchSize.Observe(float64(size))
	if fromCache {
		p.Metrics.BatchesFromCache.Inc()
	} else {
		p.Metrics.RequestDuration.Observe(duration.Seconds())
	}
}

// RecordBatchFailure records a batch that exhausted its retries.
func (p *Provider) RecordBatchFailure(reason string, size int) {
	p.Metrics.BatchesFailed.WithLabelValues(reason).Inc()
	p.Metrics.CommentsFailed.Add(float64(size))
}

// RecordResult records one classified comment's sentiment and ethics flags.
func (p *Provider) RecordResult(sentiment string, ethics []string) {
	p.Metrics.CommentsClassified.WithLabelValues(sentiment).Inc()
	for _, code := range ethics {
		p.Metrics.EthicsFlags.WithLabelValues(code).Inc()
	}
}

// RecordRateLimitWait records one 429-imposed wait.
func (p *Provider) RecordRateLimitWait() {
	p.Metrics.RateLimitWaits.Inc()
}

// RecordRetry records one retried request.
func (p *Provider) RecordRetry() {
	p.Metrics.RequestRetries.Inc()
}

// RecordSalvagePass records one follow-up request for missing rows.
func (p *Provider) RecordSalvagePass() {
	p.Metrics.SalvagePasses.Inc()
}

// SetActiveWorkers sets the worker gauge.
func (p *Provider) SetActiveWorkers(n int) {
	p.Metrics.ActiveWorkers.Set(float64(n))
}

// RecordRunDuration records a finished run's wall time.
func (p *Provider) RecordRunDuration(d time.Duration) {
	p.Metrics.RunDuration.Observe(d.Seconds())
}
