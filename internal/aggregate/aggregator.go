// Package aggregate folds classification results into per-source sentiment
// summaries.
package aggregate

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonesrussell/sentiment-pipeline/internal/domain"
)

// SourceSummary is one source's aggregate counts.
//
// Ratio is always a JSON string, even when it holds a number: "2.00" when
// both counts exist, "inf" when there are positives but no negatives, and
// "undefined" when there are neither. Consumers should parse it as a string
// and treat the two sentinels specially.
type SourceSummary struct {
	SourceID   string         `json:"videoId"`
	Total      int            `json:"total"`
	Classified int            `json:"classified"`
	Failed     int            `json:"failed"`
	Positive   int            `json:"positive"`
	Neutral    int            `json:"neutral"`
	Negative   int            `json:"negative"`
	Sarcasm    int            `json:"sarcasm"`
	MeanScore  float64        `json:"mean_score"`
	Ratio      string         `json:"positive_to_negative_ratio"`
	Ethics     map[string]int `json:"ethics_flags,omitempty"`
}

// Summary is the run's full aggregate output.
type Summary struct {
	RunID       string          `json:"run_id"`
	GeneratedAt time.Time       `json:"generated_at"`
	Model       string          `json:"model"`
	Total       int             `json:"total"`
	Classified  int             `json:"classified"`
	Failed      int             `json:"failed"`
	Sources     []SourceSummary `json:"sources"`
}

type sourceCounts struct {
	total    int
	failed   int
	positive int
	neutral  int
	negative int
	sarcasm  int
	scoreSum float64
	ethics   map[string]int
}

// Aggregator accumulates results across concurrent batch workers.
type Aggregator struct {
	mu      sync.Mutex
	sources map[string]*sourceCounts
}

// New creates an empty aggregator.
func New() *Aggregator {
	return &Aggregator{sources: make(map[string]*sourceCounts)}
}

// Add folds one classification result into its source's counts. Failed
// results count toward the total but not toward sentiment counts or the
// mean score.
func (a *Aggregator) Add(r domain.ClassificationResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.sources[r.SourceID]
	if s == nil {
		s = &sourceCounts{ethics: make(map[string]int)}
		a.sources[r.SourceID] = s
	}
	s.total++

	if r.Status == domain.ResultFailed {
		s.failed++
		return
	}

	switch r.Sentiment {
	case domain.SentimentPositive:
		s.positive++
	case domain.SentimentNegative:
		s.negative++
	default:
		s.neutral++
	}
	s.scoreSum += r.Score
	if r.Sarcasm {
		s.sarcasm++
	}
	for _, code := range r.Ethics {
		s.ethics[code]++
	}
}

// AddAll folds a slice of results.
func (a *Aggregator) AddAll(results []domain.ClassificationResult) {
	for _, r := range results {
		a.Add(r)
	}
}

// Summary snapshots the current aggregates, sources sorted by ID.
func (a *Aggregator) Summary(runID, model string, generatedAt time.Time) *Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := &Summary{
		RunID:       runID,
		GeneratedAt: generatedAt,
		Model:       model,
	}

	ids := make([]string, 0, len(a.sources))
	for id := range a.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		s := a.sources[id]
		classified := s.total - s.failed

		summary := SourceSummary{
			SourceID:   id,
			Total:      s.total,
			Classified: classified,
			Failed:     s.failed,
			Positive:   s.positive,
			Neutral:    s.neutral,
			Negative:   s.negative,
			Sarcasm:    s.sarcasm,
			Ratio:      ratio(s.positive, s.negative),
		}
		if classified > 0 {
			summary.MeanScore = s.scoreSum / float64(classified)
		}
		if len(s.ethics) > 0 {
			summary.Ethics = make(map[string]int, len(s.ethics))
			for code, n := range s.ethics {
				summary.Ethics[code] = n
			}
		}

		out.Sources = append(out.Sources, summary)
		out.Total += s.total
		out.Classified += classified
		out.Failed += s.failed
	}
	return out
}

// ratio formats positive/negative. No negatives with some positives is
// "inf"; neither is "undefined".
func ratio(positive, negative int) string {
	switch {
	case negative > 0:
		return fmt.Sprintf("%.2f", float64(positive)/float64(negative))
	case positive > 0:
		return "inf"
	default:
		return "undefined"
	}
}
