// Package storage provides the optional per-comment result sink backed by
// Elasticsearch. The summary file is the primary output; the sink exists so
// individual classifications can be searched later.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"

	"github.com/jonesrussell/sentiment-pipeline/internal/domain"
	"github.com/jonesrussell/sentiment-pipeline/internal/logger"
)

// ResultSink indexes classification results into Elasticsearch.
type ResultSink struct {
	client *es.Client
	index  string
	logger logger.Logger
}

// NewResultSink creates a sink writing to the given index.
func NewResultSink(client *es.Client, index string, log logger.Logger) *ResultSink {
	if log == nil {
		log = logger.NewNop()
	}
	return &ResultSink{client: client, index: index, logger: log}
}

// resultDocument is the indexed shape of one classification.
type resultDocument struct {
	CommentID    string    `json:"comment_id"`
	SourceID     string    `json:"videoId"`
	RunID        string    `json:"run_id"`
	Sentiment    string    `json:"sentiment"`
	Score        float64   `json:"score"`
	Sarcasm      bool      `json:"sarcasm"`
	Ethics       []string  `json:"ethics,omitempty"`
	Status       string    `json:"status"`
	ClassifiedAt time.Time `json:"classified_at"`
}

// IndexResults bulk-indexes a batch of results. Document IDs are the comment
// IDs, so replays overwrite rather than duplicate.
func (s *ResultSink) IndexResults(ctx context.Context, runID string, results []domain.ClassificationResult) error {
	if len(results) == 0 {
		return nil
	}

	now := time.Now().UTC()
	var body bytes.Buffer
	for _, r := range results {
		action, err := json.Marshal(map[string]any{
			"index": map[string]string{"_index": s.index, "_id": r.CommentID},
		})
		if err != nil {
			return fmt.Errorf("marshal bulk action: %w", err)
		}
		doc, err := json.Marshal(resultDocument{
			CommentID:    r.CommentID,
			SourceID:     r.SourceID,
			RunID:        runID,
			Sentiment:    string(r.Sentiment),
			Score:        r.Score,
			Sarcasm:      r.Sarcasm,
			Ethics:       r.Ethics,
			Status:       string(r.Status),
			ClassifiedAt: now,
		})
		if err != nil {
			return fmt.Errorf("marshal result document: %w", err)
		}
		body.Write(action)
		body.WriteByte('\n')
		body.Write(doc)
		body.WriteByte('\n')
	}

	res, err := s.client.Bulk(
		bytes.NewReader(body.Bytes()),
		s.client.Bulk.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("bulk index results: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("bulk index error: %s", res.String())
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if decodeErr := json.NewDecoder(res.Body).Decode(&bulkResp); decodeErr != nil {
		return fmt.Errorf("decode bulk response: %w", decodeErr)
	}
	if bulkResp.Errors {
		failed := 0
		for _, item := range bulkResp.Items {
			for _, op := range item {
				if op.Status >= 300 {
					failed++
				}
			}
		}
		s.logger.Warn("partial bulk index failure",
			logger.Int("failed", failed),
			logger.Int("total", len(results)),
		)
		return fmt.Errorf("bulk index rejected %d of %d documents", failed, len(results))
	}

	s.logger.Debug("results indexed",
		logger.String("index", s.index),
		logger.Int("count", len(results)),
	)
	return nil
}
