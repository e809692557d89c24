package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Field defines a single Elasticsearch field mapping.
type Field struct {
	Type   string `json:"type"`
	Index  *bool  `json:"index,omitempty"`
	Format string `json:"format,omitempty"`
}

// indexSettings defines index-level settings for the results index.
type indexSettings struct {
	NumberOfShards   int `json:"number_of_shards"`
	NumberOfReplicas int `json:"number_of_replicas"`
}

// resultProperties defines the field mappings for classified comments.
type resultProperties struct {
	CommentID    Field `json:"comment_id"`
	SourceID     Field `json:"videoId"`
	RunID        Field `json:"run_id"`
	Sentiment    Field `json:"sentiment"`
	Score        Field `json:"score"`
	Sarcasm      Field `json:"sarcasm"`
	Ethics       Field `json:"ethics"`
	Status       Field `json:"status"`
	ClassifiedAt Field `json:"classified_at"`
}

// resultMapping is the full index definition for classified comments.
type resultMapping struct {
	Settings indexSettings `json:"settings"`
	Mappings struct {
		Properties resultProperties `json:"properties"`
	} `json:"mappings"`
}

func newResultMapping() resultMapping {
	var m resultMapping
	m.Settings = indexSettings{NumberOfShards: 1, NumberOfReplicas: 1}
	m.Mappings.Properties = resultProperties{
		CommentID:    Field{Type: "keyword"},
		SourceID:     Field{Type: "keyword"},
		RunID:        Field{Type: "keyword"},
		Sentiment:    Field{Type: "keyword"},
		Score:        Field{Type: "float"},
		Sarcasm:      Field{Type: "boolean"},
		Ethics:       Field{Type: "keyword"},
		Status:       Field{Type: "keyword"},
		ClassifiedAt: Field{Type: "date"},
	}
	return m
}

// EnsureIndex creates the results index with its mapping if it does not
// already exist.
func (s *ResultSink) EnsureIndex(ctx context.Context) error {
	exists, err := s.client.Indices.Exists(
		[]string{s.index},
		s.client.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("check index %s: %w", s.index, err)
	}
	defer exists.Body.Close()
	if exists.StatusCode == http.StatusOK {
		return nil
	}

	body, err := json.Marshal(newResultMapping())
	if err != nil {
		return fmt.Errorf("marshal index mapping: %w", err)
	}

	res, err := s.client.Indices.Create(
		s.index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", s.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("create index %s: %s", s.index, res.String())
	}
	return nil
}
