package storage

import (
	"fmt"

	es "github.com/elastic/go-elasticsearch/v8"
)

// NewClient creates an Elasticsearch client for the given address.
func NewClient(url string) (*es.Client, error) {
	client, err := es.NewClient(es.Config{Addresses: []string{url}})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return client, nil
}
