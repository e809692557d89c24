package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/sentiment-pipeline/internal/domain"
)

// CacheRepository stores classified batch results keyed by the batch's
// content fingerprint, so re-runs over unchanged exports skip the
// classification service entirely.
type CacheRepository struct {
	db *sqlx.DB
}

// NewCacheRepository creates a batch result cache over db.
func NewCacheRepository(db *sqlx.DB) *CacheRepository {
	return &CacheRepository{db: db}
}

// Get returns the cached results for a fingerprint, or (nil, nil) on a miss.
// A cache row the current code cannot decode is treated as a miss.
func (r *CacheRepository) Get(ctx context.Context, fingerprint string) ([]domain.ClassificationResult, error) {
	var resultsJSON string
	query := r.db.Rebind(`SELECT results_json FROM batch_results WHERE fingerprint = ?`)
	err := r.db.GetContext(ctx, &resultsJSON, query, fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}

	var results []domain.ClassificationResult
	if unmarshalErr := json.Unmarshal([]byte(resultsJSON), &results); unmarshalErr != nil {
		return nil, nil
	}
	return results, nil
}

// Put stores a batch's results under its fingerprint. Replays overwrite, so
// the newest classification of identical content wins.
func (r *CacheRepository) Put(ctx context.Context, fingerprint, model string, results []domain.ClassificationResult) error {
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal cached results: %w", err)
	}

	query := r.db.Rebind(`
		INSERT INTO batch_results (fingerprint, results_json, model, row_count, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (fingerprint) DO UPDATE SET
			results_json = EXCLUDED.results_json,
			model = EXCLUDED.model,
			row_count = EXCLUDED.row_count,
			created_at = EXCLUDED.created_at`)

	_, err = r.db.ExecContext(ctx, query, fingerprint, string(data), model, len(results), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

// Prune deletes cache rows older than the cutoff and reports how many were
// removed.
func (r *CacheRepository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	query := r.db.Rebind(`DELETE FROM batch_results WHERE created_at < ?`)
	res, err := r.db.ExecContext(ctx, query, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("cache prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache prune rows: %w", err)
	}
	return n, nil
}
