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

// ErrRunNotFound is returned when no run exists for the requested ID.
var ErrRunNotFound = errors.New("run not found")

// RunRepository persists run manifests and their summary output so the
// operator API can report on past runs.
type RunRepository struct {
	db *sqlx.DB
}

// NewRunRepository creates a run store over db.
func NewRunRepository(db *sqlx.DB) *RunRepository {
	return &RunRepository{db: db}
}

// RunRecord is one persisted run row. SummaryJSON is empty until the run
// reaches a terminal state.
type RunRecord struct {
	RunID       string     `db:"run_id"`
	State       string     `db:"state"`
	Manifest    string     `db:"manifest_json"`
	SummaryJSON string     `db:"summary_json"`
	StartedAt   time.Time  `db:"started_at"`
	FinishedAt  *time.Time `db:"finished_at"`
}

// Save upserts the manifest's current state.
func (r *RunRepository) Save(ctx context.Context, m *domain.RunManifest) error {
	manifestJSON, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	query := r.db.Rebind(`
		INSERT INTO runs (run_id, state, manifest_json, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET
			state = EXCLUDED.state,
			manifest_json = EXCLUDED.manifest_json,
			finished_at = EXCLUDED.finished_at`)

	var finished *time.Time
	if !m.FinishedAt.IsZero() {
		t := m.FinishedAt.UTC()
		finished = &t
	}
	_, err = r.db.ExecContext(ctx, query,
		m.RunID, string(m.State), string(manifestJSON), m.StartedAt.UTC(), finished)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// SaveSummary attaches the aggregate summary JSON to a finished run.
func (r *RunRepository) SaveSummary(ctx context.Context, runID string, summaryJSON []byte) error {
	query := r.db.Rebind(`UPDATE runs SET summary_json = ? WHERE run_id = ?`)
	res, err := r.db.ExecContext(ctx, query, string(summaryJSON), runID)
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save summary rows: %w", err)
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// Get returns one run by ID.
func (r *RunRepository) Get(ctx context.Context, runID string) (*RunRecord, error) {
	var rec RunRecord
	query := r.db.Rebind(`
		SELECT run_id, state, manifest_json, COALESCE(summary_json, '') AS summary_json,
		       started_at, finished_at
		FROM runs WHERE run_id = ?`)
	err := r.db.GetContext(ctx, &rec, query, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &rec, nil
}

// List returns the most recent runs, newest first.
func (r *RunRepository) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []RunRecord
	query := r.db.Rebind(`
		SELECT run_id, state, manifest_json, COALESCE(summary_json, '') AS summary_json,
		       started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?`)
	if err := r.db.SelectContext(ctx, &recs, query, limit); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return recs, nil
}
