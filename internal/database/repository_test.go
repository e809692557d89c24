//nolint:testpackage // exercising repositories against an in-memory database
package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/jonesrussell/sentiment-pipeline/internal/domain"
)

func testDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Connect("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func sampleResults() []domain.ClassificationResult {
	return []domain.ClassificationResult{
		{CommentID: "c1", SourceID: "vid-1", Sentiment: domain.SentimentPositive, Score: 0.8, Status: domain.ResultOK},
		{CommentID: "c2", SourceID: "vid-1", Sentiment: domain.SentimentNegative, Score: -0.5, Status: domain.ResultOK},
	}
}

func TestCacheMissReturnsNil(t *testing.T) {
	repo := NewCacheRepository(testDB(t))
	got, err := repo.Get(context.Background(), "no-such-fingerprint")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected nil on miss, got %v", got)
	}
}

func TestCachePutGet(t *testing.T) {
	repo := NewCacheRepository(testDB(t))
	ctx := context.Background()

	if err := repo.Put(ctx, "fp-1", "test-model", sampleResults()); err != nil {
		t.Fatal(err)
	}

	got, err := repo.Get(ctx, "fp-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 cached results, got %d", len(got))
	}
	if got[0].CommentID != "c1" || got[0].Sentiment != domain.SentimentPositive {
		t.Errorf("cached result mismatch: %+v", got[0])
	}
}

func TestCachePutOverwrites(t *testing.T) {
	repo := NewCacheRepository(testDB(t))
	ctx := context.Background()

	if err := repo.Put(ctx, "fp-1", "model-a", sampleResults()); err != nil {
		t.Fatal(err)
	}
	updated := sampleResults()[:1]
	if err := repo.Put(ctx, "fp-1", "model-b", updated); err != nil {
		t.Fatal(err)
	}

	got, err := repo.Get(ctx, "fp-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("expected overwrite to 1 result, got %d", len(got))
	}
}

func TestCachePrune(t *testing.T) {
	repo := NewCacheRepository(testDB(t))
	ctx := context.Background()

	if err := repo.Put(ctx, "fp-old", "m", sampleResults()); err != nil {
		t.Fatal(err)
	}

	n, err := repo.Prune(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned row, got %d", n)
	}
	got, err := repo.Get(ctx, "fp-old")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("pruned fingerprint should miss")
	}
}

func sampleManifest() *domain.RunManifest {
	return &domain.RunManifest{
		RunID:     "run-1",
		State:     domain.RunRequesting,
		StartedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		Batches: []domain.BatchStatus{
			{Index: 0, Fingerprint: "fp-0", Size: 6, Status: domain.BatchSucceeded},
			{Index: 1, Fingerprint: "fp-1", Size: 6, Status: domain.BatchFailed, Error: "boom"},
		},
	}
}

func TestRunSaveAndGet(t *testing.T) {
	repo := NewRunRepository(testDB(t))
	ctx := context.Background()

	if err := repo.Save(ctx, sampleManifest()); err != nil {
		t.Fatal(err)
	}

	rec, err := repo.Get(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != string(domain.RunRequesting) {
		t.Errorf("state = %q", rec.State)
	}
	if rec.FinishedAt != nil {
		t.Error("unfinished run should have nil finished_at")
	}
}

func TestRunSaveUpsertsState(t *testing.T) {
	repo := NewRunRepository(testDB(t))
	ctx := context.Background()

	m := sampleManifest()
	if err := repo.Save(ctx, m); err != nil {
		t.Fatal(err)
	}
	m.State = domain.RunDone
	m.FinishedAt = m.StartedAt.Add(time.Minute)
	if err := repo.Save(ctx, m); err != nil {
		t.Fatal(err)
	}

	rec, err := repo.Get(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != string(domain.RunDone) {
		t.Errorf("state = %q, want done", rec.State)
	}
	if rec.FinishedAt == nil {
		t.Error("finished run should have finished_at set")
	}
}

func TestRunGetNotFound(t *testing.T) {
	repo := NewRunRepository(testDB(t))
	if _, err := repo.Get(context.Background(), "nope"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRunSaveSummary(t *testing.T) {
	repo := NewRunRepository(testDB(t))
	ctx := context.Background()

	if err := repo.Save(ctx, sampleManifest()); err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveSummary(ctx, "run-1", []byte(`{"total": 12}`)); err != nil {
		t.Fatal(err)
	}

	rec, err := repo.Get(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.SummaryJSON != `{"total": 12}` {
		t.Errorf("summary = %q", rec.SummaryJSON)
	}

	if err := repo.SaveSummary(ctx, "missing", []byte(`{}`)); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound for unknown run, got %v", err)
	}
}

func TestRunList(t *testing.T) {
	repo := NewRunRepository(testDB(t))
	ctx := context.Background()

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		m := sampleManifest()
		m.RunID = id
		m.StartedAt = m.StartedAt.Add(time.Duration(i) * time.Hour)
		if err := repo.Save(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := repo.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(recs))
	}
	if recs[0].RunID != "run-c" {
		t.Errorf("expected newest first, got %q", recs[0].RunID)
	}
}
