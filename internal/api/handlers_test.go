package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/sentiment-pipeline/internal/api"
	"github.com/jonesrussell/sentiment-pipeline/internal/database"
	"github.com/jonesrussell/sentiment-pipeline/internal/logger"
)

type fakeRunStore struct {
	runs map[string]*database.RunRecord
}

func (f *fakeRunStore) Get(_ context.Context, runID string) (*database.RunRecord, error) {
	rec, ok := f.runs[runID]
	if !ok {
		return nil, database.ErrRunNotFound
	}
	return rec, nil
}

func (f *fakeRunStore) List(_ context.Context, limit int) ([]database.RunRecord, error) {
	out := make([]database.RunRecord, 0, len(f.runs))
	for _, rec := range f.runs {
		out = append(out, *rec)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeLauncher struct {
	mu       sync.Mutex
	launched []string
	done     chan struct{}
}

func (f *fakeLauncher) Launch(exportPath, _ string) error {
	f.mu.Lock()
	f.launched = append(f.launched, exportPath)
	f.mu.Unlock()
	if f.done != nil {
		close(f.done)
	}
	return nil
}

func newTestRouter(store *fakeRunStore, launcher *fakeLauncher) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := api.NewHandler(launcher, store, nil, "sentiment-pipeline", "1.0.0", logger.NewNop())
	router := gin.New()
	api.SetupRoutes(router, handler, api.ServerConfig{RatePerSecond: 100, RateBurst: 100})
	return router
}

func sampleRecord() *database.RunRecord {
	return &database.RunRecord{
		RunID:       "run-1",
		State:       "done",
		Manifest:    `{"run_id": "run-1", "state": "done", "batches": []}`,
		SummaryJSON: `{"run_id": "run-1", "total": 14}`,
		StartedAt:   time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestHealthCheck(t *testing.T) {
	router := newTestRouter(&fakeRunStore{}, &fakeLauncher{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["service"] != "sentiment-pipeline" {
		t.Errorf("unexpected health body: %v", body)
	}
}

func TestStartRun(t *testing.T) {
	launcher := &fakeLauncher{done: make(chan struct{})}
	router := newTestRouter(&fakeRunStore{}, launcher)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs",
		strings.NewReader(`{"export_path": "comments.json", "output_path": "summary.json"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	select {
	case <-launcher.done:
	case <-time.After(time.Second):
		t.Fatal("launcher never invoked")
	}
	if launcher.launched[0] != "comments.json" {
		t.Errorf("launched with %q", launcher.launched[0])
	}
}

func TestStartRunRejectsBadBody(t *testing.T) {
	router := newTestRouter(&fakeRunStore{}, &fakeLauncher{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestGetRun(t *testing.T) {
	store := &fakeRunStore{runs: map[string]*database.RunRecord{"run-1": sampleRecord()}}
	router := newTestRouter(store, &fakeLauncher{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-1", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["run_id"] != "run-1" || body["state"] != "done" {
		t.Errorf("unexpected body: %v", body)
	}
	if _, ok := body["manifest"]; !ok {
		t.Error("detail endpoint should include the manifest")
	}
}

func TestGetRunNotFound(t *testing.T) {
	router := newTestRouter(&fakeRunStore{runs: map[string]*database.RunRecord{}}, &fakeLauncher{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/nope", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestGetSummary(t *testing.T) {
	store := &fakeRunStore{runs: map[string]*database.RunRecord{"run-1": sampleRecord()}}
	router := newTestRouter(store, &fakeLauncher{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-1/summary", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["total"] != float64(14) {
		t.Errorf("unexpected summary: %v", body)
	}
}

func TestGetSummaryPending(t *testing.T) {
	rec := sampleRecord()
	rec.SummaryJSON = ""
	store := &fakeRunStore{runs: map[string]*database.RunRecord{"run-1": rec}}
	router := newTestRouter(store, &fakeLauncher{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-1/summary", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestListRuns(t *testing.T) {
	store := &fakeRunStore{runs: map[string]*database.RunRecord{"run-1": sampleRecord()}}
	router := newTestRouter(store, &fakeLauncher{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Runs  []map[string]any `json:"runs"`
		Total int              `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Total != 1 || len(body.Runs) != 1 {
		t.Errorf("unexpected list: %+v", body)
	}
}

func TestThrottle(t *testing.T) {
	store := &fakeRunStore{runs: map[string]*database.RunRecord{}}
	gin.SetMode(gin.TestMode)
	handler := api.NewHandler(&fakeLauncher{}, store, nil, "svc", "1.0.0", logger.NewNop())
	router := gin.New()
	api.SetupRoutes(router, handler, api.ServerConfig{RatePerSecond: 1, RateBurst: 1})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	throttled := 0
	for _, code := range codes {
		if code == http.StatusTooManyRequests {
			throttled++
		}
	}
	if throttled == 0 {
		t.Errorf("expected at least one throttled request, got codes %v", codes)
	}
}
