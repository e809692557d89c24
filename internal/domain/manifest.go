package domain

import "time"

// Batch terminal status constants.
const (
	BatchSucceeded = "succeeded"
	BatchFailed    = "failed"
)

// RunState tracks a pipeline run through its lifecycle.
type RunState string

// Pipeline run states. FailedPartial is a valid terminal state distinct from
// a total abort, which only happens on a configuration error before any
// batch is processed.
const (
	RunIdle          RunState = "idle"
	RunPlanning      RunState = "planning"
	RunRequesting    RunState = "requesting"
	RunParsing       RunState = "parsing"
	RunAggregating   RunState = "aggregating"
	RunDone          RunState = "done"
	RunFailedPartial RunState = "failed_partial"
)

// BatchStatus records the terminal outcome of one batch.
type BatchStatus struct {
	Index       int      `json:"index"`
	Fingerprint string   `json:"fingerprint"`
	Size        int      `json:"size"`
	SourceIDs   []string `json:"source_ids"`
	Status      string   `json:"status"`
	Error       string   `json:"error,omitempty"`
	Attempts    int      `json:"attempts"`
	FromCache   bool     `json:"from_cache"`
}

// RunManifest is the run-level record of every batch's terminal status. It is
// what makes partial failure visible to operators and re-runnable.
type RunManifest struct {
	RunID      string        `json:"run_id"`
	State      RunState      `json:"state"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	Batches    []BatchStatus `json:"batches"`
}

// FailedBatches returns the statuses of batches that ended failed.
func (m *RunManifest) FailedBatches() []BatchStatus {
	var failed []BatchStatus
	for _, b := range m.Batches {
		if b.Status == BatchFailed {
			failed = append(failed, b)
		}
	}
	return failed
}

// Partial reports whether at least one batch ended failed.
func (m *RunManifest) Partial() bool {
	return len(m.FailedBatches()) > 0
}
