package backfill

import (
	"time"

	"github.com/memehubx/memedb/pkg/domain"
)

// Record is a read-only snapshot of one stored document
type Record struct {
	ID     string
	Fields domain.Document
	// Missing marks an id that was requested explicitly but no longer exists
	Missing bool
}

// PendingWrite sets Field to Value on one record
type PendingWrite struct {
	RecordID string      `json:"record_id" msgpack:"record_id"`
	Field    string      `json:"field" msgpack:"field"`
	Value    interface{} `json:"value" msgpack:"value"`
}

// Page is one slice of an id-ordered scan. An empty NextCursor ends the scan.
type Page struct {
	Records    []Record
	NextCursor string
}

// CommitResult reports the outcome of one submitted batch
type CommitResult struct {
	Batch  int
	Count  int
	Writes []PendingWrite
	Err    error
}

// OK reports whether the batch landed
func (r CommitResult) OK() bool { return r.Err == nil }

// BatchFailure records a batch that did not commit
type BatchFailure struct {
	Batch     int      `json:"batch"`
	Reason    string   `json:"reason"`
	RecordIDs []string `json:"record_ids"`
}

// Status is the terminal state of a run
type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialFailure Status = "partial_failure"
	StatusRunAborted     Status = "run_aborted"
	StatusCanceled       Status = "canceled"
)

// Process exit codes, one per terminal status plus startup failures
const (
	ExitSuccess        = 0
	ExitError          = 1
	ExitPartialFailure = 2
	ExitRunAborted     = 3
	ExitConfigError    = 4
	ExitLockHeld       = 5
	ExitCanceled       = 130
)

// ExitCode maps a status to the process exit code
func (s Status) ExitCode() int {
	switch s {
	case StatusSuccess:
		return ExitSuccess
	case StatusPartialFailure:
		return ExitPartialFailure
	case StatusRunAborted:
		return ExitRunAborted
	case StatusCanceled:
		return ExitCanceled
	default:
		return ExitError
	}
}

// RunSummary is the full accounting of one run. Every scanned record is
// counted in exactly one of Committed, Skipped or FailedRecords (Derived
// replaces Committed on a dry run).
type RunSummary struct {
	RunID      string `json:"run_id"`
	Collection string `json:"collection"`
	Field      string `json:"field"`
	DryRun     bool   `json:"dry_run"`
	Status     Status `json:"status"`

	Scanned           int `json:"scanned"`
	Derived           int `json:"derived"`
	Skipped           int `json:"skipped"`
	SkippedCurrent    int `json:"skipped_current"`
	SkippedIneligible int `json:"skipped_ineligible"`
	Committed         int `json:"committed"`
	CommittedBatches  int `json:"committed_batches"`
	FailedBatches     int `json:"failed_batches"`
	FailedRecords     int `json:"failed_records"`

	Failures        []BatchFailure `json:"failures,omitempty"`
	RetryCandidates []PendingWrite `json:"retry_candidates,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}

// RetryIDs returns the record ids listed for retry, in batch order
func (s *RunSummary) RetryIDs() []string {
	ids := make([]string, len(s.RetryCandidates))
	for i, w := range s.RetryCandidates {
		ids[i] = w.RecordID
	}
	return ids
}
