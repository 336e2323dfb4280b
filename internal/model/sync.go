package model

import (
	"time"

	"github.com/google/uuid"
)

// UpsertOutcome classifies what an upsert did to the cache row.
type UpsertOutcome string

const (
	UpsertInserted  UpsertOutcome = "inserted"
	UpsertUpdated   UpsertOutcome = "updated"
	UpsertUnchanged UpsertOutcome = "unchanged"
)

// SyncResult is the batch summary of one sync run. Per-record failures are
// collected here rather than aborting the batch.
type SyncResult struct {
	Fetched   int      `json:"fetched"`
	Inserted  int      `json:"inserted"`
	Updated   int      `json:"updated"`
	Unchanged int      `json:"unchanged"`
	Errors    []string `json:"errors,omitempty"`

	// PageAborted is set when a later-page fetch failed and the rest of the
	// run was skipped. Such a run must not advance the incremental cursor.
	PageAborted bool `json:"page_aborted,omitempty"`
}

func (r *SyncResult) Record(outcome UpsertOutcome) {
	switch outcome {
	case UpsertInserted:
		r.Inserted++
	case UpsertUpdated:
		r.Updated++
	case UpsertUnchanged:
		r.Unchanged++
	}
}

func (r *SyncResult) AddError(err error) {
	r.Errors = append(r.Errors, err.Error())
}

// Merge folds another result into this one.
func (r *SyncResult) Merge(other *SyncResult) {
	if other == nil {
		return
	}
	r.Fetched += other.Fetched
	r.Inserted += other.Inserted
	r.Updated += other.Updated
	r.Unchanged += other.Unchanged
	r.Errors = append(r.Errors, other.Errors...)
	r.PageAborted = r.PageAborted || other.PageAborted
}

// SyncRunStatus is the lifecycle state of a persisted sync run.
type SyncRunStatus string

const (
	SyncRunStatusRunning   SyncRunStatus = "running"
	SyncRunStatusCompleted SyncRunStatus = "completed"
	SyncRunStatusFailed    SyncRunStatus = "failed"
	// Partial marks a run that cached some records but lost a page; it never
	// serves as a cursor anchor.
	SyncRunStatusPartial SyncRunStatus = "partial"
)

// SyncRun is the persisted bookkeeping row for one sync run per owner. The
// StartedAt of the last completed run anchors the next incremental run's
// "since" cursor.
type SyncRun struct {
	Base
	OwnerID    uuid.UUID     `json:"owner_id" db:"owner_id"`
	Status     SyncRunStatus `json:"status" db:"status"`
	StartedAt  time.Time     `json:"started_at" db:"started_at"`
	FinishedAt *time.Time    `json:"finished_at" db:"finished_at"`
	Fetched    int           `json:"fetched" db:"fetched"`
	Inserted   int           `json:"inserted" db:"inserted"`
	Updated    int           `json:"updated" db:"updated"`
	Unchanged  int           `json:"unchanged" db:"unchanged"`
	ErrorCount int           `json:"error_count" db:"error_count"`
	LastError  *string       `json:"last_error" db:"last_error"`
}

// DispatchResult is the batch summary of one dispatcher run.
type DispatchResult struct {
	Processed     int      `json:"processed"`
	Sent          int      `json:"sent"`
	Skipped       int      `json:"skipped"`
	Failed        int      `json:"failed"`
	Retried       int      `json:"retried"`
	Deferred      int      `json:"deferred"`
	OwnersSkipped int      `json:"owners_skipped"`
	Errors        []string `json:"errors,omitempty"`
}

func (r *DispatchResult) AddError(err error) {
	r.Errors = append(r.Errors, err.Error())
}
