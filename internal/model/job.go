package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of an analysis job.
type JobStatus string

// Job lifecycle states. JobUnknown is the terminal gave-up outcome a
// bounded poller surfaces when it can no longer observe a job.
const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobUnknown   JobStatus = "unknown"
)

// DeriveJobID computes the deterministic job identity for an account. The
// same (owner, account) pair always yields the same id, which is what makes
// StartOrResume idempotent: at most one logical job exists per account.
func DeriveJobID(ownerID, accountID string) string {
	sum := sha256.Sum256([]byte(ownerID + ":" + accountID))
	return fmt.Sprintf("job-%x", sum[:8])
}

// AnalysisJob is one run of the classification pipeline over one account.
type AnalysisJob struct {
	StartedAt      time.Time `json:"startedAt,omitempty"`
	FinishedAt     time.Time `json:"finishedAt,omitempty"`
	JobID          string    `json:"jobId"`
	OwnerID        string    `json:"ownerId"`
	AccountID      string    `json:"accountId"`
	Error          string    `json:"error,omitempty"`
	Status         JobStatus `json:"status"`
	ProcessedCount int       `json:"processedCount"`
	TotalCount     int       `json:"totalCount"`
}

// Terminal reports whether the job can transition no further.
func (j *AnalysisJob) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

// Snapshot projects the job into its read-only subscriber view.
func (j *AnalysisJob) Snapshot() ProgressSnapshot {
	return ProgressSnapshot{
		JobID:     j.JobID,
		Processed: j.ProcessedCount,
		Total:     j.TotalCount,
		Remaining: RemainingUnknown,
		Status:    j.Status,
	}
}

// RemainingUnknown marks a snapshot whose remaining-item count was not
// derived from per-record statuses.
const RemainingUnknown = -1

// ProgressSnapshot is a read-only projection of an AnalysisJob. It is a
// view, never the source of truth, and subscribers must treat it as an
// idempotent overwrite rather than a delta.
type ProgressSnapshot struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	// Remaining counts pending plus running records when the snapshot was
	// computed from record statuses, RemainingUnknown otherwise.
	Remaining int `json:"remaining"`
}

// Terminal is the single canonical completion predicate. Completion arrives
// in any of three equivalent forms and all of them must terminate a waiter:
// an explicit terminal status, processed catching up with a known total, or
// zero remaining unprocessed records.
func (s ProgressSnapshot) Terminal() bool {
	switch s.Status {
	case JobCompleted, JobFailed, JobUnknown:
		return true
	case JobQueued, JobRunning:
	}
	if s.Total > 0 && s.Processed >= s.Total {
		return true
	}
	if s.Total > 0 && s.Remaining == 0 {
		return true
	}
	return false
}

// StatusCounts aggregates per-record analysis states for one account.
type StatusCounts struct {
	Pending   int
	Running   int
	Completed int
	Failed    int
}

// Total is the number of records counted.
func (c StatusCounts) Total() int {
	return c.Pending + c.Running + c.Completed + c.Failed
}

// Remaining is the number of records without a terminal status.
func (c StatusCounts) Remaining() int {
	return c.Pending + c.Running
}

// Snapshot derives a progress view purely from record statuses, used when
// the job document itself cannot be read.
func (c StatusCounts) Snapshot(jobID string) ProgressSnapshot {
	status := JobRunning
	if c.Total() > 0 && c.Remaining() == 0 {
		status = JobCompleted
	}
	return ProgressSnapshot{
		JobID:     jobID,
		Processed: c.Completed + c.Failed,
		Total:     c.Total(),
		Remaining: c.Remaining(),
		Status:    status,
	}
}
