package jobs

import (
	"time"

	"github.com/fyrsmithlabs/ragd/internal/rag"
	"github.com/fyrsmithlabs/ragd/internal/tenant"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusRetrying Status = "retrying"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
)

// Terminal reports whether the job has finished.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Job is a snapshot of one ingestion request.
type Job struct {
	ID        string       `json:"job_id"`
	Scope     tenant.Scope `json:"scope"`
	DocID     string       `json:"doc_id"`
	Status    Status       `json:"status"`
	Stage     rag.State    `json:"stage,omitempty"`
	Attempts  int          `json:"attempts"`
	Chunks    int          `json:"chunks"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Event is published on every job status or stage change.
type Event struct {
	JobID     string    `json:"job_id"`
	TenantID  string    `json:"tenant_id"`
	ProjectID string    `json:"project_id"`
	DocID     string    `json:"doc_id"`
	Status    Status    `json:"status"`
	Stage     rag.State `json:"stage,omitempty"`
	Attempt   int       `json:"attempt"`
	Chunks    int       `json:"chunks,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Name is the last subject token: the stage while running, otherwise the
// status.
func (e Event) Name() string {
	if e.Status == StatusRunning && e.Stage != "" {
		return string(e.Stage)
	}
	return string(e.Status)
}

// EventFor describes the current state of j.
func EventFor(j Job) Event {
	return Event{
		JobID:     j.ID,
		TenantID:  j.Scope.TenantID,
		ProjectID: j.Scope.ProjectID,
		DocID:     j.DocID,
		Status:    j.Status,
		Stage:     j.Stage,
		Attempt:   j.Attempts,
		Chunks:    j.Chunks,
		Error:     j.Error,
		Timestamp: j.UpdatedAt,
	}
}
