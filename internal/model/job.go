package model

import "time"

// JobStatus represents the lifecycle state of an uploaded batch of leads.
type JobStatus string

const (
	JobStatusPending             JobStatus = "pending"
	JobStatusProcessing          JobStatus = "processing"
	JobStatusCompleted           JobStatus = "completed"
	JobStatusCompletedWithErrors JobStatus = "completed_with_errors"
	JobStatusFailed              JobStatus = "failed"
	JobStatusCancelled           JobStatus = "cancelled"
)

// IsTerminal reports whether no further scheduling happens for the job.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusCompletedWithErrors, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IsActive reports whether the scheduler may still select records from the job.
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// Job is a single uploaded spreadsheet of leads.
type Job struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	Filename string    `json:"filename"`
	Status   JobStatus `json:"status"`

	TotalRecords int `json:"total_records"`
	// ProcessedRecords is a cached count of completed+failed records as of
	// the last aggregate recompute. Records are the source of truth.
	ProcessedRecords int `json:"processed_records"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Progress is a derived view of how far a job has advanced.
type Progress struct {
	Total      int           `json:"total"`
	Pending    int           `json:"pending"`
	Processing int           `json:"processing"`
	Completed  int           `json:"completed"`
	Failed     int           `json:"failed"`
	Degraded   int           `json:"degraded"`
	Percent    float64       `json:"percent"`
	ETA        time.Duration `json:"eta_ns"`
}

// Done returns the number of records in a terminal status.
func (p Progress) Done() int {
	return p.Completed + p.Failed
}
