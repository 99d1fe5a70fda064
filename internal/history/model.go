package history

import (
	"database/sql"
	"time"
)

// Ledger statuses
const (
	JobStatusPending   = "PENDING"
	JobStatusRunning   = "RUNNING"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
)

// Job is one row of the jobs ledger
type Job struct {
	JobID         string       `db:"job_id" json:"jobId"`
	JobType       string       `db:"job_type" json:"jobType"`
	Status        string       `db:"status" json:"status"`
	FileName      string       `db:"file_name" json:"fileName"`
	UpscaleFactor int          `db:"upscale_factor" json:"upscaleFactor"`
	Model         string       `db:"model" json:"model"`
	ErrorMessage  string       `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt     time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time    `db:"updated_at" json:"updatedAt"`
	StartedAt     sql.NullTime `db:"started_at" json:"-"`
	CompletedAt   sql.NullTime `db:"completed_at" json:"-"`
}

// JobFilter narrows a ListJobs call
type JobFilter struct {
	JobType  string
	Status   string
	PageSize int
	Cursor   *JobCursor
}

// JobCursor marks the last row of the previous page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}
