package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/image-jobs/internal/jobs"
	"github.com/cuongbtq/image-jobs/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

// Schema creates the jobs table and its indexes
//
//go:embed schema.sql
var Schema string

// ErrJobNotFound is returned when the ledger has no row for a job id
var ErrJobNotFound = errors.New("job not found in history")

// Storage records the job lifecycle in SQL. It is a jobs.Listener.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Migrate creates the jobs table and its indexes if they are missing
func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := postgresql.ExecSchema(ctx, s.db, Schema); err != nil {
		return fmt.Errorf("failed to migrate history schema: %w", err)
	}
	return nil
}

// OnJobEvent implements jobs.Listener
func (s *Storage) OnJobEvent(ctx context.Context, ev jobs.LifecycleEvent) error {
	at := ev.OccurredAt
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()

	switch ev.Type {
	case jobs.EventSubmitted:
		return s.CreateJob(ctx, newJob(ev, JobStatusPending, at))
	case jobs.EventStarted:
		return s.MarkStarted(ctx, newJob(ev, JobStatusRunning, at))
	case jobs.EventCompleted:
		return s.MarkFinished(ctx, ev.JobID, JobStatusCompleted, "", at)
	case jobs.EventFailed:
		return s.MarkFinished(ctx, ev.JobID, JobStatusFailed, ev.Error, at)
	default:
		return nil
	}
}

func newJob(ev jobs.LifecycleEvent, status string, at time.Time) *Job {
	job := &Job{
		JobID:     ev.JobID,
		JobType:   ev.Name,
		Status:    status,
		CreatedAt: at,
		UpdatedAt: at,
	}
	if t, ok := ev.Task.(jobs.UpscaleTask); ok {
		job.FileName = t.FileName
		job.UpscaleFactor = t.UpscaleFactor
		job.Model = t.Model
	}
	return job
}

// CreateJob inserts a PENDING row. A row that already exists is left untouched.
func (s *Storage) CreateJob(ctx context.Context, job *Job) error {
	query := s.db.Rebind(`
		INSERT INTO jobs (
			job_id, job_type, status, file_name,
			upscale_factor, model, created_at, updated_at
		) VALUES (
			?, ?, ?, ?,
			?, ?, ?, ?
		)
		ON CONFLICT (job_id) DO NOTHING
	`)

	_, err := s.db.ExecContext(ctx, query,
		job.JobID,
		job.JobType,
		job.Status,
		job.FileName,
		job.UpscaleFactor,
		job.Model,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// MarkStarted moves a job to RUNNING, inserting it when the submitter did not record it
func (s *Storage) MarkStarted(ctx context.Context, job *Job) error {
	query := s.db.Rebind(`
		INSERT INTO jobs (
			job_id, job_type, status, file_name,
			upscale_factor, model, created_at, updated_at, started_at
		) VALUES (
			?, ?, ?, ?,
			?, ?, ?, ?, ?
		)
		ON CONFLICT (job_id) DO UPDATE
		SET status = excluded.status,
		    started_at = excluded.started_at,
		    updated_at = excluded.updated_at
	`)

	_, err := s.db.ExecContext(ctx, query,
		job.JobID,
		job.JobType,
		JobStatusRunning,
		job.FileName,
		job.UpscaleFactor,
		job.Model,
		job.CreatedAt,
		job.UpdatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job started: %w", err)
	}

	return nil
}

// MarkFinished sets a terminal status. Rows already terminal are not changed.
func (s *Storage) MarkFinished(ctx context.Context, jobID, status, errorMsg string, at time.Time) error {
	query := s.db.Rebind(`
		UPDATE jobs
		SET status = ?,
		    error_message = ?,
		    completed_at = ?,
		    updated_at = ?
		WHERE job_id = ?
		  AND status NOT IN (?, ?)
	`)

	result, err := s.db.ExecContext(ctx, query,
		status, errorMsg, at, at, jobID,
		JobStatusCompleted, JobStatusFailed,
	)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		s.logger.Warn("Job status update - no rows affected",
			slog.String("job_id", jobID),
			slog.String("status", status),
		)
	}

	return nil
}

// GetJobByID returns the ledger row for jobID
func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	query := s.db.Rebind(`
		SELECT
			job_id, job_type, status, file_name, upscale_factor, model,
			error_message, created_at, updated_at, started_at, completed_at
		FROM jobs
		WHERE job_id = ?
	`)

	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// ListJobs returns up to PageSize+1 rows, newest first. The extra row tells the caller another page exists.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]Job, error) {
	query := `
		SELECT
			job_id, job_type, status, file_name, upscale_factor, model,
			error_message, created_at, updated_at, started_at, completed_at
		FROM jobs
		WHERE 1=1
	`
	args := []interface{}{}

	if filter.JobType != "" {
		query += " AND job_type = ?"
		args = append(args, filter.JobType)
	}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	if filter.Cursor != nil {
		query += " AND (created_at, job_id) < (?, ?)"
		args = append(args, filter.Cursor.CreatedAt.UTC(), filter.Cursor.JobID)
	}

	query += " ORDER BY created_at DESC, job_id DESC"
	query += " LIMIT ?"
	args = append(args, filter.PageSize+1)

	var out []Job
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return out, nil
}
