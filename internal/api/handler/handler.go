package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/image-jobs/internal/history"
	"github.com/cuongbtq/image-jobs/internal/jobs"
)

// DefaultMaxUploadBytes caps uploaded files at 10MB
const DefaultMaxUploadBytes = 10 << 20

// HistoryReader lists the job ledger
type HistoryReader interface {
	ListJobs(ctx context.Context, filter history.JobFilter) ([]history.Job, error)
	GetJobByID(ctx context.Context, jobID string) (*history.Job, error)
}

// HealthCheck checks one backing service
type HealthCheck func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger             *slog.Logger
	ServiceName        string
	Service            *jobs.Service
	Tracker            *jobs.Tracker
	Streamer           *jobs.Streamer
	AvgDurationSeconds int
	MaxUploadBytes     int64
	// ValidJobID rejects ids the queue could never have issued. Nil accepts every id.
	ValidJobID func(id string) bool
	// History is nil when the ledger is disabled
	History      HistoryReader
	HealthChecks map[string]HealthCheck
}

// ImageHandler handles compress and upscale requests
type ImageHandler struct {
	logger         *slog.Logger
	service        *jobs.Service
	tracker        *jobs.Tracker
	streamer       *jobs.Streamer
	avgSeconds     int
	maxUploadBytes int64
	validJobID     func(string) bool
}

// NewImageHandler creates a new ImageHandler instance
func NewImageHandler(deps *Dependencies) *ImageHandler {
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	validJobID := deps.ValidJobID
	if validJobID == nil {
		validJobID = func(string) bool { return true }
	}
	return &ImageHandler{
		logger:         deps.Logger,
		service:        deps.Service,
		tracker:        deps.Tracker,
		streamer:       deps.Streamer,
		avgSeconds:     deps.AvgDurationSeconds,
		maxUploadBytes: maxUpload,
		validJobID:     validJobID,
	}
}

// JobHandler serves the job history ledger
type JobHandler struct {
	logger  *slog.Logger
	history HistoryReader
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:  deps.Logger,
		history: deps.History,
	}
}

// HealthHandler reports the state of backing services
type HealthHandler struct {
	service string
	checks  map[string]HealthCheck
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(deps *Dependencies) *HealthHandler {
	return &HealthHandler{
		service: deps.ServiceName,
		checks:  deps.HealthChecks,
	}
}
