package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/image-jobs/internal/api/dto"
	"github.com/cuongbtq/image-jobs/internal/history"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListJobs handles GET /api/v1/jobs
// Lists ledger rows newest first with cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		RespondError(c, http.StatusBadRequest, "Invalid query parameters")
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := history.DecodeCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		RespondError(c, http.StatusBadRequest, "Invalid cursor")
		return
	}

	rows, err := h.history.ListJobs(c.Request.Context(), history.JobFilter{
		JobType:  req.JobType,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		RespondError(c, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	rows, nextCursor := history.Page(rows, req.PageSize)

	out := make([]dto.JobDTO, len(rows))
	for i := range rows {
		out[i] = toJobDTO(&rows[i])
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       out,
		NextCursor: nextCursor,
	})
}

// GetJob handles GET /api/v1/jobs/:jobId
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("jobId")

	job, err := h.history.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, history.ErrJobNotFound) {
			RespondError(c, http.StatusNotFound, notFoundMessage(jobID))
			return
		}
		h.logger.Error("Failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		RespondError(c, http.StatusInternalServerError, "Failed to get job")
		return
	}

	c.JSON(http.StatusOK, toJobDTO(job))
}

func toJobDTO(job *history.Job) dto.JobDTO {
	out := dto.JobDTO{
		JobID:         job.JobID,
		JobType:       job.JobType,
		Status:        job.Status,
		FileName:      job.FileName,
		UpscaleFactor: job.UpscaleFactor,
		Model:         job.Model,
		ErrorMessage:  job.ErrorMessage,
		CreatedAt:     job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     job.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if job.StartedAt.Valid {
		out.StartedAt = job.StartedAt.Time.UTC().Format(time.RFC3339)
	}
	if job.CompletedAt.Valid {
		out.CompletedAt = job.CompletedAt.Time.UTC().Format(time.RFC3339)
	}
	return out
}
