package handler

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/image-jobs/internal/api/dto"
	"github.com/cuongbtq/image-jobs/internal/imaging"
	"github.com/cuongbtq/image-jobs/internal/jobs"
	"github.com/gin-gonic/gin"
)

// Compress handles POST /api/v1/image/compress
// Recompresses the upload and returns metadata with a base64 data URI
func (h *ImageHandler) Compress(c *gin.Context) {
	up, res, ok := h.compress(c)
	if !ok {
		return
	}

	c.JSON(http.StatusCreated, dto.CompressResponse{
		OriginalName:        up.name,
		CompressedName:      imaging.CompressedName(up.name),
		MimeType:            imaging.OutputMimeType,
		OriginalSize:        len(up.data),
		OriginalSizeHuman:   imaging.FormatBytes(int64(len(up.data)), 2),
		CompressedSize:      len(res.Data),
		CompressedSizeHuman: imaging.FormatBytes(int64(len(res.Data)), 2),
		CompressionRatio:    imaging.CompressionRatio(len(up.data), len(res.Data)),
		Width:               res.Width,
		Height:              res.Height,
		Base64:              fmt.Sprintf("data:%s;base64,%s", imaging.OutputMimeType, base64.StdEncoding.EncodeToString(res.Data)),
	})
}

// CompressDownload handles POST /api/v1/image/compress/download
// Streams the compressed file back as an attachment
func (h *ImageHandler) CompressDownload(c *gin.Context) {
	up, res, ok := h.compress(c)
	if !ok {
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, imaging.CompressedName(up.name)))
	c.Data(http.StatusOK, imaging.OutputMimeType, res.Data)
}

func (h *ImageHandler) compress(c *gin.Context) (*upload, *imaging.Result, bool) {
	var req dto.CompressRequest
	if err := c.ShouldBind(&req); err != nil {
		RespondError(c, http.StatusBadRequest, fmt.Sprintf("Validation failed: %s", err.Error()))
		return nil, nil, false
	}

	up, ok := h.readUpload(c)
	if !ok {
		return nil, nil, false
	}

	quality := imaging.DefaultQuality
	if req.Quality != nil {
		quality = *req.Quality
	}

	start := time.Now()
	res, err := imaging.Compress(up.data, quality)
	if err != nil {
		h.logger.Error("Failed to compress image",
			slog.String("file_name", up.name),
			slog.String("error", err.Error()),
		)
		RespondError(c, http.StatusInternalServerError, fmt.Sprintf("Failed to compress image: %s", err.Error()))
		return nil, nil, false
	}

	h.logger.Info("Image compressed",
		slog.String("file_name", up.name),
		slog.Int("quality", quality),
		slog.Int("original_size", len(up.data)),
		slog.Int("compressed_size", len(res.Data)),
		slog.Duration("duration", time.Since(start)),
	)

	return up, res, true
}

// Upscale handles POST /api/v1/image/upscale
// Queues an upscale job and returns its id
func (h *ImageHandler) Upscale(c *gin.Context) {
	var req dto.UpscaleRequest
	if err := c.ShouldBind(&req); err != nil {
		RespondError(c, http.StatusBadRequest, fmt.Sprintf("Validation failed: %s", err.Error()))
		return
	}

	up, ok := h.readUpload(c)
	if !ok {
		return
	}

	factor := jobs.DefaultUpscaleFactor
	if req.Factor != nil {
		factor = *req.Factor
	}
	model := req.Model
	if model == "" {
		model = jobs.DefaultUpscaleModel
	}

	handle, err := h.service.Submit(c.Request.Context(), jobs.UpscaleTask{
		FileName:      up.name,
		UpscaleFactor: factor,
		Model:         model,
		MimeType:      up.mimeType,
		Image:         up.data,
	})
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrValidation):
			RespondError(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, jobs.ErrQueueUnavailable):
			RespondError(c, http.StatusServiceUnavailable, fmt.Sprintf("Failed to queue upscale task: %s", err.Error()))
		default:
			RespondError(c, http.StatusInternalServerError, fmt.Sprintf("Failed to queue upscale task: %s", err.Error()))
		}
		return
	}

	c.JSON(http.StatusCreated, handle)
}

// GetStatus handles GET /api/v1/image/upscale/:jobId
func (h *ImageHandler) GetStatus(c *gin.Context) {
	jobID := c.Param("jobId")
	if !h.validJobID(jobID) {
		RespondError(c, http.StatusNotFound, notFoundMessage(jobID))
		return
	}

	status, err := h.tracker.GetStatus(c.Request.Context(), jobID, h.avgSeconds)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrJobNotFound):
			RespondError(c, http.StatusNotFound, notFoundMessage(jobID))
		case errors.Is(err, jobs.ErrQueueUnavailable):
			h.logger.Error("Failed to get job status",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			RespondError(c, http.StatusServiceUnavailable, err.Error())
		default:
			RespondError(c, http.StatusInternalServerError, err.Error())
		}
		return
	}

	c.JSON(http.StatusOK, status)
}

// StreamProgress handles GET /api/v1/image/upscale/:jobId/progress
// Emits a status event per tick until the client disconnects
func (h *ImageHandler) StreamProgress(c *gin.Context) {
	jobID := c.Param("jobId")
	ctx := c.Request.Context()

	// the stream outlives the server write timeout
	if err := http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("Write deadline not cleared",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	h.logger.Info("Progress stream opened", slog.String("job_id", jobID))
	defer h.logger.Info("Progress stream closed", slog.String("job_id", jobID))

	events := h.streamer.Stream(ctx, jobID, h.avgSeconds)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent("message", ev.Payload())
			c.Writer.Flush()
		}
	}
}

func notFoundMessage(jobID string) string {
	return fmt.Sprintf("Job with ID %s not found", jobID)
}
