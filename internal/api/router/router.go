package router

import (
	"net/http"

	"github.com/cuongbtq/image-jobs/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// bodyOverhead leaves room for multipart framing and form fields on top of the file itself
const bodyOverhead = 1 << 20

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(RecoveryMiddleware(deps.Logger))
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.NoRoute(func(c *gin.Context) {
		handler.RespondError(c, http.StatusNotFound, "Cannot "+c.Request.Method+" "+c.Request.URL.Path)
	})

	healthHandler := handler.NewHealthHandler(deps)
	r.GET("/health", healthHandler.Health)

	imageHandler := handler.NewImageHandler(deps)

	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = handler.DefaultMaxUploadBytes
	}
	limit := BodyLimitMiddleware(maxUpload + bodyOverhead)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		image := v1.Group("/image")
		{
			// POST /api/v1/image/compress - Compress and return metadata
			image.POST("/compress", limit, imageHandler.Compress)

			// POST /api/v1/image/compress/download - Compress and return the file
			image.POST("/compress/download", limit, imageHandler.CompressDownload)

			// POST /api/v1/image/upscale - Queue an upscale job
			image.POST("/upscale", limit, imageHandler.Upscale)

			// GET /api/v1/image/upscale/:jobId - Job status
			image.GET("/upscale/:jobId", imageHandler.GetStatus)

			// GET /api/v1/image/upscale/:jobId/progress - Job status stream
			image.GET("/upscale/:jobId/progress", imageHandler.StreamProgress)
		}

		if deps.History != nil {
			jobHandler := handler.NewJobHandler(deps)
			jobs := v1.Group("/jobs")
			{
				// GET /api/v1/jobs - List ledger rows with filtering and pagination
				jobs.GET("", jobHandler.ListJobs)

				// GET /api/v1/jobs/:jobId - Ledger row for one job
				jobs.GET("/:jobId", jobHandler.GetJob)
			}
		}
	}

	return r
}
