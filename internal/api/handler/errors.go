package handler

import (
	"net/http"
	"time"

	"github.com/cuongbtq/image-jobs/internal/api/dto"
	"github.com/gin-gonic/gin"
)

// errorName labels the status class in the error envelope
func errorName(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "BadRequestException"
	case http.StatusNotFound:
		return "NotFoundException"
	case http.StatusRequestEntityTooLarge:
		return "PayloadTooLargeException"
	case http.StatusServiceUnavailable:
		return "ServiceUnavailableException"
	case http.StatusNotImplemented:
		return "NotImplementedException"
	default:
		return "InternalServerError"
	}
}

// RespondError aborts the request with the standard error envelope
func RespondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, dto.ErrorResponse{
		Success:    false,
		StatusCode: status,
		Message:    message,
		Error:      errorName(status),
		Path:       c.Request.URL.RequestURI(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	})
}
