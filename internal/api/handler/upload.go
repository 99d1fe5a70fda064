package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
)

var allowedImageType = regexp.MustCompile(`(jpg|jpeg|png|webp|gif)$`)

// upload is a validated image file from a multipart request
type upload struct {
	name     string
	mimeType string
	data     []byte
}

// readUpload reads the "file" field and checks its size and detected type.
// It writes the error reply itself and returns false when the upload is rejected.
func (h *ImageHandler) readUpload(c *gin.Context) (*upload, bool) {
	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			RespondError(c, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request body exceeds %d bytes", maxErr.Limit))
			return nil, false
		}
		RespondError(c, http.StatusBadRequest, "File is required")
		return nil, false
	}

	if fh.Size > h.maxUploadBytes {
		RespondError(c, http.StatusBadRequest, fmt.Sprintf(
			"Validation failed (current file size is %d, expected size is less than %d)",
			fh.Size, h.maxUploadBytes))
		return nil, false
	}

	f, err := fh.Open()
	if err != nil {
		RespondError(c, http.StatusBadRequest, "Failed to read uploaded file")
		return nil, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "Failed to read uploaded file")
		return nil, false
	}

	mt := mimetype.Detect(data)
	if !allowedImageType.MatchString(mt.String()) {
		RespondError(c, http.StatusBadRequest, fmt.Sprintf(
			"Validation failed (current file type is %s, expected type is /(jpg|jpeg|png|webp|gif)$/)",
			mt.String()))
		return nil, false
	}

	return &upload{
		name:     fh.Filename,
		mimeType: mt.String(),
		data:     data,
	}, true
}
