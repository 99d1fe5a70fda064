package dto

// UpscaleRequest holds the non-file fields of an upscale upload
type UpscaleRequest struct {
	Factor *int   `form:"factor" binding:"omitempty,min=2,max=4"`
	Model  string `form:"model"`
}

// CompressRequest holds the non-file fields of a compress upload
type CompressRequest struct {
	Quality *int `form:"quality" binding:"omitempty,min=1,max=100"`
}

// CompressResponse is returned by POST /image/compress
type CompressResponse struct {
	OriginalName        string `json:"originalName"`
	CompressedName      string `json:"compressedName"`
	MimeType            string `json:"mimeType"`
	OriginalSize        int    `json:"originalSize"`
	OriginalSizeHuman   string `json:"originalSizeHuman"`
	CompressedSize      int    `json:"compressedSize"`
	CompressedSizeHuman string `json:"compressedSizeHuman"`
	CompressionRatio    string `json:"compressionRatio"`
	Width               int    `json:"width"`
	Height              int    `json:"height"`
	Base64              string `json:"base64"`
}

type ListJobsRequest struct {
	JobType  string `form:"job_type"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID         string `json:"job_id"`
	JobType       string `json:"job_type"`
	Status        string `json:"status"`
	FileName      string `json:"file_name,omitempty"`
	UpscaleFactor int    `json:"upscale_factor,omitempty"`
	Model         string `json:"model,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
	StartedAt     string `json:"started_at,omitempty"`
	CompletedAt   string `json:"completed_at,omitempty"`
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Error      string `json:"error"`
	Path       string `json:"path"`
	Timestamp  string `json:"timestamp"`
}
