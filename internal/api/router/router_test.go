package router_test

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/image-jobs/internal/api/dto"
	"github.com/cuongbtq/image-jobs/internal/api/handler"
	"github.com/cuongbtq/image-jobs/internal/api/router"
	"github.com/cuongbtq/image-jobs/internal/history"
	"github.com/cuongbtq/image-jobs/internal/jobs"
	"github.com/cuongbtq/image-jobs/internal/jobs/jobstest"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	store  *jobstest.MemoryStore
	deps   *handler.Dependencies
	engine *gin.Engine
}

func newTestEnv(t *testing.T, mutate func(*handler.Dependencies)) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := jobstest.NewMemoryStore()
	tracker := jobs.NewTracker(store)

	deps := &handler.Dependencies{
		Logger:             logger,
		ServiceName:        "image-jobs-api",
		Service:            jobs.NewService(store, jobs.NewNotifier(logger), logger),
		Tracker:            tracker,
		Streamer:           jobs.NewStreamer(tracker, 20*time.Millisecond, logger),
		AvgDurationSeconds: 25,
	}
	if mutate != nil {
		mutate(deps)
	}

	return &testEnv{
		store:  store,
		deps:   deps,
		engine: router.SetupRouter(deps),
	}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, path, fileName string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if data != nil {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestUpscale_QueuesJob(t *testing.T) {
	env := newTestEnv(t, nil)
	data := pngBytes(t, 8, 8)

	w := env.do(multipartRequest(t, "/api/v1/image/upscale", "cat.png", data, nil))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var handle jobs.Handle
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &handle))
	assert.Equal(t, "1", handle.JobID)

	job, err := env.store.Fetch(context.Background(), handle.JobID)
	require.NoError(t, err)
	task, err := jobs.DecodeTask(job.Name, job.Payload)
	require.NoError(t, err)

	up, ok := task.(jobs.UpscaleTask)
	require.True(t, ok)
	assert.Equal(t, "cat.png", up.FileName)
	assert.Equal(t, jobs.DefaultUpscaleFactor, up.UpscaleFactor)
	assert.Equal(t, jobs.DefaultUpscaleModel, up.Model)
	assert.Equal(t, "image/png", up.MimeType)
	assert.Equal(t, data, up.Image)
}

func TestUpscale_ExplicitFactorAndModel(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(multipartRequest(t, "/api/v1/image/upscale", "cat.png", pngBytes(t, 4, 4),
		map[string]string{"factor": "4", "model": "ultrasharp"}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	job, err := env.store.Fetch(context.Background(), "1")
	require.NoError(t, err)
	task, err := jobs.DecodeTask(job.Name, job.Payload)
	require.NoError(t, err)
	assert.Equal(t, 4, task.(jobs.UpscaleTask).UpscaleFactor)
	assert.Equal(t, "ultrasharp", task.(jobs.UpscaleTask).Model)
}

func TestUpscale_Rejected(t *testing.T) {
	tests := []struct {
		name        string
		fileName    string
		data        []byte
		fields      map[string]string
		maxUpload   int64
		wantMessage string
	}{
		{
			name:        "factor out of range",
			fileName:    "a.png",
			data:        []byte{},
			fields:      map[string]string{"factor": "5"},
			wantMessage: "Validation failed",
		},
		{
			name:        "missing file",
			wantMessage: "File is required",
		},
		{
			name:        "not an image",
			fileName:    "notes.png",
			data:        []byte("just some text pretending to be a png"),
			wantMessage: "current file type is text/plain",
		},
		{
			name:        "file too large",
			fileName:    "big.png",
			data:        nil,
			maxUpload:   64,
			wantMessage: "current file size is",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(d *handler.Dependencies) {
				d.MaxUploadBytes = tt.maxUpload
			})

			data := tt.data
			if tt.maxUpload > 0 {
				data = pngBytes(t, 32, 32)
			}
			if tt.fileName == "" {
				data = nil
			}

			w := env.do(multipartRequest(t, "/api/v1/image/upscale", tt.fileName, data, tt.fields))
			assert.Equal(t, http.StatusBadRequest, w.Code)

			resp := decodeError(t, w)
			assert.False(t, resp.Success)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "BadRequestException", resp.Error)
			assert.Equal(t, "/api/v1/image/upscale", resp.Path)
			assert.Contains(t, resp.Message, tt.wantMessage)
			assert.NotEmpty(t, resp.Timestamp)

			assert.Equal(t, 0, env.store.Len())
		})
	}
}

func TestUpscale_QueueUnavailable(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.SetErr(errors.New("dial tcp: connection refused"))

	w := env.do(multipartRequest(t, "/api/v1/image/upscale", "a.png", pngBytes(t, 4, 4), nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	resp := decodeError(t, w)
	assert.Equal(t, "ServiceUnavailableException", resp.Error)
	assert.Contains(t, resp.Message, "Failed to queue upscale task")
}

func TestGetStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	for i := 0; i < 2; i++ {
		w := env.do(multipartRequest(t, "/api/v1/image/upscale", "a.png", pngBytes(t, 4, 4), nil))
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/image/upscale/2", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var view jobs.StatusView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "2", view.ID)
	assert.Equal(t, jobs.StateWaiting, view.State)
	require.NotNil(t, view.Position)
	assert.Equal(t, 2, *view.Position)
	assert.Equal(t, 2, view.TotalWaiting)
	assert.Equal(t, 50, view.EstimatedTimeRemaining)

	exec := env.store.Activate("1")
	require.NoError(t, exec.UpdateProgress(context.Background(), 60))

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/v1/image/upscale/1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, jobs.StateActive, view.State)
	assert.Equal(t, 60, view.Progress)
	assert.Nil(t, view.Position)
	assert.Equal(t, 10, view.EstimatedTimeRemaining)
}

func TestGetStatus_NotFound(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid func(string) bool
	}{
		{name: "unknown id", id: "99"},
		{name: "malformed id", id: "not-a-job", valid: func(string) bool { return false }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(d *handler.Dependencies) {
				d.ValidJobID = tt.valid
			})

			w := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/image/upscale/"+tt.id, nil))
			assert.Equal(t, http.StatusNotFound, w.Code)

			resp := decodeError(t, w)
			assert.Equal(t, "NotFoundException", resp.Error)
			assert.Equal(t, "Job with ID "+tt.id+" not found", resp.Message)
		})
	}
}

func TestGetStatus_QueueUnavailable(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.SetErr(errors.New("redis down"))

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/image/upscale/1", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCompress(t *testing.T) {
	env := newTestEnv(t, nil)
	data := pngBytes(t, 2400, 100)

	w := env.do(multipartRequest(t, "/api/v1/image/compress", "wide.png", data,
		map[string]string{"quality": "60"}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp dto.CompressResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "wide.png", resp.OriginalName)
	assert.Equal(t, "compressed_wide.jpg", resp.CompressedName)
	assert.Equal(t, "image/jpeg", resp.MimeType)
	assert.Equal(t, len(data), resp.OriginalSize)
	assert.Positive(t, resp.CompressedSize)
	assert.Equal(t, 1200, resp.Width)
	assert.Equal(t, 50, resp.Height)
	assert.True(t, strings.HasPrefix(resp.Base64, "data:image/jpeg;base64,"))
	assert.True(t, strings.HasSuffix(resp.CompressionRatio, "%"))
}

func TestCompress_InvalidQuality(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(multipartRequest(t, "/api/v1/image/compress", "a.png", pngBytes(t, 4, 4),
		map[string]string{"quality": "101"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCompressDownload(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(multipartRequest(t, "/api/v1/image/compress/download", "photo.png", pngBytes(t, 16, 16), nil))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="compressed_photo.jpg"`, w.Header().Get("Content-Disposition"))
	body := w.Body.Bytes()
	require.Greater(t, len(body), 2)
	assert.Equal(t, []byte{0xFF, 0xD8}, body[:2])
}

// nextEvent returns the data line of the next server-sent event
func nextEvent(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err, "stream ended early")
		if data, ok := strings.CutPrefix(strings.TrimRight(line, "\n"), "data:"); ok {
			return data
		}
	}
}

func openStream(t *testing.T, srv *httptest.Server, id string) (*http.Response, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/image/upscale/"+id+"/progress", nil)
	require.NoError(t, err)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	return resp, cancel
}

func TestStreamProgress(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(multipartRequest(t, "/api/v1/image/upscale", "a.png", pngBytes(t, 4, 4), nil))
	require.Equal(t, http.StatusCreated, w.Code)

	srv := httptest.NewServer(env.engine)
	defer srv.Close()

	resp, cancel := openStream(t, srv, "1")
	defer cancel()
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	reader := bufio.NewReader(resp.Body)
	for i := 0; i < 2; i++ {
		var view jobs.StatusView
		require.NoError(t, json.Unmarshal([]byte(nextEvent(t, reader)), &view))
		assert.Equal(t, "1", view.ID)
		assert.Equal(t, jobs.StateWaiting, view.State)
	}

	env.store.Activate("1")
	env.store.Finish("1", nil)

	var view jobs.StatusView
	for i := 0; i < 50 && view.State != jobs.StateCompleted; i++ {
		require.NoError(t, json.Unmarshal([]byte(nextEvent(t, reader)), &view))
	}
	assert.Equal(t, jobs.StateCompleted, view.State)
	assert.Equal(t, 100, view.Progress)

	// a finished job keeps streaming until the client leaves
	require.NoError(t, json.Unmarshal([]byte(nextEvent(t, reader)), &view))
	assert.Equal(t, jobs.StateCompleted, view.State)
}

func TestStreamProgress_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.engine)
	defer srv.Close()

	resp, cancel := openStream(t, srv, "404")
	defer cancel()
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	for i := 0; i < 2; i++ {
		assert.JSONEq(t, `{"error":"Job not found"}`, nextEvent(t, reader))
	}
}

func TestNewServer_ShutdownEndsStreams(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(multipartRequest(t, "/api/v1/image/upscale", "a.png", pngBytes(t, 4, 4), nil))
	require.Equal(t, http.StatusCreated, w.Code)

	srv := httptest.NewUnstartedServer(nil)
	srv.Config = router.NewServer(router.ServerConfig{WriteTimeout: 50 * time.Millisecond}, env.engine)
	srv.Start()
	defer srv.Close()

	resp, cancel := openStream(t, srv, "1")
	defer cancel()
	defer resp.Body.Close()

	// events keep flowing past the write timeout
	reader := bufio.NewReader(resp.Body)
	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		var view jobs.StatusView
		require.NoError(t, json.Unmarshal([]byte(nextEvent(t, reader)), &view))
		assert.Equal(t, "1", view.ID)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutdownCancel()

	start := time.Now()
	require.NoError(t, srv.Config.Shutdown(shutdownCtx))
	assert.Less(t, time.Since(start), 2*time.Second)

	_, err := io.Copy(io.Discard, reader)
	assert.NoError(t, err)
}

type fakeHistory struct {
	rows    []history.Job
	err     error
	filters []history.JobFilter
}

func (f *fakeHistory) ListJobs(_ context.Context, filter history.JobFilter) ([]history.Job, error) {
	f.filters = append(f.filters, filter)
	if f.err != nil {
		return nil, f.err
	}
	rows := f.rows
	if len(rows) > filter.PageSize+1 {
		rows = rows[:filter.PageSize+1]
	}
	return rows, nil
}

func (f *fakeHistory) GetJobByID(_ context.Context, jobID string) (*history.Job, error) {
	for i := range f.rows {
		if f.rows[i].JobID == jobID {
			return &f.rows[i], nil
		}
	}
	return nil, history.ErrJobNotFound
}

func ledgerRows(n int) []history.Job {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := make([]history.Job, n)
	for i := range rows {
		at := base.Add(-time.Duration(i) * time.Minute)
		rows[i] = history.Job{
			JobID:         string(rune('a' + i)),
			JobType:       string(jobs.KindUpscale),
			Status:        history.JobStatusCompleted,
			FileName:      "a.png",
			UpscaleFactor: 2,
			Model:         "remacri",
			CreatedAt:     at,
			UpdatedAt:     at,
			StartedAt:     sql.NullTime{Time: at, Valid: true},
		}
	}
	return rows
}

func TestListJobs(t *testing.T) {
	fake := &fakeHistory{rows: ledgerRows(5)}
	env := newTestEnv(t, func(d *handler.Dependencies) { d.History = fake })

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs?page_size=2&status=COMPLETED", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp dto.ListJobsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 2)
	assert.Equal(t, "a", resp.Jobs[0].JobID)
	assert.Equal(t, "b", resp.Jobs[1].JobID)
	assert.Equal(t, "2026-03-01T12:00:00Z", resp.Jobs[0].CreatedAt)
	assert.NotEmpty(t, resp.Jobs[0].StartedAt)
	assert.Empty(t, resp.Jobs[0].CompletedAt)
	require.NotEmpty(t, resp.NextCursor)

	cursor, err := history.DecodeCursor(resp.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, "b", cursor.JobID)

	require.Len(t, fake.filters, 1)
	assert.Equal(t, "COMPLETED", fake.filters[0].Status)
	assert.Equal(t, 2, fake.filters[0].PageSize)
}

func TestListJobs_PageSizeBounds(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{query: "", want: 20},
		{query: "?page_size=0", want: 20},
		{query: "?page_size=500", want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			fake := &fakeHistory{}
			env := newTestEnv(t, func(d *handler.Dependencies) { d.History = fake })

			w := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs"+tt.query, nil))
			require.Equal(t, http.StatusOK, w.Code)
			require.Len(t, fake.filters, 1)
			assert.Equal(t, tt.want, fake.filters[0].PageSize)
		})
	}
}

func TestListJobs_Errors(t *testing.T) {
	t.Run("bad cursor", func(t *testing.T) {
		env := newTestEnv(t, func(d *handler.Dependencies) { d.History = &fakeHistory{} })
		w := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs?cursor=not-base64!", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("storage failure", func(t *testing.T) {
		env := newTestEnv(t, func(d *handler.Dependencies) {
			d.History = &fakeHistory{err: errors.New("db gone")}
		})
		w := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "InternalServerError", decodeError(t, w).Error)
	})

	t.Run("history disabled", func(t *testing.T) {
		env := newTestEnv(t, nil)
		w := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "NotFoundException", decodeError(t, w).Error)
	})
}

func TestGetJob(t *testing.T) {
	env := newTestEnv(t, func(d *handler.Dependencies) { d.History = &fakeHistory{rows: ledgerRows(2)} })

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/b", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var job dto.JobDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, "b", job.JobID)

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/zzz", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]handler.HealthCheck
		wantCode   int
		wantStatus string
	}{
		{
			name:       "no checks",
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name: "all up",
			checks: map[string]handler.HealthCheck{
				"redis": func(context.Context) error { return nil },
			},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name: "one down",
			checks: map[string]handler.HealthCheck{
				"redis":    func(context.Context) error { return nil },
				"database": func(context.Context) error { return errors.New("connection refused") },
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(d *handler.Dependencies) { d.HealthChecks = tt.checks })

			w := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.wantCode, w.Code)

			var body struct {
				Status  string            `json:"status"`
				Service string            `json:"service"`
				Checks  map[string]string `json:"checks"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Equal(t, "image-jobs-api", body.Service)
			assert.Len(t, body.Checks, len(tt.checks))
		})
	}
}

func TestNoRoute(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	resp := decodeError(t, w)
	assert.Equal(t, "Cannot GET /api/v1/nope", resp.Message)
	assert.Equal(t, "/api/v1/nope", resp.Path)
}

func TestRecoveryMiddleware(t *testing.T) {
	env := newTestEnv(t, nil)
	env.engine.GET("/boom", func(*gin.Context) { panic("boom") })

	w := env.do(httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "InternalServerError", decodeError(t, w).Error)
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(httptest.NewRequest(http.MethodOptions, "/api/v1/image/upscale", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
