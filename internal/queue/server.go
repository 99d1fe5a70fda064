package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/image-jobs/internal/jobs"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Handler processes one dequeued job. Returning an error marks the job failed.
type Handler func(ctx context.Context, exec jobs.Execution, name string, payload []byte) error

// ServerConfig holds worker-side queue settings
type ServerConfig struct {
	Queue           Config
	Concurrency     int
	ShutdownTimeout time.Duration
	// RetryDelay fixes the delay before a failed job is retried. Zero keeps asynq's exponential backoff.
	RetryDelay time.Duration
	// DelayedCheckInterval is how often retried jobs are moved back to pending. Zero keeps asynq's default.
	DelayedCheckInterval time.Duration
}

// Server runs asynq worker lanes against the job queue
type Server struct {
	srv      *asynq.Server
	progress *Progress
	logger   *slog.Logger
}

// NewServer creates a Server. Concurrency is the number of lanes, one job in flight per lane.
func NewServer(cfg ServerConfig, rdb redis.UniversalClient, logger *slog.Logger) *Server {
	qcfg := cfg.Queue.withDefaults()
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	acfg := asynq.Config{
		Concurrency:              concurrency,
		Queues:                   map[string]int{qcfg.QueueName: 1},
		Logger:                   NewLogger(logger),
		LogLevel:                 asynq.InfoLevel,
		ShutdownTimeout:          cfg.ShutdownTimeout,
		DelayedTaskCheckInterval: cfg.DelayedCheckInterval,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			id, _ := asynq.GetTaskID(ctx)
			logger.Error("Job failed",
				slog.String("job_id", id),
				slog.String("task", task.Type()),
				slog.String("error", err.Error()),
			)
		}),
	}
	if cfg.RetryDelay > 0 {
		delay := cfg.RetryDelay
		acfg.RetryDelayFunc = func(int, error, *asynq.Task) time.Duration { return delay }
	}

	return &Server{
		srv:      asynq.NewServer(qcfg.Redis.AsynqOpt(), acfg),
		progress: NewProgress(rdb, qcfg.KeyPrefix, qcfg.Retention),
		logger:   logger,
	}
}

// Start begins pulling jobs in the background
func (s *Server) Start(h Handler) error {
	if err := s.srv.Start(s.adapt(h)); err != nil {
		return fmt.Errorf("failed to start queue server: %w", err)
	}
	return nil
}

// Shutdown stops pulling new jobs and waits for in-flight ones up to the shutdown timeout
func (s *Server) Shutdown() {
	s.srv.Shutdown()
}

func (s *Server) adapt(h Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		id, ok := asynq.GetTaskID(ctx)
		if !ok {
			id = task.ResultWriter().TaskID()
		}
		s.beginAttempt(ctx, id)

		exec := &execution{
			id:       id,
			writer:   task.ResultWriter(),
			progress: s.progress,
		}
		err := h(ctx, exec, task.Type(), task.Payload())
		if err != nil && permanent(err) {
			return noRetry{err: err}
		}
		return err
	})
}

// beginAttempt clears progress left by a failed attempt. Progress is raise-only within one attempt.
func (s *Server) beginAttempt(ctx context.Context, id string) {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok || retried == 0 {
		return
	}
	if err := s.progress.Reset(ctx, id); err != nil {
		s.logger.Warn("Failed to reset progress for retry",
			slog.String("job_id", id),
			slog.Int("retry", retried),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("Retrying job",
		slog.String("job_id", id),
		slog.Int("retry", retried),
	)
}

// permanent reports failures that retrying cannot fix
func permanent(err error) bool {
	return errors.Is(err, jobs.ErrToolNotInstalled) || errors.Is(err, jobs.ErrValidation)
}

// noRetry keeps the original message while telling asynq to archive immediately
type noRetry struct {
	err error
}

func (e noRetry) Error() string { return e.err.Error() }

func (e noRetry) Unwrap() []error { return []error{e.err, asynq.SkipRetry} }

type execution struct {
	id       string
	writer   *asynq.ResultWriter
	progress *Progress
}

func (e *execution) JobID() string { return e.id }

func (e *execution) UpdateProgress(ctx context.Context, progress int) error {
	_, err := e.progress.Set(ctx, e.id, progress)
	return err
}

func (e *execution) SetResult(_ context.Context, result []byte) error {
	if _, err := e.writer.Write(result); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}
