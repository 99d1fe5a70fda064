package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cuongbtq/image-jobs/internal/queue"
	"github.com/google/uuid"
)

// QueueServer pulls jobs from the queue and runs a handler per job
type QueueServer interface {
	Start(h queue.Handler) error
	Shutdown()
}

// Config holds worker configuration
type Config struct {
	Logger      *slog.Logger
	Server      QueueServer
	Processor   *Processor
	Concurrency int
}

// Worker represents the background job worker
type Worker struct {
	logger      *slog.Logger
	server      QueueServer
	processor   *Processor
	workerID    string
	concurrency int
	stopOnce    sync.Once
}

// NewWorker creates a new worker instance with a unique worker id
func NewWorker(cfg *Config) *Worker {
	return &Worker{
		logger:      cfg.Logger,
		server:      cfg.Server,
		processor:   cfg.Processor,
		workerID:    uuid.New().String(),
		concurrency: cfg.Concurrency,
	}
}

// ID returns the worker instance id
func (w *Worker) ID() string {
	return w.workerID
}

// Start begins processing jobs and blocks until ctx is canceled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
	)

	if err := w.server.Start(w.processor.Handle); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...",
		slog.String("worker_id", w.workerID),
	)

	return nil
}

// Stop stops pulling jobs and waits for in-flight ones. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...", slog.String("worker_id", w.workerID))
		w.server.Shutdown()
		w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))
	})
}
