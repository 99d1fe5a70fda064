package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Validator is implemented by tasks that check their own payload
type Validator interface {
	Validate() error
}

// Service enqueues tasks on the job store
type Service struct {
	store    Store
	notifier *Notifier
	logger   *slog.Logger
}

// NewService creates a new Service. notifier may be nil.
func NewService(store Store, notifier *Notifier, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

// Submit validates and enqueues task, returning a handle on the new waiting job.
// Validation failures wrap ErrValidation; store failures wrap ErrQueueUnavailable.
func (s *Service) Submit(ctx context.Context, task Task) (*Handle, error) {
	if v, ok := task.(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}

	name, payload, err := EncodeTask(task)
	if err != nil {
		return nil, err
	}

	id, err := s.store.Enqueue(ctx, name, payload)
	if err != nil {
		s.logger.Error("Failed to enqueue job",
			slog.String("task", name),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, ErrQueueUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: enqueue %s: %v", ErrQueueUnavailable, name, err)
	}

	s.logger.Info("Job enqueued",
		slog.String("job_id", id),
		slog.String("task", name),
		slog.Int("payload_size", len(payload)),
	)

	s.notifier.Notify(ctx, LifecycleEvent{
		Type:  EventSubmitted,
		JobID: id,
		Name:  name,
		Task:  task,
	})

	return &Handle{JobID: id}, nil
}
