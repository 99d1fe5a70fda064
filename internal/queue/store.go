package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/cuongbtq/image-jobs/internal/jobs"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Store is the asynq-backed job store. Every read goes to Redis; nothing is cached.
type Store struct {
	cfg       Config
	client    *asynq.Client
	inspector *asynq.Inspector
	progress  *Progress
	logger    *slog.Logger
}

// NewStore creates a Store sharing rdb for progress keys
func NewStore(cfg Config, rdb redis.UniversalClient, logger *slog.Logger) *Store {
	cfg = cfg.withDefaults()
	opt := cfg.Redis.AsynqOpt()
	return &Store{
		cfg:       cfg,
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		progress:  NewProgress(rdb, cfg.KeyPrefix, cfg.Retention),
		logger:    logger,
	}
}

// QueueName returns the asynq queue jobs are enqueued on
func (s *Store) QueueName() string {
	return s.cfg.QueueName
}

// Enqueue implements jobs.Store
func (s *Store) Enqueue(ctx context.Context, name string, payload []byte) (string, error) {
	opts := []asynq.Option{
		asynq.Queue(s.cfg.QueueName),
		asynq.TaskID(uuid.New().String()),
		asynq.MaxRetry(s.cfg.MaxRetry),
		asynq.Retention(s.cfg.Retention),
	}
	if s.cfg.TaskTimeout > 0 {
		opts = append(opts, asynq.Timeout(s.cfg.TaskTimeout))
	}

	info, err := s.client.EnqueueContext(ctx, asynq.NewTask(name, payload), opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", jobs.ErrQueueUnavailable, err)
	}

	s.logger.Debug("Task enqueued",
		slog.String("job_id", info.ID),
		slog.String("task", name),
		slog.String("queue", info.Queue),
	)

	return info.ID, nil
}

// Fetch implements jobs.Store
func (s *Store) Fetch(ctx context.Context, id string) (*jobs.Job, error) {
	info, err := s.inspector.GetTaskInfo(s.cfg.QueueName, id)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, jobs.ErrJobNotFound
		}
		return nil, fmt.Errorf("%w: %v", jobs.ErrQueueUnavailable, err)
	}

	job := fromTaskInfo(info)

	switch job.State {
	case jobs.StateActive, jobs.StateFailed:
		progress, err := s.progress.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", jobs.ErrQueueUnavailable, err)
		}
		job.Progress = progress
	case jobs.StateCompleted:
		job.Progress = 100
	}

	return job, nil
}

// ListWaiting implements jobs.Store. Pending jobs come first in dequeue order, then jobs
// waiting out a retry or schedule delay ordered by when they become pending.
func (s *Store) ListWaiting(_ context.Context) ([]*jobs.Job, error) {
	pending, err := s.listAll(s.inspector.ListPendingTasks)
	if err != nil {
		return nil, err
	}
	retry, err := s.listAll(s.inspector.ListRetryTasks)
	if err != nil {
		return nil, err
	}
	scheduled, err := s.listAll(s.inspector.ListScheduledTasks)
	if err != nil {
		return nil, err
	}

	delayed := append(retry, scheduled...)
	slices.SortStableFunc(delayed, func(a, b *asynq.TaskInfo) int {
		return a.NextProcessAt.Compare(b.NextProcessAt)
	})

	out := make([]*jobs.Job, 0, len(pending)+len(delayed))
	for _, info := range append(pending, delayed...) {
		out = append(out, fromTaskInfo(info))
	}
	return out, nil
}

type listFunc func(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)

// listAll pages through one task listing of the job queue
func (s *Store) listAll(list listFunc) ([]*asynq.TaskInfo, error) {
	var out []*asynq.TaskInfo
	for page := 1; ; page++ {
		infos, err := list(s.cfg.QueueName,
			asynq.PageSize(s.cfg.ListPage),
			asynq.Page(page),
		)
		if err != nil {
			if errors.Is(err, asynq.ErrQueueNotFound) {
				return out, nil
			}
			return nil, fmt.Errorf("%w: %v", jobs.ErrQueueUnavailable, err)
		}
		out = append(out, infos...)
		if len(infos) < s.cfg.ListPage {
			return out, nil
		}
	}
}

// CountWaiting implements jobs.Store
func (s *Store) CountWaiting(ctx context.Context) (int, error) {
	waiting, err := s.ListWaiting(ctx)
	if err != nil {
		return 0, err
	}
	return len(waiting), nil
}

// Ping checks the Redis connection used for progress keys
func (s *Store) Ping(ctx context.Context) error {
	return s.progress.rdb.Ping(ctx).Err()
}

// Close releases the asynq client and inspector
func (s *Store) Close() error {
	var errs []error
	if err := s.client.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.inspector.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func fromTaskInfo(info *asynq.TaskInfo) *jobs.Job {
	job := &jobs.Job{
		ID:      info.ID,
		Name:    info.Type,
		Payload: info.Payload,
		State:   stateOf(info.State),
	}
	switch job.State {
	case jobs.StateCompleted:
		if len(info.Result) > 0 && json.Valid(info.Result) {
			job.Result = json.RawMessage(info.Result)
		}
	case jobs.StateFailed:
		job.Error = info.LastErr
	}
	return job
}

// stateOf maps asynq task states onto job states. A job waiting out a retry or schedule
// delay is waiting and listed by ListWaiting. Only archived jobs, whose retries are exhausted
// or were skipped, are failed.
func stateOf(s asynq.TaskState) jobs.State {
	switch s {
	case asynq.TaskStateActive:
		return jobs.StateActive
	case asynq.TaskStateCompleted:
		return jobs.StateCompleted
	case asynq.TaskStateArchived:
		return jobs.StateFailed
	default:
		return jobs.StateWaiting
	}
}

// ValidJobID reports whether id could have been issued by Enqueue
func ValidJobID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
