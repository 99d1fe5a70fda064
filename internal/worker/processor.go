package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/image-jobs/internal/jobs"
)

// Processor dispatches dequeued jobs to their runner and reports lifecycle events
type Processor struct {
	upscaler *Upscaler
	notifier *jobs.Notifier
	logger   *slog.Logger
}

// NewProcessor creates a Processor. notifier may be nil.
func NewProcessor(upscaler *Upscaler, notifier *jobs.Notifier, logger *slog.Logger) *Processor {
	return &Processor{
		upscaler: upscaler,
		notifier: notifier,
		logger:   logger,
	}
}

// Handle processes a single job. It satisfies queue.Handler.
func (p *Processor) Handle(ctx context.Context, exec jobs.Execution, name string, payload []byte) error {
	jobID := exec.JobID()
	start := time.Now()

	p.logger.Info("Processing job",
		slog.String("job_id", jobID),
		slog.String("task", name),
	)

	task, err := jobs.DecodeTask(name, payload)
	if err != nil {
		p.logger.Error("Failed to decode job payload",
			slog.String("job_id", jobID),
			slog.String("task", name),
			slog.String("error", err.Error()),
		)
		p.notify(ctx, jobs.EventFailed, jobID, name, nil, err)
		return err
	}

	p.notify(ctx, jobs.EventStarted, jobID, name, task, nil)

	switch t := task.(type) {
	case jobs.UpscaleTask:
		err = p.upscaler.Run(ctx, exec, t)
	case jobs.UnknownTask:
		p.logger.Warn("Unknown job name, skipping",
			slog.String("job_id", jobID),
			slog.String("task", t.Name),
		)
	}

	if err != nil {
		p.logger.Error("Job execution failed",
			slog.String("job_id", jobID),
			slog.String("task", name),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		p.notify(ctx, jobs.EventFailed, jobID, name, task, err)
		return err
	}

	p.logger.Info("Job completed successfully",
		slog.String("job_id", jobID),
		slog.String("task", name),
		slog.Duration("duration", time.Since(start)),
	)
	p.notify(ctx, jobs.EventCompleted, jobID, name, task, nil)

	return nil
}

func (p *Processor) notify(ctx context.Context, typ jobs.EventType, jobID, name string, task jobs.Task, err error) {
	ev := jobs.LifecycleEvent{
		Type:  typ,
		JobID: jobID,
		Name:  name,
		Task:  task,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	p.notifier.Notify(ctx, ev)
}
