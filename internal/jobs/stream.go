package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultStreamPeriod is the tick period of a status stream
const DefaultStreamPeriod = 2 * time.Second

// NotFoundMessage is emitted on a stream when the job does not exist
const NotFoundMessage = "Job not found"

// Event is one emission of a status stream: either a status or an error message
type Event struct {
	Status *StatusView
	Error  string
}

// Payload returns the value sent to the subscriber
func (e Event) Payload() any {
	if e.Status != nil {
		return e.Status
	}
	return map[string]string{"error": e.Error}
}

// Streamer turns Tracker queries into per-subscriber periodic streams
type Streamer struct {
	tracker *Tracker
	period  time.Duration
	logger  *slog.Logger
}

// NewStreamer creates a new Streamer. A non-positive period falls back to DefaultStreamPeriod.
func NewStreamer(tracker *Tracker, period time.Duration, logger *slog.Logger) *Streamer {
	if period <= 0 {
		period = DefaultStreamPeriod
	}
	return &Streamer{
		tracker: tracker,
		period:  period,
		logger:  logger,
	}
}

// Stream starts a ticker bound to ctx and emits one Event per tick.
// The stream does not stop when the job reaches a terminal state; it ends only
// when ctx is canceled, after which the channel is closed.
func (s *Streamer) Stream(ctx context.Context, jobID string, avgSeconds int) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)

		ticker := time.NewTicker(s.period)
		defer ticker.Stop()

		s.logger.Debug("Status stream started",
			slog.String("job_id", jobID),
			slog.Duration("period", s.period),
		)

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("Status stream stopped",
					slog.String("job_id", jobID),
				)
				return
			case <-ticker.C:
				ev := s.poll(ctx, jobID, avgSeconds)
				if ctx.Err() != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
				}
			}
		}
	}()

	return out
}

func (s *Streamer) poll(ctx context.Context, jobID string, avgSeconds int) Event {
	status, err := s.tracker.GetStatus(ctx, jobID, avgSeconds)
	switch {
	case err == nil:
		return Event{Status: status}
	case errors.Is(err, ErrJobNotFound):
		return Event{Error: NotFoundMessage}
	default:
		s.logger.Warn("Status stream poll failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return Event{Error: err.Error()}
	}
}
