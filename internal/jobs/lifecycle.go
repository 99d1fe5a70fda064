package jobs

import (
	"context"
	"log/slog"
	"time"
)

// EventType names a lifecycle transition
type EventType string

const (
	EventSubmitted EventType = "job.submitted"
	EventStarted   EventType = "job.started"
	EventCompleted EventType = "job.completed"
	EventFailed    EventType = "job.failed"
)

// LifecycleEvent describes one transition of one job
type LifecycleEvent struct {
	Type       EventType
	JobID      string
	Name       string
	Task       Task
	Error      string
	OccurredAt time.Time
}

// Listener observes lifecycle events. Listener errors never change a job outcome.
type Listener interface {
	OnJobEvent(ctx context.Context, ev LifecycleEvent) error
}

// Notifier fans lifecycle events out to listeners and logs their failures
type Notifier struct {
	listeners []Listener
	logger    *slog.Logger
}

// NewNotifier creates a Notifier. Nil listeners are ignored.
func NewNotifier(logger *slog.Logger, listeners ...Listener) *Notifier {
	n := &Notifier{logger: logger}
	for _, l := range listeners {
		if l != nil {
			n.listeners = append(n.listeners, l)
		}
	}
	return n
}

// Notify delivers ev to every listener
func (n *Notifier) Notify(ctx context.Context, ev LifecycleEvent) {
	if n == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	for _, l := range n.listeners {
		if err := l.OnJobEvent(ctx, ev); err != nil {
			n.logger.Warn("Lifecycle listener failed",
				slog.String("job_id", ev.JobID),
				slog.String("event", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
}
