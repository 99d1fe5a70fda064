// Package events publishes job lifecycle transitions to a message broker.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/image-jobs/internal/jobs"
)

const contentTypeJSON = "application/json"

// Broker is the transport used to deliver events
type Broker interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// Event is the JSON message published for every lifecycle transition
type Event struct {
	Type          jobs.EventType `json:"type"`
	JobID         string         `json:"jobId"`
	Name          string         `json:"name"`
	Source        string         `json:"source"`
	FileName      string         `json:"fileName,omitempty"`
	UpscaleFactor int            `json:"upscaleFactor,omitempty"`
	Model         string         `json:"model,omitempty"`
	Error         string         `json:"error,omitempty"`
	OccurredAt    time.Time      `json:"occurredAt"`
}

// Publisher is a jobs.Listener that forwards events to a Broker.
// The routing key is RoutingPrefix followed by the event type.
type Publisher struct {
	broker        Broker
	source        string
	routingPrefix string
	logger        *slog.Logger
}

// NewPublisher creates a Publisher. source identifies the emitting process.
func NewPublisher(broker Broker, source, routingPrefix string, logger *slog.Logger) *Publisher {
	return &Publisher{
		broker:        broker,
		source:        source,
		routingPrefix: routingPrefix,
		logger:        logger,
	}
}

// NewEvent builds the wire form of ev. Image bytes are never included.
func NewEvent(ev jobs.LifecycleEvent, source string) Event {
	out := Event{
		Type:       ev.Type,
		JobID:      ev.JobID,
		Name:       ev.Name,
		Source:     source,
		Error:      ev.Error,
		OccurredAt: ev.OccurredAt.UTC(),
	}
	if t, ok := ev.Task.(jobs.UpscaleTask); ok {
		out.FileName = t.FileName
		out.UpscaleFactor = t.UpscaleFactor
		out.Model = t.Model
	}
	return out
}

// RoutingKey returns the routing key used for typ
func (p *Publisher) RoutingKey(typ jobs.EventType) string {
	return p.routingPrefix + string(typ)
}

// OnJobEvent implements jobs.Listener
func (p *Publisher) OnJobEvent(ctx context.Context, ev jobs.LifecycleEvent) error {
	body, err := json.Marshal(NewEvent(ev, p.source))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	key := p.RoutingKey(ev.Type)
	if err := p.broker.PublishWithRetry(ctx, key, body, contentTypeJSON); err != nil {
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}

	p.logger.Debug("Job event published",
		slog.String("job_id", ev.JobID),
		slog.String("routing_key", key),
	)

	return nil
}
