package jobs

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Tracker derives StatusView values from the job store
type Tracker struct {
	store Store
}

// NewTracker creates a new Tracker
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store}
}

// GetStatus computes the status of a job. avgSeconds is the assumed duration of one job.
// Returns ErrJobNotFound when the id is unknown.
func (t *Tracker) GetStatus(ctx context.Context, jobID string, avgSeconds int) (*StatusView, error) {
	job, err := t.store.Fetch(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return nil, err
		}
		return nil, wrapUnavailable("fetch job", err)
	}

	view := &StatusView{
		ID:       job.ID,
		State:    job.State,
		Progress: job.Progress,
	}

	switch job.State {
	case StateWaiting:
		view.Progress = 0
	case StateCompleted:
		view.Progress = 100
		view.Result = job.Result
	case StateFailed:
		view.Error = job.Error
	}

	total, err := t.store.CountWaiting(ctx)
	if err != nil {
		return nil, wrapUnavailable("count waiting jobs", err)
	}
	view.TotalWaiting = total

	switch job.State {
	case StateWaiting:
		waiting, err := t.store.ListWaiting(ctx)
		if err != nil {
			return nil, wrapUnavailable("list waiting jobs", err)
		}
		position := waitingPosition(waiting, job.ID)
		view.Position = &position
		if view.TotalWaiting < position {
			view.TotalWaiting = position
		}
		view.EstimatedTimeRemaining = position * avgSeconds
	case StateActive:
		view.EstimatedTimeRemaining = ActiveETA(job.Progress, avgSeconds)
	}

	return view, nil
}

// ActiveETA is max(0, round((100-progress)/100*avg))
func ActiveETA(progress, avgSeconds int) int {
	eta := math.Round(float64(100-progress) / 100 * float64(avgSeconds))
	if eta < 0 {
		return 0
	}
	return int(eta)
}

// waitingPosition returns the 1-based rank of id. A job missing from the
// listing (delayed, or racing with dequeue) is placed behind everything listed.
func waitingPosition(waiting []*Job, id string) int {
	for i, j := range waiting {
		if j.ID == id {
			return i + 1
		}
	}
	return len(waiting) + 1
}

func wrapUnavailable(op string, err error) error {
	if errors.Is(err, ErrQueueUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrQueueUnavailable, op, err)
}
