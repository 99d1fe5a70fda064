package jobs

import "context"

// Store is the protocol the job subsystem speaks against the queue engine.
// Implementations return ErrJobNotFound from Fetch for unknown ids and must not cache job state.
type Store interface {
	Enqueue(ctx context.Context, name string, payload []byte) (string, error)
	Fetch(ctx context.Context, id string) (*Job, error)
	ListWaiting(ctx context.Context) ([]*Job, error)
	CountWaiting(ctx context.Context) (int, error)
}

// Execution is the worker-side view of one dequeued job.
// A failure is recorded by returning an error from the handler.
type Execution interface {
	JobID() string
	UpdateProgress(ctx context.Context, progress int) error
	SetResult(ctx context.Context, result []byte) error
}
