package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/cuongbtq/image-jobs/internal/jobs"
	"github.com/cuongbtq/image-jobs/internal/jobs/jobstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const avg = 25

func enqueueN(t *testing.T, store *jobstest.MemoryStore, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, err := store.Enqueue(context.Background(), "upscale", []byte(`{}`))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestTracker_GetStatus_Waiting(t *testing.T) {
	store := jobstest.NewMemoryStore()
	ids := enqueueN(t, store, 3)
	tracker := jobs.NewTracker(store)

	status, err := tracker.GetStatus(context.Background(), ids[2], avg)
	require.NoError(t, err)

	assert.Equal(t, jobs.StateWaiting, status.State)
	assert.Equal(t, 0, status.Progress)
	require.NotNil(t, status.Position)
	assert.Equal(t, 3, *status.Position)
	assert.Equal(t, 3, status.TotalWaiting)
	assert.Equal(t, 75, status.EstimatedTimeRemaining)
	assert.Nil(t, status.Result)
}

func TestTracker_GetStatus_PositionTracksQueue(t *testing.T) {
	store := jobstest.NewMemoryStore()
	ids := enqueueN(t, store, 3)
	tracker := jobs.NewTracker(store)
	ctx := context.Background()

	store.Activate(ids[0])

	status, err := tracker.GetStatus(ctx, ids[2], avg)
	require.NoError(t, err)
	require.NotNil(t, status.Position)
	assert.Equal(t, 2, *status.Position)
	assert.Equal(t, 2, status.TotalWaiting)
	assert.LessOrEqual(t, *status.Position, status.TotalWaiting)
	assert.Equal(t, 50, status.EstimatedTimeRemaining)
}

func TestTracker_GetStatus_Active(t *testing.T) {
	tests := []struct {
		name     string
		progress int
		wantETA  int
	}{
		{name: "just started", progress: 0, wantETA: 25},
		{name: "half way rounds up", progress: 50, wantETA: 13},
		{name: "ninety percent", progress: 90, wantETA: 3},
		{name: "done", progress: 100, wantETA: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := jobstest.NewMemoryStore()
			ids := enqueueN(t, store, 2)
			exec := store.Activate(ids[0])
			require.NoError(t, exec.UpdateProgress(context.Background(), tt.progress))

			status, err := jobs.NewTracker(store).GetStatus(context.Background(), ids[0], avg)
			require.NoError(t, err)

			assert.Equal(t, jobs.StateActive, status.State)
			assert.Equal(t, tt.progress, status.Progress)
			assert.Nil(t, status.Position)
			assert.Equal(t, 1, status.TotalWaiting)
			assert.Equal(t, tt.wantETA, status.EstimatedTimeRemaining)
		})
	}
}

func TestTracker_GetStatus_Terminal(t *testing.T) {
	store := jobstest.NewMemoryStore()
	ids := enqueueN(t, store, 3)
	ctx := context.Background()

	done := store.Activate(ids[0])
	require.NoError(t, done.SetResult(ctx, []byte(`{"success":true}`)))
	store.Finish(ids[0], nil)

	failed := store.Activate(ids[1])
	require.NoError(t, failed.UpdateProgress(ctx, 10))
	store.Finish(ids[1], errors.New("upscaler binary not found"))

	tracker := jobs.NewTracker(store)

	completed, err := tracker.GetStatus(ctx, ids[0], avg)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateCompleted, completed.State)
	assert.Equal(t, 100, completed.Progress)
	assert.Nil(t, completed.Position)
	assert.Equal(t, 1, completed.TotalWaiting)
	assert.Equal(t, 0, completed.EstimatedTimeRemaining)
	assert.JSONEq(t, `{"success":true}`, string(completed.Result))

	fail, err := tracker.GetStatus(ctx, ids[1], avg)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateFailed, fail.State)
	assert.Equal(t, 10, fail.Progress)
	assert.Nil(t, fail.Position)
	assert.Nil(t, fail.Result)
	assert.Equal(t, 0, fail.EstimatedTimeRemaining)
	assert.Contains(t, fail.Error, "not found")
}

func TestTracker_GetStatus_NotFound(t *testing.T) {
	store := jobstest.NewMemoryStore()
	status, err := jobs.NewTracker(store).GetStatus(context.Background(), "missing", avg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, jobs.ErrJobNotFound))
	assert.Nil(t, status)
}

func TestTracker_GetStatus_StoreDown(t *testing.T) {
	store := jobstest.NewMemoryStore()
	store.SetErr(errors.New("dial tcp: connection refused"))

	_, err := jobs.NewTracker(store).GetStatus(context.Background(), "1", avg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, jobs.ErrQueueUnavailable))
	assert.False(t, errors.Is(err, jobs.ErrJobNotFound))
}

func TestTracker_ProgressNonDecreasing(t *testing.T) {
	store := jobstest.NewMemoryStore()
	ids := enqueueN(t, store, 1)
	exec := store.Activate(ids[0])
	tracker := jobs.NewTracker(store)
	ctx := context.Background()

	last := -1
	for _, p := range []int{5, 10, 90, 100} {
		require.NoError(t, exec.UpdateProgress(ctx, p))
		status, err := tracker.GetStatus(ctx, ids[0], avg)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, status.Progress, last)
		last = status.Progress
	}
}

func TestStatusView_JSON(t *testing.T) {
	pos := 1
	view := jobs.StatusView{
		ID:                     "7",
		State:                  jobs.StateWaiting,
		Position:               &pos,
		TotalWaiting:           1,
		EstimatedTimeRemaining: 25,
	}

	data, err := json.Marshal(view)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "7",
		"state": "waiting",
		"progress": 0,
		"position": 1,
		"totalWaiting": 1,
		"estimatedTimeRemaining": 25,
		"result": null
	}`, string(data))
}

func TestActiveETA(t *testing.T) {
	assert.Equal(t, 13, jobs.ActiveETA(50, 25))
	assert.Equal(t, 0, jobs.ActiveETA(100, 25))
	assert.Equal(t, 0, jobs.ActiveETA(120, 25))
}
