package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// raiseProgress stores ARGV[1] only if it is greater than the stored value,
// so concurrent or late writes can never move progress backwards.
var raiseProgress = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "-1")
local next = tonumber(ARGV[1])
if next > current then
	redis.call("SET", KEYS[1], ARGV[1], "EX", ARGV[2])
	return next
end
redis.call("EXPIRE", KEYS[1], ARGV[2])
return current
`)

// Progress stores per-job progress in Redis next to the asynq task
type Progress struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewProgress creates a Progress store. ttl should outlive task retention.
func NewProgress(rdb redis.UniversalClient, prefix string, ttl time.Duration) *Progress {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultRetention
	}
	return &Progress{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (p *Progress) key(jobID string) string {
	return fmt.Sprintf("%s:progress:%s", p.prefix, jobID)
}

// Set raises the stored progress of jobID to value and returns the stored value
func (p *Progress) Set(ctx context.Context, jobID string, value int) (int, error) {
	if value < 0 || value > 100 {
		return 0, fmt.Errorf("progress %d out of range 0-100", value)
	}
	ttl := int(p.ttl / time.Second)
	if ttl < 1 {
		ttl = 1
	}
	stored, err := raiseProgress.Run(ctx, p.rdb, []string{p.key(jobID)}, value, ttl).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to update progress: %w", err)
	}
	return stored, nil
}

// Get returns the stored progress of jobID, or 0 if none was reported
func (p *Progress) Get(ctx context.Context, jobID string) (int, error) {
	v, err := p.rdb.Get(ctx, p.key(jobID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read progress: %w", err)
	}
	return v, nil
}

// Reset drops the stored progress of jobID so the next attempt starts from 0
func (p *Progress) Reset(ctx context.Context, jobID string) error {
	if err := p.rdb.Del(ctx, p.key(jobID)).Err(); err != nil {
		return fmt.Errorf("failed to reset progress: %w", err)
	}
	return nil
}
