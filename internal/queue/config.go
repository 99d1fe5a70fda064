package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Defaults applied by Config.withDefaults
const (
	DefaultQueueName   = "image-processing"
	DefaultKeyPrefix   = "image-jobs"
	DefaultRetention   = 24 * time.Hour
	DefaultListPage    = 100
	DefaultConcurrency = 1
)

// RedisConfig holds the Redis connection shared by asynq and progress keys
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Config holds job store configuration
type Config struct {
	Redis       RedisConfig
	QueueName   string
	KeyPrefix   string
	MaxRetry    int
	Retention   time.Duration
	TaskTimeout time.Duration
	ListPage    int
}

func (c Config) withDefaults() Config {
	if c.QueueName == "" {
		c.QueueName = DefaultQueueName
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.ListPage <= 0 {
		c.ListPage = DefaultListPage
	}
	if c.MaxRetry < 0 {
		c.MaxRetry = 0
	}
	return c
}

// AsynqOpt returns the asynq connection option for this Redis config
func (r RedisConfig) AsynqOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:         r.Addr,
		Password:     r.Password,
		DB:           r.DB,
		DialTimeout:  r.DialTimeout,
		ReadTimeout:  r.ReadTimeout,
		WriteTimeout: r.WriteTimeout,
	}
}

// NewRedisClient connects to Redis and verifies the connection with PING
func NewRedisClient(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}

	logger.Info("Connecting to Redis",
		slog.String("addr", cfg.Addr),
		slog.Int("db", cfg.DB),
	)

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		logger.Error("Failed to ping Redis",
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("Successfully connected to Redis")
	return client, nil
}
