package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// EnvironmentProduction selects production-only settings such as the models directory
	EnvironmentProduction = "production"

	defaultQueueName          = "image-processing"
	defaultKeyPrefix          = "image-jobs"
	defaultAvgDurationSeconds = 25
	defaultStreamPeriod       = 2 * time.Second
	defaultResultRetention    = 24 * time.Hour
	defaultMaxUploadBytes     = 10 << 20
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Queue    QueueConfig    `yaml:"queue"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Database DatabaseConfig `yaml:"database"`
	History  HistoryConfig  `yaml:"history"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Events   EventsConfig   `yaml:"events"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// RedisConfig holds the connection used by the job queue
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// QueueConfig holds job queue settings shared by the API and the worker
type QueueConfig struct {
	Name        string        `yaml:"name"`
	KeyPrefix   string        `yaml:"key_prefix"`
	MaxRetry    int           `yaml:"max_retry"`
	Retention   time.Duration `yaml:"retention"`
	TaskTimeout time.Duration `yaml:"task_timeout"`
	ListPage    int           `yaml:"list_page"`
}

// JobsConfig holds progress tracking settings
type JobsConfig struct {
	AvgDurationSeconds int           `yaml:"avg_duration_seconds"`
	StreamPeriod       time.Duration `yaml:"stream_period"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// HistoryConfig toggles the SQL job ledger
type HistoryConfig struct {
	Enabled     bool `yaml:"enabled"`
	AutoMigrate bool `yaml:"auto_migrate"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      RabbitQueue      `yaml:"queue"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// RabbitQueue optionally declares a queue bound to the exchange
type RabbitQueue struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	BindingKey string `yaml:"binding_key"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// EventsConfig toggles lifecycle event publishing
type EventsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	RoutingPrefix string `yaml:"routing_prefix"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency     int            `yaml:"concurrency"`
	ShutdownTimeout time.Duration  `yaml:"shutdown_timeout"`
	ScratchDir      string         `yaml:"scratch_dir"`
	Upscaler        UpscalerConfig `yaml:"upscaler"`
}

// UpscalerConfig describes the external upscaler binary
type UpscalerConfig struct {
	Binary               string        `yaml:"binary"`
	Timeout              time.Duration `yaml:"timeout"`
	ModelsDirProduction  string        `yaml:"models_dir_production"`
	ModelsDirDevelopment string        `yaml:"models_dir_development"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Queue.Name == "" {
		c.Queue.Name = defaultQueueName
	}
	if c.Queue.KeyPrefix == "" {
		c.Queue.KeyPrefix = defaultKeyPrefix
	}
	if c.Queue.Retention == 0 {
		c.Queue.Retention = defaultResultRetention
	}
	if c.Jobs.AvgDurationSeconds == 0 {
		c.Jobs.AvgDurationSeconds = defaultAvgDurationSeconds
	}
	if c.Jobs.StreamPeriod == 0 {
		c.Jobs.StreamPeriod = defaultStreamPeriod
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = defaultMaxUploadBytes
	}
}

// ModelsDir returns the upscaler models directory for the configured environment
func (c *Config) ModelsDir() string {
	if c.App.Environment == EnvironmentProduction {
		return c.Worker.Upscaler.ModelsDirProduction
	}
	return c.Worker.Upscaler.ModelsDirDevelopment
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateQueue(); err != nil {
		return err
	}

	if c.Jobs.AvgDurationSeconds <= 0 {
		return fmt.Errorf("jobs avg_duration_seconds must be greater than 0")
	}

	if c.Jobs.StreamPeriod <= 0 {
		return fmt.Errorf("jobs stream_period must be greater than 0")
	}

	return c.validateOptional()
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateQueue(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Worker.Upscaler.Binary == "" {
		return fmt.Errorf("worker upscaler binary is required")
	}

	if c.Worker.Upscaler.Timeout < 0 {
		return fmt.Errorf("worker upscaler timeout must not be negative")
	}

	if c.ModelsDir() == "" {
		return fmt.Errorf("worker upscaler models dir is required for environment %q", c.App.Environment)
	}

	return c.validateOptional()
}

func (c *Config) validateQueue() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}

	if c.Queue.Name == "" {
		return fmt.Errorf("queue name is required")
	}

	if c.Queue.MaxRetry < 0 {
		return fmt.Errorf("queue max_retry must not be negative")
	}

	return nil
}

// validateOptional checks the sections behind feature toggles
func (c *Config) validateOptional() error {
	if c.History.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}

		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}

		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.Events.Enabled {
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}

		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}

		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}
	}

	return nil
}
