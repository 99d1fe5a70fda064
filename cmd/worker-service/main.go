package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/image-jobs/internal/config"
	"github.com/cuongbtq/image-jobs/internal/events"
	"github.com/cuongbtq/image-jobs/internal/history"
	"github.com/cuongbtq/image-jobs/internal/jobs"
	"github.com/cuongbtq/image-jobs/internal/queue"
	"github.com/cuongbtq/image-jobs/internal/worker"
	"github.com/cuongbtq/image-jobs/shared/logger"
	"github.com/cuongbtq/image-jobs/shared/postgresql"
	"github.com/cuongbtq/image-jobs/shared/rabbitmq"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queueCfg := initQueueConfig(cfg)
	rdb, err := queue.NewRedisClient(ctx, queueCfg.Redis, appLogger.Component("redis"))
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	defer rdb.Close()

	var (
		listeners    []jobs.Listener
		dbClient     *postgresql.Client
		rabbitClient *rabbitmq.Client
	)

	// Job ledger
	if cfg.History.Enabled {
		dbClient, err = initPostgreSQL(&cfg.Database, appLogger.Component("postgresql"))
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer dbClient.Close()
		appLogger.Info("Database connection established")

		if cfg.History.AutoMigrate {
			if err := dbClient.Migrate(ctx, history.Schema); err != nil {
				return fmt.Errorf("failed to migrate history schema: %w", err)
			}
		}
		listeners = append(listeners, history.NewStorage(dbClient.GetDB(), appLogger.Component("history")))
	}

	// Lifecycle events
	if cfg.Events.Enabled {
		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, appLogger.Component("rabbitmq"))
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()
		appLogger.Info("RabbitMQ connection established")

		listeners = append(listeners, events.NewPublisher(rabbitClient, cfg.App.Name, cfg.Events.RoutingPrefix, appLogger.Component("events")))
	}

	scratch, err := worker.NewScratch(cfg.Worker.ScratchDir, appLogger.Component("scratch"))
	if err != nil {
		return fmt.Errorf("failed to prepare scratch directory: %w", err)
	}

	tool := worker.NewExecTool(cfg.Worker.Upscaler.Binary, cfg.Worker.Upscaler.Timeout, appLogger.Component("upscaler"))
	upscaler := worker.NewUpscaler(tool, scratch, cfg.ModelsDir(), appLogger.Component("upscaler"))
	processor := worker.NewProcessor(upscaler, jobs.NewNotifier(appLogger.Logger, listeners...), appLogger.Component("processor"))

	server := queue.NewServer(queue.ServerConfig{
		Queue:           queueCfg,
		Concurrency:     cfg.Worker.Concurrency,
		ShutdownTimeout: cfg.Worker.ShutdownTimeout,
	}, rdb, appLogger.Component("queue"))

	appLogger.Info("Upscaler configured",
		slog.String("binary", cfg.Worker.Upscaler.Binary),
		slog.String("models_dir", cfg.ModelsDir()),
		slog.String("scratch_dir", scratch.Dir()),
	)

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:      appLogger.Logger,
		Server:      server,
		Processor:   processor,
		Concurrency: cfg.Worker.Concurrency,
	})

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully",
		slog.String("worker_id", workerInstance.ID()),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	// Cancel context to stop worker
	cancel()

	// asynq bounds in-flight jobs by its own shutdown timeout; this is the outer limit
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout+5*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initQueueConfig maps the redis and queue sections onto the job store config
func initQueueConfig(cfg *config.Config) queue.Config {
	return queue.Config{
		Redis: queue.RedisConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		},
		QueueName: cfg.Queue.Name,
		KeyPrefix: cfg.Queue.KeyPrefix,
		MaxRetry:  cfg.Queue.MaxRetry,
		Retention: cfg.Queue.Retention,
		ListPage:  cfg.Queue.ListPage,
	}
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		BindingKey:         cfg.Queue.BindingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
