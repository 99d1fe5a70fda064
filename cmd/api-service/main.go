package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/image-jobs/internal/api/handler"
	"github.com/cuongbtq/image-jobs/internal/api/router"
	"github.com/cuongbtq/image-jobs/internal/config"
	"github.com/cuongbtq/image-jobs/internal/events"
	"github.com/cuongbtq/image-jobs/internal/history"
	"github.com/cuongbtq/image-jobs/internal/jobs"
	"github.com/cuongbtq/image-jobs/internal/queue"
	"github.com/cuongbtq/image-jobs/shared/logger"
	"github.com/cuongbtq/image-jobs/shared/postgresql"
	"github.com/cuongbtq/image-jobs/shared/rabbitmq"
	"github.com/gin-gonic/gin"
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
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx := context.Background()
	queueCfg := initQueueConfig(cfg)

	// Initialize Redis and the job store
	rdb, err := queue.NewRedisClient(ctx, queueCfg.Redis, appLogger.Component("redis"))
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			appLogger.Warn("Failed to close redis", slog.Any("error", err))
		}
	}()

	store := queue.NewStore(queueCfg, rdb, appLogger.Component("queue"))
	defer func() {
		if err := store.Close(); err != nil {
			appLogger.Warn("Failed to close job store", slog.Any("error", err))
		}
	}()

	healthChecks := map[string]handler.HealthCheck{
		"queue": store.Ping,
	}

	var (
		listeners    []jobs.Listener
		historyStore *history.Storage
	)

	// Job ledger
	if cfg.History.Enabled {
		dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Component("postgresql"))
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
		historyStore = history.NewStorage(dbClient.GetDB(), appLogger.Component("history"))
		listeners = append(listeners, historyStore)
		healthChecks["database"] = dbClient.HealthCheck
	}

	// Lifecycle events
	if cfg.Events.Enabled {
		rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Component("rabbitmq"))
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()
		appLogger.Info("RabbitMQ connection established")

		listeners = append(listeners, events.NewPublisher(rabbitClient, cfg.App.Name, cfg.Events.RoutingPrefix, appLogger.Component("events")))
		healthChecks["rabbitmq"] = func(context.Context) error {
			if !rabbitClient.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		}
	}

	notifier := jobs.NewNotifier(appLogger.Logger, listeners...)
	tracker := jobs.NewTracker(store)

	deps := &handler.Dependencies{
		Logger:             appLogger.Logger,
		ServiceName:        cfg.App.Name,
		Service:            jobs.NewService(store, notifier, appLogger.Component("jobs")),
		Tracker:            tracker,
		Streamer:           jobs.NewStreamer(tracker, cfg.Jobs.StreamPeriod, appLogger.Component("stream")),
		AvgDurationSeconds: cfg.Jobs.AvgDurationSeconds,
		MaxUploadBytes:     cfg.Server.MaxUploadBytes,
		ValidJobID:         queue.ValidJobID,
		HealthChecks:       healthChecks,
	}
	// a typed nil would register the ledger routes
	if historyStore != nil {
		deps.History = historyStore
	}

	// Initialize router
	r := initRouter(cfg.App.Environment, deps)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := router.NewServer(router.ServerConfig{
		Addr:         addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}, r)

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server...", slog.String("signal", sig.String()))
	case err := <-serverErr:
		appLogger.Error("Server failed to start", slog.Any("error", err))
		return err
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
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
		QueueName:   cfg.Queue.Name,
		KeyPrefix:   cfg.Queue.KeyPrefix,
		MaxRetry:    cfg.Queue.MaxRetry,
		Retention:   cfg.Queue.Retention,
		TaskTimeout: cfg.Queue.TaskTimeout,
		ListPage:    cfg.Queue.ListPage,
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

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if environment == config.EnvironmentProduction {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
