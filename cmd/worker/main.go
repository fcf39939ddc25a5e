package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	_ "github.com/lib/pq"

	"github.com/jwalitptl/booking-api/internal/config"
	"github.com/jwalitptl/booking-api/internal/repository/postgres"
	internalworker "github.com/jwalitptl/booking-api/internal/worker"
	"github.com/jwalitptl/booking-api/pkg/logger"
	redisBroker "github.com/jwalitptl/booking-api/pkg/messaging/redis"
	"github.com/jwalitptl/booking-api/pkg/metrics"
	"github.com/jwalitptl/booking-api/pkg/worker"
)

// workerEnv holds deployment-level overrides that do not belong in the
// shared config file.
type workerEnv struct {
	HealthPort      int           `envconfig:"WORKER_HEALTH_PORT" default:"8081"`
	CleanupInterval time.Duration `envconfig:"WORKER_CLEANUP_INTERVAL" default:"1h"`
}

func main() {
	var env workerEnv
	if err := envconfig.Process("", &env); err != nil {
		log.Fatal().Err(err).Msg("failed to read environment")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	brokerLogger := log.With().Str("component", "broker").Logger()
	broker, err := redisBroker.NewRedisBroker(redisBroker.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   3,
		RetryBackoff: 100 * time.Millisecond,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, &brokerLogger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect broker")
	}
	defer broker.Close()

	outboxRepo := postgres.NewOutboxRepository(db)

	processor := worker.NewOutboxProcessor(
		outboxRepo,
		broker,
		worker.OutboxProcessorConfig{
			BatchSize:     cfg.Outbox.BatchSize,
			PollInterval:  cfg.Outbox.PollInterval,
			RetryAttempts: cfg.Outbox.RetryAttempts,
			RetryDelay:    cfg.Outbox.RetryDelay,
		},
		appLogger,
		metrics.NewMetrics("booking", "worker"),
	)

	cleanup := internalworker.NewOutboxCleanup(outboxRepo, cfg.Outbox.Retention, env.CleanupInterval, appLogger)

	setupHealthCheck(env.HealthPort, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		appLogger.Info("shutting down worker")
		cancel()
	}()

	go cleanup.Start(ctx)
	processor.Start(ctx)
}

func setupHealthCheck(port int, l *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
			l.Error(err, "health check server failed")
			os.Exit(1)
		}
	}()
}
