package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pixelbook/internal/config"
	"github.com/dunamismax/pixelbook/internal/lock"
	"github.com/dunamismax/pixelbook/internal/logging"
	"github.com/dunamismax/pixelbook/internal/resize"
	"github.com/dunamismax/pixelbook/internal/storage"
	"github.com/dunamismax/pixelbook/internal/store"
	"github.com/dunamismax/pixelbook/internal/telemetry"
	"github.com/dunamismax/pixelbook/internal/webhook"
	"github.com/dunamismax/pixelbook/internal/worker"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.App.Env, cfg.App.LogLevel).With().Str("component", "worker").Logger()

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("worker failed")
		os.Exit(1)
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.Tracing.ServiceName + "-worker",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("tracing setup: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	if err := resize.Startup(); err != nil {
		return fmt.Errorf("resize backend startup: %w", err)
	}
	defer resize.Shutdown()

	deps := worker.Deps{
		Webhook: webhook.NewClient(webhook.Config{
			SigningSecret:  cfg.Webhook.SigningSecret,
			Timeout:        cfg.Webhook.Timeout,
			MaxAttempts:    cfg.Webhook.MaxAttempts,
			InitialBackoff: cfg.Webhook.InitialBackoff,
			MaxBackoff:     cfg.Webhook.MaxBackoff,
		}),
	}

	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("postgres job store: %w", err)
		}
		defer pg.Close()
		deps.JobStore = pg
		deps.UsageStore = pg
	} else {
		memory := store.NewMemoryJobStore()
		deps.JobStore = memory
		deps.UsageStore = memory
	}

	if cfg.Storage.Enabled {
		client, err := storage.NewClient(storage.Config{
			Endpoint: cfg.Storage.Endpoint,
			Access:   cfg.Storage.AccessKey,
			Secret:   cfg.Storage.SecretKey,
			Bucket:   cfg.Storage.Bucket,
			UseSSL:   cfg.Storage.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("object storage client: %w", err)
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("object storage bucket: %w", err)
		}
		deps.Storage = client
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	defer redisClient.Close()

	locker, err := lock.NewRedisLocker(redisClient, cfg.Lock.TTL, cfg.Lock.Prefix)
	if err != nil {
		return fmt.Errorf("export lock setup: %w", err)
	}
	deps.Locker = locker

	srv, err := worker.NewServer(logger, cfg, deps)
	if err != nil {
		return fmt.Errorf("worker setup: %w", err)
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", srv.MetricsHandler())
	metricsMux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.Worker.MetricsAddr).Msg("metrics listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	logger.Info().
		Int("concurrency", cfg.Worker.Concurrency).
		Int("max_active_jobs", cfg.Worker.MaxActiveJobs).
		Str("queue", cfg.Queue.Name).
		Str("redis", cfg.Queue.RedisAddr).
		Bool("object_storage", cfg.Storage.Enabled).
		Msg("starting worker")

	// Run blocks until SIGINT or SIGTERM.
	runErr := srv.Run()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("metrics shutdown failed")
	}
	return runErr
}
