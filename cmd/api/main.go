package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tariff-works/internal/api"
	"tariff-works/internal/config"
	"tariff-works/internal/fetch"
	"tariff-works/internal/jobs"
	"tariff-works/internal/jobstore"
	"tariff-works/internal/logging"
	"tariff-works/internal/pipeline"
	"tariff-works/internal/ratelimit"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	store, limiter, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("storage setup failed")
	}
	defer store.Close()

	manager := jobs.NewManager(store, logger)
	fetcher := fetch.New(cfg)
	pipelines := pipeline.New(cfg, manager, fetcher, logger)

	go store.RunSweeper(ctx, cfg.SweepInterval, cfg.JobMaxAge, logger)

	server := api.New(cfg, pipelines, limiter, logger)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	logger.Info().
		Str("port", cfg.HTTPPort).
		Str("storage", cfg.StorageMode).
		Bool("durable", store.Durable()).
		Msg("api listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("listen failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
	logger.Info().Msg("shutdown complete")
}

// buildStorage assembles the job store and the matching rate limiter for the
// configured storage mode. Redis deployments share one bucket across
// replicas; the others use an in-process bucket.
func buildStorage(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*jobstore.Store, ratelimit.Limiter, error) {
	switch cfg.StorageMode {
	case config.StorageRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, err
		}
		store := jobstore.New(jobstore.NewRedisBacking(client))
		limiter := ratelimit.NewRedisBucket(client, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
		return store, limiter, nil

	case config.StoragePostgres:
		backing, err := jobstore.NewPostgresBacking(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		limiter := ratelimit.NewLocalBucket(cfg.RateLimitCapacity, cfg.RateLimitRefill)
		return jobstore.New(backing), limiter, nil

	default:
		logger.Warn().Msg("memory storage configured; job records are lost on restart")
		limiter := ratelimit.NewLocalBucket(cfg.RateLimitCapacity, cfg.RateLimitRefill)
		return jobstore.New(nil), limiter, nil
	}
}
