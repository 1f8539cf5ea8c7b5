package main

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kjannette/pvpc-backend/internal/cache"
	"github.com/kjannette/pvpc-backend/internal/config"
	"github.com/kjannette/pvpc-backend/internal/db"
	"github.com/kjannette/pvpc-backend/internal/external"
	"github.com/kjannette/pvpc-backend/internal/logging"
	"github.com/kjannette/pvpc-backend/internal/metrics"
	"github.com/kjannette/pvpc-backend/internal/models"
	"github.com/kjannette/pvpc-backend/internal/notifications"
	"github.com/kjannette/pvpc-backend/internal/prices"
	"github.com/kjannette/pvpc-backend/internal/repository"
	"github.com/kjannette/pvpc-backend/internal/resilience"
	"github.com/kjannette/pvpc-backend/internal/scheduler"
)

// app holds the wired components shared by the serve and fetch commands.
type app struct {
	cfg       *config.Config
	log       zerolog.Logger
	pool      *pgxpool.Pool
	redis     *redis.Client
	metrics   *metrics.Metrics
	notify    *notifications.Sender
	service   *prices.Service
	scheduler *scheduler.IngestScheduler
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	root := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	log := logging.Component("app")

	if err := cfg.Validate(log); err != nil {
		return nil, err
	}
	cfg.Print(log)

	a := &app{cfg: cfg, log: log, metrics: metrics.New()}

	// Database
	pool, err := db.Connect(ctx, cfg.DSN(), db.PoolOptions{
		MaxConns:        int32(cfg.DBMaxConns),
		MinConns:        int32(cfg.DBMinConns),
		MaxConnIdle:     cfg.DBMaxConnIdle,
		MaxConnLifetime: cfg.DBMaxConnLifetime,
		AppName:         cfg.AppName,
	}, logging.Component("db"))
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a.pool = pool
	if err := db.EnsureSchema(ctx, pool); err != nil {
		a.Close()
		return nil, fmt.Errorf("schema: %w", err)
	}

	// Cache
	var c cache.Cache = cache.NewMemoryCache()
	if cfg.RedisURL != "" {
		client, err := cache.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, falling back to in-process cache")
		} else {
			a.redis = client
			c = cache.NewRedisCache(client)
		}
	}

	a.notify = notifications.NewSender(cfg.WebhookURL, cfg.AppName, logging.Component("notify"))

	exec := resilience.NewExecutor("price-provider", resilience.BreakerSettings{
		FailureThreshold: uint32(cfg.CBFailureThreshold),
		RecoveryTimeout:  cfg.CBRecoveryTimeout,
	}, logging.Component("resilience"), func(name, from, to string) {
		a.metrics.ObserveBreaker(name, from, to)
		a.notify.BreakerChanged(name, from, to)
	})

	source := external.NewSource(external.ProvidersFromConfig(cfg), cfg.ProviderTimeout, logging.Component("external"))

	retry := resilience.DefaultOptions()
	retry.MaxRetries = cfg.MaxRetries

	a.service = prices.NewService(source, exec, repository.NewPriceRepo(pool), c, a.metrics, prices.Options{
		Location:    cfg.Location(),
		FixedTariff: cfg.FixedTariff,
		TTLs: cache.TTLs{
			Today:    cfg.CacheTodayTTL,
			Tomorrow: cfg.CacheTomorrowTTL,
			Stats:    cfg.CacheStatsTTL,
		},
		Retry: retry,
	}, logging.Component("prices"))

	a.scheduler, err = scheduler.NewIngestScheduler(a.service, scheduler.Config{
		Location:            cfg.Location(),
		MainSpec:            cfg.CronSchedule,
		RetrySpec:           cfg.RetryCronSchedule,
		ResetSpec:           cfg.ResetCronSchedule,
		BackupEnabled:       cfg.BackupCheckEnabled,
		BackupSpec:          cfg.BackupCronSchedule,
		BackupThresholdHour: cfg.BackupThresholdHour,
		OnFallback:          a.notify.FallbackApplied,
	}, a.metrics, root.With().Str("component", "scheduler").Logger())
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) ping(ctx context.Context) error {
	return db.Check(ctx, a.pool, a.log)
}

func (a *app) today() time.Time {
	return models.Today(time.Now(), a.cfg.Location())
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("redis close")
		}
	}
	if a.pool != nil {
		a.pool.Close()
		a.log.Info().Msg("database pool closed")
	}
}
