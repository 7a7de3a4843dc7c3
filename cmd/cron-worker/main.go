package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/kitchenshare-backend/internal/app"
	"github.com/angelmondragon/kitchenshare-backend/internal/cron"
	"github.com/angelmondragon/kitchenshare-backend/pkg/config"
	"github.com/angelmondragon/kitchenshare-backend/pkg/db"
	"github.com/angelmondragon/kitchenshare-backend/pkg/instance"
	"github.com/angelmondragon/kitchenshare-backend/pkg/logger"
	"github.com/angelmondragon/kitchenshare-backend/pkg/metrics"
	"github.com/angelmondragon/kitchenshare-backend/pkg/migrate"
	"github.com/angelmondragon/kitchenshare-backend/pkg/pubsub"
	"github.com/angelmondragon/kitchenshare-backend/pkg/redis"
)

const lockKeyFormat = "ks:cron-worker:lock:%s"

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Instance:    instance.GetID(),
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	var psClient *pubsub.Client
	if !cfg.FeatureFlags.DisableDispatching {
		psClient, err = pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := psClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()
	}

	rec, err := app.BuildRecovery(context.Background(), app.RecoveryParams{
		Config:  cfg,
		Logger:  logg,
		DB:      dbClient,
		Redis:   redisClient,
		PubSub:  psClient,
		Metrics: metrics.NewRecoveryMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build recovery engine", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, rec)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting cron worker")

	if *once {
		if err := service.RunOnce(ctx); err != nil {
			logg.Error(ctx, "cron cycle failed", err)
			os.Exit(1)
		}
		return
	}

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, rec *app.Recovery) (*cron.Registry, error) {
	expiry, err := cron.NewSessionExpiryJob(cron.SessionExpiryJobParams{
		Logger: logg,
		Engine: rec.Engine,
	})
	if err != nil {
		return nil, err
	}
	retry, err := cron.NewRecoveryRetryJob(cron.RecoveryRetryJobParams{
		Logger:    logg,
		Reader:    rec.Repo,
		Engine:    rec.Engine,
		BatchSize: cfg.Recovery.DueBatchSize,
		Workers:   cfg.Cron.Workers,
	})
	if err != nil {
		return nil, err
	}
	reconcile, err := cron.NewReconcileJob(cron.ReconcileJobParams{
		Logger:   logg,
		Reader:   rec.Repo,
		Engine:   rec.Engine,
		Lookback: cfg.Recovery.ReconcileLookback,
	})
	if err != nil {
		return nil, err
	}
	// expiry runs first so retries see sessions that lapsed this cycle
	return cron.NewRegistry(expiry, retry, reconcile)
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
