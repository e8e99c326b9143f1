package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fieldcheck/servicereport-backend/internal/cron"
	"github.com/fieldcheck/servicereport-backend/internal/notifications"
	"github.com/fieldcheck/servicereport-backend/pkg/config"
	"github.com/fieldcheck/servicereport-backend/pkg/db"
	"github.com/fieldcheck/servicereport-backend/pkg/instance"
	"github.com/fieldcheck/servicereport-backend/pkg/logger"
	"github.com/fieldcheck/servicereport-backend/pkg/metrics"
	"github.com/fieldcheck/servicereport-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	requireResource(logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	requireResource(logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	jobMetrics := metrics.NewJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("maintenance:"+cfg.App.Env), 0)
	requireResource(logg, "maintenance lock", err)

	queue, err := notifications.NewGormQueue(dbClient.DB())
	requireResource(logg, "retry queue", err)

	notificationRetention, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Name:      "notification-retention",
		Logger:    logg,
		Metrics:   jobMetrics,
		Purge:     notifications.NewRepository(dbClient.DB()).DeleteReadBefore,
		Retention: cfg.Maintenance.NotificationRetention(),
	})
	requireResource(logg, "notification retention job", err)

	deadLetterRetention, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Name:      "dead-letter-retention",
		Logger:    logg,
		Metrics:   jobMetrics,
		Purge:     queue.PurgeDeadLetters,
		Retention: cfg.Maintenance.DeadLetterRetention(),
	})
	requireResource(logg, "dead letter retention job", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(notificationRetention, deadLetterRetention),
		Lock:     lock,
		Metrics:  jobMetrics,
		Interval: cfg.Maintenance.Interval(),
	})
	requireResource(logg, "maintenance service", err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"instance": instance.ID("cron-0"),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

func requireResource(logg *logger.Logger, name string, err error) {
	if err == nil {
		return
	}
	logg.Error(logg.WithField(context.Background(), "resource", name), "failed to initialize resource", err)
	os.Exit(1)
}
