package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fieldcheck/servicereport-backend/internal/notifications"
	"github.com/fieldcheck/servicereport-backend/internal/realtime"
	"github.com/fieldcheck/servicereport-backend/pkg/config"
	"github.com/fieldcheck/servicereport-backend/pkg/db"
	"github.com/fieldcheck/servicereport-backend/pkg/instance"
	"github.com/fieldcheck/servicereport-backend/pkg/logger"
	"github.com/fieldcheck/servicereport-backend/pkg/metrics"
	"github.com/fieldcheck/servicereport-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"instance": instance.ID("worker-0"),
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(logg, "database", err)
	defer dbClient.Close()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(logg, "redis", err)
	defer redisClient.Close()

	channel, err := realtime.NewChannel(redisClient, logg, realtime.Options{
		ReconnectBase: cfg.Notifications.ReconnectBase(),
		ReconnectMax:  cfg.Notifications.ReconnectMax(),
	})
	requireResource(logg, "realtime channel", err)

	queue, err := notifications.NewGormQueue(dbClient.DB())
	requireResource(logg, "retry queue", err)

	dispatcher, err := notifications.NewDispatcher(
		notifications.NewRepository(dbClient.DB()),
		channel,
		queue,
		logg,
		metrics.NewNotificationMetrics(prometheus.DefaultRegisterer),
		notifications.DispatcherOptionsFromConfig(cfg.Notifications),
	)
	requireResource(logg, "notification dispatcher", err)

	svc, err := NewService(ServiceParams{
		Config:  cfg,
		Logger:  logg,
		DB:      dbClient,
		Redis:   redisClient,
		Sweeper: dispatcher,
	})
	requireResource(logg, "worker service", err)

	logg.Info(ctx, "starting worker")
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped", err)
		os.Exit(1)
	}
	logg.Info(ctx, "worker shutting down gracefully")
}

func requireResource(logg *logger.Logger, name string, err error) {
	if err == nil {
		return
	}
	logg.Error(logg.WithField(context.Background(), "resource", name), "failed to initialize resource", err)
	os.Exit(1)
}
