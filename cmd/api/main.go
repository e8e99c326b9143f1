package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/fieldcheck/servicereport-backend/api/routes"
	"github.com/fieldcheck/servicereport-backend/internal/audit"
	"github.com/fieldcheck/servicereport-backend/internal/hierarchy"
	"github.com/fieldcheck/servicereport-backend/internal/notifications"
	"github.com/fieldcheck/servicereport-backend/internal/realtime"
	"github.com/fieldcheck/servicereport-backend/internal/reports"
	"github.com/fieldcheck/servicereport-backend/internal/users"
	"github.com/fieldcheck/servicereport-backend/pkg/config"
	"github.com/fieldcheck/servicereport-backend/pkg/db"
	"github.com/fieldcheck/servicereport-backend/pkg/instance"
	"github.com/fieldcheck/servicereport-backend/pkg/logger"
	"github.com/fieldcheck/servicereport-backend/pkg/metrics"
	"github.com/fieldcheck/servicereport-backend/pkg/migrate"
	"github.com/fieldcheck/servicereport-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	channel, err := realtime.NewChannel(redisClient, logg, realtime.Options{
		ReconnectBase: cfg.Notifications.ReconnectBase(),
		ReconnectMax:  cfg.Notifications.ReconnectMax(),
	})
	requireResource(logg, "realtime channel", err)

	notificationsRepo := notifications.NewRepository(dbClient.DB())
	queue, err := notifications.NewRetryQueue(cfg.Notifications, dbClient.DB())
	requireResource(logg, "retry queue", err)

	dispatcher, err := notifications.NewDispatcher(
		notificationsRepo,
		channel,
		queue,
		logg,
		metrics.NewNotificationMetrics(registry),
		notifications.DispatcherOptionsFromConfig(cfg.Notifications),
	)
	requireResource(logg, "notification dispatcher", err)

	notificationsService, err := notifications.NewService(notificationsRepo)
	requireResource(logg, "notifications service", err)

	userRepo := users.NewRepository(dbClient.DB())
	hierarchyCache := hierarchy.NewCache(cfg.Hierarchy.CacheTTL())
	resolver, err := hierarchy.NewResolver(userRepo, hierarchyCache)
	requireResource(logg, "hierarchy resolver", err)

	recorder, err := audit.NewRecorder(audit.NewRepository(dbClient.DB()))
	requireResource(logg, "audit recorder", err)

	reportsService, err := reports.NewService(reports.ServiceParams{
		Repo:      reports.NewRepository(dbClient.DB()),
		Tx:        dbClient,
		Authority: resolver,
		Users:     userRepo,
		Audit:     recorder,
		Notifier:  dispatcher,
		Logger:    logg,
		Metrics:   metrics.NewDecisionMetrics(registry),
		Options:   reports.OptionsFromConfig(cfg.Reports),
	})
	requireResource(logg, "reports service", err)

	usersService, err := users.NewService(users.ServiceParams{
		Repo:      userRepo,
		Tx:        dbClient,
		Authority: resolver,
		Cache:     hierarchyCache,
		Audit:     recorder,
		Notifier:  dispatcher,
		Logger:    logg,
	})
	requireResource(logg, "users service", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.ID("api-0"),
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			registry,
			reportsService,
			usersService,
			notificationsService,
			channel,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logg.Info(gctx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		logg.Info(gctx, "shutting down api server")
		return server.Shutdown(shutdownCtx)
	})
	// Memory queues only drain in the process that filled them.
	if cfg.Notifications.InProcessSweep || !cfg.Notifications.UseDurableQueue {
		g.Go(func() error {
			return dispatcher.Run(gctx, cfg.Notifications.SweepInterval())
		})
	}

	if err := g.Wait(); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server stopped")
}

func requireResource(logg *logger.Logger, name string, err error) {
	if err == nil {
		return
	}
	logg.Error(logg.WithField(context.Background(), "resource", name), "failed to initialize resource", err)
	os.Exit(1)
}
