package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-backend/internal/cron"
	"github.com/angelmondragon/marketplace-backend/internal/notifications"
	"github.com/angelmondragon/marketplace-backend/internal/orders"
	"github.com/angelmondragon/marketplace-backend/internal/payments"
	"github.com/angelmondragon/marketplace-backend/internal/products"
	"github.com/angelmondragon/marketplace-backend/internal/reconcile"
	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/gateway"
	"github.com/angelmondragon/marketplace-backend/pkg/instance"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
	"github.com/angelmondragon/marketplace-backend/pkg/migrate"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/redis"
)

const (
	serviceKind = "cron-worker"
	lockTTL     = 5 * time.Minute
)

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceKind})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceKind

	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
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

	gatewayClient, err := gateway.NewClient(cfg.Gateway, gateway.WithMetrics(metrics.NewGatewayMetrics(prometheus.DefaultRegisterer)))
	if err != nil {
		logg.Error(context.Background(), "failed to create gateway client", err)
		os.Exit(1)
	}

	jobMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	registry, err := buildRegistry(cfg, logg, dbClient, gatewayClient, jobMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(serviceKind+":"+lockEnv(cfg.App.Env)), lockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  jobMetrics,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"instance":    instance.ID(serviceKind + "-0"),
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, gw *gateway.Client, jobMetrics *metrics.CronJobMetrics) (*cron.Registry, error) {
	conn := dbClient.DB()
	paymentRepo := payments.NewRepository(conn)
	outboxRepo := outbox.NewRepository(conn)

	emitter, err := outbox.NewService(outboxRepo, logg)
	if err != nil {
		return nil, err
	}
	// Realtime subscribers live in the api process; cron transitions reach
	// them through the SSE heartbeat re-read.
	reconciler, err := reconcile.NewService(reconcile.Config{
		RestockOnCancel: cfg.Checkout.RestockOnCancel,
	}, reconcile.Deps{
		Tx:       dbClient,
		Orders:   orders.NewRepository(conn),
		Payments: paymentRepo,
		Products: products.NewRepository(conn),
		Outbox:   emitter,
		Metrics:  metrics.NewReconcileMetrics(prometheus.DefaultRegisterer),
		Logger:   logg,
	})
	if err != nil {
		return nil, err
	}

	syncJob, err := cron.NewPaymentSyncJob(cron.PaymentSyncJobParams{
		Logger:     logg,
		Payments:   paymentRepo,
		Gateway:    gw,
		Reconciler: reconciler,
		Metrics:    jobMetrics,
		MinAge:     cfg.Cron.PaymentSyncMinAge,
		BatchSize:  cfg.Cron.PaymentSyncBatch,
	})
	if err != nil {
		return nil, err
	}
	expiryJob, err := cron.NewPaymentExpiryJob(cron.PaymentExpiryJobParams{
		Logger:     logg,
		Payments:   paymentRepo,
		Gateway:    gw,
		Reconciler: reconciler,
		Metrics:    jobMetrics,
		Grace:      cfg.Cron.PaymentExpiryGrace,
		BatchSize:  cfg.Cron.PaymentExpiryBatch,
	})
	if err != nil {
		return nil, err
	}

	retention := cron.RetentionJobParams{Logger: logg, DB: dbClient, Metrics: jobMetrics}
	retention.Retention = cfg.Cron.OutboxRetention
	outboxJob, err := cron.NewOutboxRetentionJob(retention, outboxRepo)
	if err != nil {
		return nil, err
	}
	retention.Retention = cfg.Cron.NotificationRetention
	notificationJob, err := cron.NewNotificationCleanupJob(retention, notifications.NewRepository(conn))
	if err != nil {
		return nil, err
	}

	return cron.NewRegistry(syncJob, expiryJob, outboxJob, notificationJob)
}

func lockEnv(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
