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

	"github.com/angelmondragon/marketplace-backend/api/routes"
	"github.com/angelmondragon/marketplace-backend/internal/cart"
	"github.com/angelmondragon/marketplace-backend/internal/notifications"
	"github.com/angelmondragon/marketplace-backend/internal/orders"
	"github.com/angelmondragon/marketplace-backend/internal/payments"
	"github.com/angelmondragon/marketplace-backend/internal/paymentstatus"
	"github.com/angelmondragon/marketplace-backend/internal/products"
	"github.com/angelmondragon/marketplace-backend/internal/reconcile"
	gatewaywebhook "github.com/angelmondragon/marketplace-backend/internal/webhooks/gateway"
	"github.com/angelmondragon/marketplace-backend/pkg/broker"
	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/gateway"
	"github.com/angelmondragon/marketplace-backend/pkg/idempotency"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
	"github.com/angelmondragon/marketplace-backend/pkg/migrate"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/redis"
)

const (
	serviceKind     = "api"
	shutdownTimeout = 20 * time.Second
	webhookScope    = "webhook:payments"
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	gatewayClient, err := gateway.NewClient(cfg.Gateway, gateway.WithMetrics(metrics.NewGatewayMetrics(registry)))
	if err != nil {
		logg.Error(context.Background(), "failed to create gateway client", err)
		os.Exit(1)
	}

	handler, events, err := buildHandler(cfg, logg, dbClient, redisClient, gatewayClient, registry)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}
	defer events.Close()

	server := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceKind,
		"addr":        server.Addr,
	})

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	// Open SSE streams end when the broker closes.
	events.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "api server shutdown failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down gracefully")
}

func buildHandler(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, gw *gateway.Client, registry *prometheus.Registry) (http.Handler, *broker.Broker, error) {
	conn := dbClient.DB()
	cartRepo := cart.NewRepository(conn)
	productRepo := products.NewRepository(conn)
	orderRepo := orders.NewRepository(conn)
	paymentRepo := payments.NewRepository(conn)

	cartService, err := cart.NewService(cartRepo, productRepo)
	if err != nil {
		return nil, nil, err
	}
	aggregator, err := cart.NewAggregator(cartRepo)
	if err != nil {
		return nil, nil, err
	}
	tolerance, err := cfg.Checkout.PriceToleranceDecimal()
	if err != nil {
		return nil, nil, err
	}
	factory, err := orders.NewFactory(orders.FactoryConfig{
		ShippingCost:   cfg.Checkout.ShippingCost,
		ServiceFee:     cfg.Checkout.ServiceFee,
		PriceTolerance: tolerance,
	}, orders.FactoryDeps{
		Tx:         dbClient,
		Aggregator: aggregator,
		Cart:       cartRepo,
		Products:   productRepo,
		Orders:     orderRepo,
		Numbers:    orders.NewNumberGenerator(cfg.Checkout.OrderNumberPrefix, nil),
		Logger:     logg,
	})
	if err != nil {
		return nil, nil, err
	}

	manager, err := payments.NewManager(payments.ManagerConfig{
		InvoiceDuration:    cfg.Gateway.InvoiceDuration,
		SuccessRedirectURL: cfg.Gateway.SuccessRedirectURL,
		FailureRedirectURL: cfg.Gateway.FailureRedirectURL,
	}, orderRepo, paymentRepo, gw, logg)
	if err != nil {
		return nil, nil, err
	}

	emitter, err := outbox.NewService(outbox.NewRepository(conn), logg)
	if err != nil {
		return nil, nil, err
	}
	events := broker.New(metrics.NewBrokerMetrics(registry))
	reconciler, err := reconcile.NewService(reconcile.Config{
		RestockOnCancel: cfg.Checkout.RestockOnCancel,
	}, reconcile.Deps{
		Tx:       dbClient,
		Orders:   orderRepo,
		Payments: paymentRepo,
		Products: productRepo,
		Outbox:   emitter,
		Broker:   events,
		Metrics:  metrics.NewReconcileMetrics(registry),
		Logger:   logg,
	})
	if err != nil {
		events.Close()
		return nil, nil, err
	}

	status, err := paymentstatus.NewService(orderRepo, paymentRepo, gw, reconciler, logg)
	if err != nil {
		events.Close()
		return nil, nil, err
	}
	inbox, err := notifications.NewService(notifications.NewRepository(conn))
	if err != nil {
		events.Close()
		return nil, nil, err
	}
	guard, err := idempotency.NewGuard(redisClient, cfg.Eventing.WebhookIdempotencyTTL, webhookScope)
	if err != nil {
		events.Close()
		return nil, nil, err
	}
	webhook, err := gatewaywebhook.NewService(gatewaywebhook.ServiceParams{
		Secret:     cfg.Gateway.WebhookSecret,
		Orders:     orderRepo,
		Reconciler: reconciler,
		Guard:      guard,
		Logger:     logg,
	})
	if err != nil {
		events.Close()
		return nil, nil, err
	}

	handler := routes.NewRouter(cfg, logg, routes.Services{
		DB:            dbClient,
		Redis:         redisClient,
		Gatherer:      registry,
		Cart:          cartService,
		Orders:        factory,
		Intents:       manager,
		Status:        status,
		Events:        events,
		Fulfilment:    reconciler,
		Notifications: inbox,
		Webhook:       webhook,
	})
	return handler, events, nil
}
