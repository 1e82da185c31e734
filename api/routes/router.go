package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/marketplace-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/marketplace-backend/api/controllers/webhooks"
	"github.com/angelmondragon/marketplace-backend/api/middleware"
	"github.com/angelmondragon/marketplace-backend/internal/notifications"
	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/redis"
)

// Services carries everything the HTTP surface dispatches to. Redis may be
// nil, which disables rate limiting and idempotent replay.
type Services struct {
	DB            controllers.Pinger
	Redis         *redis.Client
	Gatherer      prometheus.Gatherer
	Cart          controllers.CartService
	Orders        controllers.OrderCreator
	Intents       controllers.PaymentIntentCreator
	Status        controllers.PaymentStatusReader
	Events        controllers.OrderSubscriber
	Fulfilment    controllers.OrderAdvancer
	Notifications notifications.Service
	Webhook       webhookcontrollers.Handler
}

func NewRouter(cfg *config.Config, logg *logger.Logger, svc Services) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	limit := func(policy middleware.RateLimitPolicy) func(http.Handler) http.Handler {
		if svc.Redis == nil {
			return passthrough
		}
		return middleware.RateLimit(policy, svc.Redis, logg)
	}
	idempotent := passthrough
	if svc.Redis != nil {
		idempotent = middleware.Idempotency(svc.Redis, logg)
	}
	intentPolicy := middleware.NewRateLimitPolicy("payment-intent", cfg.RateLimit.Window, cfg.RateLimit.PaymentIntentLimit)
	webhookPolicy := middleware.NewRateLimitPolicy("payment-webhook", cfg.RateLimit.Window, cfg.RateLimit.WebhookIPLimit)

	readiness := map[string]controllers.Pinger{"database": svc.DB}
	if svc.Redis != nil {
		readiness["redis"] = svc.Redis
	}
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})

	gatherer := svc.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.With(limit(webhookPolicy)).Post("/payments", webhookcontrollers.PaymentWebhook(
			svc.Webhook,
			cfg.Gateway.SignatureHeader,
			cfg.App.MaxWebhookBytes,
			logg,
		))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(enums.RoleBuyer, logg))

			r.Get("/cart", controllers.CartView(svc.Cart, logg))
			r.Put("/cart/items", controllers.CartUpsertItem(svc.Cart, logg))
			r.Delete("/cart/items/{productID}", controllers.CartRemoveItem(svc.Cart, logg))

			r.With(idempotent).Post("/checkout", controllers.Checkout(svc.Orders, logg))

			r.Route("/orders/{orderID}", func(r chi.Router) {
				r.With(limit(intentPolicy)).Post("/payment-intent", controllers.PaymentIntent(svc.Intents, logg))
				r.Get("/payment-status", controllers.PaymentStatus(svc.Status, logg))
				r.Get("/events", controllers.OrderEvents(svc.Status, svc.Events, cfg.Poller.Heartbeat, logg))
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(enums.RoleSeller, logg))
			r.With(idempotent).Post("/seller/orders/{orderID}/status", controllers.SellerAdvanceOrder(svc.Fulfilment, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(svc.Notifications, logg))
			r.With(idempotent).Post("/read-all", controllers.MarkAllNotificationsRead(svc.Notifications, logg))
			r.Post("/{notificationID}/read", controllers.MarkNotificationRead(svc.Notifications, logg))
		})
	})

	return r
}

func passthrough(next http.Handler) http.Handler {
	return next
}
