package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/platehaus/storefront/internal/apikey"
	"github.com/platehaus/storefront/internal/callbacks"
	"github.com/platehaus/storefront/internal/config"
	"github.com/platehaus/storefront/internal/httphandlers"
	"github.com/platehaus/storefront/internal/idempotency"
	"github.com/platehaus/storefront/internal/logger"
	"github.com/platehaus/storefront/internal/metrics"
	"github.com/platehaus/storefront/internal/orders"
	"github.com/platehaus/storefront/internal/payload"
	"github.com/platehaus/storefront/internal/payments"
	"github.com/platehaus/storefront/internal/products"
	"github.com/platehaus/storefront/internal/ratelimit"
	"github.com/platehaus/storefront/internal/storage"
	"github.com/platehaus/storefront/internal/stripe"
)

var (
	serverStartTime = time.Now()
)

// idempotencyTTL bounds how long a replayed payment-link response is kept.
const idempotencyTTL = 24 * time.Hour

// PaymentService creates payment links and records payments.
type PaymentService interface {
	CreatePaymentLink(ctx context.Context, orderID string, meta payload.Metadata) (payments.LinkResult, error)
	CreatePaymentLinks(ctx context.Context, orderIDs []string) (payments.BatchResult, error)
	MarkPaid(ctx context.Context, orderID string, payment orders.Payment) (payments.PaidResult, error)
	HandleStripeEvent(ctx context.Context, ev stripe.WebhookEvent) error
}

// StripeWebhookParser verifies and decodes inbound Stripe events.
type StripeWebhookParser interface {
	ParseWebhook(payload []byte, signature string) (stripe.WebhookEvent, error)
}

// Dependencies are the collaborators the router dispatches to.
// Drainer, Sender, Payments, Stripe and Catalog may be nil; their routes then report config_error.
type Dependencies struct {
	Config      *config.Config
	Store       storage.Store
	Settings    httphandlers.SettingsManager
	Drainer     httphandlers.Drainer
	Sender      *callbacks.Sender
	Diagnostics httphandlers.Diagnoser
	Payments    PaymentService
	Stripe      StripeWebhookParser
	Orders      orders.Repository
	Catalog     products.Repository
	Idempotency idempotency.Store
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer // Registry behind /metrics; nil means the default
	Logger      zerolog.Logger
}

// Server is the listening side of the storefront: cfg.Server timeouts around a routed handler.
type Server struct {
	httpServer *http.Server
}

type handlers struct {
	cfg      *config.Config
	store    storage.Store
	payments PaymentService
	stripe   StripeWebhookParser
	orders   orders.Repository
	catalog  products.Repository
	logger   zerolog.Logger
}

func newHandlers(deps Dependencies) handlers {
	return handlers{
		cfg:      deps.Config,
		store:    deps.Store,
		payments: deps.Payments,
		stripe:   deps.Stripe,
		orders:   deps.Orders,
		catalog:  deps.Catalog,
		logger:   deps.Logger,
	}
}

// New wraps a handler built by ConfigureRouter in an http.Server using cfg.Server.
func New(cfg *config.Config, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      handler,
		},
	}
}

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// ConfigureRouter attaches storefront routes to an existing router.
func ConfigureRouter(router chi.Router, deps Dependencies) {
	if router == nil || deps.Config == nil {
		return
	}
	cfg := deps.Config
	handler := newHandlers(deps)
	admin := httphandlers.NewWebhooksAdminHandler(deps.Store, deps.Settings, deps.Drainer, deps.Sender, deps.Diagnostics)

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", apikey.HeaderKey, idempotency.HeaderKey},
			ExposedHeaders:   []string{idempotency.HeaderReplay},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)

	// Logging before RequestID so the request logger is in context for every later middleware.
	router.Use(logger.Middleware(deps.Logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	// Role lookup runs before rate limiting so admin keys are exempt.
	router.Use(apikey.Middleware(apikey.ConfigFromMap(cfg.Admin.APIKeys)))

	rateLimitCfg := ratelimit.FromConfig(cfg.RateLimit, deps.Metrics)
	router.Use(ratelimit.GlobalLimiter(rateLimitCfg))
	router.Use(ratelimit.IPLimiter(rateLimitCfg))

	prefix := cfg.Server.RoutePrefix

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get(prefix+"/health", handler.health)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).Handle(prefix+"/metrics", metricsHandler(deps.Gatherer))
	})

	// Stripe retries on non-2xx, so this URL never moves under versioning.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Post(prefix+"/webhooks/stripe", handler.handleStripeWebhook)
	})

	idemStore := deps.Idempotency
	if idemStore == nil {
		idemStore = idempotency.NewMemoryStore()
	}
	idempotencyMW := idempotency.Middleware(idemStore, idempotencyTTL)

	router.Route(prefix+"/admin", func(r chi.Router) {
		// Drain waits on up to batch_size deliveries and is bounded by the server write timeout.
		r.With(apikey.Require(apikey.RoleAdmin, apikey.RoleScheduler)).Post("/webhooks/drain", admin.Drain)

		r.Group(func(r chi.Router) {
			r.Use(apikey.Require(apikey.RoleAdmin))
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/webhooks/settings", admin.GetSettings)
			r.Put("/webhooks/settings", admin.UpdateSettings)
			r.Get("/webhooks/queue", admin.ListQueue)
			r.Get("/webhooks/queue/{id}", admin.GetQueueEntry)
			r.Post("/webhooks/queue/{id}/cancel", admin.CancelQueueEntry)
			r.Get("/webhooks/logs", admin.ListLogs)
			r.Post("/webhooks/test", admin.TestDelivery)

			r.Get("/orders", handler.listOrders)
			r.With(idempotencyMW).Post("/orders/payment-links", handler.createPaymentLinks)
			r.With(idempotencyMW).Post("/orders/{orderID}/payment-link", handler.createPaymentLink)
			r.Post("/orders/{orderID}/mark-paid", handler.markPaid)
			r.Get("/orders/{orderID}/webhook-diagnosis", admin.DiagnoseOrder)

			r.Get("/catalog", handler.listCatalog)
		})
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
