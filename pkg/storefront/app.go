package storefront

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/platehaus/storefront/internal/callbacks"
	"github.com/platehaus/storefront/internal/circuitbreaker"
	"github.com/platehaus/storefront/internal/config"
	"github.com/platehaus/storefront/internal/dbpool"
	"github.com/platehaus/storefront/internal/diagnostics"
	"github.com/platehaus/storefront/internal/httpserver"
	"github.com/platehaus/storefront/internal/idempotency"
	"github.com/platehaus/storefront/internal/lifecycle"
	"github.com/platehaus/storefront/internal/logger"
	"github.com/platehaus/storefront/internal/metrics"
	"github.com/platehaus/storefront/internal/observability"
	"github.com/platehaus/storefront/internal/orders"
	"github.com/platehaus/storefront/internal/payload"
	"github.com/platehaus/storefront/internal/payments"
	"github.com/platehaus/storefront/internal/products"
	"github.com/platehaus/storefront/internal/settings"
	"github.com/platehaus/storefront/internal/storage"
	stripesvc "github.com/platehaus/storefront/internal/stripe"
)

// App wires the storefront webhook pipeline for reuse or standalone serving.
type App struct {
	Config      *config.Config
	Logger      zerolog.Logger
	Store       storage.Store
	Orders      orders.Repository
	Catalog     products.Repository
	Settings    *settings.Provider
	Sender      *callbacks.Sender
	Worker      *callbacks.Worker
	Trigger     *callbacks.Trigger
	Payments    *payments.Service
	Stripe      *stripesvc.Client // nil when stripe.secret_key is empty
	Diagnostics *diagnostics.Service
	Hooks       *observability.Registry
	Metrics     *metrics.Metrics
	Idempotency *idempotency.MemoryStore

	router          chi.Router
	registerer      prometheus.Registerer
	resourceManager *lifecycle.Manager
}

// Option configures App construction.
type Option func(*options)

type options struct {
	store      storage.Store
	orders     orders.Repository
	catalog    products.Repository
	router     chi.Router
	logger     *zerolog.Logger
	registerer prometheus.Registerer
	httpClient *http.Client
}

// WithStore sets a custom storage backend. The caller keeps ownership and closes it.
func WithStore(store storage.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithOrders injects the order repository instead of building one from config.
func WithOrders(repo orders.Repository) Option {
	return func(o *options) {
		o.orders = repo
	}
}

// WithCatalog injects the product catalog instead of building one from config.
func WithCatalog(repo products.Repository) Option {
	return func(o *options) {
		o.catalog = repo
	}
}

// WithRouter allows callers to provide an existing chi.Router to register routes onto.
func WithRouter(router chi.Router) Option {
	return func(o *options) {
		o.router = router
	}
}

// WithLogger replaces the logger built from the logging config.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &l
	}
}

// WithRegisterer sets where metrics are registered. Defaults to prometheus.DefaultRegisterer.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = r
	}
}

// WithHTTPClient sets the client used for outbound webhook deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// NewApp assembles the storefront services for embedding.
// On error every resource opened so far is closed.
func NewApp(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	if cfg == nil {
		return nil, errors.New("storefront: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "storefront",
		Environment: cfg.Logging.Environment,
	})
	if optState.logger != nil {
		appLogger = *optState.logger
	}

	app := &App{
		Config:          cfg,
		Logger:          appLogger,
		resourceManager: lifecycle.NewManager(appLogger),
	}
	defer func() {
		if err != nil {
			_ = app.resourceManager.Close()
		}
	}()

	app.Metrics = metrics.New(optState.registerer)
	app.registerer = optState.registerer

	pool, err := openSharedPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if pool != nil {
		app.resourceManager.Register("postgres-pool", pool)
	}

	if optState.store != nil {
		app.Store = optState.store
	} else {
		storeCfg := storage.StoreConfigFromConfig(cfg.Storage)
		app.Store, err = storage.NewStoreWithDB(storeCfg, pool.DBFor(cfg.Storage.PostgresURL))
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		app.resourceManager.Register("storage", app.Store)
		if cfg.Storage.Backend == "" || cfg.Storage.Backend == "memory" {
			appLogger.Warn().Msg("storefront.memory_storage: webhook queue is lost on restart")
		}
	}

	if optState.orders != nil {
		app.Orders = optState.orders
	} else {
		app.Orders, err = orders.NewRepositoryWithDB(cfg.Orders, cfg.Storage.PostgresPool, pool.DBFor(cfg.Orders.PostgresURL))
		if err != nil {
			return nil, fmt.Errorf("init orders: %w", err)
		}
		app.resourceManager.Register("orders", app.Orders)
	}
	orders.Instrument(app.Orders, app.Metrics)

	if optState.catalog != nil {
		app.Catalog = optState.catalog
	} else {
		app.Catalog, err = products.NewRepositoryWithDB(cfg.Catalog, cfg.Storage.PostgresPool, pool.DBFor(cfg.Catalog.PostgresURL))
		if err != nil {
			return nil, fmt.Errorf("init catalog: %w", err)
		}
		app.resourceManager.Register("catalog", app.Catalog)
	}
	products.Instrument(app.Catalog, app.Metrics)

	app.Settings = settings.NewProvider(app.Store, appLogger)
	if !app.Settings.EnsureDefaults(ctx, settings.FromConfig(cfg.Webhooks.Defaults)) {
		appLogger.Warn().Msg("storefront.settings_seed_failed")
	}

	app.Hooks = observability.NewRegistry(appLogger)
	loggingHook := observability.NewLoggingHook(appLogger)
	promHook := observability.NewPrometheusHook(app.Metrics)
	app.Hooks.RegisterWebhookHook(loggingHook)
	app.Hooks.RegisterWebhookHook(promHook)
	app.Hooks.RegisterPaymentHook(loggingHook)
	app.Hooks.RegisterPaymentHook(promHook)

	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker, appLogger)
	breakers.OnStateChange(func(service circuitbreaker.ServiceType, to gobreaker.State) {
		app.Metrics.ObserveBreakerState(string(service), int(to))
	})

	app.Sender = callbacks.NewSender(cfg.Webhooks.UserAgent)
	if optState.httpClient != nil {
		app.Sender = app.Sender.WithHTTPClient(optState.httpClient)
	}

	app.Worker = callbacks.NewWorker(callbacks.WorkerOptions{
		Store:          app.Store,
		Settings:       app.Settings,
		Sender:         app.Sender,
		Breakers:       breakers,
		Hooks:          app.Hooks,
		Metrics:        app.Metrics,
		Logger:         appLogger,
		BatchSize:      cfg.Webhooks.BatchSize,
		PollInterval:   cfg.Webhooks.PollInterval.Duration,
		StaleAfter:     cfg.Webhooks.StaleAfter.Duration,
		DefaultTimeout: cfg.Webhooks.DefaultTimeout.Duration,
		MaxBackoff:     cfg.Webhooks.MaxBackoff.Duration,
	})
	app.resourceManager.Register("webhook-worker", app.Worker)

	app.Trigger = callbacks.NewTrigger(callbacks.TriggerOptions{
		Store:    app.Store,
		Settings: app.Settings,
		Orders:   app.Orders,
		Catalog:  app.Catalog,
		Builder:  payload.NewBuilder(appLogger),
		Notifier: app.Worker,
		Hooks:    app.Hooks,
		Metrics:  app.Metrics,
		Logger:   appLogger,
	})

	paymentOpts := payments.Options{
		Orders:   app.Orders,
		Webhooks: app.Trigger,
		Hooks:    app.Hooks,
		Metrics:  app.Metrics,
		Logger:   appLogger,
	}
	if cfg.Stripe.SecretKey != "" {
		app.Stripe = stripesvc.NewClient(cfg.Stripe, breakers, appLogger)
		paymentOpts.Links = app.Stripe
	} else {
		appLogger.Info().Msg("storefront.stripe_disabled: payment links and stripe webhooks unavailable")
	}
	app.Payments = payments.NewService(paymentOpts)

	app.Diagnostics = diagnostics.NewService(app.Orders, app.Store, app.Settings, appLogger)

	app.Idempotency = idempotency.NewMemoryStore()
	app.resourceManager.Register("idempotency-store", app.Idempotency)

	if optState.router != nil {
		app.router = optState.router
	} else {
		app.router = chi.NewRouter()
	}
	httpserver.ConfigureRouter(app.router, app.Dependencies())

	return app, nil
}

// Dependencies returns the router dependencies backed by this App.
func (a *App) Dependencies() httpserver.Dependencies {
	deps := httpserver.Dependencies{
		Config:      a.Config,
		Store:       a.Store,
		Settings:    a.Settings,
		Drainer:     a.Worker,
		Sender:      a.Sender,
		Diagnostics: a.Diagnostics,
		Payments:    a.Payments,
		Orders:      a.Orders,
		Catalog:     a.Catalog,
		Idempotency: a.Idempotency,
		Metrics:     a.Metrics,
		Logger:      a.Logger,
	}
	if g, ok := a.registerer.(prometheus.Gatherer); ok {
		deps.Gatherer = g
	}
	if a.Stripe != nil {
		deps.Stripe = a.Stripe
	}
	return deps
}

// Start launches the background delivery worker when webhooks.worker_enabled is set.
// Deployments that drain from an external scheduler leave it off.
func (a *App) Start(ctx context.Context) {
	if !a.Config.Webhooks.WorkerEnabled {
		a.Logger.Info().Msg("storefront.worker_disabled: relying on POST /admin/webhooks/drain")
		return
	}
	a.Worker.Start(ctx)
}

// Router returns the chi router with storefront routes registered.
func (a *App) Router() chi.Router {
	return a.router
}

// Handler exposes the router as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// Close stops the worker and releases stores and pools in reverse order.
func (a *App) Close() error {
	return a.resourceManager.Close()
}

// RegisterRoutes attaches storefront endpoints to the provided router using an existing App.
func RegisterRoutes(router chi.Router, app *App) {
	if router == nil || app == nil {
		return
	}
	httpserver.ConfigureRouter(router, app.Dependencies())
}

// NewHandler is a convenience that constructs and starts an App and returns its handler.
func NewHandler(ctx context.Context, cfg *config.Config, opts ...Option) (http.Handler, func(context.Context) error, error) {
	app, err := NewApp(ctx, cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	app.Start(ctx)
	shutdown := func(context.Context) error {
		return app.Close()
	}
	return app.Handler(), shutdown, nil
}

// Config is an exported alias of the internal configuration struct for embedding use.
type Config = config.Config

// LoadConfig wraps the internal loader for consumers embedding the storefront.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}

// openSharedPool opens one postgres pool for every component on storage.postgres_url.
// Returns nil when no component uses postgres.
func openSharedPool(ctx context.Context, cfg *config.Config) (*dbpool.SharedPool, error) {
	if cfg.Storage.PostgresURL == "" {
		return nil, nil
	}
	usesPostgres := cfg.Storage.Backend == "postgres" ||
		cfg.Orders.Source == "postgres" ||
		cfg.Catalog.Source == "postgres"
	if !usesPostgres {
		return nil, nil
	}
	pool, err := dbpool.NewSharedPool(ctx, cfg.Storage.PostgresURL, cfg.Storage.PostgresPool)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	return pool, nil
}
