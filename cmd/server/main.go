package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/cartkeeper/internal"
	"github.com/dukerupert/cartkeeper/internal/catalog"
	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/dukerupert/cartkeeper/internal/events"
	"github.com/dukerupert/cartkeeper/internal/handler/admin"
	"github.com/dukerupert/cartkeeper/internal/handler/api"
	"github.com/dukerupert/cartkeeper/internal/identity"
	"github.com/dukerupert/cartkeeper/internal/middleware"
	"github.com/dukerupert/cartkeeper/internal/redisx"
	"github.com/dukerupert/cartkeeper/internal/repository"
	"github.com/dukerupert/cartkeeper/internal/router"
	"github.com/dukerupert/cartkeeper/internal/routes"
	"github.com/dukerupert/cartkeeper/internal/service"
	"github.com/dukerupert/cartkeeper/internal/session"
	"github.com/dukerupert/cartkeeper/internal/shipping"
	"github.com/dukerupert/cartkeeper/internal/tax"
	"github.com/dukerupert/cartkeeper/internal/telemetry"
	"github.com/dukerupert/cartkeeper/internal/worker"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 15 * time.Second

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)
	slog.SetDefault(logger)

	// Initialize Sentry error tracking
	flushSentry, err := telemetry.InitSentry(telemetry.SentryConfig{
		DSN:              cfg.Sentry.DSN,
		Enabled:          cfg.Sentry.Enabled && cfg.Sentry.DSN != "",
		Environment:      cfg.Sentry.Environment,
		Release:          cfg.Sentry.Release,
		SampleRate:       cfg.Sentry.SampleRate,
		TracesSampleRate: cfg.Sentry.TracesSampleRate,
		Debug:            cfg.Sentry.Debug,
	}, logger)
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	defer flushSentry()

	telemetry.InitBusinessMetrics("cartkeeper")

	// Initialize database/sql connection for migrations
	logger.Info("Connecting to database...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	// Verify database connection
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("Database connection established")

	// Run migrations
	logger.Info("Running database migrations...")
	if err := internal.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations completed successfully")

	// Initialize pgx connection pool for application
	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	store := repository.NewStore(pool)

	// Redis backs the catalog cache, sessions and checkout idempotency.
	// Without it the service still runs, uncached and with local sessions.
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		rdb, err = redisx.New(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
		defer rdb.Close()
		logger.Info("Redis connection established")
	} else {
		logger.Warn("REDIS_URL not set: catalog cache and checkout idempotency disabled, sessions are process-local")
	}

	// Catalog: postgres source, optional redis cache, circuit breaker outermost
	var productCatalog domain.Catalog = catalog.NewPostgresCatalog(store)
	if rdb != nil {
		productCatalog = catalog.NewCachedCatalog(productCatalog, rdb, cfg.Catalog.CacheTTL, cfg.Cart.StoreTimeout, logger)
	}
	catalogBreaker := catalog.NewBreakerCatalog(productCatalog, catalog.BreakerSettings{
		MaxFailures:  cfg.Catalog.BreakerMaxFailures,
		OpenTimeout:  cfg.Catalog.BreakerOpenTimeout,
		HalfOpenMax:  cfg.Catalog.BreakerHalfOpenMax,
		CountsWindow: cfg.Catalog.BreakerCountsWindow,
	}, logger)
	productCatalog = catalogBreaker

	var sessions session.Store
	var idempotency api.Idempotency
	if rdb != nil {
		sessions = session.NewRedisStore(rdb, cfg.Redis.SessionPrefix)
		idempotency = redisx.NewIdempotencyStore(rdb)
	} else {
		sessions = session.NewMemoryStore()
	}

	// Order events
	publisher, err := newPublisher(cfg.Events, logger)
	if err != nil {
		return fmt.Errorf("event publisher initialization failed: %w", err)
	}
	defer publisher.Close()
	logger.Info("Event publisher initialized", "driver", cfg.Events.Driver)

	// Pricing policy
	var taxCalculator tax.Calculator = tax.NewNoTaxCalculator()
	if !cfg.Checkout.TaxRate.IsZero() {
		taxCalculator, err = tax.NewPercentageCalculator(cfg.Checkout.TaxRate, cfg.Checkout.TaxShipping)
		if err != nil {
			return fmt.Errorf("failed to initialize tax calculator: %w", err)
		}
	}
	shippingProvider := shipping.NewStandardProvider(cfg.Checkout.FlatShippingCents, cfg.Checkout.FreeShippingThresholdCents)

	// Initialize services
	timeout := cfg.Cart.StoreTimeout
	cartService := service.NewCartService(store, productCatalog, timeout, logger)
	mergeService := service.NewMergeService(store, productCatalog, timeout, logger)
	janitorService := service.NewJanitorService(store, timeout, logger)
	orderService := service.NewOrderService(store, publisher, timeout, logger)
	checkoutService := service.NewCheckoutService(
		cartService,
		store,
		service.NewInvoiceGenerator(store, cfg.Checkout.InvoiceMaxAttempts, timeout),
		taxCalculator,
		shippingProvider,
		publisher,
		service.CheckoutSettings{
			Currency:            cfg.Checkout.Currency,
			TotalToleranceCents: cfg.Checkout.TotalToleranceCents,
		},
		timeout,
		logger,
	)

	resolver, err := identity.NewResolver(cfg.Cart.GuestFallbackAddress, logger)
	if err != nil {
		return fmt.Errorf("invalid GUEST_FALLBACK_ADDRESS: %w", err)
	}

	// ==========================================================================
	// Background work
	// ==========================================================================

	if cfg.Worker.Enabled {
		w := worker.NewWorker(store, cartService, janitorService, worker.Config{
			PollInterval:   cfg.Worker.PollInterval,
			MaxConcurrency: cfg.Worker.MaxConcurrency,
			Queue:          cfg.Worker.Queue,
		}, logger)
		go func() {
			if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("worker stopped", "error", err)
			}
		}()
	}

	if cfg.Janitor.Enabled {
		scheduler := worker.NewJanitorScheduler(store, cfg.Janitor.Interval, cfg.Janitor.ExpiryHours, logger)
		go scheduler.Run(ctx)
	}

	// ==========================================================================
	// HTTP
	// ==========================================================================

	metrics := middleware.NewMetrics("cartkeeper", nil)

	securityConfig := middleware.DefaultSecurityHeadersConfig()
	if cfg.Env != "prod" {
		securityConfig.HSTSMaxAge = 0
	}

	global := []router.Middleware{
		router.Recovery(logger, func(r *http.Request, err error) {
			telemetry.CaptureError(r.Context(), err, map[string]interface{}{"path": r.URL.Path})
		}),
		telemetry.SentryMiddleware(),
		middleware.RequestID,
		metrics.Middleware,
		middleware.SecurityHeaders(securityConfig),
		middleware.MaxBodySize(middleware.SmallMaxBodySize),
		middleware.Timeout(middleware.DefaultTimeout),
		middleware.WithClientIP(cfg.Cart.TrustProxyHeaders),
		middleware.WithCustomer(sessions, cfg.Cart.SessionCookieName),
		middleware.WithRequestLogger(logger),
		router.Logger(logger),
	}
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(middleware.PerMinuteRateLimiterConfig(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst))
		defer limiter.Stop()
		global = append(global, limiter.Middleware)
	}
	r := router.New(global...)

	apiDeps := routes.APIDeps{
		CartHandler:     api.NewCartHandler(cartService, mergeService, resolver),
		CheckoutHandler: api.NewCheckoutHandler(checkoutService, orderService, resolver, idempotency),
		OrderHandler:    api.NewOrderHandler(orderService, resolver),
	}
	if cfg.RateLimit.Enabled {
		checkoutLimiter := middleware.NewRateLimiter(middleware.CheckoutRateLimiterConfig())
		defer checkoutLimiter.Stop()
		apiDeps.CheckoutLimit = checkoutLimiter.Middleware
	}

	healthChecks := map[string]api.HealthCheck{
		"postgres": pool.Ping,
		"catalog":  catalogBreaker.HealthCheck,
	}
	if rdb != nil {
		healthChecks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	routes.RegisterAPIRoutes(r, apiDeps)
	routes.RegisterAdminRoutes(r, routes.AdminDeps{
		GuestCartHandler:   admin.NewGuestCartHandler(janitorService, cfg.Janitor.ExpiryHours),
		OrderStatusHandler: admin.NewOrderStatusHandler(orderService),
		AdminToken:         cfg.AdminToken,
	})
	routes.RegisterSystemRoutes(r, routes.SystemDeps{
		HealthHandler:  api.NewHealthHandler(healthChecks),
		MetricsHandler: metrics.Handler(),
	})

	for _, route := range r.Routes() {
		logger.Debug("route registered", "route", route)
	}

	// ==========================================================================
	// Start server
	// ==========================================================================

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "address", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info("Server stopped")

	return nil
}

// newPublisher builds the order event publisher for the configured driver.
func newPublisher(cfg internal.EventsConfig, logger *slog.Logger) (events.Publisher, error) {
	switch cfg.Driver {
	case "kafka":
		return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, 256, logger), nil
	case "nats":
		return events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject)
	default:
		return events.NopPublisher{}, nil
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
