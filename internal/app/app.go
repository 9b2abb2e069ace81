package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/utafrali/storefront-cart/internal/cart"
	"github.com/utafrali/storefront-cart/internal/catalog"
	"github.com/utafrali/storefront-cart/internal/config"
	"github.com/utafrali/storefront-cart/internal/event"
	handler "github.com/utafrali/storefront-cart/internal/handler/http"
	"github.com/utafrali/storefront-cart/internal/notify"
	"github.com/utafrali/storefront-cart/internal/session"
	"github.com/utafrali/storefront-cart/internal/storage"
	"github.com/utafrali/storefront-cart/internal/storage/memory"
	pgkv "github.com/utafrali/storefront-cart/internal/storage/postgres"
	"github.com/utafrali/storefront-cart/internal/storage/postgres/migrations"
	rediskv "github.com/utafrali/storefront-cart/internal/storage/redis"
	"github.com/utafrali/storefront-cart/pkg/database"
	"github.com/utafrali/storefront-cart/pkg/health"
	"github.com/utafrali/storefront-cart/pkg/httpclient"
	pkgkafka "github.com/utafrali/storefront-cart/pkg/kafka"
	"github.com/utafrali/storefront-cart/pkg/middleware"
	"github.com/utafrali/storefront-cart/pkg/tracing"
)

const serviceName = "cart-service"

// App wires together all dependencies and runs the cart service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	registry       *session.Registry
	httpServer     *http.Server
	shutdownTracer func(context.Context) error
	closers        []closer
}

type closer struct {
	name  string
	close func() error
}

// NewApp creates a new application instance, initializing all dependencies.
// Anything opened before a failure is released again.
func NewApp(cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.closeAll()
		}
	}()

	tcfg := tracing.DefaultConfig(serviceName)
	tcfg.Environment = cfg.Environment
	tcfg.OTLPEndpoint = cfg.OTELEndpoint
	tcfg.SampleRate = cfg.OTELSampleRate
	tcfg.Enabled = cfg.OTELEnabled
	a.shutdownTracer, err = tracing.InitTracer(ctx, tcfg)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	healthHandler := health.NewHandler()

	kv, err := a.openStorage(ctx)
	if err != nil {
		return nil, err
	}
	healthHandler.RegisterCritical(cfg.StorageDriver, kv.Ping)

	// Catalog client: rate limit and retries below a circuit breaker.
	hcfg := httpclient.DefaultConfig()
	hcfg.Timeout = cfg.CatalogTimeout
	hcfg.MaxRetries = cfg.CatalogMaxRetries
	hcfg.RateLimit = cfg.CatalogRateLimit
	cb := httpclient.NewCircuitBreakerClient(
		httpclient.New(hcfg),
		httpclient.DefaultCircuitBreakerConfig("catalog"),
		logger,
	)
	catalogClient := catalog.NewClient(cb, cfg.CatalogBaseURL)

	opts := []cart.Option{
		cart.WithLogger(logger),
		cart.WithNotifier(notify.NewLogger(logger)),
	}

	if cfg.KafkaEnabled {
		producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		a.closers = append(a.closers, closer{"kafka producer", producer.Close})
		opts = append(opts, cart.WithListeners(event.NewProducer(producer, logger)))
		healthHandler.RegisterNonCritical("kafka", producer.Ping)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	a.registry = session.NewRegistry(catalogClient, kv, cfg.StorageKey, cfg.SessionIdleTimeout, logger, opts...)

	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.CORSAllowedOrigins
	router := handler.NewRouter(a.registry, healthHandler, cors, logger)

	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return a, nil
}

// openStorage connects the configured snapshot backend.
func (a *App) openStorage(ctx context.Context) (storage.KV, error) {
	cfg := a.cfg

	switch cfg.StorageDriver {
	case storage.DriverRedis:
		rdb, err := database.NewRedisClient(ctx, database.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.closers = append(a.closers, closer{"redis", rdb.Close})
		a.logger.Info("connected to Redis",
			slog.String("addr", cfg.RedisAddr),
			slog.Int("db", cfg.RedisDB),
		)
		return rediskv.New(rdb, cfg.CartTTLDuration()), nil

	case storage.DriverPostgres:
		pgCfg := cfg.Postgres()
		pool, err := database.NewPostgresPool(ctx, &pgCfg, a.logger)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a.closers = append(a.closers, closer{"postgres", func() error { pool.Close(); return nil }})

		if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}

		collector := database.NewPoolStatsCollector(pool, "cart")
		if err := prometheus.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return nil, fmt.Errorf("register pool metrics: %w", err)
			}
		}

		return pgkv.New(pool, database.QueryTracer{
			SlowThreshold: 200 * time.Millisecond,
			Logger:        a.logger,
		}), nil

	case storage.DriverMemory:
		a.logger.Warn("using in-memory cart storage; carts are lost on restart")
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

// Run starts the HTTP server and the session sweeper, and blocks until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go a.registry.Run(sweepCtx)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		stopSweep()
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		}
	}

	a.closeAll()

	if a.shutdownTracer != nil {
		if err := a.shutdownTracer(shutdownCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
		}
	}

	a.logger.Info("application shutdown complete")
	return nil
}

// closeAll releases resources in reverse order of acquisition.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Error(c.name+" close error", slog.String("error", err.Error()))
		}
	}
	a.closers = nil
}
