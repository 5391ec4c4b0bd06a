package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/LockTrip/b2b-integration/internal/cache"
	"github.com/LockTrip/b2b-integration/internal/config"
	"github.com/LockTrip/b2b-integration/internal/event"
	handlerhttp "github.com/LockTrip/b2b-integration/internal/handler/http"
	"github.com/LockTrip/b2b-integration/internal/poll"
	"github.com/LockTrip/b2b-integration/internal/remote"
	"github.com/LockTrip/b2b-integration/internal/repository/postgres"
	"github.com/LockTrip/b2b-integration/internal/service"
	"github.com/LockTrip/b2b-integration/migrations"
	"github.com/LockTrip/b2b-integration/pkg/database"
	"github.com/LockTrip/b2b-integration/pkg/health"
	"github.com/LockTrip/b2b-integration/pkg/httpclient"
	"github.com/LockTrip/b2b-integration/pkg/kafka"
	"github.com/LockTrip/b2b-integration/pkg/tracing"
)

const serviceName = "booking"

// App wires together all components of the booking service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redisClient    *redis.Client
	kafkaProducer  *kafka.Producer
	bookingService *service.BookingService
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates and wires all application components.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	pgCfg := database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,

		SlowQueryThreshold: cfg.SlowQueryThreshold(),
	}
	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	database.RegisterPoolMetrics(pool, serviceName)

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	kafkaProducer := kafka.NewProducer(kafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	eventProducer := event.NewProducer(kafkaProducer, logger)

	// The location cache is an optimization; a missing Redis must not keep
	// the service from starting.
	var redisClient *redis.Client
	var locationCache *cache.LocationCache
	if cfg.LocationCacheOn {
		redisClient, err = database.NewRedisClient(ctx, database.RedisConfig{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.Warn("redis unavailable, location cache disabled", slog.String("error", err.Error()))
			redisClient = nil
		} else {
			locationCache = cache.NewLocationCache(redisClient, time.Duration(cfg.LocationTTLHours)*time.Hour, logger)
		}
	}

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = time.Duration(cfg.SupplierTimeoutSecs) * time.Second
	httpCfg.MaxRetries = cfg.SupplierMaxRetries
	baseClient := httpclient.New(httpCfg)

	cbClient := httpclient.NewCircuitBreakerClient(baseClient, httpclient.CircuitBreakerConfig{
		Name:         "supplier",
		MaxRequests:  cfg.CBMaxRequests,
		Interval:     time.Duration(cfg.CBInterval) * time.Second,
		Timeout:      time.Duration(cfg.CBTimeout) * time.Second,
		FailureRatio: cfg.CBFailureRatio,
		MinRequests:  cfg.CBMinRequests,
	}, logger)

	supplier := remote.NewSupplier(remote.NewHTTPInvoker(cfg.SupplierBaseURL, cfg.SupplierAPIKey, cbClient))
	runRepo := postgres.NewRunRepository(pool)

	bookingService := service.NewBookingService(runRepo, supplier, eventProducer, locationCache, logger, service.Config{
		Poll: poll.Config{
			InitialDelay: cfg.PollInitialDelay(),
			Interval:     cfg.PollInterval(),
			MaxAttempts:  cfg.PollMaxAttempts,
		},
		PriceCeiling: cfg.PriceCeiling,
		SessionTTL:   cfg.SessionTTL(),
	})

	healthHandler := health.NewHandler()
	healthHandler.Register("postgres", pool.Ping)
	healthHandler.Register("kafka", kafkaProducer.Ping)
	if redisClient != nil {
		healthHandler.Register("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	router := handlerhttp.NewRouter(bookingService, healthHandler, logger, cfg.PprofAllowedCIDRs)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// A booking run holds its request open through the whole poll loop,
		// so the write timeout must cover the worst case budget.
		WriteTimeout: 6 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redisClient:    redisClient,
		kafkaProducer:  kafkaProducer,
		bookingService: bookingService,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the HTTP server and blocks until the context is canceled or the
// server fails.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	if a.cfg.ReapIntervalMins > 0 {
		go a.reapLoop(ctx)
	}

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
		return a.Shutdown()
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}
}

// reapLoop periodically fails runs abandoned in a non-terminal state, such as
// runs interrupted by a crash between a supplier call and the persisted
// transition.
func (a *App) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.ReapInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped, err := a.bookingService.ReapStaleRuns(ctx, a.cfg.StaleRunTTL())
			if err != nil {
				a.logger.Error("stale run reap failed", slog.String("error", err.Error()))
				continue
			}
			if reaped > 0 {
				a.logger.Info("reaped stale booking runs", slog.Int("count", reaped))
			}
		}
	}
}

// Shutdown gracefully stops all components: the HTTP server drains first so
// in-flight runs can finish, then the tracer flushes, then connections close.
func (a *App) Shutdown() error {
	// In-flight runs may be mid-poll, so the drain window is generous.
	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var firstErr error
	if err := a.httpServer.Shutdown(drainCtx); err != nil {
		a.logger.Error("http server shutdown", slog.String("error", err.Error()))
		firstErr = err
	}

	flushCtx, cancelFlush := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancelFlush()
	if err := a.tracerShutdown(flushCtx); err != nil {
		a.logger.Error("tracer shutdown", slog.String("error", err.Error()))
		if firstErr == nil {
			firstErr = err
		}
	}

	if err := a.kafkaProducer.Close(); err != nil {
		a.logger.Error("kafka producer close", slog.String("error", err.Error()))
		if firstErr == nil {
			firstErr = err
		}
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Error("redis close", slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	a.pool.Close()
	a.logger.Info("shutdown complete")
	return firstErr
}
