package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/utafrali/BookshelfGo/pkg/database"
	"github.com/utafrali/BookshelfGo/pkg/health"
	pkgkafka "github.com/utafrali/BookshelfGo/pkg/kafka"
	"github.com/utafrali/BookshelfGo/pkg/middleware"
	"github.com/utafrali/BookshelfGo/pkg/tracing"
	"github.com/utafrali/BookshelfGo/services/review/internal/auth"
	"github.com/utafrali/BookshelfGo/services/review/internal/cache"
	"github.com/utafrali/BookshelfGo/services/review/internal/config"
	"github.com/utafrali/BookshelfGo/services/review/internal/event"
	handler "github.com/utafrali/BookshelfGo/services/review/internal/handler/http"
	"github.com/utafrali/BookshelfGo/services/review/internal/repository"
	"github.com/utafrali/BookshelfGo/services/review/internal/repository/memory"
	"github.com/utafrali/BookshelfGo/services/review/internal/repository/postgres"
	"github.com/utafrali/BookshelfGo/services/review/internal/service"
	"github.com/utafrali/BookshelfGo/services/review/migrations"
)

// App wires together all dependencies and runs the review service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	consumers      []*pkgkafka.Consumer
	httpServer     *http.Server
	voteLimiter    *middleware.RateLimiter
	tracerShutdown tracing.ShutdownFunc
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    handler.ServiceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	healthHandler := health.NewHandler()

	store, err := a.initStore(ctx, healthHandler)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	reviewCache := a.initCache(ctx, healthHandler)

	var sender event.Sender
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		if err := pingKafkaWithRetry(ctx, a.producer, logger); err != nil {
			logger.Warn("kafka producer ping failed after retries, continuing in degraded mode",
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
		}
		sender = a.producer
		healthHandler.RegisterOptional("kafka", a.producer.Ping)
	}

	// Build the dependency graph.
	eventProducer := event.NewProducer(sender, logger)
	reviewService := service.NewReviewService(store, reviewCache, eventProducer, logger)
	voteService := service.NewVoteService(store, reviewCache, eventProducer, logger)

	if cfg.KafkaEnabled {
		a.initConsumers(reviewService)
	}

	var validator middleware.TokenValidator
	if cfg.JWTSecret != "" {
		verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer, 30*time.Second)
		if err != nil {
			a.closeResources()
			return nil, fmt.Errorf("init token verifier: %w", err)
		}
		validator = verifier.TokenValidator()
	} else {
		logger.Warn("JWT_SECRET not set, bearer tokens will be rejected",
			slog.Bool("trust_gateway_header", cfg.TrustGatewayHeader),
		)
	}

	a.voteLimiter = middleware.NewRateLimiter(cfg.VoteRateBurst, cfg.VoteRateWindow())

	router := handler.NewRouter(handler.RouterConfig{
		Reviews:        reviewService,
		Votes:          voteService,
		Health:         healthHandler,
		TokenValidator: validator,
		TrustGateway:   cfg.TrustGatewayHeader,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		PprofCIDRs:     cfg.PprofAllowedCIDRs,
		CacheMaxAge:    cfg.HTTPCacheMaxAge,
		VoteLimiter:    a.voteLimiter,
		Logger:         logger,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initStore opens the configured storage backend.
func (a *App) initStore(ctx context.Context, healthHandler *health.Handler) (repository.Store, error) {
	cfg, logger := a.cfg, a.logger

	if cfg.StoreBackend == config.BackendMemory {
		logger.Warn("using in-memory store, data is lost on restart")
		store := memory.NewStore()
		seedDemo(store, logger)
		return store, nil
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres(), logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, handler.ServiceName); err != nil {
		logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Configure slow query logging.
	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(cfg.SlowQueryThreshold(), logger)
	}

	healthHandler.Register("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})

	return postgres.NewStore(pool, cfg.TxOptions(service.ObserveTxRetry)), nil
}

// initCache connects to Redis. An unreachable Redis degrades to no caching.
func (a *App) initCache(ctx context.Context, healthHandler *health.Handler) cache.ReviewCache {
	if !a.cfg.RedisEnabled {
		return cache.Noop{}
	}

	client, err := database.NewRedisClient(ctx, a.cfg.Redis())
	if err != nil {
		a.logger.Warn("redis unavailable, review cache disabled",
			slog.String("error", err.Error()),
		)
		return cache.Noop{}
	}
	a.redis = client
	a.logger.Info("connected to Redis", slog.String("addr", a.cfg.Redis().Addr()))

	healthHandler.RegisterOptional("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	return cache.NewRedisCache(client, a.cfg.CacheTTL())
}

// initConsumers subscribes to the catalog events that change a book's
// review set outside the review service.
func (a *App) initConsumers(reviewService *service.ReviewService) {
	cfg, logger := a.cfg, a.logger

	var idempotency pkgkafka.IdempotencyStore = pkgkafka.NewMemoryIdempotencyStore(24 * time.Hour)
	if a.redis != nil {
		idempotency = pkgkafka.NewRedisIdempotencyStore(a.redis, "bookshelf:review:processed:", 24*time.Hour)
	}

	a.dlq = pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)
	catalog := event.NewConsumer(reviewService, logger)

	subscriptions := []struct {
		topic   string
		handler pkgkafka.Handler
	}{
		{event.TopicEditionDeleted, catalog.HandleEditionDeleted},
		{event.TopicBookDeleted, catalog.HandleBookDeleted},
	}
	for _, sub := range subscriptions {
		a.consumers = append(a.consumers, pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers:     cfg.KafkaBrokers,
			GroupID:     cfg.KafkaConsumerGroup,
			Topic:       sub.topic,
			MaxAttempts: 3,
			Backoff:     500 * time.Millisecond,
		}, pkgkafka.IdempotentHandler(idempotency, sub.handler, logger), a.dlq, logger))
	}
}

// Run starts the HTTP server, Kafka consumers, and background jobs, then
// blocks until the context is canceled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// Start HTTP server.
	g.Go(func() error {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Start Kafka consumers.
	for _, c := range a.consumers {
		g.Go(func() error {
			if err := c.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("kafka consumer: %w", err)
			}
			return nil
		})
	}

	// Drop idle rate limiter buckets.
	g.Go(func() error {
		a.voteLimiter.Run(gctx, time.Minute)
		return nil
	})

	// Stop the server once the group is done so ListenAndServe returns.
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown signal received")
		return a.Shutdown()
	})

	return g.Wait()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka consumers, DLQ and producer
// 4. Redis and PostgreSQL
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	errs = append(errs, a.closeResources()...)

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// closeResources releases every client NewApp opened. It is safe on a
// partially initialized App.
func (a *App) closeResources() []error {
	var errs []error
	for _, c := range a.consumers {
		if err := c.Close(); err != nil {
			a.logger.Error("kafka consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.dlq != nil {
		if err := a.dlq.Close(); err != nil {
			a.logger.Error("kafka dlq close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return errs
}

// pingKafkaWithRetry attempts to ping the Kafka producer with exponential
// backoff (3 attempts, 1s/2s with ±25% jitter between them).
func pingKafkaWithRetry(ctx context.Context, producer *pkgkafka.Producer, logger *slog.Logger) error {
	const attempts = 3

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if lastErr = producer.Ping(ctx); lastErr == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}

		base := time.Duration(1<<uint(attempt)) * time.Second
		jitter := time.Duration(float64(base) * 0.25 * (2*rand.Float64() - 1)) // #nosec G404 -- non-cryptographic jitter
		wait := base + jitter
		logger.Warn("kafka producer ping failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", attempts),
			slog.Duration("backoff", wait),
			slog.String("error", lastErr.Error()),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("kafka ping: context canceled during retry: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
	return lastErr
}
