package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/Shopify/sarama"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/joho/godotenv"
	"github.com/kursadbilgin/exception-collector/internal/cache"
	"github.com/kursadbilgin/exception-collector/internal/config"
	"github.com/kursadbilgin/exception-collector/internal/consumer"
	"github.com/kursadbilgin/exception-collector/internal/handler"
	"github.com/kursadbilgin/exception-collector/internal/infra/postgresql"
	"github.com/kursadbilgin/exception-collector/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/exception-collector/internal/infra/redis"
	"github.com/kursadbilgin/exception-collector/internal/mutation"
	"github.com/kursadbilgin/exception-collector/internal/observability"
	"github.com/kursadbilgin/exception-collector/internal/provider"
	"github.com/kursadbilgin/exception-collector/internal/query"
	"github.com/kursadbilgin/exception-collector/internal/queue"
	"github.com/kursadbilgin/exception-collector/internal/ratelimit"
	"github.com/kursadbilgin/exception-collector/internal/repository"
	"github.com/kursadbilgin/exception-collector/internal/service"
	"github.com/kursadbilgin/exception-collector/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	queuePrefetch       = 10
	reapInterval        = time.Minute
	resubmitRateWindow  = time.Minute
	mutationRateWindow  = time.Minute
	queryCacheKeyPrefix = "querycache"
)

func main() {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("exception collector stopped with error", zap.Error(err))
	}
	logger.Info("exception collector stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer rabbit.Close()

	store := repository.NewGormStore(db)

	exceptions, err := service.NewExceptionService(store, cfg.DefaultMaxRetries, logger)
	if err != nil {
		return err
	}

	publisher := queue.NewRabbitMQPublisher(rabbit)
	defer publisher.Close()

	orchestrator, err := service.NewRetryOrchestrator(store, publisher, logger)
	if err != nil {
		return err
	}
	orchestrator.SetMetrics(metrics)

	resubmitter, err := provider.NewHTTPResubmitter(cfg.ResubmitBaseURL)
	if err != nil {
		return err
	}
	resubmitLimiter, err := newRateLimiter(cfg, rdb, "resubmit", cfg.ResubmitRatePerMinute, resubmitRateWindow)
	if err != nil {
		return err
	}
	queueConsumer := queue.NewRabbitMQConsumer(rabbit, queuePrefetch, logger)
	defer queueConsumer.Close()

	worker, err := service.NewRetryWorker(store, orchestrator, queueConsumer, resubmitter, resubmitLimiter, cfg.WorkerConcurrency, logger)
	if err != nil {
		return err
	}
	worker.SetMetrics(metrics)

	reaper, err := service.NewRetryReaper(store, orchestrator, reapInterval, cfg.PendingTimeout(), logger)
	if err != nil {
		return err
	}

	mutationLimiter, err := newRateLimiter(cfg, rdb, "mutation", cfg.MutationRateLimit, mutationRateWindow)
	if err != nil {
		return err
	}
	engine, err := mutation.NewEngine(store, orchestrator, exceptions, mutationLimiter, logger)
	if err != nil {
		return err
	}
	engine.SetMetrics(metrics)

	queryCache, err := newQueryCache(cfg, rdb)
	if err != nil {
		return err
	}
	executor, err := query.NewExecutor(store, queryCache, query.Config{
		Limits:   query.Limits{MaxDepth: cfg.QueryMaxDepth, MaxCost: cfg.QueryMaxCost},
		Timeout:  cfg.QueryTimeout(),
		CacheTTL: cfg.QueryCacheTTL(),
	}, logger)
	if err != nil {
		return err
	}
	executor.SetMetrics(metrics)

	group, dlt, err := newConsumerGroup(cfg, exceptions, logger)
	if err != nil {
		return err
	}
	defer dlt.Close()
	group.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, handler.HealthDeps{
		DB:        sqlDB,
		Redis:     rdb,
		Broker:    rabbit,
		Consumers: group,
		Mutations: engine.Stats(),
		Counts:    store,
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	if err := handler.RegisterExceptionRoutes(app, exceptions, engine); err != nil {
		return err
	}
	if err := handler.RegisterQueryRoutes(app, executor); err != nil {
		return err
	}

	if err := group.Start(ctx); err != nil {
		return err
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Start(groupCtx) })
	g.Go(func() error { return reaper.Start(groupCtx) })
	g.Go(func() error {
		logger.Info("exception collector api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})
	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout()))

		err := app.ShutdownWithTimeout(cfg.ShutdownTimeout())
		return errors.Join(err, group.Shutdown(cfg.ShutdownTimeout()))
	})

	return g.Wait()
}

func newRateLimiter(cfg *config.Config, rdb *redis.Client, scope string, limit int, window time.Duration) (ratelimit.RateLimiter, error) {
	if cfg.RateLimitBackend == config.BackendMemory {
		return ratelimit.NewMemoryRateLimiter(limit, window), nil
	}
	return infraredis.NewRedisRateLimiter(rdb, scope, limit, window)
}

// newQueryCache returns nil when caching is disabled.
func newQueryCache(cfg *config.Config, rdb *redis.Client) (cache.Cache, error) {
	if cfg.QueryCacheTTL() <= 0 {
		return nil, nil
	}
	if cfg.QueryCacheBackend == config.BackendMemory {
		return cache.NewMemoryCache(cfg.QueryCacheMaxEntries), nil
	}
	return infraredis.NewQueryCache(rdb, queryCacheKeyPrefix)
}

func newConsumerGroup(cfg *config.Config, ingester consumer.Ingester, logger *zap.Logger) (*consumer.Group, *consumer.SaramaDeadLetterPublisher, error) {
	saramaCfg, err := consumer.NewSaramaConfig(cfg.KafkaVersion, cfg.KafkaGroupPrefix)
	if err != nil {
		return nil, nil, err
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers(), saramaCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create dead-letter producer: %w", err)
	}
	dlt := consumer.NewSaramaDeadLetterPublisher(producer)

	group := consumer.NewGroup(consumer.GroupConfig{
		GroupPrefix: cfg.KafkaGroupPrefix,
		Concurrency: cfg.KafkaConcurrency,
		Policy: consumer.RetryPolicy{
			InitialInterval: cfg.BackoffInitial(),
			Multiplier:      2.0,
			MaxInterval:     cfg.BackoffMax(),
			MaxAttempts:     cfg.ConsumerAttempts,
		},
	}, consumer.NewGroupFactory(cfg.Brokers(), saramaCfg), ingester, dlt, logger)

	return group, dlt, nil
}
