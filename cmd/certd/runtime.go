package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/app"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/calendar"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/config"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/lock"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/ratelimit"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/store"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/pkg/rabbitmq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// runtime bundles the shared infrastructure every subcommand builds on.
type runtime struct {
	cfg      config.Config
	logger   *zap.Logger
	clock    calendar.Clock
	pool     *pgxpool.Pool
	redis    *redis.Client
	repo     store.Repository
	producer rabbitmq.Publisher
	locker   lock.Locker
	limiter  ratelimit.Limiter
}

func newRuntime(ctx context.Context, cfg config.Config, logger *zap.Logger) (*runtime, error) {
	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		clock:   calendar.SystemClock{Location: cfg.Location},
		limiter: ratelimit.Noop{},
	}

	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Warn("using the in-memory store; state is lost on exit")
		rt.repo = store.NewMemoryRepository()
	default:
		pool, err := openPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		rt.pool = pool
		rt.repo = store.NewPostgresRepository(pool)
		logger.Info("database connection established")
	}

	rt.redis = openRedis(ctx, cfg.RedisURL, logger)

	switch {
	case rt.redis != nil:
		rt.locker = lock.NewRedisLocker(rt.redis, cfg.RedisKeyPrefix)
		rt.limiter = ratelimit.NewRedisLimiter(rt.redis, cfg.RedisKeyPrefix, ratelimit.PerMinute(cfg.CertifyRateLimitPerMinute))
	case rt.pool != nil:
		rt.locker = lock.NewPostgresLocker(rt.pool)
	default:
		rt.locker = lock.NewLocalLocker()
	}

	// Initialize RabbitMQ producer; events are optional.
	if cfg.RabbitMQURL == "" {
		logger.Warn("RABBITMQ_URL not set; events will not be published")
		rt.producer = &rabbitmq.EventProducerFallback{Logger: logger}
	} else {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("failed to connect to RabbitMQ; events will not be published", zap.Error(err))
			rt.producer = &rabbitmq.EventProducerFallback{Logger: logger}
		} else {
			rt.producer = producer
		}
	}

	return rt, nil
}

func (rt *runtime) service() *app.Service {
	return app.NewService(rt.repo, rt.clock, rt.producer, rt.logger)
}

func (rt *runtime) sweeper() *app.Sweeper {
	return app.NewSweeper(rt.repo, rt.locker, rt.producer, rt.clock, rt.logger, app.SweepOptions{
		Concurrency:      rt.cfg.SweepConcurrency,
		CommunityTimeout: rt.cfg.SweepCommunityTimeout,
		LockTTL:          rt.cfg.SweepLockTTL,
	})
}

func (rt *runtime) Close() {
	if rt.producer != nil {
		rt.producer.Close()
	}
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	if rt.pool != nil {
		rt.pool.Close()
	}
}

func openPostgres(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}

	// Configure connection pool
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return pool, nil
}

// openRedis returns nil when Redis is not configured or unreachable; callers
// fall back to Postgres advisory locks and no rate limiting.
func openRedis(ctx context.Context, redisURL string, logger *zap.Logger) *redis.Client {
	if redisURL == "" {
		logger.Warn("redis url missing; certify rate limiting disabled", zap.String("env", "REDIS_URL"))
		return nil
	}
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("redis url parse failed; certify rate limiting disabled", zap.Error(err))
		return nil
	}
	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; certify rate limiting disabled", zap.Error(err))
		_ = client.Close()
		return nil
	}
	logger.Info("redis connected")
	return client
}
