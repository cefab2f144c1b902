package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/alecgard/huddle/internal/cache"
	"github.com/alecgard/huddle/internal/config"
	"github.com/alecgard/huddle/internal/crypto"
	"github.com/alecgard/huddle/internal/lock"
	"github.com/alecgard/huddle/internal/match"
	"github.com/alecgard/huddle/internal/ratelimit"
	"github.com/alecgard/huddle/internal/team"
	"github.com/alecgard/huddle/internal/user"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// loginAttemptsPerWindow bounds login attempts per client address.
const loginAttemptsPerWindow = 10

// app holds the wired services shared by serve, warm and seed.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	pool   *pgxpool.Pool
	redis  *redis.Client // nil when running on in-memory backends

	users       *user.Store
	accounts    *user.Service
	recommend   *cache.Recommendations
	locker      *lock.Locker
	matcher     *match.Service
	warmer      *match.Warmer
	teams       *team.Store
	admission   *team.Service
	projector   *team.Projector
	limiter     ratelimit.Checker
	loginLimit  ratelimit.Checker
	memLimiters []*ratelimit.Limiter
}

func newLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	return logger
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newApp connects to Postgres and, when configured, Redis, then builds every
// store and service. Callers must call close.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	logger.Info("connected to database")

	a := &app{cfg: cfg, logger: logger, pool: pool}

	var (
		backend   cache.Backend
		lockStore lock.Store
	)
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("pinging redis: %w", err)
		}
		logger.Info("connected to redis", "addr", cfg.Redis.Addr)

		backend = cache.NewRedisBackend(a.redis)
		lockStore = lock.NewRedisStore(a.redis)
		a.limiter = ratelimit.NewRedisLimiter(a.redis, cfg.Cache.Prefix, cfg.RateLimit.Default, cfg.RateLimit.Window)
		a.loginLimit = ratelimit.NewRedisLimiter(a.redis, cfg.Cache.Prefix, loginAttemptsPerWindow, cfg.RateLimit.Window)
	} else {
		logger.Warn("redis not configured, using in-memory cache, locks and rate limits; run a single instance only")

		backend = cache.NewMemoryBackend()
		lockStore = lock.NewMemoryStore()
		userLimiter := ratelimit.New(cfg.RateLimit.Default, cfg.RateLimit.Window)
		loginLimiter := ratelimit.New(loginAttemptsPerWindow, cfg.RateLimit.Window)
		a.limiter, a.loginLimit = userLimiter, loginLimiter
		a.memLimiters = []*ratelimit.Limiter{userLimiter, loginLimiter}
	}

	cipher, err := crypto.NewFieldCipher(cfg.Security.EncryptionKey)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("loading encryption key: %w", err)
	}
	if cipher == nil {
		logger.Warn("security.encryption_key not set, phone numbers are stored in plaintext")
	}

	a.users = user.NewStore(pool, cipher)
	a.recommend = cache.NewRecommendations(backend, cache.Options{
		Prefix:       cfg.Cache.Prefix,
		MatchTTL:     cfg.Cache.MatchTTL,
		RecommendTTL: cfg.Cache.RecommendTTL,
	})
	a.accounts = user.NewService(a.users, a.recommend, logger)

	a.locker = lock.New(lockStore, lock.Options{
		Prefix:      cfg.Cache.Prefix + "lock:",
		LeaseTTL:    cfg.Lock.LeaseTTL,
		MaxAttempts: cfg.Lock.MaxAttempts,
		BaseDelay:   cfg.Lock.BaseDelay,
		MaxDelay:    cfg.Lock.MaxDelay,
	})

	a.matcher = match.NewService(a.users, a.recommend, cfg.Recommend.PoolSize, logger)
	a.warmer = match.NewWarmer(a.matcher, a.users, a.locker, cfg.Warmup.Interval, cfg.Warmup.Concurrency, logger)
	a.warmer.SetLeaseTTL(cfg.Warmup.LeaseTTL)

	a.teams = team.NewStore(pool)
	a.admission = team.NewService(a.teams, a.locker, cfg.Admission.LockScope, logger)
	a.projector = team.NewProjector(a.teams, a.users)

	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("closing redis", "error", err)
		}
	}
	a.pool.Close()
}
