package repositories

import (
	"context"
	"time"

	"paintwithchat/internal/core/ports"
	"paintwithchat/internal/infrastructure/repositories/memory"
	redisrepo "paintwithchat/internal/infrastructure/repositories/redis"
	"paintwithchat/pkg/config"
	"paintwithchat/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	drawingTTL  time.Duration
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects to Redis when enabled and falls back to
// memory repositories when it cannot.
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		useRedis:   cfg.Redis.Enabled,
		drawingTTL: cfg.Relay.DrawingTTL,
		logger:     logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory
}

// NewRepositoryFactoryWithClient uses an already connected client.
func NewRepositoryFactoryWithClient(client *redis.Client, cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	return &RepositoryFactory{
		useRedis:    client != nil,
		redisClient: client,
		drawingTTL:  cfg.Relay.DrawingTTL,
		logger:      logger,
	}
}

func (f *RepositoryFactory) UsesRedis() bool {
	return f.useRedis && f.redisClient != nil
}

func (f *RepositoryFactory) CreateSessionRepository() ports.SessionRepository {
	if f.UsesRedis() {
		return redisrepo.NewRedisSessionRepository(f.redisClient)
	}
	return memory.NewMemorySessionRepository()
}

func (f *RepositoryFactory) CreateDrawingRepository() ports.DrawingRepository {
	if f.UsesRedis() {
		return redisrepo.NewRedisDrawingRepository(f.redisClient, f.drawingTTL)
	}
	return memory.NewMemoryDrawingRepository()
}

func (f *RepositoryFactory) CreateUserRepository() ports.UserRepository {
	if f.UsesRedis() {
		return redisrepo.NewRedisUserRepository(f.redisClient)
	}
	return memory.NewMemoryUserRepository()
}

// CreateLocker returns a Redis lock for session mutations, or nil when a
// single process owns the store.
func (f *RepositoryFactory) CreateLocker() ports.Locker {
	if f.UsesRedis() {
		return distributed.NewLocker(f.redisClient, distributed.DefaultConfig())
	}
	return nil
}

// Close closes Redis connection if used
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.UsesRedis() {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
