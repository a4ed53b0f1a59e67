package repositories

import (
	"context"
	"testing"

	"paintwithchat/internal/core/domain"
	"paintwithchat/pkg/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRepositoryFactory_FallsBackToMemory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = "127.0.0.1:1"

	f := NewRepositoryFactory(cfg, zap.NewNop().Sugar())
	defer f.Close()

	assert.False(t, f.UsesRedis())
	assert.NoError(t, f.HealthCheck(context.Background()))

	repo := f.CreateSessionRepository()
	require.NoError(t, repo.Create(context.Background(), &domain.Session{ID: "s1", Active: true}))
	assert.Nil(t, f.CreateLocker())
}

func TestRepositoryFactory_UsesRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = mr.Addr()

	f := NewRepositoryFactory(cfg, zap.NewNop().Sugar())
	defer f.Close()
	require.True(t, f.UsesRedis())

	ctx := context.Background()
	require.NoError(t, f.CreateSessionRepository().Create(ctx, &domain.Session{ID: "s1", StreamerID: "a", Active: true}))
	assert.True(t, mr.Exists("pwc:session:s1"))

	require.NoError(t, f.CreateDrawingRepository().Upsert(ctx, "s1", []domain.FinalizedStroke{{ID: "c1-1"}}))
	assert.True(t, mr.Exists("pwc:drawing:s1"))

	require.NoError(t, f.CreateUserRepository().Upsert(ctx, &domain.User{ID: "a"}))
	assert.True(t, mr.Exists("pwc:user:a"))

	locker := f.CreateLocker()
	require.NotNil(t, locker)
	unlock, err := locker.Lock(ctx, "session:s1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("pwc:lock:session:s1"))
	unlock()

	assert.NoError(t, f.HealthCheck(ctx))
	mr.Close()
	assert.Error(t, f.HealthCheck(ctx))
}

func TestRepositoryFactory_WithClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	f := NewRepositoryFactoryWithClient(client, config.DefaultConfig(), zap.NewNop().Sugar())
	defer f.Close()
	assert.True(t, f.UsesRedis())

	f = NewRepositoryFactoryWithClient(nil, config.DefaultConfig(), zap.NewNop().Sugar())
	assert.False(t, f.UsesRedis())
}
