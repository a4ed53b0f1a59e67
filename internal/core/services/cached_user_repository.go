package services

import (
	"context"
	"time"

	"paintwithchat/internal/core/domain"
	"paintwithchat/internal/core/ports"
	"paintwithchat/pkg/cache"
)

// CachedUserRepository fronts a UserRepository with a TTL cache. Users are
// looked up on every authenticated join, and profiles change rarely.
type CachedUserRepository struct {
	repo  ports.UserRepository
	cache *cache.Cache[domain.UserID, *domain.User]
}

func NewCachedUserRepository(repo ports.UserRepository, ttl time.Duration) *CachedUserRepository {
	return &CachedUserRepository{
		repo:  repo,
		cache: cache.New[domain.UserID, *domain.User](ttl),
	}
}

func (r *CachedUserRepository) GetByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	user, err := r.cache.GetOrLoad(ctx, id, func(ctx context.Context) (*domain.User, error) {
		return r.repo.GetByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	c := *user
	return &c, nil
}

func (r *CachedUserRepository) Upsert(ctx context.Context, user *domain.User) error {
	if err := r.repo.Upsert(ctx, user); err != nil {
		r.cache.Delete(user.ID)
		return err
	}
	c := *user
	r.cache.Set(user.ID, &c)
	return nil
}

func (r *CachedUserRepository) Stop() {
	r.cache.Stop()
}
