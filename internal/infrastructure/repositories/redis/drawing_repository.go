package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"paintwithchat/internal/core/domain"
	"paintwithchat/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisDrawingRepository keeps a session's full stroke list as one JSON
// value, replaced on every upsert.
type RedisDrawingRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDrawingRepository stores records that expire ttl after their last
// write. A zero ttl keeps them forever.
func NewRedisDrawingRepository(client *redis.Client, ttl time.Duration) ports.DrawingRepository {
	return &RedisDrawingRepository{client: client, ttl: ttl}
}

func (r *RedisDrawingRepository) Find(ctx context.Context, sessionID domain.SessionID) ([]domain.FinalizedStroke, error) {
	data, err := r.client.Get(ctx, drawingKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get drawing from Redis: %w", err)
	}

	var strokes []domain.FinalizedStroke
	if err := json.Unmarshal(data, &strokes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal drawing: %w", err)
	}
	return strokes, nil
}

func (r *RedisDrawingRepository) Upsert(ctx context.Context, sessionID domain.SessionID, strokes []domain.FinalizedStroke) error {
	if strokes == nil {
		strokes = []domain.FinalizedStroke{}
	}
	data, err := json.Marshal(strokes)
	if err != nil {
		return fmt.Errorf("failed to marshal drawing: %w", err)
	}
	if err := r.client.Set(ctx, drawingKey(sessionID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store drawing in Redis: %w", err)
	}
	return nil
}

func (r *RedisDrawingRepository) DeleteAll(ctx context.Context, sessionID domain.SessionID) error {
	if err := r.client.Del(ctx, drawingKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete drawing from Redis: %w", err)
	}
	return nil
}
