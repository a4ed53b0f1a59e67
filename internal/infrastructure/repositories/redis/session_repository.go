package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"paintwithchat/internal/core/domain"
	"paintwithchat/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisSessionRepository struct {
	client *redis.Client
}

func NewRedisSessionRepository(client *redis.Client) ports.SessionRepository {
	return &RedisSessionRepository{client: client}
}

func (r *RedisSessionRepository) Create(ctx context.Context, session *domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	created, err := r.client.SetNX(ctx, sessionKey(session.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create session in Redis: %w", err)
	}
	if !created {
		return fmt.Errorf("session already exists: %s", session.ID)
	}

	if session.Active {
		if err := r.client.Set(ctx, activeSessionKey(session.StreamerID), string(session.ID), 0).Err(); err != nil {
			return fmt.Errorf("failed to index active session: %w", err)
		}
	}
	return nil
}

func (r *RedisSessionRepository) GetByID(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	data, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session from Redis: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func (r *RedisSessionRepository) Save(ctx context.Context, session *domain.Session) error {
	exists, err := r.client.Exists(ctx, sessionKey(session.ID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check session in Redis: %w", err)
	}
	if exists == 0 {
		return domain.ErrSessionNotFound
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	activeKey := activeSessionKey(session.StreamerID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(session.ID), data, 0)
		if session.Active {
			pipe.Set(ctx, activeKey, string(session.ID), 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save session in Redis: %w", err)
	}

	if !session.Active {
		if err := r.dropActiveIndex(ctx, activeKey, session.ID); err != nil {
			return err
		}
	}
	return nil
}

// dropActiveIndex removes the streamer index only while it still points at id.
func (r *RedisSessionRepository) dropActiveIndex(ctx context.Context, key string, id domain.SessionID) error {
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		if current != string(id) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("failed to drop active session index: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) FindActiveByStreamer(ctx context.Context, streamerID domain.UserID) (*domain.Session, error) {
	id, err := r.client.Get(ctx, activeSessionKey(streamerID)).Result()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active session from Redis: %w", err)
	}

	session, err := r.GetByID(ctx, domain.SessionID(id))
	if err != nil {
		return nil, err
	}
	if !session.Active || session.StreamerID != streamerID {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}
