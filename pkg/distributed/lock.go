package distributed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrLockTimeout = errors.New("lock acquisition timeout")

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// renewScript extends the key only while it still holds our token.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

type Config struct {
	Prefix string
	// TTL bounds how long a crashed holder blocks others. Held locks are
	// renewed at half of it.
	TTL         time.Duration
	RetryEvery  time.Duration
	WaitTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Prefix:      "pwc:lock:",
		TTL:         10 * time.Second,
		RetryEvery:  20 * time.Millisecond,
		WaitTimeout: 5 * time.Second,
	}
}

// Locker hands out Redis-backed locks, one key per lock.
type Locker struct {
	client *redis.Client
	cfg    Config
}

func NewLocker(client *redis.Client, cfg Config) *Locker {
	defaults := DefaultConfig()
	if cfg.Prefix == "" {
		cfg.Prefix = defaults.Prefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.RetryEvery <= 0 {
		cfg.RetryEvery = defaults.RetryEvery
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = defaults.WaitTimeout
	}
	return &Locker{client: client, cfg: cfg}
}

// Lock blocks until key is held, ctx is done, or WaitTimeout passes. The
// returned func releases the lock and stops its renewal.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	fullKey := l.cfg.Prefix + key
	token := newToken()

	deadline := time.NewTimer(l.cfg.WaitTimeout)
	defer deadline.Stop()

	for {
		acquired, err := l.client.SetNX(ctx, fullKey, token, l.cfg.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if acquired {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		case <-time.After(l.cfg.RetryEvery):
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.renew(fullKey, token, stop, done)

	return func() {
		close(stop)
		<-done
		// The holder's ctx may already be cancelled; release regardless.
		releaseCtx, cancel := context.WithTimeout(context.Background(), l.cfg.TTL)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{fullKey}, token).Err()
	}, nil
}

func (l *Locker) renew(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.cfg.TTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.cfg.TTL/2)
			held, err := renewScript.Run(ctx, l.client, []string{key}, token, l.cfg.TTL.Milliseconds()).Int()
			cancel()
			if err != nil || held == 0 {
				return
			}
		}
	}
}

func (l *Locker) IsLocked(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Exists(ctx, l.cfg.Prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func newToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
