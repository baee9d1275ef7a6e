// File: internal/infra/redis/lock.go
package redis

import (
	"context"
	"fmt"
	"time"

	"ai-learning-plans/internal/domain"
	"ai-learning-plans/internal/domain/ports/adapter"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	lockKeyPrefix = "lock:cache:"
	lockRetry     = 50 * time.Millisecond
)

var _ adapter.KeyLocker = (*RedisLocker)(nil)

// RedisLocker is a SetNX token lock. Waiters poll until wait elapses.
// The ttl bounds how long a crashed holder can block a key; a live holder
// renews it every ttl/3 until fn returns.
type RedisLocker struct {
	cli  *redis.Client
	ttl  time.Duration
	wait time.Duration
}

func NewLocker(c *Client, ttl, wait time.Duration) *RedisLocker {
	return &RedisLocker{cli: c.cli, ttl: ttl, wait: wait}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (string, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.cli.SetNX(ctx, lockKeyPrefix+key, token, l.ttl).Result()
		if err != nil {
			return "", fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			return token, nil
		}
		if !time.Now().Before(deadline) {
			return "", fmt.Errorf("%w: %s", domain.ErrLockNotAcquired, key)
		}
		t := time.NewTimer(lockRetry)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
	}
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := luaUnlock.Run(ctx, l.cli, []string{lockKeyPrefix + key}, token).Result()
	return err
}

var luaExtend = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`)

// Extend resets the lock ttl if token still holds it. false means the lock was lost.
func (l *RedisLocker) Extend(ctx context.Context, key, token string) (bool, error) {
	n, err := luaExtend.Run(ctx, l.cli, []string{lockKeyPrefix + key}, token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *RedisLocker) WithKeyLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token, err := l.TryLock(ctx, key)
	if err != nil {
		return err
	}
	stop := l.keepAlive(ctx, key, token)
	defer func() {
		stop()
		// unlock even if the caller's ctx is already cancelled
		_ = l.Unlock(context.WithoutCancel(ctx), key, token)
	}()
	return fn(ctx)
}

func (l *RedisLocker) keepAlive(ctx context.Context, key, token string) func() {
	if l.ttl <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(l.ttl / 3)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				// a transient error is retried on the next tick
				if ok, err := l.Extend(ctx, key, token); err == nil && !ok {
					return
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
