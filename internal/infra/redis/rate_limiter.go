package redis

import (
	"context"
	"fmt"
	"time"

	"ai-learning-plans/internal/domain/ports/adapter"
)

var _ adapter.RateLimiter = (*RateLimiter)(nil)

// RateLimiter counts hits per key in fixed windows that start at the first hit.
type RateLimiter struct {
	client RedisClient
}

func NewRateLimiter(client RedisClient) *RateLimiter {
	return &RateLimiter{client: client}
}

// Allow reports whether this hit is within limit for the current window.
// A non-positive limit disables the check.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	n, err := r.client.IncrWindow(ctx, key, window)
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return n <= int64(limit), nil
}

func EnqueueKey(userID string) string { return "plans:enqueue_rate:" + userID }

func (r *RateLimiter) AllowEnqueue(ctx context.Context, userID string, limit int, window time.Duration) (bool, error) {
	return r.Allow(ctx, EnqueueKey(userID), limit, window)
}
