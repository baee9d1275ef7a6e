package adapter

import (
	"context"
	"time"
)

// RateLimiter caps how many jobs one user may enqueue per window.
type RateLimiter interface {
	AllowEnqueue(ctx context.Context, userID string, limit int, window time.Duration) (bool, error)
}
