package repository

import (
	"context"
	"time"

	"ai-learning-plans/internal/domain/model"
)

type ResourceCacheRepository interface {
	// Get returns the row for key whether or not it has expired; domain.ErrNotFound if absent.
	Get(ctx context.Context, tx Tx, key model.CacheKey) (*model.CacheEntry, error)
	Upsert(ctx context.Context, tx Tx, entry *model.CacheEntry) error
	// DeleteIfExpired removes the row for key only if it is still expired at now.
	DeleteIfExpired(ctx context.Context, tx Tx, key model.CacheKey, now time.Time) (bool, error)
	// DeleteExpired removes up to limit expired rows (limit <= 0 means all).
	DeleteExpired(ctx context.Context, tx Tx, now time.Time, limit int) (int, error)
}
