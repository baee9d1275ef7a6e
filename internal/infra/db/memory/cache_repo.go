package memory

import (
	"context"
	"sort"
	"time"

	"ai-learning-plans/internal/domain"
	"ai-learning-plans/internal/domain/model"
	"ai-learning-plans/internal/domain/ports/repository"
)

type CacheRepo struct {
	store *Store
}

func NewCacheRepo(store *Store) *CacheRepo {
	return &CacheRepo{store: store}
}

var _ repository.ResourceCacheRepository = (*CacheRepo)(nil)

func (r *CacheRepo) Get(ctx context.Context, tx repository.Tx, key model.CacheKey) (*model.CacheEntry, error) {
	var out *model.CacheEntry
	err := r.store.run(tx, func() error {
		e, ok := r.store.cache[key.String()]
		if !ok {
			return domain.ErrNotFound
		}
		e.Payload = e.Payload.Clone()
		out = &e
		return nil
	})
	return out, err
}

func (r *CacheRepo) Upsert(ctx context.Context, tx repository.Tx, entry *model.CacheEntry) error {
	return r.store.run(tx, func() error {
		e := *entry
		e.Payload = entry.Payload.Clone()
		if prev, ok := r.store.cache[e.Key().String()]; ok {
			e.CreatedAt = prev.CreatedAt
		}
		r.store.cache[e.Key().String()] = e
		return nil
	})
}

func (r *CacheRepo) DeleteIfExpired(ctx context.Context, tx repository.Tx, key model.CacheKey, now time.Time) (bool, error) {
	deleted := false
	err := r.store.run(tx, func() error {
		e, ok := r.store.cache[key.String()]
		if ok && e.Expired(now) {
			delete(r.store.cache, key.String())
			deleted = true
		}
		return nil
	})
	return deleted, err
}

func (r *CacheRepo) DeleteExpired(ctx context.Context, tx repository.Tx, now time.Time, limit int) (int, error) {
	n := 0
	err := r.store.run(tx, func() error {
		var expired []model.CacheEntry
		for _, e := range r.store.cache {
			if e.Expired(now) {
				expired = append(expired, e)
			}
		}
		// oldest expiry goes first when the batch is bounded
		sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
		if limit > 0 && len(expired) > limit {
			expired = expired[:limit]
		}
		for _, e := range expired {
			delete(r.store.cache, e.Key().String())
		}
		n = len(expired)
		return nil
	})
	return n, err
}
