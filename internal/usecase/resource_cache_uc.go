// File: internal/usecase/resource_cache_uc.go
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"ai-learning-plans/internal/domain"
	"ai-learning-plans/internal/domain/model"
	"ai-learning-plans/internal/domain/ports/adapter"
	"ai-learning-plans/internal/domain/ports/repository"
	"ai-learning-plans/internal/infra/metrics"
)

// Fetcher produces the results for a cache miss.
type Fetcher func(ctx context.Context) ([]json.RawMessage, error)

type CacheSettings struct {
	TTL             map[model.CacheStage]time.Duration
	LRUSize         int
	NegativeCaching bool
	ParamsVersion   string
	CacheVersion    string
}

type CacheStats struct {
	LRULen       int   `json:"lruLen"`
	LRUEvictions int64 `json:"lruEvictions"`
}

// ResourceCache is a store-backed cache. The store is the only source of results;
// the in-process LRU shadow only tracks which keys this process touched recently
// and the expiry it last saw for them. Misses are collapsed per key inside the
// process (singleflight) and across processes by the KeyLocker.
type ResourceCache struct {
	repo   repository.ResourceCacheRepository
	locker adapter.KeyLocker
	clock  adapter.Clock
	cfg    CacheSettings

	shadow    *lru.Cache[string, time.Time]
	evictions atomic.Int64
	group     singleflight.Group

	log *zerolog.Logger
}

func NewResourceCache(repo repository.ResourceCacheRepository, locker adapter.KeyLocker, clock adapter.Clock, cfg CacheSettings, logger *zerolog.Logger) (*ResourceCache, error) {
	if cfg.LRUSize <= 0 {
		cfg.LRUSize = 1024
	}
	for stage, ttl := range cfg.TTL {
		if !stage.Valid() {
			return nil, fmt.Errorf("%w: %q", domain.ErrUnknownCacheStage, stage)
		}
		if ttl <= 0 {
			return nil, fmt.Errorf("%w: ttl for stage %s must be positive", domain.ErrInvalidArgument, stage)
		}
	}
	shadow, err := lru.New[string, time.Time](cfg.LRUSize)
	if err != nil {
		return nil, err
	}
	l := logger.With().Str("component", "resource_cache").Logger()
	return &ResourceCache{
		repo:   repo,
		locker: locker,
		clock:  clock,
		cfg:    cfg,
		shadow: shadow,
		log:    &l,
	}, nil
}

// BuildCacheKey applies the configured params and cache versions.
func (c *ResourceCache) BuildCacheKey(query, source string) model.CacheKey {
	return model.BuildCacheKey(query, source, c.cfg.ParamsVersion, c.cfg.CacheVersion)
}

func (c *ResourceCache) TTL(stage model.CacheStage) (time.Duration, error) {
	ttl, ok := c.cfg.TTL[stage]
	if !ok || !stage.Valid() {
		return 0, fmt.Errorf("%w: %q", domain.ErrUnknownCacheStage, stage)
	}
	return ttl, nil
}

// GetCachedResults returns the live payload for key, or (nil, nil) when absent or expired.
// Every call reads the store row, so writes from other processes are seen at once.
// Expired rows are deleted on the way out.
func (c *ResourceCache) GetCachedResults(ctx context.Context, key model.CacheKey) (*model.CachePayload, error) {
	now := c.clock.Now()
	id := key.String()

	if seen, ok := c.shadow.Get(id); ok && seen.After(now) {
		metrics.IncCacheRequest("lru", "hit")
	} else {
		metrics.IncCacheRequest("lru", "miss")
	}

	entry, err := c.repo.Get(ctx, repository.NoTX, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.IncCacheRequest("store", "miss")
			c.shadow.Remove(id)
			return nil, nil
		}
		return nil, err
	}
	if entry.Expired(now) {
		metrics.IncCacheRequest("store", "expired")
		if _, err := c.repo.DeleteIfExpired(ctx, repository.NoTX, key, now); err != nil {
			c.log.Warn().Err(err).Str("query_key", key.QueryKey).Msg("lazy expiry delete failed")
		}
		c.shadow.Remove(id)
		return nil, nil
	}
	metrics.IncCacheRequest("store", "hit")
	c.remember(id, entry.ExpiresAt)
	p := entry.Payload.Clone()
	return &p, nil
}

// SetCachedResults upserts the payload with the TTL of stage and marks the key as recent.
func (c *ResourceCache) SetCachedResults(ctx context.Context, key model.CacheKey, stage model.CacheStage, payload model.CachePayload) error {
	ttl, err := c.TTL(stage)
	if err != nil {
		return err
	}
	now := c.clock.Now()
	if payload.CacheVersion == "" {
		payload.CacheVersion = key.CacheVersion
	}
	if payload.Results == nil {
		payload.Results = []json.RawMessage{}
	}
	entry := &model.CacheEntry{
		QueryKey:  key.QueryKey,
		Source:    key.Source,
		Stage:     stage,
		Payload:   payload.Clone(),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.repo.Upsert(ctx, repository.NoTX, entry); err != nil {
		return err
	}
	c.remember(key.String(), entry.ExpiresAt)
	return nil
}

// GetOrSetWithLock returns cached results or runs fetch exactly once per key across
// concurrent callers. A fetch error is returned unchanged and nothing is written.
func (c *ResourceCache) GetOrSetWithLock(ctx context.Context, key model.CacheKey, stage model.CacheStage, fetch Fetcher) ([]json.RawMessage, error) {
	if _, err := c.TTL(stage); err != nil {
		return nil, err
	}
	cached, err := c.GetCachedResults(ctx, key)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached.Results, nil
	}

	// a follower whose leader gave up on its own ctx gets one more try
	for attempt := 0; ; attempt++ {
		ch := c.group.DoChan(key.String(), func() (interface{}, error) {
			return c.fillLocked(ctx, key, stage, fetch)
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				if attempt == 0 && isContextErr(res.Err) && ctx.Err() == nil {
					continue
				}
				return nil, res.Err
			}
			return cloneResults(res.Val.([]json.RawMessage)), nil
		}
	}
}

func (c *ResourceCache) fillLocked(ctx context.Context, key model.CacheKey, stage model.CacheStage, fetch Fetcher) ([]json.RawMessage, error) {
	var out []json.RawMessage
	err := c.locker.WithKeyLock(ctx, key.String(), func(ctx context.Context) error {
		// another process may have filled it while we waited for the lock
		cached, err := c.GetCachedResults(ctx, key)
		if err != nil {
			return err
		}
		if cached != nil {
			out = cached.Results
			return nil
		}

		results, err := fetch(ctx)
		if err != nil {
			metrics.IncCacheFetch(string(stage), "error")
			return err
		}
		target := stage
		if len(results) == 0 && c.cfg.NegativeCaching {
			target = model.CacheStageNegative
		}
		if _, err := c.TTL(target); err != nil {
			target = stage
		}
		metrics.IncCacheFetch(string(target), "ok")

		payload := model.CachePayload{Results: results, CacheVersion: key.CacheVersion}
		if err := c.SetCachedResults(ctx, key, target, payload); err != nil {
			c.log.Warn().Err(err).Str("query_key", key.QueryKey).Str("stage", string(target)).Msg("cache write failed")
		}
		out = results
		if out == nil {
			out = []json.RawMessage{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CleanupExpiredCache deletes up to limit expired rows; limit <= 0 removes all of them.
func (c *ResourceCache) CleanupExpiredCache(ctx context.Context, limit int) (int, error) {
	n, err := c.repo.DeleteExpired(ctx, repository.NoTX, c.clock.Now(), limit)
	if err != nil {
		return 0, err
	}
	metrics.AddCacheCleanupDeleted(n)
	if n > 0 {
		c.log.Info().Int("deleted", n).Int("limit", limit).Msg("expired cache rows removed")
	}
	return n, nil
}

func (c *ResourceCache) Stats() CacheStats {
	return CacheStats{LRULen: c.shadow.Len(), LRUEvictions: c.evictions.Load()}
}

func (c *ResourceCache) remember(id string, expiresAt time.Time) {
	if evicted := c.shadow.Add(id, expiresAt); evicted {
		c.evictions.Add(1)
		metrics.IncCacheLRUEviction()
	}
}

func cloneResults(in []json.RawMessage) []json.RawMessage {
	out := make([]json.RawMessage, len(in))
	for i, r := range in {
		out[i] = append(json.RawMessage(nil), r...)
	}
	return out
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
