package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ai-learning-plans/internal/domain"
	"ai-learning-plans/internal/domain/model"
	"ai-learning-plans/internal/domain/ports/repository"
	"ai-learning-plans/internal/infra/clock"
	"ai-learning-plans/internal/infra/db/memory"
)

type cacheFixture struct {
	cache *ResourceCache
	repo  *memory.CacheRepo
	clock *clock.Fake
}

func defaultTTLs() map[model.CacheStage]time.Duration {
	return map[model.CacheStage]time.Duration{
		model.CacheStageSearch:   168 * time.Hour,
		model.CacheStageStats:    24 * time.Hour,
		model.CacheStageHead:     72 * time.Hour,
		model.CacheStageNegative: 6 * time.Hour,
	}
}

func newCacheFixture(t *testing.T, mutate func(*CacheSettings)) *cacheFixture {
	t.Helper()
	store := memory.NewStore()
	repo := memory.NewCacheRepo(store)
	clk := clock.NewFake(testStart)
	cfg := CacheSettings{
		TTL:             defaultTTLs(),
		LRUSize:         16,
		NegativeCaching: true,
		ParamsVersion:   "p1",
		CacheVersion:    "v1",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	nop := zerolog.Nop()
	c, err := NewResourceCache(repo, memory.NewKeyLocker(), clk, cfg, &nop)
	if err != nil {
		t.Fatalf("NewResourceCache: %v", err)
	}
	return &cacheFixture{cache: c, repo: repo, clock: clk}
}

func results(items ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(items))
	for i, s := range items {
		out[i] = json.RawMessage(fmt.Sprintf(`{"url":%q}`, s))
	}
	return out
}

func TestNewResourceCache_RejectsBadTTL(t *testing.T) {
	t.Parallel()
	nop := zerolog.Nop()
	store := memory.NewStore()
	_, err := NewResourceCache(memory.NewCacheRepo(store), memory.NewKeyLocker(), clock.NewFake(testStart),
		CacheSettings{TTL: map[model.CacheStage]time.Duration{"warm": time.Hour}}, &nop)
	if !errors.Is(err, domain.ErrUnknownCacheStage) {
		t.Fatalf("expected ErrUnknownCacheStage, got %v", err)
	}
	_, err = NewResourceCache(memory.NewCacheRepo(store), memory.NewKeyLocker(), clock.NewFake(testStart),
		CacheSettings{TTL: map[model.CacheStage]time.Duration{model.CacheStageSearch: 0}}, &nop)
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestBuildCacheKey_NormalisesQuery(t *testing.T) {
	t.Parallel()
	f := newCacheFixture(t, nil)
	a := f.cache.BuildCacheKey("  Learn   Go ", "web")
	b := f.cache.BuildCacheKey("learn go", "web")
	if a != b {
		t.Fatalf("keys differ for equivalent queries: %v vs %v", a, b)
	}
	if c := f.cache.BuildCacheKey("learn go", "video"); c.QueryKey == a.QueryKey && c.Source == a.Source {
		t.Fatalf("source must be part of the key")
	}
	other := newCacheFixture(t, func(c *CacheSettings) { c.ParamsVersion = "p2" })
	if other.cache.BuildCacheKey("learn go", "web").QueryKey == a.QueryKey {
		t.Fatalf("params version must change the query key")
	}
}

func TestSetGet_RoundTrip(t *testing.T) {
	t.Parallel()
	f := newCacheFixture(t, nil)
	ctx := context.Background()
	key := f.cache.BuildCacheKey("kubernetes basics", "web")

	if got, err := f.cache.GetCachedResults(ctx, key); err != nil || got != nil {
		t.Fatalf("expected miss, got %v %v", got, err)
	}
	if err := f.cache.SetCachedResults(ctx, key, model.CacheStageSearch, model.CachePayload{Results: results("a", "b")}); err != nil {
		t.Fatalf("SetCachedResults: %v", err)
	}
	got, err := f.cache.GetCachedResults(ctx, key)
	if err != nil || got == nil {
		t.Fatalf("expected hit, got %v %v", got, err)
	}
	if len(got.Results) != 2 || got.CacheVersion != "v1" {
		t.Fatalf("unexpected payload: %+v", got)
	}

	entry, err := f.repo.Get(ctx, repository.NoTX, key)
	if err != nil {
		t.Fatalf("repo.Get: %v", err)
	}
	if want := testStart.Add(168 * time.Hour); !entry.ExpiresAt.Equal(want) || entry.Stage != model.CacheStageSearch {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	if err := f.cache.SetCachedResults(ctx, key, "warm", model.CachePayload{}); !errors.Is(err, domain.ErrUnknownCacheStage) {
		t.Fatalf("expected ErrUnknownCacheStage, got %v", err)
	}
}

func TestGetCachedResults_LazyExpiryDeletesRow(t *testing.T) {
	t.Parallel()
	f := newCacheFixture(t, nil)
	ctx := context.Background()
	key := f.cache.BuildCacheKey("ml", "web")
	if err := f.cache.SetCachedResults(ctx, key, model.CacheStageStats, model.CachePayload{Results: results("x")}); err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(24 * time.Hour)
	got, err := f.cache.GetCachedResults(ctx, key)
	if err != nil || got != nil {
		t.Fatalf("expired entry returned: %v %v", got, err)
	}
	if _, err := f.repo.Get(ctx, repository.NoTX, key); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expired row should have been deleted, got %v", err)
	}
}

func TestGetOrSetWithLock_SingleFlight(t *testing.T) {
	t.Parallel()
	f := newCacheFixture(t, nil)
	key := f.cache.BuildCacheKey("devops", "web")

	var (
		calls   atomic.Int32
		release = make(chan struct{})
		started sync.WaitGroup
		done    sync.WaitGroup
	)
	fetch := func(ctx context.Context) ([]json.RawMessage, error) {
		calls.Add(1)
		<-release
		return results("one"), nil
	}

	outs := make([][]json.RawMessage, 3)
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		started.Add(1)
		done.Add(1)
		go func(i int) {
			defer done.Done()
			started.Done()
			outs[i], errs[i] = f.cache.GetOrSetWithLock(context.Background(), key, model.CacheStageSearch, fetch)
		}(i)
	}
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(release)
	done.Wait()

	if n := calls.Load(); n != 1 {
		t.Fatalf("fetch ran %d times, want 1", n)
	}
	for i := range outs {
		if errs[i] != nil || len(outs[i]) != 1 || string(outs[i][0]) != `{"url":"one"}` {
			t.Fatalf("caller %d got %v %v", i, outs[i], errs[i])
		}
	}
	// callers get independent copies
	outs[0][0][2] = 'X'
	if string(outs[1][0]) != `{"url":"one"}` {
		t.Fatalf("results shared between callers")
	}
}

func TestGetOrSetWithLock_HitSkipsFetch(t *testing.T) {
	t.Parallel()
	f := newCacheFixture(t, nil)
	ctx := context.Background()
	key := f.cache.BuildCacheKey("llm", "web")
	if err := f.cache.SetCachedResults(ctx, key, model.CacheStageSearch, model.CachePayload{Results: results("cached")}); err != nil {
		t.Fatal(err)
	}
	got, err := f.cache.GetOrSetWithLock(ctx, key, model.CacheStageSearch, func(context.Context) ([]json.RawMessage, error) {
		t.Fatalf("fetch must not run on a hit")
		return nil, nil
	})
	if err != nil || len(got) != 1 {
		t.Fatalf("unexpected result: %v %v", got, err)
	}
}

func TestGetOrSetWithLock_EmptyResultsUseNegativeTTL(t *testing.T) {
	t.Parallel()
	f := newCacheFixture(t, nil)
	ctx := context.Background()
	key := f.cache.BuildCacheKey("obscure topic", "web")

	got, err := f.cache.GetOrSetWithLock(ctx, key, model.CacheStageSearch, func(context.Context) ([]json.RawMessage, error) {
		return nil, nil
	})
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil results, got %v %v", got, err)
	}
	entry, err := f.repo.Get(ctx, repository.NoTX, key)
	if err != nil {
		t.Fatalf("negative result not stored: %v", err)
	}
	if entry.Stage != model.CacheStageNegative || !entry.ExpiresAt.Equal(testStart.Add(6*time.Hour)) {
		t.Fatalf("unexpected negative entry: %+v", entry)
	}
	if !entry.ExpiresAt.Before(testStart.Add(168 * time.Hour)) {
		t.Fatalf("negative ttl must be shorter than search ttl")
	}
}

func TestGetOrSetWithLock_NegativeCachingDisabled(t *testing.T) {
	t.Parallel()
	f := newCacheFixture(t, func(c *CacheSettings) { c.NegativeCaching = false })
	ctx := context.Background()
	key := f.cache.BuildCacheKey("obscure topic", "web")
	if _, err := f.cache.GetOrSetWithLock(ctx, key, model.CacheStageSearch, func(context.Context) ([]json.RawMessage, error) {
		return nil, nil
	}); err != nil {
		t.Fatal(err)
	}
	entry, err := f.repo.Get(ctx, repository.NoTX, key)
	if err != nil || entry.Stage != model.CacheStageSearch {
		t.Fatalf("expected search stage entry, got %+v %v", entry, err)
	}
}

func TestGetOrSetWithLock_FetchErrorWritesNothing(t *testing.T) {
	t.Parallel()
	f := newCacheFixture(t, nil)
	ctx := context.Background()
	key := f.cache.BuildCacheKey("rust", "web")
	boom := errors.New("upstream 503")

	_, err := f.cache.GetOrSetWithLock(ctx, key, model.CacheStageSearch, func(context.Context) ([]json.RawMessage, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if _, err := f.repo.Get(ctx, repository.NoTX, key); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("nothing should be stored after a failed fetch, got %v", err)
	}

	// the lock was released, so the next caller fetches again
	got, err := f.cache.GetOrSetWithLock(ctx, key, model.CacheStageSearch, func(context.Context) ([]json.RawMessage, error) {
		return results("ok"), nil
	})
	if err != nil || len(got) != 1 {
		t.Fatalf("retry after failure: %v %v", got, err)
	}
}

func TestGetOrSetWithLock_CallerContextCancelled(t *testing.T) {
	t.Parallel()
	f := newCacheFixture(t, nil)
	key := f.cache.BuildCacheKey("slow", "web")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.cache.GetOrSetWithLock(ctx, key, model.CacheStageSearch, func(ctx context.Context) ([]json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestLRUShadow_EvictionIsCountedAndStoreStillServes(t *testing.T) {
	t.Parallel()
	f := newCacheFixture(t, func(c *CacheSettings) { c.LRUSize = 2 })
	ctx := context.Background()
	keys := []model.CacheKey{
		f.cache.BuildCacheKey("a", "web"),
		f.cache.BuildCacheKey("b", "web"),
		f.cache.BuildCacheKey("c", "web"),
	}
	for _, k := range keys {
		if err := f.cache.SetCachedResults(ctx, k, model.CacheStageSearch, model.CachePayload{Results: results(k.QueryKey)}); err != nil {
			t.Fatal(err)
		}
	}
	st := f.cache.Stats()
	if st.LRULen != 2 || st.LRUEvictions != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	got, err := f.cache.GetCachedResults(ctx, keys[0])
	if err != nil || got == nil {
		t.Fatalf("evicted key should still come from the store: %v %v", got, err)
	}
}

func TestLRUShadow_HonoursExpiry(t *testing.T) {
	t.Parallel()
	f := newCacheFixture(t, nil)
	ctx := context.Background()
	key := f.cache.BuildCacheKey("cloud", "web")
	if err := f.cache.SetCachedResults(ctx, key, model.CacheStageNegative, model.CachePayload{}); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(6*time.Hour + time.Second)
	if got, _ := f.cache.GetCachedResults(ctx, key); got != nil {
		t.Fatalf("shadow served an expired entry")
	}
}

func TestCleanupExpiredCache_Bounded(t *testing.T) {
	t.Parallel()
	f := newCacheFixture(t, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		k := f.cache.BuildCacheKey(fmt.Sprintf("q%d", i), "web")
		if err := f.cache.SetCachedResults(ctx, k, model.CacheStageNegative, model.CachePayload{}); err != nil {
			t.Fatal(err)
		}
	}
	live := f.cache.BuildCacheKey("live", "web")
	if err := f.cache.SetCachedResults(ctx, live, model.CacheStageSearch, model.CachePayload{}); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(7 * time.Hour)

	n, err := f.cache.CleanupExpiredCache(ctx, 3)
	if err != nil || n != 3 {
		t.Fatalf("first batch = %d, %v", n, err)
	}
	n, err = f.cache.CleanupExpiredCache(ctx, 0)
	if err != nil || n != 2 {
		t.Fatalf("second batch = %d, %v", n, err)
	}
	if _, err := f.repo.Get(ctx, repository.NoTX, live); err != nil {
		t.Fatalf("live entry removed: %v", err)
	}
}

// sharedCaches builds n caches over one store and one key locker, the way several
// workers share one database.
func sharedCaches(t *testing.T, n int) ([]*ResourceCache, *memory.CacheRepo, *clock.Fake) {
	t.Helper()
	repo := memory.NewCacheRepo(memory.NewStore())
	locker := memory.NewKeyLocker()
	clk := clock.NewFake(testStart)
	nop := zerolog.Nop()
	out := make([]*ResourceCache, n)
	for i := range out {
		c, err := NewResourceCache(repo, locker, clk, CacheSettings{
			TTL:             defaultTTLs(),
			LRUSize:         16,
			NegativeCaching: true,
			ParamsVersion:   "p1",
			CacheVersion:    "v1",
		}, &nop)
		if err != nil {
			t.Fatalf("NewResourceCache: %v", err)
		}
		out[i] = c
	}
	return out, repo, clk
}

func TestGetCachedResults_StoreWinsOverShadow(t *testing.T) {
	t.Parallel()
	caches, repo, clk := sharedCaches(t, 2)
	a, b := caches[0], caches[1]
	ctx := context.Background()
	key := a.BuildCacheKey("go generics", "web")

	if err := a.SetCachedResults(ctx, key, model.CacheStageSearch, model.CachePayload{Results: results("old")}); err != nil {
		t.Fatal(err)
	}
	if err := b.SetCachedResults(ctx, key, model.CacheStageSearch, model.CachePayload{Results: results("new")}); err != nil {
		t.Fatal(err)
	}
	got, err := a.GetCachedResults(ctx, key)
	if err != nil || got == nil || string(got.Results[0]) != `{"url":"new"}` {
		t.Fatalf("expected the other worker's write, got %v %v", got, err)
	}

	// the row expires behind a's back
	entry, err := repo.Get(ctx, repository.NoTX, key)
	if err != nil {
		t.Fatal(err)
	}
	entry.ExpiresAt = clk.Now().Add(-time.Second)
	if err := repo.Upsert(ctx, repository.NoTX, entry); err != nil {
		t.Fatal(err)
	}
	if got, err := a.GetCachedResults(ctx, key); err != nil || got != nil {
		t.Fatalf("expired row served: %v %v", got, err)
	}
	if _, err := repo.Get(ctx, repository.NoTX, key); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expired row should have been deleted, got %v", err)
	}

	// and a row removed out of band reads as absent
	if err := b.SetCachedResults(ctx, key, model.CacheStageStats, model.CachePayload{Results: results("again")}); err != nil {
		t.Fatal(err)
	}
	if _, err := a.GetCachedResults(ctx, key); err != nil {
		t.Fatal(err)
	}
	clk.Advance(25 * time.Hour)
	if _, err := b.CleanupExpiredCache(ctx, 0); err != nil {
		t.Fatal(err)
	}
	clk.Set(testStart)
	if got, err := a.GetCachedResults(ctx, key); err != nil || got != nil {
		t.Fatalf("deleted row served: %v %v", got, err)
	}
}

func TestGetOrSetWithLock_SingleFlightAcrossInstances(t *testing.T) {
	t.Parallel()
	caches, _, _ := sharedCaches(t, 2)
	key := caches[0].BuildCacheKey("kubernetes operators", "web")

	var (
		calls   atomic.Int32
		release = make(chan struct{})
		done    sync.WaitGroup
	)
	fetch := func(ctx context.Context) ([]json.RawMessage, error) {
		calls.Add(1)
		<-release
		return results("shared"), nil
	}

	owners := []*ResourceCache{caches[0], caches[1], caches[1]}
	outs := make([][]json.RawMessage, len(owners))
	errs := make([]error, len(owners))
	for i, c := range owners {
		done.Add(1)
		go func(i int, c *ResourceCache) {
			defer done.Done()
			outs[i], errs[i] = c.GetOrSetWithLock(context.Background(), key, model.CacheStageSearch, fetch)
		}(i, c)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	done.Wait()

	if n := calls.Load(); n != 1 {
		t.Fatalf("fetch ran %d times across instances, want 1", n)
	}
	for i := range outs {
		if errs[i] != nil || len(outs[i]) != 1 || string(outs[i][0]) != `{"url":"shared"}` {
			t.Fatalf("caller %d got %v %v", i, outs[i], errs[i])
		}
	}
}
