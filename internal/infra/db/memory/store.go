// Package memory is a process-local backend used for dev mode and unit tests.
// A single mutex guards all state; a transaction holds it until it ends.
package memory

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v4"

	"ai-learning-plans/internal/domain"
	"ai-learning-plans/internal/domain/model"
	"ai-learning-plans/internal/domain/ports/repository"
)

type jobRow struct {
	job model.Job
	seq int64
}

type Store struct {
	mu    sync.Mutex
	jobs  map[string]jobRow
	cache map[string]model.CacheEntry
	seq   int64
}

func NewStore() *Store {
	return &Store{
		jobs:  make(map[string]jobRow),
		cache: make(map[string]model.CacheEntry),
	}
}

// memTx marks calls made inside WithTx; the store lock is already held.
type memTx struct {
	store *Store
}

// run executes fn with the store locked, reusing the lock when tx belongs to a
// transaction of this store.
func (s *Store) run(tx repository.Tx, fn func() error) error {
	switch t := tx.(type) {
	case nil:
		s.mu.Lock()
		defer s.mu.Unlock()
		return fn()
	case *memTx:
		if t.store != s {
			return domain.ErrInvalidExecContext
		}
		return fn()
	default:
		return domain.ErrInvalidExecContext
	}
}

type TxManager struct {
	store *Store
}

func NewTxManager(store *Store) *TxManager {
	return &TxManager{store: store}
}

var _ repository.TransactionManager = (*TxManager)(nil)

// WithTx snapshots the store and restores it if fn fails.
func (m *TxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make(map[string]jobRow, len(s.jobs))
	for k, v := range s.jobs {
		jobs[k] = jobRow{job: *v.job.Clone(), seq: v.seq}
	}
	cache := make(map[string]model.CacheEntry, len(s.cache))
	for k, v := range s.cache {
		v.Payload = v.Payload.Clone()
		cache[k] = v
	}
	seq := s.seq

	if err := fn(ctx, &memTx{store: s}); err != nil {
		s.jobs, s.cache, s.seq = jobs, cache, seq
		return err
	}
	return nil
}
