package memory

import (
	"context"
	"sync"

	"ai-learning-plans/internal/domain/ports/adapter"
)

// KeyLocker is a per-key mutex map. Entries are reference counted and
// dropped when the last holder or waiter leaves.
type KeyLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewKeyLocker() *KeyLocker {
	return &KeyLocker{locks: make(map[string]*keyLock)}
}

var _ adapter.KeyLocker = (*KeyLocker)(nil)

func (l *KeyLocker) WithKeyLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()
	defer l.release(key, kl)

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-kl.ch }()
	return fn(ctx)
}

func (l *KeyLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}
