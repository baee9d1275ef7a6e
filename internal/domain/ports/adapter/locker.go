package adapter

import "context"

// KeyLocker serialises work on one key across every process sharing the backend.
// fn runs while the lock is held; the lock is released when fn returns.
type KeyLocker interface {
	WithKeyLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}
