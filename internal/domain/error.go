package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")

	// Job queue
	ErrInvalidJobType = errors.New("invalid job type")
	ErrEnqueueFailure = errors.New("enqueue failed: no job id returned")
	ErrInvalidPayload = errors.New("invalid job payload")
	ErrHandlerPanic   = errors.New("job handler panicked")
	ErrNoHandler      = errors.New("no handler registered for job type")
	ErrPoolRunning    = errors.New("worker pool is not stopped")

	// Priority
	ErrUnknownTier = errors.New("unknown subscription tier")

	// Resource cache
	ErrUnknownCacheStage = errors.New("unknown cache stage")
	ErrLockNotAcquired   = errors.New("could not acquire cache key lock")

	// Executors / rate limiting
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrRateLimited        = errors.New("rate limit exceeded")
)
