package usecase

import (
	"context"
	"encoding/json"
	"time"

	"ai-learning-plans/internal/domain/model"
)

// EnqueueParams describes one job request. MaxAttempts <= 0 uses the queue default.
type EnqueueParams struct {
	Type        model.JobType
	PlanID      *string
	UserID      string
	Payload     model.JobPayload
	Priority    int
	MaxAttempts int
}

// FailOptions carries the caller's retry decision; nil Retryable defers to the attempt count.
type FailOptions struct {
	Retryable *bool
}

// JobQueue is what workers need from the queue.
type JobQueue interface {
	ClaimNextPending(ctx context.Context, types []model.JobType) (*model.Job, error)
	CompleteJob(ctx context.Context, id string, result json.RawMessage) (*model.Job, error)
	FailJob(ctx context.Context, id, errMsg string, opts FailOptions) (*model.Job, error)
}

// JobQueueManager adds the producer and admin operations.
type JobQueueManager interface {
	JobQueue
	Enqueue(ctx context.Context, p EnqueueParams) (string, error)
	GetJob(ctx context.Context, id string) (*model.Job, error)
	Stats(ctx context.Context) (model.JobStats, error)
	ListFailed(ctx context.Context, limit int) ([]*model.Job, error)
	ListByPlan(ctx context.Context, planID string) ([]*model.Job, error)
	CountUserGenerations(ctx context.Context, userID string, since time.Time) (int, error)
	CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int, error)
}
