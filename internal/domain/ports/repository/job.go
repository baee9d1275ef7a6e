package repository

import (
	"context"
	"time"

	"ai-learning-plans/internal/domain/model"
)

// JobRepository persists queue rows. Lookups return domain.ErrNotFound when
// nothing matches. Reads made with a non-nil tx lock the returned rows.
type JobRepository interface {
	Insert(ctx context.Context, tx Tx, job *model.Job) error
	Update(ctx context.Context, tx Tx, job *model.Job) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Job, error)

	// LockPlan serialises enqueues for one plan until tx ends.
	LockPlan(ctx context.Context, tx Tx, planID string) error
	// FindActiveByPlan returns the newest pending or processing job of type t for planID.
	FindActiveByPlan(ctx context.Context, tx Tx, planID string, t model.JobType) (*model.Job, error)
	// FindNextPending returns the best eligible pending job, skipping rows locked by other claimers.
	FindNextPending(ctx context.Context, tx Tx, types []model.JobType, now time.Time) (*model.Job, error)

	Stats(ctx context.Context, tx Tx) (model.JobStats, error)
	ListByStatus(ctx context.Context, tx Tx, status model.JobStatus, limit int) ([]*model.Job, error)
	ListByPlan(ctx context.Context, tx Tx, planID string) ([]*model.Job, error)
	CountByUser(ctx context.Context, tx Tx, userID string, types []model.JobType, statuses []model.JobStatus, since time.Time) (int, error)
	// DeleteFinishedBefore removes terminal rows completed before cutoff.
	DeleteFinishedBefore(ctx context.Context, tx Tx, cutoff time.Time) (int, error)
}
