// File: internal/usecase/job_queue_uc.go
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"ai-learning-plans/internal/domain"
	"ai-learning-plans/internal/domain/model"
	"ai-learning-plans/internal/domain/ports/adapter"
	"ai-learning-plans/internal/domain/ports/repository"
	ucport "ai-learning-plans/internal/domain/ports/usecase"
	"ai-learning-plans/internal/infra/logging"
	"ai-learning-plans/internal/infra/metrics"
)

var _ ucport.JobQueueManager = (*JobQueueUseCase)(nil)

// Statuses counted against a user's generation quota. Failed rows are free.
var quotaStatuses = []model.JobStatus{
	model.JobStatusPending,
	model.JobStatusProcessing,
	model.JobStatusCompleted,
}

type QueueSettings struct {
	MaxAttempts int
	BackoffBase float64
	BackoffCap  time.Duration
}

// JobQueueUseCase owns every job state transition. Row locking is delegated to the repository.
type JobQueueUseCase struct {
	jobs  repository.JobRepository
	tm    repository.TransactionManager
	clock adapter.Clock
	cfg   QueueSettings
	newID func() string

	log *zerolog.Logger
}

func NewJobQueueUseCase(jobs repository.JobRepository, tm repository.TransactionManager, clock adapter.Clock, cfg QueueSettings, logger *zerolog.Logger) *JobQueueUseCase {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 1 {
		cfg.BackoffBase = 2
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 60 * time.Second
	}
	l := logger.With().Str("component", "job_queue").Logger()
	return &JobQueueUseCase{
		jobs:  jobs,
		tm:    tm,
		clock: clock,
		cfg:   cfg,
		newID: uuid.NewString,
		log:   &l,
	}
}

// Backoff is the delay before retry number attempts.
func (uc *JobQueueUseCase) Backoff(attempts int) time.Duration {
	return model.RetryBackoff(attempts, uc.cfg.BackoffBase, uc.cfg.BackoffCap)
}

// Enqueue inserts a pending job. A plan_regeneration for a plan that already has an
// active regeneration returns the existing job id instead.
func (uc *JobQueueUseCase) Enqueue(ctx context.Context, p ucport.EnqueueParams) (string, error) {
	if !p.Type.Valid() {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidJobType, p.Type)
	}
	if p.UserID == "" {
		return "", fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = uc.cfg.MaxAttempts
	}

	now := uc.clock.Now()
	job := &model.Job{
		ID:           uc.newID(),
		Type:         p.Type,
		PlanID:       p.PlanID,
		UserID:       p.UserID,
		Status:       model.JobStatusPending,
		Priority:     p.Priority,
		MaxAttempts:  maxAttempts,
		Payload:      p.Payload,
		ScheduledFor: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	log := uc.log.With().Str("job_type", string(p.Type)).Str("user_id", p.UserID).Logger()

	if p.Type.Deduplicated() && p.PlanID != nil {
		id, deduped, err := uc.enqueueDeduplicated(ctx, job)
		if err != nil {
			return "", err
		}
		if deduped {
			metrics.IncJobDeduplicated(string(p.Type))
			log.Debug().Str("job_id", id).Str("plan_id", *p.PlanID).Msg("regeneration already active")
			return id, nil
		}
		metrics.IncJobEnqueued(string(p.Type))
		log.Info().Str("job_id", id).Str("plan_id", *p.PlanID).Int("priority", p.Priority).Msg("job enqueued")
		return id, nil
	}

	if err := uc.jobs.Insert(ctx, repository.NoTX, job); err != nil {
		return "", uc.insertErr(err)
	}
	metrics.IncJobEnqueued(string(p.Type))
	log.Info().Str("job_id", job.ID).Int("priority", p.Priority).Msg("job enqueued")
	return job.ID, nil
}

func (uc *JobQueueUseCase) enqueueDeduplicated(ctx context.Context, job *model.Job) (string, bool, error) {
	var (
		id      string
		deduped bool
	)
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.jobs.LockPlan(ctx, tx, *job.PlanID); err != nil {
			return err
		}
		existing, err := uc.jobs.FindActiveByPlan(ctx, tx, *job.PlanID, job.Type)
		if err == nil {
			id, deduped = existing.ID, true
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err := uc.jobs.Insert(ctx, tx, job); err != nil {
			return uc.insertErr(err)
		}
		id = job.ID
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return id, deduped, nil
}

func (uc *JobQueueUseCase) insertErr(err error) error {
	if errors.Is(err, domain.ErrEnqueueFailure) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrEnqueueFailure, err)
}

// ClaimNextPending moves the best eligible job to processing. (nil, nil) means nothing to do.
func (uc *JobQueueUseCase) ClaimNextPending(ctx context.Context, types []model.JobType) (*model.Job, error) {
	if err := model.ValidateJobTypes(types); err != nil {
		return nil, err
	}
	var claimed *model.Job
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		now := uc.clock.Now()
		job, err := uc.jobs.FindNextPending(ctx, tx, types, now)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return err
		}
		job.Status = model.JobStatusProcessing
		job.StartedAt = &now
		job.UpdatedAt = now
		if err := uc.jobs.Update(ctx, tx, job); err != nil {
			return err
		}
		claimed = job
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if claimed != nil {
		metrics.IncJobClaimed(string(claimed.Type))
		uc.log.Debug().Str("job_id", claimed.ID).Str("job_type", string(claimed.Type)).Int("priority", claimed.Priority).Msg("job claimed")
	}
	return claimed, nil
}

// CompleteJob marks a job completed. Terminal jobs come back unchanged; unknown ids give (nil, nil).
func (uc *JobQueueUseCase) CompleteJob(ctx context.Context, id string, result json.RawMessage) (*model.Job, error) {
	var out *model.Job
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		job, err := uc.jobs.FindByID(ctx, tx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return err
		}
		if job.Status.Terminal() {
			out = job
			return nil
		}
		now := uc.clock.Now()
		job.Status = model.JobStatusCompleted
		job.Result = result
		job.Error = nil
		job.CompletedAt = &now
		job.UpdatedAt = now
		if err := uc.jobs.Update(ctx, tx, job); err != nil {
			return err
		}
		out = job
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("complete job %s: %w", id, err)
	}
	return out, nil
}

// FailJob records a failed attempt and either schedules a retry or fails the job for good.
// An explicit opts.Retryable wins over the attempt-count heuristic.
func (uc *JobQueueUseCase) FailJob(ctx context.Context, id, errMsg string, opts ucport.FailOptions) (*model.Job, error) {
	var (
		out     *model.Job
		changed bool
	)
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		job, err := uc.jobs.FindByID(ctx, tx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return err
		}
		if job.Status.Terminal() {
			out = job
			return nil
		}

		now := uc.clock.Now()
		next := job.Attempts + 1
		reachedMax := next >= job.MaxAttempts
		retry := !reachedMax
		if opts.Retryable != nil {
			retry = *opts.Retryable
		}

		job.Attempts = next
		job.Payload = job.Payload.WithError(model.JobErrorEntry{Attempt: next, Error: errMsg, Timestamp: now})
		job.UpdatedAt = now
		if retry {
			job.Status = model.JobStatusPending
			job.Error = nil
			job.Result = nil
			job.StartedAt = nil
			job.CompletedAt = nil
			job.ScheduledFor = now.Add(uc.Backoff(next))
		} else {
			msg := errMsg
			job.Status = model.JobStatusFailed
			job.Error = &msg
			job.CompletedAt = &now
		}
		if err := uc.jobs.Update(ctx, tx, job); err != nil {
			return err
		}
		out, changed = job, true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fail job %s: %w", id, err)
	}
	if changed {
		l := logging.With(logging.WithJobID(ctx, out.ID), uc.log)
		if out.Status == model.JobStatusPending {
			l.Warn().Int("attempt", out.Attempts).Time("retry_at", out.ScheduledFor).Str("error", errMsg).Msg("job failed, retry scheduled")
		} else {
			l.Error().Int("attempt", out.Attempts).Str("error", errMsg).Msg("job failed permanently")
		}
	}
	return out, nil
}

func (uc *JobQueueUseCase) GetJob(ctx context.Context, id string) (*model.Job, error) {
	job, err := uc.jobs.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

func (uc *JobQueueUseCase) Stats(ctx context.Context) (model.JobStats, error) {
	return uc.jobs.Stats(ctx, repository.NoTX)
}

// ListFailed returns the most recently failed jobs, newest first.
func (uc *JobQueueUseCase) ListFailed(ctx context.Context, limit int) ([]*model.Job, error) {
	return uc.jobs.ListByStatus(ctx, repository.NoTX, model.JobStatusFailed, limit)
}

func (uc *JobQueueUseCase) ListByPlan(ctx context.Context, planID string) ([]*model.Job, error) {
	return uc.jobs.ListByPlan(ctx, repository.NoTX, planID)
}

// CountUserGenerations counts generation and regeneration jobs created since the given
// time that are pending, processing or completed. This is the single quota policy.
func (uc *JobQueueUseCase) CountUserGenerations(ctx context.Context, userID string, since time.Time) (int, error) {
	return uc.jobs.CountByUser(ctx, repository.NoTX, userID, model.AllJobTypes, quotaStatuses, since)
}

// CleanupOldJobs deletes terminal jobs that finished more than olderThan ago.
func (uc *JobQueueUseCase) CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("%w: retention must be positive", domain.ErrInvalidArgument)
	}
	cutoff := uc.clock.Now().Add(-olderThan)
	n, err := uc.jobs.DeleteFinishedBefore(ctx, repository.NoTX, cutoff)
	if err != nil {
		return 0, err
	}
	metrics.AddJobsCleaned(n)
	if n > 0 {
		uc.log.Info().Int("deleted", n).Time("cutoff", cutoff).Msg("old jobs cleaned up")
	}
	return n, nil
}
