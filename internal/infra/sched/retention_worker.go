package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// JobCleaner is the slice of the job queue the retention task needs.
type JobCleaner interface {
	CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int, error)
}

// RetentionWorker deletes finished jobs older than the retention age.
type RetentionWorker struct {
	jobs JobCleaner
	age  time.Duration
	log  *zerolog.Logger
}

func NewRetentionWorker(jobs JobCleaner, age time.Duration, logger *zerolog.Logger) *RetentionWorker {
	l := logger.With().Str("component", "RetentionWorker").Logger()
	return &RetentionWorker{jobs: jobs, age: age, log: &l}
}

func (w *RetentionWorker) Name() string { return "job_retention" }

func (w *RetentionWorker) Run(ctx context.Context) error {
	n, err := w.jobs.CleanupOldJobs(ctx, w.age)
	if err != nil {
		return err
	}
	if n > 0 {
		w.log.Info().Int("count", n).Dur("age", w.age).Msg("finished jobs removed")
	}
	return nil
}
