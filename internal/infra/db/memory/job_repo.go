package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ai-learning-plans/internal/domain"
	"ai-learning-plans/internal/domain/model"
	"ai-learning-plans/internal/domain/ports/repository"
)

type JobRepo struct {
	store *Store
}

func NewJobRepo(store *Store) *JobRepo {
	return &JobRepo{store: store}
}

var _ repository.JobRepository = (*JobRepo)(nil)

func (r *JobRepo) Insert(ctx context.Context, tx repository.Tx, job *model.Job) error {
	return r.store.run(tx, func() error {
		if _, ok := r.store.jobs[job.ID]; ok {
			return fmt.Errorf("insert job %s: %w", job.ID, domain.ErrAlreadyExists)
		}
		r.store.seq++
		r.store.jobs[job.ID] = jobRow{job: *job.Clone(), seq: r.store.seq}
		return nil
	})
}

func (r *JobRepo) Update(ctx context.Context, tx repository.Tx, job *model.Job) error {
	return r.store.run(tx, func() error {
		row, ok := r.store.jobs[job.ID]
		if !ok {
			return fmt.Errorf("update job %s: %w", job.ID, domain.ErrNotFound)
		}
		row.job = *job.Clone()
		r.store.jobs[job.ID] = row
		return nil
	})
}

func (r *JobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	var out *model.Job
	err := r.store.run(tx, func() error {
		row, ok := r.store.jobs[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = row.job.Clone()
		return nil
	})
	return out, err
}

// LockPlan is a no-op: the transaction already holds the store lock.
func (r *JobRepo) LockPlan(ctx context.Context, tx repository.Tx, planID string) error {
	return r.store.run(tx, func() error { return nil })
}

func (r *JobRepo) FindActiveByPlan(ctx context.Context, tx repository.Tx, planID string, t model.JobType) (*model.Job, error) {
	var out *model.Job
	err := r.store.run(tx, func() error {
		var best *jobRow
		for _, row := range r.store.jobs {
			row := row
			j := row.job
			if j.PlanID == nil || *j.PlanID != planID || j.Type != t {
				continue
			}
			if j.Status != model.JobStatusPending && j.Status != model.JobStatusProcessing {
				continue
			}
			if best == nil || j.CreatedAt.After(best.job.CreatedAt) ||
				(j.CreatedAt.Equal(best.job.CreatedAt) && row.seq > best.seq) {
				best = &row
			}
		}
		if best == nil {
			return domain.ErrNotFound
		}
		out = best.job.Clone()
		return nil
	})
	return out, err
}

func (r *JobRepo) FindNextPending(ctx context.Context, tx repository.Tx, types []model.JobType, now time.Time) (*model.Job, error) {
	allowed := make(map[model.JobType]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	var out *model.Job
	err := r.store.run(tx, func() error {
		var best *jobRow
		for _, row := range r.store.jobs {
			row := row
			j := row.job
			if j.Status != model.JobStatusPending || !allowed[j.Type] || j.ScheduledFor.After(now) {
				continue
			}
			if best == nil || claimsBefore(row, *best) {
				best = &row
			}
		}
		if best == nil {
			return domain.ErrNotFound
		}
		out = best.job.Clone()
		return nil
	})
	return out, err
}

// claimsBefore orders by priority desc, created_at asc, insertion order asc.
func claimsBefore(a, b jobRow) bool {
	if a.job.Priority != b.job.Priority {
		return a.job.Priority > b.job.Priority
	}
	if !a.job.CreatedAt.Equal(b.job.CreatedAt) {
		return a.job.CreatedAt.Before(b.job.CreatedAt)
	}
	return a.seq < b.seq
}

func (r *JobRepo) Stats(ctx context.Context, tx repository.Tx) (model.JobStats, error) {
	stats := model.NewJobStats()
	err := r.store.run(tx, func() error {
		for _, row := range r.store.jobs {
			stats.Add(row.job.Type, row.job.Status, 1)
		}
		return nil
	})
	return stats, err
}

func (r *JobRepo) ListByStatus(ctx context.Context, tx repository.Tx, status model.JobStatus, limit int) ([]*model.Job, error) {
	var rows []jobRow
	err := r.store.run(tx, func() error {
		for _, row := range r.store.jobs {
			if row.job.Status == status {
				rows = append(rows, jobRow{job: *row.job.Clone(), seq: row.seq})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// newest first
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].job.UpdatedAt.Equal(rows[j].job.UpdatedAt) {
			return rows[i].job.UpdatedAt.After(rows[j].job.UpdatedAt)
		}
		return rows[i].seq > rows[j].seq
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return toJobs(rows), nil
}

func (r *JobRepo) ListByPlan(ctx context.Context, tx repository.Tx, planID string) ([]*model.Job, error) {
	var rows []jobRow
	err := r.store.run(tx, func() error {
		for _, row := range r.store.jobs {
			if row.job.PlanID != nil && *row.job.PlanID == planID {
				rows = append(rows, jobRow{job: *row.job.Clone(), seq: row.seq})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].job.CreatedAt.Equal(rows[j].job.CreatedAt) {
			return rows[i].job.CreatedAt.After(rows[j].job.CreatedAt)
		}
		return rows[i].seq > rows[j].seq
	})
	return toJobs(rows), nil
}

func (r *JobRepo) CountByUser(ctx context.Context, tx repository.Tx, userID string, types []model.JobType, statuses []model.JobStatus, since time.Time) (int, error) {
	n := 0
	err := r.store.run(tx, func() error {
		for _, row := range r.store.jobs {
			j := row.job
			if j.UserID != userID || j.CreatedAt.Before(since) {
				continue
			}
			if containsType(types, j.Type) && containsStatus(statuses, j.Status) {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *JobRepo) DeleteFinishedBefore(ctx context.Context, tx repository.Tx, cutoff time.Time) (int, error) {
	n := 0
	err := r.store.run(tx, func() error {
		for id, row := range r.store.jobs {
			j := row.job
			if j.Status.Terminal() && j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
				delete(r.store.jobs, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

func toJobs(rows []jobRow) []*model.Job {
	out := make([]*model.Job, len(rows))
	for i := range rows {
		j := rows[i].job
		out[i] = &j
	}
	return out
}

func containsType(types []model.JobType, t model.JobType) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}

func containsStatus(statuses []model.JobStatus, s model.JobStatus) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}
