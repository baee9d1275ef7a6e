package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"ai-learning-plans/internal/domain"
	"ai-learning-plans/internal/domain/model"
	"ai-learning-plans/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*PostgresJobRepo)(nil)

type PostgresJobRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresJobRepo(pool *pgxpool.Pool) *PostgresJobRepo {
	return &PostgresJobRepo{pool: pool}
}

const jobColumns = `id, job_type, plan_id, user_id, status, priority, attempts, max_attempts,
       payload, scheduled_for, result, error, created_at, updated_at, started_at, completed_at`

func (r *PostgresJobRepo) Insert(ctx context.Context, tx repository.Tx, job *model.Job) error {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	const sql = `
INSERT INTO jobs (id, job_type, plan_id, user_id, status, priority, attempts, max_attempts,
                  payload, scheduled_for, result, error, created_at, updated_at, started_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
RETURNING id;`
	var id string
	err = ex.QueryRow(ctx, sql,
		job.ID, string(job.Type), job.PlanID, job.UserID, string(job.Status), job.Priority, job.Attempts, job.MaxAttempts,
		string(payload), job.ScheduledFor, nullJSON(job.Result), job.Error, job.CreatedAt, job.UpdatedAt, job.StartedAt, job.CompletedAt,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert job %s: %w", job.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	if id == "" {
		return domain.ErrEnqueueFailure
	}
	return nil
}

func (r *PostgresJobRepo) Update(ctx context.Context, tx repository.Tx, job *model.Job) error {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	const sql = `
UPDATE jobs
   SET status = $2, priority = $3, attempts = $4, max_attempts = $5, payload = $6,
       scheduled_for = $7, result = $8, error = $9, updated_at = $10, started_at = $11, completed_at = $12
 WHERE id = $1;`
	ct, err := ex.Exec(ctx, sql,
		job.ID, string(job.Status), job.Priority, job.Attempts, job.MaxAttempts, string(payload),
		job.ScheduledFor, nullJSON(job.Result), job.Error, job.UpdatedAt, job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("update job %s: %w", job.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *PostgresJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	sql := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	if tx != nil {
		sql += ` FOR UPDATE`
	}
	j, err := scanJob(ex.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find job %s: %w", id, err)
	}
	return j, nil
}

// LockPlan takes a plan-scoped advisory lock and, when the plan row exists, its row lock.
// The advisory lock covers plans whose row has not been written yet.
func (r *PostgresJobRepo) LockPlan(ctx context.Context, tx repository.Tx, planID string) error {
	t, err := requireTx(tx)
	if err != nil {
		return err
	}
	if _, err := t.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", hashToInt64("plan:"+planID)); err != nil {
		return fmt.Errorf("lock plan %s: %w", planID, err)
	}
	var id string
	err = t.QueryRow(ctx, `SELECT id FROM learning_plans WHERE id = $1 FOR UPDATE`, planID).Scan(&id)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("lock plan row %s: %w", planID, err)
	}
	return nil
}

func (r *PostgresJobRepo) FindActiveByPlan(ctx context.Context, tx repository.Tx, planID string, t model.JobType) (*model.Job, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	sql := `SELECT ` + jobColumns + `
  FROM jobs
 WHERE plan_id = $1 AND job_type = $2 AND status IN ('pending', 'processing')
 ORDER BY created_at DESC, seq DESC
 LIMIT 1`
	if tx != nil {
		sql += ` FOR UPDATE`
	}
	j, err := scanJob(ex.QueryRow(ctx, sql, planID, string(t)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find active job for plan %s: %w", planID, err)
	}
	return j, nil
}

func (r *PostgresJobRepo) FindNextPending(ctx context.Context, tx repository.Tx, types []model.JobType, now time.Time) (*model.Job, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	const sql = `
SELECT ` + jobColumns + `
  FROM jobs
 WHERE status = 'pending' AND job_type = ANY($1) AND scheduled_for <= $2
 ORDER BY priority DESC, created_at ASC, seq ASC
 LIMIT 1
 FOR UPDATE SKIP LOCKED;`
	j, err := scanJob(ex.QueryRow(ctx, sql, jobTypeStrings(types), now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	return j, nil
}

func (r *PostgresJobRepo) Stats(ctx context.Context, tx repository.Tx) (model.JobStats, error) {
	stats := model.NewJobStats()
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return stats, err
	}
	rows, err := ex.Query(ctx, `SELECT job_type, status, COUNT(*) FROM jobs GROUP BY job_type, status`)
	if err != nil {
		return stats, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var jt, st string
		var n int
		if err := rows.Scan(&jt, &st, &n); err != nil {
			return stats, err
		}
		stats.Add(model.JobType(jt), model.JobStatus(st), n)
	}
	return stats, rows.Err()
}

func (r *PostgresJobRepo) ListByStatus(ctx context.Context, tx repository.Tx, status model.JobStatus, limit int) ([]*model.Job, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	sql := `SELECT ` + jobColumns + ` FROM jobs WHERE status = $1 ORDER BY updated_at DESC, seq DESC`
	args := []interface{}{string(status)}
	if limit > 0 {
		sql += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := ex.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s jobs: %w", status, err)
	}
	return collectJobs(rows)
}

func (r *PostgresJobRepo) ListByPlan(ctx context.Context, tx repository.Tx, planID string) ([]*model.Job, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE plan_id = $1 ORDER BY created_at DESC, seq DESC`, planID)
	if err != nil {
		return nil, fmt.Errorf("list jobs for plan %s: %w", planID, err)
	}
	return collectJobs(rows)
}

func (r *PostgresJobRepo) CountByUser(ctx context.Context, tx repository.Tx, userID string, types []model.JobType, statuses []model.JobStatus, since time.Time) (int, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return 0, err
	}
	sts := make([]string, len(statuses))
	for i, s := range statuses {
		sts[i] = string(s)
	}
	const sql = `
SELECT COUNT(1) FROM jobs
 WHERE user_id = $1 AND job_type = ANY($2) AND status = ANY($3) AND created_at >= $4;`
	var n int
	if err := ex.QueryRow(ctx, sql, userID, jobTypeStrings(types), sts, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count jobs for user %s: %w", userID, err)
	}
	return n, nil
}

func (r *PostgresJobRepo) DeleteFinishedBefore(ctx context.Context, tx repository.Tx, cutoff time.Time) (int, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return 0, err
	}
	ct, err := ex.Exec(ctx, `DELETE FROM jobs WHERE status IN ('completed', 'failed') AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete finished jobs: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var (
		j       model.Job
		jt, st  string
		payload []byte
		result  []byte
	)
	err := row.Scan(
		&j.ID, &jt, &j.PlanID, &j.UserID, &st, &j.Priority, &j.Attempts, &j.MaxAttempts,
		&payload, &j.ScheduledFor, &result, &j.Error, &j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Type = model.JobType(jt)
	j.Status = model.JobStatus(st)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &j.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of job %s: %w", j.ID, err)
		}
	}
	if result != nil {
		j.Result = json.RawMessage(result)
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*model.Job, error) {
	defer rows.Close()
	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func jobTypeStrings(types []model.JobType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

// nullJSON keeps an absent result as SQL NULL. JSON is sent as text.
func nullJSON(b json.RawMessage) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
