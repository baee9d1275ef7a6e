//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-learning-plans/internal/domain/model"
	ucport "ai-learning-plans/internal/domain/ports/usecase"
	"ai-learning-plans/internal/infra/clock"
	"ai-learning-plans/internal/usecase"
)

func newQueue(t *testing.T, clk *clock.Fake) *usecase.JobQueueUseCase {
	t.Helper()
	nop := zerolog.Nop()
	return usecase.NewJobQueueUseCase(NewPostgresJobRepo(testPool), NewTxManager(testPool), clk,
		usecase.QueueSettings{MaxAttempts: 3, BackoffBase: 2, BackoffCap: time.Minute}, &nop)
}

func TestJobRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("claims by priority then FIFO", func(t *testing.T) {
		cleanup(t)
		clk := clock.NewFake(start)
		q := newQueue(t, clk)
		want := map[int][]string{}
		for _, p := range []int{5, 10, 0, 10, 5} {
			id, err := q.Enqueue(ctx, ucport.EnqueueParams{Type: model.JobTypePlanGeneration, UserID: "u", Priority: p})
			require.NoError(t, err)
			want[p] = append(want[p], id)
			clk.Advance(time.Millisecond)
		}
		order := append(append(append([]string{}, want[10]...), want[5]...), want[0]...)
		for i, id := range order {
			j, err := q.ClaimNextPending(ctx, model.AllJobTypes)
			require.NoError(t, err)
			require.NotNil(t, j, "claim %d", i)
			require.Equal(t, id, j.ID, "claim %d (priority %d)", i, j.Priority)
		}
		j, err := q.ClaimNextPending(ctx, model.AllJobTypes)
		require.NoError(t, err)
		assert.Nil(t, j, "queue should be empty")
	})

	t.Run("concurrent claims are exclusive", func(t *testing.T) {
		cleanup(t)
		q := newQueue(t, clock.NewFake(start))
		const n = 30
		for i := 0; i < n; i++ {
			_, err := q.Enqueue(ctx, ucport.EnqueueParams{Type: model.JobTypePlanGeneration, UserID: "u"})
			require.NoError(t, err)
		}
		var (
			mu   sync.Mutex
			seen = map[string]int{}
			wg   sync.WaitGroup
		)
		for w := 0; w < 6; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					j, err := q.ClaimNextPending(ctx, model.AllJobTypes)
					if !assert.NoError(t, err) || j == nil {
						return
					}
					mu.Lock()
					seen[j.ID]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		require.Len(t, seen, n, "distinct jobs claimed")
		for id, c := range seen {
			assert.Equal(t, 1, c, "job %s claim count", id)
		}
	})

	t.Run("retry then complete", func(t *testing.T) {
		cleanup(t)
		clk := clock.NewFake(start)
		q := newQueue(t, clk)
		id, err := q.Enqueue(ctx, ucport.EnqueueParams{Type: model.JobTypePlanGeneration, UserID: "u"})
		require.NoError(t, err)
		_, err = q.ClaimNextPending(ctx, model.AllJobTypes)
		require.NoError(t, err)
		j, err := q.FailJob(ctx, id, "upstream 503", ucport.FailOptions{})
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, j.Status)
		assert.Equal(t, 1, j.Attempts)

		got, err := q.ClaimNextPending(ctx, model.AllJobTypes)
		require.NoError(t, err)
		require.Nil(t, got, "job claimed before backoff elapsed")
		clk.Advance(3 * time.Second)
		got, err = q.ClaimNextPending(ctx, model.AllJobTypes)
		require.NoError(t, err)
		require.NotNil(t, got, "claim after backoff")

		done, err := q.CompleteJob(ctx, id, json.RawMessage(`{"ok":true}`))
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, done.Status)
		assert.Equal(t, 1, done.Attempts)
		require.Len(t, done.Payload.ErrorHistory, 1)
		assert.Equal(t, "upstream 503", done.Payload.ErrorHistory[0].Error)

		again, err := q.CompleteJob(ctx, id, json.RawMessage(`{"ok":false}`))
		require.NoError(t, err)
		assert.True(t, again.UpdatedAt.Equal(done.UpdatedAt), "second complete changed the row")
	})

	t.Run("regeneration dedup under concurrency", func(t *testing.T) {
		cleanup(t)
		q := newQueue(t, clock.NewFake(start))
		plan := "plan-1"
		ids := make([]string, 8)
		var wg sync.WaitGroup
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id, err := q.Enqueue(ctx, ucport.EnqueueParams{Type: model.JobTypePlanRegeneration, PlanID: &plan, UserID: "u"})
				assert.NoError(t, err)
				ids[i] = id
			}(i)
		}
		wg.Wait()
		for _, id := range ids[1:] {
			require.Equal(t, ids[0], id, "dedup returned different ids: %v", ids)
		}
		jobs, err := q.ListByPlan(ctx, plan)
		require.NoError(t, err)
		assert.Len(t, jobs, 1)
	})

	t.Run("stats quota and cleanup", func(t *testing.T) {
		cleanup(t)
		clk := clock.NewFake(start)
		q := newQueue(t, clk)
		var ids []string
		for i := 0; i < 3; i++ {
			id, err := q.Enqueue(ctx, ucport.EnqueueParams{Type: model.JobTypePlanGeneration, UserID: "quota", MaxAttempts: 1})
			require.NoError(t, err)
			ids = append(ids, id)
		}
		_, err := q.ClaimNextPending(ctx, model.AllJobTypes)
		require.NoError(t, err)
		_, err = q.FailJob(ctx, ids[0], "boom", ucport.FailOptions{})
		require.NoError(t, err)

		n, err := q.CountUserGenerations(ctx, "quota", start.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, n, "quota")
		st, err := q.Stats(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 3, st.Total)
		assert.EqualValues(t, 1, st.ByStatus[model.JobStatusFailed])
		failed, err := q.ListFailed(ctx, 10)
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, ids[0], failed[0].ID)

		clk.Advance(2 * time.Hour)
		deleted, err := q.CleanupOldJobs(ctx, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, deleted, "cleanup")
	})
}
