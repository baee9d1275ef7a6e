package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-learning-plans/internal/domain"
	"ai-learning-plans/internal/domain/model"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, model.AllJobTypes, r.Missing())

	assert.ErrorIs(t, r.Register("send_email", okHandler()), domain.ErrInvalidJobType)
	assert.ErrorIs(t, r.Register(model.JobTypePlanGeneration, nil), domain.ErrInvalidArgument)

	require.NoError(t, r.Register(model.JobTypePlanRegeneration, okHandler()))
	require.NoError(t, r.Register(model.JobTypePlanGeneration, okHandler()))
	assert.Empty(t, r.Missing())
	assert.Equal(t, []model.JobType{model.JobTypePlanGeneration, model.JobTypePlanRegeneration}, r.Types())

	h, ok := r.Lookup(model.JobTypePlanGeneration)
	require.True(t, ok)
	out := h.ProcessJob(context.Background(), &model.Job{})
	assert.Equal(t, model.OutcomeSuccess, out.Status)
}

func TestRetryWithBackoff(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, BackoffMultiplier: 2}

	t.Run("returns last error", func(t *testing.T) {
		calls := 0
		err := retryWithBackoff(context.Background(), cfg, func() error {
			calls++
			return errors.New("down")
		})
		assert.EqualError(t, err, "down")
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on success", func(t *testing.T) {
		calls := 0
		err := retryWithBackoff(context.Background(), cfg, func() error {
			calls++
			if calls < 2 {
				return errors.New("blip")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("honours context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		long := RetryConfig{MaxAttempts: 5, InitialBackoff: time.Hour, BackoffMultiplier: 2}
		err := retryWithBackoff(ctx, long, func() error { return errors.New("down") })
		assert.ErrorIs(t, err, context.Canceled)
	})
}
