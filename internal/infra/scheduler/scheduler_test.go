package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-learning-plans/internal/domain"
)

type countingTask struct {
	name string
	runs atomic.Int32
	run  func(ctx context.Context) error
}

func (c *countingTask) Name() string { return c.name }

func (c *countingTask) Run(ctx context.Context) error {
	c.runs.Add(1)
	if c.run != nil {
		return c.run(ctx)
	}
	return nil
}

func newTestScheduler(timeout time.Duration) *Scheduler {
	nop := zerolog.Nop()
	return NewScheduler(timeout, &nop)
}

func TestScheduler_AddValidates(t *testing.T) {
	s := newTestScheduler(time.Second)
	assert.ErrorIs(t, s.Add("every tuesday", &countingTask{name: "x"}), domain.ErrInvalidArgument)

	require.NoError(t, s.Add("@every 1h", &countingTask{name: "x"}))
	require.NoError(t, s.Add("*/5 * * * *", &countingTask{name: "y"}))
	assert.ErrorIs(t, s.Add("@every 2h", &countingTask{name: "x"}), domain.ErrAlreadyExists)
}

func TestScheduler_RunNowAppliesTimeout(t *testing.T) {
	s := newTestScheduler(20 * time.Millisecond)
	task := &countingTask{name: "slow", run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	require.NoError(t, s.Add("@every 1h", task))

	err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), task.runs.Load())

	assert.ErrorIs(t, s.RunNow(context.Background(), "missing"), domain.ErrNotFound)
}

func TestScheduler_FiresOnSchedule(t *testing.T) {
	s := newTestScheduler(time.Second)
	task := &countingTask{name: "tick"}
	require.NoError(t, s.Add("@every 1s", task))

	s.Start(context.Background())
	s.Start(context.Background())
	require.Eventually(t, func() bool { return task.runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	s.Stop()
	s.Stop()

	after := task.runs.Load()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, after, task.runs.Load(), "no runs after Stop")
}

func TestScheduler_StopCancelsRunningTask(t *testing.T) {
	s := newTestScheduler(time.Minute)
	started := make(chan struct{})
	var gotErr atomic.Value
	task := &countingTask{name: "long", run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		gotErr.Store(ctx.Err())
		return ctx.Err()
	}}
	require.NoError(t, s.Add("@every 1s", task))
	s.Start(context.Background())

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("task never started")
	}
	s.Stop()
	err, _ := gotErr.Load().(error)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}
