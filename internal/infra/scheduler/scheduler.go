package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"ai-learning-plans/internal/domain"
	"ai-learning-plans/internal/infra/metrics"
)

// Task is one periodic maintenance job.
type Task interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler runs tasks on cron specs. Each run gets its own timeout and a task never
// overlaps with itself.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
	log     *zerolog.Logger

	mu      sync.Mutex
	tasks   map[string]Task
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// parser accepts standard five-field specs plus descriptors such as "@every 1h".
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewScheduler builds a stopped scheduler. timeout <= 0 defaults to one minute.
func NewScheduler(timeout time.Duration, logger *zerolog.Logger) *Scheduler {
	if timeout <= 0 {
		timeout = time.Minute
	}
	l := logger.With().Str("component", "scheduler").Logger()
	s := &Scheduler{timeout: timeout, log: &l, tasks: make(map[string]Task)}
	cl := cronLogger{log: &l}
	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return s
}

// Add schedules task on a cron expression. Names must be unique.
func (s *Scheduler) Add(spec string, task Task) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("%w: schedule %q for %s: %v", domain.ErrInvalidArgument, spec, task.Name(), err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.tasks[task.Name()]; dup {
		return fmt.Errorf("%w: task %s", domain.ErrAlreadyExists, task.Name())
	}
	if _, err := s.cron.AddFunc(spec, func() { _ = s.run(task) }); err != nil {
		return err
	}
	s.tasks[task.Name()] = task
	s.log.Info().Str("task", task.Name()).Str("spec", spec).Msg("task scheduled")
	return nil
}

// Start begins firing tasks. Calling Start on a running scheduler has no effect.
func (s *Scheduler) Start(parent context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(parent)
	s.started = true
	s.cron.Start()
	s.log.Info().Int("tasks", len(s.tasks)).Dur("run_timeout", s.timeout).Msg("scheduler started")
}

// Stop cancels running tasks and waits for them to return. It is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	<-s.cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// RunNow runs the named task once, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	task, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: task %s", domain.ErrNotFound, name)
	}
	return s.runWith(ctx, task)
}

func (s *Scheduler) run(task Task) error {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	return s.runWith(ctx, task)
}

func (s *Scheduler) runWith(parent context.Context, task Task) error {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	start := time.Now()
	err := task.Run(ctx)
	d := time.Since(start)
	metrics.ObserveSchedulerRun(task.Name(), err == nil, d)
	if err != nil {
		s.log.Error().Err(err).Str("task", task.Name()).Dur("duration", d).Msg("task failed")
		return err
	}
	s.log.Debug().Str("task", task.Name()).Dur("duration", d).Msg("task finished")
	return nil
}

// cronLogger routes robfig/cron's logging into zerolog.
type cronLogger struct {
	log *zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
