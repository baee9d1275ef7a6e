// File: internal/infra/worker/pool.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"ai-learning-plans/internal/domain"
	"ai-learning-plans/internal/domain/model"
	ucport "ai-learning-plans/internal/domain/ports/usecase"
	"ai-learning-plans/internal/infra/logging"
	"ai-learning-plans/internal/infra/metrics"
)

type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

type Config struct {
	Concurrency  int
	PollInterval time.Duration
	JobTypes     []model.JobType
	WorkerID     string
	Transition   RetryConfig
}

// Stats is a point-in-time snapshot of the pool counters.
type Stats struct {
	State         string `json:"state"`
	WorkerID      string `json:"workerId"`
	JobsStarted   int64  `json:"jobsStarted"`
	JobsCompleted int64  `json:"jobsCompleted"`
	JobsFailed    int64  `json:"jobsFailed"`
	InFlight      int64  `json:"inFlight"`
}

// Pool claims jobs from the queue and runs up to Concurrency of them at once.
type Pool struct {
	queue    ucport.JobQueue
	registry *Registry
	cfg      Config
	log      *zerolog.Logger

	mu       sync.Mutex
	state    State
	base     context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	running  sync.WaitGroup
	slotFree chan struct{}

	started   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	inFlight  atomic.Int64
}

func NewPool(queue ucport.JobQueue, registry *Registry, cfg Config, logger *zerolog.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if len(cfg.JobTypes) == 0 {
		cfg.JobTypes = model.AllJobTypes
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = ulid.Make().String()
	}
	if cfg.Transition.MaxAttempts <= 0 {
		cfg.Transition = DefaultRetryConfig()
	}
	l := logger.With().Str("component", "worker_pool").Str("worker_id", cfg.WorkerID).Logger()
	return &Pool{
		queue:    queue,
		registry: registry,
		cfg:      cfg,
		log:      &l,
		slotFree: make(chan struct{}, 1),
	}
}

func (p *Pool) WorkerID() string { return p.cfg.WorkerID }

// Start launches the poll loop. ctx values reach handlers but its cancellation does not.
func (p *Pool) Start(ctx context.Context) error {
	if err := model.ValidateJobTypes(p.cfg.JobTypes); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateStopped {
		return fmt.Errorf("%w: state %s", domain.ErrPoolRunning, p.state)
	}

	for _, t := range p.registry.Missing() {
		p.log.Warn().Str("job_type", string(t)).Msg("no handler registered, jobs of this type will fail")
	}

	p.base = logging.WithWorkerID(ctx, p.cfg.WorkerID)
	loopCtx, cancel := context.WithCancel(p.base)
	p.cancel = cancel
	p.loopDone = make(chan struct{})
	p.state = StateRunning

	go p.loop(loopCtx, p.loopDone)
	p.log.Info().Int("concurrency", p.cfg.Concurrency).Dur("poll_interval", p.cfg.PollInterval).Msg("worker pool started")
	return nil
}

// Stop stops claiming and blocks until every in-flight job has been persisted.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return
	}
	p.state = StateStopping
	p.cancel()
	done := p.loopDone
	p.mu.Unlock()

	<-done
	p.running.Wait()

	p.mu.Lock()
	p.state = StateStopped
	p.mu.Unlock()
	p.log.Info().Int64("completed", p.completed.Load()).Int64("failed", p.failed.Load()).Msg("worker pool stopped")
}

func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pool) Stats() Stats {
	return Stats{
		State:         p.State().String(),
		WorkerID:      p.cfg.WorkerID,
		JobsStarted:   p.started.Load(),
		JobsCompleted: p.completed.Load(),
		JobsFailed:    p.failed.Load(),
		InFlight:      p.inFlight.Load(),
	}
}

func (p *Pool) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		p.fill(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.slotFree:
		}
	}
}

// fill claims jobs until the pool is saturated or the queue is drained.
func (p *Pool) fill(ctx context.Context) {
	for ctx.Err() == nil && p.inFlight.Load() < int64(p.cfg.Concurrency) {
		job, err := p.queue.ClaimNextPending(ctx, p.cfg.JobTypes)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				p.log.Error().Err(err).Msg("claim failed")
			}
			return
		}
		if job == nil {
			return
		}
		p.dispatch(job)
	}
}

func (p *Pool) dispatch(job *model.Job) {
	p.running.Add(1)
	p.started.Add(1)
	metrics.SetJobsInFlight(p.inFlight.Add(1))

	go func() {
		defer func() {
			metrics.SetJobsInFlight(p.inFlight.Add(-1))
			p.running.Done()
			select {
			case p.slotFree <- struct{}{}:
			default:
			}
		}()
		p.run(job)
	}()
}

func (p *Pool) run(job *model.Job) {
	ctx := logging.WithJobID(context.WithoutCancel(p.base), job.ID)
	log := logging.With(ctx, p.log)
	start := time.Now()

	var outcome model.JobOutcome
	h, ok := p.registry.Lookup(job.Type)
	if !ok {
		outcome = model.PermanentFailure(fmt.Errorf("%w: %s", domain.ErrNoHandler, job.Type), "no_handler")
	} else {
		done := logging.TraceDuration(log, "handler."+string(job.Type))
		outcome = invoke(ctx, h, job)
		done()
	}

	status := "completed"
	var err error
	if outcome.Status == model.OutcomeSuccess {
		err = retryWithBackoff(ctx, p.cfg.Transition, func() error {
			_, err := p.queue.CompleteJob(ctx, job.ID, outcome.Result)
			return err
		})
	} else {
		status = "failed"
		msg := outcome.ErrorMessage()
		err = retryWithBackoff(ctx, p.cfg.Transition, func() error {
			_, err := p.queue.FailJob(ctx, job.ID, msg, ucport.FailOptions{Retryable: outcome.Retryable})
			return err
		})
	}
	if err != nil {
		status = "transition_error"
		log.Error().Err(err).Str("job_type", string(job.Type)).Msg("could not persist job outcome")
	}

	if status == "completed" {
		p.completed.Add(1)
	} else {
		p.failed.Add(1)
	}
	d := time.Since(start)
	metrics.ObserveJobFinished(string(job.Type), status, d)

	ev := log.Info()
	if outcome.Status != model.OutcomeSuccess {
		ev = log.Warn().Str("error", outcome.ErrorMessage())
	}
	ev.Str("job_type", string(job.Type)).Int("attempt", job.Attempts+1).Str("status", status).Dur("duration", d).Msg("job finished")
}

// invoke runs the handler and turns a panic into a permanent failure.
func invoke(ctx context.Context, h Handler, job *model.Job) (out model.JobOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = model.PermanentFailure(fmt.Errorf("%w: %v", domain.ErrHandlerPanic, r), "panic")
		}
	}()
	return h.ProcessJob(ctx, job)
}
