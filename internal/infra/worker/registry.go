package worker

import (
	"context"
	"fmt"
	"sync"

	"ai-learning-plans/internal/domain"
	"ai-learning-plans/internal/domain/model"
)

// Handler processes one claimed job and reports how it went.
type Handler interface {
	ProcessJob(ctx context.Context, job *model.Job) model.JobOutcome
}

type HandlerFunc func(ctx context.Context, job *model.Job) model.JobOutcome

func (f HandlerFunc) ProcessJob(ctx context.Context, job *model.Job) model.JobOutcome {
	return f(ctx, job)
}

// Registry maps job types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[model.JobType]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[model.JobType]Handler)}
}

// Register binds h to t, replacing any previous handler.
func (r *Registry) Register(t model.JobType, h Handler) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidJobType, t)
	}
	if h == nil {
		return fmt.Errorf("%w: nil handler for %s", domain.ErrInvalidArgument, t)
	}
	r.mu.Lock()
	r.handlers[t] = h
	r.mu.Unlock()
	return nil
}

func (r *Registry) Lookup(t model.JobType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

// Types returns the registered types in a stable order.
func (r *Registry) Types() []model.JobType {
	r.mu.RLock()
	out := make([]model.JobType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	r.mu.RUnlock()
	return model.SortJobTypes(out)
}

// Missing lists known job types that have no handler.
func (r *Registry) Missing() []model.JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.JobType
	for _, t := range model.AllJobTypes {
		if _, ok := r.handlers[t]; !ok {
			out = append(out, t)
		}
	}
	return out
}
