package ai

import (
	"context"

	"ai-learning-plans/internal/domain/model"
	"ai-learning-plans/internal/domain/ports/adapter"
)

var _ adapter.PlanGenerator = (*limitedGenerator)(nil)

type limitedGenerator struct {
	inner adapter.PlanGenerator
	sem   chan struct{}
}

// NewLimited caps concurrent calls into inner. A caller waiting for a slot
// gives up when its ctx ends.
func NewLimited(inner adapter.PlanGenerator, maxConcurrent int) adapter.PlanGenerator {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedGenerator{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedGenerator) GeneratePlan(ctx context.Context, req model.PlanRequest) (*model.GeneratedPlan, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.GeneratePlan(ctx, req)
}
