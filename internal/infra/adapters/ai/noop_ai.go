package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ai-learning-plans/internal/domain/model"
	"ai-learning-plans/internal/domain/ports/adapter"
)

var _ adapter.PlanGenerator = (*NoopGenerator)(nil)

// NoopGenerator returns a fixed plan shape for local and dev runs.
// The same request always yields the same plan.
type NoopGenerator struct {
	delay time.Duration
}

func NewNoopGenerator(delay time.Duration) *NoopGenerator {
	return &NoopGenerator{delay: delay}
}

func (n *NoopGenerator) GeneratePlan(ctx context.Context, req model.PlanRequest) (*model.GeneratedPlan, error) {
	if n.delay > 0 {
		select {
		case <-time.After(n.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	topic := strings.TrimSpace(req.Topic)
	weeks := 2
	if req.WeeklyHours >= 10 {
		weeks = 1
	}
	stages := []string{"Foundations of", "Core", "Hands-on", "Capstone project in"}
	if strings.EqualFold(req.SkillLevel, "advanced") {
		stages = stages[1:]
	}
	plan := &model.GeneratedPlan{Title: topic + " learning plan"}
	for _, s := range stages {
		title := fmt.Sprintf("%s %s", s, topic)
		plan.Modules = append(plan.Modules, model.PlanModule{
			Title:       title,
			Summary:     fmt.Sprintf("Week-by-week study of %s.", strings.ToLower(title)),
			Weeks:       weeks,
			SearchQuery: strings.ToLower(title) + " tutorial",
		})
	}
	return plan, nil
}
