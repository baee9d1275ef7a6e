package adapter

import (
	"context"
	"encoding/json"

	"ai-learning-plans/internal/domain/model"
)

// PlanGenerator is the port for the LLM that drafts a learning plan outline.
// Implementations must honour ctx cancellation.
type PlanGenerator interface {
	GeneratePlan(ctx context.Context, req model.PlanRequest) (*model.GeneratedPlan, error)
}

// ResourceSearcher looks up learning resources for one query.
// Results are opaque JSON documents; an empty slice is a valid answer.
type ResourceSearcher interface {
	Source() string
	Search(ctx context.Context, query string) ([]json.RawMessage, error)
}
