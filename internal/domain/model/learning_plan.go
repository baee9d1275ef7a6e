package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ai-learning-plans/internal/domain"
)

// PlanRequest is the payload of plan_generation and plan_regeneration jobs.
type PlanRequest struct {
	Topic          string   `json:"topic"`
	SkillLevel     string   `json:"skillLevel,omitempty"`
	WeeklyHours    int      `json:"weeklyHours,omitempty"`
	Goals          []string `json:"goals,omitempty"`
	PreviousPlanID string   `json:"previousPlanId,omitempty"`
	Feedback       string   `json:"feedback,omitempty"`
}

func (r PlanRequest) Validate() error {
	if strings.TrimSpace(r.Topic) == "" {
		return fmt.Errorf("%w: topic is required", domain.ErrInvalidPayload)
	}
	if r.WeeklyHours < 0 {
		return fmt.Errorf("%w: weeklyHours must not be negative", domain.ErrInvalidPayload)
	}
	return nil
}

// PlanModule is one section of a generated plan. SearchQuery drives resource lookup.
type PlanModule struct {
	Title       string            `json:"title"`
	Summary     string            `json:"summary,omitempty"`
	Weeks       int               `json:"weeks,omitempty"`
	SearchQuery string            `json:"searchQuery,omitempty"`
	Resources   []json.RawMessage `json:"resources,omitempty"`
}

// GeneratedPlan is the result stored on a completed job.
type GeneratedPlan struct {
	Topic            string       `json:"topic"`
	Title            string       `json:"title"`
	Modules          []PlanModule `json:"modules"`
	PartialResources bool         `json:"partialResources"`
	Regenerated      bool         `json:"regenerated,omitempty"`
	GeneratedAt      time.Time    `json:"generatedAt"`
}
