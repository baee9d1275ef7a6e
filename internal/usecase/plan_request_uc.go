// File: internal/usecase/plan_request_uc.go
package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ai-learning-plans/internal/domain"
	"ai-learning-plans/internal/domain/model"
	"ai-learning-plans/internal/domain/ports/adapter"
	ucport "ai-learning-plans/internal/domain/ports/usecase"
)

// PlanJobRequest is a caller's request for a plan (re)generation.
type PlanJobRequest struct {
	Type        model.JobType
	PlanID      *string
	UserID      string
	Tier        string
	Request     model.PlanRequest
	MaxAttempts int
}

type SubmitResult struct {
	JobID    string `json:"job_id"`
	Priority int    `json:"priority"`
}

type RateLimitSettings struct {
	EnqueuePerWindow int
	Window           time.Duration
}

// PlanRequestUseCase computes a job's priority from tier and topic and enqueues it.
type PlanRequestUseCase struct {
	queue   ucport.JobQueueManager
	topics  []string
	limiter adapter.RateLimiter
	limits  RateLimitSettings

	log *zerolog.Logger
}

// NewPlanRequestUseCase builds the use case. A nil limiter or a zero limit disables rate limiting.
func NewPlanRequestUseCase(queue ucport.JobQueueManager, topics []string, limiter adapter.RateLimiter, limits RateLimitSettings, logger *zerolog.Logger) *PlanRequestUseCase {
	if len(topics) == 0 {
		topics = model.DefaultPriorityTopics
	}
	if limits.Window <= 0 {
		limits.Window = time.Minute
	}
	l := logger.With().Str("component", "plan_request").Logger()
	return &PlanRequestUseCase{queue: queue, topics: topics, limiter: limiter, limits: limits, log: &l}
}

// Priority is the queue priority for a tier and topic.
func (uc *PlanRequestUseCase) Priority(tier, topic string) (int, error) {
	t, err := model.ParseTier(tier)
	if err != nil {
		return 0, err
	}
	return model.ComputePriority(t, model.IsPriorityTopic(topic, uc.topics))
}

func (uc *PlanRequestUseCase) Submit(ctx context.Context, req PlanJobRequest) (SubmitResult, error) {
	if req.Type == "" {
		req.Type = model.JobTypePlanGeneration
	}
	if !req.Type.Valid() {
		return SubmitResult{}, fmt.Errorf("%w: %q", domain.ErrInvalidJobType, req.Type)
	}
	if req.UserID == "" {
		return SubmitResult{}, fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}
	if req.Type == model.JobTypePlanRegeneration && req.PlanID == nil {
		return SubmitResult{}, fmt.Errorf("%w: plan id is required for regeneration", domain.ErrInvalidArgument)
	}
	if err := req.Request.Validate(); err != nil {
		return SubmitResult{}, err
	}
	prio, err := uc.Priority(req.Tier, req.Request.Topic)
	if err != nil {
		return SubmitResult{}, err
	}

	if uc.limiter != nil && uc.limits.EnqueuePerWindow > 0 {
		ok, err := uc.limiter.AllowEnqueue(ctx, req.UserID, uc.limits.EnqueuePerWindow, uc.limits.Window)
		if err != nil {
			// limiter errors fail open
			uc.log.Warn().Err(err).Str("user_id", req.UserID).Msg("rate limiter unavailable")
		} else if !ok {
			return SubmitResult{}, domain.ErrRateLimited
		}
	}

	payload, err := model.NewJobPayload(req.Request)
	if err != nil {
		return SubmitResult{}, err
	}
	id, err := uc.queue.Enqueue(ctx, ucport.EnqueueParams{
		Type:        req.Type,
		PlanID:      req.PlanID,
		UserID:      req.UserID,
		Payload:     payload,
		Priority:    prio,
		MaxAttempts: req.MaxAttempts,
	})
	if err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{JobID: id, Priority: prio}, nil
}
