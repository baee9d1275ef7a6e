// File: internal/usecase/plan_generation_uc.go
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ai-learning-plans/internal/domain"
	"ai-learning-plans/internal/domain/model"
	"ai-learning-plans/internal/domain/ports/adapter"
	"ai-learning-plans/internal/infra/logging"
)

// ResourceLookup is the part of ResourceCache the plan handler needs.
type ResourceLookup interface {
	BuildCacheKey(query, source string) model.CacheKey
	GetOrSetWithLock(ctx context.Context, key model.CacheKey, stage model.CacheStage, fetch Fetcher) ([]json.RawMessage, error)
}

// PlanGenerationUseCase handles plan_generation and plan_regeneration jobs.
type PlanGenerationUseCase struct {
	gen    adapter.PlanGenerator
	search adapter.ResourceSearcher
	cache  ResourceLookup
	clock  adapter.Clock
	budget time.Duration

	log *zerolog.Logger
}

func NewPlanGenerationUseCase(gen adapter.PlanGenerator, search adapter.ResourceSearcher, cache ResourceLookup, clock adapter.Clock, budget time.Duration, logger *zerolog.Logger) *PlanGenerationUseCase {
	l := logger.With().Str("component", "plan_generation").Logger()
	return &PlanGenerationUseCase{gen: gen, search: search, cache: cache, clock: clock, budget: budget, log: &l}
}

func (uc *PlanGenerationUseCase) ProcessJob(ctx context.Context, job *model.Job) model.JobOutcome {
	ctx = logging.WithJobID(ctx, job.ID)
	ctx = logging.WithUserID(ctx, job.UserID)
	if job.PlanID != nil {
		ctx = logging.WithPlanID(ctx, *job.PlanID)
	}
	log := logging.With(ctx, uc.log)

	var req model.PlanRequest
	if err := job.Payload.Decode(&req); err != nil {
		return model.PermanentFailure(err, "validation")
	}
	if err := req.Validate(); err != nil {
		return model.PermanentFailure(err, "validation")
	}
	regenerate := job.Type == model.JobTypePlanRegeneration
	if regenerate && req.PreviousPlanID == "" && job.PlanID != nil {
		req.PreviousPlanID = *job.PlanID
	}

	plan, err := uc.gen.GeneratePlan(ctx, req)
	if err != nil {
		return uc.generatorFailure(job, err)
	}
	if plan == nil || len(plan.Modules) == 0 {
		return model.Failure(errors.New("generator returned an empty plan"), "generation")
	}

	plan.PartialResources = uc.attachResources(ctx, log, req.Topic, plan.Modules)
	plan.Topic = req.Topic
	plan.Regenerated = regenerate
	plan.GeneratedAt = uc.clock.Now()

	b, err := json.Marshal(plan)
	if err != nil {
		return model.PermanentFailure(err, "encoding")
	}
	log.Info().Int("modules", len(plan.Modules)).Bool("partial_resources", plan.PartialResources).Msg("plan generated")
	return model.Success(b)
}

// attachResources curates resources per module until the budget runs out.
// It reports true when at least one module was left without a lookup.
func (uc *PlanGenerationUseCase) attachResources(ctx context.Context, log *zerolog.Logger, topic string, modules []model.PlanModule) bool {
	if uc.search == nil || uc.cache == nil {
		return false
	}
	budgetCtx := ctx
	if uc.budget > 0 {
		var cancel context.CancelFunc
		budgetCtx, cancel = context.WithTimeout(ctx, uc.budget)
		defer cancel()
	}

	partial := false
	source := uc.search.Source()
	for i := range modules {
		if budgetCtx.Err() != nil {
			partial = true
			break
		}
		query := modules[i].SearchQuery
		if strings.TrimSpace(query) == "" {
			query = topic + " " + modules[i].Title
		}
		key := uc.cache.BuildCacheKey(query, source)
		results, err := uc.cache.GetOrSetWithLock(budgetCtx, key, model.CacheStageSearch, func(ctx context.Context) ([]json.RawMessage, error) {
			return uc.search.Search(ctx, query)
		})
		if err != nil {
			partial = true
			if isContextErr(err) {
				break
			}
			log.Warn().Err(err).Str("query", query).Msg("resource lookup failed")
			continue
		}
		modules[i].Resources = results
	}
	return partial
}

func (uc *PlanGenerationUseCase) generatorFailure(job *model.Job, err error) model.JobOutcome {
	switch {
	case errors.Is(err, domain.ErrInvalidPayload):
		return model.PermanentFailure(err, "validation")
	case errors.Is(err, context.DeadlineExceeded):
		// timeouts are worth another try while attempts remain
		if job.Attempts+1 < job.MaxAttempts {
			return model.RetryableFailure(err, "timeout")
		}
		return model.Failure(err, "timeout")
	default:
		return model.Failure(fmt.Errorf("generate plan: %w", err), "generation")
	}
}
