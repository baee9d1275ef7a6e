package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ai-learning-plans/internal/domain"
	"ai-learning-plans/internal/domain/model"
	"ai-learning-plans/internal/domain/ports/adapter"
	"ai-learning-plans/internal/infra/clock"
)

type fakeGenerator struct {
	plan *model.GeneratedPlan
	err  error
	got  model.PlanRequest
}

func (g *fakeGenerator) GeneratePlan(_ context.Context, req model.PlanRequest) (*model.GeneratedPlan, error) {
	g.got = req
	if g.err != nil {
		return nil, g.err
	}
	cp := *g.plan
	cp.Modules = append([]model.PlanModule(nil), g.plan.Modules...)
	return &cp, nil
}

type fakeSearcher struct {
	calls atomic.Int32
	block bool
	err   error
}

func (s *fakeSearcher) Source() string { return "web" }

func (s *fakeSearcher) Search(ctx context.Context, query string) ([]json.RawMessage, error) {
	s.calls.Add(1)
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	b, _ := json.Marshal(map[string]string{"title": query})
	return []json.RawMessage{b}, nil
}

func twoModulePlan() *model.GeneratedPlan {
	return &model.GeneratedPlan{
		Title: "Go in a month",
		Modules: []model.PlanModule{
			{Title: "Basics", SearchQuery: "go tour"},
			{Title: "Concurrency"},
		},
	}
}

func newPlanUC(t *testing.T, gen *fakeGenerator, search adapter.ResourceSearcher, budget time.Duration) *PlanGenerationUseCase {
	t.Helper()
	f := newCacheFixture(t, nil)
	nop := zerolog.Nop()
	return NewPlanGenerationUseCase(gen, search, f.cache, clock.NewFake(testStart), budget, &nop)
}

func planJob(t *testing.T, jt model.JobType, req any) *model.Job {
	t.Helper()
	payload, err := model.NewJobPayload(req)
	if err != nil {
		t.Fatal(err)
	}
	return &model.Job{ID: "job-1", Type: jt, UserID: "u1", Payload: payload, MaxAttempts: 3}
}

func TestProcessJob_GeneratesPlanWithResources(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{plan: twoModulePlan()}
	search := &fakeSearcher{}
	uc := newPlanUC(t, gen, search, time.Second)

	out := uc.ProcessJob(context.Background(), planJob(t, model.JobTypePlanGeneration, model.PlanRequest{Topic: "Go", WeeklyHours: 5}))
	if out.Status != model.OutcomeSuccess {
		t.Fatalf("expected success, got %+v", out)
	}
	var plan model.GeneratedPlan
	if err := json.Unmarshal(out.Result, &plan); err != nil {
		t.Fatalf("result is not a plan: %v", err)
	}
	if plan.Topic != "Go" || plan.PartialResources || plan.Regenerated || !plan.GeneratedAt.Equal(testStart) {
		t.Fatalf("unexpected plan: %+v", plan)
	}
	if len(plan.Modules) != 2 || len(plan.Modules[0].Resources) != 1 || len(plan.Modules[1].Resources) != 1 {
		t.Fatalf("resources not attached: %+v", plan.Modules)
	}
	var r map[string]string
	_ = json.Unmarshal(plan.Modules[1].Resources[0], &r)
	if r["title"] != "Go Concurrency" {
		t.Fatalf("fallback query = %q, want topic + title", r["title"])
	}
	if search.calls.Load() != 2 {
		t.Fatalf("search calls = %d", search.calls.Load())
	}

	// a second run is served from the cache
	uc.ProcessJob(context.Background(), planJob(t, model.JobTypePlanGeneration, model.PlanRequest{Topic: "Go"}))
	if search.calls.Load() != 2 {
		t.Fatalf("cached lookups hit the searcher again: %d", search.calls.Load())
	}
}

func TestProcessJob_ValidationIsPermanent(t *testing.T) {
	t.Parallel()
	uc := newPlanUC(t, &fakeGenerator{plan: twoModulePlan()}, &fakeSearcher{}, time.Second)

	for name, req := range map[string]any{
		"missing topic":  model.PlanRequest{WeeklyHours: 3},
		"negative hours": model.PlanRequest{Topic: "go", WeeklyHours: -1},
		"wrong type":     map[string]any{"topic": 42},
	} {
		out := uc.ProcessJob(context.Background(), planJob(t, model.JobTypePlanGeneration, req))
		if out.Status != model.OutcomeFailure || out.Retryable == nil || *out.Retryable {
			t.Fatalf("%s: expected permanent failure, got %+v", name, out)
		}
		if out.Classification != "validation" || !errors.Is(out.Err, domain.ErrInvalidPayload) {
			t.Fatalf("%s: unexpected classification %q / %v", name, out.Classification, out.Err)
		}
	}
}

func TestProcessJob_TimeoutRetryableWhileAttemptsRemain(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{err: context.DeadlineExceeded}
	uc := newPlanUC(t, gen, &fakeSearcher{}, time.Second)

	job := planJob(t, model.JobTypePlanGeneration, model.PlanRequest{Topic: "go"})
	out := uc.ProcessJob(context.Background(), job)
	if out.Retryable == nil || !*out.Retryable || out.Classification != "timeout" {
		t.Fatalf("first attempt should be retryable, got %+v", out)
	}

	job.Attempts = 2
	out = uc.ProcessJob(context.Background(), job)
	if out.Retryable != nil || out.Classification != "timeout" {
		t.Fatalf("last attempt should leave the decision to the queue, got %+v", out)
	}
}

func TestProcessJob_GeneratorErrors(t *testing.T) {
	t.Parallel()
	uc := newPlanUC(t, &fakeGenerator{err: errors.New("503")}, &fakeSearcher{}, time.Second)
	out := uc.ProcessJob(context.Background(), planJob(t, model.JobTypePlanGeneration, model.PlanRequest{Topic: "go"}))
	if out.Status != model.OutcomeFailure || out.Retryable != nil || out.Classification != "generation" {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	empty := newPlanUC(t, &fakeGenerator{plan: &model.GeneratedPlan{Title: "x"}}, &fakeSearcher{}, time.Second)
	out = empty.ProcessJob(context.Background(), planJob(t, model.JobTypePlanGeneration, model.PlanRequest{Topic: "go"}))
	if out.Status != model.OutcomeFailure || out.Classification != "generation" {
		t.Fatalf("empty plan should fail, got %+v", out)
	}
}

func TestProcessJob_BudgetExhaustedMarksPartial(t *testing.T) {
	t.Parallel()
	uc := newPlanUC(t, &fakeGenerator{plan: twoModulePlan()}, &fakeSearcher{block: true}, 20*time.Millisecond)

	out := uc.ProcessJob(context.Background(), planJob(t, model.JobTypePlanGeneration, model.PlanRequest{Topic: "go"}))
	if out.Status != model.OutcomeSuccess {
		t.Fatalf("budget exhaustion must not fail the job: %+v", out)
	}
	var plan model.GeneratedPlan
	if err := json.Unmarshal(out.Result, &plan); err != nil {
		t.Fatal(err)
	}
	if !plan.PartialResources {
		t.Fatalf("expected partialResources")
	}
}

func TestProcessJob_SearchErrorsAreTolerated(t *testing.T) {
	t.Parallel()
	uc := newPlanUC(t, &fakeGenerator{plan: twoModulePlan()}, &fakeSearcher{err: errors.New("quota")}, time.Second)
	out := uc.ProcessJob(context.Background(), planJob(t, model.JobTypePlanGeneration, model.PlanRequest{Topic: "go"}))
	if out.Status != model.OutcomeSuccess {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	var plan model.GeneratedPlan
	_ = json.Unmarshal(out.Result, &plan)
	if !plan.PartialResources || len(plan.Modules) != 2 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestProcessJob_RegenerationUsesJobPlanID(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{plan: twoModulePlan()}
	uc := newPlanUC(t, gen, nil, time.Second)

	job := planJob(t, model.JobTypePlanRegeneration, model.PlanRequest{Topic: "go", Feedback: "more projects"})
	plan := "plan-9"
	job.PlanID = &plan
	out := uc.ProcessJob(context.Background(), job)
	if out.Status != model.OutcomeSuccess {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if gen.got.PreviousPlanID != "plan-9" || gen.got.Feedback != "more projects" {
		t.Fatalf("generator got %+v", gen.got)
	}
	var res model.GeneratedPlan
	_ = json.Unmarshal(out.Result, &res)
	if !res.Regenerated || res.PartialResources {
		t.Fatalf("unexpected plan: %+v", res)
	}
}
