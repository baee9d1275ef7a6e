// Command enqueue submits plan jobs straight into the Postgres queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ai-learning-plans/internal/config"
	"ai-learning-plans/internal/domain/model"
	"ai-learning-plans/internal/infra/clock"
	pg "ai-learning-plans/internal/infra/db/postgres"
	"ai-learning-plans/internal/usecase"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	jobType := flag.String("type", string(model.JobTypePlanGeneration), "plan_generation | plan_regeneration")
	userID := flag.String("user", "", "user id (required)")
	tier := flag.String("tier", "free", "free | starter | pro")
	topic := flag.String("topic", "", "learning topic (required)")
	level := flag.String("level", "", "current skill level")
	hours := flag.Int("hours", 0, "weekly hours available")
	goals := flag.String("goals", "", "comma separated goals")
	planID := flag.String("plan", "", "plan id (regeneration)")
	feedback := flag.String("feedback", "", "feedback on the previous plan (regeneration)")
	demo := flag.Bool("demo", false, "enqueue a few sample requests instead")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Storage.Backend != "postgres" {
		log.Fatalf("enqueue needs storage.backend postgres, got %s", cfg.Storage.Backend)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()
	if _, err := pg.RunMigrations(ctx, pool); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	nop := zerolog.Nop()
	queue := usecase.NewJobQueueUseCase(pg.NewPostgresJobRepo(pool), pg.NewTxManager(pool), clock.Real{}, usecase.QueueSettings{
		MaxAttempts: cfg.Queue.MaxAttempts,
		BackoffBase: cfg.Queue.BackoffBase,
		BackoffCap:  cfg.Queue.BackoffCap,
	}, &nop)
	requests := usecase.NewPlanRequestUseCase(queue, nil, nil, usecase.RateLimitSettings{}, &nop)

	var reqs []usecase.PlanJobRequest
	if *demo {
		reqs = demoRequests()
	} else {
		req := usecase.PlanJobRequest{
			Type:   model.JobType(*jobType),
			UserID: *userID,
			Tier:   *tier,
			Request: model.PlanRequest{
				Topic:       *topic,
				SkillLevel:  *level,
				WeeklyHours: *hours,
				Goals:       splitList(*goals),
				Feedback:    *feedback,
			},
		}
		if *planID != "" {
			req.PlanID = planID
			req.Request.PreviousPlanID = *planID
		}
		reqs = append(reqs, req)
	}

	for _, r := range reqs {
		res, err := requests.Submit(ctx, r)
		if err != nil {
			log.Fatalf("submit %q for %s: %v", r.Request.Topic, r.UserID, err)
		}
		fmt.Printf("enqueued %s (user=%s, topic=%q, priority=%d)\n", res.JobID, r.UserID, r.Request.Topic, res.Priority)
	}
}

func demoRequests() []usecase.PlanJobRequest {
	return []usecase.PlanJobRequest{
		{UserID: "demo-free", Tier: "free", Request: model.PlanRequest{Topic: "Watercolor painting", WeeklyHours: 3}},
		{UserID: "demo-starter", Tier: "starter", Request: model.PlanRequest{Topic: "Machine learning basics", SkillLevel: "beginner", WeeklyHours: 5}},
		{UserID: "demo-pro", Tier: "pro", Request: model.PlanRequest{Topic: "Kubernetes operators", SkillLevel: "intermediate", WeeklyHours: 8, Goals: []string{"write a controller"}}},
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
