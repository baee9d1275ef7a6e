package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"ai-learning-plans/internal/domain/ports/adapter"
	ucport "ai-learning-plans/internal/domain/ports/usecase"
	"ai-learning-plans/internal/infra/worker"
	"ai-learning-plans/internal/usecase"
)

type PlanSubmitter interface {
	Submit(ctx context.Context, req usecase.PlanJobRequest) (usecase.SubmitResult, error)
}

type CacheMaintainer interface {
	CleanupExpiredCache(ctx context.Context, limit int) (int, error)
	Stats() usecase.CacheStats
}

type PoolReporter interface {
	Stats() worker.Stats
}

// Deps groups what the admin API serves. Pool and Cache may be nil when the
// process does not run them.
type Deps struct {
	Queue      ucport.JobQueueManager
	Requests   PlanSubmitter
	Cache      CacheMaintainer
	Pool       PoolReporter
	Clock      adapter.Clock
	Retention  time.Duration
	CacheBatch int
}

type Server struct {
	deps Deps
	auth *AuthManager
	log  *zerolog.Logger
}

func NewServer(deps Deps, auth *AuthManager, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "admin_api").Logger()
	return &Server{deps: deps, auth: auth, log: &l}
}

// Router builds the admin HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID)
	r.Use(middleware.RealIP)
	r.Use(Recover(s.log))
	r.Use(RequestLog(s.log))
	r.Use(Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.RequireAdmin)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.createJob)
			r.Get("/stats", s.jobStats)
			r.Get("/failed", s.failedJobs)
			r.Get("/{id}", s.getJob)
		})
		r.Get("/plans/{planID}/jobs", s.planJobs)
		r.Get("/users/{userID}/generations", s.userGenerations)
		r.Get("/worker/stats", s.workerStats)

		r.Route("/maintenance", func(r chi.Router) {
			r.Post("/jobs/cleanup", s.cleanupJobs)
			r.Post("/cache/cleanup", s.cleanupCache)
		})
	})
	return r
}

// NewHTTPServer wraps the router with the listener timeouts used in production.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
