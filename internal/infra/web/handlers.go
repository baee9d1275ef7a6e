package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"ai-learning-plans/internal/domain"
	"ai-learning-plans/internal/domain/model"
	"ai-learning-plans/internal/infra/metrics"
	"ai-learning-plans/internal/usecase"
)

const defaultQuotaWindow = 30 * 24 * time.Hour

// createJobRequest is the JSON body of POST /api/v1/jobs.
type createJobRequest struct {
	Type           string   `json:"type"`
	PlanID         string   `json:"plan_id"`
	UserID         string   `json:"user_id"`
	Tier           string   `json:"tier"`
	Topic          string   `json:"topic"`
	SkillLevel     string   `json:"skill_level"`
	WeeklyHours    int      `json:"weekly_hours"`
	Goals          []string `json:"goals"`
	PreviousPlanID string   `json:"previous_plan_id"`
	Feedback       string   `json:"feedback"`
	MaxAttempts    int      `json:"max_attempts"`
}

type jobView struct {
	ID           string                `json:"id"`
	Type         model.JobType         `json:"type"`
	PlanID       *string               `json:"plan_id,omitempty"`
	UserID       string                `json:"user_id"`
	Status       model.JobStatus       `json:"status"`
	Priority     int                   `json:"priority"`
	Attempts     int                   `json:"attempts"`
	MaxAttempts  int                   `json:"max_attempts"`
	Payload      model.JobPayload      `json:"payload"`
	ScheduledFor time.Time             `json:"scheduled_for"`
	Result       json.RawMessage       `json:"result,omitempty"`
	Error        *string               `json:"error,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
	StartedAt    *time.Time            `json:"started_at,omitempty"`
	CompletedAt  *time.Time            `json:"completed_at,omitempty"`
}

func toJobView(j *model.Job) jobView {
	return jobView{
		ID:           j.ID,
		Type:         j.Type,
		PlanID:       j.PlanID,
		UserID:       j.UserID,
		Status:       j.Status,
		Priority:     j.Priority,
		Attempts:     j.Attempts,
		MaxAttempts:  j.MaxAttempts,
		Payload:      j.Payload,
		ScheduledFor: j.ScheduledFor,
		Result:       j.Result,
		Error:        j.Error,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
	}
}

func toJobViews(jobs []*model.Job) []jobView {
	out := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobView(j))
	}
	return out
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in := usecase.PlanJobRequest{
		Type:        model.JobType(req.Type),
		UserID:      req.UserID,
		Tier:        req.Tier,
		MaxAttempts: req.MaxAttempts,
		Request: model.PlanRequest{
			Topic:          req.Topic,
			SkillLevel:     req.SkillLevel,
			WeeklyHours:    req.WeeklyHours,
			Goals:          req.Goals,
			PreviousPlanID: req.PreviousPlanID,
			Feedback:       req.Feedback,
		},
	}
	if req.PlanID != "" {
		in.PlanID = &req.PlanID
	}

	res, err := s.deps.Requests.Submit(r.Context(), in)
	if err != nil {
		if errors.Is(err, domain.ErrRateLimited) {
			metrics.IncAdminRequest(routeOf(r), "rate_limited")
		}
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Queue.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, toJobView(job))
}

func (s *Server) jobStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Queue.Stats(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":     st.Total,
		"by_status": st.ByStatus,
		"by_type":   st.ByType,
	})
}

func (s *Server) failedJobs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	jobs, err := s.deps.Queue.ListFailed(r.Context(), limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobViews(jobs))
}

func (s *Server) planJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.deps.Queue.ListByPlan(r.Context(), chi.URLParam(r, "planID"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobViews(jobs))
}

func (s *Server) userGenerations(w http.ResponseWriter, r *http.Request) {
	since := s.now().Add(-defaultQuotaWindow)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = t
	}
	userID := chi.URLParam(r, "userID")
	n, err := s.deps.Queue.CountUserGenerations(r.Context(), userID, since)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "since": since, "count": n})
}

func (s *Server) workerStats(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	if s.deps.Pool != nil {
		out["pool"] = s.deps.Pool.Stats()
	}
	if s.deps.Cache != nil {
		out["cache"] = s.deps.Cache.Stats()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) cleanupJobs(w http.ResponseWriter, r *http.Request) {
	olderThan := s.deps.Retention
	if v := r.URL.Query().Get("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "older_than must be a duration")
			return
		}
		olderThan = d
	}
	n, err := s.deps.Queue.CleanupOldJobs(r.Context(), olderThan)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *Server) cleanupCache(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeError(w, http.StatusNotFound, "cache not configured")
		return
	}
	limit := s.deps.CacheBatch
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	n, err := s.deps.Cache.CleanupExpiredCache(r.Context(), limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *Server) now() time.Time {
	if s.deps.Clock != nil {
		return s.deps.Clock.Now()
	}
	return time.Now().UTC()
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrInvalidJobType),
		errors.Is(err, domain.ErrInvalidPayload),
		errors.Is(err, domain.ErrUnknownTier):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("route", routeOf(r)).Msg("admin request failed")
		writeError(w, code, "internal error")
		return
	}
	writeError(w, code, err.Error())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
