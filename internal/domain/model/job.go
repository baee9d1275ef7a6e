package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"ai-learning-plans/internal/domain"
)

// JobType is the closed set of job kinds the queue accepts.
type JobType string

const (
	JobTypePlanGeneration   JobType = "plan_generation"
	JobTypePlanRegeneration JobType = "plan_regeneration"
)

// AllJobTypes lists every known job kind in a stable order.
var AllJobTypes = []JobType{JobTypePlanGeneration, JobTypePlanRegeneration}

func (t JobType) Valid() bool {
	switch t {
	case JobTypePlanGeneration, JobTypePlanRegeneration:
		return true
	}
	return false
}

// Deduplicated reports whether at most one active job per plan may exist for this type.
func (t JobType) Deduplicated() bool { return t == JobTypePlanRegeneration }

// ParseJobType validates s against the known kinds.
func ParseJobType(s string) (JobType, error) {
	t := JobType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidJobType, s)
	}
	return t, nil
}

// ValidateJobTypes rejects an empty set or any unknown member.
func ValidateJobTypes(types []JobType) error {
	if len(types) == 0 {
		return fmt.Errorf("%w: job types must not be empty", domain.ErrInvalidArgument)
	}
	for _, t := range types {
		if !t.Valid() {
			return fmt.Errorf("%w: %q", domain.ErrInvalidJobType, t)
		}
	}
	return nil
}

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is a unit of deferred work tracked through pending → processing → completed|failed.
type Job struct {
	ID           string
	Type         JobType
	PlanID       *string
	UserID       string
	Status       JobStatus
	Priority     int
	Attempts     int
	MaxAttempts  int
	Payload      JobPayload
	ScheduledFor time.Time
	Result       json.RawMessage
	Error        *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.PlanID = cloneString(j.PlanID)
	cp.Error = cloneString(j.Error)
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	if j.Result != nil {
		cp.Result = append(json.RawMessage(nil), j.Result...)
	}
	cp.Payload = j.Payload.clone()
	return &cp
}

// JobErrorEntry records one failed attempt.
type JobErrorEntry struct {
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

const errorHistoryKey = "errorHistory"

// JobPayload is the handler-owned object plus the queue-owned error history.
// It serialises as a single JSON object with the history under "errorHistory".
type JobPayload struct {
	Fields       map[string]json.RawMessage
	ErrorHistory []JobErrorEntry
}

// NewJobPayload encodes v (a struct or map) as the payload's fields.
func NewJobPayload(v any) (JobPayload, error) {
	if v == nil {
		return JobPayload{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return JobPayload{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	var p JobPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return JobPayload{}, err
	}
	return p, nil
}

// Decode unmarshals the handler fields into v.
func (p JobPayload) Decode(v any) error {
	fields := p.Fields
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return nil
}

// WithError returns a copy with entry appended; the receiver is left untouched.
func (p JobPayload) WithError(entry JobErrorEntry) JobPayload {
	out := p.clone()
	out.ErrorHistory = append(out.ErrorHistory, entry)
	return out
}

func (p JobPayload) MarshalJSON() ([]byte, error) {
	m := make(map[string]json.RawMessage, len(p.Fields)+1)
	for k, v := range p.Fields {
		m[k] = v
	}
	if len(p.ErrorHistory) > 0 {
		b, err := json.Marshal(p.ErrorHistory)
		if err != nil {
			return nil, err
		}
		m[errorHistoryKey] = b
	}
	return json.Marshal(m)
}

func (p *JobPayload) UnmarshalJSON(b []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("%w: payload must be a JSON object: %v", domain.ErrInvalidPayload, err)
	}
	p.ErrorHistory = nil
	if raw, ok := m[errorHistoryKey]; ok {
		if err := json.Unmarshal(raw, &p.ErrorHistory); err != nil {
			return fmt.Errorf("%w: errorHistory: %v", domain.ErrInvalidPayload, err)
		}
		delete(m, errorHistoryKey)
	}
	if len(m) == 0 {
		m = nil
	}
	p.Fields = m
	return nil
}

func (p JobPayload) clone() JobPayload {
	var out JobPayload
	if p.Fields != nil {
		out.Fields = make(map[string]json.RawMessage, len(p.Fields))
		for k, v := range p.Fields {
			out.Fields[k] = append(json.RawMessage(nil), v...)
		}
	}
	if p.ErrorHistory != nil {
		out.ErrorHistory = append([]JobErrorEntry(nil), p.ErrorHistory...)
	}
	return out
}

// RetryBackoff is min(limit, base^attempts seconds).
func RetryBackoff(attempts int, base float64, limit time.Duration) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	d := time.Second
	for i := 0; i < attempts; i++ {
		d = time.Duration(float64(d) * base)
		if d >= limit {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}

// JobStats aggregates queue rows by status and type.
type JobStats struct {
	ByStatus map[JobStatus]int
	ByType   map[JobType]map[JobStatus]int
	Total    int
}

func NewJobStats() JobStats {
	return JobStats{
		ByStatus: map[JobStatus]int{},
		ByType:   map[JobType]map[JobStatus]int{},
	}
}

func (s *JobStats) Add(t JobType, st JobStatus, n int) {
	s.ByStatus[st] += n
	if s.ByType[t] == nil {
		s.ByType[t] = map[JobStatus]int{}
	}
	s.ByType[t][st] += n
	s.Total += n
}

// SortJobTypes returns a sorted copy, used to give logs and SQL a stable order.
func SortJobTypes(types []JobType) []JobType {
	out := append([]JobType(nil), types...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
