package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ai-learning-plans/internal/domain"
)

// CacheStage partitions cache entries; each stage has its own TTL.
type CacheStage string

const (
	CacheStageSearch   CacheStage = "search"
	CacheStageStats    CacheStage = "stats"
	CacheStageHead     CacheStage = "head"
	CacheStageNegative CacheStage = "negative"
)

func (s CacheStage) Valid() bool {
	switch s {
	case CacheStageSearch, CacheStageStats, CacheStageHead, CacheStageNegative:
		return true
	}
	return false
}

func ParseCacheStage(s string) (CacheStage, error) {
	st := CacheStage(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownCacheStage, s)
	}
	return st, nil
}

// CacheKey identifies a cache row. CacheVersion travels with the key so
// writes can stamp it onto the payload.
type CacheKey struct {
	QueryKey     string
	Source       string
	CacheVersion string
}

// String is the identity used for in-process maps and lock names.
func (k CacheKey) String() string { return k.Source + ":" + k.QueryKey }

// NormalizeQuery trims, lowercases and collapses whitespace.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// BuildCacheKey hashes the normalized query with its source and versions.
// Bumping either version yields a fresh key generation.
func BuildCacheKey(query, source, paramsVersion, cacheVersion string) CacheKey {
	h := sha256.New()
	for i, part := range []string{NormalizeQuery(query), source, paramsVersion, cacheVersion} {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		h.Write([]byte(part))
	}
	return CacheKey{
		QueryKey:     hex.EncodeToString(h.Sum(nil)),
		Source:       source,
		CacheVersion: cacheVersion,
	}
}

// CachePayload is the stored value: a list of opaque results (possibly empty).
type CachePayload struct {
	Results      []json.RawMessage `json:"results"`
	CacheVersion string            `json:"cacheVersion"`
}

func (p CachePayload) Clone() CachePayload {
	out := CachePayload{CacheVersion: p.CacheVersion, Results: make([]json.RawMessage, len(p.Results))}
	for i, r := range p.Results {
		out.Results[i] = append(json.RawMessage(nil), r...)
	}
	return out
}

// CacheEntry is one persisted cache row.
type CacheEntry struct {
	QueryKey  string
	Source    string
	Stage     CacheStage
	Payload   CachePayload
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (e *CacheEntry) Key() CacheKey {
	return CacheKey{QueryKey: e.QueryKey, Source: e.Source, CacheVersion: e.Payload.CacheVersion}
}

// Expired uses the read-time rule: an entry at exactly ExpiresAt is gone.
func (e *CacheEntry) Expired(now time.Time) bool { return !e.ExpiresAt.After(now) }
