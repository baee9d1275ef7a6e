package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-learning-plans/internal/config"
)

func TestWith_AttachesContextIDs(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(config.LogConfig{Level: "debug", Format: "json"}, false, &buf)

	ctx := WithJobID(context.Background(), "job-1")
	ctx = WithUserID(ctx, "user-1")
	ctx = WithPlanID(ctx, "plan-1")
	With(ctx, base).Info().Msg("hello")

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got), "log line %q", buf.String())
	for k, want := range map[string]string{"job_id": "job-1", "user_id": "user-1", "plan_id": "plan-1", "message": "hello"} {
		assert.Equal(t, want, got[k], k)
	}
	assert.NotContains(t, got, "worker_id")
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(config.LogConfig{Level: "warn", Format: "json"}, false, &buf)
	l.Info().Msg("dropped")
	require.Zero(t, buf.Len(), "info event written at warn level: %s", buf.String())
	l.Warn().Msg("kept")
	assert.NotZero(t, buf.Len(), "warn event missing")
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "***", Redact("short", false))
	assert.Equal(t, "sk-1...90", Redact("sk-1234567890", false))
	assert.Equal(t, "sk-1234567890", Redact("sk-1234567890", true))
}
