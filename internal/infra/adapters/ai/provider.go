// Package ai holds the plan generator adapters: OpenAI-compatible chat
// completions, Gemini, and a deterministic noop generator for dev mode.
package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ai-learning-plans/internal/domain/ports/adapter"
)

type Options struct {
	Provider        string // openai | gemini | noop
	APIKey          string
	BaseURL         string
	Model           string
	MaxOutputTokens int
	MaxPromptTokens int
	ConcurrentLimit int
	Timeout         time.Duration

	// CountTokens overrides the tiktoken counter (openai only).
	CountTokens TokenCounter
}

// New builds the configured generator wrapped in the concurrency limit.
func New(ctx context.Context, opts Options, logger *zerolog.Logger) (adapter.PlanGenerator, error) {
	var (
		gen adapter.PlanGenerator
		err error
	)
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	switch provider {
	case "openai":
		gen, err = NewOpenAIGenerator(opts)
	case "gemini":
		gen, err = NewGeminiGenerator(ctx, opts)
	case "noop", "":
		provider = "noop"
		gen = NewNoopGenerator(0)
	default:
		return nil, fmt.Errorf("unknown ai provider %q", opts.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%s generator: %w", provider, err)
	}
	logger.Info().
		Str("component", "ai").
		Str("provider", provider).
		Str("model", opts.Model).
		Int("concurrent_limit", opts.ConcurrentLimit).
		Msg("plan generator ready")
	return NewLimited(gen, opts.ConcurrentLimit), nil
}
