package ai

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/genai"

	"ai-learning-plans/internal/domain/model"
	"ai-learning-plans/internal/domain/ports/adapter"
	"ai-learning-plans/internal/infra/metrics"
)

var _ adapter.PlanGenerator = (*GeminiGenerator)(nil)

type GeminiGenerator struct {
	client *genai.Client
	model  string
	maxOut int
}

// NewGeminiGenerator creates a generator on the official Gemini SDK.
func NewGeminiGenerator(ctx context.Context, opts Options) (*GeminiGenerator, error) {
	if opts.APIKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	if opts.Model == "" {
		opts.Model = "gemini-2.0-flash"
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: opts.BaseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiGenerator{client: c, model: opts.Model, maxOut: opts.MaxOutputTokens}, nil
}

func (g *GeminiGenerator) GeneratePlan(ctx context.Context, req model.PlanRequest) (*model.GeneratedPlan, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}},
		ResponseMIMEType:  "application/json",
	}
	if g.maxOut > 0 {
		cfg.MaxOutputTokens = int32(g.maxOut)
	}
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: buildUserPrompt(req)}},
	}}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	latency := int(time.Since(start).Milliseconds())
	if err != nil {
		metrics.ObservePlanCall("gemini", g.model, 0, latency, false)
		return nil, err
	}
	plan, err := parsePlan(geminiText(resp))
	metrics.ObservePlanCall("gemini", g.model, geminiPromptTokens(resp), latency, err == nil)
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func geminiPromptTokens(resp *genai.GenerateContentResponse) int {
	if resp == nil || resp.UsageMetadata == nil {
		return 0
	}
	return int(resp.UsageMetadata.PromptTokenCount)
}
