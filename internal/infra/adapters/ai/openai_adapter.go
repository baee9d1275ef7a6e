package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"ai-learning-plans/internal/domain"
	"ai-learning-plans/internal/domain/model"
	"ai-learning-plans/internal/domain/ports/adapter"
	"ai-learning-plans/internal/infra/metrics"
)

var _ adapter.PlanGenerator = (*OpenAIGenerator)(nil)

// OpenAIGenerator drafts plans through the Chat Completions API. Any
// OpenAI-compatible gateway works when BaseURL points at it.
type OpenAIGenerator struct {
	client          openai.Client
	model           string
	maxOut          int
	maxPromptTokens int
	count           TokenCounter
}

func NewOpenAIGenerator(opts Options) (*OpenAIGenerator, error) {
	if opts.APIKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		reqOpts = append(reqOpts, option.WithBaseURL(base))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}
	count := opts.CountTokens
	if count == nil {
		count = NewTiktokenCounter()
	}
	return &OpenAIGenerator{
		client:          openai.NewClient(reqOpts...),
		model:           opts.Model,
		maxOut:          opts.MaxOutputTokens,
		maxPromptTokens: opts.MaxPromptTokens,
		count:           count,
	}, nil
}

func (o *OpenAIGenerator) GeneratePlan(ctx context.Context, req model.PlanRequest) (*model.GeneratedPlan, error) {
	user := buildUserPrompt(req)
	promptTokens := o.count(o.model, systemPrompt+user)
	if o.maxPromptTokens > 0 && promptTokens > o.maxPromptTokens {
		return nil, fmt.Errorf("%w: prompt is %d tokens, limit %d", domain.ErrInvalidPayload, promptTokens, o.maxPromptTokens)
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(user),
		},
	}
	if o.maxOut > 0 {
		params.MaxCompletionTokens = openai.Int(int64(o.maxOut))
	}

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, params)
	latency := int(time.Since(start).Milliseconds())
	if err != nil {
		metrics.ObservePlanCall("openai", o.model, promptTokens, latency, false)
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == 400 {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}
		return nil, err
	}
	if resp.Usage.PromptTokens > 0 {
		promptTokens = int(resp.Usage.PromptTokens)
	}

	var text string
	for _, c := range resp.Choices {
		if c.Message.Content != "" {
			text = c.Message.Content
			break
		}
	}
	plan, err := parsePlan(text)
	metrics.ObservePlanCall("openai", o.model, promptTokens, latency, err == nil)
	if err != nil {
		return nil, err
	}
	return plan, nil
}
