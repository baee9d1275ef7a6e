package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ai-learning-plans/internal/domain/model"
)

const systemPrompt = `You design self-study learning plans.
Reply with a single JSON object and nothing else:
{"title": string, "modules": [{"title": string, "summary": string, "weeks": int, "searchQuery": string}]}
Use 3 to 8 modules. searchQuery is a short web query that finds good material for the module.`

func buildUserPrompt(req model.PlanRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", strings.TrimSpace(req.Topic))
	if req.SkillLevel != "" {
		fmt.Fprintf(&b, "Current level: %s\n", req.SkillLevel)
	}
	if req.WeeklyHours > 0 {
		fmt.Fprintf(&b, "Available time: %d hours per week\n", req.WeeklyHours)
	}
	if len(req.Goals) > 0 {
		fmt.Fprintf(&b, "Goals: %s\n", strings.Join(req.Goals, "; "))
	}
	if req.PreviousPlanID != "" {
		fmt.Fprintf(&b, "This replaces plan %s.\n", req.PreviousPlanID)
		if req.Feedback != "" {
			fmt.Fprintf(&b, "Learner feedback on the previous plan: %s\n", req.Feedback)
		}
	}
	return b.String()
}

var errEmptyPlan = errors.New("model returned no usable modules")

// parsePlan extracts the plan object from the model's reply. Code fences and
// text around the object are tolerated.
func parsePlan(text string) (*model.GeneratedPlan, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("decode plan: no JSON object in reply")
	}
	var raw struct {
		Title   string             `json:"title"`
		Modules []model.PlanModule `json:"modules"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	plan := &model.GeneratedPlan{Title: strings.TrimSpace(raw.Title)}
	for _, m := range raw.Modules {
		m.Title = strings.TrimSpace(m.Title)
		if m.Title == "" {
			continue
		}
		m.Resources = nil
		plan.Modules = append(plan.Modules, m)
	}
	if len(plan.Modules) == 0 {
		return nil, errEmptyPlan
	}
	return plan, nil
}
