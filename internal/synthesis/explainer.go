package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/runnervision/runnervision/internal/closure"
	"github.com/runnervision/runnervision/internal/intent"
	"github.com/runnervision/runnervision/internal/llm"
	"github.com/runnervision/runnervision/internal/routing"
	"github.com/runnervision/runnervision/internal/safety"
	"github.com/runnervision/runnervision/internal/weather"
)

// Explainer turns a finished ranking into text. It must not reorder anything.
type Explainer interface {
	Explain(ctx context.Context, in ExplainInput) (string, error)
	Name() string
}

// ExplainInput is the read-only view handed to an Explainer. Ranked is in final order.
type ExplainInput struct {
	Intent   intent.Intent
	Ranked   []routing.Candidate
	RankedBy RankedBy
	TargetKm float64
	Safety   map[int]safety.Annotation
	Closures map[int]closure.Annotation
	Weather  weather.Snapshot
	Warnings []string
}

// TemplateExplainer builds a fixed-form explanation without any external call.
type TemplateExplainer struct{}

// Name returns "template".
func (TemplateExplainer) Name() string {
	return "template"
}

// Explain never fails.
func (TemplateExplainer) Explain(_ context.Context, in ExplainInput) (string, error) {
	return Template(in), nil
}

// Template renders the fixed-form explanation.
func Template(in ExplainInput) string {
	if len(in.Ranked) == 0 {
		return "No route could be recommended."
	}

	chosen := in.Ranked[0]
	var b strings.Builder
	fmt.Fprintf(&b, "Route %d heads %s for %.1f km", chosen.ID, chosen.Direction, chosen.LengthKm)

	switch in.RankedBy {
	case RankedByRisk:
		if ann, ok := in.Safety[chosen.ID]; ok {
			fmt.Fprintf(&b, " and has the lowest crash risk of the %d options (%d recent crashes nearby)",
				len(in.Ranked), ann.CrashCount)
		} else {
			fmt.Fprintf(&b, " and was ranked first of %d options on estimated crash risk", len(in.Ranked))
		}
	default:
		fmt.Fprintf(&b, ", the closest of %d options to your %.1f km target", len(in.Ranked), in.TargetKm)
	}
	b.WriteString(".")

	if ann, ok := in.Closures[chosen.ID]; ok && !ann.Blocked {
		b.WriteString(" No active closures block it.")
	}

	switch {
	case in.Weather.Advisory:
		fmt.Fprintf(&b, " %s.", capitalize(in.Weather.Warning()))
	case in.Weather.Known():
		fmt.Fprintf(&b, " Conditions: %s.", describeWeather(in.Weather))
	}

	if len(in.Ranked) > 1 {
		alternates := make([]string, 0, len(in.Ranked)-1)
		for _, c := range in.Ranked[1:] {
			alternates = append(alternates, fmt.Sprintf("%d", c.ID))
		}
		fmt.Fprintf(&b, " Alternatives in order: %s.", strings.Join(alternates, ", "))
	}

	if len(in.Warnings) > 0 {
		fmt.Fprintf(&b, " Note: %s.", strings.Join(in.Warnings, "; "))
	}
	return b.String()
}

func describeWeather(s weather.Snapshot) string {
	desc := s.Description
	if desc == "" {
		desc = strings.ToLower(string(s.Condition))
	}
	if s.TemperatureC != nil {
		return fmt.Sprintf("%s, %.0f°C", desc, *s.TemperatureC)
	}
	return desc
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

const explainSystemPrompt = `You are RunnerVision AI, a running safety expert.

Provide practical recommendations with clear reasoning. If any warnings are present, acknowledge them.
Be concise but informative.

The routes are already ranked. Recommend the first route and mention alternatives only in the given order.
Never reorder the routes and never invent routes, crash figures or closures.`

// LLMExplainer asks a text generator for the explanation.
type LLMExplainer struct {
	gen         llm.Generator
	temperature float64
	maxTokens   int
}

// NewLLMExplainer creates an explainer on gen.
func NewLLMExplainer(gen llm.Generator) *LLMExplainer {
	return &LLMExplainer{gen: gen, temperature: 0.3, maxTokens: 400}
}

// Name returns "llm:" plus the generator name.
func (e *LLMExplainer) Name() string {
	return "llm:" + e.gen.Name()
}

// Explain calls the generator once. Failures and empty answers are *SynthesisError.
func (e *LLMExplainer) Explain(ctx context.Context, in ExplainInput) (string, error) {
	payload, err := json.MarshalIndent(promptContext(in), "", "  ")
	if err != nil {
		return "", &SynthesisError{Explainer: e.Name(), Err: err}
	}

	text, err := e.gen.Generate(ctx, llm.Request{
		System:      explainSystemPrompt,
		Prompt:      "Analyze this data and provide a recommendation:\n\n" + string(payload),
		Temperature: e.temperature,
		MaxTokens:   e.maxTokens,
	})
	if err != nil {
		return "", &SynthesisError{Explainer: e.Name(), Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &SynthesisError{Explainer: e.Name(), Err: llm.ErrEmptyResponse}
	}
	return text, nil
}

type promptRoute struct {
	Rank          int      `json:"rank"`
	ID            int      `json:"id"`
	Direction     string   `json:"direction"`
	LengthKm      float64  `json:"length_km"`
	RiskScore     *float64 `json:"risk_score,omitempty"`
	RecentCrashes *int     `json:"recent_crashes,omitempty"`
	Blocked       *bool    `json:"blocked_by_closure,omitempty"`
}

type promptData struct {
	TargetKm float64          `json:"target_distance_km"`
	Emphasis intent.Emphasis  `json:"emphasis"`
	RankedBy RankedBy         `json:"ranked_by"`
	Routes   []promptRoute    `json:"routes"`
	Weather  weather.Snapshot `json:"weather"`
	Warnings []string         `json:"warnings,omitempty"`
}

func promptContext(in ExplainInput) promptData {
	routes := make([]promptRoute, 0, len(in.Ranked))
	for i, c := range in.Ranked {
		r := promptRoute{Rank: i + 1, ID: c.ID, Direction: string(c.Direction), LengthKm: c.LengthKm}
		if ann, ok := in.Safety[c.ID]; ok {
			risk, crashes := ann.RiskScore, ann.CrashCount
			r.RiskScore, r.RecentCrashes = &risk, &crashes
		}
		if ann, ok := in.Closures[c.ID]; ok {
			blocked := ann.Blocked
			r.Blocked = &blocked
		}
		routes = append(routes, r)
	}
	return promptData{
		TargetKm: in.TargetKm,
		Emphasis: in.Intent.Emphasis,
		RankedBy: in.RankedBy,
		Routes:   routes,
		Weather:  in.Weather,
		Warnings: in.Warnings,
	}
}
