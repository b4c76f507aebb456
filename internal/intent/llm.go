package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/runnervision/runnervision/internal/llm"
)

const classifierSystemPrompt = `You classify running route requests.
Return ONLY JSON: {"target_distance_km": number or null, "emphasis": "NONE" or "SAFETY", "avoid": [zero or more of "CONSTRUCTION", "HIGH_CRASH", "BUSY_ROADS"]}.
Use emphasis SAFETY when the runner mentions safety, traffic, crashes or danger.
Use CONSTRUCTION when they mention closures, construction or detours.`

// LLMClassifier asks a text generator for the intent fields and validates the answer.
type LLMClassifier struct {
	generator llm.Generator
}

// NewLLMClassifier creates a classifier backed by gen.
func NewLLMClassifier(gen llm.Generator) *LLMClassifier {
	return &LLMClassifier{generator: gen}
}

// Name returns "llm:<provider>".
func (c *LLMClassifier) Name() string {
	return "llm:" + c.generator.Name()
}

type classifierAnswer struct {
	TargetDistanceKm *float64 `json:"target_distance_km"`
	Emphasis         string   `json:"emphasis"`
	Avoid            []string `json:"avoid"`
}

// Classify makes one generation call.
func (c *LLMClassifier) Classify(ctx context.Context, q Query) (Intent, error) {
	text := strings.TrimSpace(q.Text)
	if len(text) < MinQueryLength {
		return Intent{}, &ClassificationError{Classifier: c.Name(), Err: ErrEmptyQuery}
	}

	out, err := c.generator.Generate(ctx, llm.Request{
		System:      classifierSystemPrompt,
		Prompt:      text,
		Temperature: 0,
		MaxTokens:   200,
	})
	if err != nil {
		return Intent{}, &ClassificationError{Classifier: c.Name(), Err: err}
	}

	in, err := parseAnswer(out)
	if err != nil {
		return Intent{}, &ClassificationError{Classifier: c.Name(), Err: err}
	}
	return in, nil
}

func parseAnswer(content string) (Intent, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var ans classifierAnswer
	if err := json.Unmarshal([]byte(content), &ans); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	emphasis := Emphasis(strings.ToUpper(strings.TrimSpace(ans.Emphasis)))
	switch emphasis {
	case "":
		emphasis = EmphasisNone
	case EmphasisNone, EmphasisSafety:
	default:
		return Intent{}, fmt.Errorf("%w: emphasis %q", ErrInvalidResponse, ans.Emphasis)
	}

	avoid := make([]Avoidance, 0, len(ans.Avoid))
	for _, raw := range ans.Avoid {
		a := Avoidance(strings.ToUpper(strings.TrimSpace(raw)))
		if !a.valid() {
			return Intent{}, fmt.Errorf("%w: avoid %q", ErrInvalidResponse, raw)
		}
		avoid = append(avoid, a)
	}

	target := ans.TargetDistanceKm
	if target != nil && !validDistance(*target) {
		target = nil
	}

	return New(target, emphasis, avoid...), nil
}
