// Package featureflags provides runtime switches for the recommendation pipeline.
package featureflags

import (
	"fmt"
	"sort"
	"time"
)

// Well-known feature flag keys.
const (
	// FlagPlanForceFull runs every annotation stage regardless of the classified intent.
	FlagPlanForceFull = "plan_force_full"

	// FlagExplanationsGeneratedDisabled forces the template explanation.
	FlagExplanationsGeneratedDisabled = "explanations_generated_disabled"

	// FlagIntentLLMDisabled classifies queries with keywords only.
	FlagIntentLLMDisabled = "intent_llm_disabled"
)

// Definition describes a switch operators may set.
type Definition struct {
	Key         string
	Description string
	Default     bool
}

var definitions = map[string]Definition{
	FlagPlanForceFull: {
		Key:         FlagPlanForceFull,
		Description: "run every annotation stage for every query",
	},
	FlagExplanationsGeneratedDisabled: {
		Key:         FlagExplanationsGeneratedDisabled,
		Description: "serve the template explanation instead of a generated one",
	},
	FlagIntentLLMDisabled: {
		Key:         FlagIntentLLMDisabled,
		Description: "classify queries with the keyword fallback only",
	},
}

// Definitions lists the known switches by key.
func Definitions() []Definition {
	out := make([]Definition, 0, len(definitions))
	for _, d := range definitions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Flag is the stored value of one switch.
type Flag struct {
	Key       string    `json:"key"`
	Value     any       `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
	UpdatedBy string    `json:"updatedBy,omitempty"`
}

// FlagList is the body of GET /v1/admin/feature-flags.
type FlagList struct {
	Items []Flag `json:"items"`
}

// FlagUpdate sets one switch.
type FlagUpdate struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// FlagUpdateRequest is the body of PUT /v1/admin/feature-flags. Reason is only logged.
type FlagUpdateRequest struct {
	Updates []FlagUpdate `json:"updates"`
	Reason  string       `json:"reason"`
}

// Validate reports whether value may be stored under key. Every known switch is
// boolean; the string forms BoolValue accepts are allowed too.
func Validate(key string, value any) error {
	if _, ok := definitions[key]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFlag, key)
	}
	if _, ok := parseBool(value); !ok {
		return fmt.Errorf("%w: %q wants a boolean, got %v", ErrInvalidValue, key, value)
	}
	return nil
}

// BoolValue returns the flag value as a boolean, or defaultValue when the flag
// is nil or holds something unrecognised.
func (f *Flag) BoolValue(defaultValue bool) bool {
	if f == nil {
		return defaultValue
	}
	if b, ok := parseBool(f.Value); ok {
		return b
	}
	return defaultValue
}

func parseBool(v any) (bool, bool) {
	switch v := v.(type) {
	case bool:
		return v, true
	case float64:
		// JSON numbers decode as float64
		return v != 0, true
	case int:
		return v != 0, true
	case string:
		switch v {
		case "true", "on", "1":
			return true, true
		case "false", "off", "0":
			return false, true
		}
	}
	return false, false
}

// DefaultFlags returns a fresh flag per definition, holding its default.
func DefaultFlags() map[string]*Flag {
	now := time.Now()
	flags := make(map[string]*Flag, len(definitions))
	for key, d := range definitions {
		flags[key] = &Flag{Key: key, Value: d.Default, UpdatedAt: now}
	}
	return flags
}
