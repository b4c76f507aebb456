// Package llm exposes text generation as a narrow capability. The intent classifier and the
// explainer depend only on Generator, so vendors can be swapped or stubbed per deployment.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Provider names accepted by New.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderStatic    = "static"
	ProviderNone      = "none"
)

var (
	// ErrNotConfigured is returned by New when no provider is selected.
	ErrNotConfigured = errors.New("text generation not configured")

	// ErrMissingAPIKey is returned when a vendor provider has no key.
	ErrMissingAPIKey = errors.New("api key is required")

	// ErrEmptyResponse is returned when a vendor answers without text.
	ErrEmptyResponse = errors.New("empty response")
)

// Request is one generation call.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	Name() string
}

// Error wraps a vendor failure.
type Error struct {
	Provider string
	Model    string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Provider, e.Model, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Config selects and configures a provider.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string

	// Timeout bounds each call when the caller's context has no earlier deadline.
	Timeout time.Duration
}

// Default models per provider.
var defaultModels = map[string]string{
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderAnthropic: "claude-3-5-haiku-latest",
	ProviderGemini:    "gemini-2.0-flash",
}

// New builds the generator named by cfg.Provider.
func New(ctx context.Context, cfg Config) (Generator, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.Model == "" {
		cfg.Model = defaultModels[provider]
	}

	var (
		gen Generator
		err error
	)
	switch provider {
	case "", ProviderNone:
		return nil, ErrNotConfigured
	case ProviderStatic:
		return NewStatic(""), nil
	case ProviderOpenAI:
		gen, err = NewOpenAI(cfg)
	case ProviderAnthropic:
		gen, err = NewAnthropic(cfg)
	case ProviderGemini:
		gen, err = NewGemini(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Timeout > 0 {
		gen = WithTimeout(gen, cfg.Timeout)
	}
	return gen, nil
}

type timeoutGenerator struct {
	next    Generator
	timeout time.Duration
}

// WithTimeout bounds every call made through next.
func WithTimeout(next Generator, timeout time.Duration) Generator {
	return &timeoutGenerator{next: next, timeout: timeout}
}

func (g *timeoutGenerator) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.next.Generate(ctx, req)
}

func (g *timeoutGenerator) Name() string {
	return g.next.Name()
}
