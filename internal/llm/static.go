package llm

import (
	"context"
	"sync"
)

// Static answers every prompt with fixed text, or with the response registered for the exact
// prompt. It backs offline runs and tests.
type Static struct {
	mu        sync.Mutex
	responses map[string]string
	fallback  string
	err       error
	calls     []Request
}

// NewStatic creates a generator that returns fallback for unknown prompts.
func NewStatic(fallback string) *Static {
	return &Static{responses: make(map[string]string), fallback: fallback}
}

// Respond registers the answer for one prompt.
func (s *Static) Respond(prompt, response string) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[prompt] = response
	return s
}

// Fail makes every later call return err.
func (s *Static) Fail(err error) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	return s
}

// Name returns the provider name.
func (s *Static) Name() string {
	return ProviderStatic
}

// Generate returns the registered answer.
func (s *Static) Generate(ctx context.Context, req Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.err != nil {
		return "", &Error{Provider: ProviderStatic, Err: s.err}
	}
	if resp, ok := s.responses[req.Prompt]; ok {
		return resp, nil
	}
	if s.fallback == "" {
		return "", &Error{Provider: ProviderStatic, Err: ErrEmptyResponse}
	}
	return s.fallback, nil
}

// Calls returns the requests seen so far.
func (s *Static) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.calls...)
}

// Func adapts a function to Generator.
type Func func(ctx context.Context, req Request) (string, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Name returns "func".
func (f Func) Name() string {
	return "func"
}
