package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/runnervision/runnervision/internal/api/models"
)

// RateLimitConfig is one request budget.
type RateLimitConfig struct {
	RequestLimit int
	WindowLength time.Duration
}

// PerMinute returns a budget of n requests a minute.
func PerMinute(n int) RateLimitConfig {
	return RateLimitConfig{RequestLimit: n, WindowLength: time.Minute}
}

// RateLimits holds the budgets the router mounts.
type RateLimits struct {
	// Recommend guards POST /v1/recommendations, which fans out to every provider.
	Recommend RateLimitConfig
	Standard  RateLimitConfig
	// Admin is counted per operator rather than per address.
	Admin RateLimitConfig
}

// DefaultRateLimits returns 30/min for recommendations, 100/min for other
// public routes and 20/min per operator.
func DefaultRateLimits() RateLimits {
	return RateLimits{
		Recommend: PerMinute(30),
		Standard:  PerMinute(100),
		Admin:     PerMinute(20),
	}
}

// WithDefaults replaces unset budgets with their DefaultRateLimits value.
func (l RateLimits) WithDefaults() RateLimits {
	d := DefaultRateLimits()
	fill := func(v *RateLimitConfig, def RateLimitConfig) {
		if v.RequestLimit <= 0 {
			v.RequestLimit = def.RequestLimit
		}
		if v.WindowLength <= 0 {
			v.WindowLength = def.WindowLength
		}
	}
	fill(&l.Recommend, d.Recommend)
	fill(&l.Standard, d.Standard)
	fill(&l.Admin, d.Admin)
	return l
}

// RateLimitByIP limits by client address. Mount it after chi's RealIP so
// X-Forwarded-For is honoured.
func RateLimitByIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return limit(cfg, httprate.KeyByRealIP)
}

// RateLimitByOperator limits by authenticated operator subject and falls back
// to the client IP. Mount it after OperatorAuth.
func RateLimitByOperator(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return limit(cfg, func(r *http.Request) (string, error) {
		if subject := GetSubject(r.Context()); subject != "" {
			return "operator:" + subject, nil
		}
		return httprate.KeyByRealIP(r)
	})
}

func limit(cfg RateLimitConfig, key httprate.KeyFunc) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(limitExceeded(cfg.WindowLength)),
	)
}

// limitExceeded answers with a 429 Problem. httprate does not expose when the
// window resets, so Retry-After is the whole window rounded up to a second.
func limitExceeded(window time.Duration) http.HandlerFunc {
	retryAfter := strconv.Itoa(max(1, int(math.Ceil(window.Seconds()))))
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", retryAfter)
		writeProblem(w, r, models.NewTooManyRequests, "Rate limit exceeded. Please try again later.")
	}
}
