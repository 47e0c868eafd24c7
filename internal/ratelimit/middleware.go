package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/platehaus/storefront/internal/apikey"
	"github.com/platehaus/storefront/internal/config"
	"github.com/platehaus/storefront/internal/metrics"
)

// Limit types recorded in metrics.
const (
	limitGlobal = "global"
	limitPerIP  = "per_ip"
)

// Config holds rate limiting configuration.
type Config struct {
	// Global rate limiting (across all callers)
	GlobalEnabled bool
	GlobalLimit   int           // requests per window
	GlobalWindow  time.Duration // time window

	// Per-IP rate limiting. Requests with a valid API key are exempt.
	PerIPEnabled bool
	PerIPLimit   int
	PerIPWindow  time.Duration

	// Metrics collector (optional)
	Metrics *metrics.Metrics
}

// rateLimitResponse represents the JSON error response for rate limit exceeded.
type rateLimitResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

// DefaultConfig returns sensible default rate limits.
// Stripe retries aggressively during incidents, so the global limit is generous.
func DefaultConfig() Config {
	return Config{
		// Global: 1000 req/min - prevents DoS
		GlobalEnabled: true,
		GlobalLimit:   1000,
		GlobalWindow:  1 * time.Minute,

		// Per-IP: 120 req/min (2 req/sec avg)
		PerIPEnabled: true,
		PerIPLimit:   120,
		PerIPWindow:  1 * time.Minute,
	}
}

// FromConfig converts the application config, filling zero limits from DefaultConfig.
func FromConfig(cfg config.RateLimitConfig, m *metrics.Metrics) Config {
	def := DefaultConfig()
	out := Config{
		GlobalEnabled: cfg.GlobalEnabled,
		GlobalLimit:   cfg.GlobalLimit,
		GlobalWindow:  cfg.GlobalWindow.Duration,
		PerIPEnabled:  cfg.PerIPEnabled,
		PerIPLimit:    cfg.PerIPLimit,
		PerIPWindow:   cfg.PerIPWindow.Duration,
		Metrics:       m,
	}
	if out.GlobalLimit <= 0 {
		out.GlobalLimit = def.GlobalLimit
	}
	if out.GlobalWindow <= 0 {
		out.GlobalWindow = def.GlobalWindow
	}
	if out.PerIPLimit <= 0 {
		out.PerIPLimit = def.PerIPLimit
	}
	if out.PerIPWindow <= 0 {
		out.PerIPWindow = def.PerIPWindow
	}
	return out
}

// createRateLimitHandler creates the standardized 429 handler shared by all limiters.
func createRateLimitHandler(limitType string, windowSeconds int, metricsCollector *metrics.Metrics) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		metricsCollector.ObserveRateLimit(limitType)

		var message string
		switch limitType {
		case limitGlobal:
			message = "Global rate limit exceeded. Please try again later."
		case limitPerIP:
			message = "IP rate limit exceeded. Please try again later."
		default:
			message = "Rate limit exceeded. Please try again later."
		}

		response := rateLimitResponse{
			Error:             "rate_limit_exceeded",
			Message:           message,
			RetryAfterSeconds: windowSeconds,
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", windowSeconds))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(response)
	}
}

// GlobalLimiter creates a global rate limiter middleware.
func GlobalLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.GlobalEnabled {
		return passthrough
	}

	return httprate.Limit(
		cfg.GlobalLimit,
		cfg.GlobalWindow,
		httprate.WithLimitHandler(
			createRateLimitHandler(limitGlobal, int(cfg.GlobalWindow.Seconds()), cfg.Metrics),
		),
	)
}

// IPLimiter creates a per-IP rate limiter middleware.
func IPLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerIPEnabled {
		return passthrough
	}

	limiter := httprate.Limit(
		cfg.PerIPLimit,
		cfg.PerIPWindow,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(
			createRateLimitHandler(limitPerIP, int(cfg.PerIPWindow.Seconds()), cfg.Metrics),
		),
	)

	// Wrap limiter to check for API key exemptions
	return func(next http.Handler) http.Handler {
		limited := limiter(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apikey.IsExemptFromRateLimits(r) {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

func passthrough(next http.Handler) http.Handler {
	return next
}
