package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/platehaus/storefront/internal/config"
)

// ServiceType names an outbound dependency with its own breaker.
type ServiceType string

const (
	ServiceStripe  ServiceType = "stripe_api"
	ServiceWebhook ServiceType = "webhook"
)

// Manager keeps one breaker per outbound service so a dead webhook receiver
// cannot stop payment links from being created, and the reverse.
// A nil or disabled Manager passes every call through.
type Manager struct {
	breakers map[ServiceType]*gobreaker.CircuitBreaker
	enabled  bool
	logger   zerolog.Logger

	mu       sync.RWMutex
	observer func(ServiceType, gobreaker.State)
}

// Config holds the per-service breaker settings.
type Config struct {
	Enabled   bool
	StripeAPI BreakerConfig
	Webhook   BreakerConfig
}

// BreakerConfig configures a single breaker.
type BreakerConfig struct {
	MaxRequests uint32        // Calls let through while half-open
	Interval    time.Duration // Closed-state count reset period; 0 never resets
	Timeout     time.Duration // Open period before probing again

	// Trip on ConsecutiveFailures, or on FailureRatio once MinRequests have been seen.
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// NewManagerFromConfig builds a Manager from the circuit_breaker config block.
func NewManagerFromConfig(cfg config.CircuitBreakerConfig, logger zerolog.Logger) *Manager {
	conv := func(c config.BreakerServiceConfig) BreakerConfig {
		return BreakerConfig{
			MaxRequests:         c.MaxRequests,
			Interval:            c.Interval.Duration,
			Timeout:             c.Timeout.Duration,
			ConsecutiveFailures: c.ConsecutiveFailures,
			FailureRatio:        c.FailureRatio,
			MinRequests:         c.MinRequests,
		}
	}
	return NewManager(Config{
		Enabled:   cfg.Enabled,
		StripeAPI: conv(cfg.StripeAPI),
		Webhook:   conv(cfg.Webhook),
	}, logger)
}

// NewManager creates breakers for every service when cfg.Enabled is set.
func NewManager(cfg Config, logger zerolog.Logger) *Manager {
	m := &Manager{
		breakers: make(map[ServiceType]*gobreaker.CircuitBreaker),
		enabled:  cfg.Enabled,
		logger:   logger.With().Str("component", "circuit_breaker").Logger(),
	}
	if !cfg.Enabled {
		return m
	}
	for svc, bc := range map[ServiceType]BreakerConfig{
		ServiceStripe:  cfg.StripeAPI,
		ServiceWebhook: cfg.Webhook,
	} {
		m.breakers[svc] = gobreaker.NewCircuitBreaker(m.settings(svc, bc))
	}
	return m
}

// OnStateChange registers fn to be told about every transition, after it is logged.
// Used to export breaker state as a gauge.
func (m *Manager) OnStateChange(fn func(service ServiceType, to gobreaker.State)) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.observer = fn
	m.mu.Unlock()
}

// Execute runs fn behind the service's breaker.
func (m *Manager) Execute(service ServiceType, fn func() (interface{}, error)) (interface{}, error) {
	breaker := m.breaker(service)
	if breaker == nil {
		return fn()
	}
	return breaker.Execute(fn)
}

// Do is Execute with a typed result.
func Do[T any](m *Manager, service ServiceType, fn func() (T, error)) (T, error) {
	v, err := m.Execute(service, func() (interface{}, error) { return fn() })
	out, _ := v.(T)
	return out, err
}

// IsOpen reports whether err means the breaker rejected the call without running it.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// State returns "closed", "half-open" or "open", or "disabled" when breakers are off.
func (m *Manager) State(service ServiceType) string {
	if m == nil || !m.enabled {
		return "disabled"
	}
	breaker := m.breaker(service)
	if breaker == nil {
		return "not_configured"
	}
	return breaker.State().String()
}

// Counts are the breaker's counters for the current interval.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Counts returns the current counters, or zeros when the breaker is off.
func (m *Manager) Counts(service ServiceType) Counts {
	breaker := m.breaker(service)
	if breaker == nil {
		return Counts{}
	}
	c := breaker.Counts()
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

func (m *Manager) breaker(service ServiceType) *gobreaker.CircuitBreaker {
	if m == nil || !m.enabled {
		return nil
	}
	return m.breakers[service]
}

func (m *Manager) settings(service ServiceType, cfg BreakerConfig) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        string(service),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && c.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio <= 0 || cfg.MinRequests == 0 || c.Requests < cfg.MinRequests {
				return false
			}
			return float64(c.TotalFailures)/float64(c.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			m.logger.Warn().
				Str("breaker", string(service)).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit_breaker.state_changed")

			m.mu.RLock()
			observer := m.observer
			m.mu.RUnlock()
			if observer != nil {
				observer(service, to)
			}
		},
	}
}

// DefaultConfig is the breaker policy used when the config file omits circuit_breaker.
// The webhook breaker opens slower and stays open longer than Stripe's since
// queued deliveries are retried anyway.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		StripeAPI: BreakerConfig{
			MaxRequests:         3,
			Interval:            60 * time.Second,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
			FailureRatio:        0.5,
			MinRequests:         10,
		},
		Webhook: BreakerConfig{
			MaxRequests:         1,
			Interval:            5 * time.Minute,
			Timeout:             2 * time.Minute,
			ConsecutiveFailures: 5,
			FailureRatio:        0.8,
			MinRequests:         10,
		},
	}
}
