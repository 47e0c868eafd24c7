package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 90 * time.Second}, // drain endpoint waits on up to batch_size deliveries
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Catalog: CatalogConfig{
			CacheTTL: Duration{Duration: 5 * time.Minute},
		},
		Stripe: StripeConfig{
			Mode:       "test",
			Currency:   "usd",
			SuccessURL: "http://localhost:8080/stripe/success?session_id={CHECKOUT_SESSION_ID}",
			CancelURL:  "http://localhost:8080/stripe/cancel",
		},
		Webhooks: WebhooksConfig{
			WorkerEnabled:  true,
			PollInterval:   Duration{Duration: 30 * time.Second},
			BatchSize:      10,
			StaleAfter:     Duration{Duration: 10 * time.Minute},
			DefaultTimeout: Duration{Duration: 30 * time.Second},
			MaxBackoff:     Duration{Duration: 24 * time.Hour},
			UserAgent:      "PlatehausStorefront-Webhooks/1.0",
			Defaults: SettingsDefaults{
				TimeoutSeconds:      30,
				RetryAttempts:       3,
				RetryDelaySeconds:   60,
				IncludeCustomerData: true,
				IncludeOrderItems:   true,
				IncludePricingData:  true,
				IncludeShippingData: true,
			},
		},
		RateLimit: RateLimitConfig{
			GlobalEnabled: true,
			GlobalLimit:   1000,
			GlobalWindow:  Duration{Duration: 1 * time.Minute},
			PerIPEnabled:  true,
			PerIPLimit:    120,
			PerIPWindow:   Duration{Duration: 1 * time.Minute},
		},
		Admin: AdminConfig{
			APIKeys: make(map[string]string),
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			StripeAPI: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			Webhook: BreakerServiceConfig{
				MaxRequests:         1,
				Interval:            Duration{Duration: 5 * time.Minute},
				Timeout:             Duration{Duration: 2 * time.Minute},
				ConsecutiveFailures: 5,
				FailureRatio:        0.8,
				MinRequests:         10,
			},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
