package config

import (
	"testing"
	"time"
)

func TestEnvOverrides(t *testing.T) {
	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name:    "STOREFRONT_SERVER_ADDRESS overrides default",
			envVars: map[string]string{"STOREFRONT_SERVER_ADDRESS": ":3000"},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.Address != ":3000" {
					t.Errorf("Expected :3000, got %s", cfg.Server.Address)
				}
			},
		},
		{
			name:    "route prefix is normalized",
			envVars: map[string]string{"STOREFRONT_ROUTE_PREFIX": "shop/"},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.RoutePrefix != "/shop" {
					t.Errorf("Expected /shop, got %s", cfg.Server.RoutePrefix)
				}
			},
		},
		{
			name:    "CORS origins are split",
			envVars: map[string]string{"STOREFRONT_CORS_ALLOWED_ORIGINS": "https://admin.example.com, https://ops.example.com"},
			checkFunc: func(t *testing.T, cfg *Config) {
				if len(cfg.Server.CORSAllowedOrigins) != 2 || cfg.Server.CORSAllowedOrigins[1] != "https://ops.example.com" {
					t.Errorf("unexpected origins %v", cfg.Server.CORSAllowedOrigins)
				}
			},
		},
		{
			name: "webhook settings defaults",
			envVars: map[string]string{
				"STOREFRONT_WEBHOOK_ENABLED":             "true",
				"STOREFRONT_WEBHOOK_DESTINATION_URL":     "https://hooks.example.com/catch",
				"STOREFRONT_WEBHOOK_SIGNING_SECRET":      "whsec",
				"STOREFRONT_WEBHOOK_RETRY_ATTEMPTS":      "5",
				"STOREFRONT_WEBHOOK_RETRY_DELAY_SECONDS": "not-a-number",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				d := cfg.Webhooks.Defaults
				if !d.Enabled || d.DestinationURL != "https://hooks.example.com/catch" || d.SigningSecret != "whsec" {
					t.Errorf("unexpected defaults %+v", d)
				}
				if d.RetryAttempts != 5 {
					t.Errorf("RetryAttempts = %d, want 5", d.RetryAttempts)
				}
				if d.RetryDelaySeconds != 60 {
					t.Errorf("unparsable value should keep default, got %d", d.RetryDelaySeconds)
				}
			},
		},
		{
			name:    "worker poll interval",
			envVars: map[string]string{"STOREFRONT_WEBHOOK_POLL_INTERVAL": "5s", "STOREFRONT_WEBHOOK_WORKER_ENABLED": "false"},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Webhooks.PollInterval.Duration != 5*time.Second {
					t.Errorf("PollInterval = %v, want 5s", cfg.Webhooks.PollInterval.Duration)
				}
				if cfg.Webhooks.WorkerEnabled {
					t.Error("worker should be disabled")
				}
			},
		},
		{
			name: "admin and scheduler keys",
			envVars: map[string]string{
				"STOREFRONT_ADMIN_API_KEY":     "adm_123",
				"STOREFRONT_SCHEDULER_API_KEY": "sch_456",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Admin.APIKeys["adm_123"] != "admin" {
					t.Errorf("expected admin role, got %q", cfg.Admin.APIKeys["adm_123"])
				}
				if cfg.Admin.APIKeys["sch_456"] != "scheduler" {
					t.Errorf("expected scheduler role, got %q", cfg.Admin.APIKeys["sch_456"])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}

func TestNormalizeRoutePrefix(t *testing.T) {
	tests := map[string]string{
		"":      "",
		"api":   "/api",
		"/api/": "/api",
		" /v1 ": "/v1",
		"/a/b/": "/a/b",
	}
	for in, want := range tests {
		if got := normalizeRoutePrefix(in); got != want {
			t.Errorf("normalizeRoutePrefix(%q) = %q, want %q", in, got, want)
		}
	}
}
