package apikey

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func testConfig() Config {
	return ConfigFromMap(map[string]string{
		"adm_key":   "admin",
		"cron_key":  "Scheduler",
		"bogus_key": "superuser",
		"  ":        "admin",
	})
}

func TestConfigFromMap(t *testing.T) {
	cfg := testConfig()
	if len(cfg.APIKeys) != 2 {
		t.Fatalf("expected 2 keys, got %d: %v", len(cfg.APIKeys), cfg.APIKeys)
	}
	if cfg.APIKeys["adm_key"] != RoleAdmin {
		t.Errorf("adm_key role = %q", cfg.APIKeys["adm_key"])
	}
	if cfg.APIKeys["cron_key"] != RoleScheduler {
		t.Errorf("cron_key role = %q", cfg.APIKeys["cron_key"])
	}
}

func TestMiddleware_ResolvesRole(t *testing.T) {
	tests := []struct {
		name     string
		apiKey   string
		expected Role
	}{
		{"No key", "", RoleNone},
		{"Unknown key", "nope", RoleNone},
		{"Admin key", "adm_key", RoleAdmin},
		{"Scheduler key", "cron_key", RoleScheduler},
		{"Whitespace trimmed", "  adm_key  ", RoleAdmin},
		{"Dropped role", "bogus_key", RoleNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if role := GetRole(r); role != tt.expected {
					t.Errorf("Expected %q, got %q", tt.expected, role)
				}
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest("GET", "/admin/webhooks/queue", nil)
			if tt.apiKey != "" {
				req.Header.Set(HeaderKey, tt.apiKey)
			}
			rec := httptest.NewRecorder()
			Middleware(testConfig())(handler).ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("Expected 200, got %d", rec.Code)
			}
		})
	}
}

func TestRequire(t *testing.T) {
	tests := []struct {
		name     string
		apiKey   string
		allowed  []Role
		wantCode int
	}{
		{"missing key", "", []Role{RoleAdmin}, http.StatusUnauthorized},
		{"unknown key", "nope", []Role{RoleAdmin}, http.StatusUnauthorized},
		{"admin on admin route", "adm_key", []Role{RoleAdmin}, http.StatusOK},
		{"scheduler on admin route", "cron_key", []Role{RoleAdmin}, http.StatusForbidden},
		{"scheduler on drain route", "cron_key", []Role{RoleAdmin, RoleScheduler}, http.StatusOK},
		{"admin on drain route", "adm_key", []Role{RoleAdmin, RoleScheduler}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			chain := Middleware(testConfig())(Require(tt.allowed...)(handler))

			req := httptest.NewRequest("POST", "/admin/webhooks/drain", nil)
			if tt.apiKey != "" {
				req.Header.Set(HeaderKey, tt.apiKey)
			}
			rec := httptest.NewRecorder()
			chain.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("Expected %d, got %d", tt.wantCode, rec.Code)
			}
		})
	}
}

func TestGetRole_NoMiddleware(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	if role := GetRole(req); role != RoleNone {
		t.Errorf("Expected RoleNone, got %q", role)
	}
	if IsExemptFromRateLimits(req) {
		t.Error("request without key must not be exempt")
	}
}
