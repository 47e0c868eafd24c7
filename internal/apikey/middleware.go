package apikey

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	apierrors "github.com/platehaus/storefront/internal/errors"
)

// HeaderKey carries the API key on admin requests.
const HeaderKey = "X-API-Key"

// Role is the permission level an API key grants.
type Role string

const (
	RoleNone      Role = ""          // No or unknown key
	RoleScheduler Role = "scheduler" // External cron: may only trigger drains
	RoleAdmin     Role = "admin"     // Back office: everything
)

// Valid reports whether r is a grantable role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleScheduler
}

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	// contextKeyRole stores the resolved role in request context.
	contextKeyRole contextKey = "api_key_role"
)

// Config holds API key configuration.
type Config struct {
	// APIKeys maps API key to role.
	// Example: {"adm_abc123": RoleAdmin, "cron_xyz789": RoleScheduler}
	APIKeys map[string]Role
}

// ConfigFromMap builds a Config from the raw key -> role strings in the admin config.
// Entries with unknown roles or empty keys are dropped.
func ConfigFromMap(keys map[string]string) Config {
	cfg := Config{APIKeys: make(map[string]Role, len(keys))}
	for key, role := range keys {
		key = strings.TrimSpace(key)
		r := Role(strings.ToLower(strings.TrimSpace(role)))
		if key == "" || !r.Valid() {
			continue
		}
		cfg.APIKeys[key] = r
	}
	return cfg
}

// Middleware resolves the X-API-Key header to a role and stores it in request context.
// It never rejects; use Require on routes that need a role.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := cfg.lookup(strings.TrimSpace(r.Header.Get(HeaderKey)))
			ctx := context.WithValue(r.Context(), contextKeyRole, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// lookup compares against every key in constant time per key.
func (cfg Config) lookup(presented string) Role {
	if presented == "" {
		return RoleNone
	}
	found := RoleNone
	for key, role := range cfg.APIKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(presented)) == 1 {
			found = role
		}
	}
	return found
}

// Require rejects requests whose role is not in allowed.
// A missing or unknown key gets 401; a known key with the wrong role gets 403.
func Require(allowed ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := GetRole(r)
			if role == RoleNone {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorized, "missing or invalid API key")
				return
			}
			for _, a := range allowed {
				if role == a {
					next.ServeHTTP(w, r)
					return
				}
			}
			apierrors.WriteSimpleError(w, apierrors.ErrCodeForbidden, "API key role not permitted for this route")
		})
	}
}

// GetRole extracts the resolved role from request context.
// Returns RoleNone if the middleware did not run or the key was unknown.
func GetRole(r *http.Request) Role {
	if role, ok := r.Context().Value(contextKeyRole).(Role); ok {
		return role
	}
	return RoleNone
}

// IsExemptFromRateLimits returns true for requests carrying any valid key.
func IsExemptFromRateLimits(r *http.Request) bool {
	return GetRole(r) != RoleNone
}
