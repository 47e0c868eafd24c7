package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use the STOREFRONT_ prefix.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "STOREFRONT_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "STOREFRONT_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "STOREFRONT_ADMIN_METRICS_API_KEY")
	if v := os.Getenv("STOREFRONT_CORS_ALLOWED_ORIGINS"); v != "" {
		c.Server.CORSAllowedOrigins = splitList(v)
	}

	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Logging
	setIfEnv(&c.Logging.Level, "STOREFRONT_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "STOREFRONT_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "STOREFRONT_ENVIRONMENT")

	// Storage
	setIfEnv(&c.Storage.Backend, "STOREFRONT_STORAGE_BACKEND")
	setIfEnv(&c.Storage.PostgresURL, "STOREFRONT_POSTGRES_URL")
	setIfEnv(&c.Storage.MongoDBURL, "STOREFRONT_MONGODB_URL")
	setIfEnv(&c.Storage.MongoDBDatabase, "STOREFRONT_MONGODB_DATABASE")
	setIfEnv(&c.Storage.FilePath, "STOREFRONT_STORAGE_FILE_PATH")

	// Orders and catalog
	setIfEnv(&c.Orders.Source, "STOREFRONT_ORDERS_SOURCE")
	setIfEnv(&c.Orders.PostgresURL, "STOREFRONT_ORDERS_POSTGRES_URL")
	setIfEnv(&c.Catalog.Source, "STOREFRONT_CATALOG_SOURCE")
	setDurationIfEnv(&c.Catalog.CacheTTL, "STOREFRONT_CATALOG_CACHE_TTL")

	// Stripe config
	setIfEnv(&c.Stripe.SecretKey, "STOREFRONT_STRIPE_SECRET_KEY")
	setIfEnv(&c.Stripe.WebhookSecret, "STOREFRONT_STRIPE_WEBHOOK_SECRET")
	setIfEnv(&c.Stripe.SuccessURL, "STOREFRONT_STRIPE_SUCCESS_URL")
	setIfEnv(&c.Stripe.CancelURL, "STOREFRONT_STRIPE_CANCEL_URL")
	setIfEnv(&c.Stripe.Currency, "STOREFRONT_STRIPE_CURRENCY")
	setIfEnv(&c.Stripe.TaxRateID, "STOREFRONT_STRIPE_TAX_RATE_ID")
	setIfEnv(&c.Stripe.Mode, "STOREFRONT_STRIPE_MODE")

	// Webhook worker
	setBoolIfEnv(&c.Webhooks.WorkerEnabled, "STOREFRONT_WEBHOOK_WORKER_ENABLED")
	setDurationIfEnv(&c.Webhooks.PollInterval, "STOREFRONT_WEBHOOK_POLL_INTERVAL")
	setIntIfEnv(&c.Webhooks.BatchSize, "STOREFRONT_WEBHOOK_BATCH_SIZE")
	setDurationIfEnv(&c.Webhooks.StaleAfter, "STOREFRONT_WEBHOOK_STALE_AFTER")
	setIfEnv(&c.Webhooks.UserAgent, "STOREFRONT_WEBHOOK_USER_AGENT")

	// Settings defaults (only applied when the settings row does not exist yet)
	d := &c.Webhooks.Defaults
	setBoolIfEnv(&d.Enabled, "STOREFRONT_WEBHOOK_ENABLED")
	setIfEnv(&d.DestinationURL, "STOREFRONT_WEBHOOK_DESTINATION_URL")
	setIfEnv(&d.SigningSecret, "STOREFRONT_WEBHOOK_SIGNING_SECRET")
	setIntIfEnv(&d.TimeoutSeconds, "STOREFRONT_WEBHOOK_TIMEOUT_SECONDS")
	setIntIfEnv(&d.RetryAttempts, "STOREFRONT_WEBHOOK_RETRY_ATTEMPTS")
	setIntIfEnv(&d.RetryDelaySeconds, "STOREFRONT_WEBHOOK_RETRY_DELAY_SECONDS")

	// Admin API keys: STOREFRONT_ADMIN_API_KEY is an admin key,
	// STOREFRONT_SCHEDULER_API_KEY may only trigger drains.
	if v := strings.TrimSpace(os.Getenv("STOREFRONT_ADMIN_API_KEY")); v != "" {
		if c.Admin.APIKeys == nil {
			c.Admin.APIKeys = make(map[string]string)
		}
		c.Admin.APIKeys[v] = "admin"
	}
	if v := strings.TrimSpace(os.Getenv("STOREFRONT_SCHEDULER_API_KEY")); v != "" {
		if c.Admin.APIKeys == nil {
			c.Admin.APIKeys = make(map[string]string)
		}
		c.Admin.APIKeys[v] = "scheduler"
	}

	setBoolIfEnv(&c.CircuitBreaker.Enabled, "STOREFRONT_CIRCUIT_BREAKER_ENABLED")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setIntIfEnv sets an int pointer from an environment variable, ignoring unparsable values.
func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*target = n
		}
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
// Examples: "api" -> "/api", "/api/" -> "/api"
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return prefix
}
