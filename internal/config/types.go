package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Storage        StorageConfig        `yaml:"storage"`
	Orders         OrdersConfig         `yaml:"orders"`
	Catalog        CatalogConfig        `yaml:"catalog"`
	Stripe         StripeConfig         `yaml:"stripe"`
	Webhooks       WebhooksConfig       `yaml:"webhooks"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Admin          AdminConfig          `yaml:"admin"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`          // Optional prefix for all routes (e.g., "/api")
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Optional API key protecting /metrics (empty disables protection)
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // Maximum number of open connections (default: 25)
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // Maximum number of idle connections (default: 5)
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // Maximum lifetime of connections (default: 5m)
}

// StorageConfig holds the backend for webhook settings, queue and delivery log.
type StorageConfig struct {
	Backend         string              `yaml:"backend"`          // "memory", "postgres", "mongodb", or "file"
	PostgresURL     string              `yaml:"postgres_url"`     // PostgreSQL connection string
	MongoDBURL      string              `yaml:"mongodb_url"`      // MongoDB connection string
	MongoDBDatabase string              `yaml:"mongodb_database"` // MongoDB database name
	FilePath        string              `yaml:"file_path"`        // Path to JSON file for file backend
	PostgresPool    PostgresPoolConfig  `yaml:"postgres_pool"`
	SchemaMapping   SchemaMappingConfig `yaml:"schema_mapping"` // Table/collection name overrides
}

// SchemaMappingConfig holds table/collection name mappings for custom schemas.
type SchemaMappingConfig struct {
	WebhookSettings TableMappingConfig `yaml:"webhook_settings"`
	WebhookQueue    TableMappingConfig `yaml:"webhook_queue"`
	WebhookLogs     TableMappingConfig `yaml:"webhook_logs"`
	Orders          TableMappingConfig `yaml:"orders"`
	Customers       TableMappingConfig `yaml:"customers"`
	Products        TableMappingConfig `yaml:"products"`
}

// TableMappingConfig defines a single table/collection mapping.
type TableMappingConfig struct {
	TableName string `yaml:"table_name"`
}

// OrdersConfig selects where order and customer rows are read from.
type OrdersConfig struct {
	Source             string `yaml:"source"`       // "postgres" or "memory"
	PostgresURL        string `yaml:"postgres_url"` // Defaults to storage.postgres_url
	OrdersTableName    string `yaml:"orders_table_name"`
	CustomersTableName string `yaml:"customers_table_name"`
}

// CatalogConfig configures the product catalog used for item title enrichment.
type CatalogConfig struct {
	Source            string           `yaml:"source"` // "yaml", "postgres", or "mongodb"
	CacheTTL          Duration         `yaml:"cache_ttl"`
	PostgresURL       string           `yaml:"postgres_url"`
	PostgresTableName string           `yaml:"postgres_table_name"`
	MongoDBURL        string           `yaml:"mongodb_url"`
	MongoDBDatabase   string           `yaml:"mongodb_database"`
	MongoDBCollection string           `yaml:"mongodb_collection"`
	Products          []CatalogProduct `yaml:"products"` // Only used when Source = "yaml"
}

// CatalogProduct is a YAML-defined plate in the catalog.
type CatalogProduct struct {
	Weight       float64 `yaml:"weight"`
	Title        string  `yaml:"title"`
	SellingPrice float64 `yaml:"selling_price"`
}

// StripeConfig holds Stripe payment integration configuration.
type StripeConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	SuccessURL    string `yaml:"success_url"`
	CancelURL     string `yaml:"cancel_url"`
	Currency      string `yaml:"currency"`
	TaxRateID     string `yaml:"tax_rate_id"`
	Mode          string `yaml:"mode"` // live | test
}

// WebhooksConfig holds worker tuning and the settings row provisioned on first start.
type WebhooksConfig struct {
	WorkerEnabled  bool             `yaml:"worker_enabled"`  // Run the polling worker inside the server process
	PollInterval   Duration         `yaml:"poll_interval"`   // Time between drains (default: 30s)
	BatchSize      int              `yaml:"batch_size"`      // Entries fetched per drain (default: 10)
	StaleAfter     Duration         `yaml:"stale_after"`     // Requeue entries stuck in processing (default: 10m, 0 disables)
	DefaultTimeout Duration         `yaml:"default_timeout"` // Used when settings are unavailable (default: 30s)
	MaxBackoff     Duration         `yaml:"max_backoff"`     // Upper bound on retry delay (default: 24h)
	UserAgent      string           `yaml:"user_agent"`
	Defaults       SettingsDefaults `yaml:"defaults"`
}

// SettingsDefaults seeds the webhook_settings row when none exists.
type SettingsDefaults struct {
	Enabled             bool   `yaml:"enabled"`
	DestinationURL      string `yaml:"destination_url"`
	SigningSecret       string `yaml:"signing_secret"`
	TimeoutSeconds      int    `yaml:"timeout_seconds"`
	RetryAttempts       int    `yaml:"retry_attempts"`
	RetryDelaySeconds   int    `yaml:"retry_delay_seconds"`
	IncludeCustomerData bool   `yaml:"include_customer_data"`
	IncludeOrderItems   bool   `yaml:"include_order_items"`
	IncludePricingData  bool   `yaml:"include_pricing_data"`
	IncludeShippingData bool   `yaml:"include_shipping_data"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`
}

// AdminConfig holds API keys for the back office and the external scheduler.
type AdminConfig struct {
	APIKeys map[string]string `yaml:"api_keys"` // Map of API key -> role (admin, scheduler)
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
type CircuitBreakerConfig struct {
	Enabled   bool                 `yaml:"enabled"`    // Enable circuit breakers (default: true)
	StripeAPI BreakerServiceConfig `yaml:"stripe_api"` // Stripe API circuit breaker
	Webhook   BreakerServiceConfig `yaml:"webhook"`    // Webhook destination circuit breaker
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio (default: 10)
}
