package config

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Stripe.Mode == "" {
		c.Stripe.Mode = "test"
	}
	if c.Stripe.Currency == "" {
		c.Stripe.Currency = "usd"
	}

	// Orders and catalog follow storage.backend unless set explicitly, so
	// a postgres deployment only configures its URL once.
	if c.Orders.Source == "" {
		if c.Storage.Backend == "postgres" {
			c.Orders.Source = "postgres"
		} else {
			c.Orders.Source = "memory"
		}
	}
	if c.Orders.Source == "postgres" && c.Orders.PostgresURL == "" {
		c.Orders.PostgresURL = c.Storage.PostgresURL
	}
	if c.Orders.OrdersTableName == "" {
		c.Orders.OrdersTableName = c.Storage.SchemaMapping.Orders.TableName
	}
	if c.Orders.CustomersTableName == "" {
		c.Orders.CustomersTableName = c.Storage.SchemaMapping.Customers.TableName
	}

	if c.Catalog.Source == "" {
		switch c.Storage.Backend {
		case "postgres":
			c.Catalog.Source = "postgres"
		case "mongodb":
			c.Catalog.Source = "mongodb"
		default:
			c.Catalog.Source = "yaml"
		}
	}
	if c.Catalog.Source == "postgres" {
		if c.Catalog.PostgresURL == "" {
			c.Catalog.PostgresURL = c.Storage.PostgresURL
		}
		if c.Catalog.PostgresTableName == "" {
			c.Catalog.PostgresTableName = c.Storage.SchemaMapping.Products.TableName
		}
	}
	if c.Catalog.Source == "mongodb" {
		if c.Catalog.MongoDBURL == "" {
			c.Catalog.MongoDBURL = c.Storage.MongoDBURL
		}
		if c.Catalog.MongoDBDatabase == "" {
			c.Catalog.MongoDBDatabase = c.Storage.MongoDBDatabase
		}
		if c.Catalog.MongoDBCollection == "" {
			c.Catalog.MongoDBCollection = c.Storage.SchemaMapping.Products.TableName
		}
	}

	w := &c.Webhooks
	if w.PollInterval.Duration <= 0 {
		w.PollInterval = Duration{Duration: 30 * time.Second}
	}
	if w.BatchSize <= 0 {
		w.BatchSize = 10
	}
	if w.StaleAfter.Duration < 0 {
		w.StaleAfter = Duration{}
	}
	if w.DefaultTimeout.Duration <= 0 {
		w.DefaultTimeout = Duration{Duration: 30 * time.Second}
	}
	if w.MaxBackoff.Duration <= 0 {
		w.MaxBackoff = Duration{Duration: 24 * time.Hour}
	}
	if strings.TrimSpace(w.UserAgent) == "" {
		w.UserAgent = "PlatehausStorefront-Webhooks/1.0"
	}
	if w.Defaults.TimeoutSeconds <= 0 {
		w.Defaults.TimeoutSeconds = 30
	}
	if w.Defaults.RetryAttempts <= 0 {
		w.Defaults.RetryAttempts = 3
	}
	if w.Defaults.RetryDelaySeconds <= 0 {
		w.Defaults.RetryDelaySeconds = 60
	}
	if c.Admin.APIKeys == nil {
		c.Admin.APIKeys = make(map[string]string)
	}

	return c.validate()
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			errs = append(errs, "storage.postgres_url is required when storage.backend is 'postgres'")
		}
	case "mongodb":
		if c.Storage.MongoDBURL == "" {
			errs = append(errs, "storage.mongodb_url is required when storage.backend is 'mongodb'")
		}
		if c.Storage.MongoDBDatabase == "" {
			errs = append(errs, "storage.mongodb_database is required when storage.backend is 'mongodb'")
		}
	case "file":
		if c.Storage.FilePath == "" {
			errs = append(errs, "storage.file_path is required when storage.backend is 'file'")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend %q is not supported", c.Storage.Backend))
	}

	switch c.Orders.Source {
	case "memory":
	case "postgres":
		if c.Orders.PostgresURL == "" {
			errs = append(errs, "orders.postgres_url is required when orders.source is 'postgres'")
		}
	default:
		errs = append(errs, fmt.Sprintf("orders.source %q is not supported", c.Orders.Source))
	}

	switch c.Catalog.Source {
	case "yaml":
		for i, p := range c.Catalog.Products {
			if p.Weight <= 0 {
				errs = append(errs, fmt.Sprintf("catalog.products[%d].weight must be positive", i))
			}
		}
	case "postgres":
		if c.Catalog.PostgresURL == "" {
			errs = append(errs, "catalog.postgres_url is required when catalog.source is 'postgres'")
		}
	case "mongodb":
		if c.Catalog.MongoDBURL == "" || c.Catalog.MongoDBDatabase == "" {
			errs = append(errs, "catalog.mongodb_url and catalog.mongodb_database are required when catalog.source is 'mongodb'")
		}
	default:
		errs = append(errs, fmt.Sprintf("catalog.source %q is not supported", c.Catalog.Source))
	}

	if raw := c.Webhooks.Defaults.DestinationURL; raw != "" {
		if err := validateDestinationURL(raw); err != nil {
			errs = append(errs, fmt.Sprintf("webhooks.defaults.destination_url: %v", err))
		}
	}
	if c.Webhooks.Defaults.Enabled && c.Webhooks.Defaults.DestinationURL == "" {
		errs = append(errs, "webhooks.defaults.destination_url is required when webhooks.defaults.enabled is true")
	}

	for key, role := range c.Admin.APIKeys {
		if role != "admin" && role != "scheduler" {
			errs = append(errs, fmt.Sprintf("admin.api_keys[%s...]: unknown role %q", truncateKey(key), role))
		}
	}

	if c.Stripe.Mode != "test" && c.Stripe.Mode != "live" {
		errs = append(errs, fmt.Sprintf("stripe.mode %q must be 'test' or 'live'", c.Stripe.Mode))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// validateDestinationURL only checks shape; reachability is discovered at delivery time.
func validateDestinationURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func truncateKey(key string) string {
	if len(key) <= 4 {
		return key
	}
	return key[:4]
}

// ApplyPostgresPoolSettings applies connection pool settings to a database connection.
// If pool config is not specified, applies sensible defaults.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}

	// maxIdle cannot exceed maxOpen
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
