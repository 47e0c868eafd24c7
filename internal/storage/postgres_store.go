package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/platehaus/storefront/internal/config"
	"github.com/platehaus/storefront/internal/dbpool"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	ownsDB bool // Track if we created the DB connection (for Close())
	tables TableNames
}

// NewPostgresStore creates a new PostgreSQL-backed store and its tables.
func NewPostgresStore(connectionString string, poolConfig config.PostgresPoolConfig, tables TableNames) (*PostgresStore, error) {
	db, err := dbpool.Open(context.Background(), connectionString, poolConfig)
	if err != nil {
		return nil, err
	}

	store, err := newPostgresStore(db, tables)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.ownsDB = true
	return store, nil
}

// NewPostgresStoreWithDB creates a PostgreSQL-backed store using an existing connection pool.
// Close does not close a shared pool.
func NewPostgresStoreWithDB(db *sql.DB, tables TableNames) (*PostgresStore, error) {
	return newPostgresStore(db, tables)
}

func newPostgresStore(db *sql.DB, tables TableNames) (*PostgresStore, error) {
	tables = tables.withDefaults()
	if err := tables.validate(); err != nil {
		return nil, err
	}
	store := &PostgresStore{db: db, tables: tables}
	if err := store.createPostgresTables(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

// createPostgresTables creates the webhook tables if they don't exist.
// Queue payloads are TEXT so the exact signed bytes are returned unchanged.
func (s *PostgresStore) createPostgresTables(ctx context.Context) error {
	ctx, cancel := withSchemaTimeout(ctx)
	defer cancel()

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			enabled BOOLEAN NOT NULL DEFAULT FALSE,
			destination_url TEXT NOT NULL DEFAULT '',
			signing_secret TEXT NOT NULL DEFAULT '',
			timeout_seconds INTEGER NOT NULL DEFAULT 30,
			retry_attempts INTEGER NOT NULL DEFAULT 3,
			retry_delay_seconds INTEGER NOT NULL DEFAULT 60,
			include_customer_data BOOLEAN NOT NULL DEFAULT TRUE,
			include_order_items BOOLEAN NOT NULL DEFAULT TRUE,
			include_pricing_data BOOLEAN NOT NULL DEFAULT TRUE,
			include_shipping_data BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS %[2]s (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			destination_url TEXT NOT NULL,
			payload TEXT NOT NULL,
			event_type TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL,
			next_retry_at TIMESTAMPTZ,
			error_message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			CHECK (attempts <= max_attempts)
		);

		CREATE TABLE IF NOT EXISTS %[3]s (
			id TEXT PRIMARY KEY,
			queue_entry_id TEXT NOT NULL DEFAULT '',
			order_id TEXT NOT NULL,
			destination_url TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload JSONB,
			response_status INTEGER NOT NULL DEFAULT 0,
			response_body TEXT NOT NULL DEFAULT '',
			response_time_ms BIGINT NOT NULL DEFAULT 0,
			success BOOLEAN NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			retry_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_%[2]s_due ON %[2]s(next_retry_at, created_at) WHERE status = 'pending';
		CREATE INDEX IF NOT EXISTS idx_%[2]s_order ON %[2]s(order_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_%[2]s_status_created ON %[2]s(status, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_%[3]s_order ON %[3]s(order_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_%[3]s_entry ON %[3]s(queue_entry_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_%[3]s_created ON %[3]s(created_at DESC);
	`, s.tables.Settings, s.tables.Queue, s.tables.Logs)

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create webhook tables: %w", err)
	}
	return nil
}

// Close closes the database connection when the store owns it.
func (s *PostgresStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// GetWebhookSettings returns the settings row or ErrNotFound.
func (s *PostgresStore) GetWebhookSettings(ctx context.Context) (WebhookSettings, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT enabled, destination_url, signing_secret, timeout_seconds, retry_attempts, retry_delay_seconds,
		       include_customer_data, include_order_items, include_pricing_data, include_shipping_data, updated_at
		FROM %s WHERE id = 1
	`, s.tables.Settings)

	var ws WebhookSettings
	err := s.db.QueryRowContext(ctx, query).Scan(
		&ws.Enabled,
		&ws.DestinationURL,
		&ws.SigningSecret,
		&ws.TimeoutSeconds,
		&ws.RetryAttempts,
		&ws.RetryDelaySeconds,
		&ws.IncludeCustomerData,
		&ws.IncludeOrderItems,
		&ws.IncludePricingData,
		&ws.IncludeShippingData,
		&ws.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return WebhookSettings{}, ErrNotFound
	}
	if err != nil {
		return WebhookSettings{}, fmt.Errorf("query webhook settings: %w", err)
	}
	return ws, nil
}

// SaveWebhookSettings upserts the settings row.
func (s *PostgresStore) SaveWebhookSettings(ctx context.Context, ws WebhookSettings) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	if ws.UpdatedAt.IsZero() {
		ws.UpdatedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, enabled, destination_url, signing_secret, timeout_seconds, retry_attempts, retry_delay_seconds,
		                include_customer_data, include_order_items, include_pricing_data, include_shipping_data, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			destination_url = EXCLUDED.destination_url,
			signing_secret = EXCLUDED.signing_secret,
			timeout_seconds = EXCLUDED.timeout_seconds,
			retry_attempts = EXCLUDED.retry_attempts,
			retry_delay_seconds = EXCLUDED.retry_delay_seconds,
			include_customer_data = EXCLUDED.include_customer_data,
			include_order_items = EXCLUDED.include_order_items,
			include_pricing_data = EXCLUDED.include_pricing_data,
			include_shipping_data = EXCLUDED.include_shipping_data,
			updated_at = EXCLUDED.updated_at
	`, s.tables.Settings)

	_, err := s.db.ExecContext(ctx, query,
		ws.Enabled,
		ws.DestinationURL,
		ws.SigningSecret,
		ws.TimeoutSeconds,
		ws.RetryAttempts,
		ws.RetryDelaySeconds,
		ws.IncludeCustomerData,
		ws.IncludeOrderItems,
		ws.IncludePricingData,
		ws.IncludeShippingData,
		ws.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert webhook settings: %w", err)
	}
	return nil
}

const logColumns = `id, queue_entry_id, order_id, destination_url, event_type, payload, response_status, response_body,
	response_time_ms, success, error_message, retry_count, created_at`

// AppendDeliveryLog inserts one attempt record.
func (s *PostgresStore) AppendDeliveryLog(ctx context.Context, entry DeliveryLogEntry) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	prepareDeliveryLog(&entry, uuid.NewString(), time.Now().UTC())

	var payload interface{}
	if len(entry.Payload) > 0 && json.Valid(entry.Payload) {
		payload = string(entry.Payload)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, s.tables.Logs, logColumns)

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.QueueEntryID,
		entry.OrderID,
		entry.DestinationURL,
		entry.EventType,
		payload,
		entry.ResponseStatus,
		entry.ResponseBodyExcerpt,
		entry.ResponseTimeMs,
		entry.Success,
		entry.ErrorMessage,
		entry.RetryCountAtAttempt,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert delivery log: %w", err)
	}
	return nil
}

// ListDeliveryLogs returns the most recent attempts, newest first.
func (s *PostgresStore) ListDeliveryLogs(ctx context.Context, limit int) ([]DeliveryLogEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at DESC LIMIT $1`, logColumns, s.tables.Logs)
	return s.queryLogs(ctx, query, listLimit(limit))
}

// ListDeliveryLogsByOrder returns every attempt for an order, oldest first.
func (s *PostgresStore) ListDeliveryLogsByOrder(ctx context.Context, orderID string) ([]DeliveryLogEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE order_id = $1 ORDER BY created_at ASC`, logColumns, s.tables.Logs)
	return s.queryLogs(ctx, query, orderID)
}

// ListDeliveryLogsByEntry returns every attempt for a queue entry, oldest first.
func (s *PostgresStore) ListDeliveryLogsByEntry(ctx context.Context, queueEntryID string) ([]DeliveryLogEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE queue_entry_id = $1 ORDER BY created_at ASC`, logColumns, s.tables.Logs)
	return s.queryLogs(ctx, query, queueEntryID)
}

func (s *PostgresStore) queryLogs(ctx context.Context, query string, args ...interface{}) ([]DeliveryLogEntry, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query delivery logs: %w", err)
	}
	defer rows.Close()

	var logs []DeliveryLogEntry
	for rows.Next() {
		var l DeliveryLogEntry
		var payload []byte
		if err := rows.Scan(
			&l.ID,
			&l.QueueEntryID,
			&l.OrderID,
			&l.DestinationURL,
			&l.EventType,
			&payload,
			&l.ResponseStatus,
			&l.ResponseBodyExcerpt,
			&l.ResponseTimeMs,
			&l.Success,
			&l.ErrorMessage,
			&l.RetryCountAtAttempt,
			&l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan delivery log: %w", err)
		}
		if len(payload) > 0 {
			l.Payload = json.RawMessage(payload)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
