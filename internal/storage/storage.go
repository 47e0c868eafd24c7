package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platehaus/storefront/internal/config"
)

// ErrNotFound is returned when a requested entity is missing from the store.
var ErrNotFound = errors.New("storage: not found")

// ErrAlreadyClaimed is returned when a claim races another worker and the entry is no longer pending.
var ErrAlreadyClaimed = errors.New("storage: webhook already claimed")

// ErrInvalidTransition is returned when a queue entry cannot move to the requested status.
// Completed and failed entries never transition again.
var ErrInvalidTransition = errors.New("storage: invalid webhook status transition")

// Store captures the persistence requirements of the webhook pipeline.
//
// # Queue state machine
//
// Entries move pending -> processing via ClaimWebhook, then processing -> completed,
// processing -> pending (retry or release) or processing -> failed. CancelWebhook is the
// only way out of pending without a claim. Entries are retained for audit and never deleted.
//
// Every backend implements ClaimWebhook as a conditional update on status='pending', so
// two workers cannot both claim the same entry.
type Store interface {
	// Settings (single row)
	GetWebhookSettings(ctx context.Context) (WebhookSettings, error)
	SaveWebhookSettings(ctx context.Context, settings WebhookSettings) error

	// Queue
	EnqueueWebhook(ctx context.Context, req EnqueueRequest) (QueueEntry, error)
	// FetchDueWebhooks returns pending entries whose retry time has passed, oldest first.
	FetchDueWebhooks(ctx context.Context, limit int) ([]QueueEntry, error)
	ClaimWebhook(ctx context.Context, id string) (QueueEntry, error)
	CompleteWebhook(ctx context.Context, id string, at time.Time) error
	RescheduleWebhook(ctx context.Context, id string, attempts int, errMsg string, nextRetryAt, at time.Time) error
	FailWebhook(ctx context.Context, id string, attempts int, errMsg string, at time.Time) error
	// ReleaseWebhook returns a claimed entry to pending without counting an attempt.
	ReleaseWebhook(ctx context.Context, id string, at time.Time) error
	// CancelWebhook marks a pending entry failed (admin operation).
	CancelWebhook(ctx context.Context, id, reason string, at time.Time) error
	// RequeueStaleWebhooks releases entries left in processing since before olderThan.
	RequeueStaleWebhooks(ctx context.Context, olderThan, at time.Time) (int, error)
	GetWebhook(ctx context.Context, id string) (QueueEntry, error)
	ListWebhooks(ctx context.Context, status WebhookStatus, limit int) ([]QueueEntry, error)
	ListWebhooksByOrder(ctx context.Context, orderID string) ([]QueueEntry, error)

	// Delivery log (append-only)
	AppendDeliveryLog(ctx context.Context, entry DeliveryLogEntry) error
	ListDeliveryLogs(ctx context.Context, limit int) ([]DeliveryLogEntry, error)
	ListDeliveryLogsByOrder(ctx context.Context, orderID string) ([]DeliveryLogEntry, error)
	ListDeliveryLogsByEntry(ctx context.Context, queueEntryID string) ([]DeliveryLogEntry, error)

	Close() error
}

// StoreConfig holds storage backend configuration.
type StoreConfig struct {
	Backend         string // "memory", "postgres", "mongodb", or "file"
	PostgresURL     string
	MongoDBURL      string
	MongoDBDatabase string
	FilePath        string
	PostgresPool    config.PostgresPoolConfig

	// Schema mapping (table names for Postgres, collection names for MongoDB)
	Tables TableNames
}

// StoreConfigFromConfig maps the storage section of the application config.
func StoreConfigFromConfig(cfg config.StorageConfig) StoreConfig {
	return StoreConfig{
		Backend:         cfg.Backend,
		PostgresURL:     cfg.PostgresURL,
		MongoDBURL:      cfg.MongoDBURL,
		MongoDBDatabase: cfg.MongoDBDatabase,
		FilePath:        cfg.FilePath,
		PostgresPool:    cfg.PostgresPool,
		Tables: TableNames{
			Settings: cfg.SchemaMapping.WebhookSettings.TableName,
			Queue:    cfg.SchemaMapping.WebhookQueue.TableName,
			Logs:     cfg.SchemaMapping.WebhookLogs.TableName,
		},
	}
}

// NewStore creates a Store instance based on the provided configuration.
func NewStore(cfg StoreConfig) (Store, error) {
	return NewStoreWithDB(cfg, nil)
}

// NewStoreWithDB creates a Store instance with an optional shared database pool.
// If sharedDB is provided (non-nil) for postgres backends, it will be used instead of creating a new connection.
func NewStoreWithDB(cfg StoreConfig, sharedDB *sql.DB) (Store, error) {
	tables := cfg.Tables.withDefaults()
	if err := tables.validate(); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case "memory", "":
		return NewMemoryStore(), nil
	case "postgres":
		if sharedDB != nil {
			return NewPostgresStoreWithDB(sharedDB, tables)
		}
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("postgres backend requires postgres_url")
		}
		return NewPostgresStore(cfg.PostgresURL, cfg.PostgresPool, tables)
	case "mongodb":
		if cfg.MongoDBURL == "" {
			return nil, fmt.Errorf("mongodb backend requires mongodb_url")
		}
		if cfg.MongoDBDatabase == "" {
			return nil, fmt.Errorf("mongodb backend requires mongodb_database")
		}
		return NewMongoDBStore(cfg.MongoDBURL, cfg.MongoDBDatabase, tables)
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("file backend requires file_path")
		}
		return NewFileStore(cfg.FilePath)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
