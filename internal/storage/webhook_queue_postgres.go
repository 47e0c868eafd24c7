package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const queueColumns = `id, order_id, destination_url, payload, event_type, status, attempts, max_attempts,
	next_retry_at, error_message, created_at, updated_at`

// EnqueueWebhook inserts a pending entry.
func (s *PostgresStore) EnqueueWebhook(ctx context.Context, req EnqueueRequest) (QueueEntry, error) {
	if err := validateEnqueueRequest(&req); err != nil {
		return QueueEntry{}, err
	}
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	entry := newQueueEntry(uuid.NewString(), req, time.Now().UTC())

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, '', $9, $10)
	`, s.tables.Queue, queueColumns)

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.OrderID,
		entry.DestinationURL,
		string(entry.Payload),
		entry.EventType,
		entry.Status,
		entry.Attempts,
		entry.MaxAttempts,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return QueueEntry{}, fmt.Errorf("insert webhook: %w", err)
	}
	return entry, nil
}

// FetchDueWebhooks returns pending entries ready for delivery, oldest first.
func (s *PostgresStore) FetchDueWebhooks(ctx context.Context, limit int) ([]QueueEntry, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= $1)
		ORDER BY created_at ASC
		LIMIT $2
	`, queueColumns, s.tables.Queue)
	return s.queryEntries(ctx, query, time.Now().UTC(), fetchLimit(limit))
}

// ClaimWebhook moves a pending entry to processing with a conditional update.
func (s *PostgresStore) ClaimWebhook(ctx context.Context, id string) (QueueEntry, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s SET status = 'processing', updated_at = $2
		WHERE id = $1 AND status = 'pending'
		RETURNING %s
	`, s.tables.Queue, queueColumns)

	entry, err := scanQueueEntry(s.db.QueryRowContext(ctx, query, id, time.Now().UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return QueueEntry{}, s.classifyMiss(ctx, id, WebhookStatusProcessing)
	}
	if err != nil {
		return QueueEntry{}, fmt.Errorf("claim webhook: %w", err)
	}
	return entry, nil
}

// CompleteWebhook marks a claimed entry delivered.
func (s *PostgresStore) CompleteWebhook(ctx context.Context, id string, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET status = 'completed', next_retry_at = NULL, updated_at = $2
		WHERE id = $1 AND status = 'processing'
	`, s.tables.Queue)
	return s.transition(ctx, id, WebhookStatusCompleted, query, id, at)
}

// RescheduleWebhook records a failed attempt and returns the entry to pending.
func (s *PostgresStore) RescheduleWebhook(ctx context.Context, id string, attempts int, errMsg string, nextRetryAt, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET status = 'pending', attempts = $2, error_message = $3, next_retry_at = $4, updated_at = $5
		WHERE id = $1 AND status = 'processing' AND $2 < max_attempts
	`, s.tables.Queue)
	return s.transition(ctx, id, WebhookStatusPending, query, id, attempts, errMsg, nextRetryAt, at)
}

// FailWebhook records the final failed attempt.
func (s *PostgresStore) FailWebhook(ctx context.Context, id string, attempts int, errMsg string, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET status = 'failed', attempts = $2, error_message = $3, next_retry_at = NULL, updated_at = $4
		WHERE id = $1 AND status = 'processing' AND $2 <= max_attempts
	`, s.tables.Queue)
	return s.transition(ctx, id, WebhookStatusFailed, query, id, attempts, errMsg, at)
}

// ReleaseWebhook returns a claimed entry to pending without consuming an attempt.
func (s *PostgresStore) ReleaseWebhook(ctx context.Context, id string, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET status = 'pending', updated_at = $2
		WHERE id = $1 AND status = 'processing'
	`, s.tables.Queue)
	return s.transition(ctx, id, WebhookStatusPending, query, id, at)
}

// CancelWebhook marks a pending entry failed.
func (s *PostgresStore) CancelWebhook(ctx context.Context, id, reason string, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET status = 'failed', error_message = $2, next_retry_at = NULL, updated_at = $3
		WHERE id = $1 AND status = 'pending'
	`, s.tables.Queue)
	return s.transition(ctx, id, WebhookStatusFailed, query, id, cancelMessage(reason), at)
}

// RequeueStaleWebhooks releases processing entries last touched before olderThan.
func (s *PostgresStore) RequeueStaleWebhooks(ctx context.Context, olderThan, at time.Time) (int, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s SET status = 'pending', updated_at = $2
		WHERE status = 'processing' AND updated_at < $1
	`, s.tables.Queue)

	result, err := s.db.ExecContext(ctx, query, olderThan, at)
	if err != nil {
		return 0, fmt.Errorf("requeue stale webhooks: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return int(n), nil
}

// GetWebhook retrieves a queue entry by ID.
func (s *PostgresStore) GetWebhook(ctx context.Context, id string) (QueueEntry, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, queueColumns, s.tables.Queue)
	entry, err := scanQueueEntry(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return QueueEntry{}, ErrNotFound
	}
	if err != nil {
		return QueueEntry{}, fmt.Errorf("scan webhook: %w", err)
	}
	return entry, nil
}

// ListWebhooks lists entries newest first with an optional status filter.
func (s *PostgresStore) ListWebhooks(ctx context.Context, status WebhookStatus, limit int) ([]QueueEntry, error) {
	if status == "" {
		query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at DESC LIMIT $1`, queueColumns, s.tables.Queue)
		return s.queryEntries(ctx, query, listLimit(limit))
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE status = $1 ORDER BY created_at DESC LIMIT $2`, queueColumns, s.tables.Queue)
	return s.queryEntries(ctx, query, status, listLimit(limit))
}

// ListWebhooksByOrder lists all entries of an order, oldest first.
func (s *PostgresStore) ListWebhooksByOrder(ctx context.Context, orderID string) ([]QueueEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE order_id = $1 ORDER BY created_at ASC`, queueColumns, s.tables.Queue)
	return s.queryEntries(ctx, query, orderID)
}

// transition runs a conditional UPDATE and explains a zero-row result.
func (s *PostgresStore) transition(ctx context.Context, id string, to WebhookStatus, query string, args ...interface{}) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return s.classifyMiss(ctx, id, to)
	}
	return nil
}

// classifyMiss reports why a conditional update matched no row.
func (s *PostgresStore) classifyMiss(ctx context.Context, id string, to WebhookStatus) error {
	var current WebhookStatus
	query := fmt.Sprintf(`SELECT status FROM %s WHERE id = $1`, s.tables.Queue)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("query webhook status: %w", err)
	}
	if to == WebhookStatusProcessing && current == WebhookStatusProcessing {
		return ErrAlreadyClaimed
	}
	return transitionError(id, current, to)
}

func (s *PostgresStore) queryEntries(ctx context.Context, query string, args ...interface{}) ([]QueueEntry, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query webhooks: %w", err)
	}
	defer rows.Close()

	var entries []QueueEntry
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanQueueEntry(s scanner) (QueueEntry, error) {
	var entry QueueEntry
	var payload string
	var nextRetryAt sql.NullTime

	err := s.Scan(
		&entry.ID,
		&entry.OrderID,
		&entry.DestinationURL,
		&payload,
		&entry.EventType,
		&entry.Status,
		&entry.Attempts,
		&entry.MaxAttempts,
		&nextRetryAt,
		&entry.ErrorMessage,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return QueueEntry{}, err
	}

	entry.Payload = []byte(payload)
	if nextRetryAt.Valid {
		t := nextRetryAt.Time
		entry.NextRetryAt = &t
	}
	return entry, nil
}
