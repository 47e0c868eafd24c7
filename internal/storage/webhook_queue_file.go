package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EnqueueWebhook inserts a pending entry and persists it.
func (s *FileStore) EnqueueWebhook(_ context.Context, req EnqueueRequest) (QueueEntry, error) {
	if err := validateEnqueueRequest(&req); err != nil {
		return QueueEntry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := newQueueEntry(uuid.NewString(), req, s.now())
	s.state.insert(entry)
	return entry.clone(), s.persist()
}

// FetchDueWebhooks returns pending entries ready for delivery, oldest first.
func (s *FileStore) FetchDueWebhooks(_ context.Context, limit int) ([]QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.due(s.now(), fetchLimit(limit)), nil
}

// ClaimWebhook moves a pending entry to processing.
func (s *FileStore) ClaimWebhook(_ context.Context, id string) (QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, err := s.state.mutate(id, func(e *QueueEntry) error { return e.claim(now) })
	if err != nil {
		return QueueEntry{}, err
	}
	return entry, s.persist()
}

// CompleteWebhook marks a claimed entry delivered.
func (s *FileStore) CompleteWebhook(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(e *QueueEntry) error { return e.complete(at) })
}

// RescheduleWebhook records a failed attempt and returns the entry to pending.
func (s *FileStore) RescheduleWebhook(_ context.Context, id string, attempts int, errMsg string, nextRetryAt, at time.Time) error {
	return s.update(id, func(e *QueueEntry) error { return e.reschedule(attempts, errMsg, nextRetryAt, at) })
}

// FailWebhook records the final failed attempt.
func (s *FileStore) FailWebhook(_ context.Context, id string, attempts int, errMsg string, at time.Time) error {
	return s.update(id, func(e *QueueEntry) error { return e.fail(attempts, errMsg, at) })
}

// ReleaseWebhook returns a claimed entry to pending without consuming an attempt.
func (s *FileStore) ReleaseWebhook(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(e *QueueEntry) error { return e.release(at) })
}

// CancelWebhook marks a pending entry failed.
func (s *FileStore) CancelWebhook(_ context.Context, id, reason string, at time.Time) error {
	return s.update(id, func(e *QueueEntry) error { return e.cancel(reason, at) })
}

func (s *FileStore) update(id string, fn func(*QueueEntry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.state.mutate(id, fn); err != nil {
		return err
	}
	return s.persist()
}

// RequeueStaleWebhooks releases processing entries last touched before olderThan.
func (s *FileStore) RequeueStaleWebhooks(_ context.Context, olderThan, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.state.requeueStale(olderThan, at)
	if n == 0 {
		return 0, nil
	}
	return n, s.persist()
}

// GetWebhook retrieves a queue entry by ID.
func (s *FileStore) GetWebhook(_ context.Context, id string) (QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.get(id)
}

// ListWebhooks lists entries newest first with an optional status filter.
func (s *FileStore) ListWebhooks(_ context.Context, status WebhookStatus, limit int) ([]QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.list(status, listLimit(limit)), nil
}

// ListWebhooksByOrder lists all entries of an order, oldest first.
func (s *FileStore) ListWebhooksByOrder(_ context.Context, orderID string) ([]QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.byOrder(orderID), nil
}
