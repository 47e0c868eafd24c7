package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store implementation suitable for tests and single-instance development.
// Everything is lost on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	state *queueState
	now   func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: newQueueState(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the store clock used for createdAt, claims and due checks.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

// Close implements Store. The memory store holds no external resources.
func (m *MemoryStore) Close() error {
	return nil
}

// GetWebhookSettings returns the settings row or ErrNotFound.
func (m *MemoryStore) GetWebhookSettings(_ context.Context) (WebhookSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state.settings == nil {
		return WebhookSettings{}, ErrNotFound
	}
	return *m.state.settings, nil
}

// SaveWebhookSettings creates or replaces the settings row.
func (m *MemoryStore) SaveWebhookSettings(_ context.Context, settings WebhookSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = m.now()
	}
	m.state.settings = &settings
	return nil
}

// EnqueueWebhook inserts a pending entry.
func (m *MemoryStore) EnqueueWebhook(_ context.Context, req EnqueueRequest) (QueueEntry, error) {
	if err := validateEnqueueRequest(&req); err != nil {
		return QueueEntry{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry := newQueueEntry(uuid.NewString(), req, m.now())
	m.state.insert(entry)
	return entry.clone(), nil
}

// FetchDueWebhooks returns pending entries ready for delivery, oldest first.
func (m *MemoryStore) FetchDueWebhooks(_ context.Context, limit int) ([]QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.state.due(m.now(), fetchLimit(limit)), nil
}

// ClaimWebhook moves a pending entry to processing.
func (m *MemoryStore) ClaimWebhook(_ context.Context, id string) (QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	return m.state.mutate(id, func(e *QueueEntry) error { return e.claim(now) })
}

// CompleteWebhook marks a claimed entry delivered.
func (m *MemoryStore) CompleteWebhook(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.state.mutate(id, func(e *QueueEntry) error { return e.complete(at) })
	return err
}

// RescheduleWebhook records a failed attempt and returns the entry to pending.
func (m *MemoryStore) RescheduleWebhook(_ context.Context, id string, attempts int, errMsg string, nextRetryAt, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.state.mutate(id, func(e *QueueEntry) error { return e.reschedule(attempts, errMsg, nextRetryAt, at) })
	return err
}

// FailWebhook records the final failed attempt.
func (m *MemoryStore) FailWebhook(_ context.Context, id string, attempts int, errMsg string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.state.mutate(id, func(e *QueueEntry) error { return e.fail(attempts, errMsg, at) })
	return err
}

// ReleaseWebhook returns a claimed entry to pending without consuming an attempt.
func (m *MemoryStore) ReleaseWebhook(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.state.mutate(id, func(e *QueueEntry) error { return e.release(at) })
	return err
}

// CancelWebhook marks a pending entry failed.
func (m *MemoryStore) CancelWebhook(_ context.Context, id, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.state.mutate(id, func(e *QueueEntry) error { return e.cancel(reason, at) })
	return err
}

// RequeueStaleWebhooks releases processing entries last touched before olderThan.
func (m *MemoryStore) RequeueStaleWebhooks(_ context.Context, olderThan, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state.requeueStale(olderThan, at), nil
}

// GetWebhook retrieves a queue entry by ID.
func (m *MemoryStore) GetWebhook(_ context.Context, id string) (QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.state.get(id)
}

// ListWebhooks lists entries newest first with an optional status filter.
func (m *MemoryStore) ListWebhooks(_ context.Context, status WebhookStatus, limit int) ([]QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.state.list(status, listLimit(limit)), nil
}

// ListWebhooksByOrder lists all entries of an order, oldest first.
func (m *MemoryStore) ListWebhooksByOrder(_ context.Context, orderID string) ([]QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.state.byOrder(orderID), nil
}

// AppendDeliveryLog appends one attempt record.
func (m *MemoryStore) AppendDeliveryLog(_ context.Context, entry DeliveryLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prepareDeliveryLog(&entry, uuid.NewString(), m.now())
	m.state.appendLog(entry)
	return nil
}

// ListDeliveryLogs returns the most recent attempts, newest first.
func (m *MemoryStore) ListDeliveryLogs(_ context.Context, limit int) ([]DeliveryLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.state.recentLogs(listLimit(limit)), nil
}

// ListDeliveryLogsByOrder returns every attempt for an order, oldest first.
func (m *MemoryStore) ListDeliveryLogsByOrder(_ context.Context, orderID string) ([]DeliveryLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.state.logsWhere(func(l DeliveryLogEntry) bool { return l.OrderID == orderID }), nil
}

// ListDeliveryLogsByEntry returns every attempt for a queue entry, oldest first.
func (m *MemoryStore) ListDeliveryLogsByEntry(_ context.Context, queueEntryID string) ([]DeliveryLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.state.logsWhere(func(l DeliveryLogEntry) bool { return l.QueueEntryID == queueEntryID }), nil
}
