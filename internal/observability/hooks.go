package observability

import (
	"context"
	"time"
)

// Hook is the base interface for all observability hooks.
// Implementations can emit events to Prometheus, structured logs, tracing backends, etc.
type Hook interface {
	// Name returns the hook's identifier for logging/debugging
	Name() string
}

// WebhookHook receives events at each state transition of a queue entry.
type WebhookHook interface {
	Hook

	// OnWebhookQueued is called after an entry is inserted into the delivery queue.
	OnWebhookQueued(ctx context.Context, event WebhookQueuedEvent)

	// OnWebhookClaimed is called after an entry moves from pending to processing.
	OnWebhookClaimed(ctx context.Context, event WebhookClaimedEvent)

	// OnWebhookDelivered is called after a 2xx response completed the entry.
	OnWebhookDelivered(ctx context.Context, event WebhookDeliveredEvent)

	// OnWebhookRetryScheduled is called after a failed attempt put the entry back to pending.
	OnWebhookRetryScheduled(ctx context.Context, event WebhookRetryScheduledEvent)

	// OnWebhookFailed is called after the final attempt failed and the entry became terminal.
	OnWebhookFailed(ctx context.Context, event WebhookFailedEvent)

	// OnDeliveryLogWriteFailed is called when the audit row for an attempt could not be written.
	OnDeliveryLogWriteFailed(ctx context.Context, event DeliveryLogWriteFailedEvent)
}

// PaymentHook receives events from the order payment flow.
type PaymentHook interface {
	Hook

	// OnPaymentLinkCreated is called after a payment link was created (or failed to be).
	OnPaymentLinkCreated(ctx context.Context, event PaymentLinkCreatedEvent)

	// OnOrderPaid is called after an order transitioned to paid.
	OnOrderPaid(ctx context.Context, event OrderPaidEvent)
}

// ===============================================
// Event Types
// ===============================================

// WebhookQueuedEvent is emitted when a webhook is queued for delivery.
type WebhookQueuedEvent struct {
	Timestamp   time.Time
	EntryID     string
	OrderID     string
	EventType   string // "payment_link_created" or "order_completed"
	URL         string // Redacted destination
	MaxAttempts int
	Metadata    map[string]string
}

// WebhookClaimedEvent is emitted when the worker claims an entry.
type WebhookClaimedEvent struct {
	Timestamp time.Time
	EntryID   string
	OrderID   string
	EventType string
	Attempt   int // Attempt number about to be made (1-based)
}

// WebhookDeliveredEvent is emitted when a webhook is successfully delivered.
type WebhookDeliveredEvent struct {
	Timestamp  time.Time
	EntryID    string
	OrderID    string
	EventType  string
	URL        string
	Attempts   int
	Duration   time.Duration
	StatusCode int
}

// WebhookRetryScheduledEvent is emitted when a failed attempt is rescheduled.
type WebhookRetryScheduledEvent struct {
	Timestamp   time.Time
	EntryID     string
	OrderID     string
	EventType   string
	URL         string
	Attempts    int
	MaxAttempts int
	NextRetryAt time.Time
	Backoff     time.Duration
	FailureKind string // "network", "timeout", "http_status", "local"
	Error       string
	StatusCode  int
	Duration    time.Duration
}

// WebhookFailedEvent is emitted when an entry exhausts its attempts.
type WebhookFailedEvent struct {
	Timestamp   time.Time
	EntryID     string
	OrderID     string
	EventType   string
	URL         string
	Attempts    int
	FailureKind string
	Error       string
	StatusCode  int
	Duration    time.Duration
}

// DeliveryLogWriteFailedEvent is emitted when an attempt could not be recorded.
type DeliveryLogWriteFailedEvent struct {
	Timestamp time.Time
	EntryID   string
	OrderID   string
	Error     string
}

// PaymentLinkCreatedEvent is emitted for each payment link creation attempt.
type PaymentLinkCreatedEvent struct {
	Timestamp  time.Time
	OrderID    string
	CreatedVia string // "admin", "admin_batch", ...
	BatchID    string
	Success    bool
	Error      string
	Duration   time.Duration
}

// OrderPaidEvent is emitted when an order is marked paid.
type OrderPaidEvent struct {
	Timestamp  time.Time
	OrderID    string
	Source     string // "stripe_webhook", "admin"
	Trigger    string // Stripe event type or "manual"
	AmountPaid float64
}
