package observability

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggingHook traces every pipeline event using zerolog.
// Registered when the server runs at debug level to follow a single order end to end.
type LoggingHook struct {
	logger zerolog.Logger
}

// NewLoggingHook creates a hook that logs all events.
func NewLoggingHook(logger zerolog.Logger) *LoggingHook {
	return &LoggingHook{logger: logger}
}

func (h *LoggingHook) Name() string {
	return "logging"
}

// ===============================================
// WebhookHook Implementation
// ===============================================

func (h *LoggingHook) OnWebhookQueued(ctx context.Context, event WebhookQueuedEvent) {
	h.logger.Debug().
		Str("entry_id", event.EntryID).
		Str("order_id", event.OrderID).
		Str("event_type", event.EventType).
		Str("url", event.URL).
		Int("max_attempts", event.MaxAttempts).
		Msg("trace.webhook_queued")
}

func (h *LoggingHook) OnWebhookClaimed(ctx context.Context, event WebhookClaimedEvent) {
	h.logger.Debug().
		Str("entry_id", event.EntryID).
		Str("order_id", event.OrderID).
		Str("event_type", event.EventType).
		Int("attempt", event.Attempt).
		Msg("trace.webhook_claimed")
}

func (h *LoggingHook) OnWebhookDelivered(ctx context.Context, event WebhookDeliveredEvent) {
	h.logger.Debug().
		Str("entry_id", event.EntryID).
		Str("order_id", event.OrderID).
		Str("event_type", event.EventType).
		Int("attempts", event.Attempts).
		Dur("duration", event.Duration).
		Int("status_code", event.StatusCode).
		Msg("trace.webhook_delivered")
}

func (h *LoggingHook) OnWebhookRetryScheduled(ctx context.Context, event WebhookRetryScheduledEvent) {
	h.logger.Debug().
		Str("entry_id", event.EntryID).
		Str("order_id", event.OrderID).
		Str("event_type", event.EventType).
		Int("attempts", event.Attempts).
		Int("max_attempts", event.MaxAttempts).
		Time("next_retry", event.NextRetryAt).
		Dur("backoff", event.Backoff).
		Str("failure_kind", event.FailureKind).
		Str("error", event.Error).
		Msg("trace.webhook_retry_scheduled")
}

func (h *LoggingHook) OnWebhookFailed(ctx context.Context, event WebhookFailedEvent) {
	h.logger.Debug().
		Str("entry_id", event.EntryID).
		Str("order_id", event.OrderID).
		Str("event_type", event.EventType).
		Int("attempts", event.Attempts).
		Str("failure_kind", event.FailureKind).
		Str("error", event.Error).
		Msg("trace.webhook_failed")
}

func (h *LoggingHook) OnDeliveryLogWriteFailed(ctx context.Context, event DeliveryLogWriteFailedEvent) {
	h.logger.Debug().
		Str("entry_id", event.EntryID).
		Str("order_id", event.OrderID).
		Str("error", event.Error).
		Msg("trace.delivery_log_write_failed")
}

// ===============================================
// PaymentHook Implementation
// ===============================================

func (h *LoggingHook) OnPaymentLinkCreated(ctx context.Context, event PaymentLinkCreatedEvent) {
	log := h.logger.Debug()
	if !event.Success {
		log = log.Str("error", event.Error)
	}
	log.Str("order_id", event.OrderID).
		Str("created_via", event.CreatedVia).
		Str("batch_id", event.BatchID).
		Bool("success", event.Success).
		Dur("duration", event.Duration).
		Msg("trace.payment_link_created")
}

func (h *LoggingHook) OnOrderPaid(ctx context.Context, event OrderPaidEvent) {
	h.logger.Debug().
		Str("order_id", event.OrderID).
		Str("source", event.Source).
		Str("trigger", event.Trigger).
		Float64("amount_paid", event.AmountPaid).
		Msg("trace.order_paid")
}
