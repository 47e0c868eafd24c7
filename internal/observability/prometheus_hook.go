package observability

import (
	"context"

	"github.com/platehaus/storefront/internal/metrics"
)

// PrometheusHook adapts the Prometheus metrics to the hook interface.
type PrometheusHook struct {
	metrics *metrics.Metrics
}

// NewPrometheusHook creates a hook that emits events to Prometheus metrics.
func NewPrometheusHook(m *metrics.Metrics) *PrometheusHook {
	return &PrometheusHook{metrics: m}
}

func (h *PrometheusHook) Name() string {
	return "prometheus"
}

// ===============================================
// WebhookHook Implementation
// ===============================================

func (h *PrometheusHook) OnWebhookQueued(ctx context.Context, event WebhookQueuedEvent) {
	h.metrics.ObserveEnqueue(event.EventType)
}

func (h *PrometheusHook) OnWebhookClaimed(ctx context.Context, event WebhookClaimedEvent) {
	// Claims are implied by the attempt counters
}

func (h *PrometheusHook) OnWebhookDelivered(ctx context.Context, event WebhookDeliveredEvent) {
	h.metrics.ObserveAttempt(event.EventType, "delivered", "", event.Duration)
}

func (h *PrometheusHook) OnWebhookRetryScheduled(ctx context.Context, event WebhookRetryScheduledEvent) {
	h.metrics.ObserveAttempt(event.EventType, "retry_scheduled", event.FailureKind, event.Duration)
}

func (h *PrometheusHook) OnWebhookFailed(ctx context.Context, event WebhookFailedEvent) {
	h.metrics.ObserveAttempt(event.EventType, "failed", event.FailureKind, event.Duration)
}

func (h *PrometheusHook) OnDeliveryLogWriteFailed(ctx context.Context, event DeliveryLogWriteFailedEvent) {
	h.metrics.ObserveLogWriteFailure()
}

// ===============================================
// PaymentHook Implementation
// ===============================================

func (h *PrometheusHook) OnPaymentLinkCreated(ctx context.Context, event PaymentLinkCreatedEvent) {
	h.metrics.ObservePaymentLink(event.CreatedVia, event.Success)
}

func (h *PrometheusHook) OnOrderPaid(ctx context.Context, event OrderPaidEvent) {
	// Stripe-sourced payments are counted by the Stripe event handler
}
