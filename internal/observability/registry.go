package observability

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Registry manages a collection of observability hooks.
// It safely dispatches events to all registered hooks with error handling.
// A nil *Registry drops every event, so callers never need a guard.
type Registry struct {
	webhookHooks []WebhookHook
	paymentHooks []PaymentHook
	logger       zerolog.Logger
	mu           sync.RWMutex
}

// NewRegistry creates a new hook registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger: logger,
	}
}

// RegisterWebhookHook adds a webhook hook to the registry.
func (r *Registry) RegisterWebhookHook(hook WebhookHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.webhookHooks = append(r.webhookHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered webhook hook")
}

// RegisterPaymentHook adds a payment hook to the registry.
func (r *Registry) RegisterPaymentHook(hook PaymentHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paymentHooks = append(r.paymentHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered payment hook")
}

// ===============================================
// Webhook Hook Dispatchers
// ===============================================

// EmitWebhookQueued dispatches the event to all webhook hooks.
func (r *Registry) EmitWebhookQueued(ctx context.Context, event WebhookQueuedEvent) {
	r.eachWebhookHook("OnWebhookQueued", func(h WebhookHook) { h.OnWebhookQueued(ctx, event) })
}

// EmitWebhookClaimed dispatches the event to all webhook hooks.
func (r *Registry) EmitWebhookClaimed(ctx context.Context, event WebhookClaimedEvent) {
	r.eachWebhookHook("OnWebhookClaimed", func(h WebhookHook) { h.OnWebhookClaimed(ctx, event) })
}

// EmitWebhookDelivered dispatches the event to all webhook hooks.
func (r *Registry) EmitWebhookDelivered(ctx context.Context, event WebhookDeliveredEvent) {
	r.eachWebhookHook("OnWebhookDelivered", func(h WebhookHook) { h.OnWebhookDelivered(ctx, event) })
}

// EmitWebhookRetryScheduled dispatches the event to all webhook hooks.
func (r *Registry) EmitWebhookRetryScheduled(ctx context.Context, event WebhookRetryScheduledEvent) {
	r.eachWebhookHook("OnWebhookRetryScheduled", func(h WebhookHook) { h.OnWebhookRetryScheduled(ctx, event) })
}

// EmitWebhookFailed dispatches the event to all webhook hooks.
func (r *Registry) EmitWebhookFailed(ctx context.Context, event WebhookFailedEvent) {
	r.eachWebhookHook("OnWebhookFailed", func(h WebhookHook) { h.OnWebhookFailed(ctx, event) })
}

// EmitDeliveryLogWriteFailed dispatches the event to all webhook hooks.
func (r *Registry) EmitDeliveryLogWriteFailed(ctx context.Context, event DeliveryLogWriteFailedEvent) {
	r.eachWebhookHook("OnDeliveryLogWriteFailed", func(h WebhookHook) { h.OnDeliveryLogWriteFailed(ctx, event) })
}

func (r *Registry) eachWebhookHook(method string, fn func(WebhookHook)) {
	if r == nil {
		return
	}
	r.mu.RLock()
	hooks := r.webhookHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic(method, hook.Name())
			fn(hook)
		}()
	}
}

// ===============================================
// Payment Hook Dispatchers
// ===============================================

// EmitPaymentLinkCreated dispatches the event to all payment hooks.
func (r *Registry) EmitPaymentLinkCreated(ctx context.Context, event PaymentLinkCreatedEvent) {
	r.eachPaymentHook("OnPaymentLinkCreated", func(h PaymentHook) { h.OnPaymentLinkCreated(ctx, event) })
}

// EmitOrderPaid dispatches the event to all payment hooks.
func (r *Registry) EmitOrderPaid(ctx context.Context, event OrderPaidEvent) {
	r.eachPaymentHook("OnOrderPaid", func(h PaymentHook) { h.OnOrderPaid(ctx, event) })
}

func (r *Registry) eachPaymentHook(method string, fn func(PaymentHook)) {
	if r == nil {
		return
	}
	r.mu.RLock()
	hooks := r.paymentHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic(method, hook.Name())
			fn(hook)
		}()
	}
}

// ===============================================
// Error Recovery
// ===============================================

// recoverPanic recovers from panics in hook implementations.
func (r *Registry) recoverPanic(method, hookName string) {
	if err := recover(); err != nil {
		r.logger.Error().
			Str("hook", hookName).
			Str("method", method).
			Interface("panic", err).
			Msg("observability hook panicked (recovered)")
	}
}
