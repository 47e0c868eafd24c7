package callbacks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/platehaus/storefront/internal/logger"
	"github.com/platehaus/storefront/internal/metrics"
	"github.com/platehaus/storefront/internal/observability"
	"github.com/platehaus/storefront/internal/orders"
	"github.com/platehaus/storefront/internal/payload"
	"github.com/platehaus/storefront/internal/products"
	"github.com/platehaus/storefront/internal/storage"
)

// Trigger results recorded in metrics.
const (
	triggerQueued  = "queued"
	triggerSkipped = "skipped"
	triggerError   = "error"
)

// TriggerOptions configures the webhook triggers.
type TriggerOptions struct {
	Store    storage.Store
	Settings SettingsSource
	Orders   OrderSource
	Catalog  CatalogSource // Optional; nil uses fallback titles
	Builder  *payload.Builder
	Notifier Notifier                // Optional; usually the Worker
	Hooks    *observability.Registry // Optional
	Metrics  *metrics.Metrics        // Optional
	Logger   zerolog.Logger
}

// Trigger turns business events into queue entries. It runs inside the caller's
// request path, so it never returns an error or panics: every problem becomes a
// Result with Success=false.
type Trigger struct {
	store    storage.Store
	settings SettingsSource
	orders   OrderSource
	catalog  CatalogSource
	builder  *payload.Builder
	notifier Notifier
	hooks    *observability.Registry
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// NewTrigger creates a trigger.
func NewTrigger(opts TriggerOptions) *Trigger {
	log := opts.Logger.With().Str("component", "webhook_trigger").Logger()
	if opts.Builder == nil {
		opts.Builder = payload.NewBuilder(opts.Logger)
	}
	return &Trigger{
		store:    opts.Store,
		settings: opts.Settings,
		orders:   opts.Orders,
		catalog:  opts.Catalog,
		builder:  opts.Builder,
		notifier: opts.Notifier,
		hooks:    opts.Hooks,
		metrics:  opts.Metrics,
		logger:   log,
		now:      time.Now,
	}
}

// TriggerPaymentLinkWebhook enqueues payment_link_created for the order.
func (t *Trigger) TriggerPaymentLinkWebhook(ctx context.Context, orderID string, meta payload.Metadata) Result {
	return t.run(ctx, storage.EventPaymentLinkCreated, orderID, meta, func(data payload.OrderData, s storage.WebhookSettings) (payload.WebhookPayload, error) {
		return t.builder.BuildPaymentLinkPayload(data, s, meta)
	})
}

// TriggerOrderCompletedWebhook enqueues order_completed for the order.
func (t *Trigger) TriggerOrderCompletedWebhook(ctx context.Context, orderID string, payment payload.PaymentData, meta payload.Metadata) Result {
	return t.run(ctx, storage.EventOrderCompleted, orderID, meta, func(data payload.OrderData, s storage.WebhookSettings) (payload.WebhookPayload, error) {
		return t.builder.BuildOrderCompletedPayload(data, s, payment, meta)
	})
}

type buildFunc func(payload.OrderData, storage.WebhookSettings) (payload.WebhookPayload, error)

func (t *Trigger) run(ctx context.Context, event storage.EventType, orderID string, meta payload.Metadata, build buildFunc) (res Result) {
	log := t.logger.With().
		Str("order_id", orderID).
		Str("event_type", string(event)).
		Str("source", meta.Source).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("webhook.trigger_panic")
			res = Result{Error: fmt.Sprintf("internal error: %v", r)}
		}
		t.metrics.ObserveTrigger(string(event), triggerLabel(res))
	}()

	var settings *storage.WebhookSettings
	if t.settings != nil {
		settings = t.settings.Get(ctx)
	}
	if settings == nil || !settings.Configured() {
		log.Debug().Msg("webhook.trigger_skipped_unconfigured")
		return Result{Success: true}
	}

	order, err := t.orders.GetOrder(ctx, orderID)
	if err != nil {
		log.Warn().Err(err).Msg("webhook.trigger_order_load_failed")
		return Result{Error: fmt.Sprintf("load order: %v", err)}
	}

	data := payload.OrderData{
		Order:    order,
		Customer: t.loadCustomer(ctx, order, *settings, log),
		Products: t.loadCatalog(ctx, *settings, log),
	}

	p, err := build(data, *settings)
	if err != nil {
		log.Warn().Err(err).Msg("webhook.trigger_payload_rejected")
		return Result{Error: err.Error()}
	}
	body, err := p.Marshal()
	if err != nil {
		log.Error().Err(err).Msg("webhook.trigger_marshal_failed")
		return Result{Error: fmt.Sprintf("marshal payload: %v", err)}
	}

	maxAttempts := maxAttemptsFor(*settings)
	entry, err := t.store.EnqueueWebhook(ctx, storage.EnqueueRequest{
		OrderID:        order.ID,
		DestinationURL: settings.DestinationURL,
		Payload:        body,
		EventType:      event,
		MaxAttempts:    maxAttempts,
	})
	if err != nil {
		log.Error().Err(err).Msg("webhook.enqueue_failed")
		return Result{Error: fmt.Sprintf("enqueue webhook: %v", err)}
	}

	t.hooks.EmitWebhookQueued(ctx, observability.WebhookQueuedEvent{
		Timestamp:   t.now().UTC(),
		EntryID:     entry.ID,
		OrderID:     entry.OrderID,
		EventType:   string(event),
		URL:         logger.RedactURL(settings.DestinationURL),
		MaxAttempts: maxAttempts,
		Metadata:    metadataMap(meta),
	})
	log.Info().
		Str("entry_id", entry.ID).
		Int("max_attempts", maxAttempts).
		Msg("webhook.queued")

	if t.notifier != nil {
		t.notifier.Notify()
	}
	return Result{Success: true, EntryID: entry.ID}
}

// loadCustomer is best-effort; a missing row falls back to the order's own fields.
func (t *Trigger) loadCustomer(ctx context.Context, o orders.Order, s storage.WebhookSettings, log zerolog.Logger) *orders.Customer {
	if !s.IncludeCustomerData || o.CustomerEmail == "" {
		return nil
	}
	c, err := t.orders.GetCustomerByEmail(ctx, o.CustomerEmail)
	if err != nil {
		if !errors.Is(err, orders.ErrCustomerNotFound) {
			log.Warn().Err(err).Msg("webhook.trigger_customer_load_failed")
		}
		return nil
	}
	return &c
}

// loadCatalog is best-effort; without it every item gets the fallback title.
func (t *Trigger) loadCatalog(ctx context.Context, s storage.WebhookSettings, log zerolog.Logger) []products.Product {
	if !s.IncludeOrderItems || t.catalog == nil {
		return nil
	}
	list, err := t.catalog.ListProducts(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("webhook.trigger_catalog_load_failed")
		return nil
	}
	return list
}

func metadataMap(m payload.Metadata) map[string]string {
	out := map[string]string{"source": m.Source}
	if m.CreatedVia != "" {
		out["created_via"] = m.CreatedVia
	}
	if m.BatchID != "" {
		out["batch_id"] = m.BatchID
	}
	if m.Trigger != "" {
		out["trigger"] = m.Trigger
	}
	return out
}

func triggerLabel(r Result) string {
	switch {
	case !r.Success:
		return triggerError
	case r.EntryID == "":
		return triggerSkipped
	}
	return triggerQueued
}
