package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/platehaus/storefront/internal/callbacks"
	"github.com/platehaus/storefront/internal/logger"
	"github.com/platehaus/storefront/internal/metrics"
	"github.com/platehaus/storefront/internal/observability"
	"github.com/platehaus/storefront/internal/orders"
	"github.com/platehaus/storefront/internal/payload"
	"github.com/platehaus/storefront/internal/stripe"
)

// Metadata sources and creation channels stamped on webhooks.
const (
	SourceAdmin         = "admin"
	SourceStripeWebhook = "stripe_webhook"

	CreatedViaAdmin      = "admin"
	CreatedViaAdminBatch = "admin_batch"

	TriggerManual = "manual"
)

// MaxBatchSize bounds a single batch payment link request.
const MaxBatchSize = 100

var (
	// ErrBatchTooLarge is returned when a batch exceeds MaxBatchSize.
	ErrBatchTooLarge = fmt.Errorf("payments: batch exceeds %d orders", MaxBatchSize)
	// ErrLinksDisabled is returned when no payment processor is configured.
	ErrLinksDisabled = errors.New("payments: payment links not configured")
)

// LinkCreator issues hosted payment links.
type LinkCreator interface {
	CreatePaymentLink(ctx context.Context, order orders.Order) (orders.PaymentLink, error)
}

// WebhookTrigger enqueues outbound webhooks.
type WebhookTrigger interface {
	TriggerPaymentLinkWebhook(ctx context.Context, orderID string, meta payload.Metadata) callbacks.Result
	TriggerOrderCompletedWebhook(ctx context.Context, orderID string, payment payload.PaymentData, meta payload.Metadata) callbacks.Result
}

// Options configures the payment service.
type Options struct {
	Orders   orders.Repository
	Links    LinkCreator // Optional; nil disables payment link creation
	Webhooks WebhookTrigger
	Hooks    *observability.Registry // Optional
	Metrics  *metrics.Metrics        // Optional
	Logger   zerolog.Logger
}

// Service records payment state on orders and fires the matching webhooks.
// Webhook trigger failures are reported in results but never undo the business change.
type Service struct {
	orders   orders.Repository
	links    LinkCreator
	webhooks WebhookTrigger
	hooks    *observability.Registry
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
	newID    func() string
}

// NewService constructs a payment service.
func NewService(opts Options) *Service {
	return &Service{
		orders:   opts.Orders,
		links:    opts.Links,
		webhooks: opts.Webhooks,
		hooks:    opts.Hooks,
		metrics:  opts.Metrics,
		logger:   opts.Logger.With().Str("component", "payments").Logger(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// LinkResult is the outcome of creating one payment link.
type LinkResult struct {
	OrderID        string           `json:"orderId"`
	PaymentLinkURL string           `json:"paymentLinkUrl,omitempty"`
	Webhook        callbacks.Result `json:"webhook"`
	Error          string           `json:"error,omitempty"`
}

// BatchResult is the outcome of a batch payment link request.
type BatchResult struct {
	BatchID   string       `json:"batchId"`
	Results   []LinkResult `json:"results"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
}

// CreatePaymentLink issues a link for one order, stores it and triggers payment_link_created.
func (s *Service) CreatePaymentLink(ctx context.Context, orderID string, meta payload.Metadata) (LinkResult, error) {
	if s.links == nil {
		return LinkResult{OrderID: orderID}, ErrLinksDisabled
	}
	if meta.Source == "" {
		meta.Source = SourceAdmin
	}
	if meta.CreatedVia == "" {
		meta.CreatedVia = CreatedViaAdmin
	}

	start := s.now()
	res, err := s.createLink(ctx, orderID, meta)
	event := observability.PaymentLinkCreatedEvent{
		Timestamp:  s.now().UTC(),
		OrderID:    orderID,
		CreatedVia: meta.CreatedVia,
		BatchID:    meta.BatchID,
		Success:    err == nil,
		Duration:   s.now().Sub(start),
	}
	if err != nil {
		event.Error = err.Error()
	}
	s.hooks.EmitPaymentLinkCreated(ctx, event)
	return res, err
}

func (s *Service) createLink(ctx context.Context, orderID string, meta payload.Metadata) (LinkResult, error) {
	res := LinkResult{OrderID: orderID}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return res, err
	}
	if !order.Payable() {
		return res, orders.ErrNotPayable
	}

	link, err := s.links.CreatePaymentLink(ctx, order)
	if err != nil {
		return res, err
	}
	if _, err := s.orders.SetPaymentLink(ctx, orderID, link); err != nil {
		return res, fmt.Errorf("payments: store payment link: %w", err)
	}
	res.PaymentLinkURL = link.URL

	res.Webhook = s.webhooks.TriggerPaymentLinkWebhook(ctx, orderID, meta)
	s.logTrigger(orderID, "payment_link_created", res.Webhook)
	return res, nil
}

// CreatePaymentLinks issues links for several orders under one batch ID.
// A failing order does not stop the batch.
func (s *Service) CreatePaymentLinks(ctx context.Context, orderIDs []string) (BatchResult, error) {
	if len(orderIDs) > MaxBatchSize {
		return BatchResult{}, ErrBatchTooLarge
	}
	if s.links == nil {
		return BatchResult{}, ErrLinksDisabled
	}

	batch := BatchResult{BatchID: s.newID(), Results: make([]LinkResult, 0, len(orderIDs))}
	meta := payload.Metadata{Source: SourceAdmin, CreatedVia: CreatedViaAdminBatch, BatchID: batch.BatchID}

	seen := make(map[string]struct{}, len(orderIDs))
	for _, id := range orderIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if err := ctx.Err(); err != nil {
			batch.Results = append(batch.Results, LinkResult{OrderID: id, Error: err.Error()})
			batch.Failed++
			continue
		}

		res, err := s.CreatePaymentLink(ctx, id, meta)
		if err != nil {
			res.Error = err.Error()
			batch.Failed++
		} else {
			batch.Succeeded++
		}
		batch.Results = append(batch.Results, res)
	}

	s.logger.Info().
		Str("batch_id", batch.BatchID).
		Int("succeeded", batch.Succeeded).
		Int("failed", batch.Failed).
		Msg("payments.batch_links_created")
	return batch, nil
}

// PaidResult is the outcome of recording a payment.
type PaidResult struct {
	Order   orders.Order     `json:"order"`
	Webhook callbacks.Result `json:"webhook"`
}

// MarkPaid records a manual payment and triggers order_completed.
func (s *Service) MarkPaid(ctx context.Context, orderID string, payment orders.Payment) (PaidResult, error) {
	if payment.Method == "" {
		payment.Method = TriggerManual
	}
	return s.recordPayment(ctx, orderID, payment, payload.Metadata{Source: SourceAdmin, Trigger: TriggerManual})
}

// HandleStripeEvent applies a verified Stripe event. Unhandled event types and
// repeated deliveries of an already-applied payment succeed without side effects.
func (s *Service) HandleStripeEvent(ctx context.Context, ev stripe.WebhookEvent) error {
	log := s.logger.With().
		Str("stripe_event_id", ev.ID).
		Str("stripe_event_type", ev.Type).
		Str("order_id", ev.OrderID).
		Str("customer_email", logger.RedactEmail(ev.CustomerEmail)).
		Logger()

	if !ev.Handled {
		log.Debug().Msg("payments.stripe_event_ignored")
		s.metrics.ObserveStripeEvent(ev.Type, true)
		return nil
	}

	payment := orders.Payment{
		Method:            "stripe",
		AmountPaid:        ev.AmountPaid(),
		PaidAt:            ev.PaidAt,
		ProviderPaymentID: firstNonEmpty(ev.PaymentIntentID, ev.SessionID),
		ProviderInvoiceID: ev.InvoiceID,
	}
	_, err := s.recordPayment(ctx, ev.OrderID, payment, payload.Metadata{Source: SourceStripeWebhook, Trigger: ev.Type})
	switch {
	case errors.Is(err, orders.ErrAlreadyPaid):
		log.Info().Msg("payments.stripe_event_duplicate")
		s.metrics.ObserveStripeEvent(ev.Type, true)
		return nil
	case err != nil:
		log.Error().Err(err).Msg("payments.stripe_event_failed")
		s.metrics.ObserveStripeEvent(ev.Type, false)
		return err
	}
	s.metrics.ObserveStripeEvent(ev.Type, true)
	return nil
}

func (s *Service) recordPayment(ctx context.Context, orderID string, payment orders.Payment, meta payload.Metadata) (PaidResult, error) {
	if payment.PaidAt.IsZero() {
		payment.PaidAt = s.now().UTC()
	}

	order, err := s.orders.MarkPaid(ctx, orderID, payment)
	if err != nil {
		return PaidResult{}, err
	}

	s.hooks.EmitOrderPaid(ctx, observability.OrderPaidEvent{
		Timestamp:  s.now().UTC(),
		OrderID:    orderID,
		Source:     meta.Source,
		Trigger:    meta.Trigger,
		AmountPaid: payment.AmountPaid,
	})

	res := PaidResult{Order: order}
	res.Webhook = s.webhooks.TriggerOrderCompletedWebhook(ctx, orderID, payload.PaymentData{
		Method:            payment.Method,
		AmountPaid:        payment.AmountPaid,
		PaidAt:            payment.PaidAt,
		ProviderPaymentID: payment.ProviderPaymentID,
		ProviderInvoiceID: payment.ProviderInvoiceID,
	}, meta)
	s.logTrigger(orderID, "order_completed", res.Webhook)
	return res, nil
}

func (s *Service) logTrigger(orderID, event string, r callbacks.Result) {
	if r.Success {
		return
	}
	s.logger.Warn().
		Str("order_id", orderID).
		Str("event_type", event).
		Str("error", r.Error).
		Msg("payments.webhook_trigger_failed")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
