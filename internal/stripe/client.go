package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	stripeapi "github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/checkout/session"
	"github.com/stripe/stripe-go/v72/webhook"

	"github.com/platehaus/storefront/internal/circuitbreaker"
	"github.com/platehaus/storefront/internal/config"
	"github.com/platehaus/storefront/internal/orders"
)

// Stripe event types that mark an order paid.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventInvoicePaid       = "invoice.paid"
)

// MetadataOrderID is the session and invoice metadata key carrying the storefront order ID.
const MetadataOrderID = "order_id"

var (
	// ErrWebhookSecretMissing is returned when Stripe webhooks arrive but no secret is configured.
	ErrWebhookSecretMissing = errors.New("stripe: webhook secret not configured")
	// ErrMissingOrderID is returned for paid events without an order_id in metadata.
	ErrMissingOrderID = errors.New("stripe: event missing order_id metadata")
	// ErrInvalidAmount is returned when an order total cannot be charged.
	ErrInvalidAmount = errors.New("stripe: order total must be positive")
	// ErrCheckoutFailed wraps every failure to obtain a checkout URL from Stripe.
	ErrCheckoutFailed = errors.New("stripe: create checkout session")
)

// sessionCreator is session.New; tests replace it.
type sessionCreator func(*stripeapi.CheckoutSessionParams) (*stripeapi.CheckoutSession, error)

// Client wraps the Stripe API calls the storefront makes.
type Client struct {
	cfg        config.StripeConfig
	breakers   *circuitbreaker.Manager
	logger     zerolog.Logger
	newSession sessionCreator
}

// NewClient configures the global Stripe key and returns a client.
func NewClient(cfg config.StripeConfig, breakers *circuitbreaker.Manager, logger zerolog.Logger) *Client {
	stripeapi.Key = cfg.SecretKey
	return &Client{
		cfg:        cfg,
		breakers:   breakers,
		logger:     logger.With().Str("component", "stripe").Logger(),
		newSession: session.New,
	}
}

// CreatePaymentLink creates a Checkout session for the order's total and returns its URL.
func (c *Client) CreatePaymentLink(ctx context.Context, order orders.Order) (orders.PaymentLink, error) {
	if err := ctx.Err(); err != nil {
		return orders.PaymentLink{}, err
	}
	params, err := c.sessionParams(order)
	if err != nil {
		return orders.PaymentLink{}, err
	}

	start := time.Now()
	cs, err := circuitbreaker.Do(c.breakers, circuitbreaker.ServiceStripe, func() (*stripeapi.CheckoutSession, error) {
		return c.newSession(params)
	})
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("order_id", order.ID).
			Dur("duration", time.Since(start)).
			Msg("stripe.create_session_failed")
		return orders.PaymentLink{}, fmt.Errorf("%w: %w", ErrCheckoutFailed, err)
	}

	if cs == nil || cs.URL == "" {
		return orders.PaymentLink{}, fmt.Errorf("%w: session has no url", ErrCheckoutFailed)
	}
	return orders.PaymentLink{URL: cs.URL, SessionID: cs.ID}, nil
}

func (c *Client) sessionParams(order orders.Order) (*stripeapi.CheckoutSessionParams, error) {
	amount := toCents(order.TotalAmount)
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	lineItem := &stripeapi.CheckoutSessionLineItemParams{
		Quantity: stripeapi.Int64(1),
		PriceData: &stripeapi.CheckoutSessionLineItemPriceDataParams{
			Currency: stripeapi.String(firstNonEmpty(c.cfg.Currency, "usd")),
			ProductData: &stripeapi.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripeapi.String(fmt.Sprintf("Preorder %s", firstNonEmpty(order.OrderNumber, order.ID))),
			},
			UnitAmount: stripeapi.Int64(amount),
		},
	}
	if c.cfg.TaxRateID != "" {
		lineItem.TaxRates = []*string{stripeapi.String(c.cfg.TaxRateID)}
	}

	params := &stripeapi.CheckoutSessionParams{
		Mode:               stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripeapi.StringSlice([]string{"card"}),
		SuccessURL:         stripeapi.String(c.cfg.SuccessURL),
		CancelURL:          stripeapi.String(c.cfg.CancelURL),
		LineItems:          []*stripeapi.CheckoutSessionLineItemParams{lineItem},
		ClientReferenceID:  stripeapi.String(order.ID),
	}
	params.Metadata = map[string]string{
		MetadataOrderID: order.ID,
		"order_number":  order.OrderNumber,
	}
	if order.CustomerEmail != "" {
		params.CustomerEmail = stripeapi.String(order.CustomerEmail)
	}
	return params, nil
}

// WebhookEvent is the subset of a Stripe event the storefront acts on.
type WebhookEvent struct {
	ID              string
	Type            string
	OrderID         string
	SessionID       string
	PaymentIntentID string
	InvoiceID       string
	CustomerEmail   string
	AmountCents     int64
	Currency        string
	PaidAt          time.Time
	Handled         bool // false for event types the storefront ignores
}

// AmountPaid returns the paid amount in major currency units.
func (e WebhookEvent) AmountPaid() float64 {
	return float64(e.AmountCents) / 100
}

// ParseWebhook verifies the Stripe-Signature header and decodes the event.
func (c *Client) ParseWebhook(payload []byte, signature string) (WebhookEvent, error) {
	if c.cfg.WebhookSecret == "" {
		return WebhookEvent{}, ErrWebhookSecretMissing
	}
	event, err := webhook.ConstructEvent(payload, signature, c.cfg.WebhookSecret)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("stripe: construct event: %w", err)
	}
	return decodeEvent(event)
}

func decodeEvent(event stripeapi.Event) (WebhookEvent, error) {
	out := WebhookEvent{ID: event.ID, Type: event.Type}
	created := time.Unix(event.Created, 0).UTC()

	switch event.Type {
	case EventCheckoutCompleted:
		var checkout stripeapi.CheckoutSession
		if err := jsonExtract(event.Data.Raw, &checkout); err != nil {
			return WebhookEvent{}, err
		}
		out.Handled = true
		out.OrderID = firstNonEmpty(checkout.Metadata[MetadataOrderID], checkout.ClientReferenceID)
		out.SessionID = checkout.ID
		out.CustomerEmail = checkout.CustomerEmail
		out.AmountCents = checkout.AmountTotal
		out.Currency = string(checkout.Currency)
		out.PaidAt = created
		if checkout.PaymentIntent != nil {
			out.PaymentIntentID = checkout.PaymentIntent.ID
		}
	case EventInvoicePaid:
		var invoice stripeapi.Invoice
		if err := jsonExtract(event.Data.Raw, &invoice); err != nil {
			return WebhookEvent{}, err
		}
		out.Handled = true
		out.OrderID = invoice.Metadata[MetadataOrderID]
		out.InvoiceID = invoice.ID
		out.CustomerEmail = invoice.CustomerEmail
		out.AmountCents = invoice.AmountPaid
		out.Currency = string(invoice.Currency)
		out.PaidAt = created
		if invoice.StatusTransitions.PaidAt > 0 {
			out.PaidAt = time.Unix(invoice.StatusTransitions.PaidAt, 0).UTC()
		}
		if invoice.PaymentIntent != nil {
			out.PaymentIntentID = invoice.PaymentIntent.ID
		}
	default:
		return out, nil
	}

	if out.OrderID == "" {
		return WebhookEvent{}, ErrMissingOrderID
	}
	return out, nil
}

func toCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func jsonExtract(data []byte, v any) error {
	if len(data) == 0 {
		return errors.New("stripe: webhook payload empty")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("stripe: decode webhook payload: %w", err)
	}
	return nil
}
