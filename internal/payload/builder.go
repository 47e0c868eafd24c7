package payload

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/platehaus/storefront/internal/orders"
	"github.com/platehaus/storefront/internal/products"
	"github.com/platehaus/storefront/internal/storage"
)

// Builder turns order data into webhook payloads. Output depends only on the inputs and the clock.
type Builder struct {
	now    func() time.Time
	logger zerolog.Logger
}

// NewBuilder creates a payload builder.
func NewBuilder(log zerolog.Logger) *Builder {
	return &Builder{
		now:    time.Now,
		logger: log.With().Str("component", "webhook_payload").Logger(),
	}
}

// WithClock overrides the clock used for the payload timestamp.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// BuildPaymentLinkPayload builds the payment_link_created event. The order must carry a payment link.
func (b *Builder) BuildPaymentLinkPayload(data OrderData, settings storage.WebhookSettings, meta Metadata) (WebhookPayload, error) {
	if err := checkCommon(data.Order); err != nil {
		return WebhookPayload{}, err
	}
	if strings.TrimSpace(data.Order.PaymentLinkURL) == "" {
		return WebhookPayload{}, fmt.Errorf("%w: paymentLinkUrl is required", ErrInvalidOrder)
	}

	return b.build(storage.EventPaymentLinkCreated, data, settings, nil, meta), nil
}

// BuildOrderCompletedPayload builds the order_completed event. The order must already be paid.
func (b *Builder) BuildOrderCompletedPayload(data OrderData, settings storage.WebhookSettings, payment PaymentData, meta Metadata) (WebhookPayload, error) {
	if err := checkCommon(data.Order); err != nil {
		return WebhookPayload{}, err
	}
	if !data.Order.IsPaid() {
		return WebhookPayload{}, fmt.Errorf("%w: paymentStatus must be %q, got %q", ErrInvalidOrder, orders.PaymentStatusPaid, data.Order.PaymentStatus)
	}

	payment.PaidAt = payment.PaidAt.UTC()
	return b.build(storage.EventOrderCompleted, data, settings, &payment, meta), nil
}

func checkCommon(o orders.Order) error {
	if strings.TrimSpace(o.OrderNumber) == "" {
		return fmt.Errorf("%w: orderNumber is required", ErrInvalidOrder)
	}
	if strings.TrimSpace(o.CustomerEmail) == "" {
		return fmt.Errorf("%w: customerEmail is required", ErrInvalidOrder)
	}
	return nil
}

func (b *Builder) build(event storage.EventType, data OrderData, settings storage.WebhookSettings, payment *PaymentData, meta Metadata) WebhookPayload {
	o := data.Order

	block := OrderBlock{
		ID:             o.ID,
		OrderNumber:    o.OrderNumber,
		Status:         o.Status,
		PaymentStatus:  o.PaymentStatus,
		TotalAmount:    roundCents(o.TotalAmount),
		CreatedAt:      o.CreatedAt.UTC(),
		PaymentLinkURL: o.PaymentLinkURL,
		Payment:        payment,
	}
	if o.PaidAt != nil {
		paidAt := o.PaidAt.UTC()
		block.PaidAt = &paidAt
	} else if payment != nil && !payment.PaidAt.IsZero() {
		paidAt := payment.PaidAt
		block.PaidAt = &paidAt
	}

	var items []OrderItem
	if settings.IncludeOrderItems || settings.IncludePricingData {
		items = b.parseItems(o)
	}
	if settings.IncludeOrderItems {
		views := itemViews(items, data.Products)
		block.Items = &views
	}
	if settings.IncludeShippingData {
		block.Shipping = shippingBlock(o.Shipping)
	}
	if settings.IncludePricingData {
		block.Pricing = pricing(items, o.TaxAmount, o.ShippingCost)
	}

	out := WebhookPayload{
		EventType: event,
		Version:   SchemaVersion,
		Timestamp: b.now().UTC(),
		Order:     block,
		Metadata:  meta,
	}
	if settings.IncludeCustomerData {
		out.Customer = customerBlock(o, data.Customer)
	}
	return out
}

// parseItems fails soft: malformed items become an empty list and a warning.
func (b *Builder) parseItems(o orders.Order) []OrderItem {
	items, err := ParseOrderItems(o.OrderItems)
	if err != nil {
		b.logger.Warn().
			Err(err).
			Str("order_id", o.ID).
			Str("order_number", o.OrderNumber).
			Msg("webhook_payload.items_malformed")
		return []OrderItem{}
	}
	return items
}

func itemViews(items []OrderItem, catalog []products.Product) []ItemView {
	views := make([]ItemView, 0, len(items))
	for _, it := range items {
		title := products.FallbackTitle(it.Weight)
		if p, ok := products.FindByWeight(catalog, it.Weight); ok && strings.TrimSpace(p.Title) != "" {
			title = p.Title
		}
		qty := it.EffectiveQuantity()
		views = append(views, ItemView{
			Title:     title,
			Weight:    it.Weight,
			Quantity:  qty,
			Price:     roundCents(it.Price),
			LineTotal: roundCents(it.Price * float64(qty)),
		})
	}
	return views
}

func pricing(items []OrderItem, tax, shipping float64) *Pricing {
	var subtotal float64
	for _, it := range items {
		subtotal += it.Price * float64(it.EffectiveQuantity())
	}
	subtotal = roundCents(subtotal)
	tax = roundCents(tax)
	shipping = roundCents(shipping)
	return &Pricing{
		Subtotal:     subtotal,
		Tax:          tax,
		ShippingCost: shipping,
		Total:        roundCents(subtotal + tax + shipping),
	}
}

func shippingBlock(s orders.Shipping) *ShippingBlock {
	return &ShippingBlock{
		Name:       s.Name,
		Address1:   s.Address1,
		Address2:   s.Address2,
		City:       s.City,
		State:      s.State,
		PostalCode: s.PostalCode,
		Country:    s.Country,
		Method:     s.Method,
	}
}

// customerBlock prefers the joined customer row and falls back to the order's own fields.
func customerBlock(o orders.Order, c *orders.Customer) *CustomerBlock {
	block := &CustomerBlock{
		Email: o.CustomerEmail,
		Name:  o.CustomerName,
		Phone: o.CustomerPhone,
	}
	if c != nil {
		block.FirstName = c.FirstName
		block.LastName = c.LastName
		block.ProviderCustomerID = c.ProviderCustomerID
		if block.Phone == "" {
			block.Phone = c.Phone
		}
		if block.Name == "" {
			block.Name = strings.TrimSpace(c.FirstName + " " + c.LastName)
		}
	}
	return block
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
