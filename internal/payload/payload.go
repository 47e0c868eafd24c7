// Package payload builds the versioned JSON bodies sent to the webhook destination.
package payload

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/platehaus/storefront/internal/orders"
	"github.com/platehaus/storefront/internal/products"
	"github.com/platehaus/storefront/internal/storage"
)

// SchemaVersion is bumped on any breaking change to the wire format.
const SchemaVersion = "1.0"

// ErrInvalidOrder is returned when the order lacks a field the event requires.
var ErrInvalidOrder = errors.New("payload: invalid order")

// OrderData is everything the builder may read about one order.
type OrderData struct {
	Order    orders.Order
	Customer *orders.Customer  // Optional joined customer row
	Products []products.Product // Optional catalog for title enrichment
}

// Metadata describes where the event originated.
type Metadata struct {
	Source     string `json:"source"`
	CreatedVia string `json:"createdVia,omitempty"`
	BatchID    string `json:"batchId,omitempty"`
	Trigger    string `json:"trigger,omitempty"`
}

// PaymentData describes a completed payment.
type PaymentData struct {
	Method            string    `json:"method"`
	AmountPaid        float64   `json:"amountPaid"`
	PaidAt            time.Time `json:"paidAt"`
	ProviderPaymentID string    `json:"providerPaymentId,omitempty"`
	ProviderInvoiceID string    `json:"providerInvoiceId,omitempty"`
}

// WebhookPayload is the body of every outbound webhook.
type WebhookPayload struct {
	EventType storage.EventType `json:"eventType"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Order     OrderBlock        `json:"order"`
	Customer  *CustomerBlock    `json:"customer,omitempty"`
	Metadata  Metadata          `json:"metadata"`
}

// Marshal renders the payload. The returned bytes are what gets stored, signed and sent.
func (p WebhookPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// OrderBlock is the order section. Optional sections are nil when their flag is off.
type OrderBlock struct {
	ID             string         `json:"id"`
	OrderNumber    string         `json:"orderNumber"`
	Status         string         `json:"status"`
	PaymentStatus  string         `json:"paymentStatus"`
	TotalAmount    float64        `json:"totalAmount"`
	CreatedAt      time.Time      `json:"createdAt"`
	PaymentLinkURL string         `json:"paymentLinkUrl,omitempty"`
	PaidAt         *time.Time     `json:"paidAt,omitempty"`
	Payment        *PaymentData   `json:"payment,omitempty"`
	Items          *[]ItemView    `json:"items,omitempty"`
	Shipping       *ShippingBlock `json:"shipping,omitempty"`
	Pricing        *Pricing       `json:"pricing,omitempty"`
}

// ItemView is a line item enriched with its display title.
type ItemView struct {
	Title     string  `json:"title"`
	Weight    float64 `json:"weight"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
	LineTotal float64 `json:"lineTotal"`
}

// ShippingBlock is the delivery address.
type ShippingBlock struct {
	Name       string `json:"name,omitempty"`
	Address1   string `json:"address1,omitempty"`
	Address2   string `json:"address2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
	Method     string `json:"method,omitempty"`
}

// Pricing is recomputed from the items; it does not echo the stored total.
type Pricing struct {
	Subtotal     float64 `json:"subtotal"`
	Tax          float64 `json:"tax"`
	ShippingCost float64 `json:"shippingCost"`
	Total        float64 `json:"total"`
}

// CustomerBlock identifies the buyer.
type CustomerBlock struct {
	Email              string `json:"email"`
	Name               string `json:"name,omitempty"`
	FirstName          string `json:"firstName,omitempty"`
	LastName           string `json:"lastName,omitempty"`
	Phone              string `json:"phone,omitempty"`
	ProviderCustomerID string `json:"providerCustomerId,omitempty"`
}
