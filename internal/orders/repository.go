package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platehaus/storefront/internal/config"
	"github.com/platehaus/storefront/internal/metrics"
)

var (
	// ErrOrderNotFound is returned when an order doesn't exist.
	ErrOrderNotFound = errors.New("order not found")
	// ErrCustomerNotFound is returned when no customer matches the email.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrAlreadyPaid is returned when marking an order paid twice.
	ErrAlreadyPaid = errors.New("order already paid")
	// ErrNotPayable is returned when a payment link is requested for a paid or cancelled order.
	ErrNotPayable = errors.New("order is not payable")
)

// Payment statuses stored on orders.
const (
	PaymentStatusUnpaid = "unpaid"
	PaymentStatusPaid   = "paid"
)

// Order statuses stored on orders.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// Order is a preorder row as the storefront persists it.
type Order struct {
	ID            string          `json:"id"`
	OrderNumber   string          `json:"orderNumber"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"paymentStatus"`
	CustomerEmail string          `json:"customerEmail"`
	CustomerName  string          `json:"customerName"`
	CustomerPhone string          `json:"customerPhone,omitempty"`
	OrderItems    json.RawMessage `json:"-"` // Array, single object, or JSON string of either; may be malformed
	TotalAmount   float64         `json:"totalAmount"`
	TaxAmount     float64         `json:"taxAmount"`
	ShippingCost  float64         `json:"shippingCost"`
	Shipping      Shipping        `json:"shipping"`

	PaymentLinkURL    string     `json:"paymentLinkUrl,omitempty"`
	PaymentSessionID  string     `json:"paymentSessionId,omitempty"`
	PaymentMethod     string     `json:"paymentMethod,omitempty"`
	AmountPaid        float64    `json:"amountPaid,omitempty"`
	ProviderPaymentID string     `json:"providerPaymentId,omitempty"`
	ProviderInvoiceID string     `json:"providerInvoiceId,omitempty"`
	PaidAt            *time.Time `json:"paidAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsPaid reports whether the order's payment has been recorded.
func (o Order) IsPaid() bool {
	return strings.EqualFold(o.PaymentStatus, PaymentStatusPaid)
}

// Payable reports whether a payment link may be issued for the order.
func (o Order) Payable() bool {
	return !o.IsPaid() && !strings.EqualFold(o.Status, StatusCancelled)
}

// Shipping holds the delivery address captured at checkout.
type Shipping struct {
	Name       string `json:"name,omitempty"`
	Address1   string `json:"address1,omitempty"`
	Address2   string `json:"address2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
	Method     string `json:"method,omitempty"`
}

// IsZero reports whether no shipping field is set.
func (s Shipping) IsZero() bool {
	return s == Shipping{}
}

// Customer is the optional customer row joined by email.
type Customer struct {
	Email              string `json:"email"`
	FirstName          string `json:"firstName"`
	LastName           string `json:"lastName"`
	Phone              string `json:"phone,omitempty"`
	ProviderCustomerID string `json:"providerCustomerId,omitempty"`
}

// PaymentLink is stored on an order once the payment processor returned a URL.
type PaymentLink struct {
	URL       string
	SessionID string
}

// Payment records how an order was paid.
type Payment struct {
	Method            string
	AmountPaid        float64
	PaidAt            time.Time
	ProviderPaymentID string
	ProviderInvoiceID string
}

// ListFilter narrows ListOrders. Zero values mean no filter.
type ListFilter struct {
	PaymentStatus string
	Limit         int
}

// Repository defines the order and customer operations the webhook pipeline relies on.
type Repository interface {
	// GetOrder retrieves an order by ID. Returns ErrOrderNotFound if absent.
	GetOrder(ctx context.Context, id string) (Order, error)

	// GetCustomerByEmail retrieves a customer. Returns ErrCustomerNotFound if absent.
	GetCustomerByEmail(ctx context.Context, email string) (Customer, error)

	// SetPaymentLink persists a payment link URL. Returns ErrNotPayable for paid or cancelled orders.
	SetPaymentLink(ctx context.Context, id string, link PaymentLink) (Order, error)

	// MarkPaid transitions an unpaid order to paid. Returns ErrAlreadyPaid if already paid.
	MarkPaid(ctx context.Context, id string, payment Payment) (Order, error)

	// ListOrders returns orders newest first.
	ListOrders(ctx context.Context, filter ListFilter) ([]Order, error)

	// Close closes any open connections.
	Close() error
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func listLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// NewRepositoryWithDB creates an order repository based on config.
// If sharedDB is provided (non-nil) for postgres sources, it will be used instead of creating a new connection.
func NewRepositoryWithDB(cfg config.OrdersConfig, pool config.PostgresPoolConfig, sharedDB *sql.DB) (Repository, error) {
	switch cfg.Source {
	case "memory", "":
		return NewMemoryRepository(), nil
	case "postgres":
		var repo *PostgresRepository
		if sharedDB != nil {
			repo = NewPostgresRepositoryWithDB(sharedDB)
		} else {
			if cfg.PostgresURL == "" {
				return nil, errors.New("postgres_url required when orders.source is 'postgres'")
			}
			var err error
			repo, err = NewPostgresRepository(cfg.PostgresURL, pool)
			if err != nil {
				return nil, err
			}
		}
		if err := repo.WithTableNames(cfg.OrdersTableName, cfg.CustomersTableName); err != nil {
			repo.Close()
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("invalid orders.source %q: must be 'memory' or 'postgres'", cfg.Source)
	}
}

// Instrument attaches query timing to postgres-backed repositories.
// Other backends are returned unchanged.
func Instrument(repo Repository, m *metrics.Metrics) Repository {
	if pg, ok := repo.(*PostgresRepository); ok {
		pg.WithMetrics(m)
	}
	return repo
}
