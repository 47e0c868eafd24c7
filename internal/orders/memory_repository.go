package orders

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryRepository is an in-process Repository for development and tests.
type MemoryRepository struct {
	mu        sync.RWMutex
	orders    map[string]Order
	customers map[string]Customer // keyed by lowercased email
	now       func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders:    make(map[string]Order),
		customers: make(map[string]Customer),
		now:       time.Now,
	}
}

// WithClock overrides the clock used for UpdatedAt.
func (r *MemoryRepository) WithClock(now func() time.Time) *MemoryRepository {
	r.now = now
	return r
}

// PutOrder inserts or replaces an order.
func (r *MemoryRepository) PutOrder(o Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = r.now().UTC()
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}
	r.orders[o.ID] = cloneOrder(o)
}

// PutCustomer inserts or replaces a customer.
func (r *MemoryRepository) PutCustomer(c Customer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.customers[strings.ToLower(c.Email)] = c
}

// GetOrder retrieves an order by ID.
func (r *MemoryRepository) GetOrder(_ context.Context, id string) (Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

// GetCustomerByEmail retrieves a customer by email, case-insensitively.
func (r *MemoryRepository) GetCustomerByEmail(_ context.Context, email string) (Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.customers[strings.ToLower(email)]
	if !ok {
		return Customer{}, ErrCustomerNotFound
	}
	return c, nil
}

// SetPaymentLink stores the link on an unpaid order.
func (r *MemoryRepository) SetPaymentLink(_ context.Context, id string, link PaymentLink) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	if !o.Payable() {
		return Order{}, ErrNotPayable
	}
	o.PaymentLinkURL = link.URL
	o.PaymentSessionID = link.SessionID
	o.UpdatedAt = r.now().UTC()
	r.orders[id] = o
	return cloneOrder(o), nil
}

// MarkPaid records the payment on an unpaid order.
func (r *MemoryRepository) MarkPaid(_ context.Context, id string, p Payment) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	if o.IsPaid() {
		return Order{}, ErrAlreadyPaid
	}
	applyPayment(&o, p, r.now().UTC())
	r.orders[id] = o
	return cloneOrder(o), nil
}

// ListOrders returns orders newest first.
func (r *MemoryRepository) ListOrders(_ context.Context, filter ListFilter) ([]Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Order, 0, len(r.orders))
	for _, o := range r.orders {
		if filter.PaymentStatus != "" && !strings.EqualFold(o.PaymentStatus, filter.PaymentStatus) {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit := listLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op for the memory repository.
func (r *MemoryRepository) Close() error {
	return nil
}

func applyPayment(o *Order, p Payment, now time.Time) {
	paidAt := p.PaidAt
	if paidAt.IsZero() {
		paidAt = now
	}
	o.PaymentStatus = PaymentStatusPaid
	if o.Status == "" || strings.EqualFold(o.Status, StatusPending) {
		o.Status = StatusConfirmed
	}
	o.PaymentMethod = p.Method
	o.AmountPaid = p.AmountPaid
	o.ProviderPaymentID = p.ProviderPaymentID
	o.ProviderInvoiceID = p.ProviderInvoiceID
	o.PaidAt = &paidAt
	o.UpdatedAt = now
}

func cloneOrder(o Order) Order {
	if o.OrderItems != nil {
		o.OrderItems = append(json.RawMessage(nil), o.OrderItems...)
	}
	if o.PaidAt != nil {
		t := *o.PaidAt
		o.PaidAt = &t
	}
	return o
}
