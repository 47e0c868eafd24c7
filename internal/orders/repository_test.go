package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/platehaus/storefront/internal/config"
)

func seededRepo() *MemoryRepository {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	repo := NewMemoryRepository().WithClock(func() time.Time { return now })
	repo.PutOrder(Order{ID: "ord-1", OrderNumber: "ORD-1", Status: StatusPending, PaymentStatus: PaymentStatusUnpaid, CustomerEmail: "lifter@example.com", CreatedAt: now.Add(-2 * time.Hour)})
	repo.PutOrder(Order{ID: "ord-2", OrderNumber: "ORD-2", Status: StatusPending, PaymentStatus: PaymentStatusPaid, CreatedAt: now.Add(-1 * time.Hour)})
	repo.PutOrder(Order{ID: "ord-3", OrderNumber: "ORD-3", Status: StatusCancelled, PaymentStatus: PaymentStatusUnpaid, CreatedAt: now})
	repo.PutCustomer(Customer{Email: "Lifter@Example.com", FirstName: "Sam", LastName: "Reyes"})
	return repo
}

func TestMemoryRepository_GetOrder(t *testing.T) {
	repo := seededRepo()
	ctx := context.Background()

	o, err := repo.GetOrder(ctx, "ord-1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if o.OrderNumber != "ORD-1" {
		t.Errorf("unexpected order number %q", o.OrderNumber)
	}

	if _, err := repo.GetOrder(ctx, "missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestMemoryRepository_GetCustomerByEmailIsCaseInsensitive(t *testing.T) {
	repo := seededRepo()
	c, err := repo.GetCustomerByEmail(context.Background(), "LIFTER@example.COM")
	if err != nil {
		t.Fatalf("GetCustomerByEmail: %v", err)
	}
	if c.FirstName != "Sam" {
		t.Errorf("unexpected customer %+v", c)
	}
	if _, err := repo.GetCustomerByEmail(context.Background(), "nobody@example.com"); !errors.Is(err, ErrCustomerNotFound) {
		t.Errorf("expected ErrCustomerNotFound, got %v", err)
	}
}

func TestMemoryRepository_SetPaymentLink(t *testing.T) {
	repo := seededRepo()
	ctx := context.Background()
	link := PaymentLink{URL: "https://checkout.stripe.com/c/pay/cs_test_1", SessionID: "cs_test_1"}

	tests := []struct {
		name    string
		id      string
		wantErr error
	}{
		{name: "unpaid order", id: "ord-1"},
		{name: "paid order", id: "ord-2", wantErr: ErrNotPayable},
		{name: "cancelled order", id: "ord-3", wantErr: ErrNotPayable},
		{name: "missing order", id: "ord-x", wantErr: ErrOrderNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := repo.SetPaymentLink(ctx, tt.id, link)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SetPaymentLink: %v", err)
			}
			if o.PaymentLinkURL != link.URL || o.PaymentSessionID != link.SessionID {
				t.Errorf("link not stored: %+v", o)
			}
		})
	}
}

func TestMemoryRepository_MarkPaid(t *testing.T) {
	repo := seededRepo()
	ctx := context.Background()
	paidAt := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	o, err := repo.MarkPaid(ctx, "ord-1", Payment{Method: "card", AmountPaid: 249.5, PaidAt: paidAt, ProviderPaymentID: "pi_1"})
	if err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	if !o.IsPaid() || o.Status != StatusConfirmed {
		t.Errorf("expected paid and confirmed, got %s/%s", o.PaymentStatus, o.Status)
	}
	if o.PaidAt == nil || !o.PaidAt.Equal(paidAt) {
		t.Errorf("unexpected paidAt %v", o.PaidAt)
	}

	if _, err := repo.MarkPaid(ctx, "ord-1", Payment{Method: "card"}); !errors.Is(err, ErrAlreadyPaid) {
		t.Errorf("expected ErrAlreadyPaid on second call, got %v", err)
	}
}

func TestMemoryRepository_ListOrders(t *testing.T) {
	repo := seededRepo()
	ctx := context.Background()

	all, err := repo.ListOrders(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(all) != 3 || all[0].ID != "ord-3" || all[2].ID != "ord-1" {
		t.Fatalf("expected newest first, got %v", ids(all))
	}

	unpaid, _ := repo.ListOrders(ctx, ListFilter{PaymentStatus: "UNPAID"})
	if len(unpaid) != 2 {
		t.Errorf("expected 2 unpaid orders, got %v", ids(unpaid))
	}

	limited, _ := repo.ListOrders(ctx, ListFilter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("expected 1 order, got %d", len(limited))
	}
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryRepository()
	repo.PutOrder(Order{ID: "ord-9", OrderItems: []byte(`[{"weight":45}]`)})

	o, _ := repo.GetOrder(context.Background(), "ord-9")
	o.OrderItems[0] = 'X'

	again, _ := repo.GetOrder(context.Background(), "ord-9")
	if string(again.OrderItems) != `[{"weight":45}]` {
		t.Errorf("stored items were mutated: %s", again.OrderItems)
	}
}

func TestNewRepositoryWithDB(t *testing.T) {
	repo, err := NewRepositoryWithDB(config.OrdersConfig{Source: "memory"}, config.PostgresPoolConfig{}, nil)
	if err != nil {
		t.Fatalf("memory source: %v", err)
	}
	if _, ok := repo.(*MemoryRepository); !ok {
		t.Errorf("expected *MemoryRepository, got %T", repo)
	}

	if _, err := NewRepositoryWithDB(config.OrdersConfig{Source: "sqlite"}, config.PostgresPoolConfig{}, nil); err == nil {
		t.Error("expected error for unsupported source")
	}
	if _, err := NewRepositoryWithDB(config.OrdersConfig{Source: "postgres"}, config.PostgresPoolConfig{}, nil); err == nil {
		t.Error("expected error for postgres without url")
	}
}

func TestPostgresRepository_WithTableNames(t *testing.T) {
	repo := NewPostgresRepositoryWithDB(nil)
	if err := repo.WithTableNames("shop_orders", ""); err != nil {
		t.Fatalf("valid name rejected: %v", err)
	}
	if repo.ordersTable != "shop_orders" || repo.customersTable != "customers" {
		t.Errorf("unexpected tables %q/%q", repo.ordersTable, repo.customersTable)
	}
	if err := repo.WithTableNames("orders; DROP TABLE x", ""); err == nil {
		t.Error("expected invalid table name to be rejected")
	}
}

func ids(list []Order) []string {
	out := make([]string, len(list))
	for i, o := range list {
		out[i] = o.ID
	}
	return out
}
