package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	stripeapi "github.com/stripe/stripe-go/v72"

	"github.com/platehaus/storefront/internal/circuitbreaker"
	"github.com/platehaus/storefront/internal/config"
	"github.com/platehaus/storefront/internal/orders"
)

const testWebhookSecret = "whsec_test"

func newTestClient(create sessionCreator) *Client {
	c := NewClient(config.StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: testWebhookSecret,
		SuccessURL:    "https://shop.example/success",
		CancelURL:     "https://shop.example/cancel",
		Currency:      "usd",
		TaxRateID:     "txr_1",
	}, nil, zerolog.Nop())
	if create != nil {
		c.newSession = create
	}
	return c
}

// signPayload builds a Stripe-Signature header the way Stripe does.
func signPayload(t *testing.T, payload []byte, ts time.Time) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestFirstNonEmpty(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   string
	}{
		{name: "first value non-empty", values: []string{"value1", "value2"}, want: "value1"},
		{name: "first value empty", values: []string{"", "value2"}, want: "value2"},
		{name: "all empty", values: []string{"", ""}, want: ""},
		{name: "whitespace trimmed", values: []string{"   ", "value2"}, want: "value2"},
		{name: "empty slice", values: []string{}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := firstNonEmpty(tt.values...); got != tt.want {
				t.Errorf("firstNonEmpty() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestToCents(t *testing.T) {
	tests := []struct {
		amount float64
		want   int64
	}{
		{amount: 214.97, want: 21497},
		{amount: 0.1 + 0.2, want: 30},
		{amount: 19.999, want: 2000},
		{amount: 0, want: 0},
	}
	for _, tt := range tests {
		if got := toCents(tt.amount); got != tt.want {
			t.Errorf("toCents(%v) = %d, want %d", tt.amount, got, tt.want)
		}
	}
}

func TestCreatePaymentLink(t *testing.T) {
	var captured *stripeapi.CheckoutSessionParams
	client := newTestClient(func(p *stripeapi.CheckoutSessionParams) (*stripeapi.CheckoutSession, error) {
		captured = p
		return &stripeapi.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
	})

	link, err := client.CreatePaymentLink(context.Background(), orders.Order{
		ID:            "ord-1",
		OrderNumber:   "PH-1001",
		CustomerEmail: "lifter@example.com",
		TotalAmount:   214.97,
	})
	if err != nil {
		t.Fatalf("CreatePaymentLink() error = %v", err)
	}
	if link.URL != "https://checkout.stripe.com/c/pay/cs_test_1" || link.SessionID != "cs_test_1" {
		t.Errorf("link = %+v", link)
	}

	if captured == nil {
		t.Fatal("session params not captured")
	}
	if got := captured.Metadata[MetadataOrderID]; got != "ord-1" {
		t.Errorf("metadata order_id = %q, want ord-1", got)
	}
	if got := *captured.LineItems[0].PriceData.UnitAmount; got != 21497 {
		t.Errorf("unit amount = %d, want 21497", got)
	}
	if got := *captured.LineItems[0].TaxRates[0]; got != "txr_1" {
		t.Errorf("tax rate = %q, want txr_1", got)
	}
	if got := *captured.CustomerEmail; got != "lifter@example.com" {
		t.Errorf("customer email = %q", got)
	}
	if got := *captured.LineItems[0].PriceData.ProductData.Name; got != "Preorder PH-1001" {
		t.Errorf("product name = %q", got)
	}
}

func TestCreatePaymentLink_Errors(t *testing.T) {
	tests := []struct {
		name    string
		order   orders.Order
		create  sessionCreator
		wantErr error
	}{
		{
			name:    "zero total",
			order:   orders.Order{ID: "ord-1", TotalAmount: 0},
			wantErr: ErrInvalidAmount,
		},
		{
			name:  "stripe error",
			order: orders.Order{ID: "ord-1", TotalAmount: 10},
			create: func(*stripeapi.CheckoutSessionParams) (*stripeapi.CheckoutSession, error) {
				return nil, errors.New("card_declined")
			},
			wantErr: ErrCheckoutFailed,
		},
		{
			name:  "session without url",
			order: orders.Order{ID: "ord-1", TotalAmount: 10},
			create: func(*stripeapi.CheckoutSessionParams) (*stripeapi.CheckoutSession, error) {
				return &stripeapi.CheckoutSession{ID: "cs_1"}, nil
			},
			wantErr: ErrCheckoutFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			create := tt.create
			if create == nil {
				create = func(*stripeapi.CheckoutSessionParams) (*stripeapi.CheckoutSession, error) {
					t.Fatal("stripe must not be called")
					return nil, nil
				}
			}
			_, err := newTestClient(create).CreatePaymentLink(context.Background(), tt.order)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreatePaymentLink_BreakerOpen(t *testing.T) {
	cfg := circuitbreaker.DefaultConfig()
	cfg.StripeAPI.ConsecutiveFailures = 1
	calls := 0
	client := NewClient(config.StripeConfig{}, circuitbreaker.NewManager(cfg, zerolog.Nop()), zerolog.Nop())
	client.newSession = func(*stripeapi.CheckoutSessionParams) (*stripeapi.CheckoutSession, error) {
		calls++
		return nil, errors.New("api down")
	}

	order := orders.Order{ID: "ord-1", TotalAmount: 10}
	if _, err := client.CreatePaymentLink(context.Background(), order); err == nil {
		t.Fatal("expected first call to fail")
	}
	_, err := client.CreatePaymentLink(context.Background(), order)
	if !circuitbreaker.IsOpen(err) {
		t.Fatalf("second call error = %v, want open breaker", err)
	}
	if calls != 1 {
		t.Errorf("stripe called %d times, want 1", calls)
	}
}

func TestParseWebhook(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		body    string
		want    WebhookEvent
		wantErr error
	}{
		{
			name: "checkout session completed",
			body: fmt.Sprintf(`{"id":"evt_1","object":"event","type":"checkout.session.completed","created":%d,
				"data":{"object":{"id":"cs_1","object":"checkout.session","amount_total":21497,"currency":"usd",
				"customer_email":"lifter@example.com","payment_intent":"pi_1","metadata":{"order_id":"ord-1"}}}}`, now.Unix()),
			want: WebhookEvent{
				ID:              "evt_1",
				Type:            EventCheckoutCompleted,
				OrderID:         "ord-1",
				SessionID:       "cs_1",
				PaymentIntentID: "pi_1",
				CustomerEmail:   "lifter@example.com",
				AmountCents:     21497,
				Currency:        "usd",
				PaidAt:          time.Unix(now.Unix(), 0).UTC(),
				Handled:         true,
			},
		},
		{
			name: "client reference id used when metadata is missing",
			body: fmt.Sprintf(`{"id":"evt_2","object":"event","type":"checkout.session.completed","created":%d,
				"data":{"object":{"id":"cs_2","object":"checkout.session","amount_total":100,"currency":"usd",
				"client_reference_id":"ord-2"}}}`, now.Unix()),
			want: WebhookEvent{
				ID:          "evt_2",
				Type:        EventCheckoutCompleted,
				OrderID:     "ord-2",
				SessionID:   "cs_2",
				AmountCents: 100,
				Currency:    "usd",
				PaidAt:      time.Unix(now.Unix(), 0).UTC(),
				Handled:     true,
			},
		},
		{
			name: "invoice paid",
			body: fmt.Sprintf(`{"id":"evt_3","object":"event","type":"invoice.paid","created":%d,
				"data":{"object":{"id":"in_1","object":"invoice","amount_paid":5000,"currency":"usd",
				"status_transitions":{"paid_at":1700000000},"metadata":{"order_id":"ord-3"}}}}`, now.Unix()),
			want: WebhookEvent{
				ID:          "evt_3",
				Type:        EventInvoicePaid,
				OrderID:     "ord-3",
				InvoiceID:   "in_1",
				AmountCents: 5000,
				Currency:    "usd",
				PaidAt:      time.Unix(1700000000, 0).UTC(),
				Handled:     true,
			},
		},
		{
			name: "unhandled event type",
			body: fmt.Sprintf(`{"id":"evt_4","object":"event","type":"customer.created","created":%d,
				"data":{"object":{"id":"cus_1","object":"customer"}}}`, now.Unix()),
			want: WebhookEvent{ID: "evt_4", Type: "customer.created"},
		},
		{
			name: "paid event without order id",
			body: fmt.Sprintf(`{"id":"evt_5","object":"event","type":"checkout.session.completed","created":%d,
				"data":{"object":{"id":"cs_5","object":"checkout.session"}}}`, now.Unix()),
			wantErr: ErrMissingOrderID,
		},
	}

	client := newTestClient(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := []byte(tt.body)
			got, err := client.ParseWebhook(body, signPayload(t, body, now))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseWebhook() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseWebhook() = %+v\nwant %+v", got, tt.want)
			}
		})
	}
}

func TestParseWebhook_RejectsBadSignature(t *testing.T) {
	body := []byte(`{"id":"evt_1","object":"event","type":"invoice.paid","data":{"object":{}}}`)
	client := newTestClient(nil)

	if _, err := client.ParseWebhook(body, "t=1,v1=deadbeef"); err == nil {
		t.Fatal("expected signature error")
	}

	client.cfg.WebhookSecret = ""
	if _, err := client.ParseWebhook(body, signPayload(t, body, time.Now())); !errors.Is(err, ErrWebhookSecretMissing) {
		t.Fatalf("error = %v, want ErrWebhookSecretMissing", err)
	}
}

func TestJSONExtract(t *testing.T) {
	var v map[string]any
	if err := jsonExtract(nil, &v); err == nil || !strings.Contains(err.Error(), "empty") {
		t.Errorf("empty payload error = %v", err)
	}
	if err := jsonExtract([]byte("{"), &v); err == nil {
		t.Error("expected decode error")
	}
	if err := jsonExtract([]byte(`{"a":1}`), &v); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
