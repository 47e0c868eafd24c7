package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/platehaus/storefront/internal/config"
	"github.com/platehaus/storefront/internal/dbpool"
	"github.com/platehaus/storefront/internal/metrics"
)

// PostgresRepository implements Repository over the storefront's orders and customers tables.
type PostgresRepository struct {
	db             *sql.DB
	ownsDB         bool
	metrics        *metrics.Metrics
	ordersTable    string
	customersTable string
}

const (
	queryTimeoutGet  = 5 * time.Second
	queryTimeoutList = 10 * time.Second
)

// orderColumns nulls are coalesced so scanning does not need sql.Null* for every text field.
const orderColumns = `
	id, COALESCE(order_number, ''), COALESCE(status, ''), COALESCE(payment_status, ''),
	COALESCE(customer_email, ''), COALESCE(customer_name, ''), COALESCE(customer_phone, ''),
	order_items, COALESCE(total_amount, 0), COALESCE(tax_amount, 0), COALESCE(shipping_cost, 0),
	COALESCE(shipping_name, ''), COALESCE(shipping_address1, ''), COALESCE(shipping_address2, ''),
	COALESCE(shipping_city, ''), COALESCE(shipping_state, ''), COALESCE(shipping_postal_code, ''),
	COALESCE(shipping_country, ''), COALESCE(shipping_method, ''),
	COALESCE(payment_link_url, ''), COALESCE(payment_session_id, ''), COALESCE(payment_method, ''),
	COALESCE(amount_paid, 0), COALESCE(provider_payment_id, ''), COALESCE(provider_invoice_id, ''),
	paid_at, created_at, updated_at`

// NewPostgresRepository opens a dedicated pool for orders.
func NewPostgresRepository(connectionString string, poolConfig config.PostgresPoolConfig) (*PostgresRepository, error) {
	db, err := dbpool.Open(context.Background(), connectionString, poolConfig)
	if err != nil {
		return nil, err
	}
	repo := NewPostgresRepositoryWithDB(db)
	repo.ownsDB = true
	return repo, nil
}

// NewPostgresRepositoryWithDB reads and writes through an existing pool. Close leaves it open.
func NewPostgresRepositoryWithDB(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, ordersTable: "orders", customersTable: "customers"}
}

// WithTableNames overrides the orders and customers table names (schema_mapping support).
// Empty names keep the defaults.
func (r *PostgresRepository) WithTableNames(ordersTable, customersTable string) error {
	for _, name := range []string{ordersTable, customersTable} {
		if name != "" && !dbpool.ValidIdentifier(name) {
			return fmt.Errorf("invalid orders table name %q", name)
		}
	}
	if ordersTable != "" {
		r.ordersTable = ordersTable
	}
	if customersTable != "" {
		r.customersTable = customersTable
	}
	return nil
}

// WithMetrics adds metrics collection to the repository.
func (r *PostgresRepository) WithMetrics(m *metrics.Metrics) *PostgresRepository {
	r.metrics = m
	return r
}

// GetOrder retrieves an order by ID.
func (r *PostgresRepository) GetOrder(ctx context.Context, id string) (Order, error) {
	defer metrics.MeasureDBQuery(r.metrics, "get_order", metrics.BackendPostgres)()

	ctx, cancel := dbpool.WithTimeout(ctx, queryTimeoutGet)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, orderColumns, pq.QuoteIdentifier(r.ordersTable))
	o, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("query order: %w", err)
	}
	return o, nil
}

// GetCustomerByEmail retrieves a customer by email, case-insensitively.
func (r *PostgresRepository) GetCustomerByEmail(ctx context.Context, email string) (Customer, error) {
	defer metrics.MeasureDBQuery(r.metrics, "get_customer", metrics.BackendPostgres)()

	ctx, cancel := dbpool.WithTimeout(ctx, queryTimeoutGet)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT email, COALESCE(first_name, ''), COALESCE(last_name, ''), COALESCE(phone, ''),
		       COALESCE(provider_customer_id, '')
		FROM %s
		WHERE lower(email) = lower($1)
		LIMIT 1
	`, pq.QuoteIdentifier(r.customersTable))

	var c Customer
	err := r.db.QueryRowContext(ctx, query, email).Scan(&c.Email, &c.FirstName, &c.LastName, &c.Phone, &c.ProviderCustomerID)
	if errors.Is(err, sql.ErrNoRows) {
		return Customer{}, ErrCustomerNotFound
	}
	if err != nil {
		return Customer{}, fmt.Errorf("query customer: %w", err)
	}
	return c, nil
}

// SetPaymentLink stores the link on an unpaid, non-cancelled order.
func (r *PostgresRepository) SetPaymentLink(ctx context.Context, id string, link PaymentLink) (Order, error) {
	defer metrics.MeasureDBQuery(r.metrics, "set_payment_link", metrics.BackendPostgres)()

	ctx, cancel := dbpool.WithTimeout(ctx, queryTimeoutGet)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s
		SET payment_link_url = $2, payment_session_id = $3, updated_at = $4
		WHERE id = $1
		  AND COALESCE(payment_status, '') <> 'paid'
		  AND COALESCE(status, '') <> 'cancelled'
		RETURNING %s
	`, pq.QuoteIdentifier(r.ordersTable), orderColumns)

	o, err := scanOrder(r.db.QueryRowContext(ctx, query, id, link.URL, link.SessionID, time.Now().UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, r.classifyMiss(ctx, id, ErrNotPayable)
	}
	if err != nil {
		return Order{}, fmt.Errorf("set payment link: %w", err)
	}
	return o, nil
}

// MarkPaid records the payment on an unpaid order. Pending orders become confirmed.
func (r *PostgresRepository) MarkPaid(ctx context.Context, id string, p Payment) (Order, error) {
	defer metrics.MeasureDBQuery(r.metrics, "mark_paid", metrics.BackendPostgres)()

	ctx, cancel := dbpool.WithTimeout(ctx, queryTimeoutGet)
	defer cancel()

	now := time.Now().UTC()
	paidAt := p.PaidAt
	if paidAt.IsZero() {
		paidAt = now
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET payment_status = 'paid',
		    status = CASE WHEN COALESCE(status, '') IN ('', 'pending') THEN 'confirmed' ELSE status END,
		    payment_method = $2, amount_paid = $3, paid_at = $4,
		    provider_payment_id = $5, provider_invoice_id = $6, updated_at = $7
		WHERE id = $1 AND COALESCE(payment_status, '') <> 'paid'
		RETURNING %s
	`, pq.QuoteIdentifier(r.ordersTable), orderColumns)

	o, err := scanOrder(r.db.QueryRowContext(ctx, query,
		id, p.Method, p.AmountPaid, paidAt, p.ProviderPaymentID, p.ProviderInvoiceID, now))
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, r.classifyMiss(ctx, id, ErrAlreadyPaid)
	}
	if err != nil {
		return Order{}, fmt.Errorf("mark order paid: %w", err)
	}
	return o, nil
}

// classifyMiss distinguishes a missing order from a guarded update that matched nothing.
func (r *PostgresRepository) classifyMiss(ctx context.Context, id string, guardErr error) error {
	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE id = $1`, pq.QuoteIdentifier(r.ordersTable))
	var one int
	err := r.db.QueryRowContext(ctx, query, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup order: %w", err)
	}
	return guardErr
}

// ListOrders returns orders newest first.
func (r *PostgresRepository) ListOrders(ctx context.Context, filter ListFilter) ([]Order, error) {
	defer metrics.MeasureDBQuery(r.metrics, "list_orders", metrics.BackendPostgres)()

	ctx, cancel := dbpool.WithTimeout(ctx, queryTimeoutList)
	defer cancel()

	var (
		where []string
		args  []any
	)
	if filter.PaymentStatus != "" {
		args = append(args, strings.ToLower(filter.PaymentStatus))
		where = append(where, fmt.Sprintf("lower(payment_status) = $%d", len(args)))
	}
	args = append(args, listLimit(filter.Limit))

	query := fmt.Sprintf(`SELECT %s FROM %s`, orderColumns, pq.QuoteIdentifier(r.ordersTable))
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return out, nil
}

// Close closes the database connection only if this repository owns it.
func (r *PostgresRepository) Close() error {
	if r.ownsDB {
		return r.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (Order, error) {
	var (
		o      Order
		items  sql.NullString
		paidAt sql.NullTime
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.Status, &o.PaymentStatus,
		&o.CustomerEmail, &o.CustomerName, &o.CustomerPhone,
		&items, &o.TotalAmount, &o.TaxAmount, &o.ShippingCost,
		&o.Shipping.Name, &o.Shipping.Address1, &o.Shipping.Address2,
		&o.Shipping.City, &o.Shipping.State, &o.Shipping.PostalCode,
		&o.Shipping.Country, &o.Shipping.Method,
		&o.PaymentLinkURL, &o.PaymentSessionID, &o.PaymentMethod,
		&o.AmountPaid, &o.ProviderPaymentID, &o.ProviderInvoiceID,
		&paidAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return Order{}, err
	}
	if items.Valid && items.String != "" {
		o.OrderItems = json.RawMessage(items.String)
	}
	if paidAt.Valid {
		t := paidAt.Time
		o.PaidAt = &t
	}
	return o, nil
}
