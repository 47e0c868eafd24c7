package products

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/platehaus/storefront/internal/config"
	"github.com/platehaus/storefront/internal/dbpool"
	"github.com/platehaus/storefront/internal/metrics"
)

const (
	queryTimeoutGet  = 5 * time.Second
	queryTimeoutList = 10 * time.Second
)

// productColumns is shared by every catalog query so scanProduct stays in step.
const productColumns = `weight, COALESCE(title, ''), COALESCE(selling_price, 0)`

// PostgresRepository reads the plate catalog from a products table.
type PostgresRepository struct {
	db        *sql.DB
	ownsDB    bool
	metrics   *metrics.Metrics
	tableName string
}

// NewPostgresRepository opens a dedicated pool for the catalog.
func NewPostgresRepository(connectionString string, poolConfig config.PostgresPoolConfig) (*PostgresRepository, error) {
	db, err := dbpool.Open(context.Background(), connectionString, poolConfig)
	if err != nil {
		return nil, err
	}
	repo := NewPostgresRepositoryWithDB(db)
	repo.ownsDB = true
	return repo, nil
}

// NewPostgresRepositoryWithDB reads through an existing pool. Close leaves it open.
func NewPostgresRepositoryWithDB(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, tableName: "products"}
}

// WithTableName points the repository at a differently named table. Empty keeps "products".
func (r *PostgresRepository) WithTableName(tableName string) (*PostgresRepository, error) {
	if tableName == "" {
		return r, nil
	}
	if !dbpool.ValidIdentifier(tableName) {
		return nil, fmt.Errorf("invalid catalog table name %q", tableName)
	}
	r.tableName = tableName
	return r, nil
}

// WithMetrics times every query into storefront_db_query_duration_seconds.
func (r *PostgresRepository) WithMetrics(m *metrics.Metrics) *PostgresRepository {
	r.metrics = m
	return r
}

// ListProducts returns every plate, lightest first.
func (r *PostgresRepository) ListProducts(ctx context.Context) ([]Product, error) {
	defer metrics.MeasureDBQuery(r.metrics, "list_products", metrics.BackendPostgres)()
	ctx, cancel := dbpool.WithTimeout(ctx, queryTimeoutList)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY weight ASC`, productColumns, pq.QuoteIdentifier(r.tableName))
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var list []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return list, nil
}

// GetProductByWeight matches within weightTolerance since weight is NUMERIC.
func (r *PostgresRepository) GetProductByWeight(ctx context.Context, weight float64) (Product, error) {
	defer metrics.MeasureDBQuery(r.metrics, "get_product_by_weight", metrics.BackendPostgres)()
	ctx, cancel := dbpool.WithTimeout(ctx, queryTimeoutGet)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE abs(weight - $1) < $2 ORDER BY weight ASC LIMIT 1`,
		productColumns, pq.QuoteIdentifier(r.tableName))
	p, err := scanProduct(r.db.QueryRowContext(ctx, query, weight, weightTolerance))
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (Product, error) {
	var p Product
	if err := row.Scan(&p.Weight, &p.Title, &p.SellingPrice); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Product{}, err
		}
		return Product{}, fmt.Errorf("scan product: %w", err)
	}
	return p, nil
}

// Close closes the pool only if this repository opened it.
func (r *PostgresRepository) Close() error {
	if !r.ownsDB {
		return nil
	}
	return r.db.Close()
}
