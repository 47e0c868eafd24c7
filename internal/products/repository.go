package products

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/platehaus/storefront/internal/config"
	"github.com/platehaus/storefront/internal/metrics"
)

// ErrProductNotFound is returned when no plate matches the lookup.
var ErrProductNotFound = errors.New("product not found")

// weightTolerance absorbs float noise from JSON and NUMERIC round trips.
const weightTolerance = 1e-6

// Product is a bumper plate in the catalog. Weight (lb) is the natural key.
type Product struct {
	Weight       float64 `json:"weight"`
	Title        string  `json:"title"`
	SellingPrice float64 `json:"sellingPrice"`
}

// Matches reports whether the product has the given weight.
func (p Product) Matches(weight float64) bool {
	return math.Abs(p.Weight-weight) < weightTolerance
}

// FormatWeight renders a weight without trailing zeros ("45", "2.5").
func FormatWeight(weight float64) string {
	return strconv.FormatFloat(weight, 'f', -1, 64)
}

// FallbackTitle is the display title used when no catalog entry matches.
func FallbackTitle(weight float64) string {
	return FormatWeight(weight) + "lb Bumper Plate"
}

// FindByWeight returns the first product in list with the given weight.
func FindByWeight(list []Product, weight float64) (Product, bool) {
	for _, p := range list {
		if p.Matches(weight) {
			return p, true
		}
	}
	return Product{}, false
}

// Repository defines read access to the plate catalog.
type Repository interface {
	// ListProducts returns every plate, lightest first.
	ListProducts(ctx context.Context) ([]Product, error)

	// GetProductByWeight returns ErrProductNotFound if no plate has the weight.
	GetProductByWeight(ctx context.Context, weight float64) (Product, error)

	// Close closes any open connections.
	Close() error
}

// NewRepositoryWithDB creates a catalog repository based on config with optional caching.
// If sharedDB is provided (non-nil) for postgres sources, it will be used instead of creating a new connection.
func NewRepositoryWithDB(cfg config.CatalogConfig, pool config.PostgresPoolConfig, sharedDB *sql.DB) (Repository, error) {
	source := cfg.Source
	if source == "" {
		source = "yaml"
	}

	var underlying Repository
	var err error

	switch source {
	case "yaml":
		underlying = NewYAMLRepository(cfg.Products)
	case "postgres":
		var pgRepo *PostgresRepository
		if sharedDB != nil {
			pgRepo = NewPostgresRepositoryWithDB(sharedDB)
		} else {
			if cfg.PostgresURL == "" {
				return nil, errors.New("postgres_url required when catalog.source is 'postgres'")
			}
			pgRepo, err = NewPostgresRepository(cfg.PostgresURL, pool)
			if err != nil {
				return nil, err
			}
		}
		if cfg.PostgresTableName != "" {
			if pgRepo, err = pgRepo.WithTableName(cfg.PostgresTableName); err != nil {
				return nil, err
			}
		}
		underlying = pgRepo
	case "mongodb":
		if cfg.MongoDBURL == "" || cfg.MongoDBDatabase == "" {
			return nil, errors.New("mongodb_url and mongodb_database required when catalog.source is 'mongodb'")
		}
		collection := cfg.MongoDBCollection
		if collection == "" {
			collection = "products"
		}
		underlying, err = NewMongoDBRepository(cfg.MongoDBURL, cfg.MongoDBDatabase, collection)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("invalid catalog.source %q: must be 'yaml', 'postgres', or 'mongodb'", source)
	}

	if ttl := cfg.CacheTTL.Duration; ttl > 0 {
		return NewCachedRepository(underlying, ttl), nil
	}
	return underlying, nil
}

// Instrument attaches query timing to a database-backed catalog, looking through the cache wrapper.
func Instrument(repo Repository, m *metrics.Metrics) Repository {
	target := repo
	if cached, ok := repo.(*CachedRepository); ok {
		target = cached.underlying
	}
	switch db := target.(type) {
	case *PostgresRepository:
		db.WithMetrics(m)
	case *MongoDBRepository:
		db.WithMetrics(m)
	}
	return repo
}
