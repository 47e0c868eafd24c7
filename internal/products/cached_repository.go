package products

import (
	"context"
	"sync"
	"time"

	"github.com/platehaus/storefront/internal/cacheutil"
)

// CachedRepository wraps a Repository with a TTL cache of the full catalog.
// Weight lookups are answered from the cached list.
type CachedRepository struct {
	underlying Repository
	cacheTTL   time.Duration

	mu         sync.RWMutex
	cachedList cacheutil.CachedValue[[]Product]
}

// NewCachedRepository wraps a repository with a caching layer.
// Set cacheTTL to 0 to disable caching (pass-through mode).
func NewCachedRepository(underlying Repository, cacheTTL time.Duration) *CachedRepository {
	return &CachedRepository{
		underlying: underlying,
		cacheTTL:   cacheTTL,
	}
}

// ListProducts returns the catalog with TTL-based caching.
func (r *CachedRepository) ListProducts(ctx context.Context) ([]Product, error) {
	if r.cacheTTL == 0 {
		return r.underlying.ListProducts(ctx)
	}

	list, err := cacheutil.ReadThrough(
		&r.mu,
		func(now time.Time) ([]Product, bool) {
			if r.cachedList.Value != nil && now.Sub(r.cachedList.FetchedAt) < r.cacheTTL {
				return r.cachedList.Value, true
			}
			return nil, false
		},
		func(now time.Time) ([]Product, error) {
			products, err := r.underlying.ListProducts(ctx)
			if err != nil {
				return nil, err
			}
			if products == nil {
				products = []Product{}
			}
			r.cachedList = cacheutil.CachedValue[[]Product]{
				Value:     products,
				FetchedAt: now,
			}
			return products, nil
		},
	)
	if err != nil {
		return nil, err
	}
	return append([]Product(nil), list...), nil
}

// GetProductByWeight looks the weight up in the cached catalog.
func (r *CachedRepository) GetProductByWeight(ctx context.Context, weight float64) (Product, error) {
	if r.cacheTTL == 0 {
		return r.underlying.GetProductByWeight(ctx, weight)
	}
	list, err := r.ListProducts(ctx)
	if err != nil {
		return Product{}, err
	}
	if p, ok := FindByWeight(list, weight); ok {
		return p, nil
	}
	return Product{}, ErrProductNotFound
}

// Close closes the underlying repository.
func (r *CachedRepository) Close() error {
	return r.underlying.Close()
}
