package products

import (
	"context"
	"sort"

	"github.com/platehaus/storefront/internal/config"
)

// YAMLRepository implements Repository using the catalog section of the config file.
type YAMLRepository struct {
	products []Product
}

// NewYAMLRepository creates a repository from YAML config.
func NewYAMLRepository(entries []config.CatalogProduct) *YAMLRepository {
	products := make([]Product, 0, len(entries))
	for _, e := range entries {
		products = append(products, Product{
			Weight:       e.Weight,
			Title:        e.Title,
			SellingPrice: e.SellingPrice,
		})
	}
	sort.SliceStable(products, func(i, j int) bool { return products[i].Weight < products[j].Weight })
	return &YAMLRepository{products: products}
}

// ListProducts returns every plate, lightest first.
func (r *YAMLRepository) ListProducts(context.Context) ([]Product, error) {
	return append([]Product(nil), r.products...), nil
}

// GetProductByWeight returns the plate with the given weight.
func (r *YAMLRepository) GetProductByWeight(_ context.Context, weight float64) (Product, error) {
	if p, ok := FindByWeight(r.products, weight); ok {
		return p, nil
	}
	return Product{}, ErrProductNotFound
}

// Close is a no-op for YAML repository.
func (r *YAMLRepository) Close() error {
	return nil
}
