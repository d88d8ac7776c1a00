package domain

import "context"

// Product is the catalog data the cart core consumes. It is owned by the
// catalog; the core never mutates it.
type Product struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	PriceCents int64  `json:"price_cents"`
}

// Catalog is the read-only product lookup the cart core depends on.
type Catalog interface {
	// Exists reports whether the product is currently in the catalog.
	Exists(ctx context.Context, productID int64) (bool, error)

	// PriceAndTitle returns the current product data or a not_found error.
	PriceAndTitle(ctx context.Context, productID int64) (*Product, error)

	// Products returns the subset of ids that exist, keyed by id.
	Products(ctx context.Context, productIDs []int64) (map[int64]*Product, error)
}
