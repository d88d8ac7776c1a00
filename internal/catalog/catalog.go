// Package catalog implements the read-only product lookup consumed by the
// cart core: a postgres source, an optional redis read-through cache and a
// circuit breaker that fails fast while the source is unhealthy.
package catalog

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/dukerupert/cartkeeper/internal/repository"
	"github.com/dukerupert/cartkeeper/internal/telemetry"
)

// ProductQuerier is the subset of repository.Querier the catalog reads.
type ProductQuerier interface {
	GetActiveProduct(ctx context.Context, id int64) (repository.Product, error)
	ProductExists(ctx context.Context, id int64) (bool, error)
	ListActiveProductsByIDs(ctx context.Context, ids []int64) ([]repository.Product, error)
}

// PostgresCatalog reads active products from the products table.
type PostgresCatalog struct {
	q ProductQuerier
}

func NewPostgresCatalog(q ProductQuerier) *PostgresCatalog {
	return &PostgresCatalog{q: q}
}

func (c *PostgresCatalog) Exists(ctx context.Context, productID int64) (bool, error) {
	const op = "catalog.Exists"
	defer observe("exists", time.Now())

	telemetry.Business.CatalogLookups.WithLabelValues("db").Inc()
	exists, err := c.q.ProductExists(ctx, productID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return exists, nil
}

func (c *PostgresCatalog) PriceAndTitle(ctx context.Context, productID int64) (*domain.Product, error) {
	const op = "catalog.PriceAndTitle"
	defer observe("price_and_title", time.Now())

	telemetry.Business.CatalogLookups.WithLabelValues("db").Inc()
	row, err := c.q.GetActiveProduct(ctx, productID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, domain.NotFound(op, "product", strconv.FormatInt(productID, 10))
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return toProduct(row), nil
}

func (c *PostgresCatalog) Products(ctx context.Context, productIDs []int64) (map[int64]*domain.Product, error) {
	const op = "catalog.Products"
	out := make(map[int64]*domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	defer observe("products", time.Now())

	telemetry.Business.CatalogLookups.WithLabelValues("db").Inc()
	rows, err := c.q.ListActiveProductsByIDs(ctx, productIDs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for _, row := range rows {
		out[row.ID] = toProduct(row)
	}
	return out, nil
}

func toProduct(row repository.Product) *domain.Product {
	return &domain.Product{
		ID:         row.ID,
		Title:      row.Title,
		PriceCents: row.PriceCents,
	}
}

func observe(operation string, start time.Time) {
	telemetry.Business.CatalogDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

var _ domain.Catalog = (*PostgresCatalog)(nil)
