package repository

import (
	"context"
)

const getActiveProduct = `-- name: GetActiveProduct :one
SELECT id, title, price_cents, active, created_at, updated_at
FROM products
WHERE id = $1 AND active
`

func (q *Queries) GetActiveProduct(ctx context.Context, id int64) (Product, error) {
	row := q.db.QueryRow(ctx, getActiveProduct, id)
	var i Product
	err := row.Scan(
		&i.ID,
		&i.Title,
		&i.PriceCents,
		&i.Active,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const productExists = `-- name: ProductExists :one
SELECT EXISTS (SELECT 1 FROM products WHERE id = $1 AND active)
`

func (q *Queries) ProductExists(ctx context.Context, id int64) (bool, error) {
	row := q.db.QueryRow(ctx, productExists, id)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}

const listActiveProductsByIDs = `-- name: ListActiveProductsByIDs :many
SELECT id, title, price_cents, active, created_at, updated_at
FROM products
WHERE id = ANY($1::bigint[]) AND active
ORDER BY id
`

func (q *Queries) ListActiveProductsByIDs(ctx context.Context, ids []int64) ([]Product, error) {
	rows, err := q.db.Query(ctx, listActiveProductsByIDs, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Product
	for rows.Next() {
		var i Product
		if err := rows.Scan(
			&i.ID,
			&i.Title,
			&i.PriceCents,
			&i.Active,
			&i.CreatedAt,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
