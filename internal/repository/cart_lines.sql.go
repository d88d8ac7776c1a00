package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const upsertCartLine = `-- name: UpsertCartLine :one
INSERT INTO cart_lines (owner_kind, owner_ref, product_id, quantity, added_at, updated_at)
VALUES ($1, $2, $3, $4, now(), now())
ON CONFLICT (owner_kind, owner_ref, product_id) DO UPDATE
SET quantity   = LEAST(cart_lines.quantity + EXCLUDED.quantity, $5::integer),
    updated_at = now()
RETURNING owner_kind, owner_ref, product_id, quantity, added_at, updated_at, (xmax = 0) AS inserted
`

type UpsertCartLineParams struct {
	OwnerKind   string `json:"owner_kind"`
	OwnerRef    string `json:"owner_ref"`
	ProductID   int64  `json:"product_id"`
	Quantity    int32  `json:"quantity"`
	MaxQuantity int32  `json:"max_quantity"`
}

type UpsertCartLineRow struct {
	OwnerKind string             `json:"owner_kind"`
	OwnerRef  string             `json:"owner_ref"`
	ProductID int64              `json:"product_id"`
	Quantity  int32              `json:"quantity"`
	AddedAt   pgtype.Timestamptz `json:"added_at"`
	UpdatedAt pgtype.Timestamptz `json:"updated_at"`
	Inserted  bool               `json:"inserted"`
}

// UpsertCartLine inserts a line or adds to the existing quantity, capped at
// MaxQuantity. Inserted is false when an existing row was updated.
func (q *Queries) UpsertCartLine(ctx context.Context, arg UpsertCartLineParams) (UpsertCartLineRow, error) {
	row := q.db.QueryRow(ctx, upsertCartLine,
		arg.OwnerKind,
		arg.OwnerRef,
		arg.ProductID,
		arg.Quantity,
		arg.MaxQuantity,
	)
	var i UpsertCartLineRow
	err := row.Scan(
		&i.OwnerKind,
		&i.OwnerRef,
		&i.ProductID,
		&i.Quantity,
		&i.AddedAt,
		&i.UpdatedAt,
		&i.Inserted,
	)
	return i, err
}

const mergeCartLine = `-- name: MergeCartLine :one
INSERT INTO cart_lines (owner_kind, owner_ref, product_id, quantity, added_at, updated_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (owner_kind, owner_ref, product_id) DO UPDATE
SET quantity   = LEAST(cart_lines.quantity + EXCLUDED.quantity, $6::integer),
    updated_at = now()
RETURNING owner_kind, owner_ref, product_id, quantity, added_at, updated_at, (xmax = 0) AS inserted
`

type MergeCartLineParams struct {
	OwnerKind   string             `json:"owner_kind"`
	OwnerRef    string             `json:"owner_ref"`
	ProductID   int64              `json:"product_id"`
	Quantity    int32              `json:"quantity"`
	AddedAt     pgtype.Timestamptz `json:"added_at"`
	MaxQuantity int32              `json:"max_quantity"`
}

// MergeCartLine is UpsertCartLine that preserves the source line's added_at
// when the target owner has no line yet.
func (q *Queries) MergeCartLine(ctx context.Context, arg MergeCartLineParams) (UpsertCartLineRow, error) {
	row := q.db.QueryRow(ctx, mergeCartLine,
		arg.OwnerKind,
		arg.OwnerRef,
		arg.ProductID,
		arg.Quantity,
		arg.AddedAt,
		arg.MaxQuantity,
	)
	var i UpsertCartLineRow
	err := row.Scan(
		&i.OwnerKind,
		&i.OwnerRef,
		&i.ProductID,
		&i.Quantity,
		&i.AddedAt,
		&i.UpdatedAt,
		&i.Inserted,
	)
	return i, err
}

const updateCartLineQuantity = `-- name: UpdateCartLineQuantity :one
UPDATE cart_lines
SET quantity = $4, updated_at = now()
WHERE owner_kind = $1 AND owner_ref = $2 AND product_id = $3
RETURNING owner_kind, owner_ref, product_id, quantity, added_at, updated_at
`

type UpdateCartLineQuantityParams struct {
	OwnerKind string `json:"owner_kind"`
	OwnerRef  string `json:"owner_ref"`
	ProductID int64  `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

func (q *Queries) UpdateCartLineQuantity(ctx context.Context, arg UpdateCartLineQuantityParams) (CartLine, error) {
	row := q.db.QueryRow(ctx, updateCartLineQuantity,
		arg.OwnerKind,
		arg.OwnerRef,
		arg.ProductID,
		arg.Quantity,
	)
	var i CartLine
	err := row.Scan(
		&i.OwnerKind,
		&i.OwnerRef,
		&i.ProductID,
		&i.Quantity,
		&i.AddedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const deleteCartLine = `-- name: DeleteCartLine :execrows
DELETE FROM cart_lines
WHERE owner_kind = $1 AND owner_ref = $2 AND product_id = $3
`

type DeleteCartLineParams struct {
	OwnerKind string `json:"owner_kind"`
	OwnerRef  string `json:"owner_ref"`
	ProductID int64  `json:"product_id"`
}

func (q *Queries) DeleteCartLine(ctx context.Context, arg DeleteCartLineParams) (int64, error) {
	result, err := q.db.Exec(ctx, deleteCartLine, arg.OwnerKind, arg.OwnerRef, arg.ProductID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const deleteCartLinesByOwner = `-- name: DeleteCartLinesByOwner :execrows
DELETE FROM cart_lines
WHERE owner_kind = $1 AND owner_ref = $2
`

type DeleteCartLinesByOwnerParams struct {
	OwnerKind string `json:"owner_kind"`
	OwnerRef  string `json:"owner_ref"`
}

func (q *Queries) DeleteCartLinesByOwner(ctx context.Context, arg DeleteCartLinesByOwnerParams) (int64, error) {
	result, err := q.db.Exec(ctx, deleteCartLinesByOwner, arg.OwnerKind, arg.OwnerRef)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const deleteCartLinesForOrder = `-- name: DeleteCartLinesForOrder :execrows
DELETE FROM cart_lines
WHERE owner_kind = $1 AND owner_ref = $2
  AND product_id = ANY($3::bigint[])
  AND updated_at <= $4
`

type DeleteCartLinesForOrderParams struct {
	OwnerKind  string             `json:"owner_kind"`
	OwnerRef   string             `json:"owner_ref"`
	ProductIDs []int64            `json:"product_ids"`
	AsOf       pgtype.Timestamptz `json:"as_of"`
}

// DeleteCartLinesForOrder removes the lines an order consumed. A line
// changed after AsOf is kept.
func (q *Queries) DeleteCartLinesForOrder(ctx context.Context, arg DeleteCartLinesForOrderParams) (int64, error) {
	result, err := q.db.Exec(ctx, deleteCartLinesForOrder,
		arg.OwnerKind,
		arg.OwnerRef,
		arg.ProductIDs,
		arg.AsOf,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listCartLinesByOwner = `-- name: ListCartLinesByOwner :many
SELECT owner_kind, owner_ref, product_id, quantity, added_at, updated_at
FROM cart_lines
WHERE owner_kind = $1 AND owner_ref = $2
ORDER BY added_at, product_id
`

type ListCartLinesByOwnerParams struct {
	OwnerKind string `json:"owner_kind"`
	OwnerRef  string `json:"owner_ref"`
}

func (q *Queries) ListCartLinesByOwner(ctx context.Context, arg ListCartLinesByOwnerParams) ([]CartLine, error) {
	rows, err := q.db.Query(ctx, listCartLinesByOwner, arg.OwnerKind, arg.OwnerRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CartLine
	for rows.Next() {
		var i CartLine
		if err := rows.Scan(
			&i.OwnerKind,
			&i.OwnerRef,
			&i.ProductID,
			&i.Quantity,
			&i.AddedAt,
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

const deleteExpiredGuestCartLines = `-- name: DeleteExpiredGuestCartLines :one
WITH deleted AS (
    DELETE FROM cart_lines
    WHERE owner_kind = 'guest' AND added_at < $1
    RETURNING owner_ref
)
SELECT count(DISTINCT owner_ref)::bigint AS guests_affected,
       count(*)::bigint                  AS lines_deleted
FROM deleted
`

type DeleteExpiredGuestCartLinesRow struct {
	GuestsAffected int64 `json:"guests_affected"`
	LinesDeleted   int64 `json:"lines_deleted"`
}

func (q *Queries) DeleteExpiredGuestCartLines(ctx context.Context, cutoff pgtype.Timestamptz) (DeleteExpiredGuestCartLinesRow, error) {
	row := q.db.QueryRow(ctx, deleteExpiredGuestCartLines, cutoff)
	var i DeleteExpiredGuestCartLinesRow
	err := row.Scan(&i.GuestsAffected, &i.LinesDeleted)
	return i, err
}

const getGuestCartStats = `-- name: GetGuestCartStats :one
SELECT count(DISTINCT owner_ref)::bigint       AS distinct_guests,
       count(*)::bigint                        AS total_lines,
       COALESCE(sum(quantity), 0)::bigint      AS total_quantity,
       min(added_at)                           AS oldest_added_at
FROM cart_lines
WHERE owner_kind = 'guest'
`

type GetGuestCartStatsRow struct {
	DistinctGuests int64              `json:"distinct_guests"`
	TotalLines     int64              `json:"total_lines"`
	TotalQuantity  int64              `json:"total_quantity"`
	OldestAddedAt  pgtype.Timestamptz `json:"oldest_added_at"`
}

func (q *Queries) GetGuestCartStats(ctx context.Context) (GetGuestCartStatsRow, error) {
	row := q.db.QueryRow(ctx, getGuestCartStats)
	var i GetGuestCartStatsRow
	err := row.Scan(
		&i.DistinctGuests,
		&i.TotalLines,
		&i.TotalQuantity,
		&i.OldestAddedAt,
	)
	return i, err
}
