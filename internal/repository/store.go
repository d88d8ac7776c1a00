package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store adds transaction support to Querier.
type Store interface {
	Querier

	// ExecTx runs fn inside a single database transaction. The transaction is
	// committed when fn returns nil and rolled back otherwise.
	ExecTx(ctx context.Context, fn func(q Querier) error) error
}

// PoolStore is the pgxpool-backed Store.
type PoolStore struct {
	*Queries
	pool *pgxpool.Pool
}

// NewStore returns a Store backed by pool.
func NewStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{
		Queries: New(pool),
		pool:    pool,
	}
}

func (s *PoolStore) ExecTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(s.Queries.WithTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

var _ Store = (*PoolStore)(nil)
