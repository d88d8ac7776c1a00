package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/dukerupert/cartkeeper/internal/catalog"
	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/dukerupert/cartkeeper/internal/memstore"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	productEthiopia int64 = 1
	productColombia int64 = 2
	productKenya    int64 = 3
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore() *memstore.Store {
	store := memstore.New()
	store.PutProduct(productEthiopia, "Ethiopia Yirgacheffe", 1800)
	store.PutProduct(productColombia, "Colombia Huila", 2200)
	store.PutProduct(productKenya, "Kenya AA", 1000)
	return store
}

func newTestCartService(store *memstore.Store) CartService {
	return NewCartService(store, catalog.NewPostgresCatalog(store), 0, discardLogger())
}

func customer(t *testing.T, id int64) domain.CartOwner {
	t.Helper()
	o, err := domain.CustomerOwner(id)
	require.NoError(t, err)
	return o
}

func guest(t *testing.T, addr string) domain.CartOwner {
	t.Helper()
	o, err := domain.GuestOwner(addr)
	require.NoError(t, err)
	return o
}

func TestCartService_AddThenList(t *testing.T) {
	store := newTestStore()
	svc := newTestCartService(store)
	ctx := context.Background()
	owner := customer(t, 42)

	line, action, err := svc.AddItem(ctx, owner, productEthiopia, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionCreated, action)
	assert.Equal(t, 2, line.Quantity)

	line, action, err = svc.AddItem(ctx, owner, productEthiopia, 3)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionUpdated, action)
	assert.Equal(t, 5, line.Quantity)

	view, err := svc.List(ctx, owner, true)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, productEthiopia, view.Items[0].ProductID)
	assert.Equal(t, 5, view.TotalItems)
	assert.Equal(t, int64(9000), view.TotalAmountCents)
	assert.Equal(t, "90.00", view.TotalAmount)
}

func TestCartService_AddItem_QuantityBounds(t *testing.T) {
	tests := []struct {
		name     string
		quantity int
		wantErr  bool
	}{
		{"zero", 0, true},
		{"minimum", 1, false},
		{"maximum", 999, false},
		{"over maximum", 1000, true},
		{"negative", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestCartService(newTestStore())
			_, _, err := svc.AddItem(context.Background(), customer(t, 42), productEthiopia, tt.quantity)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, domain.TypeInvalidQuantity, domain.ErrorType(err))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCartService_AddItem_ClampsAccumulatedQuantity(t *testing.T) {
	svc := newTestCartService(newTestStore())
	ctx := context.Background()
	owner := customer(t, 42)

	_, _, err := svc.AddItem(ctx, owner, productKenya, 998)
	require.NoError(t, err)
	line, _, err := svc.AddItem(ctx, owner, productKenya, 5)
	require.NoError(t, err)
	assert.Equal(t, domain.MaxQuantity, line.Quantity)
}

func TestCartService_AddItem_Validation(t *testing.T) {
	svc := newTestCartService(newTestStore())
	ctx := context.Background()

	_, _, err := svc.AddItem(ctx, domain.CartOwner{}, productEthiopia, 1)
	assert.True(t, domain.IsCode(err, domain.EINVALID))

	_, _, err = svc.AddItem(ctx, customer(t, 42), 0, 1)
	assert.Equal(t, domain.TypeValidation, domain.ErrorType(err))

	_, _, err = svc.AddItem(ctx, customer(t, 42), 404, 1)
	assert.Equal(t, domain.TypeProductNotAvailable, domain.ErrorType(err))
}

func TestCartService_UpdateQuantity(t *testing.T) {
	store := newTestStore()
	svc := newTestCartService(store)
	ctx := context.Background()
	owner := guest(t, "203.0.113.7")

	_, _, err := svc.AddItem(ctx, owner, productColombia, 1)
	require.NoError(t, err)

	line, removed, err := svc.UpdateQuantity(ctx, owner, productColombia, 7)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, 7, line.Quantity)

	_, _, err = svc.UpdateQuantity(ctx, owner, productColombia, 1000)
	assert.Equal(t, domain.TypeInvalidQuantity, domain.ErrorType(err))

	_, _, err = svc.UpdateQuantity(ctx, owner, productEthiopia, 3)
	assert.Equal(t, domain.TypeNotFound, domain.ErrorType(err))
}

func TestCartService_UpdateQuantityZeroEqualsRemove(t *testing.T) {
	store := newTestStore()
	svc := newTestCartService(store)
	ctx := context.Background()
	a, b := customer(t, 1), customer(t, 2)

	for _, o := range []domain.CartOwner{a, b} {
		_, _, err := svc.AddItem(ctx, o, productEthiopia, 2)
		require.NoError(t, err)
		_, _, err = svc.AddItem(ctx, o, productKenya, 1)
		require.NoError(t, err)
	}

	line, removed, err := svc.UpdateQuantity(ctx, a, productEthiopia, 0)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Nil(t, line)
	require.NoError(t, svc.RemoveItem(ctx, b, productEthiopia))

	viewA, err := svc.List(ctx, a, true)
	require.NoError(t, err)
	viewB, err := svc.List(ctx, b, true)
	require.NoError(t, err)
	assert.Equal(t, viewB.Items[0].ProductID, viewA.Items[0].ProductID)
	assert.Equal(t, viewB.TotalAmountCents, viewA.TotalAmountCents)

	err = svc.RemoveItem(ctx, a, productEthiopia)
	assert.Equal(t, domain.TypeNotFound, domain.ErrorType(err))
}

func TestCartService_UpdateQuantity_OrphanedProduct(t *testing.T) {
	store := newTestStore()
	svc := newTestCartService(store)
	ctx := context.Background()
	owner := customer(t, 42)

	_, _, err := svc.AddItem(ctx, owner, productColombia, 2)
	require.NoError(t, err)
	store.RemoveProduct(productColombia)

	_, _, err = svc.UpdateQuantity(ctx, owner, productColombia, 3)
	require.Error(t, err)
	assert.Equal(t, domain.TypeOrphanedProduct, domain.ErrorType(err))

	view, err := svc.List(ctx, owner, false)
	require.NoError(t, err)
	assert.Empty(t, view.Items)
}

func TestCartService_EmptyIsIdempotent(t *testing.T) {
	svc := newTestCartService(newTestStore())
	ctx := context.Background()
	owner := customer(t, 42)

	_, _, err := svc.AddItem(ctx, owner, productEthiopia, 1)
	require.NoError(t, err)
	_, _, err = svc.AddItem(ctx, owner, productKenya, 4)
	require.NoError(t, err)

	n, err := svc.Empty(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = svc.Empty(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCartService_ListSelfHeals(t *testing.T) {
	store := newTestStore()
	svc := newTestCartService(store)
	ctx := context.Background()
	owner := customer(t, 42)

	for _, id := range []int64{productEthiopia, productColombia, productKenya} {
		_, _, err := svc.AddItem(ctx, owner, id, 1)
		require.NoError(t, err)
	}
	store.RemoveProduct(productColombia)

	// Without healing the line is hidden but kept.
	view, err := svc.List(ctx, owner, false)
	require.NoError(t, err)
	assert.Len(t, view.Items, 2)
	assert.Equal(t, 0, view.RemovedItems)

	view, err = svc.List(ctx, owner, true)
	require.NoError(t, err)
	assert.Len(t, view.Items, 2)
	assert.Equal(t, 1, view.RemovedItems)
	for _, it := range view.Items {
		assert.NotEqual(t, productColombia, it.ProductID)
	}
	assert.Equal(t, int64(2800), view.TotalAmountCents)

	view, err = svc.List(ctx, owner, true)
	require.NoError(t, err)
	assert.Equal(t, 0, view.RemovedItems)

	summary, err := svc.Summary(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ItemCount)
	assert.Equal(t, "28.00", summary.Subtotal)
}

func TestCartService_ValidateItemIntegrity(t *testing.T) {
	store := newTestStore()
	svc := newTestCartService(store)
	ctx := context.Background()
	owner := customer(t, 42)

	require.NoError(t, svc.ValidateItemIntegrity(ctx, productEthiopia, owner))

	_, _, err := svc.AddItem(ctx, owner, productKenya, 1)
	require.NoError(t, err)
	store.RemoveProduct(productKenya)

	err = svc.ValidateItemIntegrity(ctx, productKenya, owner)
	assert.Equal(t, domain.TypeOrphanedProduct, domain.ErrorType(err))
	assert.Equal(t, true, domain.ErrorDetails(err)["removed"])

	// The line is already gone, so the second check has nothing to remove.
	err = svc.ValidateItemIntegrity(ctx, productKenya, owner)
	assert.Equal(t, domain.TypeProductNotAvailable, domain.ErrorType(err))
}

func TestCartService_AddItem_HealsOrphanedLine(t *testing.T) {
	store := newTestStore()
	svc := newTestCartService(store)
	ctx := context.Background()
	owner := customer(t, 42)

	_, _, err := svc.AddItem(ctx, owner, productKenya, 2)
	require.NoError(t, err)
	store.RemoveProduct(productKenya)

	_, _, err = svc.AddItem(ctx, owner, productKenya, 1)
	assert.Equal(t, domain.TypeOrphanedProduct, domain.ErrorType(err))

	view, err := svc.List(ctx, owner, false)
	require.NoError(t, err)
	assert.Empty(t, view.Items)
	assert.Equal(t, 0, store.LineCount("customer", "42"), "the orphaned line is removed from storage")

	_, _, err = svc.AddItem(ctx, owner, productKenya, 1)
	assert.Equal(t, domain.TypeProductNotAvailable, domain.ErrorType(err))
}

func TestCartService_ClearOrdered(t *testing.T) {
	store := newTestStore()
	svc := newTestCartService(store)
	ctx := context.Background()
	owner := customer(t, 42)

	for _, id := range []int64{productEthiopia, productColombia} {
		_, _, err := svc.AddItem(ctx, owner, id, 1)
		require.NoError(t, err)
	}
	snap, err := svc.Snapshot(ctx, owner)
	require.NoError(t, err)
	ordered := snap.OrderedLines()
	assert.ElementsMatch(t, []int64{productEthiopia, productColombia}, ordered.ProductIDs)

	_, _, err = svc.AddItem(ctx, owner, productColombia, 1)
	require.NoError(t, err)
	_, _, err = svc.AddItem(ctx, owner, productKenya, 3)
	require.NoError(t, err)

	n, err := svc.ClearOrdered(ctx, owner, ordered)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	view, err := svc.List(ctx, owner, false)
	require.NoError(t, err)
	quantities := map[int64]int{}
	for _, it := range view.Items {
		quantities[it.ProductID] = it.Quantity
	}
	assert.Equal(t, map[int64]int{productColombia: 2, productKenya: 3}, quantities)

	n, err = svc.ClearOrdered(ctx, owner, domain.OrderedLines{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCartService_TransientStoreErrorIsRetryable(t *testing.T) {
	store := newTestStore()
	store.Err = func(method string) error {
		if method == "ListCartLinesByOwner" {
			return &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}
		}
		return nil
	}
	svc := newTestCartService(store)

	_, err := svc.List(context.Background(), customer(t, 42), true)
	require.Error(t, err)
	assert.Equal(t, domain.TypeInfrastructure, domain.ErrorType(err))
	assert.Equal(t, true, domain.ErrorDetails(err)["retryable"])
}

func TestCartService_UnknownStoreErrorIsInternal(t *testing.T) {
	store := newTestStore()
	store.Err = func(method string) error {
		if method == "DeleteCartLinesByOwner" {
			return errors.New("disk on fire")
		}
		return nil
	}
	svc := newTestCartService(store)

	_, err := svc.Empty(context.Background(), customer(t, 42))
	require.Error(t, err)
	assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))
	assert.NotContains(t, domain.ErrorMessage(err), "disk")
}
