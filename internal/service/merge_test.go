package service

import (
	"context"
	"testing"
	"time"

	"github.com/dukerupert/cartkeeper/internal/catalog"
	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const guestAddr = "198.51.100.23"

func TestMergeService_TransferGuestToCustomer(t *testing.T) {
	store := newTestStore()
	cart := newTestCartService(store)
	merge := NewMergeService(store, catalog.NewPostgresCatalog(store), 0, discardLogger())
	ctx := context.Background()

	g := guest(t, guestAddr)
	c := customer(t, 42)

	_, _, err := cart.AddItem(ctx, g, productEthiopia, 2)
	require.NoError(t, err)
	_, _, err = cart.AddItem(ctx, g, productColombia, 1)
	require.NoError(t, err)
	_, _, err = cart.AddItem(ctx, c, productEthiopia, 3)
	require.NoError(t, err)

	result, err := merge.TransferGuestToCustomer(ctx, guestAddr, 42)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TransferredItems)
	assert.Equal(t, 1, result.MergedItems)
	assert.Empty(t, result.Errors)

	view, err := cart.List(ctx, c, true)
	require.NoError(t, err)
	quantities := map[int64]int{}
	for _, it := range view.Items {
		quantities[it.ProductID] = it.Quantity
	}
	assert.Equal(t, map[int64]int{productEthiopia: 5, productColombia: 1}, quantities)

	guestView, err := cart.List(ctx, g, true)
	require.NoError(t, err)
	assert.Empty(t, guestView.Items)
}

func TestMergeService_ClampsAtMaxQuantity(t *testing.T) {
	store := newTestStore()
	cart := newTestCartService(store)
	merge := NewMergeService(store, catalog.NewPostgresCatalog(store), 0, discardLogger())
	ctx := context.Background()

	_, _, err := cart.AddItem(ctx, guest(t, guestAddr), productKenya, 600)
	require.NoError(t, err)
	_, _, err = cart.AddItem(ctx, customer(t, 42), productKenya, 500)
	require.NoError(t, err)

	_, err = merge.TransferGuestToCustomer(ctx, guestAddr, 42)
	require.NoError(t, err)

	view, err := cart.List(ctx, customer(t, 42), true)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, domain.MaxQuantity, view.Items[0].Quantity)
}

func TestMergeService_OrphanedGuestLine(t *testing.T) {
	store := newTestStore()
	cart := newTestCartService(store)
	merge := NewMergeService(store, catalog.NewPostgresCatalog(store), 0, discardLogger())
	ctx := context.Background()

	_, _, err := cart.AddItem(ctx, guest(t, guestAddr), productEthiopia, 1)
	require.NoError(t, err)
	_, _, err = cart.AddItem(ctx, guest(t, guestAddr), productColombia, 1)
	require.NoError(t, err)
	store.RemoveProduct(productColombia)

	result, err := merge.TransferGuestToCustomer(ctx, guestAddr, 42)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TransferredItems)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, productColombia, result.Errors[0].ProductID)
	assert.Equal(t, domain.TypeOrphanedProduct, result.Errors[0].ErrorType)

	guestView, err := cart.List(ctx, guest(t, guestAddr), false)
	require.NoError(t, err)
	assert.Empty(t, guestView.Items)
}

func TestMergeService_StoreFailureOnOneLine(t *testing.T) {
	store := newTestStore()
	cart := newTestCartService(store)
	merge := NewMergeService(store, catalog.NewPostgresCatalog(store), 0, discardLogger())
	ctx := context.Background()
	g := guest(t, guestAddr)

	_, _, err := cart.AddItem(ctx, g, productEthiopia, 2)
	require.NoError(t, err)
	_, _, err = cart.AddItem(ctx, g, productColombia, 1)
	require.NoError(t, err)
	_, _, err = cart.AddItem(ctx, g, productKenya, 3)
	require.NoError(t, err)

	// Fix the merge order so the second line is the one that fails.
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	for i, id := range []int64{productEthiopia, productColombia, productKenya} {
		require.True(t, store.SetLineAddedAt("guest", g.Ref(), id, base.Add(time.Duration(i)*time.Minute)))
	}

	merges := 0
	store.Err = func(method string) error {
		if method == "MergeCartLine" {
			merges++
			if merges == 2 {
				return &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}
			}
		}
		return nil
	}

	result, err := merge.TransferGuestToCustomer(ctx, guestAddr, 42)
	require.NoError(t, err)
	assert.Equal(t, 2, result.TransferredItems)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, productColombia, result.Errors[0].ProductID)
	assert.Equal(t, domain.TypeInfrastructure, result.Errors[0].ErrorType)

	store.Err = nil
	view, err := cart.List(ctx, customer(t, 42), false)
	require.NoError(t, err)
	quantities := map[int64]int{}
	for _, it := range view.Items {
		quantities[it.ProductID] = it.Quantity
	}
	assert.Equal(t, map[int64]int{productEthiopia: 2, productKenya: 3}, quantities)

	// The failed line rolled back and stays with the guest for a retry.
	guestView, err := cart.List(ctx, g, false)
	require.NoError(t, err)
	require.Len(t, guestView.Items, 1)
	assert.Equal(t, productColombia, guestView.Items[0].ProductID)
	assert.Equal(t, 1, guestView.Items[0].Quantity)
}

func TestMergeService_EmptyGuestCart(t *testing.T) {
	store := newTestStore()
	merge := NewMergeService(store, catalog.NewPostgresCatalog(store), 0, discardLogger())

	result, err := merge.TransferGuestToCustomer(context.Background(), guestAddr, 42)
	require.NoError(t, err)
	assert.Equal(t, &domain.MergeResult{Errors: []domain.MergeError{}}, result)
}

func TestMergeService_Validation(t *testing.T) {
	store := newTestStore()
	merge := NewMergeService(store, catalog.NewPostgresCatalog(store), 0, discardLogger())
	ctx := context.Background()

	_, err := merge.TransferGuestToCustomer(ctx, guestAddr, 0)
	assert.Equal(t, domain.TypeAuthenticationRequired, domain.ErrorType(err))

	_, err = merge.TransferGuestToCustomer(ctx, "not-an-ip", 42)
	assert.Error(t, err)
}
