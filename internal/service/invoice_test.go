package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/dukerupert/cartkeeper/internal/repository"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var invoicePattern = regexp.MustCompile(`^INV-\d{8}-[ABCDEFGHJKLMNPQRSTUVWXYZ23456789]{8}$`)

// constReader yields the same byte forever, so every candidate is identical.
type constReader byte

func (r constReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(r)
	}
	return len(p), nil
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func fixedClock() time.Time {
	return time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
}

func TestInvoiceGenerator_Format(t *testing.T) {
	gen := NewInvoiceGenerator(newTestStore(), 5, 0)

	invoiceNo, attempts, err := gen.GenerateUnique(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Regexp(t, invoicePattern, invoiceNo)
}

func TestInvoiceGenerator_DeterministicCandidate(t *testing.T) {
	gen := newInvoiceGenerator(newTestStore(), 3, 0, constReader(0), fixedClock)

	invoiceNo, _, err := gen.GenerateUnique(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "INV-20260314-AAAAAAAA", invoiceNo)
}

func TestInvoiceGenerator_ReservedCandidateIsNotReissued(t *testing.T) {
	gen := newInvoiceGenerator(newTestStore(), 3, 0, constReader(1), fixedClock)
	ctx := context.Background()

	first, _, err := gen.GenerateUnique(ctx)
	require.NoError(t, err)

	_, attempts, err := gen.GenerateUnique(ctx)
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, domain.TypeGenerationFailed, domain.ErrorType(err))
	assert.Equal(t, true, domain.ErrorDetails(err)["retryable"])

	gen.Release(first)
	again, _, err := gen.GenerateUnique(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestInvoiceGenerator_StoredCandidateIsSkipped(t *testing.T) {
	store := newTestStore()
	_, err := store.CreateOrder(context.Background(), repository.CreateOrderParams{
		CustomerID: 1,
		InvoiceNo:  "INV-20260314-CCCCCCCC",
		Status:     "pending",
		Currency:   "USD",
		OrderDate:  pgtype.Timestamptz{Time: fixedClock(), Valid: true},
	})
	require.NoError(t, err)

	gen := newInvoiceGenerator(store, 2, 0, constReader(2), fixedClock)
	_, attempts, err := gen.GenerateUnique(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, domain.TypeGenerationFailed, domain.ErrorType(err))

	// The rejected candidates must not stay reserved.
	assert.Empty(t, gen.reserved)
}

func TestInvoiceGenerator_RandomFailure(t *testing.T) {
	gen := newInvoiceGenerator(newTestStore(), 3, 0, failingReader{}, fixedClock)
	_, _, err := gen.GenerateUnique(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))
}

func TestInvoiceGenerator_ConcurrentCallersNeverCollide(t *testing.T) {
	gen := NewInvoiceGenerator(newTestStore(), 5, 0)

	const callers = 64
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]bool, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			invoiceNo, _, err := gen.GenerateUnique(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[invoiceNo], "duplicate invoice %s", invoiceNo)
			seen[invoiceNo] = true
		}()
	}
	wg.Wait()
	assert.Len(t, seen, callers)
}
