package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/dukerupert/cartkeeper/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockQuerier implements ProductQuerier with function fields.
type mockQuerier struct {
	GetActiveProductFunc        func(ctx context.Context, id int64) (repository.Product, error)
	ProductExistsFunc           func(ctx context.Context, id int64) (bool, error)
	ListActiveProductsByIDsFunc func(ctx context.Context, ids []int64) ([]repository.Product, error)
}

func (m *mockQuerier) GetActiveProduct(ctx context.Context, id int64) (repository.Product, error) {
	return m.GetActiveProductFunc(ctx, id)
}

func (m *mockQuerier) ProductExists(ctx context.Context, id int64) (bool, error) {
	return m.ProductExistsFunc(ctx, id)
}

func (m *mockQuerier) ListActiveProductsByIDs(ctx context.Context, ids []int64) ([]repository.Product, error) {
	return m.ListActiveProductsByIDsFunc(ctx, ids)
}

// fakeCatalog implements domain.Catalog with function fields.
type fakeCatalog struct {
	ExistsFunc        func(ctx context.Context, id int64) (bool, error)
	PriceAndTitleFunc func(ctx context.Context, id int64) (*domain.Product, error)
	ProductsFunc      func(ctx context.Context, ids []int64) (map[int64]*domain.Product, error)
}

func (f *fakeCatalog) Exists(ctx context.Context, id int64) (bool, error) {
	return f.ExistsFunc(ctx, id)
}

func (f *fakeCatalog) PriceAndTitle(ctx context.Context, id int64) (*domain.Product, error) {
	return f.PriceAndTitleFunc(ctx, id)
}

func (f *fakeCatalog) Products(ctx context.Context, ids []int64) (map[int64]*domain.Product, error) {
	return f.ProductsFunc(ctx, ids)
}

func TestPostgresCatalog(t *testing.T) {
	q := &mockQuerier{
		GetActiveProductFunc: func(_ context.Context, id int64) (repository.Product, error) {
			if id == 1 {
				return repository.Product{ID: 1, Title: "Ethiopia Yirgacheffe", PriceCents: 1850, Active: true}, nil
			}
			return repository.Product{}, pgx.ErrNoRows
		},
		ProductExistsFunc: func(_ context.Context, id int64) (bool, error) {
			return id == 1, nil
		},
		ListActiveProductsByIDsFunc: func(_ context.Context, ids []int64) ([]repository.Product, error) {
			return []repository.Product{{ID: 1, Title: "Ethiopia Yirgacheffe", PriceCents: 1850}}, nil
		},
	}
	c := NewPostgresCatalog(q)
	ctx := context.Background()

	p, err := c.PriceAndTitle(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, &domain.Product{ID: 1, Title: "Ethiopia Yirgacheffe", PriceCents: 1850}, p)

	_, err = c.PriceAndTitle(ctx, 2)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))

	ok, err := c.Exists(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := c.Products(ctx, []int64{1, 2})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Contains(t, got, int64(1))

	empty, err := c.Products(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPostgresCatalog_SourceError(t *testing.T) {
	boom := errors.New("connection reset")
	q := &mockQuerier{
		GetActiveProductFunc: func(context.Context, int64) (repository.Product, error) {
			return repository.Product{}, boom
		},
	}
	_, err := NewPostgresCatalog(q).PriceAndTitle(context.Background(), 1)
	assert.ErrorIs(t, err, boom)
	assert.NotEqual(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func setupCachedCatalog(t *testing.T, next domain.Catalog) (*CachedCatalog, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCachedCatalog(next, client, time.Minute, time.Second, discardLogger()), mr
}

func TestCachedCatalog_ReadThrough(t *testing.T) {
	var calls atomic.Int32
	next := &fakeCatalog{
		PriceAndTitleFunc: func(_ context.Context, id int64) (*domain.Product, error) {
			calls.Add(1)
			if id == 1 {
				return &domain.Product{ID: 1, Title: "Kenya AA", PriceCents: 2100}, nil
			}
			return nil, domain.NotFound("test", "product", strconv.FormatInt(id, 10))
		},
	}
	c, mr := setupCachedCatalog(t, next)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := c.PriceAndTitle(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2100), p.PriceCents)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, mr.Exists("catalog:product:1"))

	// Absence is cached too.
	for i := 0; i < 2; i++ {
		ok, err := c.Exists(ctx, 9)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, int32(2), calls.Load())

	mr.Del("catalog:product:1")
	_, err := c.PriceAndTitle(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCachedCatalog_CoalescedCallerSurvivesFirstCancel(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	next := &fakeCatalog{
		PriceAndTitleFunc: func(ctx context.Context, id int64) (*domain.Product, error) {
			if calls.Add(1) == 1 {
				close(started)
			}
			select {
			case <-release:
				return &domain.Product{ID: id, Title: "Kenya AA", PriceCents: 2100}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	c, _ := setupCachedCatalog(t, next)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.PriceAndTitle(firstCtx, 1)
		firstErr <- err
	}()
	<-started

	type result struct {
		p   *domain.Product
		err error
	}
	second := make(chan result, 1)
	go func() {
		p, err := c.PriceAndTitle(context.Background(), 1)
		second <- result{p, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	close(release)

	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, int64(2100), got.p.PriceCents)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCachedCatalog_MissingExpiresSooner(t *testing.T) {
	next := &fakeCatalog{
		PriceAndTitleFunc: func(_ context.Context, id int64) (*domain.Product, error) {
			return nil, domain.NotFound("test", "product", "5")
		},
	}
	c, mr := setupCachedCatalog(t, next)

	_, err := c.PriceAndTitle(context.Background(), 5)
	require.Error(t, err)
	assert.LessOrEqual(t, mr.TTL("catalog:product:5"), 20*time.Second)

	mr.FastForward(21 * time.Second)
	assert.False(t, mr.Exists("catalog:product:5"))
}

func TestCachedCatalog_Products(t *testing.T) {
	var requested [][]int64
	var mu sync.Mutex
	next := &fakeCatalog{
		ProductsFunc: func(_ context.Context, ids []int64) (map[int64]*domain.Product, error) {
			mu.Lock()
			requested = append(requested, append([]int64(nil), ids...))
			mu.Unlock()
			out := map[int64]*domain.Product{}
			for _, id := range ids {
				if id != 3 {
					out[id] = &domain.Product{ID: id, Title: "p" + strconv.FormatInt(id, 10), PriceCents: id * 100}
				}
			}
			return out, nil
		},
	}
	c, _ := setupCachedCatalog(t, next)
	ctx := context.Background()

	got, err := c.Products(ctx, []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.NotContains(t, got, int64(3))

	got, err = c.Products(ctx, []int64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	require.Len(t, requested, 2)
	assert.ElementsMatch(t, []int64{1, 2, 3}, requested[0])
	assert.Equal(t, []int64{4}, requested[1])
}

func TestCachedCatalog_RedisDown(t *testing.T) {
	next := &fakeCatalog{
		PriceAndTitleFunc: func(_ context.Context, id int64) (*domain.Product, error) {
			return &domain.Product{ID: id, Title: "x", PriceCents: 1}, nil
		},
		ProductsFunc: func(_ context.Context, ids []int64) (map[int64]*domain.Product, error) {
			return map[int64]*domain.Product{1: {ID: 1, Title: "x", PriceCents: 1}}, nil
		},
	}
	c, mr := setupCachedCatalog(t, next)
	mr.Close()

	p, err := c.PriceAndTitle(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.ID)

	got, err := c.Products(context.Background(), []int64{1})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestBreakerCatalog_TripsOnFailures(t *testing.T) {
	boom := errors.New("db down")
	var calls atomic.Int32
	next := &fakeCatalog{
		ExistsFunc: func(context.Context, int64) (bool, error) {
			calls.Add(1)
			return false, boom
		},
	}
	b := NewBreakerCatalog(next, BreakerSettings{MaxFailures: 3, OpenTimeout: time.Minute}, discardLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.Exists(ctx, 1)
		assert.ErrorIs(t, err, boom)
	}

	_, err := b.Exists(ctx, 1)
	require.Error(t, err)
	assert.Equal(t, domain.TypeInfrastructure, domain.ErrorType(err))
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "open", b.State().String())
	assert.Error(t, b.HealthCheck(ctx))
}

func TestBreakerCatalog_NotFoundIsSuccess(t *testing.T) {
	next := &fakeCatalog{
		PriceAndTitleFunc: func(context.Context, int64) (*domain.Product, error) {
			return nil, domain.NotFound("test", "product", "1")
		},
	}
	b := NewBreakerCatalog(next, BreakerSettings{MaxFailures: 1, OpenTimeout: time.Minute}, discardLogger())

	for i := 0; i < 5; i++ {
		_, err := b.PriceAndTitle(context.Background(), 1)
		assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
	}
	assert.Equal(t, "closed", b.State().String())
	assert.NoError(t, b.HealthCheck(context.Background()))
}

func TestBreakerCatalog_PassThrough(t *testing.T) {
	next := &fakeCatalog{
		ProductsFunc: func(_ context.Context, ids []int64) (map[int64]*domain.Product, error) {
			return map[int64]*domain.Product{1: {ID: 1}}, nil
		},
	}
	b := NewBreakerCatalog(next, BreakerSettings{}, discardLogger())
	got, err := b.Products(context.Background(), []int64{1})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
