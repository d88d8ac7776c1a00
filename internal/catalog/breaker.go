package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/dukerupert/cartkeeper/internal/telemetry"
	"github.com/sony/gobreaker/v2"
)

// BreakerSettings configures BreakerCatalog.
type BreakerSettings struct {
	Name         string
	MaxFailures  uint32
	OpenTimeout  time.Duration
	HalfOpenMax  uint32
	CountsWindow time.Duration
}

// BreakerCatalog trips after consecutive source failures and then rejects
// lookups with a retryable infrastructure error until the open timeout
// passes. Not-found answers are successes for the breaker.
type BreakerCatalog struct {
	next domain.Catalog
	cb   *gobreaker.CircuitBreaker[any]
}

func NewBreakerCatalog(next domain.Catalog, s BreakerSettings, logger *slog.Logger) *BreakerCatalog {
	if s.Name == "" {
		s.Name = "catalog"
	}
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	maxFailures := s.MaxFailures

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.HalfOpenMax,
		Interval:    s.CountsWindow,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || domain.IsCode(err, domain.ENOTFOUND) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("catalog circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return &BreakerCatalog{next: next, cb: cb}
}

// State exposes the breaker state for health reporting.
func (b *BreakerCatalog) State() gobreaker.State {
	return b.cb.State()
}

// HealthCheck fails while the breaker is open.
func (b *BreakerCatalog) HealthCheck(context.Context) error {
	if st := b.State(); st == gobreaker.StateOpen {
		return fmt.Errorf("catalog circuit breaker is %s", st)
	}
	return nil
}

func (b *BreakerCatalog) Exists(ctx context.Context, productID int64) (bool, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.Exists(ctx, productID)
	})
	if err != nil {
		return false, b.translate("catalog.Exists", err)
	}
	return v.(bool), nil
}

func (b *BreakerCatalog) PriceAndTitle(ctx context.Context, productID int64) (*domain.Product, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.PriceAndTitle(ctx, productID)
	})
	if err != nil {
		return nil, b.translate("catalog.PriceAndTitle", err)
	}
	return v.(*domain.Product), nil
}

func (b *BreakerCatalog) Products(ctx context.Context, productIDs []int64) (map[int64]*domain.Product, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.Products(ctx, productIDs)
	})
	if err != nil {
		return nil, b.translate("catalog.Products", err)
	}
	return v.(map[int64]*domain.Product), nil
}

func (b *BreakerCatalog) translate(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		telemetry.Business.CatalogLookups.WithLabelValues("breaker_open").Inc()
		return domain.Infrastructure(err, op, "Product catalog is temporarily unavailable")
	}
	return err
}

var _ domain.Catalog = (*BreakerCatalog)(nil)
