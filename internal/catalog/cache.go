package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/dukerupert/cartkeeper/internal/redisx"
	"github.com/dukerupert/cartkeeper/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// missingMarker is cached for products the source reported absent so a
// stream of requests for a deleted product does not reach postgres.
const missingMarker = "-"

// CachedCatalog is a redis read-through cache in front of another Catalog.
// Absence is cached for a shorter TTL than presence so a re-activated
// product becomes visible quickly.
type CachedCatalog struct {
	next       domain.Catalog
	client     *redis.Client
	ttl        time.Duration
	missingTTL time.Duration
	timeout    time.Duration
	sfg        singleflight.Group // coalesces concurrent misses per product
	logger     *slog.Logger
}

// NewCachedCatalog wraps next. timeout bounds a coalesced lookup, which runs
// detached from any single caller's cancellation.
func NewCachedCatalog(next domain.Catalog, client *redis.Client, ttl, timeout time.Duration, logger *slog.Logger) *CachedCatalog {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	missingTTL := ttl / 3
	if missingTTL < time.Second {
		missingTTL = time.Second
	}
	return &CachedCatalog{
		next:       next,
		client:     client,
		ttl:        ttl,
		missingTTL: missingTTL,
		timeout:    timeout,
		logger:     logger,
	}
}

func (c *CachedCatalog) Exists(ctx context.Context, productID int64) (bool, error) {
	p, err := c.PriceAndTitle(ctx, productID)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			return false, nil
		}
		return false, err
	}
	return p != nil, nil
}

func (c *CachedCatalog) PriceAndTitle(ctx context.Context, productID int64) (*domain.Product, error) {
	const op = "catalog.CachedCatalog.PriceAndTitle"
	key := fmt.Sprintf(redisx.KeyCatalogProduct, productID)

	ch := c.sfg.DoChan(key, func() (interface{}, error) {
		// Shared by every coalesced caller, so one caller giving up must
		// not fail the others.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		p, hit, err := c.get(ctx, key)
		if err == nil && hit {
			telemetry.Business.CatalogLookups.WithLabelValues("cache").Inc()
			if p == nil {
				return nil, domain.NotFound(op, "product", strconv.FormatInt(productID, 10))
			}
			return p, nil
		}
		if err != nil {
			c.logger.Warn("catalog cache read failed", "product_id", productID, "error", err)
		}

		p, err = c.next.PriceAndTitle(ctx, productID)
		if err != nil {
			if domain.IsCode(err, domain.ENOTFOUND) {
				c.set(ctx, key, nil)
			}
			return nil, err
		}
		c.set(ctx, key, p)
		return p, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.Product), nil
	}
}

func (c *CachedCatalog) Products(ctx context.Context, productIDs []int64) (map[int64]*domain.Product, error) {
	out := make(map[int64]*domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}

	keys := make([]string, len(productIDs))
	for i, id := range productIDs {
		keys[i] = fmt.Sprintf(redisx.KeyCatalogProduct, id)
	}

	var misses []int64
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("catalog cache batch read failed", "error", err)
		misses = productIDs
	} else {
		for i, raw := range vals {
			s, ok := raw.(string)
			if !ok {
				misses = append(misses, productIDs[i])
				continue
			}
			p, err := decodeProduct(s)
			if err != nil {
				misses = append(misses, productIDs[i])
				continue
			}
			telemetry.Business.CatalogLookups.WithLabelValues("cache").Inc()
			if p != nil {
				out[productIDs[i]] = p
			}
		}
	}

	if len(misses) == 0 {
		return out, nil
	}

	found, err := c.next.Products(ctx, misses)
	if err != nil {
		return nil, err
	}

	pipe := c.client.Pipeline()
	for _, id := range misses {
		key := fmt.Sprintf(redisx.KeyCatalogProduct, id)
		if p, ok := found[id]; ok {
			out[id] = p
			data, _ := json.Marshal(p)
			pipe.Set(ctx, key, data, c.jitter(c.ttl))
		} else {
			pipe.Set(ctx, key, missingMarker, c.missingTTL)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("catalog cache batch write failed", "error", err)
	}
	return out, nil
}

// get returns (product, hit, err). A hit with a nil product is a cached absence.
func (c *CachedCatalog) get(ctx context.Context, key string) (*domain.Product, bool, error) {
	s, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}
	p, err := decodeProduct(s)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func (c *CachedCatalog) set(ctx context.Context, key string, p *domain.Product) {
	var err error
	if p == nil {
		err = c.client.Set(ctx, key, missingMarker, c.missingTTL).Err()
	} else {
		data, merr := json.Marshal(p)
		if merr != nil {
			c.logger.Warn("catalog cache encode failed", "key", key, "error", merr)
			return
		}
		err = c.client.Set(ctx, key, data, c.jitter(c.ttl)).Err()
	}
	if err != nil {
		c.logger.Warn("catalog cache write failed", "key", key, "error", err)
	}
}

// jitter spreads expiry over an extra 10% so hot products do not expire
// in lockstep.
func (c *CachedCatalog) jitter(ttl time.Duration) time.Duration {
	spread := int64(ttl / 10)
	if spread <= 0 {
		return ttl
	}
	return ttl + time.Duration(rand.Int63n(spread))
}

func decodeProduct(s string) (*domain.Product, error) {
	if s == missingMarker {
		return nil, nil
	}
	var p domain.Product
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("unmarshal product failed: %w", err)
	}
	if p.ID <= 0 {
		return nil, errors.New("cached product has no id: " + strconv.Quote(s))
	}
	return &p, nil
}

var _ domain.Catalog = (*CachedCatalog)(nil)
