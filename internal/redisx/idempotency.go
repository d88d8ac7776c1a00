package redisx

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const pendingMarker = "pending"

// ErrInFlight is returned when another request holds the same key.
var ErrInFlight = errors.New("request with this idempotency key is in progress")

// IdempotencyStore remembers which order a checkout idempotency key produced,
// so client retries of the same submission do not create a second order.
type IdempotencyStore struct {
	rdb *redis.Client
}

func NewIdempotencyStore(rdb *redis.Client) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdb}
}

// Reserve claims key for customerID. When the key already completed it
// returns the recorded order id and reserved=false.
func (s *IdempotencyStore) Reserve(ctx context.Context, customerID int64, key string) (orderID int64, reserved bool, err error) {
	k := fmt.Sprintf(KeyIdemCheckout, customerID, key)

	ok, err := s.rdb.SetNX(ctx, k, pendingMarker, TTLIdempotencyPending).Result()
	if err != nil {
		return 0, false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if ok {
		return 0, true, nil
	}

	val, err := s.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; let the caller retry the reservation.
		return 0, false, ErrInFlight
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get failed: %w", err)
	}
	if val == pendingMarker {
		return 0, false, ErrInFlight
	}

	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt idempotency value %q: %w", val, err)
	}
	return id, false, nil
}

// Complete records the order created for a reserved key.
func (s *IdempotencyStore) Complete(ctx context.Context, customerID int64, key string, orderID int64) error {
	k := fmt.Sprintf(KeyIdemCheckout, customerID, key)
	if err := s.rdb.Set(ctx, k, strconv.FormatInt(orderID, 10), TTLIdempotency).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Release drops a reservation after a failed checkout so the client can retry.
func (s *IdempotencyStore) Release(ctx context.Context, customerID int64, key string) error {
	k := fmt.Sprintf(KeyIdemCheckout, customerID, key)
	if err := s.rdb.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}
