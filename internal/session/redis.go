package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps sessions as {prefix}{token} -> customer id.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "session:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(token string) string {
	return s.prefix + token
}

func (s *RedisStore) Lookup(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, ErrNotFound
	}
	val, err := s.client.Get(ctx, s.key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("redis get failed: %w", err)
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("corrupt session value for token: %q", val)
	}
	return id, nil
}

func (s *RedisStore) Create(ctx context.Context, customerID int64, ttl time.Duration) (string, error) {
	if customerID <= 0 {
		return "", fmt.Errorf("invalid customer id %d", customerID)
	}
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, s.key(token), strconv.FormatInt(customerID, 10), ttl).Err(); err != nil {
		return "", fmt.Errorf("redis set failed: %w", err)
	}
	return token, nil
}

func (s *RedisStore) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

var (
	_ Store = (*RedisStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
