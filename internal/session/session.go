// Package session maps opaque session tokens to authenticated customer ids.
//
// Login itself lives outside this service: the auth system writes the token
// into the shared store and sets the cookie. This package only reads it back
// (and can create tokens for tooling and tests).
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned for unknown or expired tokens.
var ErrNotFound = errors.New("session not found")

// Store resolves session tokens.
type Store interface {
	Lookup(ctx context.Context, token string) (customerID int64, err error)
	Create(ctx context.Context, customerID int64, ttl time.Duration) (token string, err error)
	Delete(ctx context.Context, token string) error
}

// generateToken returns a URL-safe random session token.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// MemoryStore is a process-local Store for development without redis.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]memorySession
	now      func() time.Time
}

type memorySession struct {
	customerID int64
	expiresAt  time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]memorySession), now: time.Now}
}

func (s *MemoryStore) Lookup(_ context.Context, token string) (int64, error) {
	s.mu.RLock()
	sess, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok || !s.now().Before(sess.expiresAt) {
		return 0, ErrNotFound
	}
	return sess.customerID, nil
}

func (s *MemoryStore) Create(_ context.Context, customerID int64, ttl time.Duration) (string, error) {
	if customerID <= 0 {
		return "", fmt.Errorf("invalid customer id %d", customerID)
	}
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.sessions[token] = memorySession{customerID: customerID, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
	return token, nil
}

func (s *MemoryStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return nil
}
