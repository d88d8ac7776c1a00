package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dukerupert/cartkeeper/internal/domain"
	"github.com/dukerupert/cartkeeper/internal/telemetry"
)

// DefaultInvoiceAttempts bounds GenerateUnique when no limit is configured.
const DefaultInvoiceAttempts = 5

// invoiceAlphabet omits 0/O and 1/I so references survive being read aloud.
const invoiceAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const invoiceSuffixLen = 8

var errInvoiceExhausted = errors.New("invoice number candidates exhausted")

// InvoiceLookup is the storage check used to reject taken invoice numbers.
type InvoiceLookup interface {
	InvoiceNumberExists(ctx context.Context, invoiceNo string) (bool, error)
}

// InvoiceGenerator allocates human-readable order references of the form
// INV-YYYYMMDD-XXXXXXXX.
type InvoiceGenerator interface {
	// GenerateUnique returns a number that is neither stored nor reserved by
	// another caller in this process, and the attempts it took.
	GenerateUnique(ctx context.Context) (string, int, error)

	// Release drops the in-process reservation once the number is persisted
	// or abandoned.
	Release(invoiceNo string)
}

type invoiceGenerator struct {
	store       InvoiceLookup
	maxAttempts int
	timeout     time.Duration
	now         func() time.Time
	random      io.Reader

	mu       sync.Mutex
	reserved map[string]struct{}
}

// NewInvoiceGenerator creates a new InvoiceGenerator instance
func NewInvoiceGenerator(store InvoiceLookup, maxAttempts int, timeout time.Duration) InvoiceGenerator {
	return newInvoiceGenerator(store, maxAttempts, timeout, rand.Reader, time.Now)
}

func newInvoiceGenerator(store InvoiceLookup, maxAttempts int, timeout time.Duration, random io.Reader, now func() time.Time) *invoiceGenerator {
	if maxAttempts < 1 {
		maxAttempts = DefaultInvoiceAttempts
	}
	return &invoiceGenerator{
		store:       store,
		maxAttempts: maxAttempts,
		timeout:     timeout,
		now:         now,
		random:      random,
		reserved:    make(map[string]struct{}),
	}
}

func (g *invoiceGenerator) GenerateUnique(ctx context.Context) (string, int, error) {
	const op = "invoice.GenerateUnique"

	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		candidate, err := g.candidate()
		if err != nil {
			return "", attempt, domain.Internal(err, op, "Failed to generate order reference")
		}

		if !g.reserve(candidate) {
			lastErr = errInvoiceExhausted
			continue
		}

		exists, err := g.exists(ctx, candidate)
		if err != nil {
			g.Release(candidate)
			return "", attempt, storeErr(err, op, "Failed to check order reference")
		}
		if exists {
			g.Release(candidate)
			lastErr = errInvoiceExhausted
			continue
		}

		telemetry.Business.InvoiceAttempts.Observe(float64(attempt))
		return candidate, attempt, nil
	}

	telemetry.Business.InvoiceAttempts.Observe(float64(g.maxAttempts))
	return "", g.maxAttempts, domain.GenerationFailed(lastErr, op, g.maxAttempts)
}

func (g *invoiceGenerator) Release(invoiceNo string) {
	g.mu.Lock()
	delete(g.reserved, invoiceNo)
	g.mu.Unlock()
}

func (g *invoiceGenerator) reserve(candidate string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, taken := g.reserved[candidate]; taken {
		return false
	}
	g.reserved[candidate] = struct{}{}
	return true
}

func (g *invoiceGenerator) exists(ctx context.Context, candidate string) (bool, error) {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()
	return g.store.InvoiceNumberExists(ctx, candidate)
}

func (g *invoiceGenerator) candidate() (string, error) {
	buf := make([]byte, invoiceSuffixLen)
	if _, err := io.ReadFull(g.random, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	// len(invoiceAlphabet) is 32, so masking keeps the distribution uniform.
	for i, b := range buf {
		buf[i] = invoiceAlphabet[b&31]
	}
	return fmt.Sprintf("INV-%s-%s", g.now().UTC().Format("20060102"), buf), nil
}
