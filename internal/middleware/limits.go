package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dukerupert/cartkeeper/internal/domain"
)

// MaxBodySize limits the size of request bodies.
// If no size is provided, DefaultMaxBodySize (1MB) is used.
// If the request body exceeds maxBytes, it returns 413 Request Entity Too Large.
func MaxBodySize(maxBytes ...int64) func(http.Handler) http.Handler {
	var limit int64
	if len(maxBytes) > 0 {
		limit = maxBytes[0]
	} else {
		limit = DefaultMaxBodySize
	}

	return maxBodySizeWithLimit(limit)
}

func maxBodySizeWithLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Only limit if there's a body
			if r.Body != nil && r.ContentLength > maxBytes {
				respondTooLarge(w, r, "Request body too large")
				return
			}

			// Wrap the body with a limited reader
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// Common size limits
const (
	KB = 1024
	MB = 1024 * KB

	// DefaultMaxBodySize is the default maximum request body size (1MB)
	DefaultMaxBodySize = 1 * MB

	// SmallMaxBodySize fits every cart and checkout payload (16KB)
	SmallMaxBodySize = 16 * KB
)

// Timeout adds a timeout to request processing.
// If no duration is provided, DefaultTimeout (30s) is used.
// If the handler doesn't complete within the timeout, it returns a retryable
// infrastructure_error envelope with 503 Service Unavailable.
func Timeout(timeout ...time.Duration) func(http.Handler) http.Handler {
	var duration time.Duration
	if len(timeout) > 0 {
		duration = timeout[0]
	} else {
		duration = DefaultTimeout
	}

	return timeoutWithDuration(duration)
}

func timeoutWithDuration(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Create a context with timeout
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			// Create a channel to signal completion
			done := make(chan struct{})

			// Wrap the response writer to detect if we've started writing
			tw := &timeoutWriter{ResponseWriter: w, h: make(http.Header)}

			// Run the handler in a goroutine
			go func() {
				defer close(done)
				next.ServeHTTP(tw, r.WithContext(ctx))
			}()

			// Wait for either completion or timeout
			select {
			case <-done:
				// Handler completed normally. Headers set without a write
				// still have to reach the client.
				tw.mu.Lock()
				defer tw.mu.Unlock()
				if !tw.wroteHeader {
					tw.copyHeaders()
				}
				return
			case <-ctx.Done():
				// Timeout occurred
				tw.mu.Lock()
				defer tw.mu.Unlock()

				if !tw.wroteHeader {
					// Only send error if we haven't started responding
					tw.wroteHeader = true
					tw.timedOut = true
					respondWithError(w, r, domain.Infrastructure(ctx.Err(), "middleware.timeout", "Request timed out"))
				}
				// If we've already started writing, we can't do much
				// The client will receive a truncated response
			}
		})
	}
}

// Common timeout values
const (
	// DefaultTimeout is the default request timeout (30 seconds)
	DefaultTimeout = 30 * time.Second

	// ShortTimeout is for quick operations (5 seconds)
	ShortTimeout = 5 * time.Second
)

// timeoutWriter wraps http.ResponseWriter to track if headers have been
// written. The handler gets its own header map, copied to the real response
// on the first write, so a handler still running after the timeout never
// shares headers with the timeout response.
type timeoutWriter struct {
	http.ResponseWriter
	h           http.Header
	mu          sync.Mutex
	wroteHeader bool
	timedOut    bool
}

func (tw *timeoutWriter) Header() http.Header {
	return tw.h
}

// copyHeaders must be called with mu held.
func (tw *timeoutWriter) copyHeaders() {
	dst := tw.ResponseWriter.Header()
	for k, v := range tw.h {
		dst[k] = append([]string(nil), v...)
	}
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.wroteHeader {
		return
	}
	tw.wroteHeader = true
	tw.copyHeaders()
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.timedOut {
		// The timeout envelope owns the response now
		return 0, context.DeadlineExceeded
	}
	if !tw.wroteHeader {
		tw.wroteHeader = true
		tw.copyHeaders()
		tw.ResponseWriter.WriteHeader(http.StatusOK)
	}
	return tw.ResponseWriter.Write(b)
}
