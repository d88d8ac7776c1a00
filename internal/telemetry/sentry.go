package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryConfig holds configuration for Sentry error tracking
type SentryConfig struct {
	// DSN is the Sentry Data Source Name (required if Enabled is true)
	DSN string

	// Enabled controls whether Sentry is active
	Enabled bool

	// Environment identifies the deployment environment (dev, staging, prod)
	Environment string

	// Release is the application version/release identifier
	Release string

	// SampleRate controls the percentage of errors to capture (0.0 to 1.0)
	// Default: 1.0 (capture all errors)
	SampleRate float64

	// TracesSampleRate controls the percentage of transactions to trace (0.0 to 1.0)
	TracesSampleRate float64

	// Debug enables Sentry SDK debug logging
	Debug bool
}

// sentryEnabled is set once by InitSentry.
var sentryEnabled bool

// InitSentry initializes the Sentry client
// Returns a cleanup function that should be called on application shutdown
func InitSentry(cfg SentryConfig, logger *slog.Logger) (func(), error) {
	sentryEnabled = false

	if !cfg.Enabled {
		logger.Info("Sentry disabled (SENTRY_ENABLED=false or DSN not configured)")
		return func() {}, nil
	}

	if cfg.DSN == "" {
		logger.Warn("Sentry DSN not configured, disabling error tracking")
		return func() {}, nil
	}

	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = 1.0
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		SampleRate:       sampleRate,
		TracesSampleRate: cfg.TracesSampleRate,
		Debug:            cfg.Debug,
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			// Guest identities are network addresses; never ship them.
			if event.User.IPAddress != "" {
				event.User.IPAddress = ""
			}
			return event
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Sentry: %w", err)
	}
	sentryEnabled = true

	logger.Info("Sentry initialized",
		"environment", cfg.Environment,
		"release", cfg.Release,
		"sample_rate", sampleRate,
		"traces_sample_rate", cfg.TracesSampleRate,
	)

	return func() {
		sentry.Flush(2 * time.Second)
	}, nil
}

// IsEnabled returns whether Sentry is currently enabled
func IsEnabled() bool {
	return sentryEnabled
}

// CaptureError captures an error with optional context
// Safe to call even when Sentry is disabled
func CaptureError(ctx context.Context, err error, extras map[string]interface{}) {
	if !IsEnabled() || err == nil {
		return
	}

	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}

	hub.WithScope(func(scope *sentry.Scope) {
		for key, value := range extras {
			scope.SetExtra(key, value)
		}
		hub.CaptureException(err)
	})
}

// CaptureErrorWithOperation tags the event with the failing operation and
// the owner kind (never the owner identifier itself).
func CaptureErrorWithOperation(ctx context.Context, err error, op, ownerKind string) {
	if !IsEnabled() || err == nil {
		return
	}

	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}

	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("operation", op)
		if ownerKind != "" {
			scope.SetTag("owner_kind", ownerKind)
		}
		hub.CaptureException(err)
	})
}

// AddBreadcrumb adds a breadcrumb for debugging
func AddBreadcrumb(ctx context.Context, category, message string, data map[string]interface{}) {
	if !IsEnabled() {
		return
	}

	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.AddBreadcrumb(&sentry.Breadcrumb{
		Category: category,
		Message:  message,
		Data:     data,
		Level:    sentry.LevelInfo,
	}, nil)
}

// SentryMiddleware returns an HTTP middleware that attaches a per-request hub
// so captures made while serving the request carry its context.
func SentryMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IsEnabled() {
				next.ServeHTTP(w, r)
				return
			}

			hub := sentry.GetHubFromContext(r.Context())
			if hub == nil {
				hub = sentry.CurrentHub().Clone()
			}

			hub.Scope().SetRequest(r)
			ctx := sentry.SetHubOnContext(r.Context(), hub)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
