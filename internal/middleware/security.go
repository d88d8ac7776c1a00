package middleware

import (
	"net/http"
	"strconv"
)

// SecurityHeadersConfig configures security headers
type SecurityHeadersConfig struct {
	// ContentSecurityPolicy sets the Content-Security-Policy header.
	// The API never serves documents, so the default denies everything.
	ContentSecurityPolicy string

	// FrameOptions sets X-Frame-Options (DENY or SAMEORIGIN)
	// Default: DENY
	FrameOptions string

	// ContentTypeNosniff sets X-Content-Type-Options: nosniff
	// Default: true
	ContentTypeNosniff bool

	// ReferrerPolicy sets Referrer-Policy header
	// Default: "no-referrer"
	ReferrerPolicy string

	// HSTSMaxAge sets Strict-Transport-Security max-age in seconds.
	// Set to 0 to disable HSTS, e.g. in development.
	HSTSMaxAge int
}

// DefaultSecurityHeadersConfig returns the configuration for a JSON API
func DefaultSecurityHeadersConfig() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		FrameOptions:          "DENY",
		ContentTypeNosniff:    true,
		ReferrerPolicy:        "no-referrer",
		HSTSMaxAge:            31536000, // 1 year
	}
}

// SecurityHeaders adds security headers to all responses.
// Cart and order responses are per-caller, so caching is disabled as well.
func SecurityHeaders(config SecurityHeadersConfig) func(http.Handler) http.Handler {
	var hsts string
	if config.HSTSMaxAge > 0 {
		hsts = "max-age=" + strconv.Itoa(config.HSTSMaxAge) + "; includeSubDomains"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if config.FrameOptions != "" {
				h.Set("X-Frame-Options", config.FrameOptions)
			}
			if config.ContentTypeNosniff {
				h.Set("X-Content-Type-Options", "nosniff")
			}
			if config.ReferrerPolicy != "" {
				h.Set("Referrer-Policy", config.ReferrerPolicy)
			}
			if config.ContentSecurityPolicy != "" {
				h.Set("Content-Security-Policy", config.ContentSecurityPolicy)
			}
			if hsts != "" {
				h.Set("Strict-Transport-Security", hsts)
			}
			h.Set("Cache-Control", "no-store")

			next.ServeHTTP(w, r)
		})
	}
}
