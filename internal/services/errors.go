// Package services defines the business logic for serving configured
// endpoints and for administering endpoints, data sources and webhooks.
// This file centralizes the service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into HTTP status codes and user-facing messages happens in the
// handler layer, except for StatusOf, which the access logger needs to
// record an outcome for every request.
package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tbourn/go-api-endpoints/internal/ratelimit"
)

// Public endpoint errors.
var (
	// ErrEndpointNotFound is returned when the slug is invalid or names a
	// missing or inactive endpoint.
	ErrEndpointNotFound = errors.New("endpoint not found")

	// ErrUnauthorized is returned when an endpoint requires credentials and
	// the request has none or the wrong ones.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnsupportedFormat is returned when an endpoint's output format has
	// no generator.
	ErrUnsupportedFormat = errors.New("unsupported output format")
)

// Admin and webhook errors.
var (
	ErrDataSourceNotFound = errors.New("data source not found")
	ErrConflict           = errors.New("already exists")
	ErrNotWebhookSource   = errors.New("data source does not accept webhooks")
	ErrWebhookForbidden   = errors.New("webhook secret mismatch")
	ErrEmptyPayload       = errors.New("payload is empty")
)

// ValidationError reports an invalid admin input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// AuthError is an ErrUnauthorized carrying the challenge to send back.
type AuthError struct {
	Challenge string
	Cause     error
}

func (e *AuthError) Error() string {
	if e.Cause == nil {
		return ErrUnauthorized.Error()
	}
	return ErrUnauthorized.Error() + ": " + e.Cause.Error()
}

func (e *AuthError) Unwrap() []error { return []error{ErrUnauthorized, e.Cause} }

// RateLimitError is returned when a client exhausted an endpoint's quota.
type RateLimitError struct {
	Decision ratelimit.Decision
	Headers  map[string]string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit of %d requests per minute exceeded", e.Decision.Limit)
}

// StatusOf maps a Serve outcome to the HTTP status it produces.
func StatusOf(resp *Response, err error) int {
	var rl *RateLimitError
	switch {
	case err == nil && resp != nil:
		return resp.Status
	case errors.Is(err, ErrEndpointNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.As(err, &rl):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// truncate keeps stored error texts bounded.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
