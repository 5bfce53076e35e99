package dbrouter

import (
	"errors"
	"fmt"
	"net/http"
)

// ConfigurationError signals a missing or incoherent configuration value:
// missing base URL, unknown adapter kind, or incompatible flag combination.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string { return "dbrouter: configuration error: " + e.Reason }

// HTTPStatus satisfies httpStatuser for middleware error mapping.
func (e *ConfigurationError) HTTPStatus() int { return http.StatusInternalServerError }

// ApiUsageError signals that the caller invoked a router entry point that is
// illegal given the active configuration, e.g. calling Tenant directly when
// organizations are also enabled. The message names the correct call form.
type ApiUsageError struct {
	Reason string
}

func (e *ApiUsageError) Error() string { return "dbrouter: api usage error: " + e.Reason }
func (e *ApiUsageError) HTTPStatus() int { return http.StatusBadRequest }

// InvalidIdError signals that an organization or tenant identifier failed
// validation (empty, too long, malformed, or reserved).
type InvalidIdError struct {
	Kind  string // "org" or "tenant"
	Value string
}

func (e *InvalidIdError) Error() string {
	return fmt.Sprintf("dbrouter: invalid %s identifier %q", e.Kind, e.Value)
}
func (e *InvalidIdError) HTTPStatus() int { return http.StatusBadRequest }

// NotFoundError signals that a tenant or organization does not exist and
// auto-creation is disabled.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("dbrouter: %s %q not found", e.Kind, e.ID) }
func (e *NotFoundError) HTTPStatus() int { return http.StatusNotFound }

// ConflictError signals that a tenant or organization already exists.
type ConflictError struct {
	Kind string
	ID   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("dbrouter: %s %q already exists", e.Kind, e.ID)
}
func (e *ConflictError) HTTPStatus() int { return http.StatusConflict }

// InvalidUrlError signals that a built or resolved URL has no recognizable
// scheme.
type InvalidUrlError struct {
	URL string
}

func (e *InvalidUrlError) Error() string { return fmt.Sprintf("dbrouter: invalid url %q", e.URL) }
func (e *InvalidUrlError) HTTPStatus() int { return http.StatusInternalServerError }

// DriverError wraps an error bubbled from the adapter without modifying the
// underlying details.
type DriverError struct {
	Err error
}

func (e *DriverError) Error() string  { return "dbrouter: driver error: " + e.Err.Error() }
func (e *DriverError) Unwrap() error  { return e.Err }
func (e *DriverError) HTTPStatus() int { return http.StatusInternalServerError }

// resolverError is internal only and never surfaces to callers; it exists so
// the resolver's retry loop has a typed sentinel to check with errors.Is
// while it decides whether to fall back.
type resolverError struct {
	Err error
}

func (e *resolverError) Error() string { return "dbrouter: resolver error: " + e.Err.Error() }
func (e *resolverError) Unwrap() error { return e.Err }

// httpStatuser is satisfied by every exported error type above; the default
// middleware error handler uses it instead of a type switch.
type httpStatuser interface {
	error
	HTTPStatus() int
}

// Sentinel errors for simple errors.Is comparisons where no extra context is
// needed.
var (
	// ErrCircuitOpen is returned internally when a per-org circuit breaker
	// rejects a resolution attempt; callers never see it, the resolver
	// degrades to a fallback URL instead.
	ErrCircuitOpen = errors.New("dbrouter: circuit breaker open")

	// ErrNoResolverHook is returned internally when no resolver hook is
	// configured and the cache misses; the resolver falls back to the
	// template URL.
	ErrNoResolverHook = errors.New("dbrouter: no resolver hook configured")

	// ErrConfirmationRequired is returned by destructive admin operations
	// (DeleteTenant, DeleteOrg) invoked without an explicit confirmation.
	ErrConfirmationRequired = errors.New("dbrouter: confirmation required for destructive operation")
)

// statusCode returns the HTTP status for any error, defaulting to 500 for
// errors that don't implement httpStatuser (e.g. a raw driver error that
// escaped DriverError wrapping).
func statusCode(err error) int {
	var hs httpStatuser
	if errors.As(err, &hs) {
		return hs.HTTPStatus()
	}
	return http.StatusInternalServerError
}
