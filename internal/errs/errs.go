// Package errs defines the closed error-category taxonomy shared across
// the core's HTTP surface and background drivers.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Category is one of the closed set of error categories the core ever
// returns. Never add a category ad hoc — extend this list.
type Category string

const (
	Validation Category = "validation"
	Auth       Category = "auth"
	Permission Category = "permission"
	NotFound   Category = "not_found"
	Conflict   Category = "conflict"
	RateLimit  Category = "rate_limit"
	Service    Category = "service"
	Database   Category = "database"
	Agent      Category = "agent"
	Internal   Category = "internal"
	Network    Category = "network"
	Timeout    Category = "timeout"
)

// retryable holds the per-category retry policy from spec.md §7.
var retryable = map[Category]bool{
	RateLimit: true,
	Timeout:   true,
	Service:   true,
	Network:   true,
}

// httpStatus maps each category to the HTTP status it is surfaced as.
var httpStatus = map[Category]int{
	Validation: http.StatusBadRequest,
	Auth:       http.StatusUnauthorized,
	Permission: http.StatusForbidden,
	NotFound:   http.StatusNotFound,
	Conflict:   http.StatusConflict,
	RateLimit:  http.StatusTooManyRequests,
	Service:    http.StatusBadGateway,
	Database:   http.StatusInternalServerError,
	Agent:      http.StatusInternalServerError,
	Internal:   http.StatusInternalServerError,
	Network:    http.StatusBadGateway,
	Timeout:    http.StatusGatewayTimeout,
}

// Error is the core's error type. It satisfies the standard error
// interface and unwraps to the underlying cause when present.
type Error struct {
	Category   Category
	Message    string
	Suggestion string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether callers may retry this error.
func (e *Error) Retryable() bool { return retryable[e.Category] }

// HTTPStatus returns the status code this error maps to.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Category]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds a new categorized error.
func New(category Category, message string) *Error {
	return &Error{Category: category, Message: message}
}

// Wrap builds a new categorized error around an existing cause.
func Wrap(category Category, message string, cause error) *Error {
	return &Error{Category: category, Message: message, Cause: cause}
}

// WithSuggestion attaches a client-facing remediation hint.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// As extracts an *Error from err, if any is present in its chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CategoryOf returns the category of err, defaulting to Internal when
// err does not carry one.
func CategoryOf(err error) Category {
	if e, ok := As(err); ok {
		return e.Category
	}
	return Internal
}

// IsRetryable reports whether err should be treated as retryable by a
// caller. Errors with no category are treated as non-retryable.
func IsRetryable(err error) bool {
	if e, ok := As(err); ok {
		return e.Retryable()
	}
	return false
}

var (
	ErrNotFound         = New(NotFound, "resource not found")
	ErrPermissionDenied = New(Permission, "permission denied")
	ErrConflict         = New(Conflict, "conflicting state")
	ErrRateLimited      = New(RateLimit, "rate limit exceeded")
	ErrValidation       = New(Validation, "validation failed")
)
