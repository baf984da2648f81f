// Package apperr defines the categorized errors surfaced by the portfolio
// engine. Each error carries the HTTP status it maps to, so the transport
// layer never has to guess.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Category groups errors by how callers should react to them.
type Category string

const (
	CategoryValidation  Category = "validation"
	CategoryNotFound    Category = "not_found"
	CategoryUpstream    Category = "upstream"
	CategoryConsistency Category = "consistency"
	CategoryInternal    Category = "internal"
)

// Error is an error with category, status code and a machine-readable code.
type Error struct {
	Category   Category
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Validation reports malformed input. It is always raised before any write.
func Validation(field, reason string) *Error {
	return &Error{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "VALIDATION_ERROR",
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		Details: map[string]any{
			"field":  field,
			"reason": reason,
		},
	}
}

// NotFound reports an unresolved portfolio, asset or cryptocurrency id.
func NotFound(resource, id string) *Error {
	return &Error{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]any{
			"resource": resource,
			"id":       id,
		},
	}
}

// UpstreamUnavailable reports a market-data failure after every lookup path
// has been tried.
func UpstreamUnavailable(operation string, cause error) *Error {
	return &Error{
		Category:   CategoryUpstream,
		StatusCode: http.StatusBadGateway,
		Code:       "UPSTREAM_UNAVAILABLE",
		Message:    fmt.Sprintf("market data unavailable during %s", operation),
		Cause:      cause,
		Details: map[string]any{
			"operation": operation,
		},
	}
}

// Consistency reports a journal/asset disagreement detected mid-transaction.
// The enclosing store transaction is always rolled back.
func Consistency(message string) *Error {
	return &Error{
		Category:   CategoryConsistency,
		StatusCode: http.StatusInternalServerError,
		Code:       "CONSISTENCY_ERROR",
		Message:    message,
	}
}

// Internal wraps an unexpected failure, usually from the store.
func Internal(message string, cause error) *Error {
	return &Error{
		Category:   CategoryInternal,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err carries the given category.
func Is(err error, c Category) bool {
	e, ok := As(err)
	return ok && e.Category == c
}

// StatusCode returns the HTTP status for err, 500 when uncategorized.
func StatusCode(err error) int {
	if e, ok := As(err); ok {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}
