// Package errors provides standardized API error types.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind is the failure category callers branch on.
type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not_found"
	KindValidation      Kind = "validation"
	KindConfiguration   Kind = "configuration"
	KindUpstream        Kind = "upstream"
	KindConflict        Kind = "conflict"
	KindRateLimited     Kind = "rate_limited"
	KindInternal        Kind = "internal"
)

// APIError represents a standardized API error response.
type APIError struct {
	Kind       Kind   `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Details    any    `json:"details,omitempty"`
	cause      error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *APIError) Unwrap() error {
	return e.cause
}

// Is matches APIErrors by kind and code so sentinel comparisons survive copies.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// WithDetails returns a copy of the error with additional details.
func (e *APIError) WithDetails(details any) *APIError {
	c := *e
	c.Details = details
	return &c
}

// WithMessage returns a copy of the error with a custom message.
func (e *APIError) WithMessage(message string) *APIError {
	c := *e
	c.Message = message
	return &c
}

// Wrap returns a copy of the error that records cause for logging.
// The cause is never serialized.
func (e *APIError) Wrap(cause error) *APIError {
	c := *e
	c.cause = cause
	return &c
}

// Standard error definitions
var (
	// ErrUnauthorized is returned when authentication is required but missing or invalid.
	ErrUnauthorized = &APIError{
		Kind:       KindUnauthenticated,
		Code:       "unauthorized",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	// ErrForbidden is returned when the user lacks permission for an action.
	ErrForbidden = &APIError{
		Kind:       KindForbidden,
		Code:       "forbidden",
		Message:    "You don't have permission to perform this action",
		StatusCode: http.StatusForbidden,
	}

	// ErrAccountBanned is returned for every authenticated action of a banned user.
	ErrAccountBanned = &APIError{
		Kind:       KindForbidden,
		Code:       "account_banned",
		Message:    "Your account has been suspended",
		StatusCode: http.StatusForbidden,
	}

	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = &APIError{
		Kind:       KindNotFound,
		Code:       "not_found",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	// ErrBadRequest is returned when the request is malformed.
	ErrBadRequest = &APIError{
		Kind:       KindValidation,
		Code:       "bad_request",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	// ErrRateLimited is returned when rate limits are exceeded.
	ErrRateLimited = &APIError{
		Kind:       KindRateLimited,
		Code:       "rate_limited",
		Message:    "Too many requests. Please try again later.",
		StatusCode: http.StatusTooManyRequests,
	}

	// ErrInternal is returned for unexpected server errors.
	ErrInternal = &APIError{
		Kind:       KindInternal,
		Code:       "internal_error",
		Message:    "An internal error occurred",
		StatusCode: http.StatusInternalServerError,
	}

	// ErrConflict is returned when a resource already exists.
	ErrConflict = &APIError{
		Kind:       KindConflict,
		Code:       "conflict",
		Message:    "Resource already exists",
		StatusCode: http.StatusConflict,
	}

	// ErrServiceUnavailable is returned when a dependent service is unavailable.
	ErrServiceUnavailable = &APIError{
		Kind:       KindUpstream,
		Code:       "service_unavailable",
		Message:    "Service temporarily unavailable",
		StatusCode: http.StatusServiceUnavailable,
	}
)

// NewValidationError creates a validation error for a specific field.
func NewValidationError(field, message string) *APIError {
	return &APIError{
		Kind:       KindValidation,
		Code:       "validation_error",
		Message:    fmt.Sprintf("Validation failed: %s", message),
		StatusCode: http.StatusBadRequest,
		Details: map[string]string{
			"field": field,
			"error": message,
		},
	}
}

// NewValidationErrors creates a validation error with multiple field errors.
func NewValidationErrors(errors map[string]string) *APIError {
	return &APIError{
		Kind:       KindValidation,
		Code:       "validation_error",
		Message:    "One or more fields failed validation",
		StatusCode: http.StatusBadRequest,
		Details:    errors,
	}
}

// NewNotFoundError creates a not found error for a specific resource type.
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Kind:       KindNotFound,
		Code:       "not_found",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

// NewConflictError creates a conflict error with a custom message.
func NewConflictError(message string) *APIError {
	return &APIError{
		Kind:       KindConflict,
		Code:       "conflict",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

// NewConfigurationError reports a missing secret or mapping. It fails the
// operation, not the process.
func NewConfigurationError(message string) *APIError {
	return &APIError{
		Kind:       KindConfiguration,
		Code:       "configuration_error",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// NewUpstreamError reports a failed call to the payment or email provider.
func NewUpstreamError(provider string, cause error) *APIError {
	return &APIError{
		Kind:       KindUpstream,
		Code:       "upstream_error",
		Message:    fmt.Sprintf("%s request failed", provider),
		StatusCode: http.StatusBadGateway,
		cause:      cause,
	}
}

// NewBannedError creates the account_banned error with the ban details a
// client needs to render the suspended state.
func NewBannedError(reason *string, expires *time.Time) *APIError {
	details := map[string]any{}
	if reason != nil {
		details["reason"] = *reason
	}
	if expires != nil {
		details["expires_at"] = expires.UTC().Format(time.RFC3339)
	}
	return ErrAccountBanned.WithDetails(details)
}

// NewInternalError creates an internal error with a custom message.
// This should only be used in development; in production, use ErrInternal.
func NewInternalError(message string) *APIError {
	return &APIError{
		Kind:       KindInternal,
		Code:       "internal_error",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// IsAPIError checks if an error is, or wraps, an APIError.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// AsAPIError converts an error to an APIError if possible.
// Returns ErrInternal if the error is not an APIError.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return ErrInternal
}

// KindOf returns the failure category of err. Errors that are not APIErrors
// are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return AsAPIError(err).Kind
}

// IsKind reports whether err belongs to kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
