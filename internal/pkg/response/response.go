// Package response provides JSON response helpers for API handlers.
package response

import (
	"encoding/json"
	"net/http"

	apierrors "github.com/wangwalk/tanstack-start-dev/internal/pkg/errors"
)

// Response represents a standard API response envelope.
type Response struct {
	Data  any   `json:"data,omitempty"`
	Error any   `json:"error,omitempty"`
	Meta  *Meta `json:"meta,omitempty"`
}

// Meta contains pagination metadata.
type Meta struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// NewMeta builds pagination metadata for a page of results.
func NewMeta(page, perPage int, total int64) *Meta {
	pages := 0
	if perPage > 0 {
		pages = int((total + int64(perPage) - 1) / int64(perPage))
	}
	return &Meta{Page: page, PerPage: perPage, Total: total, TotalPages: pages}
}

func write(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Headers are already out; nothing useful left to send.
		return
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, Response{Data: data})
}

// JSONWithMeta writes a JSON response with pagination metadata.
func JSONWithMeta(w http.ResponseWriter, status int, data any, meta *Meta) {
	write(w, status, Response{Data: data, Meta: meta})
}

// Error writes an error response. Errors that are not APIErrors are reported
// as internal errors without leaking their text.
func Error(w http.ResponseWriter, err error) {
	apiErr := apierrors.AsAPIError(err)
	if apiErr.StatusCode == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	}
	write(w, apiErr.StatusCode, Response{Error: apiErr})
}

// Created writes a 201 Created response.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// OK writes a 200 OK response.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// NoContent writes a 204 No Content response.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// BadRequest writes a 400 Bad Request error response.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, apierrors.ErrBadRequest.WithMessage(message))
}

// Unauthorized writes a 401 Unauthorized error response.
func Unauthorized(w http.ResponseWriter) {
	Error(w, apierrors.ErrUnauthorized)
}

// Forbidden writes a 403 Forbidden error response.
func Forbidden(w http.ResponseWriter) {
	Error(w, apierrors.ErrForbidden)
}

// NotFound writes a 404 Not Found error response.
func NotFound(w http.ResponseWriter, resource string) {
	Error(w, apierrors.NewNotFoundError(resource))
}

// ValidationError writes a 400 validation error response.
func ValidationError(w http.ResponseWriter, field, message string) {
	Error(w, apierrors.NewValidationError(field, message))
}

// ValidationErrors writes a 400 validation error response with multiple field errors.
func ValidationErrors(w http.ResponseWriter, errors map[string]string) {
	Error(w, apierrors.NewValidationErrors(errors))
}
