package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors matched by APIError.Is.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrCompacted   = errors.New("change log compacted")
	ErrValidation  = errors.New("validation failed")
	ErrUnavailable = errors.New("service unavailable")
)

// FieldError is one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError is an RFC 7807 problem returned by the server.
type APIError struct {
	StatusCode int          `json:"status"`
	Type       string       `json:"type"`
	Title      string       `json:"title"`
	Detail     string       `json:"detail"`
	Errors     []FieldError `json:"errors,omitempty"`
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%d %s", e.StatusCode, e.Title)
	}
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Title, e.Detail)
}

// Is maps the status code onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	case ErrCompacted:
		return e.StatusCode == http.StatusGone
	case ErrValidation:
		return e.StatusCode == http.StatusUnprocessableEntity || e.StatusCode == http.StatusBadRequest
	case ErrUnavailable:
		return e.StatusCode == http.StatusServiceUnavailable
	}
	return false
}
