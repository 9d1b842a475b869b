package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Predefined errors for API client operations
var (
	ErrUnauthorized = errors.New("apiclient: unauthorized, sign-in required")
	ErrNotJSON      = errors.New("apiclient: response is not JSON")
	ErrCircuitOpen  = errors.New("apiclient: circuit open, upstream marked unavailable")
)

// APIError is a non-2xx (or unusable 2xx) response from the backend.
type APIError struct {
	Status  int
	Method  string
	Path    string
	Message string
	Err     error // ErrNotJSON when the body was not JSON
}

func (e *APIError) Error() string {
	return fmt.Sprintf("apiclient: %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// Temporary reports whether the status is worth retrying.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusRequestTimeout ||
		e.Status == http.StatusTooManyRequests ||
		e.Status >= 500
}

// StatusCode extracts the HTTP status from err, or 0 if err is not an *APIError.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	if errors.Is(err, ErrUnauthorized) {
		return http.StatusUnauthorized
	}
	return 0
}

// UserMessage returns the text suitable for showing to an end user.
func UserMessage(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return "Your session has expired. Please sign in again."
	case errors.Is(err, ErrCircuitOpen):
		return "The store is temporarily unavailable. Please try again shortly."
	case errors.As(err, &apiErr) && apiErr.Message != "":
		return apiErr.Message
	default:
		return "Network error. Please check your connection and try again."
	}
}
