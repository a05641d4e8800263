// Package errors defines the error types the gateway surfaces to HTTP callers.
// Every rejection the gateway produces is mapped to one of these types so that
// clients can tell "who are you" apart from "you may not" and "slow down".
package errors

import (
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
)

// GatewayError is a client-visible rejection.
type GatewayError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Type       string `json:"type"`

	// RetryAfter is set on rate-limit errors, in whole seconds.
	RetryAfter int `json:"-"`
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	return fmt.Sprintf("[%s] %s (code=%d)", e.Type, e.Message, e.StatusCode)
}

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// Error types.
const (
	TypeAuthentication     = "authentication_error"
	TypePermission         = "permission_error"
	TypeRateLimit          = "rate_limit_error"
	TypeInvalidRequest     = "invalid_request_error"
	TypeServiceUnavailable = "service_unavailable_error"
	TypeConfiguration      = "configuration_error"
	TypeInternalError      = "internal_error"
)

// NewAuthenticationError creates an authentication error (401).
// Used when no valid session token accompanies the request.
func NewAuthenticationError(message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusUnauthorized,
		Message:    message,
		Type:       TypeAuthentication,
	}
}

// NewPermissionError creates a permission error (403).
// Used when the caller is authenticated but lacks the capability.
func NewPermissionError(message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusForbidden,
		Message:    message,
		Type:       TypePermission,
	}
}

// NewRateLimitError creates a rate limit error (429).
func NewRateLimitError(message string, retryAfter int) *GatewayError {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &GatewayError{
		StatusCode: http.StatusTooManyRequests,
		Message:    message,
		Type:       TypeRateLimit,
		RetryAfter: retryAfter,
	}
}

// NewInvalidRequestError creates an invalid request error (400).
func NewInvalidRequestError(message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Type:       TypeInvalidRequest,
	}
}

// NewServiceUnavailableError creates a service unavailable error (503).
func NewServiceUnavailableError(message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    message,
		Type:       TypeServiceUnavailable,
	}
}

// NewConfigurationError creates an error for a feature that is not configured (501).
func NewConfigurationError(message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusNotImplemented,
		Message:    message,
		Type:       TypeConfiguration,
	}
}

// NewInternalError creates an internal server error (500).
func NewInternalError(message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusInternalServerError,
		Message:    message,
		Type:       TypeInternalError,
	}
}

// Write renders the error as the gateway's JSON envelope:
//
//	{"error":{"message":"...","type":"..."}}
func Write(w http.ResponseWriter, e *GatewayError) {
	if w == nil || e == nil {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", e.RetryAfter))
	}
	w.WriteHeader(e.HTTPStatusCode())
	_ = json.NewEncoder(w).Encode(map[string]*GatewayError{"error": e})
}
