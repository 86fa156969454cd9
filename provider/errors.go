package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMissingURL is returned when the client is built without a service URL
	ErrMissingURL = errors.New("service URL is required")

	// ErrMissingAPIKey is returned when the client is built without an API key
	ErrMissingAPIKey = errors.New("API key is required")

	// ErrNoSession is returned by operations that need an active session
	ErrNoSession = errors.New("no active session")

	// ErrRecordNotFound is returned when a record store query matches no row
	ErrRecordNotFound = errors.New("record not found")

	// ErrMultipleRecords is returned when a single-row query matches more than one row
	ErrMultipleRecords = errors.New("multiple records found")

	// ErrMissingClaim is returned when an access token lacks a required claim
	ErrMissingClaim = errors.New("missing required claim")
)

// APIError is a non-2xx response from the provider
type APIError struct {
	Status  int
	Code    string
	Message string
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("provider error %d: %s", e.Status, e.Message)
}

// UserMessage returns the text safe to show next to a form
func (e *APIError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return http.StatusText(e.Status)
}

// IsStatus reports whether err is an APIError with one of the given statuses
func IsStatus(err error, statuses ...int) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, s := range statuses {
		if apiErr.Status == s {
			return true
		}
	}
	return false
}

// decodeAPIError reads both the identity endpoint shapes
// ({"msg"}, {"error","error_description"}) and the record store shape ({"message","code"}).
func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}

	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		apiErr.Message = string(body)
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(status)
		}
		return apiErr
	}

	for _, key := range []string{"error_code", "code", "error"} {
		if s, ok := raw[key].(string); ok && s != "" {
			apiErr.Code = s
			break
		}
	}
	for _, key := range []string{"msg", "message", "error_description"} {
		if s, ok := raw[key].(string); ok && s != "" {
			apiErr.Message = s
			break
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
