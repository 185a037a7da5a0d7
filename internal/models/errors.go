// Package models contains the data structures used throughout the application.
package models

import (
	"errors"
	"fmt"
	"net/http"
	"os"
)

// Error kinds shared by every provider and transport.
var (
	// ErrProviderNotEnabled is returned when a single-target operation names
	// a provider that is not registered.
	ErrProviderNotEnabled = errors.New("provider not enabled")

	// ErrUnsupportedOperation is returned when a provider cannot perform the
	// requested operation or query type.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrUpstreamFailure covers network, HTTP status and provider API errors.
	ErrUpstreamFailure = errors.New("upstream failure")

	// ErrMalformedResponse is returned when a provider response cannot be decoded.
	ErrMalformedResponse = errors.New("malformed upstream response")

	// ErrInvalidIdentifier is returned for ids the provider cannot parse.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrConfiguration is returned for invalid settings.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidInput is returned for bad caller arguments.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTooManyRequests is returned by the inbound API limiter.
	ErrTooManyRequests = errors.New("too many requests")

	// ErrUnauthorized is returned for missing or rejected API tokens.
	ErrUnauthorized = errors.New("unauthorized")
)

// ProviderError records which provider and operation produced an error.
type ProviderError struct {
	// Provider is the provider that failed.
	Provider Provider

	// Op is the operation name, e.g. "search".
	Op string

	// Kind is one of the sentinel errors above.
	Kind error

	// Err is the underlying cause, may be nil.
	Err error
}

// Error formats the error as "provider op: kind: cause".
func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Provider, e.Op)
	if e.Kind != nil {
		msg += ": " + e.Kind.Error()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *ProviderError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewProviderError builds a ProviderError.
func NewProviderError(p Provider, op string, kind, err error) *ProviderError {
	return &ProviderError{Provider: p, Op: op, Kind: kind, Err: err}
}

// Upstream wraps err as an upstream failure of p.
func Upstream(p Provider, op string, err error) error {
	return NewProviderError(p, op, ErrUpstreamFailure, err)
}

// Malformed wraps err as a decoding failure of p.
func Malformed(p Provider, op string, err error) error {
	return NewProviderError(p, op, ErrMalformedResponse, err)
}

// Unsupported reports that p cannot perform op.
func Unsupported(p Provider, op string) error {
	return NewProviderError(p, op, ErrUnsupportedOperation, nil)
}

// InvalidID reports an id p cannot interpret.
func InvalidID(p Provider, op, id string) error {
	return NewProviderError(p, op, ErrInvalidIdentifier, fmt.Errorf("id %q", id))
}

// ErrorResponse represents the standard error response format for APIs
type ErrorResponse struct {
	// Success is always false for error responses
	Success bool `json:"success"`

	// Error contains information about the error
	Error struct {
		// Code is the HTTP status code
		Code int `json:"code"`

		// Message is a human-readable error message
		Message string `json:"message"`

		// Provider is set when a single provider caused the error
		Provider Provider `json:"provider,omitempty"`

		// Details contains additional context for the error
		Details map[string]any `json:"details,omitempty"`
	} `json:"error"`
}

// NewErrorResponse builds the API error body for err.
func NewErrorResponse(err error) ErrorResponse {
	response := ErrorResponse{Success: false}
	response.Error.Code = MapErrorToHTTPStatus(err)

	var perr *ProviderError
	if errors.As(err, &perr) {
		response.Error.Provider = perr.Provider
	}

	if response.Error.Code == http.StatusInternalServerError && !isKnown(err) {
		response.Error.Message = "An unexpected error occurred"
		// Include the original error message in non-production environments
		if os.Getenv("BRAGI_ENVIRONMENT") != "production" {
			response.Error.Details = map[string]any{
				"originalError": err.Error(),
			}
		}
		return response
	}

	response.Error.Message = err.Error()
	return response
}

func isKnown(err error) bool {
	for _, kind := range []error{
		ErrProviderNotEnabled, ErrUnsupportedOperation, ErrUpstreamFailure,
		ErrMalformedResponse, ErrInvalidIdentifier, ErrConfiguration,
		ErrInvalidInput, ErrTooManyRequests, ErrUnauthorized,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// MapErrorToHTTPStatus maps common errors to HTTP status codes
func MapErrorToHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrProviderNotEnabled):
		return http.StatusNotFound

	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInvalidIdentifier):
		return http.StatusBadRequest

	case errors.Is(err, ErrUnsupportedOperation):
		return http.StatusNotImplemented

	case errors.Is(err, ErrUpstreamFailure),
		errors.Is(err, ErrMalformedResponse):
		return http.StatusBadGateway

	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized

	case errors.Is(err, ErrTooManyRequests):
		return http.StatusTooManyRequests

	default:
		return http.StatusInternalServerError
	}
}
