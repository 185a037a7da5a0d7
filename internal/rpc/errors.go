// Package rpc serves the media operations as JSON-RPC 2.0, over WebSocket
// and over HTTP POST.
package rpc

import (
	"errors"

	"norelock.dev/listenify/bragi/internal/models"
	"norelock.dev/listenify/bragi/pkg/jsonrpc"
)

// Application error codes, in the implementation-defined server range.
const (
	ErrUnauthorized         = -32001
	ErrProviderNotEnabled   = -32010
	ErrUnsupportedOperation = -32011
	ErrUpstreamFailure      = -32012
	ErrTooManyRequests      = -32013
)

// ErrorData is attached to every mapped error.
type ErrorData struct {
	// Status is the HTTP status the REST API would answer with.
	Status int `json:"status"`

	// Provider is set when a single provider caused the error.
	Provider models.Provider `json:"provider,omitempty"`
}

// MapError converts a service error into a JSON-RPC error object.
func MapError(err error) *jsonrpc.Error {
	code := jsonrpc.ErrInternalError
	switch {
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrInvalidIdentifier):
		code = jsonrpc.ErrInvalidParams
	case errors.Is(err, models.ErrProviderNotEnabled):
		code = ErrProviderNotEnabled
	case errors.Is(err, models.ErrUnsupportedOperation):
		code = ErrUnsupportedOperation
	case errors.Is(err, models.ErrUpstreamFailure), errors.Is(err, models.ErrMalformedResponse):
		code = ErrUpstreamFailure
	case errors.Is(err, models.ErrUnauthorized):
		code = ErrUnauthorized
	case errors.Is(err, models.ErrTooManyRequests):
		code = ErrTooManyRequests
	}

	resp := models.NewErrorResponse(err)
	return jsonrpc.NewError(code, resp.Error.Message, ErrorData{
		Status:   resp.Error.Code,
		Provider: resp.Error.Provider,
	})
}
