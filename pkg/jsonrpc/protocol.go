// Package jsonrpc provides JSON-RPC 2.0 framing, a transport-agnostic
// dispatcher and an HTTP client.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the only protocol version accepted.
const Version = "2.0"

// JSON-RPC 2.0 error codes
const (
	// Parse error: Invalid JSON was received by the server.
	ErrParseError = -32700

	// Invalid Request: The JSON sent is not a valid Request object.
	ErrInvalidRequest = -32600

	// Method not found: The method does not exist / is not available.
	ErrMethodNotFound = -32601

	// Invalid params: Invalid method parameter(s).
	ErrInvalidParams = -32602

	// Internal error: Internal JSON-RPC error.
	ErrInternalError = -32603

	// Server error: Reserved for implementation-defined server-errors.
	ErrServerError = -32000
)

// Protocol errors
var (
	ErrInvalidJSON     = errors.New("invalid JSON")
	ErrInvalidVersion  = errors.New("invalid JSON-RPC version")
	ErrMissingMethod   = errors.New("missing method")
	ErrInvalidResponse = errors.New("invalid response")
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	// JSONRPC is the version of the JSON-RPC protocol. Must be "2.0".
	JSONRPC string `json:"jsonrpc"`

	// Method is the name of the method to be invoked.
	Method string `json:"method"`

	// Params is the parameter values to be used during the invocation of the method.
	Params json.RawMessage `json:"params,omitempty"`

	// ID is the identifier established by the client. If omitted, the request is a notification.
	ID any `json:"id,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      any             `json:"id"`
}

// Error represents a JSON-RPC 2.0 error object.
type Error struct {
	// Code is the error code.
	Code int `json:"code"`

	// Message is a short description of the error.
	Message string `json:"message"`

	// Data is additional information about the error.
	Data json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

// NewError builds an error object, marshaling data when non-nil.
func NewError(code int, message string, data any) *Error {
	e := &Error{Code: code, Message: message}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			e.Data = raw
		}
	}
	return e
}

// NewRequest creates a new JSON-RPC 2.0 request.
func NewRequest(method string, params any, id any) (*Request, error) {
	var paramsJSON json.RawMessage
	if params != nil {
		var err error
		paramsJSON, err = json.Marshal(params)
		if err != nil {
			return nil, err
		}
	}

	return &Request{
		JSONRPC: Version,
		Method:  method,
		Params:  paramsJSON,
		ID:      id,
	}, nil
}

// NewResponse creates a new JSON-RPC 2.0 response.
func NewResponse(id any, result any) (*Response, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}

	return &Response{
		JSONRPC: Version,
		Result:  resultJSON,
		ID:      id,
	}, nil
}

// NewErrorResponse creates a new JSON-RPC 2.0 error response.
func NewErrorResponse(id any, err *Error) *Response {
	return &Response{
		JSONRPC: Version,
		Error:   err,
		ID:      id,
	}
}

// ParseRequest parses a JSON-RPC 2.0 request.
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	if req.JSONRPC != Version {
		return &req, ErrInvalidVersion
	}

	if req.Method == "" {
		return &req, ErrMissingMethod
	}

	return &req, nil
}

// ParseResponse parses a JSON-RPC 2.0 response.
func ParseResponse(data []byte) (*Response, error) {
	var res Response
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	if res.JSONRPC != Version {
		return nil, ErrInvalidVersion
	}

	if res.Error != nil && res.Result != nil {
		return nil, ErrInvalidResponse
	}

	return &res, nil
}

// IsNotification returns true if the request is a notification (no ID).
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// UnmarshalParams unmarshals the request parameters into v. Absent params
// leave v untouched.
func (r *Request) UnmarshalParams(v any) error {
	if len(r.Params) == 0 || bytes.Equal(r.Params, []byte("null")) {
		return nil
	}
	return json.Unmarshal(r.Params, v)
}

// UnmarshalResult unmarshals the response result into the provided value.
func (r *Response) UnmarshalResult(v any) error {
	if r.Result == nil {
		return nil
	}
	return json.Unmarshal(r.Result, v)
}

// isBatch reports whether data is a JSON array.
func isBatch(data []byte) bool {
	data = bytes.TrimLeft(data, " \t\r\n")
	return len(data) > 0 && data[0] == '['
}
