package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// maxBodySize bounds HTTP request bodies.
const maxBodySize = 1 << 20

// Handler is a function that handles a JSON-RPC request.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// MiddlewareFunc is a function that wraps a Handler.
type MiddlewareFunc func(Handler) Handler

// ErrorMapper converts a handler error into an error object.
type ErrorMapper func(error) *Error

type methodKey struct{}

// MethodFromContext returns the method being served, if any.
func MethodFromContext(ctx context.Context) string {
	m, _ := ctx.Value(methodKey{}).(string)
	return m
}

// Server dispatches JSON-RPC 2.0 messages to registered handlers. It is
// transport-agnostic: Handle serves raw messages from any connection and
// ServeHTTP serves POST bodies.
type Server struct {
	// handlers is a map of method names to handlers.
	handlers map[string]Handler

	// middleware is a list of middleware functions to apply to handlers.
	middleware []MiddlewareFunc

	mapError ErrorMapper

	// mutex is used to synchronize access to the handlers map.
	mutex sync.RWMutex
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithErrorMapper sets how handler errors become error objects. The default
// reports ErrInternalError with the error text.
func WithErrorMapper(m ErrorMapper) ServerOption {
	return func(s *Server) { s.mapError = m }
}

// NewServer creates a new JSON-RPC 2.0 server.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		handlers: make(map[string]Handler),
		mapError: func(err error) *Error {
			return &Error{Code: ErrInternalError, Message: err.Error()}
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterMethod registers a method handler.
func (s *Server) RegisterMethod(method string, handler Handler) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.handlers[method] = handler
}

// Methods lists the registered method names.
func (s *Server) Methods() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		out = append(out, m)
	}
	return out
}

// Register registers fn under method. Params are decoded into a fresh P;
// a decoding failure is reported as ErrInvalidParams.
func Register[P, R any](s *Server, method string, fn func(ctx context.Context, params *P) (R, error)) {
	s.RegisterMethod(method, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p P
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, &Error{
					Code:    ErrInvalidParams,
					Message: fmt.Sprintf("Invalid params: %v", err),
				}
			}
		}
		return fn(ctx, &p)
	})
}

// Use adds middleware to the server.
func (s *Server) Use(middleware ...MiddlewareFunc) {
	s.middleware = append(s.middleware, middleware...)
}

// Handle serves one message, single or batch. It returns nil when nothing
// must be sent back, i.e. the message held only notifications.
func (s *Server) Handle(ctx context.Context, data []byte) []byte {
	if isBatch(data) {
		return s.handleBatch(ctx, data)
	}

	res := s.handleOne(ctx, data)
	if res == nil {
		return nil
	}
	return marshal(res)
}

// handleBatch serves the elements of a batch in order.
func (s *Server) handleBatch(ctx context.Context, data []byte) []byte {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return marshal(NewErrorResponse(nil, &Error{
			Code:    ErrParseError,
			Message: fmt.Sprintf("Parse error: %v", err),
		}))
	}
	if len(raw) == 0 {
		return marshal(NewErrorResponse(nil, &Error{Code: ErrInvalidRequest, Message: "Empty batch"}))
	}

	responses := make([]*Response, 0, len(raw))
	for _, item := range raw {
		if res := s.handleOne(ctx, item); res != nil {
			responses = append(responses, res)
		}
	}
	if len(responses) == 0 {
		return nil
	}
	return marshal(responses)
}

// handleOne serves a single request object.
func (s *Server) handleOne(ctx context.Context, data []byte) *Response {
	req, err := ParseRequest(data)
	if err != nil {
		if errors.Is(err, ErrInvalidJSON) {
			return NewErrorResponse(nil, &Error{Code: ErrParseError, Message: err.Error()})
		}
		return NewErrorResponse(req.ID, &Error{Code: ErrInvalidRequest, Message: err.Error()})
	}

	s.mutex.RLock()
	handler, ok := s.handlers[req.Method]
	s.mutex.RUnlock()

	if !ok {
		if req.IsNotification() {
			return nil
		}
		return NewErrorResponse(req.ID, &Error{
			Code:    ErrMethodNotFound,
			Message: fmt.Sprintf("Method not found: %s", req.Method),
		})
	}

	for i := len(s.middleware) - 1; i >= 0; i-- {
		handler = s.middleware[i](handler)
	}

	result, err := handler(context.WithValue(ctx, methodKey{}, req.Method), req.Params)
	if req.IsNotification() {
		return nil
	}
	if err != nil {
		var rpcErr *Error
		if errors.As(err, &rpcErr) {
			return NewErrorResponse(req.ID, rpcErr)
		}
		return NewErrorResponse(req.ID, s.mapError(err))
	}

	res, err := NewResponse(req.ID, result)
	if err != nil {
		return NewErrorResponse(req.ID, &Error{
			Code:    ErrInternalError,
			Message: fmt.Sprintf("Error marshaling result: %v", err),
		})
	}
	return res
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "Error reading request body", http.StatusBadRequest)
		return
	}

	out := s.Handle(r.Context(), body)
	if out == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func marshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(NewErrorResponse(nil, &Error{
			Code:    ErrInternalError,
			Message: "Error encoding response",
		}))
	}
	return data
}
