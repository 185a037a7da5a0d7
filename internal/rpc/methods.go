package rpc

import (
	"context"
	"encoding/json"

	"norelock.dev/listenify/bragi/internal/auth"
	"norelock.dev/listenify/bragi/internal/models"
	"norelock.dev/listenify/bragi/internal/services/media"
	"norelock.dev/listenify/bragi/pkg/jsonrpc"
)

// Method names
const (
	MethodPing      = "ping"
	MethodProviders = "providers"
	MethodSuggest   = "suggest"
	MethodSearch    = "search"
	MethodDetail    = "detail"
	MethodStream    = "stream"
)

// NewDispatcher builds the JSON-RPC server exposing svc. Scoped methods
// are checked against the caller's token claims.
func NewDispatcher(svc media.Service, mws ...jsonrpc.MiddlewareFunc) *jsonrpc.Server {
	s := jsonrpc.NewServer(jsonrpc.WithErrorMapper(MapError))
	s.Use(mws...)
	s.Use(scopeMiddleware)

	jsonrpc.Register(s, MethodPing, func(context.Context, *struct{}) (string, error) {
		return "pong", nil
	})
	jsonrpc.Register(s, MethodProviders, func(context.Context, *struct{}) ([]models.Provider, error) {
		return svc.Providers(), nil
	})
	jsonrpc.Register(s, MethodSuggest, func(ctx context.Context, p *media.SuggestRequest) ([]models.Tagged[string], error) {
		return p.Do(ctx, svc)
	})
	jsonrpc.Register(s, MethodSearch, func(ctx context.Context, p *media.SearchRequest) ([]models.Tagged[models.ResultItem], error) {
		return p.Do(ctx, svc)
	})
	jsonrpc.Register(s, MethodDetail, func(ctx context.Context, p *media.ItemRequest) (*models.Collection, error) {
		return p.Detail(ctx, svc)
	})
	jsonrpc.Register(s, MethodStream, func(ctx context.Context, p *media.ItemRequest) ([]models.Stream, error) {
		return p.Stream(ctx, svc)
	})
	return s
}

// scopeMiddleware rejects calls the token does not grant. ping and
// providers are always allowed.
func scopeMiddleware(next jsonrpc.Handler) jsonrpc.Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		switch method := jsonrpc.MethodFromContext(ctx); method {
		case MethodPing, MethodProviders:
		default:
			if err := auth.CheckScope(ctx, method); err != nil {
				return nil, err
			}
		}
		return next(ctx, params)
	}
}
