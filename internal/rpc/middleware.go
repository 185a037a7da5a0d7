package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"norelock.dev/listenify/bragi/internal/utils"
	"norelock.dev/listenify/bragi/pkg/jsonrpc"
)

// RecoveryMiddleware turns a panicking handler into an internal error.
func RecoveryMiddleware(logger *utils.Logger) jsonrpc.MiddlewareFunc {
	return func(next jsonrpc.Handler) jsonrpc.Handler {
		return func(ctx context.Context, params json.RawMessage) (result any, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Panic recovered", fmt.Errorf("panic: %v", r), "method", jsonrpc.MethodFromContext(ctx))
					result, err = nil, &jsonrpc.Error{Code: jsonrpc.ErrInternalError, Message: "Internal error"}
				}
			}()
			return next(ctx, params)
		}
	}
}

// LoggingMiddleware logs every call with its outcome.
func LoggingMiddleware(logger *utils.Logger) jsonrpc.MiddlewareFunc {
	return func(next jsonrpc.Handler) jsonrpc.Handler {
		return func(ctx context.Context, params json.RawMessage) (any, error) {
			start := time.Now()
			method := jsonrpc.MethodFromContext(ctx)
			result, err := next(ctx, params)
			if err != nil {
				logger.Warn("RPC error", "method", method, "duration", time.Since(start).String(), "error", err)
			} else {
				logger.Debug("RPC call", "method", method, "duration", time.Since(start).String())
			}
			return result, err
		}
	}
}
