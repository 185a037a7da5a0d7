package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"norelock.dev/listenify/bragi/internal/utils"
)

// RecoveryMiddleware handles panic recovery for the API.
type RecoveryMiddleware struct {
	logger *utils.Logger
}

// NewRecoveryMiddleware creates a new recovery middleware.
func NewRecoveryMiddleware(logger *utils.Logger) *RecoveryMiddleware {
	return &RecoveryMiddleware{
		logger: logger.Named("recovery"),
	}
}

// Recovery is a middleware that recovers from panics.
func (m *RecoveryMiddleware) Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				// The server aborts the response itself.
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				m.logger.Error("Panic recovered", fmt.Errorf("panic: %v", rec),
					"stack", string(debug.Stack()),
					"method", r.Method,
					"path", r.URL.Path,
					"ip", utils.GetRequestIP(r),
				)

				utils.RespondWithError(w, errors.New("internal server error"))
			}
		}()

		next.ServeHTTP(w, r)
	})
}
