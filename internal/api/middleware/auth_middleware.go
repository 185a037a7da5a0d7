// Package middleware contains HTTP middleware for the API.
package middleware

import (
	"net/http"

	"norelock.dev/listenify/bragi/internal/auth"
	"norelock.dev/listenify/bragi/internal/utils"
)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// AuthMiddleware handles authentication for protected routes.
type AuthMiddleware struct {
	verifier TokenVerifier
	logger   *utils.Logger
}

// NewAuthMiddleware creates a new auth middleware. A nil verifier turns
// authentication off and every request passes.
func NewAuthMiddleware(verifier TokenVerifier, logger *utils.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		logger:   logger.Named("auth_middleware"),
	}
}

// RequireAuth validates the bearer token and stores its claims in the
// request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.verifier == nil {
			next.ServeHTTP(w, r)
			return
		}

		token, err := utils.ExtractBearerToken(r)
		if err != nil {
			utils.RespondWithError(w, err)
			return
		}

		claims, err := m.verifier.ValidateToken(token)
		if err != nil {
			m.logger.Debug("Rejected token", "ip", utils.GetRequestIP(r), "error", err)
			utils.RespondWithError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	})
}

// RequireScope rejects requests whose token does not grant scope.
func (m *AuthMiddleware) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := auth.CheckScope(r.Context(), scope); err != nil {
				utils.RespondWithError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
