package middleware

import (
	"net/http"
	"slices"
	"strings"

	"norelock.dev/listenify/bragi/internal/utils"
)

const (
	corsAllowMethods = "GET, POST, OPTIONS"
	corsAllowHeaders = "Accept, Authorization, Content-Type"
	// rate limit headers set by utils.RateLimitMiddleware
	corsExposeHeaders = "X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset, Retry-After"
	corsMaxAge        = "86400"
)

// CORSMiddleware lets browser clients on the allowed origins call the API.
type CORSMiddleware struct {
	origins []string
	logger  *utils.Logger
}

// NewCORSMiddleware creates a CORS middleware. An empty origin list, or one
// containing "*", allows every origin. Entries ending in "*" match by prefix.
func NewCORSMiddleware(origins []string, logger *utils.Logger) *CORSMiddleware {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &CORSMiddleware{
		origins: origins,
		logger:  logger.Named("cors_middleware"),
	}
}

// CORS answers preflight requests and decorates the rest. Allowed origins
// are echoed back, never "*".
func (m *CORSMiddleware) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !m.allowed(origin) {
			m.logger.Debug("Origin not allowed", "origin", origin, "path", r.URL.Path)
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
		h.Set("Access-Control-Expose-Headers", corsExposeHeaders)

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Max-Age", corsMaxAge)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *CORSMiddleware) allowed(origin string) bool {
	return slices.ContainsFunc(m.origins, func(o string) bool {
		if o == "*" || o == origin {
			return true
		}
		prefix, wildcard := strings.CutSuffix(o, "*")
		return wildcard && strings.HasPrefix(origin, prefix)
	})
}
