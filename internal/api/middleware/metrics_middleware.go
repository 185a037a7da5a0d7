package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// HTTPObserver records request metrics.
type HTTPObserver interface {
	ObserveHTTPRequest(method, path string, status int, duration time.Duration)
	IncHTTPRequestsInProgress(method, path string)
	DecHTTPRequestsInProgress(method, path string)
}

// Metrics labels requests by their chi route pattern so path parameters
// do not explode the label set. Requests that match no route are labeled
// "unmatched".
func Metrics(observer HTTPObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newResponseWriter(w)

			// The pattern is complete only after routing, so the gauge is
			// keyed by method alone.
			observer.IncHTTPRequestsInProgress(r.Method, "*")
			defer observer.DecHTTPRequestsInProgress(r.Method, "*")

			next.ServeHTTP(rw, r)

			pattern := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					pattern = p
				}
			}
			observer.ObserveHTTPRequest(r.Method, pattern, rw.statusCode, time.Since(start))
		})
	}
}
