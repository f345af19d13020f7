package middleware

import (
	"net/http"
	"time"

	"github.com/ayo6706/account-cqrs/internal/observability"
	"github.com/go-chi/chi/v5"
)

// MetricsMiddleware records request durations by route pattern. Live streams
// are excluded since their duration is the subscription lifetime.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		if rw.Header().Get("Content-Type") == "text/event-stream" {
			return
		}
		observability.ObserveHTTP(r.Method, routePattern(r), rw.status, time.Since(start))
	})
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
