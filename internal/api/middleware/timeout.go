// timeout.go applies the per-request wall-clock deadline. The deadline propagates
// through the request context, so an in-flight catalogue or database call is
// cancelled when it fires; the session release path still runs (see the catalogue
// backend's deferred release).
package middleware

import (
	"context"
	"net/http"
	"time"
)

// RequestTimeout bounds each request's total handling time to d.
func RequestTimeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
