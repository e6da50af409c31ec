package middleware

import (
	"context"
	"net/http"
	"time"
)

// TimeoutMiddleware bounds the request context by timeout. Handlers see the
// deadline through the context and answer with a gateway timeout when it
// expires; nothing is written from a second goroutine.
//
// A zero timeout disables the middleware. Websocket upgrades are exempt:
// their connection outlives any single request deadline.
//
// Example usage:
//
//	handler = TimeoutMiddleware(60 * time.Second)(handler)
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isUpgrade(r) {
				next.ServeHTTP(w, r)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func isUpgrade(r *http.Request) bool {
	return r.Header.Get("Upgrade") != ""
}
