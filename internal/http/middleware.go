package http

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"
)

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = fmt.Sprintf("req-%d", time.Now().UnixNano())
		}

		ctx := context.WithValue(r.Context(), "request_id", requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SharedSecretMiddleware gates operator endpoints (cleanup trigger, stock
// correction) behind the X-Cleanup-Secret header. With no secret configured
// the endpoints are disabled outright.
func SharedSecretMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				respondError(w, http.StatusForbidden, "disabled", "operator endpoints are not configured")
				return
			}
			provided := r.Header.Get("X-Cleanup-Secret")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
				respondError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
