package middleware

import (
	"crypto/subtle"
	"net/http"
)

// RequireDeviceToken is middleware gating the API behind the shared
// capture-device token. An empty configured token disables the check
// (local development).
func RequireDeviceToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			presented := r.Header.Get("X-Device-Token")
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
