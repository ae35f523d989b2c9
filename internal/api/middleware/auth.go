package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
)

// InternalTokenHeader carries the shared secret of internal producers.
const InternalTokenHeader = "X-Internal-Token"

// InternalToken rejects requests whose X-Internal-Token does not match token
// with 403. An empty token disables the check.
func InternalToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte(token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(InternalTokenHeader))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "forbidden: invalid internal token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
