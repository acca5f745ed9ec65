// Package api implements the driftpad REST API using chi.
package api

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Authorizer returns the shared token check for the REST and WebSocket
// surfaces. Tokens are compared against the bcrypt hash at rest, never
// stored in the clear. Browser WebSocket clients cannot set headers, so the
// token may also ride the "token" query parameter.
func Authorizer(enabled bool, tokenHash string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if !enabled {
			return true
		}
		token := bearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			return false
		}
		return bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)) == nil
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}

// AuthMiddleware rejects requests the authorize hook does not pass.
func AuthMiddleware(authorize func(*http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authorize != nil && !authorize(r) {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
