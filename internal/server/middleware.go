// Package server exposes the ingress HTTP API of spec.md §6: a bearer-token
// protected batch endpoint that fans out one orchestrator run per ticker.
// Router and auth middleware grounded in drewjst-recon's chi-based API
// server (apps/api/internal/api/router.go, middleware/auth.go).
package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// bearerAuth validates the Authorization: Bearer header against a single
// configured token. An empty token disables auth (local dev only).
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			presented := extractBearer(r)
			if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
