package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// APIKeyAuth validates API key authentication.
//
// When a key is configured, all requests to /api/v1/* must present it via
// the configured header (default X-API-Key), Authorization: Bearer, or the
// api_key query parameter. /health and /version are always public. An
// empty configured key disables auth entirely.
type APIKeyAuth struct {
	header string
	key    string
}

// NewAPIKeyAuth creates an API key auth middleware. A non-standard header
// name can be supplied; an empty key means auth is off.
func NewAPIKeyAuth(header, key string) *APIKeyAuth {
	if header == "" {
		header = "X-API-Key"
	}
	return &APIKeyAuth{header: header, key: key}
}

// Enabled returns whether API key auth is active.
func (a *APIKeyAuth) Enabled() bool { return a.key != "" }

// Middleware returns an http.Handler middleware that enforces API key auth.
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		candidate := a.extractKey(r)
		if candidate == "" {
			respondUnauthorized(w, "API key required. Set "+a.header+" or Authorization: Bearer <key>.")
			return
		}
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(a.key)) != 1 {
			respondUnauthorized(w, "Invalid API key.")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *APIKeyAuth) extractKey(r *http.Request) string {
	if key := r.Header.Get(a.header); key != "" {
		// Operators may configure the Authorization header itself; the
		// scheme prefix is not part of the key.
		return strings.TrimPrefix(key, "Bearer ")
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	// Query parameter for SSE/browser clients that cannot set headers.
	if key := r.URL.Query().Get("api_key"); key != "" {
		return key
	}
	return ""
}

func isPublicPath(path string) bool {
	switch path {
	case "/health", "/version":
		return true
	}
	return false
}

func respondUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="dossier"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": msg,
	})
}
