package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

// UserIDKey is the context key for the calling user's ID.
const UserIDKey contextKey = "user_id"

// IdentityExtractor extracts the calling user from the request. It checks
// the X-User-Id header, then the user_id query parameter, and falls back
// to "anonymous". Downstream handlers pass the user ID explicitly into the
// runner; nothing below the HTTP layer reads it from context.
func IdentityExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := ""

		if h := r.Header.Get("X-User-Id"); h != "" {
			userID = strings.TrimSpace(h)
		}
		if userID == "" {
			if q := r.URL.Query().Get("user_id"); q != "" {
				userID = strings.TrimSpace(q)
			}
		}
		if userID == "" {
			userID = "anonymous"
		}

		ctx := context.WithValue(r.Context(), UserIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserID retrieves the calling user's ID from the request context.
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return "anonymous"
}
