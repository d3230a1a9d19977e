package httpserver

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prxatt/kiro-ai-gateway/internal/domain"
)

type userIDKey struct{}

// RequireUser extracts the caller identity from the X-User-ID header, set by
// the authenticating edge proxy. Requests without it are rejected before any
// handler runs.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			writeError(w, r, fmt.Errorf("%w: missing X-User-ID header", domain.ErrUnauthenticated), nil)
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserFrom returns the authenticated user id stored by RequireUser.
func UserFrom(r *http.Request) string {
	if v := r.Context().Value(userIDKey{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
