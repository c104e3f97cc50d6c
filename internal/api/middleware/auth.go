package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/zeynepyuksell/fleeky-chat/internal/identity"
)

type contextKey string

const userContextKey contextKey = "user"

// Auth resolves the current user via the identity provider. Without a
// valid user no operations are permitted.
type Auth struct {
	provider identity.Provider
}

// NewAuth creates the auth middleware.
func NewAuth(provider identity.Provider) *Auth {
	return &Auth{provider: provider}
}

// RequireUser verifies the bearer token (or, for websocket upgrades, the
// token query parameter) and stores the user in the request context.
func (a *Auth) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			jsonError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		user, err := a.provider.Verify(r.Context(), token)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserFromContext returns the authenticated user, or nil.
func UserFromContext(ctx context.Context) *identity.User {
	user, _ := ctx.Value(userContextKey).(*identity.User)
	return user
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	return ""
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
