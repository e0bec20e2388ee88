// ABOUTME: HTTP middleware that turns bearer tokens into context identities
// ABOUTME: Development mode falls back to a fixed local identity when no token is sent

package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// DevIdentity is the identity assumed in development mode when a request
// carries no credentials.
var DevIdentity = Identity{
	UserID:   "user_dev_local",
	Username: "dev",
	Email:    "dev@localhost",
	Provider: "dev",
}

// Middleware authenticates requests and attaches the resulting identity to
// the request context.
type Middleware struct {
	issuer  *TokenIssuer
	devMode bool
	logger  *slog.Logger
}

// NewMiddleware builds the middleware. With devMode set, unauthenticated
// requests proceed as DevIdentity instead of being rejected.
func NewMiddleware(issuer *TokenIssuer, devMode bool) *Middleware {
	return &Middleware{
		issuer:  issuer,
		devMode: devMode,
		logger:  slog.Default().With("component", "auth"),
	}
}

// Wrap returns a handler that authenticates before invoking next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			if m.devMode {
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), DevIdentity)))
				return
			}
			writeAuthError(w, "missing bearer token")
			return
		}

		id, err := m.issuer.Verify(token)
		if err != nil {
			m.logger.Debug("token rejected", "error", err)
			writeAuthError(w, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// bearerToken extracts the token from the Authorization header, or "" when
// absent or malformed.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func writeAuthError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
