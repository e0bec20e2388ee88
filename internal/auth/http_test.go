package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identityEcho(t *testing.T, captured *Identity) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		require.True(t, ok, "handler reached without identity")
		*captured = id
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_ValidToken(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	token, err := issuer.Issue(Identity{UserID: "user-alice", Username: "alice"})
	require.NoError(t, err)

	var got Identity
	handler := NewMiddleware(issuer, false).Wrap(identityEcho(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-alice", got.UserID)
	assert.Equal(t, "jwt", got.Provider)
}

func TestMiddleware_MissingTokenRejected(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	handler := NewMiddleware(issuer, false).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing bearer token")
}

func TestMiddleware_InvalidTokenRejected(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	handler := NewMiddleware(issuer, false).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_DevModeFallback(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)

	var got Identity
	handler := NewMiddleware(issuer, true).Wrap(identityEcho(t, &got))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, DevIdentity, got)
}

func TestMiddleware_DevModeStillVerifiesPresentedTokens(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	handler := NewMiddleware(issuer, true).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	}))

	// A bad token is rejected even in dev mode; the fallback only covers
	// requests with no credentials at all.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer forged")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerToken_Malformed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Empty(t, bearerToken(req))

	req.Header.Set("Authorization", "Bearer")
	assert.Empty(t, bearerToken(req))
}
