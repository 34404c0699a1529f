package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPMiddleware_ValidToken(t *testing.T) {
	fx := setupTestValidator(t)
	token := createTestJWT(t, fx.key, fx.issuer, fx.audience, "user-123", nil)

	var gotClaims *Claims
	handler := HTTPMiddleware(fx.validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, gotClaims)
	assert.Equal(t, "user-123", gotClaims.Subject)
}

func TestHTTPMiddleware_MissingHeader(t *testing.T) {
	fx := setupTestValidator(t)

	handler := HTTPMiddleware(fx.validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHTTPMiddleware_MalformedHeader(t *testing.T) {
	fx := setupTestValidator(t)

	handler := HTTPMiddleware(fx.validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic deadbeef")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTokenFromWebSocketRequest_QueryParam(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?access_token=abc123", nil)

	token, err := TokenFromWebSocketRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)
}

func TestTokenFromWebSocketRequest_FallsBackToHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer abc123")

	token, err := TokenFromWebSocketRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)
}

func TestRequireClaim_Allowed(t *testing.T) {
	handler := RequireClaim("role", "admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithClaims(req.Context(), &Claims{Subject: "u1", Raw: map[string]any{"role": "admin"}}))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireClaim_Denied(t *testing.T) {
	handler := RequireClaim("role", "admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithClaims(req.Context(), &Claims{Subject: "u1", Raw: map[string]any{"role": "viewer"}}))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireClaim_Unauthenticated(t *testing.T) {
	handler := RequireClaim("role", "admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
