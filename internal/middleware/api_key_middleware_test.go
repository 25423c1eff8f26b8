package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf_gateway/internal/auth"
	"pdf_gateway/internal/models"
	"pdf_gateway/internal/ratelimit"
)

func setupKeyStore(t *testing.T) (*auth.InMemoryAPIKeyStore, string) {
	t.Helper()

	store := auth.NewInMemoryAPIKeyStore()
	plaintext, id, secret, err := auth.GenerateAPIKey()
	require.NoError(t, err)
	hash, err := auth.HashSecret(secret)
	require.NoError(t, err)
	require.NoError(t, store.Insert(context.Background(), &models.APIKey{
		ID:         id,
		Account:    "acct-1",
		Name:       "test",
		SecretHash: hash,
		CreatedAt:  time.Now().UTC(),
	}))
	return store, plaintext
}

func echoAccountHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, ok := GetAccount(r.Context())
		require.True(t, ok)
		record, ok := GetAPIKeyRecord(r.Context())
		require.True(t, ok)
		assert.Equal(t, account, record.Account)
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyMiddleware(t *testing.T) {
	store, plaintext := setupKeyStore(t)
	handler := APIKeyMiddleware(store)(echoAccountHandler(t))

	t.Run("valid key via X-API-Key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/analyze", nil)
		req.Header.Set("X-API-Key", plaintext)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("valid key via bearer token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/analyze", nil)
		req.Header.Set("Authorization", "Bearer "+plaintext)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/analyze", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/analyze", nil)
		req.Header.Set("X-API-Key", "pdfk_bogus_bogus")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestSessionMiddleware(t *testing.T) {
	secret := []byte("session-secret")
	handler := SessionMiddleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, ok := GetAccount(r.Context())
		require.True(t, ok)
		assert.Equal(t, "acct-7", account)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid session", func(t *testing.T) {
		token, _, err := auth.GenerateSessionToken("acct-7", secret)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/usage", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/usage", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("forged token", func(t *testing.T) {
		token, _, err := auth.GenerateSessionToken("acct-7", []byte("other-secret"))
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/usage", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRateLimitMiddleware_AnonymousFallsBackToAddress(t *testing.T) {
	handler := RateLimitMiddleware(ratelimit.NoopLimiter{}, "test", 5, time.Minute, false)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest(http.MethodPost, "/test-document", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
