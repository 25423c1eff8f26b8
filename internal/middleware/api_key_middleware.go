package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"pdf_gateway/internal/auth"
	"pdf_gateway/internal/models"
	"pdf_gateway/internal/utils"
)

// ContextKey defines the type for context keys to avoid conflicts
type ContextKey string

const (
	// APIKeyRecordKey is the context key for the authenticated API key record
	APIKeyRecordKey ContextKey = "apiKeyRecord"

	// AccountKey is the context key for the authenticated account id
	AccountKey ContextKey = "account"
)

// APIKeyMiddleware validates API keys for protected routes and adds the
// key record and its account to the request context
func APIKeyMiddleware(store auth.APIKeyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Extract API key from header
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				// Try Authorization header with "Bearer" prefix
				authHeader := r.Header.Get("Authorization")
				if authHeader != "" && strings.HasPrefix(authHeader, "Bearer ") {
					apiKey = strings.TrimPrefix(authHeader, "Bearer ")
				}
			}

			if apiKey == "" {
				utils.RespondWithError(w, http.StatusUnauthorized, "Missing API key")
				return
			}

			ctx := r.Context()
			keyRecord, err := store.Lookup(ctx, apiKey)
			if err != nil {
				if errors.Is(err, auth.ErrKeyNotFound) {
					utils.RespondWithError(w, http.StatusUnauthorized, "Invalid API key")
					return
				}
				utils.RespondWithError(w, http.StatusInternalServerError, "Error validating API key")
				return
			}

			// Best effort; authentication already succeeded.
			_ = store.TouchLastUsed(ctx, keyRecord.ID, time.Now().UTC())

			ctx = context.WithValue(ctx, APIKeyRecordKey, keyRecord)
			ctx = context.WithValue(ctx, AccountKey, keyRecord.Account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAPIKeyRecord retrieves the API key record from the request context
func GetAPIKeyRecord(ctx context.Context) (*models.APIKey, bool) {
	record, ok := ctx.Value(APIKeyRecordKey).(*models.APIKey)
	return record, ok
}

// GetAccount retrieves the authenticated account id from the request context
func GetAccount(ctx context.Context) (string, bool) {
	account, ok := ctx.Value(AccountKey).(string)
	return account, ok
}
