package middleware

import (
	"context"
	"net/http"
	"strings"

	"pdf_gateway/internal/auth"
	"pdf_gateway/internal/utils"
)

// SessionMiddleware validates dashboard session tokens and adds the
// account to the request context. Used by the key management and usage
// routes, where the caller holds a session rather than an API key.
func SessionMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := r.Header.Get("Authorization")
			if tokenString == "" {
				utils.RespondWithError(w, http.StatusUnauthorized, "Missing session token")
				return
			}
			tokenString = strings.TrimPrefix(tokenString, "Bearer ")

			account, err := auth.ValidateSessionToken(tokenString, secret)
			if err != nil {
				utils.RespondWithError(w, http.StatusUnauthorized, "Invalid or expired session")
				return
			}

			ctx := context.WithValue(r.Context(), AccountKey, account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
