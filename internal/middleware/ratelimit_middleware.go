package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"pdf_gateway/internal/ratelimit"
	"pdf_gateway/internal/utils"
)

// RateLimitMiddleware enforces a per-caller request budget over a
// sliding window. The caller is identified by the authenticated account
// when available, falling back to the client IP for anonymous routes.
// Scope keeps separate budgets for separate route groups.
func RateLimitMiddleware(limiter ratelimit.Limiter, scope string, limit int, window time.Duration, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := GetAccount(r.Context())
			if !ok {
				caller = clientIP(r, trustProxy)
			}

			decision, err := limiter.Allow(r.Context(), scope+":"+caller, limit, window)
			if err != nil {
				// A broken limiter should not take the service down.
				next.ServeHTTP(w, r)
				return
			}

			if decision.Remaining >= 0 {
				w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
				w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))
				w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", decision.ResetAt.Unix()))
			}

			if !decision.Allowed {
				utils.RespondWithError(w, http.StatusTooManyRequests, "Rate limit exceeded, try again later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP resolves the address an anonymous caller is limited by.
// Forwarding headers are only honored when the deployment declares a
// trusted proxy in front, otherwise any client could spoof its way to a
// fresh window. The port is always stripped: a new TCP connection must
// not reset the count.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			// First hop is the original client.
			if i := strings.Index(forwarded, ","); i >= 0 {
				forwarded = forwarded[:i]
			}
			if ip := strings.TrimSpace(forwarded); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
