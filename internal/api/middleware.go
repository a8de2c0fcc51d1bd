package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/voyago/identity-service/internal/app"
	"github.com/voyago/identity-service/internal/domain"
	"github.com/voyago/identity-service/internal/token"
)

type contextKey string

const principalContextKey contextKey = "principal"

// Principal is the authenticated identity injected into request context by
// the auth middleware.
type Principal struct {
	AccountID   string
	AccountKind domain.AccountKind
}

// AuthMiddleware validates the bearer access token and injects the
// principal into context. Missing or invalid tokens are rejected before
// any handler runs.
func AuthMiddleware(tokens *token.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(strings.TrimSpace(r.Header.Get("Authorization")))
			if !ok {
				writeError(w, http.StatusUnauthorized, "Authorization required")
				return
			}

			claims, err := tokens.VerifyAccess(tokenString)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			principal := Principal{
				AccountID:   claims.Subject,
				AccountKind: claims.AccountKind,
			}
			ctx := context.WithValue(r.Context(), principalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal returns the authenticated principal from request context.
func GetPrincipal(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalContextKey).(Principal)
	return principal, ok
}

// RateLimitMiddleware applies a per-client fixed-window limit to the
// credential endpoints. A limiter error fails open: Redis being down must
// never take login down with it.
func RateLimitMiddleware(limiter *app.RedisRateLimiter, scope string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count, retryAfter, err := limiter.ConsumeRateLimit(r.Context(), scope, clientAddr(r), limit, window)
			if err != nil {
				log.Printf("Rate limiter error on scope %s: %v", scope, err)
				next.ServeHTTP(w, r)
				return
			}
			if limit > 0 && count > limit {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, "Too many requests, slow down")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(authHeader string) (string, bool) {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if tokenString == "" {
		return "", false
	}
	return tokenString, true
}

// clientAddr prefers the X-Forwarded-For left-most hop set by the gateway,
// falling back to the socket address.
func clientAddr(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		if idx := strings.Index(forwarded, ","); idx > 0 {
			return strings.TrimSpace(forwarded[:idx])
		}
		return forwarded
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx > 0 {
		return addr[:idx]
	}
	return addr
}
