package auth

import (
	"context"
	"net/http"
	"strings"
	"time"
)

type ctxKey struct{}

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Claims)
	return c, ok && c != nil
}

func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// RequireHS256 rejects requests without a valid bearer token. An empty secret
// disables the check.
func RequireHS256(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := VerifyHS256(BearerToken(r), secret, time.Now())
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error_code":"UNAUTHORIZED","message":"missing or invalid token"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// TenantAllowed reports whether the caller in ctx may act on tenantID. With no
// claims in ctx (auth disabled) every tenant is allowed.
func TenantAllowed(ctx context.Context, tenantID string) bool {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return true
	}
	return c.SalonID == tenantID
}
