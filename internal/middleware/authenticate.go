package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/inaiurai/promptq/internal/httpx"
)

type contextKey string

const ctxPrincipalKey contextKey = "principal"

// AuthCookieName is the cookie login sets for browser clients.
const AuthCookieName = "access_token"

// Principal is the authenticated caller of a request.
type Principal struct {
	AccountID uuid.UUID
	IsAdmin   bool
}

// TokenValidator resolves a bearer token to (account_id, is_privileged).
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (uuid.UUID, bool, error)
}

// Authenticate reads the token from the Authorization header, falling back to
// the access_token cookie, and stores the resolved Principal in the request context.
func Authenticate(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractToken(r)
			if raw == "" {
				httpx.WriteError(w, http.StatusUnauthorized, "missing credentials")
				return
			}

			accountID, isAdmin, err := validator.ValidateToken(r.Context(), raw)
			if err != nil || accountID == uuid.Nil {
				httpx.WriteError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := WithPrincipal(r.Context(), &Principal{AccountID: accountID, IsAdmin: isAdmin})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin must run after Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := PrincipalFromCtx(r.Context())
		if p == nil {
			httpx.WriteError(w, http.StatusUnauthorized, "missing credentials")
			return
		}
		if !p.IsAdmin {
			httpx.WriteError(w, http.StatusForbidden, "admin privileges required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PrincipalFromCtx returns the authenticated principal or nil.
func PrincipalFromCtx(ctx context.Context) *Principal {
	p, _ := ctx.Value(ctxPrincipalKey).(*Principal)
	return p
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipalKey, p)
}

func extractToken(r *http.Request) string {
	if tok := extractBearer(r); tok != "" {
		return tok
	}
	if c, err := r.Cookie(AuthCookieName); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
