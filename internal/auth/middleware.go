package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// CookieName is the HttpOnly cookie carrying the session token.
const CookieName = "token"

// contextKey is unexported so only this package can set or read the
// account id in a request context.
type contextKey string

const accountIDKey contextKey = "accountID"

// errNoToken means the request carried neither the cookie nor a bearer header.
var errNoToken = errors.New("auth: no session token")

// RequireAuth guards a route group.
//
// The token is read from the "token" cookie, or from an
// "Authorization: Bearer <jwt>" header when there is no cookie.
//
//   - no token at all   → 401 {"error":"unauthenticated"}
//   - token not valid   → 403 {"error":"unauthorized"}
//   - valid             → account id stored in the context, next handler runs
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := TokenFromRequest(r)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "unauthenticated", "access token required")
				return
			}
			accountID, err := tokens.Validate(raw)
			if err != nil {
				writeAuthError(w, http.StatusForbidden, "unauthorized", "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithAccountID(r.Context(), accountID)))
		})
	}
}

// AccountIDFromContext returns the authenticated account id set by
// RequireAuth. ok is false outside a protected route.
func AccountIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(accountIDKey).(int64)
	return id, ok && id > 0
}

// ContextWithAccountID returns a copy of ctx carrying accountID. Handler
// tests use it to skip token issuance.
func ContextWithAccountID(ctx context.Context, accountID int64) context.Context {
	return context.WithValue(ctx, accountIDKey, accountID)
}

// TokenFromRequest extracts the raw session token, preferring the cookie.
func TokenFromRequest(r *http.Request) (string, error) {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token), nil
		}
	}
	return "", errNoToken
}

// writeAuthError writes the JSON error body. It can't use handler's helpers
// without an import cycle, so the shape is repeated here.
func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + code + `","message":"` + message + `"}`))
}
