package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/auth"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database"
)

type contextKey string

const identityContextKey contextKey = "identity"

// Role failure messages.
const (
	MsgAdminRequired      = "Admin access required"
	MsgSuperAdminRequired = "Super admin access required"
	MsgUserRequired       = "User access required"
)

// TokenParser verifies bearer tokens.
type TokenParser interface {
	Parse(token string) (*auth.Identity, error)
}

// tokenFromRequest reads the Authorization header. Browsers cannot set
// headers on <img> and WebSocket requests, so a token query parameter is
// accepted as well.
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + message + `"}` + "\n"))
}

// RequireAuth is middleware that requires a valid access token
func RequireAuth(tokens TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := tokens.Parse(tokenFromRequest(r))
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(SetIdentityInContext(r.Context(), id)))
		})
	}
}

func requireRole(message string, roles ...database.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := GetIdentityFromContext(r.Context())
			if id == nil {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !slices.Contains(roles, id.Type) {
				writeJSONError(w, http.StatusForbidden, message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin admits admins and super admins.
func RequireAdmin() func(http.Handler) http.Handler {
	return requireRole(MsgAdminRequired, database.RoleAdmin, database.RoleSuperAdmin)
}

// RequireSuperAdmin admits super admins only.
func RequireSuperAdmin() func(http.Handler) http.Handler {
	return requireRole(MsgSuperAdminRequired, database.RoleSuperAdmin)
}

// RequireUser admits regular users only.
func RequireUser() func(http.Handler) http.Handler {
	return requireRole(MsgUserRequired, database.RoleUser)
}

// GetIdentityFromContext retrieves the caller from the request context
func GetIdentityFromContext(ctx context.Context) *auth.Identity {
	id, ok := ctx.Value(identityContextKey).(*auth.Identity)
	if !ok {
		return nil
	}
	return id
}

// SetIdentityInContext adds the caller to the context.
// This is primarily for testing - use RequireAuth middleware in production.
func SetIdentityInContext(ctx context.Context, id *auth.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// OptionalAuth attaches the caller when a valid token is present and lets
// anonymous requests through.
func OptionalAuth(tokens TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := tokenFromRequest(r); token != "" {
				if id, err := tokens.Parse(token); err == nil {
					r = r.WithContext(SetIdentityInContext(r.Context(), id))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
