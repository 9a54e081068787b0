package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Upreak/Upjobv1-sub001/internal/access"
	"github.com/Upreak/Upjobv1-sub001/internal/session"
	"github.com/Upreak/Upjobv1-sub001/pkg/roles"
)

type sessionKeyType struct{}

var sessionKey sessionKeyType

// WithSession attaches the resolved session to ctx.
func WithSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

func GetSession(r *http.Request) *session.Session {
	s, _ := r.Context().Value(sessionKey).(*session.Session)
	return s
}

// RequireRule re-checks the table entry for prefix inside a handler group.
// It is the same rule the gate applied, looked up again so handlers never
// carry their own role lists.
func RequireRule(table *access.Table, prefix string) func(http.Handler) http.Handler {
	rule, ok := table.Lookup(prefix)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !ok {
				writeJSONError(w, http.StatusForbidden, "Forbidden")
				return
			}
			d := access.EvaluateRule(rule, GetSession(r))
			if !d.Allowed {
				denyAPI(w, d)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RoleAtLeastMiddleware enforces that the caller's role is at least required.
func RoleAtLeastMiddleware(required roles.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := GetSession(r)
			if s == nil {
				writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			if !roles.IsAuthorized(s.Role, required) {
				writeJSONError(w, http.StatusForbidden, "Forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message, "code": status})
}
