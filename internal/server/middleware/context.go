package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/gosuda/boardsync/internal/auth"
)

type contextKey string

const (
	ContextKeyOrgID    contextKey = "org_id"
	ContextKeyUserID   contextKey = "user_id"
	ContextKeyUserRole contextKey = "role"
)

// WithPrincipal stores an authenticated session in ctx.
func WithPrincipal(ctx context.Context, p auth.Principal) context.Context {
	ctx = context.WithValue(ctx, ContextKeyOrgID, p.OrgID)
	ctx = context.WithValue(ctx, ContextKeyUserID, p.UserID)
	return context.WithValue(ctx, ContextKeyUserRole, p.Role)
}

// PrincipalFromContext returns the session stored by Auth. Both ids must be
// present and non-nil.
func PrincipalFromContext(ctx context.Context) (auth.Principal, bool) {
	orgID, ok := OrgIDFromContext(ctx)
	if !ok || orgID == uuid.Nil {
		return auth.Principal{}, false
	}
	userID, ok := UserIDFromContext(ctx)
	if !ok || userID == uuid.Nil {
		return auth.Principal{}, false
	}
	role, _ := RoleFromContext(ctx)
	return auth.Principal{OrgID: orgID, UserID: userID, Role: role}, true
}

func OrgIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	v, ok := ctx.Value(ContextKeyOrgID).(uuid.UUID)
	return v, ok
}

func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	v, ok := ctx.Value(ContextKeyUserID).(uuid.UUID)
	return v, ok
}

func RoleFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeyUserRole).(string)
	return v, ok
}

// RequireOrg rejects requests that reach it without an organization scope.
// Every board and room is owned by exactly one organization.
func RequireOrg() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if orgID, ok := OrgIDFromContext(r.Context()); !ok || orgID == uuid.Nil {
				http.Error(w, `{"title":"Forbidden","status":403,"detail":"organization required"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
