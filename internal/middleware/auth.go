package middleware

import (
	"context"
	"net/http"

	"github.com/taskdeck/backend/internal/database"
)

type contextKey string

const (
	workspaceKey contextKey = "workspace_id"
	userKey      contextKey = "user_id"
)

// WorkspaceAuth ensures a valid workspace/user pair exists on the request
// and that the user is a verified member of the workspace before any
// handler runs. Identity arrives on X-User-ID / X-Workspace-ID headers set
// by the edge gateway (the dashboard authenticates users upstream; this
// service only enforces membership).
func WorkspaceAuth(membership database.MembershipChecker, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		workspaceID := r.Header.Get("X-Workspace-ID")

		if userID == "" || workspaceID == "" {
			http.Error(w, "Missing workspace context (X-User-ID and X-Workspace-ID)", http.StatusUnauthorized)
			return
		}

		ok, err := membership.IsWorkspaceMember(r.Context(), workspaceID, userID)
		if err != nil || !ok {
			http.Error(w, "Not a member", http.StatusForbidden)
			return
		}

		ctx := context.WithValue(r.Context(), workspaceKey, workspaceID)
		ctx = context.WithValue(ctx, userKey, userID)
		next(w, r.WithContext(ctx))
	}
}

// WorkspaceFromContext returns the authenticated workspace id, or "".
func WorkspaceFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(workspaceKey).(string); ok {
		return v
	}
	return ""
}

// UserFromContext returns the authenticated user id, or "".
func UserFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userKey).(string); ok {
		return v
	}
	return ""
}
