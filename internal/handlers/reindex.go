package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/taskdeck/backend/internal/database"
	"github.com/taskdeck/backend/internal/middleware"
	"github.com/taskdeck/backend/internal/reindex"
)

// reindexRequest is the body of POST /api/v1/admin/reindex. Omitted include
// flags default to true; omitted workspaceId defaults to the authenticated
// workspace.
type reindexRequest struct {
	WorkspaceID   string `json:"workspaceId,omitempty"`
	IncludeBlocks *bool  `json:"includeBlocks,omitempty"`
	IncludeFiles  *bool  `json:"includeFiles,omitempty"`
	MaxItems      int    `json:"maxItems,omitempty"`
}

// HandleReindex walks the workspace content tree and enqueues indexing
// jobs. A batch-insert failure fails the whole call.
func HandleReindex(enq *reindex.Enqueuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reindexRequest
		if r.Body != nil {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
				return
			}
		}

		workspaceID := req.WorkspaceID
		if workspaceID == "" {
			workspaceID = middleware.WorkspaceFromContext(r.Context())
		}
		if workspaceID == "" {
			http.Error(w, `{"error":"workspaceId is required"}`, http.StatusBadRequest)
			return
		}

		opts := reindex.Options{
			IncludeBlocks: req.IncludeBlocks == nil || *req.IncludeBlocks,
			IncludeFiles:  req.IncludeFiles == nil || *req.IncludeFiles,
			MaxItems:      req.MaxItems,
		}

		userID := middleware.UserFromContext(r.Context())
		result, err := enq.Reindex(r.Context(), workspaceID, userID, opts)
		if err != nil {
			if errors.Is(err, database.ErrNotMember) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				json.NewEncoder(w).Encode(map[string]string{"error": "Not a member"})
				return
			}
			slog.Error("reindex failed", "workspace_id", workspaceID, "error", err)
			http.Error(w, `{"error":"reindex failed"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}
