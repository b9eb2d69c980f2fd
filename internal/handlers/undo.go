package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/taskdeck/backend/internal/database"
	"github.com/taskdeck/backend/internal/middleware"
	"github.com/taskdeck/backend/internal/metrics"
	"github.com/taskdeck/backend/internal/undo"
)

// undoRequest is the body of POST /api/v1/ai/undo. Batches arrive from the
// caller's payload; there is no server-side durable store of undo batches.
type undoRequest struct {
	WorkspaceID string       `json:"workspaceId"`
	Batches     []undo.Batch `json:"batches"`
}

// HandleUndo replays the caller's recorded undo batches, newest turn first.
func HandleUndo(orch *undo.Orchestrator, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req undoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.WorkspaceID == "" {
			http.Error(w, `{"error":"workspaceId is required"}`, http.StatusBadRequest)
			return
		}

		userID := middleware.UserFromContext(r.Context())
		result, err := orch.Undo(r.Context(), req.WorkspaceID, userID, req.Batches)
		if err != nil {
			if errors.Is(err, database.ErrNotMember) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				json.NewEncoder(w).Encode(map[string]string{"error": "Not a member"})
				return
			}
			slog.Error("undo failed", "workspace_id", req.WorkspaceID, "error", err)
			http.Error(w, `{"error":"undo failed"}`, http.StatusInternalServerError)
			return
		}

		if m != nil {
			replayed := 0
			for _, b := range req.Batches {
				if len(b) > 0 {
					replayed++
				}
			}
			m.UndoBatchesTotal.Add(float64(replayed))
			m.UndoStepsTotal.WithLabelValues("applied").Add(float64(result.Applied))
			m.UndoStepsTotal.WithLabelValues("failed").Add(float64(result.Failed))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}
