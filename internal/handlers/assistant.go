package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/taskdeck/backend/internal/assistant"
	"github.com/taskdeck/backend/internal/events"
	"github.com/taskdeck/backend/internal/middleware"
)

// commandRequest is the body of POST /api/v1/ai/command and its streaming
// variant. Workspace and user identity come from the auth middleware, not
// the body.
type commandRequest struct {
	Command             string              `json:"command"`
	ConversationHistory []assistant.Message `json:"conversationHistory,omitempty"`
	WorkspaceName       string              `json:"workspaceName,omitempty"`
	UserName            string              `json:"userName,omitempty"`
	CurrentProjectID    string              `json:"currentProjectId,omitempty"`
	CurrentTabID        string              `json:"currentTabId,omitempty"`
}

func commandContext(r *http.Request, req *commandRequest) assistant.Context {
	return assistant.Context{
		WorkspaceID:      middleware.WorkspaceFromContext(r.Context()),
		WorkspaceName:    req.WorkspaceName,
		UserID:           middleware.UserFromContext(r.Context()),
		UserName:         req.UserName,
		CurrentProjectID: req.CurrentProjectID,
		CurrentTabID:     req.CurrentTabID,
	}
}

// HandleCommand executes one AI command synchronously.
func HandleCommand(exec *assistant.Executor, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req commandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.Command == "" {
			http.Error(w, `{"error":"command must not be empty"}`, http.StatusBadRequest)
			return
		}

		ctx, cancel := timeoutContext(r, timeout)
		defer cancel()

		result := exec.Execute(ctx, req.Command, commandContext(r, &req), req.ConversationHistory)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}

// HandleCommandStatus reports whether the assistant is configured with a
// provider API key. Never calls upstream.
func HandleCommandStatus(exec *assistant.Executor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"configured": exec.Configured(),
			"model":      exec.ModelName(),
		})
	}
}

// HandleCommandStream executes one AI command while streaming progress,
// tool_call and error events as Server-Sent Events, terminated by a done
// sentinel. Client disconnect just stops emission; there is no server-side
// cleanup beyond releasing the connection.
func HandleCommandStream(exec *assistant.Executor, bus *events.Bus, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "SSE not supported", http.StatusInternalServerError)
			return
		}

		var req commandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.Command == "" {
			http.Error(w, `{"error":"command must not be empty"}`, http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		turnID := uuid.NewString()
		ch := bus.Subscribe(turnID)
		defer bus.Unsubscribe(turnID, ch)

		ctx, cancel := timeoutContext(r, timeout)
		defer cancel()

		go exec.ExecuteStream(ctx, req.Command, commandContext(r, &req), req.ConversationHistory, turnID)

		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				frame, err := event.SSEFormat()
				if err != nil {
					continue
				}
				w.Write(frame)
				flusher.Flush()
				if event.Type == "done" {
					return
				}

			case <-r.Context().Done():
				slog.Debug("stream client disconnected", "turn_id", turnID)
				return
			}
		}
	}
}

// timeoutContext derives the handler context with the configured budget.
func timeoutContext(r *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return context.WithTimeout(r.Context(), timeout)
}
