package undo

import (
	"context"
	"log/slog"

	"github.com/taskdeck/backend/internal/database"
)

// ErrNotMember is returned when the calling user is not a verified member
// of the target workspace. No mutation happens after this check fails.
var ErrNotMember = database.ErrNotMember

// Result is the aggregate outcome of an undo call. Applied+Failed always
// equals the total number of steps visited.
type Result struct {
	Applied int      `json:"applied"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors"`
}

// Orchestrator replays recorded undo batches through the data gateway.
type Orchestrator struct {
	gateway    database.Gateway
	membership database.MembershipChecker
}

// NewOrchestrator creates an undo orchestrator over the given gateway and
// membership collaborator.
func NewOrchestrator(gw database.Gateway, membership database.MembershipChecker) *Orchestrator {
	return &Orchestrator{gateway: gw, membership: membership}
}

// Undo replays batches in reverse chronological order (most recent turn
// first) with step order inside each batch preserved: the last turn's steps
// are undone in the order they were declared before the previous turn is
// touched.
//
// Replay is best-effort, not atomic. A failed step is counted and its error
// recorded, then processing continues; no compensating action is taken for
// steps that already applied. The caller interprets a non-zero Failed.
func (o *Orchestrator) Undo(ctx context.Context, workspaceID, userID string, batches []Batch) (*Result, error) {
	ok, err := o.membership.IsWorkspaceMember(ctx, workspaceID, userID)
	if err != nil {
		slog.Error("undo: membership check failed", "workspace_id", workspaceID, "error", err)
		return nil, ErrNotMember
	}
	if !ok {
		return nil, ErrNotMember
	}

	normalized := normalize(batches)
	result := &Result{Errors: []string{}}
	if len(normalized) == 0 {
		return result, nil
	}

	for i := len(normalized) - 1; i >= 0; i-- {
		for _, step := range normalized[i] {
			if stepErr := ApplyStep(ctx, o.gateway, step); stepErr != nil {
				result.Failed++
				result.Errors = append(result.Errors, stepErr.Error())
				continue
			}
			result.Applied++
		}
	}

	slog.Info("undo: replay complete",
		"workspace_id", workspaceID,
		"batches", len(normalized),
		"applied", result.Applied,
		"failed", result.Failed,
	)
	return result, nil
}

// normalize drops anything that is not a non-empty batch so replay only
// sees real work.
func normalize(batches []Batch) []Batch {
	out := make([]Batch, 0, len(batches))
	for _, b := range batches {
		if len(b) > 0 {
			out = append(out, b)
		}
	}
	return out
}
