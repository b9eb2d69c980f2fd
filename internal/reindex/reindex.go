package reindex

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/taskdeck/backend/internal/database"
	"github.com/taskdeck/backend/internal/metrics"
)

// Page and batch sizes are fixed: pageSize bounds a single select,
// inChunkSize keeps IN queries under PostgREST URL limits, and
// insertBatchSize bounds a single job insert request.
const (
	pageSize        = 1000
	inChunkSize     = 200
	insertBatchSize = 500
)

// Options controls what a reindex run covers. MaxItems is a global cap on
// enqueued jobs; files use up the budget before blocks.
type Options struct {
	IncludeBlocks bool `json:"includeBlocks"`
	IncludeFiles  bool `json:"includeFiles"`
	MaxItems      int  `json:"maxItems"`
}

// Result reports how many jobs a run enqueued, split by resource type.
type Result struct {
	WorkspaceID string `json:"workspaceId"`
	Enqueued    int    `json:"enqueued"`
	Blocks      int    `json:"blocks"`
	Files       int    `json:"files"`
}

// Enqueuer walks a workspace's content tree and enqueues indexing jobs
// against the external index_jobs table. It only enqueues; a separate
// indexer service consumes the jobs.
type Enqueuer struct {
	gateway    database.Gateway
	membership database.MembershipChecker
	metrics    *metrics.Metrics
}

// NewEnqueuer creates a reindex enqueuer. m may be nil.
func NewEnqueuer(gw database.Gateway, membership database.MembershipChecker, m *metrics.Metrics) *Enqueuer {
	return &Enqueuer{gateway: gw, membership: membership, metrics: m}
}

// Reindex collects candidate resource ids for the workspace and enqueues
// one job per id in fixed-size insert batches. A batch-insert failure is
// fatal to the whole call; there is no partial-success reporting here.
func (e *Enqueuer) Reindex(ctx context.Context, workspaceID, userID string, opts Options) (*Result, error) {
	ok, err := e.membership.IsWorkspaceMember(ctx, workspaceID, userID)
	if err != nil {
		slog.Error("reindex: membership check failed", "workspace_id", workspaceID, "error", err)
		return nil, database.ErrNotMember
	}
	if !ok {
		return nil, database.ErrNotMember
	}

	result := &Result{WorkspaceID: workspaceID}
	remaining := opts.MaxItems // <= 0 means unbounded

	var fileIDs []string
	if opts.IncludeFiles {
		fileIDs, err = e.collectFileIDs(ctx, workspaceID)
		if err != nil {
			return nil, err
		}
		if remaining > 0 && len(fileIDs) > remaining {
			fileIDs = fileIDs[:remaining]
		}
		if remaining > 0 {
			remaining -= len(fileIDs)
		}
	}

	var blockIDs []string
	if opts.IncludeBlocks && (opts.MaxItems <= 0 || remaining > 0) {
		blockIDs, err = e.collectBlockIDs(ctx, workspaceID)
		if err != nil {
			return nil, err
		}
		if opts.MaxItems > 0 && len(blockIDs) > remaining {
			blockIDs = blockIDs[:remaining]
		}
	}

	jobs := make([]database.IndexJob, 0, len(fileIDs)+len(blockIDs))
	for _, id := range fileIDs {
		jobs = append(jobs, newJob(workspaceID, "file", id))
	}
	for _, id := range blockIDs {
		jobs = append(jobs, newJob(workspaceID, "block", id))
	}

	if len(jobs) == 0 {
		return result, nil
	}

	for start := 0; start < len(jobs); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(jobs) {
			end = len(jobs)
		}
		if err := e.gateway.Insert(ctx, "index_jobs", jobs[start:end]); err != nil {
			return nil, fmt.Errorf("enqueue index jobs: %w", err)
		}
	}

	result.Files = len(fileIDs)
	result.Blocks = len(blockIDs)
	result.Enqueued = len(jobs)

	if e.metrics != nil {
		e.metrics.ReindexJobsEnqueued.WithLabelValues("file").Add(float64(result.Files))
		e.metrics.ReindexJobsEnqueued.WithLabelValues("block").Add(float64(result.Blocks))
	}
	slog.Info("reindex: enqueued",
		"workspace_id", workspaceID,
		"files", result.Files,
		"blocks", result.Blocks,
	)
	return result, nil
}

// collectFileIDs pages through the workspace's files.
func (e *Enqueuer) collectFileIDs(ctx context.Context, workspaceID string) ([]string, error) {
	var all []string
	where := map[string]interface{}{"workspace_id": workspaceID}
	for offset := 0; ; offset += pageSize {
		page, err := e.gateway.SelectIDs(ctx, "files", where, pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("list files: %w", err)
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

// collectBlockIDs walks the project -> tab -> block foreign-key chain.
// Each hop is chunked so IN queries stay within request-size limits.
func (e *Enqueuer) collectBlockIDs(ctx context.Context, workspaceID string) ([]string, error) {
	var projectIDs []string
	where := map[string]interface{}{"workspace_id": workspaceID}
	for offset := 0; ; offset += pageSize {
		page, err := e.gateway.SelectIDs(ctx, "projects", where, pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("list projects: %w", err)
		}
		projectIDs = append(projectIDs, page...)
		if len(page) < pageSize {
			break
		}
	}

	tabIDs, err := e.selectChildIDs(ctx, "tabs", "project_id", projectIDs)
	if err != nil {
		return nil, fmt.Errorf("list tabs: %w", err)
	}
	blockIDs, err := e.selectChildIDs(ctx, "blocks", "tab_id", tabIDs)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	return blockIDs, nil
}

// selectChildIDs fetches ids of rows whose parent column falls within
// parentIDs, chunked inChunkSize at a time.
func (e *Enqueuer) selectChildIDs(ctx context.Context, table, parentColumn string, parentIDs []string) ([]string, error) {
	var all []string
	for start := 0; start < len(parentIDs); start += inChunkSize {
		end := start + inChunkSize
		if end > len(parentIDs) {
			end = len(parentIDs)
		}
		ids, err := e.gateway.SelectIDsIn(ctx, table, parentColumn, parentIDs[start:end])
		if err != nil {
			return nil, err
		}
		all = append(all, ids...)
	}
	return all, nil
}

func newJob(workspaceID, resourceType, resourceID string) database.IndexJob {
	return database.IndexJob{
		JobID:        uuid.NewString(),
		WorkspaceID:  workspaceID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Status:       "pending",
	}
}
