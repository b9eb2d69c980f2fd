package database

import (
	"context"
	"fmt"
	"os"

	supabase "github.com/supabase-community/supabase-go"
)

// ============================================================================
// SUPABASE CLIENT - Row-level CRUD against the hosted dashboard schema
// ============================================================================

// SupabaseClient wraps the Supabase Go client. All dashboard data lives in a
// hosted Supabase project; every operation here is a PostgREST call.
type SupabaseClient struct {
	client *supabase.Client
}

// NewSupabaseClient creates a new Supabase client from the environment.
// The client is constructed once in cmd/api and injected everywhere else;
// there is no process-global handle.
func NewSupabaseClient() (*SupabaseClient, error) {
	url := os.Getenv("SUPABASE_URL")
	key := os.Getenv("SUPABASE_SERVICE_KEY")

	if url == "" || key == "" {
		return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY must be set")
	}

	client, err := supabase.NewClient(url, key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}

	return &SupabaseClient{client: client}, nil
}

// ============================================================================
// DATA MODELS
// ============================================================================

// Workspace is the top-level multi-tenant scope owning projects, tasks, docs.
type Workspace struct {
	WorkspaceID string                 `json:"workspace_id"`
	Name        string                 `json:"name"`
	OwnerID     string                 `json:"owner_id"`
	Settings    map[string]interface{} `json:"settings,omitempty"`
	CreatedAt   string                 `json:"created_at,omitempty"` // String to handle Supabase timestamp format
}

// WorkspaceMember links a user to a workspace with a role.
type WorkspaceMember struct {
	WorkspaceID string `json:"workspace_id"`
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
	JoinedAt    string `json:"joined_at,omitempty"`
}

// Project is a board/page inside a workspace.
type Project struct {
	ProjectID   string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Archived    bool   `json:"archived"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// Tab is a view inside a project (board, table, timeline, doc).
type Tab struct {
	TabID     string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	TabType   string `json:"tab_type,omitempty"`
	Position  int    `json:"position"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Block is a content unit inside a tab. Position is the ordering key within
// the parent tab.
type Block struct {
	BlockID   string                 `json:"id"`
	TabID     string                 `json:"tab_id"`
	BlockType string                 `json:"block_type"`
	Content   map[string]interface{} `json:"content,omitempty"`
	Position  int                    `json:"position"`
	CreatedAt string                 `json:"created_at,omitempty"`
	UpdatedAt string                 `json:"updated_at,omitempty"`
}

// TaskItem is a task row. Tasks belong to a project and optionally a tab.
type TaskItem struct {
	TaskID      string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	ProjectID   string `json:"project_id"`
	TabID       string `json:"tab_id,omitempty"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	Priority    string `json:"priority,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
	CreatedBy   string `json:"created_by,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// FileObject is an uploaded file attached to a workspace.
type FileObject struct {
	FileID      string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
	MimeType    string `json:"mime_type,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// IndexJob is one pending indexing job in the external job table. The
// indexer service consumes these; this service only enqueues.
type IndexJob struct {
	JobID        string `json:"job_id"`
	WorkspaceID  string `json:"workspace_id"`
	ResourceType string `json:"resource_type"` // "file" or "block"
	ResourceID   string `json:"resource_id"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at,omitempty"`
}

// rowID projects just the primary key out of a select.
type rowID struct {
	ID string `json:"id"`
}

// ============================================================================
// WORKSPACE / MEMBERSHIP OPERATIONS
// ============================================================================

// GetWorkspace retrieves a workspace by ID. Returns nil (not error) if the
// workspace does not exist.
func (sc *SupabaseClient) GetWorkspace(ctx context.Context, workspaceID string) (*Workspace, error) {
	var workspaces []Workspace
	_, err := sc.client.From("workspaces").
		Select("*", "", false).
		Eq("workspace_id", workspaceID).
		ExecuteTo(&workspaces)

	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	if len(workspaces) == 0 {
		return nil, nil
	}
	return &workspaces[0], nil
}

// IsWorkspaceMember reports whether userID belongs to workspaceID. Query
// errors surface to the caller, who treats them as "not a member".
func (sc *SupabaseClient) IsWorkspaceMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	var members []WorkspaceMember
	_, err := sc.client.From("workspace_members").
		Select("workspace_id,user_id,role", "", false).
		Eq("workspace_id", workspaceID).
		Eq("user_id", userID).
		ExecuteTo(&members)

	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return len(members) > 0, nil
}

// ============================================================================
// GENERIC GATEWAY OPERATIONS (used by undo, assistant tools, and reindex)
// ============================================================================

// Delete removes rows from table. The equality filters in where and the IN
// filter on idColumn/ids combine with AND semantics when both are given.
func (sc *SupabaseClient) Delete(ctx context.Context, table string, where map[string]interface{}, idColumn string, ids []string) error {
	q := sc.client.From(table).Delete("", "")
	for col, val := range where {
		q = q.Eq(col, fmt.Sprintf("%v", val))
	}
	if len(ids) > 0 {
		if idColumn == "" {
			idColumn = "id"
		}
		q = q.In(idColumn, ids)
	}
	_, _, err := q.Execute()
	return err
}

// Upsert inserts rows into table, resolving conflicts on onConflict when
// provided (otherwise the table's primary key).
func (sc *SupabaseClient) Upsert(ctx context.Context, table string, rows interface{}, onConflict string) error {
	_, _, err := sc.client.From(table).
		Upsert(rows, onConflict, "", "").
		Execute()
	return err
}

// Insert inserts rows into table.
func (sc *SupabaseClient) Insert(ctx context.Context, table string, rows interface{}) error {
	_, _, err := sc.client.From(table).
		Insert(rows, false, "", "", "").
		Execute()
	return err
}

// Update applies values to all rows matching the equality filters in where.
func (sc *SupabaseClient) Update(ctx context.Context, table string, where map[string]interface{}, values map[string]interface{}) error {
	q := sc.client.From(table).Update(values, "", "")
	for col, val := range where {
		q = q.Eq(col, fmt.Sprintf("%v", val))
	}
	_, _, err := q.Execute()
	return err
}

// SelectRows reads up to limit rows starting at offset into dest, filtered
// by the equality filters in where. dest must be a pointer to a slice.
func (sc *SupabaseClient) SelectRows(ctx context.Context, table string, where map[string]interface{}, limit, offset int, dest interface{}) error {
	q := sc.client.From(table).Select("*", "", false)
	for col, val := range where {
		q = q.Eq(col, fmt.Sprintf("%v", val))
	}
	if limit > 0 {
		q = q.Range(offset, offset+limit-1, "")
	}
	_, err := q.ExecuteTo(dest)
	return err
}

// SelectIDs reads the "id" column of rows matching where, paged the same
// way as SelectRows.
func (sc *SupabaseClient) SelectIDs(ctx context.Context, table string, where map[string]interface{}, limit, offset int) ([]string, error) {
	q := sc.client.From(table).Select("id", "", false)
	for col, val := range where {
		q = q.Eq(col, fmt.Sprintf("%v", val))
	}
	if limit > 0 {
		q = q.Range(offset, offset+limit-1, "")
	}
	var rows []rowID
	if _, err := q.ExecuteTo(&rows); err != nil {
		return nil, err
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids, nil
}

// SelectIDsIn reads the "id" column of rows whose inColumn is within values.
// Callers chunk values to respect PostgREST URL-size limits.
func (sc *SupabaseClient) SelectIDsIn(ctx context.Context, table, inColumn string, values []string) ([]string, error) {
	var rows []rowID
	_, err := sc.client.From(table).
		Select("id", "", false).
		In(inColumn, values).
		ExecuteTo(&rows)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids, nil
}
