package database

import (
	"context"
	"errors"
)

// ErrNotMember is returned by workspace-scoped operations when the calling
// user is not a verified member of the workspace. Membership failures short
// circuit before any mutation.
var ErrNotMember = errors.New("Not a member")

// Gateway is the capability-scoped data-access handle the rest of the
// service depends on. The Supabase client is the production implementation;
// tests substitute in-memory fakes.
//
// All filters are equality maps; Delete additionally accepts an IN filter on
// idColumn. When both are present they combine with AND semantics.
type Gateway interface {
	Delete(ctx context.Context, table string, where map[string]interface{}, idColumn string, ids []string) error
	Upsert(ctx context.Context, table string, rows interface{}, onConflict string) error
	Insert(ctx context.Context, table string, rows interface{}) error
	Update(ctx context.Context, table string, where map[string]interface{}, values map[string]interface{}) error
	SelectRows(ctx context.Context, table string, where map[string]interface{}, limit, offset int, dest interface{}) error
	SelectIDs(ctx context.Context, table string, where map[string]interface{}, limit, offset int) ([]string, error)
	SelectIDsIn(ctx context.Context, table, inColumn string, values []string) ([]string, error)
}

// MembershipChecker verifies workspace membership. Satisfied by
// SupabaseClient; split out so the undo and reindex packages can be tested
// without a live backend.
type MembershipChecker interface {
	IsWorkspaceMember(ctx context.Context, workspaceID, userID string) (bool, error)
}

var _ Gateway = (*SupabaseClient)(nil)
var _ MembershipChecker = (*SupabaseClient)(nil)
