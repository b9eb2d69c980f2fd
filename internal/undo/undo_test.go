package undo

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// TEST DOUBLES
// ============================================================================

// gatewayCall records one mutation the fake gateway received, in order.
type gatewayCall struct {
	op       string
	table    string
	where    map[string]interface{}
	idColumn string
	ids      []string
	rows     interface{}
	conflict string
}

type fakeGateway struct {
	calls     []gatewayCall
	failTable string // mutations against this table return an error
}

func (g *fakeGateway) Delete(ctx context.Context, table string, where map[string]interface{}, idColumn string, ids []string) error {
	g.calls = append(g.calls, gatewayCall{op: "delete", table: table, where: where, idColumn: idColumn, ids: ids})
	if table == g.failTable {
		return fmt.Errorf("storage unavailable")
	}
	return nil
}

func (g *fakeGateway) Upsert(ctx context.Context, table string, rows interface{}, onConflict string) error {
	g.calls = append(g.calls, gatewayCall{op: "upsert", table: table, rows: rows, conflict: onConflict})
	if table == g.failTable {
		return fmt.Errorf("storage unavailable")
	}
	return nil
}

func (g *fakeGateway) Insert(ctx context.Context, table string, rows interface{}) error {
	g.calls = append(g.calls, gatewayCall{op: "insert", table: table, rows: rows})
	return nil
}

func (g *fakeGateway) Update(ctx context.Context, table string, where map[string]interface{}, values map[string]interface{}) error {
	g.calls = append(g.calls, gatewayCall{op: "update", table: table, where: where})
	return nil
}

func (g *fakeGateway) SelectRows(ctx context.Context, table string, where map[string]interface{}, limit, offset int, dest interface{}) error {
	return nil
}

func (g *fakeGateway) SelectIDs(ctx context.Context, table string, where map[string]interface{}, limit, offset int) ([]string, error) {
	return nil, nil
}

func (g *fakeGateway) SelectIDsIn(ctx context.Context, table, inColumn string, values []string) ([]string, error) {
	return nil, nil
}

type fakeMembership struct {
	member bool
	err    error
}

func (m *fakeMembership) IsWorkspaceMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	return m.member, m.err
}

// ============================================================================
// STEP APPLICATION
// ============================================================================

func TestApplyStepDeleteRequiresFilter(t *testing.T) {
	gw := &fakeGateway{}

	err := ApplyStep(context.Background(), gw, Step{
		Table:  "task_items",
		Action: ActionDelete,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "neither ids nor where")
	assert.Empty(t, gw.calls, "storage must not be touched")
}

func TestApplyStepRejectsDisallowedTable(t *testing.T) {
	gw := &fakeGateway{}

	err := ApplyStep(context.Background(), gw, Step{
		Table:  "workspace_members",
		Action: ActionDelete,
		IDs:    []string{"m1"},
	})

	require.Error(t, err)
	assert.Equal(t, `Undo not allowed for table "workspace_members"`, err.Error())
	assert.Empty(t, gw.calls, "storage must not be touched")
}

func TestApplyStepUnknownAction(t *testing.T) {
	gw := &fakeGateway{}

	err := ApplyStep(context.Background(), gw, Step{
		Table:  "task_items",
		Action: "truncate",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown undo action "truncate"`)
	assert.Empty(t, gw.calls)
}

func TestApplyStepUpsertEmptyRowsIsNoOp(t *testing.T) {
	gw := &fakeGateway{}

	err := ApplyStep(context.Background(), gw, Step{
		Table:  "blocks",
		Action: ActionUpsert,
	})

	require.NoError(t, err)
	assert.Empty(t, gw.calls, "no write may be issued")
}

func TestApplyStepDeleteCombinesIdsAndWhere(t *testing.T) {
	gw := &fakeGateway{}

	err := ApplyStep(context.Background(), gw, Step{
		Table:  "blocks",
		Action: ActionDelete,
		IDs:    []string{"b1", "b2"},
		Where:  map[string]interface{}{"tab_id": "tab-9"},
	})

	require.NoError(t, err)
	require.Len(t, gw.calls, 1)
	call := gw.calls[0]
	assert.Equal(t, "delete", call.op)
	assert.Equal(t, map[string]interface{}{"tab_id": "tab-9"}, call.where)
	assert.Equal(t, []string{"b1", "b2"}, call.ids)
	assert.Equal(t, "id", call.idColumn, "idColumn defaults to id")
}

func TestApplyStepUpsertPassesOnConflict(t *testing.T) {
	gw := &fakeGateway{}

	err := ApplyStep(context.Background(), gw, Step{
		Table:      "entity_properties",
		Action:     ActionUpsert,
		Rows:       []map[string]interface{}{{"entity_id": "e1", "property_id": "p1", "value": "old"}},
		OnConflict: "entity_id,property_id",
	})

	require.NoError(t, err)
	require.Len(t, gw.calls, 1)
	assert.Equal(t, "entity_id,property_id", gw.calls[0].conflict)
}

// ============================================================================
// ORCHESTRATOR
// ============================================================================

func TestUndoRejectsNonMember(t *testing.T) {
	gw := &fakeGateway{}
	orch := NewOrchestrator(gw, &fakeMembership{member: false})

	batches := []Batch{{{Table: "task_items", Action: ActionDelete, IDs: []string{"t1"}}}}
	result, err := orch.Undo(context.Background(), "ws-1", "u-1", batches)

	require.ErrorIs(t, err, ErrNotMember)
	assert.Nil(t, result)
	assert.Empty(t, gw.calls, "no mutation after a failed membership check")
}

func TestUndoMembershipErrorFailsClosed(t *testing.T) {
	gw := &fakeGateway{}
	orch := NewOrchestrator(gw, &fakeMembership{err: fmt.Errorf("backend down")})

	_, err := orch.Undo(context.Background(), "ws-1", "u-1", []Batch{{{Table: "docs", Action: ActionDelete, IDs: []string{"d1"}}}})

	require.ErrorIs(t, err, ErrNotMember)
	assert.Empty(t, gw.calls)
}

func TestUndoEmptyBatchesIsNoOpSuccess(t *testing.T) {
	gw := &fakeGateway{}
	orch := NewOrchestrator(gw, &fakeMembership{member: true})

	for _, batches := range [][]Batch{nil, {}, {{}, {}, nil}} {
		result, err := orch.Undo(context.Background(), "ws-1", "u-1", batches)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Applied)
		assert.Equal(t, 0, result.Failed)
		assert.Empty(t, result.Errors)
	}
	assert.Empty(t, gw.calls, "no gateway call for empty input")
}

func TestUndoReplayOrder(t *testing.T) {
	gw := &fakeGateway{}
	orch := NewOrchestrator(gw, &fakeMembership{member: true})

	// Three turns, mixed step kinds. Replay must visit batch 2's steps
	// first (in original order), then batch 1's, then batch 0's.
	step := func(table, id string) Step {
		return Step{Table: table, Action: ActionDelete, IDs: []string{id}}
	}
	batches := []Batch{
		{step("projects", "p1"), step("tabs", "t1")},
		{step("blocks", "b1")},
		{step("task_items", "k1"), {Table: "docs", Action: ActionUpsert, Rows: []map[string]interface{}{{"id": "d1"}}}},
	}

	result, err := orch.Undo(context.Background(), "ws-1", "u-1", batches)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Applied)
	assert.Equal(t, 0, result.Failed)

	var observed []string
	for _, c := range gw.calls {
		observed = append(observed, c.op+":"+c.table)
	}
	assert.Equal(t, []string{
		"delete:task_items", "upsert:docs", // batch 2, forward order
		"delete:blocks",                 // batch 1
		"delete:projects", "delete:tabs", // batch 0, forward order
	}, observed)
}

func TestUndoContinuesPastFailures(t *testing.T) {
	gw := &fakeGateway{failTable: "blocks"}
	orch := NewOrchestrator(gw, &fakeMembership{member: true})

	batches := []Batch{
		{{Table: "projects", Action: ActionDelete, IDs: []string{"p1"}}},
		{
			{Table: "blocks", Action: ActionDelete, IDs: []string{"b1"}}, // storage failure
			{Table: "nope", Action: ActionDelete, IDs: []string{"x"}},   // disallowed table
			{Table: "docs", Action: ActionDelete, IDs: []string{"d1"}},
		},
	}

	result, err := orch.Undo(context.Background(), "ws-1", "u-1", batches)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Applied)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, 4, result.Applied+result.Failed, "applied+failed equals total steps")
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "blocks")
	assert.Equal(t, `Undo not allowed for table "nope"`, result.Errors[1])

	// The failed steps did not halt the remaining work: docs and projects
	// were still deleted.
	var tables []string
	for _, c := range gw.calls {
		tables = append(tables, c.table)
	}
	assert.Contains(t, tables, "docs")
	assert.Contains(t, tables, "projects")
}

// ============================================================================
// RECORDER
// ============================================================================

func TestRecorderBatchIsDetached(t *testing.T) {
	r := NewRecorder()
	r.Record(Step{Table: "task_items", Action: ActionDelete, IDs: []string{"t1"}})

	batch := r.Batch()
	require.Len(t, batch, 1)

	r.Record(Step{Table: "docs", Action: ActionDelete, IDs: []string{"d1"}})
	assert.Len(t, batch, 1, "recorded batch must not grow after the fact")
	assert.Equal(t, 2, r.Len())
}

func TestTableAllowList(t *testing.T) {
	for _, table := range []string{"projects", "tabs", "blocks", "task_items", "files", "docs", "clients"} {
		assert.True(t, TableAllowed(table), table)
	}
	for _, table := range []string{"workspaces", "workspace_members", "index_jobs", "api_keys", ""} {
		assert.False(t, TableAllowed(table), table)
	}
}
