package reindex

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/backend/internal/database"
)

// fakeGateway serves a fixed content tree: files and projects by
// workspace, tabs by project, blocks by tab. Inserts are recorded.
type fakeGateway struct {
	files    []string
	projects []string
	tabs     map[string][]string // project -> tabs
	blocks   map[string][]string // tab -> blocks

	inserts    [][]database.IndexJob
	inChunks   []int // sizes of SelectIDsIn value slices, in call order
	failInsert bool
}

func (g *fakeGateway) Delete(ctx context.Context, table string, where map[string]interface{}, idColumn string, ids []string) error {
	return fmt.Errorf("unexpected delete")
}

func (g *fakeGateway) Upsert(ctx context.Context, table string, rows interface{}, onConflict string) error {
	return fmt.Errorf("unexpected upsert")
}

func (g *fakeGateway) Insert(ctx context.Context, table string, rows interface{}) error {
	if table != "index_jobs" {
		return fmt.Errorf("unexpected insert into %s", table)
	}
	if g.failInsert {
		return fmt.Errorf("insert rejected")
	}
	jobs, ok := rows.([]database.IndexJob)
	if !ok {
		return fmt.Errorf("unexpected row type %T", rows)
	}
	batch := make([]database.IndexJob, len(jobs))
	copy(batch, jobs)
	g.inserts = append(g.inserts, batch)
	return nil
}

func (g *fakeGateway) Update(ctx context.Context, table string, where map[string]interface{}, values map[string]interface{}) error {
	return fmt.Errorf("unexpected update")
}

func (g *fakeGateway) SelectRows(ctx context.Context, table string, where map[string]interface{}, limit, offset int, dest interface{}) error {
	return fmt.Errorf("unexpected select")
}

func (g *fakeGateway) SelectIDs(ctx context.Context, table string, where map[string]interface{}, limit, offset int) ([]string, error) {
	var all []string
	switch table {
	case "files":
		all = g.files
	case "projects":
		all = g.projects
	default:
		return nil, fmt.Errorf("unexpected table %s", table)
	}
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (g *fakeGateway) SelectIDsIn(ctx context.Context, table, inColumn string, values []string) ([]string, error) {
	g.inChunks = append(g.inChunks, len(values))
	var source map[string][]string
	switch table {
	case "tabs":
		source = g.tabs
	case "blocks":
		source = g.blocks
	default:
		return nil, fmt.Errorf("unexpected table %s", table)
	}
	var out []string
	for _, parent := range values {
		out = append(out, source[parent]...)
	}
	return out, nil
}

type fakeMembership struct {
	member bool
}

func (m *fakeMembership) IsWorkspaceMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	return m.member, nil
}

func seq(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s-%d", prefix, i)
	}
	return out
}

// treeGateway builds a workspace with nFiles files and nBlocks blocks
// spread across one project and one tab.
func treeGateway(nFiles, nBlocks int) *fakeGateway {
	return &fakeGateway{
		files:    seq("file", nFiles),
		projects: []string{"proj-0"},
		tabs:     map[string][]string{"proj-0": {"tab-0"}},
		blocks:   map[string][]string{"tab-0": seq("block", nBlocks)},
	}
}

func allJobs(g *fakeGateway) []database.IndexJob {
	var out []database.IndexJob
	for _, batch := range g.inserts {
		out = append(out, batch...)
	}
	return out
}

func TestReindexFilesUseBudgetFirst(t *testing.T) {
	gw := treeGateway(7, 20)
	e := NewEnqueuer(gw, &fakeMembership{member: true}, nil)

	result, err := e.Reindex(context.Background(), "ws-1", "u-1", Options{
		IncludeFiles:  true,
		IncludeBlocks: true,
		MaxItems:      10,
	})
	require.NoError(t, err)

	assert.Equal(t, 7, result.Files)
	assert.Equal(t, 3, result.Blocks)
	assert.Equal(t, 10, result.Enqueued)

	jobs := allJobs(gw)
	require.Len(t, jobs, 10)
	for _, job := range jobs {
		assert.Equal(t, "ws-1", job.WorkspaceID)
		assert.Equal(t, "pending", job.Status)
		assert.NotEmpty(t, job.JobID)
	}
}

func TestReindexEmptyWorkspace(t *testing.T) {
	gw := treeGateway(0, 0)
	e := NewEnqueuer(gw, &fakeMembership{member: true}, nil)

	result, err := e.Reindex(context.Background(), "ws-1", "u-1", Options{
		IncludeFiles:  true,
		IncludeBlocks: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, result.Enqueued)
	assert.Equal(t, 0, result.Files)
	assert.Equal(t, 0, result.Blocks)
	assert.Empty(t, gw.inserts, "no job insert for an empty tree")
}

func TestReindexNonMember(t *testing.T) {
	gw := treeGateway(3, 3)
	e := NewEnqueuer(gw, &fakeMembership{member: false}, nil)

	_, err := e.Reindex(context.Background(), "ws-1", "u-1", Options{IncludeFiles: true})
	require.ErrorIs(t, err, database.ErrNotMember)
	assert.Empty(t, gw.inserts)
}

func TestReindexInsertFailureIsFatal(t *testing.T) {
	gw := treeGateway(3, 0)
	gw.failInsert = true
	e := NewEnqueuer(gw, &fakeMembership{member: true}, nil)

	_, err := e.Reindex(context.Background(), "ws-1", "u-1", Options{IncludeFiles: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enqueue index jobs")
}

func TestReindexRespectsIncludeFlags(t *testing.T) {
	gw := treeGateway(4, 6)
	e := NewEnqueuer(gw, &fakeMembership{member: true}, nil)

	result, err := e.Reindex(context.Background(), "ws-1", "u-1", Options{IncludeBlocks: true})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Files)
	assert.Equal(t, 6, result.Blocks)

	gw = treeGateway(4, 6)
	e = NewEnqueuer(gw, &fakeMembership{member: true}, nil)
	result, err = e.Reindex(context.Background(), "ws-1", "u-1", Options{IncludeFiles: true})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Files)
	assert.Equal(t, 0, result.Blocks)
}

func TestReindexChunksInQueries(t *testing.T) {
	// 450 tabs in one project forces the block lookup to run in chunks of
	// at most inChunkSize parents.
	tabs := seq("tab", 450)
	blocks := make(map[string][]string, len(tabs))
	for i, tab := range tabs {
		blocks[tab] = []string{fmt.Sprintf("block-%d", i)}
	}
	gw := &fakeGateway{
		projects: []string{"proj-0"},
		tabs:     map[string][]string{"proj-0": tabs},
		blocks:   blocks,
	}
	e := NewEnqueuer(gw, &fakeMembership{member: true}, nil)

	result, err := e.Reindex(context.Background(), "ws-1", "u-1", Options{IncludeBlocks: true})
	require.NoError(t, err)
	assert.Equal(t, 450, result.Blocks)

	// First call: tabs by project (1 parent). Then blocks by tab in
	// chunks: 200, 200, 50.
	assert.Equal(t, []int{1, 200, 200, 50}, gw.inChunks)
}

func TestReindexBatchesJobInserts(t *testing.T) {
	gw := treeGateway(1200, 0)
	e := NewEnqueuer(gw, &fakeMembership{member: true}, nil)

	result, err := e.Reindex(context.Background(), "ws-1", "u-1", Options{IncludeFiles: true})
	require.NoError(t, err)
	assert.Equal(t, 1200, result.Enqueued)

	require.Len(t, gw.inserts, 3)
	assert.Len(t, gw.inserts[0], 500)
	assert.Len(t, gw.inserts[1], 500)
	assert.Len(t, gw.inserts[2], 200)
}
