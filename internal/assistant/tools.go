package assistant

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/taskdeck/backend/internal/database"
	"github.com/taskdeck/backend/internal/undo"
)

// ============================================================================
// TOOL SET
//
// Each tool the model may call maps 1:1 to a row mutation through the data
// gateway. A tool validates its arguments, performs the mutation, and
// returns the reversal steps that undo exactly what it did. The set is
// closed: tool names outside this table are rejected.
// ============================================================================

// Context carries the workspace/user scope of one assistant turn.
type Context struct {
	WorkspaceID      string `json:"workspaceId"`
	WorkspaceName    string `json:"workspaceName"`
	UserID           string `json:"userId"`
	UserName         string `json:"userName"`
	CurrentProjectID string `json:"currentProjectId,omitempty"`
	CurrentTabID     string `json:"currentTabId,omitempty"`
}

// ToolCallResult is the observational record of one tool invocation,
// independent of undo.
type ToolCallResult struct {
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments"`
	Result    ToolOutcome            `json:"result"`
}

// ToolOutcome is the success/data/error triple for one invocation.
type ToolOutcome struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// toolFunc performs the mutation and returns result data plus the reversal
// steps for the turn's undo batch.
type toolFunc func(ctx context.Context, gw database.Gateway, actx Context, args map[string]interface{}) (interface{}, []undo.Step, error)

type toolSpec struct {
	name        string
	description string
	parameters  map[string]interface{}
	run         toolFunc
}

// objectSchema builds a JSON-schema object with the given properties and
// required field names.
func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func strProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func intProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": desc}
}

var toolTable = []toolSpec{
	{
		name:        "create_task",
		description: "Create a new task in a project",
		parameters: objectSchema(map[string]interface{}{
			"projectId": strProp("Project to create the task in; defaults to the current project"),
			"title":     strProp("Task title"),
			"status":    strProp("Task status, e.g. todo, in_progress, done"),
			"priority":  strProp("Task priority, e.g. low, medium, high"),
			"dueDate":   strProp("Due date in YYYY-MM-DD format"),
		}, "title"),
		run: runCreateTask,
	},
	{
		name:        "update_task",
		description: "Update fields of an existing task",
		parameters: objectSchema(map[string]interface{}{
			"taskId":   strProp("Task to update"),
			"title":    strProp("New title"),
			"status":   strProp("New status"),
			"priority": strProp("New priority"),
			"dueDate":  strProp("New due date in YYYY-MM-DD format"),
		}, "taskId"),
		run: runUpdateTask,
	},
	{
		name:        "delete_task",
		description: "Delete a task",
		parameters: objectSchema(map[string]interface{}{
			"taskId": strProp("Task to delete"),
		}, "taskId"),
		run: runDeleteTask,
	},
	{
		name:        "create_project",
		description: "Create a new project in the workspace",
		parameters: objectSchema(map[string]interface{}{
			"name":        strProp("Project name"),
			"description": strProp("Project description"),
		}, "name"),
		run: runCreateProject,
	},
	{
		name:        "update_project",
		description: "Rename a project or change its description",
		parameters: objectSchema(map[string]interface{}{
			"projectId":   strProp("Project to update"),
			"name":        strProp("New name"),
			"description": strProp("New description"),
		}, "projectId"),
		run: runUpdateProject,
	},
	{
		name:        "create_tab",
		description: "Create a new tab (view) in a project",
		parameters: objectSchema(map[string]interface{}{
			"projectId": strProp("Project to add the tab to; defaults to the current project"),
			"name":      strProp("Tab name"),
			"tabType":   strProp("Tab type: board, table, timeline or doc"),
			"position":  intProp("Ordering position within the project"),
		}, "name"),
		run: runCreateTab,
	},
	{
		name:        "create_block",
		description: "Create a content block inside a tab",
		parameters: objectSchema(map[string]interface{}{
			"tabId":     strProp("Tab to add the block to; defaults to the current tab"),
			"blockType": strProp("Block type, e.g. text, heading, task_list"),
			"content":   map[string]interface{}{"type": "object", "description": "Block content payload"},
			"position":  intProp("Ordering position within the tab"),
		}, "blockType"),
		run: runCreateBlock,
	},
	{
		name:        "update_block",
		description: "Update a block's content or type",
		parameters: objectSchema(map[string]interface{}{
			"blockId":   strProp("Block to update"),
			"blockType": strProp("New block type"),
			"content":   map[string]interface{}{"type": "object", "description": "New content payload"},
		}, "blockId"),
		run: runUpdateBlock,
	},
	{
		name:        "move_block",
		description: "Move a block to a new position, optionally into another tab",
		parameters: objectSchema(map[string]interface{}{
			"blockId":  strProp("Block to move"),
			"tabId":    strProp("Destination tab; omit to keep the current tab"),
			"position": intProp("New ordering position"),
		}, "blockId", "position"),
		run: runMoveBlock,
	},
	{
		name:        "delete_block",
		description: "Delete a block",
		parameters: objectSchema(map[string]interface{}{
			"blockId": strProp("Block to delete"),
		}, "blockId"),
		run: runDeleteBlock,
	},
	{
		name:        "set_property",
		description: "Set a custom property value on a task, project or doc",
		parameters: objectSchema(map[string]interface{}{
			"entityId":   strProp("Entity to set the property on"),
			"propertyId": strProp("Property definition id"),
			"value":      strProp("Property value"),
		}, "entityId", "propertyId", "value"),
		run: runSetProperty,
	},
}

// toolSchema returns the tool definitions sent to the model with every
// completion request.
func toolSchema() []ToolDefinition {
	defs := make([]ToolDefinition, len(toolTable))
	for i, t := range toolTable {
		defs[i] = ToolDefinition{
			Type: "function",
			Function: ToolDefFunction{
				Name:        t.name,
				Description: t.description,
				Parameters:  t.parameters,
			},
		}
	}
	return defs
}

// lookupTool finds a tool by name, or nil.
func lookupTool(name string) *toolSpec {
	for i := range toolTable {
		if toolTable[i].name == name {
			return &toolTable[i]
		}
	}
	return nil
}

// ============================================================================
// ARGUMENT HELPERS
// ============================================================================

// stringArg extracts an optional string argument.
func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// requireString extracts a mandatory non-empty string argument.
func requireString(args map[string]interface{}, key string) (string, error) {
	s := stringArg(args, key)
	if s == "" {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	return s, nil
}

// intArg extracts an integer argument; JSON numbers arrive as float64.
func intArg(args map[string]interface{}, key string, defaultVal int) int {
	switch n := args[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return defaultVal
}

// mapArg extracts an object argument.
func mapArg(args map[string]interface{}, key string) map[string]interface{} {
	if m, ok := args[key].(map[string]interface{}); ok {
		return m
	}
	return nil
}

// ============================================================================
// TOOL IMPLEMENTATIONS
// ============================================================================

// priorRows snapshots the current row images matching where, for use in an
// upsert reversal step.
func priorRows(ctx context.Context, gw database.Gateway, table string, where map[string]interface{}) ([]map[string]interface{}, error) {
	var rows []map[string]interface{}
	if err := gw.SelectRows(ctx, table, where, 0, 0, &rows); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", table, err)
	}
	return rows, nil
}

// restoreStep builds the upsert step that puts prior row images back.
func restoreStep(table string, rows []map[string]interface{}) undo.Step {
	return undo.Step{
		Table:      table,
		Action:     undo.ActionUpsert,
		Rows:       rows,
		OnConflict: "id",
	}
}

// removeStep builds the delete step that removes a freshly inserted row.
func removeStep(table, id string) undo.Step {
	return undo.Step{
		Table:  table,
		Action: undo.ActionDelete,
		IDs:    []string{id},
	}
}

func runCreateTask(ctx context.Context, gw database.Gateway, actx Context, args map[string]interface{}) (interface{}, []undo.Step, error) {
	title, err := requireString(args, "title")
	if err != nil {
		return nil, nil, err
	}
	projectID := stringArg(args, "projectId")
	if projectID == "" {
		projectID = actx.CurrentProjectID
	}
	if projectID == "" {
		return nil, nil, fmt.Errorf("no project specified and no current project")
	}

	status := stringArg(args, "status")
	if status == "" {
		status = "todo"
	}
	row := map[string]interface{}{
		"id":           uuid.NewString(),
		"workspace_id": actx.WorkspaceID,
		"project_id":   projectID,
		"title":        title,
		"status":       status,
		"created_by":   actx.UserID,
	}
	if p := stringArg(args, "priority"); p != "" {
		row["priority"] = p
	}
	if d := stringArg(args, "dueDate"); d != "" {
		row["due_date"] = d
	}
	if err := gw.Insert(ctx, "task_items", []map[string]interface{}{row}); err != nil {
		return nil, nil, fmt.Errorf("create task: %w", err)
	}
	return row, []undo.Step{removeStep("task_items", row["id"].(string))}, nil
}

func runUpdateTask(ctx context.Context, gw database.Gateway, actx Context, args map[string]interface{}) (interface{}, []undo.Step, error) {
	taskID, err := requireString(args, "taskId")
	if err != nil {
		return nil, nil, err
	}
	values := map[string]interface{}{}
	for argKey, col := range map[string]string{"title": "title", "status": "status", "priority": "priority", "dueDate": "due_date"} {
		if v := stringArg(args, argKey); v != "" {
			values[col] = v
		}
	}
	if len(values) == 0 {
		return nil, nil, fmt.Errorf("no fields to update")
	}

	where := map[string]interface{}{"id": taskID, "workspace_id": actx.WorkspaceID}
	prior, err := priorRows(ctx, gw, "task_items", where)
	if err != nil {
		return nil, nil, err
	}
	if len(prior) == 0 {
		return nil, nil, fmt.Errorf("task %s not found", taskID)
	}
	if err := gw.Update(ctx, "task_items", where, values); err != nil {
		return nil, nil, fmt.Errorf("update task: %w", err)
	}
	return map[string]interface{}{"id": taskID, "updated": values}, []undo.Step{restoreStep("task_items", prior)}, nil
}

func runDeleteTask(ctx context.Context, gw database.Gateway, actx Context, args map[string]interface{}) (interface{}, []undo.Step, error) {
	taskID, err := requireString(args, "taskId")
	if err != nil {
		return nil, nil, err
	}
	where := map[string]interface{}{"id": taskID, "workspace_id": actx.WorkspaceID}
	prior, err := priorRows(ctx, gw, "task_items", where)
	if err != nil {
		return nil, nil, err
	}
	if len(prior) == 0 {
		return nil, nil, fmt.Errorf("task %s not found", taskID)
	}
	if err := gw.Delete(ctx, "task_items", where, "", nil); err != nil {
		return nil, nil, fmt.Errorf("delete task: %w", err)
	}
	return map[string]interface{}{"id": taskID, "deleted": true}, []undo.Step{restoreStep("task_items", prior)}, nil
}

func runCreateProject(ctx context.Context, gw database.Gateway, actx Context, args map[string]interface{}) (interface{}, []undo.Step, error) {
	name, err := requireString(args, "name")
	if err != nil {
		return nil, nil, err
	}
	row := map[string]interface{}{
		"id":           uuid.NewString(),
		"workspace_id": actx.WorkspaceID,
		"name":         name,
	}
	if d := stringArg(args, "description"); d != "" {
		row["description"] = d
	}
	if err := gw.Insert(ctx, "projects", []map[string]interface{}{row}); err != nil {
		return nil, nil, fmt.Errorf("create project: %w", err)
	}
	return row, []undo.Step{removeStep("projects", row["id"].(string))}, nil
}

func runUpdateProject(ctx context.Context, gw database.Gateway, actx Context, args map[string]interface{}) (interface{}, []undo.Step, error) {
	projectID, err := requireString(args, "projectId")
	if err != nil {
		return nil, nil, err
	}
	values := map[string]interface{}{}
	if v := stringArg(args, "name"); v != "" {
		values["name"] = v
	}
	if v := stringArg(args, "description"); v != "" {
		values["description"] = v
	}
	if len(values) == 0 {
		return nil, nil, fmt.Errorf("no fields to update")
	}

	where := map[string]interface{}{"id": projectID, "workspace_id": actx.WorkspaceID}
	prior, err := priorRows(ctx, gw, "projects", where)
	if err != nil {
		return nil, nil, err
	}
	if len(prior) == 0 {
		return nil, nil, fmt.Errorf("project %s not found", projectID)
	}
	if err := gw.Update(ctx, "projects", where, values); err != nil {
		return nil, nil, fmt.Errorf("update project: %w", err)
	}
	return map[string]interface{}{"id": projectID, "updated": values}, []undo.Step{restoreStep("projects", prior)}, nil
}

func runCreateTab(ctx context.Context, gw database.Gateway, actx Context, args map[string]interface{}) (interface{}, []undo.Step, error) {
	name, err := requireString(args, "name")
	if err != nil {
		return nil, nil, err
	}
	projectID := stringArg(args, "projectId")
	if projectID == "" {
		projectID = actx.CurrentProjectID
	}
	if projectID == "" {
		return nil, nil, fmt.Errorf("no project specified and no current project")
	}

	tabType := stringArg(args, "tabType")
	if tabType == "" {
		tabType = "board"
	}
	row := map[string]interface{}{
		"id":         uuid.NewString(),
		"project_id": projectID,
		"name":       name,
		"tab_type":   tabType,
		"position":   intArg(args, "position", 0),
	}
	if err := gw.Insert(ctx, "tabs", []map[string]interface{}{row}); err != nil {
		return nil, nil, fmt.Errorf("create tab: %w", err)
	}
	return row, []undo.Step{removeStep("tabs", row["id"].(string))}, nil
}

func runCreateBlock(ctx context.Context, gw database.Gateway, actx Context, args map[string]interface{}) (interface{}, []undo.Step, error) {
	blockType, err := requireString(args, "blockType")
	if err != nil {
		return nil, nil, err
	}
	tabID := stringArg(args, "tabId")
	if tabID == "" {
		tabID = actx.CurrentTabID
	}
	if tabID == "" {
		return nil, nil, fmt.Errorf("no tab specified and no current tab")
	}

	row := map[string]interface{}{
		"id":         uuid.NewString(),
		"tab_id":     tabID,
		"block_type": blockType,
		"position":   intArg(args, "position", 0),
	}
	if content := mapArg(args, "content"); content != nil {
		row["content"] = content
	}
	if err := gw.Insert(ctx, "blocks", []map[string]interface{}{row}); err != nil {
		return nil, nil, fmt.Errorf("create block: %w", err)
	}
	return row, []undo.Step{removeStep("blocks", row["id"].(string))}, nil
}

func runUpdateBlock(ctx context.Context, gw database.Gateway, actx Context, args map[string]interface{}) (interface{}, []undo.Step, error) {
	blockID, err := requireString(args, "blockId")
	if err != nil {
		return nil, nil, err
	}
	values := map[string]interface{}{}
	if v := stringArg(args, "blockType"); v != "" {
		values["block_type"] = v
	}
	if content := mapArg(args, "content"); content != nil {
		values["content"] = content
	}
	if len(values) == 0 {
		return nil, nil, fmt.Errorf("no fields to update")
	}

	where := map[string]interface{}{"id": blockID}
	prior, err := priorRows(ctx, gw, "blocks", where)
	if err != nil {
		return nil, nil, err
	}
	if len(prior) == 0 {
		return nil, nil, fmt.Errorf("block %s not found", blockID)
	}
	if err := gw.Update(ctx, "blocks", where, values); err != nil {
		return nil, nil, fmt.Errorf("update block: %w", err)
	}
	return map[string]interface{}{"id": blockID, "updated": values}, []undo.Step{restoreStep("blocks", prior)}, nil
}

func runMoveBlock(ctx context.Context, gw database.Gateway, actx Context, args map[string]interface{}) (interface{}, []undo.Step, error) {
	blockID, err := requireString(args, "blockId")
	if err != nil {
		return nil, nil, err
	}
	if _, ok := args["position"]; !ok {
		return nil, nil, fmt.Errorf("missing required argument %q", "position")
	}

	values := map[string]interface{}{"position": intArg(args, "position", 0)}
	if tabID := stringArg(args, "tabId"); tabID != "" {
		values["tab_id"] = tabID
	}

	where := map[string]interface{}{"id": blockID}
	prior, err := priorRows(ctx, gw, "blocks", where)
	if err != nil {
		return nil, nil, err
	}
	if len(prior) == 0 {
		return nil, nil, fmt.Errorf("block %s not found", blockID)
	}
	if err := gw.Update(ctx, "blocks", where, values); err != nil {
		return nil, nil, fmt.Errorf("move block: %w", err)
	}
	return map[string]interface{}{"id": blockID, "moved": values}, []undo.Step{restoreStep("blocks", prior)}, nil
}

func runDeleteBlock(ctx context.Context, gw database.Gateway, actx Context, args map[string]interface{}) (interface{}, []undo.Step, error) {
	blockID, err := requireString(args, "blockId")
	if err != nil {
		return nil, nil, err
	}
	where := map[string]interface{}{"id": blockID}
	prior, err := priorRows(ctx, gw, "blocks", where)
	if err != nil {
		return nil, nil, err
	}
	if len(prior) == 0 {
		return nil, nil, fmt.Errorf("block %s not found", blockID)
	}
	if err := gw.Delete(ctx, "blocks", where, "", nil); err != nil {
		return nil, nil, fmt.Errorf("delete block: %w", err)
	}
	return map[string]interface{}{"id": blockID, "deleted": true}, []undo.Step{restoreStep("blocks", prior)}, nil
}

func runSetProperty(ctx context.Context, gw database.Gateway, actx Context, args map[string]interface{}) (interface{}, []undo.Step, error) {
	entityID, err := requireString(args, "entityId")
	if err != nil {
		return nil, nil, err
	}
	propertyID, err := requireString(args, "propertyId")
	if err != nil {
		return nil, nil, err
	}
	value, err := requireString(args, "value")
	if err != nil {
		return nil, nil, err
	}

	where := map[string]interface{}{"entity_id": entityID, "property_id": propertyID}
	prior, err := priorRows(ctx, gw, "entity_properties", where)
	if err != nil {
		return nil, nil, err
	}

	row := map[string]interface{}{
		"entity_id":   entityID,
		"property_id": propertyID,
		"value":       value,
	}
	if err := gw.Upsert(ctx, "entity_properties", []map[string]interface{}{row}, "entity_id,property_id"); err != nil {
		return nil, nil, fmt.Errorf("set property: %w", err)
	}

	var step undo.Step
	if len(prior) > 0 {
		step = undo.Step{
			Table:      "entity_properties",
			Action:     undo.ActionUpsert,
			Rows:       prior,
			OnConflict: "entity_id,property_id",
		}
	} else {
		// No prior value: the reversal removes the fresh row by its
		// composite key.
		step = undo.Step{
			Table:  "entity_properties",
			Action: undo.ActionDelete,
			Where:  where,
		}
	}
	return row, []undo.Step{step}, nil
}
