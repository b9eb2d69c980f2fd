package undo

import (
	"context"
	"fmt"

	"github.com/taskdeck/backend/internal/database"
)

// Action is the kind of reversal a step performs.
type Action string

const (
	// ActionDelete removes rows that a tool call inserted.
	ActionDelete Action = "delete"
	// ActionUpsert restores rows to their pre-mutation state.
	ActionUpsert Action = "upsert"
)

// Step is one declarative, reversible mutation. A tool call that inserts a
// row records a delete step; a tool call that updates or deletes rows
// records an upsert step carrying the prior row images.
type Step struct {
	Table      string                   `json:"table"`
	Action     Action                   `json:"action"`
	IDs        []string                 `json:"ids,omitempty"`
	IDColumn   string                   `json:"idColumn,omitempty"` // defaults to "id"
	Where      map[string]interface{}   `json:"where,omitempty"`
	Rows       []map[string]interface{} `json:"rows,omitempty"`
	OnConflict string                   `json:"onConflict,omitempty"`
}

// Batch is the ordered sequence of steps produced by a single assistant
// turn. Batches are immutable once recorded.
type Batch []Step

// allowedTables is the fixed set of tables eligible for undo. Steps against
// any other table are rejected before touching storage, so a model cannot
// be coaxed into mutating system or internal tables. Checked per step,
// every time.
var allowedTables = map[string]bool{
	"projects":              true,
	"tabs":                  true,
	"blocks":                true,
	"task_items":            true,
	"task_subtasks":         true,
	"task_assignees":        true,
	"task_tag_links":        true,
	"task_comments":         true,
	"tables":                true,
	"table_fields":          true,
	"table_rows":            true,
	"table_comments":        true,
	"timeline_events":       true,
	"timeline_dependencies": true,
	"property_definitions":  true,
	"entity_properties":     true,
	"clients":               true,
	"docs":                  true,
	"files":                 true,
}

// TableAllowed reports whether table is eligible for undo operations.
func TableAllowed(table string) bool {
	return allowedTables[table]
}

// ApplyStep applies one reversal step through the gateway. It returns nil
// on success and a human-readable error otherwise; it never panics, so
// batch processing can always continue past a bad step.
func ApplyStep(ctx context.Context, gw database.Gateway, step Step) error {
	if !TableAllowed(step.Table) {
		return fmt.Errorf("Undo not allowed for table %q", step.Table)
	}

	switch step.Action {
	case ActionDelete:
		if len(step.IDs) == 0 && len(step.Where) == 0 {
			return fmt.Errorf("delete step for table %q has neither ids nor where", step.Table)
		}
		idColumn := step.IDColumn
		if idColumn == "" {
			idColumn = "id"
		}
		// Both filters may combine (AND semantics) when both are given.
		if err := gw.Delete(ctx, step.Table, step.Where, idColumn, step.IDs); err != nil {
			return fmt.Errorf("delete from %q failed: %v", step.Table, err)
		}
		return nil

	case ActionUpsert:
		if len(step.Rows) == 0 {
			// Nothing to restore, trivially successful. No write issued.
			return nil
		}
		if err := gw.Upsert(ctx, step.Table, step.Rows, step.OnConflict); err != nil {
			return fmt.Errorf("upsert into %q failed: %v", step.Table, err)
		}
		return nil

	default:
		return fmt.Errorf("unknown undo action %q for table %q", step.Action, step.Table)
	}
}
