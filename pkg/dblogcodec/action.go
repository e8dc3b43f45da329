// Copyright 2025 Certen Protocol
//
// DBLog action codec — the JSON wire shape for the action stream embedded
// in each chain entry's content: schema declarations, row upserts,
// deletes, and migrations, applied by pkg/dblog in dblogindex order.

package dblogcodec

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownActionType is returned when an action's type tag does not
// match one of Schema/Set/Delete/Migrate.
var ErrUnknownActionType = errors.New("dblogcodec: unknown action type")

// ActionType tags which variant of the action union a decoded Action is.
type ActionType string

// The four action variants this system's log content encodes.
const (
	ActionTypeSchema  ActionType = "schema"
	ActionTypeSet     ActionType = "set"
	ActionTypeDelete  ActionType = "delete"
	ActionTypeMigrate ActionType = "migrate"
)

// Column is one ordered (name, SQL type) pair in a Schema action. A slice
// rather than a map preserves column order across the wire, since
// Schema's translation rule depends on a deterministic column ordering.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// SchemaAction declares (or re-declares, idempotently) a table.
type SchemaAction struct {
	Columns []Column `json:"columns"`
}

// FieldValue is one ordered (column, value) pair in a Set action.
type FieldValue struct {
	Column string          `json:"column"`
	Value  json.RawMessage `json:"value"`
}

// SetAction upserts one row, keyed by ID.
type SetAction struct {
	ID   string       `json:"id"`
	Data []FieldValue `json:"data"`
}

// DeleteAction removes one row, keyed by ID.
type DeleteAction struct {
	ID string `json:"id"`
}

// MigrationOpKind tags one step of a Migrate action.
type MigrationOpKind string

// The four migration operation kinds.
const (
	MigrationOpAddColumn    MigrationOpKind = "add_column"
	MigrationOpDropColumn   MigrationOpKind = "drop_column"
	MigrationOpRenameColumn MigrationOpKind = "rename_column"
	MigrationOpRenameTable  MigrationOpKind = "rename_table"
)

// MigrationOperation is one step within a Migrate action.
type MigrationOperation struct {
	Kind MigrationOpKind `json:"kind"`
	// Column is the target column for add/drop/rename_column.
	Column string `json:"column,omitempty"`
	// ColumnType is the SQL type for add_column.
	ColumnType string `json:"columnType,omitempty"`
	// NewName is the new column or table name for rename operations.
	NewName string `json:"newName,omitempty"`
}

// Migration is the version-gated body of a Migrate action.
type Migration struct {
	Version    int                  `json:"version"`
	Operations []MigrationOperation `json:"operations"`
}

// MigrateAction carries a single versioned migration for one table.
type MigrateAction struct {
	Migration Migration `json:"migration"`
}

// Action is one entry in a DBLog action stream, tagged by Type with
// exactly one of Schema/Set/Delete/Migrate populated.
type Action struct {
	V          int        `json:"v"`
	DBLogIndex int        `json:"dblogindex"`
	Table      string     `json:"table"`
	Type       ActionType `json:"type"`

	Schema  *SchemaAction  `json:"schema,omitempty"`
	Set     *SetAction     `json:"set,omitempty"`
	Delete  *DeleteAction  `json:"delete,omitempty"`
	Migrate *MigrateAction `json:"migrate,omitempty"`
}

// Validate reports whether a's Type tag and populated variant agree, and
// that Type is one of the known variants.
func (a *Action) Validate() error {
	switch a.Type {
	case ActionTypeSchema:
		if a.Schema == nil {
			return fmt.Errorf("dblogcodec: action %d: schema type with no schema body", a.DBLogIndex)
		}
	case ActionTypeSet:
		if a.Set == nil {
			return fmt.Errorf("dblogcodec: action %d: set type with no set body", a.DBLogIndex)
		}
	case ActionTypeDelete:
		if a.Delete == nil {
			return fmt.Errorf("dblogcodec: action %d: delete type with no delete body", a.DBLogIndex)
		}
	case ActionTypeMigrate:
		if a.Migrate == nil {
			return fmt.Errorf("dblogcodec: action %d: migrate type with no migrate body", a.DBLogIndex)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownActionType, a.Type)
	}
	return nil
}

// DecodeActions parses an entry's DBLog content as an ordered list of
// actions, validating each one's shape.
func DecodeActions(content []byte) ([]Action, error) {
	var actions []Action
	if err := json.Unmarshal(content, &actions); err != nil {
		return nil, fmt.Errorf("dblogcodec: decode actions: %w", err)
	}
	for i := range actions {
		if err := actions[i].Validate(); err != nil {
			return nil, err
		}
	}
	return actions, nil
}

// EncodeActions serializes actions back into their wire JSON form. An
// empty or nil list encodes as "[]", never JSON null, so the result
// always round-trips through DecodeActions.
func EncodeActions(actions []Action) ([]byte, error) {
	if len(actions) == 0 {
		return []byte("[]"), nil
	}
	out, err := json.Marshal(actions)
	if err != nil {
		return nil, fmt.Errorf("dblogcodec: encode actions: %w", err)
	}
	return out, nil
}
