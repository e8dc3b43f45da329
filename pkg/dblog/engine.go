// Copyright 2025 Certen Protocol
//
// DBLog translation engine — a pure function turning one entry's ordered
// action list into the ordered SQLite-dialect statements the replay
// target executes. Deterministic by construction: the same action
// sequence always yields byte-identical SQL text, which is what lets a
// replay run twice produce the same rows.

package dblog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/certen/logchain/pkg/dblogcodec"
	"github.com/certen/logchain/pkg/hexcodec"
)

// ErrUnknownAction is returned when an action's Type tag is not one of
// schema/set/delete/migrate. It carries the action's name and dblogindex
// so callers can report exactly which action halted processing.
type ErrUnknownAction struct {
	Name  string
	Index int
}

func (e *ErrUnknownAction) Error() string {
	return fmt.Sprintf("dblog: unknown action %q at dblogindex %d", e.Name, e.Index)
}

// ErrInvalidMigration is returned when a migrate action's operation kind
// is not one of the four known migration steps.
var ErrInvalidMigration = errors.New("dblog: invalid migration operation")

// Statement is one generated SQL statement with its bound parameters.
// Text uses `?` placeholders exclusively; Args supplies the bound values
// in positional order. LiteralText additionally renders the same
// statement with values inlined as SQL literals, for diagnostics only —
// it is never executed.
type Statement struct {
	Text        string
	Args        []any
	LiteralText string
}

// SchemaVersions reports the currently-applied migration version for each
// table the engine needs to consult while translating Migrate actions. A
// table absent from the map is treated as version 0.
type SchemaVersions map[string]int

// Translate converts one entry's ordered actions into the ordered SQL
// statements to execute inside that entry's transaction, plus the new
// schema versions any Migrate actions advance. Actions are translated in
// ascending DBLogIndex order; callers are expected to have sorted or
// produced them that way (the wire codec preserves array order).
func Translate(actions []dblogcodec.Action, versions SchemaVersions) ([]Statement, SchemaVersions, error) {
	if versions == nil {
		versions = SchemaVersions{}
	}
	next := make(SchemaVersions, len(versions))
	for k, v := range versions {
		next[k] = v
	}

	var statements []Statement
	for _, action := range actions {
		switch action.Type {
		case dblogcodec.ActionTypeSchema:
			statements = append(statements, translateSchema(action.Table, action.Schema))
		case dblogcodec.ActionTypeSet:
			stmt, err := translateSet(action.Table, action.Set)
			if err != nil {
				return nil, nil, err
			}
			statements = append(statements, stmt)
		case dblogcodec.ActionTypeDelete:
			statements = append(statements, translateDelete(action.Table, action.Delete))
		case dblogcodec.ActionTypeMigrate:
			migStatements, newVersion, err := translateMigrate(action.Table, action.Migrate, next[action.Table])
			if err != nil {
				return nil, nil, err
			}
			if len(migStatements) > 0 {
				statements = append(statements, migStatements...)
				next[action.Table] = newVersion
			}
		default:
			return nil, nil, &ErrUnknownAction{Name: string(action.Type), Index: action.DBLogIndex}
		}
	}
	return statements, next, nil
}

// sortedColumnNames returns names sorted with "id" first, then
// alphabetical, so generated SQL is deterministic across replays.
func sortedColumnNames(names []string) []string {
	out := make([]string, len(names))
	copy(out, names)
	sort.Slice(out, func(i, j int) bool {
		if out[i] == "id" {
			return out[j] != "id"
		}
		if out[j] == "id" {
			return false
		}
		return out[i] < out[j]
	})
	return out
}

func translateSchema(table string, s *dblogcodec.SchemaAction) Statement {
	byName := make(map[string]string, len(s.Columns))
	names := make([]string, 0, len(s.Columns)+1)
	hasID := false
	for _, c := range s.Columns {
		byName[c.Name] = c.Type
		if c.Name == "id" {
			hasID = true
		}
		names = append(names, c.Name)
	}
	if !hasID {
		names = append(names, "id")
		byName["id"] = "TEXT PRIMARY KEY"
	}
	ordered := sortedColumnNames(names)

	cols := make([]string, len(ordered))
	for i, name := range ordered {
		cols[i] = fmt.Sprintf("%s %s", quoteIdent(name), byName[name])
	}

	text := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(table), strings.Join(cols, ", "))
	return Statement{Text: text, LiteralText: text}
}

func translateSet(table string, s *dblogcodec.SetAction) (Statement, error) {
	byName := make(map[string]json.RawMessage, len(s.Data))
	names := make([]string, 0, len(s.Data)+1)
	for _, fv := range s.Data {
		byName[fv.Column] = fv.Value
		names = append(names, fv.Column)
	}
	names = append(names, "id")
	ordered := sortedColumnNames(dedupe(names))

	cols := make([]string, len(ordered))
	placeholders := make([]string, len(ordered))
	args := make([]any, len(ordered))
	literalArgs := make([]string, len(ordered))
	for i, name := range ordered {
		cols[i] = quoteIdent(name)
		placeholders[i] = "?"
		if name == "id" {
			args[i] = s.ID
			literalArgs[i] = sqlStringLiteral(s.ID)
			continue
		}
		value, err := dblogValueToSQL(byName[name])
		if err != nil {
			return Statement{}, fmt.Errorf("dblog: set %s.%s: %w", table, name, err)
		}
		args[i] = value
		literalArgs[i] = sqlLiteralFor(value)
	}

	text := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	literal := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(cols, ", "), strings.Join(literalArgs, ", "))
	return Statement{Text: text, Args: args, LiteralText: literal}, nil
}

func translateDelete(table string, d *dblogcodec.DeleteAction) Statement {
	text := fmt.Sprintf("DELETE FROM %s WHERE id = ?", quoteIdent(table))
	literal := fmt.Sprintf("DELETE FROM %s WHERE id = %s", quoteIdent(table), sqlStringLiteral(d.ID))
	return Statement{Text: text, Args: []any{d.ID}, LiteralText: literal}
}

func translateMigrate(table string, m *dblogcodec.MigrateAction, currentVersion int) ([]Statement, int, error) {
	if currentVersion >= m.Migration.Version {
		return nil, currentVersion, nil
	}

	var statements []Statement
	for _, op := range m.Migration.Operations {
		stmt, err := translateMigrationOp(table, op)
		if err != nil {
			return nil, currentVersion, err
		}
		statements = append(statements, stmt)
	}
	return statements, m.Migration.Version, nil
}

func translateMigrationOp(table string, op dblogcodec.MigrationOperation) (Statement, error) {
	switch op.Kind {
	case dblogcodec.MigrationOpAddColumn:
		text := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quoteIdent(table), quoteIdent(op.Column), op.ColumnType)
		return Statement{Text: text, LiteralText: text}, nil
	case dblogcodec.MigrationOpDropColumn:
		text := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", quoteIdent(table), quoteIdent(op.Column))
		return Statement{Text: text, LiteralText: text}, nil
	case dblogcodec.MigrationOpRenameColumn:
		text := fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", quoteIdent(table), quoteIdent(op.Column), quoteIdent(op.NewName))
		return Statement{Text: text, LiteralText: text}, nil
	case dblogcodec.MigrationOpRenameTable:
		text := fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quoteIdent(table), quoteIdent(op.NewName))
		return Statement{Text: text, LiteralText: text}, nil
	default:
		return Statement{}, fmt.Errorf("%w: %q", ErrInvalidMigration, op.Kind)
	}
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// dblogValueToSQL converts one tagged JSON value from a Set action's data
// map into the Go value bound to the statement's placeholder. Arrays and
// objects are stored as their JSON text.
func dblogValueToSQL(raw json.RawMessage) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	switch t := v.(type) {
	case nil, bool, string:
		return t, nil
	case float64:
		if t == float64(int64(t)) {
			return int64(t), nil
		}
		return t, nil
	default:
		// array or object: stored as its original JSON text, unchanged.
		return string(raw), nil
	}
}

func sqlLiteralFor(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if t {
			return "1"
		}
		return "0"
	case int64:
		return fmt.Sprintf("%d", t)
	case float64:
		return fmt.Sprintf("%v", t)
	case string:
		return sqlStringLiteral(t)
	default:
		return sqlStringLiteral(fmt.Sprintf("%v", t))
	}
}

func sqlStringLiteral(s string) string {
	return hexcodec.QuoteSQLString(s)
}

// quoteIdent wraps name in double quotes, escaping embedded double quotes
// by doubling them, per pkg/hexcodec's identifier-quoting convention.
func quoteIdent(name string) string {
	return hexcodec.QuoteIdentifier(name)
}
