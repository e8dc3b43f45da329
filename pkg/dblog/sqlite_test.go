// Copyright 2025 Certen Protocol

package dblog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/certen/logchain/pkg/dblogcodec"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), filepath.Join(dir, "replay.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func setActions(t *testing.T) []dblogcodec.Action {
	t.Helper()
	return []dblogcodec.Action{
		{
			Table:      "t",
			Type:       dblogcodec.ActionTypeSchema,
			DBLogIndex: 0,
			Schema: &dblogcodec.SchemaAction{
				Columns: []dblogcodec.Column{
					{Name: "id", Type: "TEXT PRIMARY KEY"},
					{Name: "v", Type: "TEXT"},
				},
			},
		},
		{
			Table:      "t",
			Type:       dblogcodec.ActionTypeSet,
			DBLogIndex: 1,
			Set:        &dblogcodec.SetAction{ID: "x", Data: []dblogcodec.FieldValue{{Column: "v", Value: rawString("1")}}},
		},
		{
			Table:      "t",
			Type:       dblogcodec.ActionTypeSet,
			DBLogIndex: 2,
			Set:        &dblogcodec.SetAction{ID: "x", Data: []dblogcodec.FieldValue{{Column: "v", Value: rawString("2")}}},
		},
	}
}

// TestApplyEntryIdempotentReplay applies the same action list twice and
// expects exactly one row with v="2" and the cursor at
// last_dblog_index=2.
func TestApplyEntryIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	actions := setActions(t)

	if _, err := store.ApplyEntry(ctx, 0, actions); err != nil {
		t.Fatalf("apply entry (first): %v", err)
	}
	if _, err := store.ApplyEntry(ctx, 0, actions); err != nil {
		t.Fatalf("apply entry (second): %v", err)
	}

	var count int
	if err := store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM "t"`).Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}

	var v string
	if err := store.db.QueryRowContext(ctx, `SELECT v FROM "t" WHERE id = ?`, "x").Scan(&v); err != nil {
		t.Fatalf("select v: %v", err)
	}
	if v != "2" {
		t.Fatalf("expected v=2, got %s", v)
	}

	cursor, err := store.LoadCursor(ctx)
	if err != nil {
		t.Fatalf("load cursor: %v", err)
	}
	if cursor.LastChainIndex != 0 || cursor.LastDBLogIndex != 2 {
		t.Fatalf("unexpected cursor: %+v", cursor)
	}
}

// TestApplyEntryMigrationGate applies the same migration twice; the
// ALTER must only run once.
func TestApplyEntryMigrationGate(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if _, err := store.ApplyEntry(ctx, 0, setActions(t)); err != nil {
		t.Fatalf("seed entry: %v", err)
	}

	migrate := []dblogcodec.Action{{
		Table:      "t",
		Type:       dblogcodec.ActionTypeMigrate,
		DBLogIndex: 3,
		Migrate: &dblogcodec.MigrateAction{
			Migration: dblogcodec.Migration{
				Version: 1,
				Operations: []dblogcodec.MigrationOperation{
					{Kind: dblogcodec.MigrationOpAddColumn, Column: "w", ColumnType: "INTEGER"},
				},
			},
		},
	}}

	if _, err := store.ApplyEntry(ctx, 1, migrate); err != nil {
		t.Fatalf("apply migration (first): %v", err)
	}
	// Reapplying must not error even though the column already exists,
	// because schemaVersion(t) now gates the ALTER out entirely.
	if _, err := store.ApplyEntry(ctx, 2, migrate); err != nil {
		t.Fatalf("apply migration (second): %v", err)
	}

	versions, err := store.SchemaVersions(ctx)
	if err != nil {
		t.Fatalf("schema versions: %v", err)
	}
	if versions["t"] != 1 {
		t.Fatalf("expected schemaVersion(t)=1, got %d", versions["t"])
	}
}

// TestApplyEntryUnknownActionDoesNotAdvanceCursor asserts an unknown
// action type halts the entry without touching the cursor.
func TestApplyEntryUnknownActionDoesNotAdvanceCursor(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	bad := []dblogcodec.Action{{Table: "t", Type: "bogus", DBLogIndex: 0}}
	// bogus isn't a valid Action per Validate, but Translate is exercised
	// directly by ApplyEntry and must still reject it the same way.
	if _, err := store.ApplyEntry(ctx, 0, bad); err == nil {
		t.Fatal("expected error for unknown action type")
	}

	cursor, err := store.LoadCursor(ctx)
	if err != nil {
		t.Fatalf("load cursor: %v", err)
	}
	if cursor.LastChainIndex != -1 || cursor.LastDBLogIndex != -1 {
		t.Fatalf("expected untouched cursor, got %+v", cursor)
	}
}
