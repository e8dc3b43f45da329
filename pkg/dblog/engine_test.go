// Copyright 2025 Certen Protocol

package dblog

import (
	"encoding/json"
	"testing"

	"github.com/certen/logchain/pkg/dblogcodec"
)

func rawString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func TestTranslateSchemaOrdersIDFirstThenAlphabetical(t *testing.T) {
	action := dblogcodec.Action{
		Table: "t",
		Type:  dblogcodec.ActionTypeSchema,
		Schema: &dblogcodec.SchemaAction{
			Columns: []dblogcodec.Column{
				{Name: "v", Type: "TEXT"},
				{Name: "id", Type: "TEXT PRIMARY KEY"},
			},
		},
	}
	stmts, _, err := Translate([]dblogcodec.Action{action}, nil)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if len(stmts) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(stmts))
	}
	want := `CREATE TABLE IF NOT EXISTS "t" ("id" TEXT PRIMARY KEY, "v" TEXT)`
	if stmts[0].Text != want {
		t.Fatalf("got %q want %q", stmts[0].Text, want)
	}
}

func TestTranslateSetUpsertIsIdempotent(t *testing.T) {
	// Applying the same Set action through Translate twice must yield
	// byte-identical statements, independent of how many times Translate
	// is called.
	setAction := dblogcodec.Action{
		Table: "t",
		Type:  dblogcodec.ActionTypeSet,
		Set: &dblogcodec.SetAction{
			ID:   "x",
			Data: []dblogcodec.FieldValue{{Column: "v", Value: rawString("2")}},
		},
	}
	stmts1, _, err := Translate([]dblogcodec.Action{setAction}, nil)
	if err != nil {
		t.Fatalf("translate first: %v", err)
	}
	stmts2, _, err := Translate([]dblogcodec.Action{setAction}, nil)
	if err != nil {
		t.Fatalf("translate second: %v", err)
	}
	if stmts1[0].Text != stmts2[0].Text {
		t.Fatalf("non-deterministic SQL: %q vs %q", stmts1[0].Text, stmts2[0].Text)
	}
	want := `INSERT OR REPLACE INTO "t" ("id", "v") VALUES (?, ?)`
	if stmts1[0].Text != want {
		t.Fatalf("got %q want %q", stmts1[0].Text, want)
	}
	if len(stmts1[0].Args) != 2 || stmts1[0].Args[0] != "x" || stmts1[0].Args[1] != "2" {
		t.Fatalf("unexpected args: %#v", stmts1[0].Args)
	}
}

func TestTranslateDelete(t *testing.T) {
	action := dblogcodec.Action{
		Table:  "t",
		Type:   dblogcodec.ActionTypeDelete,
		Delete: &dblogcodec.DeleteAction{ID: "x"},
	}
	stmts, _, err := Translate([]dblogcodec.Action{action}, nil)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	want := `DELETE FROM "t" WHERE id = ?`
	if stmts[0].Text != want {
		t.Fatalf("got %q want %q", stmts[0].Text, want)
	}
}

func TestTranslateMigrateGatedBySchemaVersion(t *testing.T) {
	// A migrate action at version 1 emits one ALTER the first time and
	// is skipped entirely on reapply once schemaVersion reaches 1.
	action := dblogcodec.Action{
		Table: "t",
		Type:  dblogcodec.ActionTypeMigrate,
		Migrate: &dblogcodec.MigrateAction{
			Migration: dblogcodec.Migration{
				Version: 1,
				Operations: []dblogcodec.MigrationOperation{
					{Kind: dblogcodec.MigrationOpAddColumn, Column: "w", ColumnType: "INTEGER"},
				},
			},
		},
	}

	stmts, versions, err := Translate([]dblogcodec.Action{action}, nil)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if len(stmts) != 1 {
		t.Fatalf("expected 1 ALTER statement, got %d", len(stmts))
	}
	want := `ALTER TABLE "t" ADD COLUMN "w" INTEGER`
	if stmts[0].Text != want {
		t.Fatalf("got %q want %q", stmts[0].Text, want)
	}
	if versions["t"] != 1 {
		t.Fatalf("expected schemaVersion(t)=1, got %d", versions["t"])
	}

	// Reapply with versions already at 1: no ALTER emitted.
	stmts2, versions2, err := Translate([]dblogcodec.Action{action}, versions)
	if err != nil {
		t.Fatalf("translate reapply: %v", err)
	}
	if len(stmts2) != 0 {
		t.Fatalf("expected no statements on reapply, got %d", len(stmts2))
	}
	if versions2["t"] != 1 {
		t.Fatalf("expected schemaVersion(t) to remain 1, got %d", versions2["t"])
	}
}

func TestTranslateUnknownActionType(t *testing.T) {
	action := dblogcodec.Action{
		Table:      "t",
		Type:       "bogus",
		DBLogIndex: 7,
	}
	_, _, err := Translate([]dblogcodec.Action{action}, nil)
	var unknown *ErrUnknownAction
	if err == nil {
		t.Fatal("expected error for unknown action type")
	}
	if !asUnknownAction(err, &unknown) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
	if unknown.Index != 7 {
		t.Fatalf("expected index 7, got %d", unknown.Index)
	}
}

func asUnknownAction(err error, target **ErrUnknownAction) bool {
	e, ok := err.(*ErrUnknownAction)
	if !ok {
		return false
	}
	*target = e
	return true
}

func TestTranslateComplexValueStoredAsJSON(t *testing.T) {
	arr, _ := json.Marshal([]int{1, 2, 3})
	action := dblogcodec.Action{
		Table: "t",
		Type:  dblogcodec.ActionTypeSet,
		Set: &dblogcodec.SetAction{
			ID:   "x",
			Data: []dblogcodec.FieldValue{{Column: "arr", Value: arr}},
		},
	}
	stmts, _, err := Translate([]dblogcodec.Action{action}, nil)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if stmts[0].Args[0] != "[1,2,3]" && stmts[0].Args[1] != "[1,2,3]" {
		t.Fatalf("expected array stored as JSON text, got args %#v", stmts[0].Args)
	}
}
