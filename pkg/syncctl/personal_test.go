// Copyright 2025 Certen Protocol

package syncctl

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/certen/logchain/pkg/dblog"
	"github.com/certen/logchain/pkg/dblogcodec"
	"github.com/certen/logchain/pkg/identity"
	"github.com/certen/logchain/pkg/storage"
)

func openTestDBLogStore(t *testing.T) *dblog.Store {
	t.Helper()
	store, err := dblog.Open(context.Background(), filepath.Join(t.TempDir(), "replay.db"))
	if err != nil {
		t.Fatalf("open dblog store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestBackend(t *testing.T) storage.Backend {
	t.Helper()
	return storage.NewCometBFTBackend(dbm.NewMemDB())
}

func rawValue(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal value: %v", err)
	}
	return raw
}

// noteActions declares a "notes" table and upserts one row into it.
func noteActions(t *testing.T, id, text string) []dblogcodec.Action {
	t.Helper()
	return []dblogcodec.Action{
		{
			Table:      "notes",
			Type:       dblogcodec.ActionTypeSchema,
			DBLogIndex: 0,
			Schema: &dblogcodec.SchemaAction{
				Columns: []dblogcodec.Column{
					{Name: "id", Type: "TEXT PRIMARY KEY"},
					{Name: "text", Type: "TEXT"},
				},
			},
		},
		{
			Table:      "notes",
			Type:       dblogcodec.ActionTypeSet,
			DBLogIndex: 1,
			Set: &dblogcodec.SetAction{
				ID:   id,
				Data: []dblogcodec.FieldValue{{Column: "text", Value: rawValue(t, text)}},
			},
		},
	}
}

func queryNote(t *testing.T, store *dblog.Store, id string) (string, bool) {
	t.Helper()
	var text string
	err := store.DB().QueryRow(`SELECT text FROM "notes" WHERE id = ?`, id).Scan(&text)
	if err != nil {
		return "", false
	}
	return text, true
}

// TestPersonalAppendThenFreshSync appends through one controller, then
// has a second device (same owner key, empty local state) sync from the
// shared server and converge on the same head and rows.
func TestPersonalAppendThenFreshSync(t *testing.T) {
	ctx := context.Background()
	server := newFakeServer()
	owner, err := identity.GenerateKey()
	if err != nil {
		t.Fatalf("generate owner key: %v", err)
	}

	deviceA := NewPersonalController(server, openTestDBLogStore(t), newTestBackend(t), "app", owner, nil)
	if err := deviceA.Initialize(ctx); err != nil {
		t.Fatalf("initialize device A: %v", err)
	}
	if _, err := deviceA.Append(ctx, noteActions(t, "n1", "first")); err != nil {
		t.Fatalf("append n1: %v", err)
	}
	if _, err := deviceA.Append(ctx, noteActions(t, "n2", "second")); err != nil {
		t.Fatalf("append n2: %v", err)
	}

	storeB := openTestDBLogStore(t)
	deviceB := NewPersonalController(server, storeB, newTestBackend(t), "app", owner, nil)
	if err := deviceB.Initialize(ctx); err != nil {
		t.Fatalf("initialize device B: %v", err)
	}
	tables, err := deviceB.Sync(ctx)
	if err != nil {
		t.Fatalf("sync device B: %v", err)
	}
	if len(tables) != 1 || tables[0] != "notes" {
		t.Fatalf("expected notes to be the affected table, got %v", tables)
	}

	for id, want := range map[string]string{"n1": "first", "n2": "second"} {
		got, ok := queryNote(t, storeB, id)
		if !ok || got != want {
			t.Fatalf("note %s: got (%q, %v), want %q", id, got, ok, want)
		}
	}

	cursor, err := storeB.LoadCursor(ctx)
	if err != nil {
		t.Fatalf("load cursor: %v", err)
	}
	if cursor.LastChainIndex != 1 {
		t.Fatalf("expected cursor at chain index 1, got %d", cursor.LastChainIndex)
	}
}

// TestPersonalConflictResyncRetry has a stale second device append into
// an index the server already holds; the controller must absorb the
// conflict, resync, and land the entry at the next free index.
func TestPersonalConflictResyncRetry(t *testing.T) {
	ctx := context.Background()
	server := newFakeServer()
	owner, err := identity.GenerateKey()
	if err != nil {
		t.Fatalf("generate owner key: %v", err)
	}

	deviceA := NewPersonalController(server, openTestDBLogStore(t), newTestBackend(t), "app", owner, nil)
	if err := deviceA.Initialize(ctx); err != nil {
		t.Fatalf("initialize device A: %v", err)
	}
	if _, err := deviceA.Append(ctx, noteActions(t, "n1", "from A")); err != nil {
		t.Fatalf("append from A: %v", err)
	}

	storeB := openTestDBLogStore(t)
	deviceB := NewPersonalController(server, storeB, newTestBackend(t), "app", owner, nil)
	if err := deviceB.Initialize(ctx); err != nil {
		t.Fatalf("initialize device B: %v", err)
	}
	head, err := deviceB.Append(ctx, noteActions(t, "n2", "from B"))
	if err != nil {
		t.Fatalf("append from stale B should resync and retry, got: %v", err)
	}
	if head.Index != 1 {
		t.Fatalf("expected B's entry to land at index 1 after retry, got %d", head.Index)
	}

	// The resync pulled A's entry, so B holds both rows.
	for id, want := range map[string]string{"n1": "from A", "n2": "from B"} {
		got, ok := queryNote(t, storeB, id)
		if !ok || got != want {
			t.Fatalf("note %s: got (%q, %v), want %q", id, got, ok, want)
		}
	}
}

// TestPersonalHandlePushEntry applies an in-order pushed entry directly
// and falls back to a full resync when the pushed entry leaves a gap.
func TestPersonalHandlePushEntry(t *testing.T) {
	ctx := context.Background()
	server := newFakeServer()
	owner, err := identity.GenerateKey()
	if err != nil {
		t.Fatalf("generate owner key: %v", err)
	}

	deviceA := NewPersonalController(server, openTestDBLogStore(t), newTestBackend(t), "app", owner, nil)
	if err := deviceA.Initialize(ctx); err != nil {
		t.Fatalf("initialize device A: %v", err)
	}
	if _, err := deviceA.Append(ctx, noteActions(t, "n1", "first")); err != nil {
		t.Fatalf("append n1: %v", err)
	}
	if _, err := deviceA.Append(ctx, noteActions(t, "n2", "second")); err != nil {
		t.Fatalf("append n2: %v", err)
	}

	storeB := openTestDBLogStore(t)
	deviceB := NewPersonalController(server, storeB, newTestBackend(t), "app", owner, nil)
	if err := deviceB.Initialize(ctx); err != nil {
		t.Fatalf("initialize device B: %v", err)
	}

	// Pushing entry 1 to a device still at head -1 is a gap: the
	// controller must resync and apply both entries in order.
	pushed, err := server.Get("app", 1)
	if err != nil {
		t.Fatalf("fetch entry 1: %v", err)
	}
	if _, err := deviceB.HandlePushEntry(ctx, pushed); err != nil {
		t.Fatalf("handle pushed entry with gap: %v", err)
	}
	if _, ok := queryNote(t, storeB, "n1"); !ok {
		t.Fatalf("gap-triggered resync should have applied entry 0")
	}
	if _, ok := queryNote(t, storeB, "n2"); !ok {
		t.Fatalf("gap-triggered resync should have applied entry 1")
	}

	// A third append pushed in order applies directly.
	if _, err := deviceA.Append(ctx, noteActions(t, "n3", "third")); err != nil {
		t.Fatalf("append n3: %v", err)
	}
	pushed, err = server.Get("app", 2)
	if err != nil {
		t.Fatalf("fetch entry 2: %v", err)
	}
	if _, err := deviceB.HandlePushEntry(ctx, pushed); err != nil {
		t.Fatalf("handle in-order pushed entry: %v", err)
	}
	if got, ok := queryNote(t, storeB, "n3"); !ok || got != "third" {
		t.Fatalf("pushed entry not applied: got (%q, %v)", got, ok)
	}
}
