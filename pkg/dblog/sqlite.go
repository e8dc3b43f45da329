// Copyright 2025 Certen Protocol
//
// SQLite replay target — opens a database/sql handle against
// modernc.org/sqlite (pure Go, no cgo), creates the reserved bookkeeping
// tables on first open, and applies each entry's translated statements
// inside a single transaction that also advances the replay cursor.

package dblog

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"

	_ "modernc.org/sqlite"

	"github.com/certen/logchain/pkg/dblogcodec"
)

const (
	metaTable    = `"_dblog_meta"`
	versionTable = `"_dblog_schema_versions"`

	metaKeyLastChainIndex = "last_chain_index"
	metaKeyLastDBLogIndex = "last_dblog_index"
)

// Store is the durable replay target: a SQLite database plus the
// bookkeeping rows tracking how far replay has progressed.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// Open opens (creating if absent) a SQLite database at path and ensures
// the reserved bookkeeping tables exist.
func Open(ctx context.Context, path string) (*Store, error) {
	return OpenWithLogger(ctx, path, log.New(log.Writer(), "[dblog] ", log.LstdFlags))
}

// OpenWithLogger is Open with an explicit logger, for callers that want a
// shared *log.Logger across subsystems.
func OpenWithLogger(ctx context.Context, path string, logger *log.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dblog: open %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("dblog: ping %s: %w", path, err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.ensureBookkeeping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureBookkeeping(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + metaTable + ` (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS ` + versionTable + ` (table_name TEXT PRIMARY KEY, version INTEGER NOT NULL DEFAULT 0)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("dblog: bookkeeping: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for direct diagnostic queries. The
// replay path itself never needs it outside ApplyEntry.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Cursor is the durable "last processed" marker: the highest chain index
// fully applied, and the highest dblogindex within that entry.
type Cursor struct {
	LastChainIndex int
	LastDBLogIndex int
}

// LoadCursor reads the persisted replay cursor, defaulting to
// {-1, -1} (nothing processed yet) when no rows exist.
func (s *Store) LoadCursor(ctx context.Context) (Cursor, error) {
	cursor := Cursor{LastChainIndex: -1, LastDBLogIndex: -1}
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM `+metaTable+` WHERE key IN (?, ?)`,
		metaKeyLastChainIndex, metaKeyLastDBLogIndex)
	if err != nil {
		return cursor, fmt.Errorf("dblog: load cursor: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return cursor, fmt.Errorf("dblog: load cursor: scan: %w", err)
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return cursor, fmt.Errorf("dblog: load cursor: parse %s: %w", key, err)
		}
		switch key {
		case metaKeyLastChainIndex:
			cursor.LastChainIndex = n
		case metaKeyLastDBLogIndex:
			cursor.LastDBLogIndex = n
		}
	}
	return cursor, rows.Err()
}

// SchemaVersions loads every table's currently-applied migration version.
func (s *Store) SchemaVersions(ctx context.Context) (SchemaVersions, error) {
	versions := SchemaVersions{}
	rows, err := s.db.QueryContext(ctx, `SELECT table_name, version FROM `+versionTable)
	if err != nil {
		return nil, fmt.Errorf("dblog: load schema versions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var table string
		var version int
		if err := rows.Scan(&table, &version); err != nil {
			return nil, fmt.Errorf("dblog: load schema versions: scan: %w", err)
		}
		versions[table] = version
	}
	return versions, rows.Err()
}

// ApplyEntry translates one entry's actions and applies the resulting
// statements, the schema-version updates, and the advanced cursor inside
// a single transaction. Either everything persists or nothing does: a
// translation or execution failure rolls back the whole entry and leaves
// the cursor unchanged, so the entry is retried on the next sync.
func (s *Store) ApplyEntry(ctx context.Context, chainIndex int, actions []dblogcodec.Action) ([]string, error) {
	versions, err := s.SchemaVersions(ctx)
	if err != nil {
		return nil, err
	}

	statements, newVersions, err := Translate(actions, versions)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("dblog: apply entry %d: begin tx: %w", chainIndex, err)
	}
	defer tx.Rollback()

	affected := map[string]bool{}
	for _, action := range actions {
		affected[action.Table] = true
	}

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt.Text, stmt.Args...); err != nil {
			return nil, fmt.Errorf("dblog: apply entry %d: exec %q: %w", chainIndex, stmt.Text, err)
		}
	}

	for table, version := range newVersions {
		if versions[table] == version {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO `+versionTable+` (table_name, version) VALUES (?, ?)
			 ON CONFLICT(table_name) DO UPDATE SET version = excluded.version`,
			table, version); err != nil {
			return nil, fmt.Errorf("dblog: apply entry %d: update schema version for %s: %w", chainIndex, table, err)
		}
	}

	lastDBLogIndex := -1
	for _, action := range actions {
		if action.DBLogIndex > lastDBLogIndex {
			lastDBLogIndex = action.DBLogIndex
		}
	}
	if err := upsertMeta(ctx, tx, metaKeyLastChainIndex, strconv.Itoa(chainIndex)); err != nil {
		return nil, fmt.Errorf("dblog: apply entry %d: %w", chainIndex, err)
	}
	// -1 when the entry carried no actions: the cursor always describes
	// the entry at last_chain_index, never a stale predecessor.
	if err := upsertMeta(ctx, tx, metaKeyLastDBLogIndex, strconv.Itoa(lastDBLogIndex)); err != nil {
		return nil, fmt.Errorf("dblog: apply entry %d: %w", chainIndex, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("dblog: apply entry %d: commit: %w", chainIndex, err)
	}

	tables := make([]string, 0, len(affected))
	for t := range affected {
		tables = append(tables, t)
	}
	s.logger.Printf("applied entry %d: %d statement(s) across %d table(s)", chainIndex, len(statements), len(tables))
	return tables, nil
}

func upsertMeta(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO `+metaTable+` (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}
