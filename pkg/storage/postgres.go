// Copyright 2025 Certen Protocol
//
// Postgres backend — an optional relational implementation of Backend
// for deployments that prefer a managed Postgres instance over an
// embedded cometbft-db engine.

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "github.com/lib/pq"
)

const kvTableName = "logchain_kv"

// PostgresBackend implements Backend over a single key/value table in
// Postgres. It is intentionally schema-minimal: pkg/storage's callers
// already encode structure as JSON before calling Set.
type PostgresBackend struct {
	db     *sql.DB
	logger *log.Logger
}

// OpenPostgresBackend opens a connection pool against databaseURL and
// ensures the backing table exists.
func OpenPostgresBackend(ctx context.Context, databaseURL string, maxOpenConns, maxIdleConns int) (*PostgresBackend, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping postgres: %w", err)
	}

	backend := &PostgresBackend{
		db:     db,
		logger: log.New(log.Writer(), "[storage] ", log.LstdFlags),
	}
	if err := backend.ensureTable(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return backend, nil
}

func (b *PostgresBackend) ensureTable(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (key TEXT PRIMARY KEY, value BYTEA NOT NULL)`, kvTableName))
	if err != nil {
		return fmt.Errorf("storage: ensure kv table: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (b *PostgresBackend) Close() error {
	b.logger.Println("closing postgres storage backend")
	return b.db.Close()
}

// Get returns nil, nil on a miss.
func (b *PostgresBackend) Get(key []byte) ([]byte, error) {
	var value []byte
	err := b.db.QueryRow(fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, kvTableName), string(key)).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: postgres get: %w", err)
	}
	return value, nil
}

// Set upserts key/value.
func (b *PostgresBackend) Set(key, value []byte) error {
	_, err := b.db.Exec(fmt.Sprintf(
		`INSERT INTO %s (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, kvTableName),
		string(key), value)
	if err != nil {
		return fmt.Errorf("storage: postgres set: %w", err)
	}
	return nil
}

// Delete removes key, if present.
func (b *PostgresBackend) Delete(key []byte) error {
	_, err := b.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, kvTableName), string(key))
	if err != nil {
		return fmt.Errorf("storage: postgres delete: %w", err)
	}
	return nil
}

// IteratePrefix walks every key beginning with prefix in ascending order.
func (b *PostgresBackend) IteratePrefix(prefix []byte, fn func(key, value []byte) bool) error {
	rows, err := b.db.Query(fmt.Sprintf(
		`SELECT key, value FROM %s WHERE key LIKE $1 ORDER BY key`, kvTableName),
		string(prefix)+"%")
	if err != nil {
		return fmt.Errorf("storage: postgres iterate: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("storage: postgres iterate: scan: %w", err)
		}
		if !fn([]byte(key), value) {
			break
		}
	}
	return rows.Err()
}
