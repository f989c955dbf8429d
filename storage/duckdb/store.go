// Package duckdb is the durable storage backend for the sync engine,
// the blob gateway, and workspace membership, built on DuckDB via
// database/sql.
package duckdb

import (
	"context"
	"database/sql"

	_ "github.com/duckdb/duckdb-go/v2"
)

// Open opens (and, for a file path, creates) a DuckDB database.
func Open(path string) (*sql.DB, error) {
	return sql.Open("duckdb", path)
}

// Store wraps a *sql.DB and owns schema migrations. Per-concern stores
// (RowStore, TombstoneStore, ...) are built from the same *sql.DB via
// their own constructors.
type Store struct {
	db *sql.DB
}

// New wraps an already-open database handle.
func New(db *sql.DB) (*Store, error) {
	return &Store{db: db}, nil
}

// DB returns the underlying database handle, for building per-concern
// stores or running ad-hoc queries.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS rows (
		workspace_id TEXT NOT NULL,
		table_name   TEXT NOT NULL,
		pk           TEXT NOT NULL,
		data         TEXT NOT NULL,
		clock        BIGINT NOT NULL,
		hlc          TEXT NOT NULL,
		server_version BIGINT NOT NULL,
		deleted      BOOLEAN NOT NULL DEFAULT FALSE,
		deleted_at   TIMESTAMP,
		created_at   TIMESTAMP NOT NULL,
		updated_at   TIMESTAMP NOT NULL,
		PRIMARY KEY (workspace_id, table_name, pk)
	)`,
	`CREATE TABLE IF NOT EXISTS tombstones (
		workspace_id TEXT NOT NULL,
		table_name   TEXT NOT NULL,
		pk           TEXT NOT NULL,
		clock        BIGINT NOT NULL,
		hlc          TEXT NOT NULL,
		server_version BIGINT NOT NULL,
		deleted_at   TIMESTAMP NOT NULL,
		PRIMARY KEY (workspace_id, table_name, pk)
	)`,
	`CREATE TABLE IF NOT EXISTS device_cursors (
		workspace_id TEXT NOT NULL,
		device_id    TEXT NOT NULL,
		last_seen_version BIGINT NOT NULL,
		PRIMARY KEY (workspace_id, device_id)
	)`,
	`CREATE TABLE IF NOT EXISTS change_log (
		workspace_id   TEXT NOT NULL,
		server_version BIGINT NOT NULL,
		table_name     TEXT NOT NULL,
		pk             TEXT NOT NULL,
		deleted        BOOLEAN NOT NULL,
		data           TEXT,
		hlc            TEXT NOT NULL,
		clock          BIGINT NOT NULL,
		op_id          TEXT NOT NULL,
		created_at     TIMESTAMP NOT NULL,
		PRIMARY KEY (workspace_id, server_version)
	)`,
	`CREATE TABLE IF NOT EXISTS workspaces (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS server_versions (
		workspace_id TEXT PRIMARY KEY,
		head         BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS op_ids (
		workspace_id TEXT NOT NULL,
		op_id        TEXT NOT NULL,
		outcome      TEXT NOT NULL,
		PRIMARY KEY (workspace_id, op_id)
	)`,
	`CREATE TABLE IF NOT EXISTS file_meta (
		workspace_id TEXT NOT NULL,
		hash         TEXT NOT NULL,
		storage_id   TEXT NOT NULL,
		provider_id  TEXT NOT NULL,
		mime_type    TEXT NOT NULL,
		size_bytes   BIGINT NOT NULL,
		name         TEXT NOT NULL,
		kind         TEXT NOT NULL,
		width        INTEGER NOT NULL DEFAULT 0,
		height       INTEGER NOT NULL DEFAULT 0,
		page_count   INTEGER NOT NULL DEFAULT 0,
		ref_count    INTEGER NOT NULL DEFAULT 0,
		deleted      BOOLEAN NOT NULL DEFAULT FALSE,
		deleted_at   TIMESTAMP,
		PRIMARY KEY (workspace_id, hash)
	)`,
	`CREATE TABLE IF NOT EXISTS memberships (
		workspace_id TEXT NOT NULL,
		user_id      TEXT NOT NULL,
		role         TEXT NOT NULL,
		PRIMARY KEY (workspace_id, user_id)
	)`,
}

// Ensure runs the schema migrations. It is idempotent: re-running it
// against an already-migrated database is a no-op.
func (s *Store) Ensure(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
