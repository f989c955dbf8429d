package duckdb

import (
	"context"
	"database/sql"
	"time"

	"github.com/or3/workspacesync/sync"
)

// TombstoneStore implements sync.TombstoneStore against the
// tombstones table.
type TombstoneStore struct {
	db *sql.DB
}

// NewTombstoneStore builds a TombstoneStore.
func NewTombstoneStore(db *sql.DB) *TombstoneStore { return &TombstoneStore{db: db} }

func (s *TombstoneStore) Get(ctx context.Context, workspaceID, table, pk string) (sync.Tombstone, bool, error) {
	var ts sync.Tombstone
	ts.WorkspaceID, ts.Table, ts.PK = workspaceID, table, pk
	err := s.db.QueryRowContext(ctx,
		`SELECT clock, hlc, server_version, deleted_at FROM tombstones WHERE workspace_id = ? AND table_name = ? AND pk = ?`,
		workspaceID, table, pk,
	).Scan(&ts.Clock, &ts.HLC, &ts.ServerVersion, &ts.DeletedAt)
	if err == sql.ErrNoRows {
		return sync.Tombstone{}, false, nil
	}
	if err != nil {
		return sync.Tombstone{}, false, err
	}
	return ts, true, nil
}

func (s *TombstoneStore) Put(ctx context.Context, ts sync.Tombstone) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tombstones (workspace_id, table_name, pk, clock, hlc, server_version, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (workspace_id, table_name, pk) DO UPDATE SET
			clock = EXCLUDED.clock, hlc = EXCLUDED.hlc, server_version = EXCLUDED.server_version, deleted_at = EXCLUDED.deleted_at
	`, ts.WorkspaceID, ts.Table, ts.PK, ts.Clock, ts.HLC, ts.ServerVersion, ts.DeletedAt)
	return err
}

func (s *TombstoneStore) DeleteOlderThan(ctx context.Context, workspaceID string, maxVersion int64, cutoff time.Time, limit int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tombstones WHERE (workspace_id, table_name, pk) IN (
			SELECT workspace_id, table_name, pk FROM tombstones
			WHERE workspace_id = ? AND server_version <= ? AND deleted_at <= ?
			LIMIT ?
		)
	`, workspaceID, maxVersion, cutoff, limit)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
