package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/or3/workspacesync/sync"
)

// RowStore implements sync.Store against the rows table.
type RowStore struct {
	db *sql.DB
}

// NewRowStore builds a RowStore.
func NewRowStore(db *sql.DB) *RowStore { return &RowStore{db: db} }

func (s *RowStore) Get(ctx context.Context, workspaceID, table, pk string) (sync.Row, bool, error) {
	var (
		row       sync.Row
		dataJSON  string
		deletedAt sql.NullTime
	)
	row.WorkspaceID, row.Table, row.PK = workspaceID, table, pk
	err := s.db.QueryRowContext(ctx,
		`SELECT data, clock, hlc, server_version, deleted, deleted_at, created_at, updated_at
		 FROM rows WHERE workspace_id = ? AND table_name = ? AND pk = ?`,
		workspaceID, table, pk,
	).Scan(&dataJSON, &row.Clock, &row.HLC, &row.ServerVersion, &row.Deleted, &deletedAt, &row.CreatedAt, &row.UpdatedAt)
	if err == sql.ErrNoRows {
		return sync.Row{}, false, nil
	}
	if err != nil {
		return sync.Row{}, false, err
	}
	if deletedAt.Valid {
		row.DeletedAt = deletedAt.Time
	}
	if err := json.Unmarshal([]byte(dataJSON), &row.Data); err != nil {
		return sync.Row{}, false, err
	}
	return row, true, nil
}

func (s *RowStore) Put(ctx context.Context, row sync.Row) error {
	dataJSON, err := json.Marshal(row.Data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rows (workspace_id, table_name, pk, data, clock, hlc, server_version, deleted, deleted_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (workspace_id, table_name, pk) DO UPDATE SET
			data = EXCLUDED.data, clock = EXCLUDED.clock, hlc = EXCLUDED.hlc, server_version = EXCLUDED.server_version,
			deleted = EXCLUDED.deleted, deleted_at = EXCLUDED.deleted_at, updated_at = EXCLUDED.updated_at
	`, row.WorkspaceID, row.Table, row.PK, string(dataJSON), row.Clock, row.HLC, row.ServerVersion,
		row.Deleted, nullableTime(row.DeletedAt), row.CreatedAt, row.UpdatedAt)
	return err
}

// Delete patches the row to deleted=true rather than removing it: a
// replicated row's history survives its own tombstone, since a later
// put with a winning clock must still find created_at to preserve.
func (s *RowStore) Delete(ctx context.Context, row sync.Row) error {
	return s.Put(ctx, row)
}

func nullableTime(t interface{ IsZero() bool }) any {
	if t.IsZero() {
		return nil
	}
	return t
}
