package duckdb

import (
	"context"
	"database/sql"

	"github.com/or3/workspacesync/sync"
)

// CursorStore implements sync.CursorStore against device_cursors.
type CursorStore struct {
	db *sql.DB
}

// NewCursorStore builds a CursorStore.
func NewCursorStore(db *sql.DB) *CursorStore { return &CursorStore{db: db} }

func (s *CursorStore) Get(ctx context.Context, workspaceID, deviceID string) (sync.DeviceCursor, bool, error) {
	var c sync.DeviceCursor
	c.WorkspaceID, c.DeviceID = workspaceID, deviceID
	err := s.db.QueryRowContext(ctx,
		`SELECT last_seen_version FROM device_cursors WHERE workspace_id = ? AND device_id = ?`,
		workspaceID, deviceID,
	).Scan(&c.LastSeenVersion)
	if err == sql.ErrNoRows {
		return sync.DeviceCursor{}, false, nil
	}
	if err != nil {
		return sync.DeviceCursor{}, false, err
	}
	return c, true, nil
}

func (s *CursorStore) Put(ctx context.Context, c sync.DeviceCursor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_cursors (workspace_id, device_id, last_seen_version)
		VALUES (?, ?, ?)
		ON CONFLICT (workspace_id, device_id) DO UPDATE SET last_seen_version = EXCLUDED.last_seen_version
	`, c.WorkspaceID, c.DeviceID, c.LastSeenVersion)
	return err
}

func (s *CursorStore) MinVersion(ctx context.Context, workspaceID string) (int64, bool, error) {
	var v sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(last_seen_version) FROM device_cursors WHERE workspace_id = ?`, workspaceID,
	).Scan(&v)
	if err != nil {
		return 0, false, err
	}
	if !v.Valid {
		return 0, false, nil
	}
	return v.Int64, true, nil
}
