package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/or3/workspacesync/sync"
)

// ChangeLog implements sync.ChangeLog and sync.WorkspaceLister against
// the change_log and server_versions tables.
type ChangeLog struct {
	db *sql.DB
}

// NewChangeLog builds a ChangeLog.
func NewChangeLog(db *sql.DB) *ChangeLog { return &ChangeLog{db: db} }

// AllocateVersions reserves n versions by reading server_versions.head
// (inserting a zero row if the workspace has none) and advancing it by n
// inside one transaction, relying on DuckDB serializing concurrent
// writers to the same row.
func (c *ChangeLog) AllocateVersions(ctx context.Context, workspaceID string, n int) (int64, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var head int64
	err = tx.QueryRowContext(ctx, `SELECT head FROM server_versions WHERE workspace_id = ?`, workspaceID).Scan(&head)
	if err == sql.ErrNoRows {
		head = 0
		if _, err := tx.ExecContext(ctx, `INSERT INTO server_versions (workspace_id, head) VALUES (?, 0)`, workspaceID); err != nil {
			return 0, err
		}
	} else if err != nil {
		return 0, err
	}

	first := head + 1
	if _, err := tx.ExecContext(ctx, `UPDATE server_versions SET head = ? WHERE workspace_id = ?`, head+int64(n), workspaceID); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return first, nil
}

func (c *ChangeLog) Append(ctx context.Context, entry sync.Change) error {
	var dataJSON []byte
	if entry.Data != nil {
		b, err := json.Marshal(entry.Data)
		if err != nil {
			return err
		}
		dataJSON = b
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO change_log (workspace_id, server_version, table_name, pk, deleted, data, hlc, clock, op_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.WorkspaceID, entry.ServerVersion, entry.Table, entry.PK, entry.Deleted, nullableJSON(dataJSON), entry.HLC, entry.Clock, entry.OpID, entry.CreatedAt)
	return err
}

func nullableJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func (c *ChangeLog) CurrentVersion(ctx context.Context, workspaceID string) (int64, error) {
	var v sql.NullInt64
	err := c.db.QueryRowContext(ctx, `SELECT MAX(server_version) FROM change_log WHERE workspace_id = ?`, workspaceID).Scan(&v)
	if err != nil {
		return 0, err
	}
	if !v.Valid {
		return 0, nil
	}
	return v.Int64, nil
}

// OldestVersion implements sync.ChangeLog.
func (c *ChangeLog) OldestVersion(ctx context.Context, workspaceID string) (int64, bool, error) {
	var v sql.NullInt64
	err := c.db.QueryRowContext(ctx, `SELECT MIN(server_version) FROM change_log WHERE workspace_id = ?`, workspaceID).Scan(&v)
	if err != nil {
		return 0, false, err
	}
	if !v.Valid {
		return 0, false, nil
	}
	return v.Int64, true, nil
}

func (c *ChangeLog) Scan(ctx context.Context, workspaceID string, cursor int64, limit int, tables []string) (sync.PullResult, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT server_version, table_name, pk, deleted, data, hlc, clock, op_id
		FROM change_log
		WHERE workspace_id = ? AND server_version > ?
		ORDER BY server_version ASC
		LIMIT ?
	`, workspaceID, cursor, limit+1)
	if err != nil {
		return sync.PullResult{}, err
	}
	defer rows.Close()

	var allowed map[string]bool
	if len(tables) > 0 {
		allowed = make(map[string]bool, len(tables))
		for _, t := range tables {
			allowed[t] = true
		}
	}

	out := make([]sync.Change, 0, limit)
	newCursor := cursor
	hasMore := false
	scanned := 0
	for rows.Next() {
		var (
			e        sync.Change
			dataJSON sql.NullString
		)
		e.WorkspaceID = workspaceID
		if err := rows.Scan(&e.ServerVersion, &e.Table, &e.PK, &e.Deleted, &dataJSON, &e.HLC, &e.Clock, &e.OpID); err != nil {
			return sync.PullResult{}, err
		}
		if scanned >= limit {
			hasMore = true
			break
		}
		scanned++
		newCursor = e.ServerVersion
		if dataJSON.Valid {
			if err := json.Unmarshal([]byte(dataJSON.String), &e.Data); err != nil {
				return sync.PullResult{}, err
			}
		}
		if allowed != nil && !allowed[e.Table] {
			continue
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return sync.PullResult{}, err
	}
	return sync.PullResult{Changes: out, Cursor: newCursor, HasMore: hasMore}, nil
}

func (c *ChangeLog) DeleteThrough(ctx context.Context, workspaceID string, maxVersion int64, cutoff time.Time, limit int) (int, error) {
	res, err := c.db.ExecContext(ctx, `
		DELETE FROM change_log WHERE (workspace_id, server_version) IN (
			SELECT workspace_id, server_version FROM change_log
			WHERE workspace_id = ? AND server_version <= ? AND created_at <= ?
			ORDER BY server_version ASC
			LIMIT ?
		)
	`, workspaceID, maxVersion, cutoff, limit)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ListWorkspaces implements sync.WorkspaceLister.
func (c *ChangeLog) ListWorkspaces(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT workspace_id FROM server_versions ORDER BY workspace_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ws string
		if err := rows.Scan(&ws); err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}
