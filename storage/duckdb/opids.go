package duckdb

import (
	"context"
	"database/sql"

	"github.com/or3/workspacesync/sync"
)

// OpIDIndex implements sync.OpIDIndex against the op_ids table.
type OpIDIndex struct {
	db *sql.DB
}

// NewOpIDIndex builds an OpIDIndex.
func NewOpIDIndex(db *sql.DB) *OpIDIndex { return &OpIDIndex{db: db} }

func (o *OpIDIndex) Seen(ctx context.Context, workspaceID, opID string) (sync.OpOutcome, bool, error) {
	var outcome string
	err := o.db.QueryRowContext(ctx, `SELECT outcome FROM op_ids WHERE workspace_id = ? AND op_id = ?`, workspaceID, opID).Scan(&outcome)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return sync.OpOutcome(outcome), true, nil
}

func (o *OpIDIndex) Record(ctx context.Context, workspaceID, opID string, outcome sync.OpOutcome) error {
	_, err := o.db.ExecContext(ctx, `
		INSERT INTO op_ids (workspace_id, op_id, outcome) VALUES (?, ?, ?)
		ON CONFLICT (workspace_id, op_id) DO NOTHING
	`, workspaceID, opID, string(outcome))
	return err
}
