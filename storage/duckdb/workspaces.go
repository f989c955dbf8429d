package duckdb

import (
	"context"
	"database/sql"
	"time"

	"github.com/or3/workspacesync/admin"
)

// WorkspaceStore implements admin.WorkspaceStore against the
// workspaces table.
type WorkspaceStore struct {
	db *sql.DB
}

// NewWorkspaceStore builds a WorkspaceStore.
func NewWorkspaceStore(db *sql.DB) *WorkspaceStore { return &WorkspaceStore{db: db} }

func (s *WorkspaceStore) Get(ctx context.Context, id string) (admin.Workspace, bool, error) {
	var w admin.Workspace
	w.ID = id
	err := s.db.QueryRowContext(ctx, `SELECT name, created_at, updated_at FROM workspaces WHERE id = ?`, id).
		Scan(&w.Name, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return admin.Workspace{}, false, nil
	}
	if err != nil {
		return admin.Workspace{}, false, err
	}
	return w, true, nil
}

func (s *WorkspaceStore) Create(ctx context.Context, w admin.Workspace) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workspaces (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		w.ID, w.Name, w.CreatedAt, w.UpdatedAt)
	return err
}

func (s *WorkspaceStore) Rename(ctx context.Context, id, name string, updatedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE workspaces SET name = ?, updated_at = ? WHERE id = ?`, name, updatedAt, id)
	return err
}

func (s *WorkspaceStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id = ?`, id)
	return err
}
