package duckdb

import (
	"context"
	"database/sql"

	"github.com/or3/workspacesync/internal/authz"
)

// MembershipStore implements authz.Store against the memberships
// table.
type MembershipStore struct {
	db *sql.DB
}

// NewMembershipStore builds a MembershipStore.
func NewMembershipStore(db *sql.DB) *MembershipStore { return &MembershipStore{db: db} }

func (s *MembershipStore) Get(ctx context.Context, workspaceID, userID string) (authz.Membership, bool, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT role FROM memberships WHERE workspace_id = ? AND user_id = ?`, workspaceID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return authz.Membership{}, false, nil
	}
	if err != nil {
		return authz.Membership{}, false, err
	}
	return authz.Membership{WorkspaceID: workspaceID, UserID: userID, Role: authz.Role(role)}, true, nil
}

func (s *MembershipStore) Upsert(ctx context.Context, m authz.Membership) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (workspace_id, user_id, role) VALUES (?, ?, ?)
		ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = EXCLUDED.role
	`, m.WorkspaceID, m.UserID, string(m.Role))
	return err
}

func (s *MembershipStore) Remove(ctx context.Context, workspaceID, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memberships WHERE workspace_id = ? AND user_id = ?`, workspaceID, userID)
	return err
}

func (s *MembershipStore) ListByWorkspace(ctx context.Context, workspaceID string) ([]authz.Membership, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, role FROM memberships WHERE workspace_id = ?`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []authz.Membership
	for rows.Next() {
		var m authz.Membership
		m.WorkspaceID = workspaceID
		var role string
		if err := rows.Scan(&m.UserID, &role); err != nil {
			return nil, err
		}
		m.Role = authz.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}
