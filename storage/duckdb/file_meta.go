package duckdb

import (
	"context"
	"database/sql"
	"time"

	"github.com/or3/workspacesync/blob"
)

// FileMetaStore implements blob.Store against the file_meta table.
type FileMetaStore struct {
	db *sql.DB
}

// NewFileMetaStore builds a FileMetaStore.
func NewFileMetaStore(db *sql.DB) *FileMetaStore { return &FileMetaStore{db: db} }

func (s *FileMetaStore) Get(ctx context.Context, workspaceID, hash string) (blob.Meta, bool, error) {
	var (
		m         blob.Meta
		deletedAt sql.NullTime
	)
	m.WorkspaceID, m.Hash = workspaceID, hash
	err := s.db.QueryRowContext(ctx, `
		SELECT storage_id, provider_id, mime_type, size_bytes, name, kind, width, height, page_count, ref_count, deleted, deleted_at
		FROM file_meta WHERE workspace_id = ? AND hash = ?
	`, workspaceID, hash).Scan(
		&m.StorageID, &m.ProviderID, &m.MimeType, &m.SizeBytes, &m.Name, &m.Kind,
		&m.Width, &m.Height, &m.PageCount, &m.RefCount, &m.Deleted, &deletedAt,
	)
	if err == sql.ErrNoRows {
		return blob.Meta{}, false, nil
	}
	if err != nil {
		return blob.Meta{}, false, err
	}
	if deletedAt.Valid {
		m.DeletedAt = deletedAt.Time
	}
	return m, true, nil
}

func (s *FileMetaStore) Put(ctx context.Context, m blob.Meta) error {
	var deletedAt any
	if !m.DeletedAt.IsZero() {
		deletedAt = m.DeletedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_meta (workspace_id, hash, storage_id, provider_id, mime_type, size_bytes, name, kind, width, height, page_count, ref_count, deleted, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (workspace_id, hash) DO UPDATE SET
			storage_id = EXCLUDED.storage_id, provider_id = EXCLUDED.provider_id, mime_type = EXCLUDED.mime_type,
			size_bytes = EXCLUDED.size_bytes, name = EXCLUDED.name, kind = EXCLUDED.kind,
			width = EXCLUDED.width, height = EXCLUDED.height, page_count = EXCLUDED.page_count,
			ref_count = EXCLUDED.ref_count, deleted = EXCLUDED.deleted, deleted_at = EXCLUDED.deleted_at
	`, m.WorkspaceID, m.Hash, m.StorageID, m.ProviderID, m.MimeType, m.SizeBytes, m.Name, string(m.Kind),
		m.Width, m.Height, m.PageCount, m.RefCount, m.Deleted, deletedAt)
	return err
}

func (s *FileMetaStore) ListDeleted(ctx context.Context, workspaceID string, cutoff time.Time, limit int) ([]blob.Meta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hash, storage_id, provider_id, mime_type, size_bytes, name, kind, width, height, page_count, ref_count, deleted_at
		FROM file_meta
		WHERE workspace_id = ? AND deleted = TRUE AND ref_count = 0 AND deleted_at <= ?
		LIMIT ?
	`, workspaceID, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []blob.Meta
	for rows.Next() {
		var (
			m         blob.Meta
			deletedAt sql.NullTime
		)
		m.WorkspaceID = workspaceID
		m.Deleted = true
		if err := rows.Scan(&m.Hash, &m.StorageID, &m.ProviderID, &m.MimeType, &m.SizeBytes, &m.Name, &m.Kind,
			&m.Width, &m.Height, &m.PageCount, &m.RefCount, &deletedAt); err != nil {
			return nil, err
		}
		if deletedAt.Valid {
			m.DeletedAt = deletedAt.Time
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *FileMetaStore) Remove(ctx context.Context, workspaceID, hash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM file_meta WHERE workspace_id = ? AND hash = ?`, workspaceID, hash)
	return err
}
