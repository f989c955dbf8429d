// Package memory provides in-process, mutex-guarded implementations of
// the sync package's storage interfaces, suitable for tests and for
// single-process deployments that don't need durability.
package memory

import (
	"context"
	stdsync "sync"

	syncpkg "github.com/or3/workspacesync/sync"
)

type rowKey struct {
	workspaceID, table, pk string
}

// Store is an in-memory sync.Store.
type Store struct {
	mu   stdsync.RWMutex
	rows map[rowKey]syncpkg.Row
}

// NewStore builds an empty Store.
func NewStore() *Store {
	return &Store{rows: make(map[rowKey]syncpkg.Row)}
}

func (s *Store) Get(_ context.Context, workspaceID, table, pk string) (syncpkg.Row, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[rowKey{workspaceID, table, pk}]
	return row, ok, nil
}

func (s *Store) Put(_ context.Context, row syncpkg.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[rowKey{row.WorkspaceID, row.Table, row.PK}] = row
	return nil
}

func (s *Store) Delete(_ context.Context, row syncpkg.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[rowKey{row.WorkspaceID, row.Table, row.PK}] = row
	return nil
}
