package memory

import (
	"context"
	stdsync "sync"
	"time"

	syncpkg "github.com/or3/workspacesync/sync"
)

// Tombstones is an in-memory sync.TombstoneStore.
type Tombstones struct {
	mu   stdsync.RWMutex
	rows map[rowKey]syncpkg.Tombstone
}

// NewTombstones builds an empty Tombstones store.
func NewTombstones() *Tombstones {
	return &Tombstones{rows: make(map[rowKey]syncpkg.Tombstone)}
}

func (t *Tombstones) Get(_ context.Context, workspaceID, table, pk string) (syncpkg.Tombstone, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ts, ok := t.rows[rowKey{workspaceID, table, pk}]
	return ts, ok, nil
}

func (t *Tombstones) Put(_ context.Context, ts syncpkg.Tombstone) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[rowKey{ts.WorkspaceID, ts.Table, ts.PK}] = ts
	return nil
}

func (t *Tombstones) DeleteOlderThan(_ context.Context, workspaceID string, maxVersion int64, cutoff time.Time, limit int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for k, ts := range t.rows {
		if removed >= limit {
			break
		}
		if k.workspaceID != workspaceID || ts.ServerVersion > maxVersion || ts.DeletedAt.After(cutoff) {
			continue
		}
		delete(t.rows, k)
		removed++
	}
	return removed, nil
}
