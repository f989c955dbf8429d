package memory

import (
	"context"
	stdsync "sync"

	syncpkg "github.com/or3/workspacesync/sync"
)

type cursorKey struct {
	workspaceID, deviceID string
}

// Cursors is an in-memory sync.CursorStore.
type Cursors struct {
	mu      stdsync.RWMutex
	cursors map[cursorKey]syncpkg.DeviceCursor
}

// NewCursors builds an empty Cursors store.
func NewCursors() *Cursors {
	return &Cursors{cursors: make(map[cursorKey]syncpkg.DeviceCursor)}
}

func (c *Cursors) Get(_ context.Context, workspaceID, deviceID string) (syncpkg.DeviceCursor, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dc, ok := c.cursors[cursorKey{workspaceID, deviceID}]
	return dc, ok, nil
}

func (c *Cursors) Put(_ context.Context, dc syncpkg.DeviceCursor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursors[cursorKey{dc.WorkspaceID, dc.DeviceID}] = dc
	return nil
}

func (c *Cursors) MinVersion(_ context.Context, workspaceID string) (int64, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var (
		min int64
		ok  bool
	)
	for k, dc := range c.cursors {
		if k.workspaceID != workspaceID {
			continue
		}
		if !ok || dc.LastSeenVersion < min {
			min = dc.LastSeenVersion
			ok = true
		}
	}
	return min, ok, nil
}
