package memory

import (
	"context"
	"sort"
	stdsync "sync"
	"time"

	syncpkg "github.com/or3/workspacesync/sync"
)

type workspaceLog struct {
	head    int64
	entries []syncpkg.Change // ascending by ServerVersion
}

// ChangeLog is an in-memory syncpkg.ChangeLog.
type ChangeLog struct {
	mu   stdsync.Mutex
	logs map[string]*workspaceLog
}

// NewChangeLog builds an empty ChangeLog.
func NewChangeLog() *ChangeLog {
	return &ChangeLog{logs: make(map[string]*workspaceLog)}
}

func (c *ChangeLog) workspace(workspaceID string) *workspaceLog {
	wl, ok := c.logs[workspaceID]
	if !ok {
		wl = &workspaceLog{}
		c.logs[workspaceID] = wl
	}
	return wl
}

func (c *ChangeLog) AllocateVersions(_ context.Context, workspaceID string, n int) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wl := c.workspace(workspaceID)
	first := wl.head + 1
	wl.head += int64(n)
	return first, nil
}

func (c *ChangeLog) Append(_ context.Context, entry syncpkg.Change) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	wl := c.workspace(entry.WorkspaceID)
	wl.entries = append(wl.entries, entry)
	return nil
}

func (c *ChangeLog) CurrentVersion(_ context.Context, workspaceID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wl, ok := c.logs[workspaceID]
	if !ok {
		return 0, nil
	}
	if len(wl.entries) == 0 {
		return 0, nil
	}
	return wl.entries[len(wl.entries)-1].ServerVersion, nil
}

// OldestVersion implements syncpkg.ChangeLog.
func (c *ChangeLog) OldestVersion(_ context.Context, workspaceID string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wl, ok := c.logs[workspaceID]
	if !ok || len(wl.entries) == 0 {
		return 0, false, nil
	}
	return wl.entries[0].ServerVersion, true, nil
}

func (c *ChangeLog) Scan(_ context.Context, workspaceID string, cursor int64, limit int, tables []string) (syncpkg.PullResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wl, ok := c.logs[workspaceID]
	if !ok || len(wl.entries) == 0 {
		return syncpkg.PullResult{Cursor: cursor}, nil
	}

	start := sort.Search(len(wl.entries), func(i int) bool {
		return wl.entries[i].ServerVersion > cursor
	})

	var allowed map[string]bool
	if len(tables) > 0 {
		allowed = make(map[string]bool, len(tables))
		for _, t := range tables {
			allowed[t] = true
		}
	}

	out := make([]syncpkg.Change, 0, limit)
	newCursor := cursor
	hasMore := false
	for i := start; i < len(wl.entries); i++ {
		e := wl.entries[i]
		if len(out) >= limit {
			hasMore = true
			break
		}
		newCursor = e.ServerVersion
		if allowed != nil && !allowed[e.Table] {
			continue
		}
		out = append(out, e)
	}

	return syncpkg.PullResult{Changes: out, Cursor: newCursor, HasMore: hasMore}, nil
}

func (c *ChangeLog) DeleteThrough(_ context.Context, workspaceID string, maxVersion int64, cutoff time.Time, limit int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wl, ok := c.logs[workspaceID]
	if !ok {
		return 0, nil
	}
	removed := 0
	for removed < limit && len(wl.entries) > 0 &&
		wl.entries[0].ServerVersion <= maxVersion && !wl.entries[0].CreatedAt.After(cutoff) {
		wl.entries = wl.entries[1:]
		removed++
	}
	return removed, nil
}

// ListWorkspaces implements syncpkg.WorkspaceLister.
func (c *ChangeLog) ListWorkspaces(_ context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.logs))
	for ws := range c.logs {
		out = append(out, ws)
	}
	sort.Strings(out)
	return out, nil
}
