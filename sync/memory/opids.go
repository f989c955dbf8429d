package memory

import (
	"context"
	stdsync "sync"

	syncpkg "github.com/or3/workspacesync/sync"
)

type opKey struct {
	workspaceID, opID string
}

// OpIDIndex is an in-memory syncpkg.OpIDIndex.
type OpIDIndex struct {
	mu   stdsync.RWMutex
	seen map[opKey]syncpkg.OpOutcome
}

// NewOpIDIndex builds an empty OpIDIndex.
func NewOpIDIndex() *OpIDIndex {
	return &OpIDIndex{seen: make(map[opKey]syncpkg.OpOutcome)}
}

func (o *OpIDIndex) Seen(_ context.Context, workspaceID, opID string) (syncpkg.OpOutcome, bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	outcome, ok := o.seen[opKey{workspaceID, opID}]
	return outcome, ok, nil
}

func (o *OpIDIndex) Record(_ context.Context, workspaceID, opID string, outcome syncpkg.OpOutcome) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen[opKey{workspaceID, opID}] = outcome
	return nil
}
