package sync

import (
	"context"
	"time"
)

// Store holds the current (last-write-wins) value of every replicated
// row, keyed by (workspace, table, pk). Implementations must apply
// Put/Delete atomically with respect to concurrent calls for the same
// key; the engine serializes conflict resolution but storage backends
// shared across processes still need their own locking or transactions.
type Store interface {
	// Get returns the current row, or ok=false if absent (never
	// written). A deleted row is still returned with ok=true and
	// Deleted=true; it is never physically absent on its own account.
	Get(ctx context.Context, workspaceID, table, pk string) (Row, bool, error)

	// Put unconditionally writes row, overwriting any existing value.
	// Callers are expected to have already resolved LWW ordering.
	Put(ctx context.Context, row Row) error

	// Delete patches the row for (row.WorkspaceID, row.Table, row.PK)
	// to Deleted=true, DeletedAt=row.DeletedAt, bumping Clock/HLC/
	// ServerVersion/UpdatedAt to row's values. It never removes the row
	// outright: a replicated row and its tombstone converge to the
	// same winning state, never a missing row backed by a live
	// tombstone.
	Delete(ctx context.Context, row Row) error
}

// TombstoneStore records deletions so a late-arriving put with a
// clock older than the tombstone's is rejected rather than resurrecting
// the row.
type TombstoneStore interface {
	// Get returns the tombstone for (workspaceID, table, pk), if any.
	Get(ctx context.Context, workspaceID, table, pk string) (Tombstone, bool, error)

	// Put records or replaces the tombstone for (workspaceID, table, pk).
	Put(ctx context.Context, t Tombstone) error

	// DeleteOlderThan permanently removes tombstones whose
	// ServerVersion is <= maxVersion AND whose DeletedAt is at or
	// before cutoff, for use by the garbage collector once no device
	// cursor can still need them and the retention window has passed.
	// It returns the number removed.
	DeleteOlderThan(ctx context.Context, workspaceID string, maxVersion int64, cutoff time.Time, limit int) (int, error)
}

// CursorStore tracks each device's last-acknowledged server_version.
type CursorStore interface {
	// Get returns a device's cursor, or ok=false if the device has
	// never pulled.
	Get(ctx context.Context, workspaceID, deviceID string) (DeviceCursor, bool, error)

	// Put upserts a device's cursor. Implementations may choose to
	// reject a regression (LastSeenVersion less than the stored value);
	// the engine itself does not enforce monotonicity on write, only
	// relies on well-behaved devices for the GC lower bound.
	Put(ctx context.Context, c DeviceCursor) error

	// MinVersion returns the minimum LastSeenVersion across all devices
	// registered for workspaceID, used as the garbage collector's
	// retention lower bound. ok=false means no device has a cursor yet,
	// in which case the GC must not collect anything.
	MinVersion(ctx context.Context, workspaceID string) (version int64, ok bool, err error)
}

// ChangeLog is a workspace's append-only, strictly-ordered history of
// applied mutations, keyed by a monotonically increasing server
// version allocated per workspace.
type ChangeLog interface {
	// AllocateVersions reserves n consecutive server versions for
	// workspaceID and returns the first one; the caller assigns
	// first, first+1, ..., first+n-1 to the n entries it is about to
	// append.
	AllocateVersions(ctx context.Context, workspaceID string, n int) (first int64, err error)

	// Append writes entry to the log. Callers must have obtained
	// entry.ServerVersion from AllocateVersions.
	Append(ctx context.Context, entry Change) error

	// Scan returns entries for workspaceID with ServerVersion > cursor,
	// in ascending order, up to limit entries (none if limit <= 0, with
	// HasMore reporting whether any remain). If tables is non-empty, only entries for those
	// tables are returned, but the returned Cursor still reflects the
	// highest ServerVersion scanned (including filtered-out rows) so
	// that repeated calls make forward progress even when a table
	// filter excludes everything in a page.
	Scan(ctx context.Context, workspaceID string, cursor int64, limit int, tables []string) (PullResult, error)

	// CurrentVersion returns the highest ServerVersion still present in
	// the log for workspaceID, or 0 if it holds no entries (no history
	// yet, or all of it reclaimed by the garbage collector).
	CurrentVersion(ctx context.Context, workspaceID string) (int64, error)

	// OldestVersion returns the lowest ServerVersion still present for
	// workspaceID, or ok=false if the log is empty. A pull/watch whose
	// cursor is below OldestVersion()-1 has fallen behind history the
	// garbage collector already reclaimed.
	OldestVersion(ctx context.Context, workspaceID string) (version int64, ok bool, err error)

	// DeleteThrough permanently removes entries with ServerVersion <=
	// maxVersion AND CreatedAt at or before cutoff, for use by the
	// garbage collector. It returns the number removed and operates in
	// bounded batches of up to limit entries per call so a single GC
	// pass cannot block the log indefinitely.
	DeleteThrough(ctx context.Context, workspaceID string, maxVersion int64, cutoff time.Time, limit int) (int, error)
}

// OpIDIndex deduplicates pushes by op_id so a retried batch does not
// reapply mutations the server already committed.
type OpIDIndex interface {
	// Seen returns the prior outcome for opID within workspaceID, if
	// the server has processed it before.
	Seen(ctx context.Context, workspaceID, opID string) (OpOutcome, bool, error)

	// Record remembers that opID resolved to outcome within
	// workspaceID.
	Record(ctx context.Context, workspaceID, opID string, outcome OpOutcome) error
}

// WorkspaceLister enumerates workspaces with replication history, used
// by the garbage collector's workspace-discovery cron.
type WorkspaceLister interface {
	ListWorkspaces(ctx context.Context) ([]string, error)
}
