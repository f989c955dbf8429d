package sync

import "time"

// Mutation is a single client-originated write submitted in a push
// batch. Exactly one of Data (a put) or Deleted (a delete) applies;
// the engine treats Data == nil && !Deleted as an invalid payload.
type Mutation struct {
	OpID    string         `json:"op_id"`
	Table   string         `json:"table"`
	PK      string         `json:"pk"`
	Deleted bool           `json:"deleted"`
	Data    map[string]any `json:"data,omitempty"`
	HLC     string         `json:"hlc"`
}

// Row is the durable, server-side representation of a replicated
// record: the last-write-wins value for (WorkspaceID, Table, PK).
// Deletion never removes a Row; it flips Deleted and stamps DeletedAt,
// so a later put with a clock that beats the tombstone can restore it.
type Row struct {
	WorkspaceID   string
	Table         string
	PK            string
	Data          map[string]any
	Clock         int64
	HLC           string
	ServerVersion int64
	Deleted       bool
	DeletedAt     time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Tombstone records that (WorkspaceID, Table, PK) was deleted, so a
// stale put with an older clock cannot resurrect it.
type Tombstone struct {
	WorkspaceID   string
	Table         string
	PK            string
	Clock         int64
	HLC           string
	ServerVersion int64
	DeletedAt     time.Time
}

// Change is one entry in a workspace's append-only change log: the
// durable record of everything pull/watch replay to catch up a
// device. ServerVersion is strictly increasing within a workspace and
// never reused, even for entries later garbage collected.
type Change struct {
	WorkspaceID   string         `json:"-"`
	ServerVersion int64          `json:"server_version"`
	Table         string         `json:"table"`
	PK            string         `json:"pk"`
	Deleted       bool           `json:"deleted"`
	Data          map[string]any `json:"data,omitempty"`
	HLC           string         `json:"hlc"`
	Clock         int64          `json:"-"`
	OpID          string         `json:"op_id"`
	CreatedAt     time.Time      `json:"-"`
}

// DeviceCursor records the last server_version a device has
// acknowledged consuming, by convention advanced monotonically by the
// device itself via UpdateDeviceCursor. It is the lower bound the
// garbage collector uses to decide what change-log history is safe to
// drop.
type DeviceCursor struct {
	WorkspaceID     string
	DeviceID        string
	LastSeenVersion int64
}

// OpOutcome classifies how a single Mutation within a push batch was
// resolved.
type OpOutcome string

const (
	OpApplied  OpOutcome = "applied"
	OpConflict OpOutcome = "conflict" // a newer write already won; this op was dropped
	OpReplayed OpOutcome = "replayed" // op_id already seen; returned without reapplying
	OpFailed   OpOutcome = "failed"   // the op itself was rejected; the rest of the batch still applies
)

// OpResult reports the outcome of one Mutation from a PushRequest.
// Error is only set when Outcome is OpFailed.
type OpResult struct {
	OpID    string    `json:"op_id"`
	Outcome OpOutcome `json:"outcome"`
	Error   string    `json:"error,omitempty"`
}

// PushRequest is a batch of mutations submitted by a single device.
type PushRequest struct {
	WorkspaceID string
	DeviceID    string
	Ops         []Mutation
}

// PushResult is the engine's response to a PushRequest.
type PushResult struct {
	Results       []OpResult `json:"results"`
	ServerVersion int64      `json:"server_version"` // version after applying this batch
}

// PullRequest asks for changes strictly after Cursor, optionally
// restricted to a subset of tables.
type PullRequest struct {
	WorkspaceID string
	Cursor      int64
	Limit       int
	Tables      []string
}

// PullResult is a page of the change log. Engine.Pull never sets
// Resync: when the caller's cursor fell behind the oldest surviving
// change-log entry (the garbage collector reclaimed history it still
// pointed into), Pull returns ErrResyncRequired instead of a page, and
// the caller must discard its local replica and pull from 0.
type PullResult struct {
	Changes []Change `json:"changes"`
	Cursor  int64    `json:"cursor"`
	HasMore bool     `json:"has_more"`
	Resync  bool     `json:"resync,omitempty"`
}
