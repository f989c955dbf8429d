package sync

import (
	"context"
	"log/slog"
	"time"
)

// MaxPushOps bounds the number of mutations accepted in a single push
// batch.
const MaxPushOps = 100

// DefaultPullLimit is used when a PullRequest does not specify one.
const DefaultPullLimit = 100

// MaxPullLimit bounds the page size a single pull/watch response may
// return, regardless of the caller-requested limit.
const MaxPullLimit = 500

// Authorizer gates access to a workspace before the engine touches
// storage. Implementations typically check workspace membership and
// role; see internal/authz for the concrete HTTP-facing adapter.
type Authorizer interface {
	Authorize(ctx context.Context, workspaceID, deviceID string) error
}

// AuthorizerFunc adapts a function to an Authorizer.
type AuthorizerFunc func(ctx context.Context, workspaceID, deviceID string) error

func (f AuthorizerFunc) Authorize(ctx context.Context, workspaceID, deviceID string) error {
	return f(ctx, workspaceID, deviceID)
}

// Options configures an Engine.
type Options struct {
	Store      Store
	Tombstones TombstoneStore
	Cursors    CursorStore
	Log        ChangeLog
	OpIDs      OpIDIndex
	Tables     *TableRegistry
	Authorizer Authorizer // optional; nil allows every request through
	Logger     *slog.Logger
	Now        func() time.Time // optional; defaults to time.Now
}

// Engine is the server-side entry point for the replication protocol:
// Push accepts a device's pending writes, Pull serves the change log
// to a catching-up device, and Watch blocks until there is something
// new to pull.
type Engine struct {
	store      Store
	tombstones TombstoneStore
	cursors    CursorStore
	log        ChangeLog
	opIDs      OpIDIndex
	tables     *TableRegistry
	authz      Authorizer
	logger     *slog.Logger
	broker     *broker
	now        func() time.Time
}

// NewEngine builds an Engine from Options. Store, Tombstones, Cursors,
// Log, OpIDs and Tables are required.
func NewEngine(opts Options) *Engine {
	if opts.Store == nil || opts.Tombstones == nil || opts.Cursors == nil || opts.Log == nil || opts.OpIDs == nil || opts.Tables == nil {
		panic("sync: NewEngine requires Store, Tombstones, Cursors, Log, OpIDs and Tables")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:      opts.Store,
		tombstones: opts.Tombstones,
		cursors:    opts.Cursors,
		log:        opts.Log,
		opIDs:      opts.OpIDs,
		tables:     opts.Tables,
		authz:      opts.Authorizer,
		logger:     logger,
		broker:     newBroker(),
		now:        now,
	}
}

func (e *Engine) authorize(ctx context.Context, workspaceID, deviceID string) error {
	if e.authz == nil {
		return nil
	}
	return e.authz.Authorize(ctx, workspaceID, deviceID)
}

// Push applies a batch of mutations from a single device, in order,
// resolving conflicts with last-write-wins and appending every
// applied mutation to the workspace's change log under freshly
// allocated server versions. It is safe to retry an entire batch: ops
// whose op_id the engine has already committed are reported as
// OpReplayed rather than reapplied.
//
// A failure authorizing the whole batch aborts it. A failure specific
// to one op (an unknown table, a missing op_id, a malformed hlc, an
// invalid payload, or a storage error resolving that op) never aborts
// the batch: it is reported as OpFailed in that op's OpResult and the
// remaining ops still apply.
func (e *Engine) Push(ctx context.Context, req PushRequest, clock *ClockSource) (PushResult, error) {
	if err := e.authorize(ctx, req.WorkspaceID, req.DeviceID); err != nil {
		return PushResult{}, err
	}
	if len(req.Ops) == 0 {
		v, err := e.log.CurrentVersion(ctx, req.WorkspaceID)
		return PushResult{ServerVersion: v}, err
	}
	if len(req.Ops) > MaxPushOps {
		return PushResult{}, ErrBatchTooLarge
	}

	results := make([]OpResult, len(req.Ops))
	toApply := make([]int, 0, len(req.Ops))
	for i, op := range req.Ops {
		if op.OpID == "" {
			results[i] = OpResult{Outcome: OpFailed, Error: "mutation missing op_id"}
			continue
		}
		if !e.tables.Has(op.Table) {
			results[i] = OpResult{OpID: op.OpID, Outcome: OpFailed, Error: "unknown table: " + op.Table}
			continue
		}
		outcome, seen, err := e.opIDs.Seen(ctx, req.WorkspaceID, op.OpID)
		if err != nil {
			return PushResult{}, err
		}
		if seen {
			results[i] = OpResult{OpID: op.OpID, Outcome: OpReplayed}
			continue
		}
		_ = outcome
		toApply = append(toApply, i)
	}

	if len(toApply) == 0 {
		v, err := e.log.CurrentVersion(ctx, req.WorkspaceID)
		return PushResult{Results: results, ServerVersion: v}, err
	}

	first, err := e.log.AllocateVersions(ctx, req.WorkspaceID, len(toApply))
	if err != nil {
		return PushResult{}, err
	}

	now := e.now()
	lastVersion := first - 1
	for n, i := range toApply {
		op := req.Ops[i]
		version := first + int64(n)

		stamp, err := ParseHLC(op.HLC)
		if err != nil {
			results[i] = OpResult{OpID: op.OpID, Outcome: OpFailed, Error: "invalid hlc: " + err.Error()}
			if err := e.opIDs.Record(ctx, req.WorkspaceID, op.OpID, OpFailed); err != nil {
				return PushResult{}, err
			}
			continue
		}
		if clock != nil {
			clock.Observe(stamp)
		}

		outcome, change, err := resolve(ctx, e.store, e.tombstones, e.tables, req.WorkspaceID, op, stamp, version, now)
		if err != nil {
			msg := err.Error()
			if se, ok := err.(*Error); ok {
				msg = se.Message
			}
			results[i] = OpResult{OpID: op.OpID, Outcome: OpFailed, Error: msg}
			if err := e.opIDs.Record(ctx, req.WorkspaceID, op.OpID, OpFailed); err != nil {
				return PushResult{}, err
			}
			continue
		}
		if outcome == OpApplied {
			if err := e.log.Append(ctx, change); err != nil {
				return PushResult{}, err
			}
			lastVersion = version
		}
		if err := e.opIDs.Record(ctx, req.WorkspaceID, op.OpID, outcome); err != nil {
			return PushResult{}, err
		}
		results[i] = OpResult{OpID: op.OpID, Outcome: outcome}
	}

	e.broker.publish(req.WorkspaceID)

	if lastVersion < first-1 {
		v, err := e.log.CurrentVersion(ctx, req.WorkspaceID)
		return PushResult{Results: results, ServerVersion: v}, err
	}
	return PushResult{Results: results, ServerVersion: lastVersion}, nil
}

// Pull returns a page of the change log strictly after req.Cursor. If
// req.Cursor has fallen behind the oldest entry the garbage collector
// still retains, it returns ErrResyncRequired instead of a (silently
// incomplete) page: the caller must discard its local replica and
// restart from cursor 0.
func (e *Engine) Pull(ctx context.Context, req PullRequest) (PullResult, error) {
	if err := e.authorize(ctx, req.WorkspaceID, ""); err != nil {
		return PullResult{}, err
	}
	for _, t := range req.Tables {
		if !e.tables.Has(t) {
			return PullResult{}, NewError(CodeUnknownTable, "unknown table: "+t)
		}
	}
	oldest, ok, err := e.log.OldestVersion(ctx, req.WorkspaceID)
	if err != nil {
		return PullResult{}, err
	}
	if ok && req.Cursor < oldest-1 {
		return PullResult{}, ErrResyncRequired
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultPullLimit
	}
	if limit > MaxPullLimit {
		limit = MaxPullLimit
	}
	return e.log.Scan(ctx, req.WorkspaceID, req.Cursor, limit, req.Tables)
}

// Watch blocks until either a change lands for req.WorkspaceID (past
// req.Cursor) or ctx is canceled, then returns the resulting pull
// page. It never returns an empty, no-more-data page on its own accord
// except when ctx is canceled, in which case it returns ctx.Err().
func (e *Engine) Watch(ctx context.Context, req PullRequest) (PullResult, error) {
	ch, unsubscribe := e.broker.subscribe(req.WorkspaceID)
	defer unsubscribe()

	for {
		page, err := e.Pull(ctx, req)
		if err != nil {
			return PullResult{}, err
		}
		if len(page.Changes) > 0 {
			return page, nil
		}
		select {
		case <-ch:
			continue
		case <-ctx.Done():
			return PullResult{}, ctx.Err()
		}
	}
}

// UpdateDeviceCursor records that deviceID has consumed the change log
// through version, for use as the garbage collector's retention lower
// bound.
func (e *Engine) UpdateDeviceCursor(ctx context.Context, workspaceID, deviceID string, version int64) error {
	if err := e.authorize(ctx, workspaceID, deviceID); err != nil {
		return err
	}
	return e.cursors.Put(ctx, DeviceCursor{WorkspaceID: workspaceID, DeviceID: deviceID, LastSeenVersion: version})
}

// GetServerVersion returns the current head of a workspace's change
// log.
func (e *Engine) GetServerVersion(ctx context.Context, workspaceID string) (int64, error) {
	if err := e.authorize(ctx, workspaceID, ""); err != nil {
		return 0, err
	}
	return e.log.CurrentVersion(ctx, workspaceID)
}
