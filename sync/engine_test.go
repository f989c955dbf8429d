package sync_test

import (
	"context"
	"testing"
	"time"

	"github.com/or3/workspacesync/sync"
	"github.com/or3/workspacesync/sync/memory"
)

func newTestEngine() *sync.Engine {
	tables := sync.NewTableRegistry(sync.TableDescriptor{Name: "notes", Columns: []string{"title", "body"}})
	return sync.NewEngine(sync.Options{
		Store:      memory.NewStore(),
		Tombstones: memory.NewTombstones(),
		Cursors:    memory.NewCursors(),
		Log:        memory.NewChangeLog(),
		OpIDs:      memory.NewOpIDIndex(),
		Tables:     tables,
	})
}

func mutationHLC(wallMS int64, logical uint32, device string) string {
	return sync.HLC{WallMS: wallMS, Logical: logical, DeviceID: device}.String()
}

func TestEngine_PushThenPull(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	push, err := e.Push(ctx, sync.PushRequest{
		WorkspaceID: "ws1",
		DeviceID:    "dev-a",
		Ops: []sync.Mutation{
			{OpID: "op1", Table: "notes", PK: "n1", Data: map[string]any{"title": "hi"}, HLC: mutationHLC(1700000000000, 0, "dev-a")},
		},
	}, nil)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if push.Results[0].Outcome != sync.OpApplied {
		t.Fatalf("expected OpApplied, got %v", push.Results[0].Outcome)
	}
	if push.ServerVersion != 1 {
		t.Fatalf("ServerVersion = %d, want 1", push.ServerVersion)
	}

	pull, err := e.Pull(ctx, sync.PullRequest{WorkspaceID: "ws1", Cursor: 0})
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(pull.Changes) != 1 || pull.Changes[0].PK != "n1" {
		t.Fatalf("unexpected pull result: %+v", pull)
	}
	if pull.HasMore {
		t.Fatalf("expected HasMore=false")
	}
}

func TestEngine_Push_UnknownTableFailsOpNotBatch(t *testing.T) {
	e := newTestEngine()
	res, err := e.Push(context.Background(), sync.PushRequest{
		WorkspaceID: "ws1",
		DeviceID:    "dev-a",
		Ops: []sync.Mutation{
			{OpID: "op1", Table: "ghosts", PK: "n1", Data: map[string]any{"x": 1}, HLC: mutationHLC(1, 0, "dev-a")},
			{OpID: "op2", Table: "notes", PK: "n2", Data: map[string]any{"title": "ok"}, HLC: mutationHLC(2, 0, "dev-a")},
		},
	}, nil)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if res.Results[0].Outcome != sync.OpFailed || res.Results[0].Error == "" {
		t.Fatalf("expected op1 to fail with a message, got %+v", res.Results[0])
	}
	if res.Results[1].Outcome != sync.OpApplied {
		t.Fatalf("expected op2 to still apply, got %+v", res.Results[1])
	}
}

func TestEngine_Push_BatchTooLarge(t *testing.T) {
	e := newTestEngine()
	ops := make([]sync.Mutation, sync.MaxPushOps+1)
	for i := range ops {
		ops[i] = sync.Mutation{OpID: "op", Table: "notes", PK: "n", Data: map[string]any{"x": 1}, HLC: mutationHLC(1, 0, "dev-a")}
	}
	_, err := e.Push(context.Background(), sync.PushRequest{WorkspaceID: "ws1", DeviceID: "dev-a", Ops: ops}, nil)
	if sync.CodeOf(err) != sync.CodeBatchTooLarge {
		t.Fatalf("expected CodeBatchTooLarge, got %v", err)
	}
}

func TestEngine_Push_RetriedOpIDIsReplayed(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	op := sync.Mutation{OpID: "op1", Table: "notes", PK: "n1", Data: map[string]any{"title": "hi"}, HLC: mutationHLC(1700000000000, 0, "dev-a")}

	first, err := e.Push(ctx, sync.PushRequest{WorkspaceID: "ws1", DeviceID: "dev-a", Ops: []sync.Mutation{op}}, nil)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	second, err := e.Push(ctx, sync.PushRequest{WorkspaceID: "ws1", DeviceID: "dev-a", Ops: []sync.Mutation{op}}, nil)
	if err != nil {
		t.Fatalf("Push retry: %v", err)
	}
	if second.Results[0].Outcome != sync.OpReplayed {
		t.Fatalf("expected OpReplayed on retry, got %v", second.Results[0].Outcome)
	}
	if second.ServerVersion != first.ServerVersion {
		t.Fatalf("retry should not allocate a new version: first=%d second=%d", first.ServerVersion, second.ServerVersion)
	}
}

func TestEngine_Pull_TableFilterAdvancesCursor(t *testing.T) {
	tables := sync.NewTableRegistry(
		sync.TableDescriptor{Name: "notes"},
		sync.TableDescriptor{Name: "tasks"},
	)
	e := sync.NewEngine(sync.Options{
		Store: memory.NewStore(), Tombstones: memory.NewTombstones(), Cursors: memory.NewCursors(),
		Log: memory.NewChangeLog(), OpIDs: memory.NewOpIDIndex(), Tables: tables,
	})
	ctx := context.Background()

	_, err := e.Push(ctx, sync.PushRequest{
		WorkspaceID: "ws1", DeviceID: "dev-a",
		Ops: []sync.Mutation{
			{OpID: "op1", Table: "tasks", PK: "t1", Data: map[string]any{"x": 1}, HLC: mutationHLC(1, 0, "dev-a")},
			{OpID: "op2", Table: "notes", PK: "n1", Data: map[string]any{"x": 1}, HLC: mutationHLC(2, 0, "dev-a")},
		},
	}, nil)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	pull, err := e.Pull(ctx, sync.PullRequest{WorkspaceID: "ws1", Cursor: 0, Tables: []string{"notes"}})
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(pull.Changes) != 1 || pull.Changes[0].Table != "notes" {
		t.Fatalf("expected only notes changes, got %+v", pull.Changes)
	}
	if pull.Cursor != 2 {
		t.Fatalf("cursor should advance past filtered-out tasks entry too, got %d", pull.Cursor)
	}
}

func TestEngine_Watch_WakesOnPush(t *testing.T) {
	e := newTestEngine()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan sync.PullResult, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := e.Watch(ctx, sync.PullRequest{WorkspaceID: "ws1", Cursor: 0})
		if err != nil {
			errCh <- err
			return
		}
		done <- res
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := e.Push(context.Background(), sync.PushRequest{
		WorkspaceID: "ws1", DeviceID: "dev-a",
		Ops: []sync.Mutation{{OpID: "op1", Table: "notes", PK: "n1", Data: map[string]any{"x": 1}, HLC: mutationHLC(1, 0, "dev-a")}},
	}, nil); err != nil {
		t.Fatalf("Push: %v", err)
	}

	select {
	case res := <-done:
		if len(res.Changes) != 1 {
			t.Fatalf("expected 1 change, got %d", len(res.Changes))
		}
	case err := <-errCh:
		t.Fatalf("Watch returned error: %v", err)
	case <-ctx.Done():
		t.Fatal("Watch did not wake up before test deadline")
	}
}

func TestEngine_UpdateDeviceCursor(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	if err := e.UpdateDeviceCursor(ctx, "ws1", "dev-a", 5); err != nil {
		t.Fatalf("UpdateDeviceCursor: %v", err)
	}
}

func TestEngine_Pull_CursorBehindOldestRequiresResync(t *testing.T) {
	tables := sync.NewTableRegistry(sync.TableDescriptor{Name: "notes"})
	log := memory.NewChangeLog()
	e := sync.NewEngine(sync.Options{
		Store: memory.NewStore(), Tombstones: memory.NewTombstones(), Cursors: memory.NewCursors(),
		Log: log, OpIDs: memory.NewOpIDIndex(), Tables: tables,
	})
	ctx := context.Background()

	first, err := log.AllocateVersions(ctx, "ws1", 3)
	if err != nil {
		t.Fatalf("AllocateVersions: %v", err)
	}
	for i := int64(0); i < 3; i++ {
		if err := log.Append(ctx, sync.Change{WorkspaceID: "ws1", ServerVersion: first + i, Table: "notes", PK: "n1"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	// Simulate the GC having reclaimed versions 1-2, leaving only 3.
	if _, err := log.DeleteThrough(ctx, "ws1", 2, time.Now(), 10); err != nil {
		t.Fatalf("DeleteThrough: %v", err)
	}

	_, err = e.Pull(ctx, sync.PullRequest{WorkspaceID: "ws1", Cursor: 0})
	if sync.CodeOf(err) != sync.CodeResyncRequired {
		t.Fatalf("expected CodeResyncRequired, got %v", err)
	}
}

func TestEngine_Authorizer_Denies(t *testing.T) {
	tables := sync.NewTableRegistry(sync.TableDescriptor{Name: "notes"})
	e := sync.NewEngine(sync.Options{
		Store: memory.NewStore(), Tombstones: memory.NewTombstones(), Cursors: memory.NewCursors(),
		Log: memory.NewChangeLog(), OpIDs: memory.NewOpIDIndex(), Tables: tables,
		Authorizer: sync.AuthorizerFunc(func(ctx context.Context, workspaceID, deviceID string) error {
			return sync.ErrForbidden
		}),
	})
	_, err := e.Push(context.Background(), sync.PushRequest{WorkspaceID: "ws1", DeviceID: "dev-a"}, nil)
	if sync.CodeOf(err) != sync.CodeForbidden {
		t.Fatalf("expected CodeForbidden, got %v", err)
	}
}
