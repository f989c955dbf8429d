package sync

import (
	"context"
	"testing"
	"time"
)

// fakeStore and fakeTombstones are minimal in-package test doubles,
// kept separate from the memory package to avoid resolver_test.go
// (package sync) importing a package that imports sync back.

type fakeStore struct {
	rows map[string]Row
}

func newFakeStore() *fakeStore { return &fakeStore{rows: map[string]Row{}} }

func (s *fakeStore) key(workspaceID, table, pk string) string { return workspaceID + "/" + table + "/" + pk }

func (s *fakeStore) Get(_ context.Context, workspaceID, table, pk string) (Row, bool, error) {
	r, ok := s.rows[s.key(workspaceID, table, pk)]
	return r, ok, nil
}

func (s *fakeStore) Put(_ context.Context, row Row) error {
	s.rows[s.key(row.WorkspaceID, row.Table, row.PK)] = row
	return nil
}

func (s *fakeStore) Delete(_ context.Context, row Row) error {
	s.rows[s.key(row.WorkspaceID, row.Table, row.PK)] = row
	return nil
}

type fakeTombstones struct {
	rows map[string]Tombstone
}

func newFakeTombstones() *fakeTombstones { return &fakeTombstones{rows: map[string]Tombstone{}} }

func (t *fakeTombstones) key(workspaceID, table, pk string) string { return workspaceID + "/" + table + "/" + pk }

func (t *fakeTombstones) Get(_ context.Context, workspaceID, table, pk string) (Tombstone, bool, error) {
	r, ok := t.rows[t.key(workspaceID, table, pk)]
	return r, ok, nil
}

func (t *fakeTombstones) Put(_ context.Context, ts Tombstone) error {
	t.rows[t.key(ts.WorkspaceID, ts.Table, ts.PK)] = ts
	return nil
}

func (t *fakeTombstones) DeleteOlderThan(_ context.Context, workspaceID string, maxVersion int64, cutoff time.Time, limit int) (int, error) {
	return 0, nil
}

func testTables() *TableRegistry {
	return NewTableRegistry(TableDescriptor{Name: "notes", Columns: []string{"title"}})
}

func TestResolve_FirstWriteApplies(t *testing.T) {
	store, tombstones := newFakeStore(), newFakeTombstones()
	ctx := context.Background()
	now := time.Now()

	m := Mutation{OpID: "op1", Table: "notes", PK: "n1", Data: map[string]any{"title": "hello"}, HLC: "1700000000000.000000.dev-a"}
	stamp, err := ParseHLC(m.HLC)
	if err != nil {
		t.Fatalf("ParseHLC: %v", err)
	}

	outcome, change, err := resolve(ctx, store, tombstones, testTables(), "ws1", m, stamp, 1, now)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if outcome != OpApplied {
		t.Fatalf("outcome = %v, want OpApplied", outcome)
	}
	if change.ServerVersion != 1 {
		t.Fatalf("change.ServerVersion = %d, want 1", change.ServerVersion)
	}

	row, ok, err := store.Get(ctx, "ws1", "notes", "n1")
	if err != nil || !ok {
		t.Fatalf("expected row to be stored, ok=%v err=%v", ok, err)
	}
	if row.Data["title"] != "hello" {
		t.Fatalf("row.Data = %v", row.Data)
	}
}

func TestResolve_OlderClockLoses(t *testing.T) {
	store, tombstones := newFakeStore(), newFakeTombstones()
	ctx := context.Background()
	now := time.Now()

	newer := Mutation{OpID: "op1", Table: "notes", PK: "n1", Data: map[string]any{"title": "v2"}, HLC: "1700000000000.000005.dev-a"}
	stamp, _ := ParseHLC(newer.HLC)
	if _, _, err := resolve(ctx, store, tombstones, testTables(), "ws1", newer, stamp, 1, now); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	older := Mutation{OpID: "op2", Table: "notes", PK: "n1", Data: map[string]any{"title": "stale"}, HLC: "1700000000000.000001.dev-b"}
	oldStamp, _ := ParseHLC(older.HLC)
	outcome, _, err := resolve(ctx, store, tombstones, testTables(), "ws1", older, oldStamp, 2, now)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if outcome != OpConflict {
		t.Fatalf("outcome = %v, want OpConflict", outcome)
	}

	row, _, _ := store.Get(ctx, "ws1", "notes", "n1")
	if row.Data["title"] != "v2" {
		t.Fatalf("stale write overwrote newer value: %v", row.Data)
	}
}

func TestResolve_DeleteThenStalePutConflicts(t *testing.T) {
	store, tombstones := newFakeStore(), newFakeTombstones()
	ctx := context.Background()
	now := time.Now()

	del := Mutation{OpID: "op1", Table: "notes", PK: "n1", Deleted: true, HLC: "1700000000000.000010.dev-a"}
	delStamp, _ := ParseHLC(del.HLC)
	if _, _, err := resolve(ctx, store, tombstones, testTables(), "ws1", del, delStamp, 1, now); err != nil {
		t.Fatalf("resolve delete: %v", err)
	}

	put := Mutation{OpID: "op2", Table: "notes", PK: "n1", Data: map[string]any{"title": "resurrect"}, HLC: "1700000000000.000002.dev-b"}
	putStamp, _ := ParseHLC(put.HLC)
	outcome, _, err := resolve(ctx, store, tombstones, testTables(), "ws1", put, putStamp, 2, now)
	if err != nil {
		t.Fatalf("resolve put: %v", err)
	}
	if outcome != OpConflict {
		t.Fatalf("outcome = %v, want OpConflict (tombstone should block resurrection)", outcome)
	}
	row, ok, _ := store.Get(ctx, "ws1", "notes", "n1")
	if !ok || !row.Deleted {
		t.Fatalf("row should remain deleted, got ok=%v row=%v", ok, row)
	}
}

func TestResolve_PutAfterDeleteWithNewerClockResurrects(t *testing.T) {
	store, tombstones := newFakeStore(), newFakeTombstones()
	ctx := context.Background()
	now := time.Now()

	del := Mutation{OpID: "op1", Table: "notes", PK: "n1", Deleted: true, HLC: "1700000000000.000002.dev-a"}
	delStamp, _ := ParseHLC(del.HLC)
	if _, _, err := resolve(ctx, store, tombstones, testTables(), "ws1", del, delStamp, 1, now); err != nil {
		t.Fatalf("resolve delete: %v", err)
	}

	put := Mutation{OpID: "op2", Table: "notes", PK: "n1", Data: map[string]any{"title": "reborn"}, HLC: "1700000000001.000000.dev-b"}
	putStamp, _ := ParseHLC(put.HLC)
	outcome, _, err := resolve(ctx, store, tombstones, testTables(), "ws1", put, putStamp, 2, now)
	if err != nil {
		t.Fatalf("resolve put: %v", err)
	}
	if outcome != OpApplied {
		t.Fatalf("outcome = %v, want OpApplied", outcome)
	}
	row, ok, _ := store.Get(ctx, "ws1", "notes", "n1")
	if !ok || row.Data["title"] != "reborn" {
		t.Fatalf("expected row to be resurrected with newer clock, got ok=%v row=%v", ok, row)
	}
}

func TestResolve_RejectsEmptyPayload(t *testing.T) {
	store, tombstones := newFakeStore(), newFakeTombstones()
	ctx := context.Background()
	m := Mutation{OpID: "op1", Table: "notes", PK: "n1", HLC: "1700000000000.000000.dev-a"}
	stamp, _ := ParseHLC(m.HLC)
	if _, _, err := resolve(ctx, store, tombstones, testTables(), "ws1", m, stamp, 1, time.Now()); CodeOf(err) != CodeInvalidPayload {
		t.Fatalf("expected CodeInvalidPayload, got %v", err)
	}
}
