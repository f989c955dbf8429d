package duckdb

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/or3/workspacesync/admin"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := New(db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := store.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	return db
}

func TestWorkspaceStore_CreateGetRenameDelete(t *testing.T) {
	db := newTestDB(t)
	ws := NewWorkspaceStore(db)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	if err := ws.Create(ctx, admin.Workspace{ID: "ws1", Name: "Acme", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, ok, err := ws.Get(ctx, "ws1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Name != "Acme" {
		t.Fatalf("Name = %q, want %q", got.Name, "Acme")
	}

	later := now.Add(time.Minute)
	if err := ws.Rename(ctx, "ws1", "Acme Corp", later); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	got, _, _ = ws.Get(ctx, "ws1")
	if got.Name != "Acme Corp" {
		t.Fatalf("Name after rename = %q", got.Name)
	}

	if err := ws.Delete(ctx, "ws1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := ws.Get(ctx, "ws1"); ok {
		t.Fatal("expected workspace to be gone after Delete")
	}
}

func TestWorkspaceStore_GetMissing(t *testing.T) {
	db := newTestDB(t)
	ws := NewWorkspaceStore(db)
	if _, ok, err := ws.Get(context.Background(), "missing"); err != nil || ok {
		t.Fatalf("Get missing: ok=%v err=%v", ok, err)
	}
}
