package blob

import (
	"context"
	"sync"
	"testing"
	"time"
)

type memStore struct {
	mu   sync.Mutex
	rows map[string]Meta
}

func newMemStore() *memStore { return &memStore{rows: map[string]Meta{}} }

func (s *memStore) key(workspaceID, hash string) string { return workspaceID + "/" + hash }

func (s *memStore) Get(_ context.Context, workspaceID, hash string) (Meta, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[s.key(workspaceID, hash)]
	return m, ok, nil
}

func (s *memStore) Put(_ context.Context, m Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[s.key(m.WorkspaceID, m.Hash)] = m
	return nil
}

func (s *memStore) ListDeleted(_ context.Context, workspaceID string, cutoff time.Time, limit int) ([]Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Meta
	for _, m := range s.rows {
		if len(out) >= limit {
			break
		}
		if m.WorkspaceID == workspaceID && m.Deleted && m.RefCount == 0 && !m.DeletedAt.After(cutoff) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) Remove(_ context.Context, workspaceID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, s.key(workspaceID, hash))
	return nil
}

type memProvider struct {
	mu      sync.Mutex
	deleted map[string]bool
}

func newMemProvider() *memProvider { return &memProvider{deleted: map[string]bool{}} }

func (p *memProvider) PresignPut(_ context.Context, storageID string, ttl time.Duration) (string, error) {
	return "https://blobs.example/put/" + storageID, nil
}

func (p *memProvider) PresignGet(_ context.Context, storageID string, ttl time.Duration) (string, error) {
	return "https://blobs.example/get/" + storageID, nil
}

func (p *memProvider) Delete(_ context.Context, storageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted[storageID] = true
	return nil
}

func TestGateway_UploadCommitGetRoundTrip(t *testing.T) {
	store, provider := newMemStore(), newMemProvider()
	frozen := time.Unix(1700000000, 0)
	gw := NewGateway(Options{Store: store, Provider: provider, Secret: []byte("s3cr3t"), Now: func() time.Time { return frozen }})
	ctx := context.Background()

	url, token, storageID, err := gw.GenerateUploadURL(ctx, "ws1", "hash1", "image/png", 1024)
	if err != nil {
		t.Fatalf("GenerateUploadURL: %v", err)
	}
	if url == "" || token == "" || storageID == "" {
		t.Fatal("expected non-empty url, token and storage id")
	}

	wsID, hash, err := gw.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if wsID != "ws1" || hash != "hash1" {
		t.Fatalf("VerifyToken = (%q, %q)", wsID, hash)
	}

	if err := gw.CommitUpload(ctx, Meta{WorkspaceID: "ws1", Hash: "hash1", StorageID: storageID, MimeType: "image/png", SizeBytes: 1024, Kind: KindImage}); err != nil {
		t.Fatalf("CommitUpload: %v", err)
	}

	m, ok, err := store.Get(ctx, "ws1", "hash1")
	if err != nil || !ok {
		t.Fatalf("expected meta row, ok=%v err=%v", ok, err)
	}
	if m.RefCount != 1 {
		t.Fatalf("RefCount = %d, want 1 on first commit", m.RefCount)
	}

	getURL, err := gw.GetFileURL(ctx, "ws1", "hash1")
	if err != nil {
		t.Fatalf("GetFileURL: %v", err)
	}
	if getURL == "" {
		t.Fatal("expected non-empty get url")
	}
}

func TestGateway_GenerateUploadURL_ReusesStorageIDForKnownHash(t *testing.T) {
	store, provider := newMemStore(), newMemProvider()
	gw := NewGateway(Options{Store: store, Provider: provider, Secret: []byte("s3cr3t")})
	ctx := context.Background()

	if err := store.Put(ctx, Meta{WorkspaceID: "ws1", Hash: "hash1", StorageID: "existing-storage-id", RefCount: 2}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	_, _, storageID, err := gw.GenerateUploadURL(ctx, "ws1", "hash1", "image/png", 1024)
	if err != nil {
		t.Fatalf("GenerateUploadURL: %v", err)
	}
	if storageID != "existing-storage-id" {
		t.Fatalf("storageID = %q, want reuse of existing row's storage id", storageID)
	}
}

func TestGateway_CommitUpload_PreservesRefCount(t *testing.T) {
	store, provider := newMemStore(), newMemProvider()
	gw := NewGateway(Options{Store: store, Provider: provider, Secret: []byte("s3cr3t")})
	ctx := context.Background()

	if err := store.Put(ctx, Meta{WorkspaceID: "ws1", Hash: "hash1", RefCount: 4}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := gw.CommitUpload(ctx, Meta{WorkspaceID: "ws1", Hash: "hash1", StorageID: "ws1/hash1"}); err != nil {
		t.Fatalf("CommitUpload: %v", err)
	}
	m, _, _ := store.Get(ctx, "ws1", "hash1")
	if m.RefCount != 4 {
		t.Fatalf("RefCount = %d, want preserved 4", m.RefCount)
	}
}

func TestGateway_GetFileURL_NotFound(t *testing.T) {
	store, provider := newMemStore(), newMemProvider()
	gw := NewGateway(Options{Store: store, Provider: provider, Secret: []byte("s")})
	if _, err := gw.GetFileURL(context.Background(), "ws1", "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGateway_VerifyToken_RejectsExpired(t *testing.T) {
	store, provider := newMemStore(), newMemProvider()
	frozen := time.Unix(1700000000, 0)
	gw := NewGateway(Options{Store: store, Provider: provider, Secret: []byte("s"), TTL: time.Second, Now: func() time.Time { return frozen }})
	_, token, _, err := gw.GenerateUploadURL(context.Background(), "ws1", "hash1", "image/png", 10)
	if err != nil {
		t.Fatalf("GenerateUploadURL: %v", err)
	}

	later := NewGateway(Options{Store: store, Provider: provider, Secret: []byte("s"), Now: func() time.Time { return frozen.Add(2 * time.Second) }})
	if _, _, err := later.VerifyToken(token); err == nil {
		t.Fatal("expected expired token to fail verification")
	}
}

func TestGateway_GCDeletedFiles_RemovesBackingObjectFirst(t *testing.T) {
	store, provider := newMemStore(), newMemProvider()
	frozen := time.Unix(1700000000, 0)
	gw := NewGateway(Options{Store: store, Provider: provider, Secret: []byte("s"), Now: func() time.Time { return frozen }})
	ctx := context.Background()

	old := frozen.Add(-48 * time.Hour)
	if err := store.Put(ctx, Meta{WorkspaceID: "ws1", Hash: "hash1", StorageID: "ws1/hash1", Deleted: true, RefCount: 0, DeletedAt: old}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	removed, err := gw.GCDeletedFiles(ctx, "ws1", 24*time.Hour, 10)
	if err != nil {
		t.Fatalf("GCDeletedFiles: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if !provider.deleted["ws1/hash1"] {
		t.Fatal("expected backing storage object to be deleted")
	}
	if _, ok, _ := store.Get(ctx, "ws1", "hash1"); ok {
		t.Fatal("expected file_meta row to be removed")
	}
}
