package blob

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalProvider_SaveOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p, err := NewLocalProvider(dir, "http://localhost/api/blob/objects")
	if err != nil {
		t.Fatalf("NewLocalProvider: %v", err)
	}

	if err := p.Save("obj1", bytes.NewReader([]byte("hello"))); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rc, err := p.Open("obj1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("content = %q, want %q", got, "hello")
	}
}

func TestLocalProvider_DeleteMissingIsNotError(t *testing.T) {
	p, err := NewLocalProvider(t.TempDir(), "http://localhost/objects")
	if err != nil {
		t.Fatalf("NewLocalProvider: %v", err)
	}
	if err := p.Delete(context.Background(), "never-written"); err != nil {
		t.Fatalf("Delete on missing object should be a no-op, got %v", err)
	}
}

func TestLocalProvider_DeleteRemovesFile(t *testing.T) {
	dir := t.TempDir()
	p, err := NewLocalProvider(dir, "http://localhost/objects")
	if err != nil {
		t.Fatalf("NewLocalProvider: %v", err)
	}
	if err := p.Save("obj1", bytes.NewReader([]byte("x"))); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := p.Delete(context.Background(), "obj1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "obj1")); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err = %v", err)
	}
}

func TestLocalProvider_PresignURLsIncludeStorageID(t *testing.T) {
	p, err := NewLocalProvider(t.TempDir(), "http://localhost/api/blob/objects")
	if err != nil {
		t.Fatalf("NewLocalProvider: %v", err)
	}
	putURL, err := p.PresignPut(context.Background(), "obj1", 0)
	if err != nil {
		t.Fatalf("PresignPut: %v", err)
	}
	if putURL != "http://localhost/api/blob/objects/obj1" {
		t.Fatalf("PresignPut = %q", putURL)
	}
	getURL, err := p.PresignGet(context.Background(), "obj1", 0)
	if err != nil {
		t.Fatalf("PresignGet: %v", err)
	}
	if getURL != "http://localhost/api/blob/objects/obj1" {
		t.Fatalf("PresignGet = %q", getURL)
	}
}
