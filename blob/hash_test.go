package blob

import (
	"bytes"
	"testing"
)

func TestHashContent_Deterministic(t *testing.T) {
	h1, err := HashContent(bytes.NewReader([]byte("hello world")))
	if err != nil {
		t.Fatalf("HashContent: %v", err)
	}
	h2, err := HashContent(bytes.NewReader([]byte("hello world")))
	if err != nil {
		t.Fatalf("HashContent: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("HashContent not deterministic: %q != %q", h1, h2)
	}

	h3, err := HashContent(bytes.NewReader([]byte("different content")))
	if err != nil {
		t.Fatalf("HashContent: %v", err)
	}
	if h1 == h3 {
		t.Fatal("expected different content to hash differently")
	}
}

func TestDerivePresignSecret_StableAndDistinctPerWorkspace(t *testing.T) {
	master := []byte("master-secret-value")

	a1, err := DerivePresignSecret(master, "ws-a")
	if err != nil {
		t.Fatalf("DerivePresignSecret: %v", err)
	}
	a2, err := DerivePresignSecret(master, "ws-a")
	if err != nil {
		t.Fatalf("DerivePresignSecret: %v", err)
	}
	if !bytes.Equal(a1, a2) {
		t.Fatal("expected deterministic derivation for the same workspace")
	}

	b, err := DerivePresignSecret(master, "ws-b")
	if err != nil {
		t.Fatalf("DerivePresignSecret: %v", err)
	}
	if bytes.Equal(a1, b) {
		t.Fatal("expected distinct secrets for distinct workspaces")
	}
}
