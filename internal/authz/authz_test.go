package authz

import (
	"context"
	"testing"
)

type memStore struct {
	rows map[string]Membership
}

func newMemStore() *memStore { return &memStore{rows: map[string]Membership{}} }

func (s *memStore) key(workspaceID, userID string) string { return workspaceID + "/" + userID }

func (s *memStore) Get(_ context.Context, workspaceID, userID string) (Membership, bool, error) {
	m, ok := s.rows[s.key(workspaceID, userID)]
	return m, ok, nil
}

func (s *memStore) Upsert(_ context.Context, m Membership) error {
	s.rows[s.key(m.WorkspaceID, m.UserID)] = m
	return nil
}

func (s *memStore) Remove(_ context.Context, workspaceID, userID string) error {
	delete(s.rows, s.key(workspaceID, userID))
	return nil
}

func (s *memStore) ListByWorkspace(_ context.Context, workspaceID string) ([]Membership, error) {
	var out []Membership
	for _, m := range s.rows {
		if m.WorkspaceID == workspaceID {
			out = append(out, m)
		}
	}
	return out, nil
}

func resolverFor(userID string, ok bool) IdentityResolver {
	return func(ctx context.Context) (Identity, bool) {
		if !ok {
			return Identity{}, false
		}
		return Identity{UserID: userID}, true
	}
}

func TestChecker_RequireMember_NoIdentity(t *testing.T) {
	c := NewChecker(newMemStore(), resolverFor("", false))
	if _, err := c.RequireMember(context.Background(), "ws1"); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestChecker_RequireMember_NotAMember(t *testing.T) {
	c := NewChecker(newMemStore(), resolverFor("u1", true))
	if _, err := c.RequireMember(context.Background(), "ws1"); err != ErrForbidden {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestChecker_RequireMember_AnyRoleSucceeds(t *testing.T) {
	store := newMemStore()
	store.Upsert(context.Background(), Membership{WorkspaceID: "ws1", UserID: "u1", Role: RoleViewer})
	c := NewChecker(store, resolverFor("u1", true))
	userID, err := c.RequireMember(context.Background(), "ws1")
	if err != nil {
		t.Fatalf("RequireMember: %v", err)
	}
	if userID != "u1" {
		t.Fatalf("userID = %q, want u1", userID)
	}
}

func TestChecker_RequireOwner_EditorDenied(t *testing.T) {
	store := newMemStore()
	store.Upsert(context.Background(), Membership{WorkspaceID: "ws1", UserID: "u1", Role: RoleEditor})
	c := NewChecker(store, resolverFor("u1", true))
	if _, err := c.RequireOwner(context.Background(), "ws1"); err != ErrForbidden {
		t.Fatalf("expected ErrForbidden for editor calling RequireOwner, got %v", err)
	}
}

func TestChecker_RequireOwner_OwnerAllowed(t *testing.T) {
	store := newMemStore()
	store.Upsert(context.Background(), Membership{WorkspaceID: "ws1", UserID: "u1", Role: RoleOwner})
	c := NewChecker(store, resolverFor("u1", true))
	if _, err := c.RequireOwner(context.Background(), "ws1"); err != nil {
		t.Fatalf("RequireOwner: %v", err)
	}
}
