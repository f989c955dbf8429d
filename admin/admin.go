// Package admin implements the owner-gated administrative surface:
// workspace rename/delete, member upsert/role-change/removal, and
// workspace-scoped settings KV writes. Every operation here requires
// authz.RoleOwner; anything a plain member may do lives in sync and
// blob instead.
package admin

import (
	"context"
	"time"

	"github.com/or3/workspacesync/internal/authz"
	"github.com/or3/workspacesync/pkg/ulid"
	"github.com/or3/workspacesync/sync"
)

// Workspace is the durable record of a workspace's identity.
type Workspace struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WorkspaceStore persists Workspace rows.
type WorkspaceStore interface {
	Get(ctx context.Context, id string) (Workspace, bool, error)
	Create(ctx context.Context, w Workspace) error
	Rename(ctx context.Context, id, name string, updatedAt time.Time) error
	Delete(ctx context.Context, id string) error
}

// Options configures a Service.
type Options struct {
	Checker     *authz.Checker
	Memberships authz.Store
	Workspaces  WorkspaceStore
	Engine      *sync.Engine   // used to route settings KV writes through the normal push pipeline
	Clock       *sync.ClockSource
	Now         func() time.Time
}

// Service implements the administrative operations gated by
// authz.RoleOwner.
type Service struct {
	checker     *authz.Checker
	memberships authz.Store
	workspaces  WorkspaceStore
	engine      *sync.Engine
	clock       *sync.ClockSource
	now         func() time.Time
}

// NewService builds a Service from Options.
func NewService(opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		checker:     opts.Checker,
		memberships: opts.Memberships,
		workspaces:  opts.Workspaces,
		engine:      opts.Engine,
		clock:       opts.Clock,
		now:         now,
	}
}

// CreateWorkspace provisions a new workspace and makes userID its
// first owner. There is no workspace to authorize against yet, so the
// only requirement is a resolved identity, which the caller (an HTTP
// handler backed by authz.BearerIdentityResolver) has already checked
// by the time userID reaches here.
func (s *Service) CreateWorkspace(ctx context.Context, userID, name string) (Workspace, error) {
	now := s.now()
	w := Workspace{ID: ulid.New(), Name: name, CreatedAt: now, UpdatedAt: now}
	if err := s.workspaces.Create(ctx, w); err != nil {
		return Workspace{}, err
	}
	if err := s.memberships.Upsert(ctx, authz.Membership{WorkspaceID: w.ID, UserID: userID, Role: authz.RoleOwner}); err != nil {
		return Workspace{}, err
	}
	return w, nil
}

// RenameWorkspace requires ownership of workspaceID.
func (s *Service) RenameWorkspace(ctx context.Context, workspaceID, name string) error {
	if _, err := s.checker.RequireOwner(ctx, workspaceID); err != nil {
		return err
	}
	return s.workspaces.Rename(ctx, workspaceID, name, s.now())
}

// DeleteWorkspace requires ownership of workspaceID. It removes the
// workspace record itself; replicated rows, change log entries and
// memberships are left for operators to purge out-of-band (or for a
// future workspace-scoped GC pass), since an owner-initiated delete
// must not silently destroy history other members may still need to
// export first.
func (s *Service) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	if _, err := s.checker.RequireOwner(ctx, workspaceID); err != nil {
		return err
	}
	return s.workspaces.Delete(ctx, workspaceID)
}

// UpsertMember requires ownership of workspaceID and adds or changes
// userID's role.
func (s *Service) UpsertMember(ctx context.Context, workspaceID, userID string, role authz.Role) error {
	if _, err := s.checker.RequireOwner(ctx, workspaceID); err != nil {
		return err
	}
	return s.memberships.Upsert(ctx, authz.Membership{WorkspaceID: workspaceID, UserID: userID, Role: role})
}

// RemoveMember requires ownership of workspaceID.
func (s *Service) RemoveMember(ctx context.Context, workspaceID, userID string) error {
	if _, err := s.checker.RequireOwner(ctx, workspaceID); err != nil {
		return err
	}
	return s.memberships.Remove(ctx, workspaceID, userID)
}

// ListMembers requires only membership, since seeing a workspace's
// roster is not itself a destructive operation.
func (s *Service) ListMembers(ctx context.Context, workspaceID string) ([]authz.Membership, error) {
	if _, err := s.checker.RequireMember(ctx, workspaceID); err != nil {
		return nil, err
	}
	return s.memberships.ListByWorkspace(ctx, workspaceID)
}

// PutSetting requires ownership of workspaceID and writes (key, value)
// into the kv table through the ordinary push pipeline, stamping
// clock/hlc from the server's own clock rather than trusting a
// caller-supplied (and often zero) clock: an administrative write is
// server-authoritative, not a replicated device edit racing others.
func (s *Service) PutSetting(ctx context.Context, workspaceID, key string, value any) error {
	if _, err := s.checker.RequireOwner(ctx, workspaceID); err != nil {
		return err
	}
	stamp, err := s.clock.Next()
	if err != nil {
		return err
	}
	_, err = s.engine.Push(ctx, sync.PushRequest{
		WorkspaceID: workspaceID,
		DeviceID:    "admin",
		Ops: []sync.Mutation{{
			OpID:  sync.NewOpID(),
			Table: "kv",
			PK:    key,
			Data:  map[string]any{"key": key, "value": value},
			HLC:   stamp.String(),
		}},
	}, nil)
	return err
}
