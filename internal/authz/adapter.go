package authz

import (
	"context"

	"github.com/or3/workspacesync/sync"
)

// SyncAuthorizer adapts Checker to sync.Authorizer: every push/pull/
// watch just needs membership, regardless of role.
func (c *Checker) SyncAuthorizer() sync.Authorizer {
	return sync.AuthorizerFunc(func(ctx context.Context, workspaceID, _ string) error {
		_, err := c.RequireMember(ctx, workspaceID)
		switch err {
		case nil:
			return nil
		case ErrUnauthorized:
			return sync.ErrUnauthorized
		case ErrForbidden:
			return sync.ErrForbidden
		default:
			return err
		}
	})
}
