package authz

import (
	"context"

	"github.com/or3/workspacesync/middlewares/bearerauth"
)

// BearerIdentityResolver adapts bearerauth's claims context value into
// an IdentityResolver: pair bearerauth.WithOptions' ValidatorWithContext
// with a validator that resolves a token to Identity{UserID}, and this
// reads it back out for Checker.
func BearerIdentityResolver(ctx context.Context) (Identity, bool) {
	id, ok := bearerauth.ClaimsFromContext(ctx).(Identity)
	return id, ok
}
