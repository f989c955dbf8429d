package authz_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	mizu "github.com/or3/workspacesync"
	"github.com/or3/workspacesync/internal/authz"
	"github.com/or3/workspacesync/middlewares/bearerauth"
)

func TestBearerIdentityResolver_NoClaimsInContext(t *testing.T) {
	if _, ok := authz.BearerIdentityResolver(t.Context()); ok {
		t.Fatal("expected no identity in a bare context")
	}
}

func TestBearerIdentityResolver_ReadsMiddlewareClaims(t *testing.T) {
	r := mizu.NewRouter()
	r.Use(bearerauth.WithOptions(bearerauth.Options{
		ValidatorWithContext: func(token string) (any, bool) {
			if token != "good-token" {
				return nil, false
			}
			return authz.Identity{UserID: "user-1"}, true
		},
	}))

	var resolved authz.Identity
	var ok bool
	r.Get("/whoami", func(c *mizu.Ctx) error {
		resolved, ok = authz.BearerIdentityResolver(c.Context())
		return c.NoContent()
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if !ok {
		t.Fatal("expected identity to resolve from middleware claims")
	}
	if resolved.UserID != "user-1" {
		t.Fatalf("UserID = %q, want user-1", resolved.UserID)
	}
}

func TestBearerIdentityResolver_RejectedTokenNeverReachesHandler(t *testing.T) {
	r := mizu.NewRouter()
	r.Use(bearerauth.WithOptions(bearerauth.Options{
		ValidatorWithContext: func(token string) (any, bool) {
			return authz.Identity{UserID: "user-1"}, token == "good-token"
		},
	}))

	called := false
	r.Get("/whoami", func(c *mizu.Ctx) error {
		called = true
		return c.NoContent()
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if called {
		t.Fatal("handler should not run when the bearer token is rejected")
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}
