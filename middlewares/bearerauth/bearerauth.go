// Package bearerauth validates Authorization: Bearer <token> (or a
// custom header/scheme) requests and makes the token, and optionally a
// validator-supplied claims value, available to downstream handlers.
package bearerauth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	mizu "github.com/or3/workspacesync"
)

// Errors returned to ErrorHandler, or rendered as plain text if none
// is set.
var (
	ErrTokenMissing  = errors.New("token missing")
	ErrTokenInvalid  = errors.New("token invalid")
	ErrInvalidScheme = errors.New("invalid auth scheme")
)

// Options configures the middleware. At least one of Validator and
// ValidatorWithContext must be set; ValidatorWithContext takes
// precedence when both are.
type Options struct {
	// Validator approves or rejects a token with no further context.
	Validator func(token string) bool
	// ValidatorWithContext additionally returns an arbitrary claims
	// value, stashed in the request context for FromContext/Claims to
	// retrieve.
	ValidatorWithContext func(token string) (any, bool)
	// ErrorHandler, if set, takes over writing the error response.
	ErrorHandler func(c *mizu.Ctx, err error) error
	// Header is the header the token is read from; defaults to
	// "Authorization".
	Header string
	// AuthScheme is the expected scheme prefix; defaults to "Bearer".
	AuthScheme string
}

type ctxKey int

const (
	tokenKey ctxKey = iota
	claimsKey
)

// New builds a middleware that approves requests whose bearer token
// satisfies validator.
func New(validator func(token string) bool) mizu.Middleware {
	return WithOptions(Options{Validator: validator})
}

// WithHeader builds a middleware reading the token from a header other
// than Authorization, still expecting a "Bearer <token>"-shaped value.
func WithHeader(header string, validator func(token string) bool) mizu.Middleware {
	return WithOptions(Options{Validator: validator, Header: header})
}

// WithOptions builds a middleware from Options. It panics if neither
// Validator nor ValidatorWithContext is set, since that would approve
// every request.
func WithOptions(opts Options) mizu.Middleware {
	if opts.Validator == nil && opts.ValidatorWithContext == nil {
		panic("bearerauth: WithOptions requires a Validator or ValidatorWithContext")
	}
	header := opts.Header
	if header == "" {
		header = "Authorization"
	}
	scheme := opts.AuthScheme
	if scheme == "" {
		scheme = "Bearer"
	}

	return func(next mizu.Handler) mizu.Handler {
		return func(c *mizu.Ctx) error {
			raw := c.Request().Header.Get(header)
			if raw == "" {
				return fail(c, opts, ErrTokenMissing, http.StatusUnauthorized)
			}

			prefix := scheme + " "
			if !strings.HasPrefix(raw, prefix) {
				return fail(c, opts, ErrInvalidScheme, http.StatusForbidden)
			}
			token := strings.TrimPrefix(raw, prefix)

			var claims any
			if opts.ValidatorWithContext != nil {
				v, ok := opts.ValidatorWithContext(token)
				if !ok {
					return fail(c, opts, ErrTokenInvalid, http.StatusForbidden)
				}
				claims = v
			} else if !opts.Validator(token) {
				return fail(c, opts, ErrTokenInvalid, http.StatusForbidden)
			}

			ctx := context.WithValue(c.Context(), tokenKey, token)
			if claims != nil {
				ctx = context.WithValue(ctx, claimsKey, claims)
			}
			c.SetContext(ctx)
			return next(c)
		}
	}
}

func fail(c *mizu.Ctx, opts Options, err error, status int) error {
	if opts.ErrorHandler != nil {
		return opts.ErrorHandler(c, err)
	}
	return c.Text(status, err.Error())
}

// Token returns the bearer token validated for this request, or "" if
// the middleware never ran.
func Token(c *mizu.Ctx) string {
	v, _ := c.Context().Value(tokenKey).(string)
	return v
}

// FromContext returns the claims value a ValidatorWithContext produced
// for this request, or nil.
func FromContext(c *mizu.Ctx) any {
	return ClaimsFromContext(c.Context())
}

// ClaimsFromContext is FromContext for callers that only have the
// plain context.Context (e.g. an internal/authz.IdentityResolver),
// not a *mizu.Ctx.
func ClaimsFromContext(ctx context.Context) any {
	return ctx.Value(claimsKey)
}

// Claims type-asserts FromContext's result to T.
func Claims[T any](c *mizu.Ctx) (T, bool) {
	v, ok := FromContext(c).(T)
	return v, ok
}
