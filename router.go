// File: router.go
package mizu

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"runtime/debug"
	"strings"
)

// Handler is a mizu request handler. Returning an error routes the
// request to the router's ErrorHandler.
type Handler func(c *Ctx) error

// Middleware wraps a Handler with additional behavior.
type Middleware func(next Handler) Handler

// ErrorHandlerFunc renders an error to the response.
type ErrorHandlerFunc func(c *Ctx, err error)

// PanicError wraps a recovered panic value with a captured stack trace.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Router routes HTTP requests to Handlers through a middleware chain.
// It is built on top of the standard library's http.ServeMux method
// patterns ("GET /path") so path params use (*http.Request).PathValue.
type Router struct {
	mux    *http.ServeMux
	base   string
	global []Middleware // added via Use(); run only by this router's own ServeHTTP
	scoped []Middleware // middleware added via With()/Use() on this node
	onErr  ErrorHandlerFunc
	log    *slog.Logger
	std    []func(http.Handler) http.Handler // stdlib middleware, via Compat.Use

	// Compat bridges stdlib http.Handler-shaped APIs onto this router.
	Compat *httpRouter
}

// NewRouter creates a Router ready to register routes on.
func NewRouter() *Router {
	r := &Router{
		mux: http.NewServeMux(),
		log: slog.Default(),
	}
	r.Compat = &httpRouter{r: r}
	return r
}

// Logger returns the router's logger.
func (r *Router) Logger() *slog.Logger { return r.log }

// SetLogger sets the router's logger; a nil logger is ignored.
func (r *Router) SetLogger(l *slog.Logger) {
	if l != nil {
		r.log = l
	}
}

// Use appends global middleware, run for every request reaching this
// router (and, since routers compose via ServeHTTP, any sub-router
// mounted under it).
func (r *Router) Use(mw ...Middleware) {
	r.global = append(r.global, mw...)
}

// ErrorHandler installs a custom handler for errors returned by Handlers
// and for recovered panics.
func (r *Router) ErrorHandler(fn ErrorHandlerFunc) {
	r.onErr = fn
}

// With returns a scoped view of the router that applies extra
// middleware to routes registered on it, without affecting the parent.
func (r *Router) With(mw ...Middleware) *Router {
	child := &Router{
		mux:    r.mux,
		base:   r.base,
		onErr:  r.onErr,
		log:    r.log,
		scoped: append(append([]Middleware{}, r.scoped...), mw...),
	}
	child.Compat = &httpRouter{r: child}
	return child
}

// Prefix returns a scoped router whose routes are registered under
// base+prefix on the parent's mux. Requests reach those routes through
// the parent's ServeHTTP, so middleware added via Use on the returned
// router does not run for them; With scopes middleware to a group.
func (r *Router) Prefix(prefix string) *Router {
	child := &Router{
		mux:    r.mux,
		base:   joinPath(r.base, prefix),
		onErr:  r.onErr,
		log:    r.log,
		scoped: append([]Middleware{}, r.scoped...),
	}
	child.Compat = &httpRouter{r: child}
	return child
}

func (r *Router) chain(h Handler) Handler {
	for i := len(r.scoped) - 1; i >= 0; i-- {
		h = r.scoped[i](h)
	}
	return h
}

// Handle registers a handler for an exact method ("" means any method)
// and path, applying this router's scoped middleware.
func (r *Router) Handle(method, p string, h Handler) {
	final := r.chain(h)
	pattern := r.fullPath(p)
	if method != "" {
		pattern = method + " " + pattern
	}
	r.mux.Handle(pattern, r.wrapStd(final))
}

func (r *Router) Get(p string, h Handler)     { r.Handle(http.MethodGet, p, h) }
func (r *Router) Post(p string, h Handler)    { r.Handle(http.MethodPost, p, h) }
func (r *Router) Put(p string, h Handler)     { r.Handle(http.MethodPut, p, h) }
func (r *Router) Patch(p string, h Handler)   { r.Handle(http.MethodPatch, p, h) }
func (r *Router) Delete(p string, h Handler)  { r.Handle(http.MethodDelete, p, h) }
func (r *Router) Options(p string, h Handler) { r.Handle(http.MethodOptions, p, h) }

// Static serves files from fsys under prefix, redirecting bare prefix
// requests to prefix+"/".
func (r *Router) Static(prefix string, fsys http.FileSystem) {
	fileServer := http.FileServer(fsys)
	base := r.fullPath(prefix)
	trimmed := strings.TrimSuffix(base, "/")

	h := func(c *Ctx) error {
		req := c.Request()
		if trimmed != "" && req.URL.Path == trimmed {
			http.Redirect(c.Writer(), req, trimmed+"/", http.StatusMovedPermanently)
			return nil
		}
		sub := strings.TrimPrefix(req.URL.Path, trimmed)
		if sub == "" {
			sub = "/"
		}
		r2 := new(http.Request)
		*r2 = *req
		r2.URL = cloneURLWithPath(req.URL, sub)
		fileServer.ServeHTTP(c.Writer(), r2)
		return nil
	}

	final := r.chain(h)
	if trimmed == "" {
		r.mux.Handle("/", r.wrapStd(final))
		return
	}
	r.mux.Handle(trimmed, r.wrapStd(final))
	r.mux.Handle(trimmed+"/", r.wrapStd(final))
}

func (r *Router) wrapStd(h Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		c := newCtx(w, req, r.log)
		defer func() {
			if rec := recover(); rec != nil {
				pe := &PanicError{Value: rec, Stack: debug.Stack()}
				r.handleErr(c, pe)
			}
		}()
		if err := h(c); err != nil {
			r.handleErr(c, err)
		}
	}
}

func (r *Router) handleErr(c *Ctx, err error) {
	if r.onErr != nil {
		r.onErr(c, err)
		return
	}
	var pe *PanicError
	if errors.As(err, &pe) {
		r.log.Error("panic recovered", slog.Any("value", pe.Value), slog.String("stack", string(pe.Stack)))
	}
	http.Error(c.Writer(), http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// ServeHTTP implements http.Handler, running global middleware before
// dispatching into the method/path mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var root http.Handler = r.mux
	for i := len(r.std) - 1; i >= 0; i-- {
		root = r.std[i](root)
	}

	final := Handler(func(c *Ctx) error {
		root.ServeHTTP(c.Writer(), c.Request())
		return nil
	})
	for i := len(r.global) - 1; i >= 0; i-- {
		final = r.global[i](final)
	}
	c := newCtx(w, req, r.log)
	defer func() {
		if rec := recover(); rec != nil {
			pe := &PanicError{Value: rec, Stack: debug.Stack()}
			r.handleErr(c, pe)
		}
	}()
	if err := final(c); err != nil {
		r.handleErr(c, err)
	}
}

// --- path helpers ---

func cleanLeading(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func joinPath(base, p string) string {
	base = strings.TrimSuffix(base, "/")
	p = cleanLeading(p)
	if p == "/" {
		if base == "" {
			return "/"
		}
		return base
	}
	joined := base + p
	if joined == "" {
		return "/"
	}
	return path.Clean(joined)
}

func (r *Router) fullPath(p string) string {
	return joinPath(r.base, p)
}

func cloneURLWithPath(u *url.URL, p string) *url.URL {
	nu := *u
	nu.Path = p
	nu.RawPath = ""
	return &nu
}
