// File: compat.go
package mizu

import "net/http"

// httpRouter bridges stdlib http.Handler-shaped registration and
// middleware onto a Router, for code that wants to reuse existing
// net/http middleware or handlers unmodified.
type httpRouter struct {
	r    *Router
	base string
}

func (h *httpRouter) full(p string) string {
	return h.r.fullPath(joinPath(h.base, p))
}

func toHandler(sh http.Handler) Handler {
	return func(c *Ctx) error {
		sh.ServeHTTP(c.Writer(), c.Request())
		return nil
	}
}

// Handle registers a plain http.Handler for any method at pattern.
func (h *httpRouter) Handle(pattern string, sh http.Handler) {
	h.r.mux.Handle(h.full(pattern), h.r.wrapStd(h.r.chain(toHandler(sh))))
}

// HandleMethod registers a plain http.Handler for one method at pattern.
func (h *httpRouter) HandleMethod(method, pattern string, sh http.Handler) {
	h.r.mux.Handle(method+" "+h.full(pattern), h.r.wrapStd(h.r.chain(toHandler(sh))))
}

// Mount attaches sh so it serves prefix and the subtree under it.
func (h *httpRouter) Mount(prefix string, sh http.Handler) {
	p := h.full(prefix)
	wrapped := h.r.wrapStd(h.r.chain(toHandler(sh)))
	h.r.mux.Handle(p, wrapped)
	h.r.mux.Handle(p+"/", wrapped)
}

// Use appends a stdlib-shaped middleware, applied around every request
// this Router serves (global, like Router.Use but at the http.Handler
// level instead of mizu's Handler level).
func (h *httpRouter) Use(mw func(http.Handler) http.Handler) {
	h.r.std = append(h.r.std, mw)
}

// Group scopes subsequent registrations on the returned *httpRouter
// under base+prefix.
func (h *httpRouter) Group(prefix string, fn func(g *httpRouter)) {
	fn(&httpRouter{r: h.r, base: joinPath(h.base, prefix)})
}
