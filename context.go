// File: context.go
package mizu

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
	"unicode/utf8"
)

// Ctx wraps a single HTTP request/response pair with convenience
// helpers. It is not safe for use after the handler returns.
type Ctx struct {
	w   http.ResponseWriter
	req *http.Request
	log *slog.Logger
	rc  *http.ResponseController

	status    int
	wroteOnce bool
}

func newCtx(w http.ResponseWriter, req *http.Request, log *slog.Logger) *Ctx {
	c := &Ctx{w: w, req: req, log: log, status: http.StatusOK}
	c.rc = http.NewResponseController(w)
	return c
}

// Request returns the underlying *http.Request.
func (c *Ctx) Request() *http.Request { return c.req }

// Writer returns the underlying http.ResponseWriter.
func (c *Ctx) Writer() http.ResponseWriter { return c.w }

// SetWriter swaps the response writer (used by middleware that wraps
// the writer, e.g. for compression or status capture) and rebuilds the
// ResponseController bound to it.
func (c *Ctx) SetWriter(w http.ResponseWriter) {
	c.w = w
	c.rc = http.NewResponseController(w)
}

// Header returns the response header map.
func (c *Ctx) Header() http.Header { return c.w.Header() }

// Context returns the request's context.Context.
func (c *Ctx) Context() context.Context { return c.req.Context() }

// SetContext replaces the request's context.Context, for middleware
// that attaches request-scoped values (auth identity, trace spans)
// for downstream handlers to read back via Context().
func (c *Ctx) SetContext(ctx context.Context) {
	c.req = c.req.WithContext(ctx)
}

// Logger returns the router's logger, or slog.Default if none was set.
func (c *Ctx) Logger() *slog.Logger {
	if c.log != nil {
		return c.log
	}
	return slog.Default()
}

// Status sets the status code to be used by the next Write/WriteString
// call, or by File/Download when called with code 0.
func (c *Ctx) Status(code int) *Ctx {
	c.status = code
	return c
}

// StatusCode returns the status previously set via Status (default 200).
func (c *Ctx) StatusCode() int { return c.status }

func (c *Ctx) writeHeaderOnce() {
	if !c.wroteOnce {
		c.w.WriteHeader(c.status)
		c.wroteOnce = true
	}
}

// Write implements io.Writer, honoring Status().
func (c *Ctx) Write(p []byte) (int, error) {
	c.writeHeaderOnce()
	return c.w.Write(p)
}

// WriteString writes a string, honoring Status().
func (c *Ctx) WriteString(s string) (int, error) {
	c.writeHeaderOnce()
	return io.WriteString(c.w, s)
}

// Param returns a path value set via (*http.Request).SetPathValue,
// i.e. a {name}-style segment from the route pattern.
func (c *Ctx) Param(name string) string { return c.req.PathValue(name) }

// Query returns the first value of a query parameter.
func (c *Ctx) Query(name string) string {
	if c.req.URL == nil {
		return ""
	}
	return c.req.URL.Query().Get(name)
}

// QueryValues returns all query parameters.
func (c *Ctx) QueryValues() url.Values {
	if c.req.URL == nil {
		return url.Values{}
	}
	return c.req.URL.Query()
}

// Form parses and returns the request's form values (query + urlencoded body).
func (c *Ctx) Form() (url.Values, error) {
	if err := c.req.ParseForm(); err != nil {
		return nil, err
	}
	return c.req.Form, nil
}

// MultipartForm parses a multipart form up to maxMemory bytes held in
// memory, returning a cleanup func that removes any temp files.
func (c *Ctx) MultipartForm(maxMemory int64) (*multipart.Form, func(), error) {
	if err := c.req.ParseMultipartForm(maxMemory); err != nil {
		return nil, func() {}, err
	}
	form := c.req.MultipartForm
	return form, func() {
		if form != nil {
			_ = form.RemoveAll()
		}
	}, nil
}

// Cookie returns a named request cookie.
func (c *Ctx) Cookie(name string) (*http.Cookie, error) {
	return c.req.Cookie(name)
}

// SetCookie adds a Set-Cookie header.
func (c *Ctx) SetCookie(cookie *http.Cookie) {
	http.SetCookie(c.w, cookie)
}

// ErrBodyTooLarge is returned by Bind when the request body exceeds the
// configured limit.
var ErrBodyTooLarge = errors.New("mizu: request body too large")

// Bind decodes a JSON body into v, rejecting unknown fields and
// trailing data. maxBytes caps the body size; 0 means unlimited.
func (c *Ctx) Bind(v any, maxBytes int64) error {
	body := c.req.Body
	if maxBytes > 0 {
		body = http.MaxBytesReader(c.w, body, maxBytes)
	}
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("mizu: unexpected trailing data after JSON body")
	}
	return nil
}

// JSON writes v as a JSON response with the given status code.
func (c *Ctx) JSON(code int, v any) error {
	if c.Header().Get("Content-Type") == "" {
		c.Header().Set("Content-Type", "application/json; charset=utf-8")
	}
	c.Status(code)
	c.writeHeaderOnce()
	return json.NewEncoder(c.w).Encode(v)
}

// HTML writes s as an HTML response.
func (c *Ctx) HTML(code int, s string) error {
	if c.Header().Get("Content-Type") == "" {
		c.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	c.Status(code)
	_, err := c.WriteString(s)
	return err
}

// Text writes s as a plain-text response, falling back to
// application/octet-stream if s is not valid UTF-8.
func (c *Ctx) Text(code int, s string) error {
	if c.Header().Get("Content-Type") == "" {
		if utf8.ValidString(s) {
			c.Header().Set("Content-Type", "text/plain; charset=utf-8")
		} else {
			c.Header().Set("Content-Type", "application/octet-stream")
		}
	}
	c.Status(code)
	_, err := c.WriteString(s)
	return err
}

// Bytes writes b as a response with the given content type (defaulting
// to application/octet-stream when empty).
func (c *Ctx) Bytes(code int, b []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if c.Header().Get("Content-Type") == "" {
		c.Header().Set("Content-Type", contentType)
	}
	c.Status(code)
	_, err := c.Write(b)
	return err
}

// NoContent writes a 204 response.
func (c *Ctx) NoContent() error {
	c.w.WriteHeader(http.StatusNoContent)
	c.wroteOnce = true
	return nil
}

// Redirect writes a redirect response; code 0 defaults to 302 Found.
func (c *Ctx) Redirect(code int, location string) error {
	if code == 0 {
		code = http.StatusFound
	}
	http.Redirect(c.w, c.req, location, code)
	c.wroteOnce = true
	return nil
}

// File serves a filesystem path, using the ctx's Status() when code==0.
func (c *Ctx) File(code int, path string) error {
	if code != 0 {
		c.Status(code)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	c.writeHeaderOnce()
	http.ServeContent(c.w, c.req, fi.Name(), fi.ModTime(), f)
	return nil
}

// Download serves path as an attachment with the given filename.
func (c *Ctx) Download(code int, path, filename string) error {
	c.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	return c.File(code, path)
}

// Stream calls fn with the response writer, setting a default content
// type if none was set.
func (c *Ctx) Stream(fn func(w io.Writer) error) error {
	if c.Header().Get("Content-Type") == "" {
		c.Header().Set("Content-Type", "application/octet-stream")
	}
	c.writeHeaderOnce()
	return fn(c.w)
}

// SSE streams values from ch as text/event-stream "data:" frames,
// flushing after each write, and emits a final "event: end" frame when
// ch is closed or the request context is canceled.
func (c *Ctx) SSE(ch <-chan any) error {
	flusher, ok := c.w.(http.Flusher)
	if !ok {
		return errors.New("mizu: response writer does not support flushing")
	}
	c.Header().Set("Content-Type", "text/event-stream")
	c.Header().Set("Cache-Control", "no-cache")
	c.Header().Set("Connection", "keep-alive")
	c.writeHeaderOnce()
	flusher.Flush()

	ctx := c.req.Context()
	for {
		select {
		case v, more := <-ch:
			if !more {
				_, _ = io.WriteString(c.w, "event: end\ndata: {}\n\n")
				flusher.Flush()
				return nil
			}
			b, err := json.Marshal(v)
			if err != nil {
				return err
			}
			_, _ = io.WriteString(c.w, "data: "+string(b)+"\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return nil
		}
	}
}

// Flush flushes the underlying writer if it supports it.
func (c *Ctx) Flush() {
	if f, ok := c.w.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack takes over the connection for protocols like WebSocket.
func (c *Ctx) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return c.rc.Hijack()
}

// SetWriteDeadline sets the write deadline on the underlying connection,
// when supported.
func (c *Ctx) SetWriteDeadline(t time.Time) error {
	return c.rc.SetWriteDeadline(t)
}

// EnableFullDuplex enables full-duplex HTTP/1 request handling, when
// supported.
func (c *Ctx) EnableFullDuplex() error {
	return c.rc.EnableFullDuplex()
}

// RemoteAddr is a small helper for middleware that wants the caller's
// address without re-deriving it from the request.
func (c *Ctx) RemoteAddr() string { return c.req.RemoteAddr }

// QueryInt parses a query parameter as an int, returning def on error.
func (c *Ctx) QueryInt(name string, def int) int {
	v := c.Query(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
