// File: logger.go
package mizu

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

// LogMode selects the Logger middleware's rendering.
type LogMode int

const (
	// Auto picks Dev when Output is a terminal, Prod otherwise.
	Auto LogMode = iota
	// Dev renders human-readable colorized lines.
	Dev
	// Prod renders one JSON object per request.
	Prod
)

// TraceExtractorFunc pulls trace/span ids out of a request context, for
// correlation with a tracing backend. ok=false omits both fields.
type TraceExtractorFunc func(ctx context.Context) (traceID, spanID string, ok bool)

// LoggerOptions configures the Logger middleware.
type LoggerOptions struct {
	Mode            LogMode
	Logger          *slog.Logger // if set, used verbatim and Output is ignored
	Output          io.Writer    // default os.Stderr
	Color           bool         // force color in Dev mode
	UserAgent       bool         // include the User-Agent header
	RequestIDHeader string       // request header to read an incoming request id from
	RequestIDGen    func() string
	TraceExtractor  TraceExtractorFunc
}

// Logger returns middleware that logs one line per request.
func Logger(opts LoggerOptions) Middleware {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var log *slog.Logger
	if opts.Logger != nil {
		log = opts.Logger
	} else {
		mode := opts.Mode
		if mode == Auto {
			if isTerminal(out) {
				mode = Dev
			} else {
				mode = Prod
			}
		}
		if mode == Dev {
			if opts.Color || supportsColorEnv() {
				log = slog.New(newColorTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))
			} else {
				log = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))
			}
		} else {
			log = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))
		}
	}

	dev := opts.Mode == Dev

	return func(next Handler) Handler {
		return func(c *Ctx) error {
			start := time.Now()

			reqID := ""
			if opts.RequestIDHeader != "" {
				reqID = c.Request().Header.Get(opts.RequestIDHeader)
			}
			if reqID == "" && opts.RequestIDGen != nil {
				reqID = opts.RequestIDGen()
				if opts.RequestIDHeader != "" {
					c.Header().Set(opts.RequestIDHeader, reqID)
				} else {
					c.Header().Set("X-Request-Id", reqID)
				}
			}

			err := next(c)
			dur := time.Since(start)

			attrs := []slog.Attr{
				slog.Int("status", c.StatusCode()),
				slog.String("method", c.Request().Method),
				slog.String("path", c.Request().URL.Path),
				slog.String("host", c.Request().Host),
				slog.Int64("duration_ms", dur.Milliseconds()),
			}
			if c.Request().URL != nil {
				attrs = append(attrs, slog.String("query", c.Request().URL.RawQuery))
			}
			if reqID != "" {
				attrs = append(attrs, slog.String("request_id", reqID))
			}
			if opts.UserAgent {
				attrs = append(attrs, slog.String("user_agent", c.Request().UserAgent()))
			}
			if opts.TraceExtractor != nil {
				if tid, sid, ok := opts.TraceExtractor(c.Context()); ok {
					attrs = append(attrs,
						slog.String("trace_id", tid),
						slog.String("span_id", sid),
						slog.Bool("trace_sampled", true),
					)
				}
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
			}
			if dev {
				attrs = append(attrs, slog.String("latency_human", humanDuration(dur)))
			}

			level := levelFor(c.StatusCode(), err)
			log.LogAttrs(c.Context(), level, "request", attrs...)

			return err
		}
	}
}

func levelFor(status int, err error) slog.Level {
	switch {
	case err != nil || status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

func humanDuration(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	case d < time.Millisecond:
		return fmt.Sprintf("%.1fµs", float64(d.Nanoseconds())/1000)
	case d < time.Second:
		return fmt.Sprintf("%.1fms", float64(d.Nanoseconds())/1e6)
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

// attrInt extracts an integer from a slog.Attr value regardless of its
// underlying Kind, used by the color handler to pick a status color.
func attrInt(a slog.Attr) (int64, bool) {
	switch a.Value.Kind() {
	case slog.KindInt64:
		return a.Value.Int64(), true
	case slog.KindUint64:
		return int64(a.Value.Uint64()), true
	case slog.KindFloat64:
		return int64(a.Value.Float64()), true
	default:
		return 0, false
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// supportsColorEnv reports whether the environment allows ANSI color:
// FORCE_COLOR enables it, otherwise NO_COLOR disables it, and otherwise
// any TERM other than "" or "dumb" enables it except on Windows.
func supportsColorEnv() bool {
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if term := os.Getenv("TERM"); term == "" || term == "dumb" {
		return false
	}
	return runtime.GOOS != "windows"
}

// colorTextHandler is a minimal slog.Handler that renders attrs as
// "key=value" pairs with ANSI color applied to method/status, for Dev
// mode logging in interactive terminals.
type colorTextHandler struct {
	w     io.Writer
	opts  *slog.HandlerOptions
	attrs []slog.Attr
}

func newColorTextHandler(w io.Writer, opts *slog.HandlerOptions) *colorTextHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &colorTextHandler{w: w, opts: opts}
}

func (h *colorTextHandler) Enabled(_ context.Context, level slog.Level) bool {
	min := h.opts.Level
	if min == nil {
		return level >= slog.LevelInfo
	}
	return level >= min.Level()
}

func (h *colorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &colorTextHandler{w: h.w, opts: h.opts, attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
}

func (h *colorTextHandler) WithGroup(string) slog.Handler { return h }

func (h *colorTextHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString("\x1b[2m" + r.Time.Format(time.RFC3339) + "\x1b[0m ")
	b.WriteString(colorLevel(r.Level) + " " + r.Message)

	writeAttr := func(a slog.Attr) {
		if a.Key == "status" {
			if n, ok := attrInt(a); ok {
				b.WriteString(" " + colorStatus(int(n)) + "=" + a.Value.String() + "\x1b[0m")
				return
			}
		}
		b.WriteString(" " + a.Key + "=" + a.Value.String())
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(a)
		return true
	})
	b.WriteString("\n")
	_, err := io.WriteString(h.w, b.String())
	return err
}

func colorLevel(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "\x1b[31mERROR\x1b[0m"
	case l >= slog.LevelWarn:
		return "\x1b[33mWARN\x1b[0m"
	default:
		return "\x1b[32mINFO\x1b[0m"
	}
}

func colorStatus(code int) string {
	switch {
	case code >= 500:
		return "\x1b[31mstatus"
	case code >= 400:
		return "\x1b[33mstatus"
	default:
		return "\x1b[32mstatus"
	}
}
