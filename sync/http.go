package sync

import (
	"net/http"
	"strconv"
	"strings"

	mizu "github.com/or3/workspacesync"
)

// statusFor maps an engine Code to an HTTP status code.
func statusFor(code Code) int {
	switch code {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnknownTable, CodeInvalidPayload, CodeBatchTooLarge, CodeUnsupportedBackup:
		return http.StatusBadRequest
	case CodeClockDrift, CodeOpIDCollision, CodeBulkConflict, CodeResyncRequired:
		return http.StatusConflict
	case CodeStorageTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError renders err as a JSON error envelope with a status
// derived from its Code, for use as a mizu ErrorHandlerFunc or from a
// handler that wants to short-circuit with a specific failure.
func WriteError(c *mizu.Ctx, err error) {
	code := CodeOf(err)
	_ = c.JSON(statusFor(code), map[string]any{
		"error": map[string]any{
			"code":    string(code),
			"message": err.Error(),
		},
	})
}

// deviceIdentity resolves the workspace and device id a request is
// acting as. It is a function value rather than a hardcoded header
// name so callers can plug in their own auth middleware's conventions;
// NewHandlers substitutes DefaultDeviceIdentity for a nil fn.
type DeviceIdentityFunc func(c *mizu.Ctx) (workspaceID, deviceID string)

// DefaultDeviceIdentity reads workspace/device identity from the
// X-Workspace-Id and X-Device-Id request headers.
func DefaultDeviceIdentity(c *mizu.Ctx) (workspaceID, deviceID string) {
	return c.Request().Header.Get("X-Workspace-Id"), c.Request().Header.Get("X-Device-Id")
}

// Handlers wires an Engine onto a mizu.Router as five JSON RPC
// endpoints: POST {prefix}/push, GET {prefix}/pull, GET {prefix}/watch,
// POST {prefix}/device-cursor, GET {prefix}/server-version.
type Handlers struct {
	Engine   *Engine
	Clock    *ClockSource // the server's own HLC, used to Observe() client stamps on push
	Identity DeviceIdentityFunc
}

// NewHandlers builds a Handlers for engine, defaulting Identity to
// DefaultDeviceIdentity when fn is nil.
func NewHandlers(engine *Engine, clock *ClockSource, fn DeviceIdentityFunc) *Handlers {
	if fn == nil {
		fn = DefaultDeviceIdentity
	}
	return &Handlers{Engine: engine, Clock: clock, Identity: fn}
}

// Mount registers the push/pull/watch/cursor/version routes under r,
// rooted at prefix (e.g. "/api/sync").
func (h *Handlers) Mount(r *mizu.Router, prefix string) {
	g := r.Prefix(prefix)
	g.Post("/push", h.handlePush)
	g.Get("/pull", h.handlePull)
	g.Get("/watch", h.handleWatch)
	g.Post("/device-cursor", h.handleUpdateDeviceCursor)
	g.Get("/server-version", h.handleGetServerVersion)
}

type pushBody struct {
	Ops []Mutation `json:"ops"`
}

func (h *Handlers) handlePush(c *mizu.Ctx) error {
	workspaceID, deviceID := h.Identity(c)
	if workspaceID == "" || deviceID == "" {
		WriteError(c, ErrUnauthorized)
		return nil
	}

	var body pushBody
	if err := c.Bind(&body, 4<<20); err != nil {
		WriteError(c, NewError(CodeInvalidPayload, err.Error()))
		return nil
	}

	result, err := h.Engine.Push(c.Context(), PushRequest{
		WorkspaceID: workspaceID,
		DeviceID:    deviceID,
		Ops:         body.Ops,
	}, h.Clock)
	if err != nil {
		WriteError(c, err)
		return nil
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handlers) handlePull(c *mizu.Ctx) error {
	workspaceID, _ := h.Identity(c)
	if workspaceID == "" {
		WriteError(c, ErrUnauthorized)
		return nil
	}

	req, err := parsePullRequest(c, workspaceID)
	if err != nil {
		WriteError(c, err)
		return nil
	}

	result, err := h.Engine.Pull(c.Context(), req)
	if err != nil {
		WriteError(c, err)
		return nil
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handlers) handleWatch(c *mizu.Ctx) error {
	workspaceID, _ := h.Identity(c)
	if workspaceID == "" {
		WriteError(c, ErrUnauthorized)
		return nil
	}

	req, err := parsePullRequest(c, workspaceID)
	if err != nil {
		WriteError(c, err)
		return nil
	}

	result, err := h.Engine.Watch(c.Context(), req)
	if err != nil {
		if err == c.Context().Err() {
			return nil
		}
		WriteError(c, err)
		return nil
	}
	return c.JSON(http.StatusOK, result)
}

type deviceCursorBody struct {
	LastSeenVersion int64 `json:"last_seen_version"`
}

func (h *Handlers) handleUpdateDeviceCursor(c *mizu.Ctx) error {
	workspaceID, deviceID := h.Identity(c)
	if workspaceID == "" || deviceID == "" {
		WriteError(c, ErrUnauthorized)
		return nil
	}

	var body deviceCursorBody
	if err := c.Bind(&body, 4<<10); err != nil {
		WriteError(c, NewError(CodeInvalidPayload, err.Error()))
		return nil
	}

	if err := h.Engine.UpdateDeviceCursor(c.Context(), workspaceID, deviceID, body.LastSeenVersion); err != nil {
		WriteError(c, err)
		return nil
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (h *Handlers) handleGetServerVersion(c *mizu.Ctx) error {
	workspaceID, _ := h.Identity(c)
	if workspaceID == "" {
		WriteError(c, ErrUnauthorized)
		return nil
	}

	v, err := h.Engine.GetServerVersion(c.Context(), workspaceID)
	if err != nil {
		WriteError(c, err)
		return nil
	}
	return c.JSON(http.StatusOK, map[string]any{"server_version": v})
}

func parsePullRequest(c *mizu.Ctx, workspaceID string) (PullRequest, error) {
	cursor, err := strconv.ParseInt(c.Query("cursor"), 10, 64)
	if err != nil {
		if c.Query("cursor") != "" {
			return PullRequest{}, NewError(CodeInvalidPayload, "invalid cursor")
		}
		cursor = 0
	}
	limit := c.QueryInt("limit", DefaultPullLimit)

	var tables []string
	if raw := c.Query("tables"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tables = append(tables, t)
			}
		}
	}

	return PullRequest{
		WorkspaceID: workspaceID,
		Cursor:      cursor,
		Limit:       limit,
		Tables:      tables,
	}, nil
}
