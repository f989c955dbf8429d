// Package watchws serves the replication engine's Watch RPC over a
// persistent WebSocket connection instead of long-polling HTTP GETs:
// a client opens one socket per workspace and receives a PullResult
// frame every time the engine wakes it, instead of re-issuing a fresh
// request after every page.
package watchws

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	mizu "github.com/or3/workspacesync"
	"github.com/or3/workspacesync/sync"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Handler upgrades HTTP requests into a long-lived watch stream.
type Handler struct {
	Engine   *sync.Engine
	Identity sync.DeviceIdentityFunc
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewHandler builds a Handler, defaulting Identity to
// sync.DefaultDeviceIdentity when fn is nil. CheckOrigin always allows
// the request; callers that need origin checking should wrap Mount's
// route with their own middleware before it reaches the upgrade.
func NewHandler(engine *sync.Engine, fn sync.DeviceIdentityFunc, logger *slog.Logger) *Handler {
	if fn == nil {
		fn = sync.DefaultDeviceIdentity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Engine:   engine,
		Identity: fn,
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Mount registers the streaming watch endpoint at {prefix}/watchws.
func (h *Handler) Mount(r *mizu.Router, prefix string) {
	r.Prefix(prefix).Get("/watchws", h.serve)
}

func (h *Handler) serve(c *mizu.Ctx) error {
	workspaceID, _ := h.Identity(c)
	if workspaceID == "" {
		sync.WriteError(c, sync.ErrUnauthorized)
		return nil
	}

	req, err := parseInitialRequest(c, workspaceID)
	if err != nil {
		sync.WriteError(c, err)
		return nil
	}

	conn, err := h.upgrader.Upgrade(c.Writer(), c.Request(), nil)
	if err != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	go h.discardInbound(conn, cancel)
	h.pump(ctx, conn, req)
	return nil
}

// discardInbound drains whatever the client sends (pong frames and any
// stray text frames) so the read side never backs up, and cancels the
// pump loop once the peer goes away.
func (h *Handler) discardInbound(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) pump(ctx context.Context, conn *websocket.Conn, req sync.PullRequest) {
	defer conn.Close()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	results := make(chan sync.PullResult)
	errs := make(chan error, 1)
	go h.watchLoop(ctx, req, results, errs)

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errs:
			if err != nil {
				h.log.Debug("watchws: watch loop ended", slog.Any("err", err))
			}
			return
		case page := <-results:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(page); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// watchLoop repeatedly calls Engine.Watch, advancing req.Cursor past
// each page it receives, and forwards pages to results until ctx ends
// or the engine returns an error.
func (h *Handler) watchLoop(ctx context.Context, req sync.PullRequest, results chan<- sync.PullResult, errs chan<- error) {
	for {
		page, err := h.Engine.Watch(ctx, req)
		if err != nil {
			errs <- err
			return
		}
		select {
		case results <- page:
		case <-ctx.Done():
			return
		}
		req.Cursor = page.Cursor
	}
}

func parseInitialRequest(c *mizu.Ctx, workspaceID string) (sync.PullRequest, error) {
	cursor := int64(0)
	if raw := c.Query("cursor"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return sync.PullRequest{}, sync.NewError(sync.CodeInvalidPayload, "invalid cursor")
		}
		cursor = v
	}
	return sync.PullRequest{
		WorkspaceID: workspaceID,
		Cursor:      cursor,
		Limit:       sync.DefaultPullLimit,
	}, nil
}
