package ratelimit

import (
	"net/http"

	mizu "github.com/or3/workspacesync"
)

// Handlers exposes a Limiter as the checkAndRecord/getStats RPC pair.
type Handlers struct {
	Limiter *Limiter
}

// NewHandlers builds a Handlers for limiter.
func NewHandlers(limiter *Limiter) *Handlers {
	return &Handlers{Limiter: limiter}
}

// Mount registers the rate-limit routes under r, rooted at prefix
// (e.g. "/api/ratelimit").
func (h *Handlers) Mount(r *mizu.Router, prefix string) {
	g := r.Prefix(prefix)
	g.Post("/check", h.handleCheckAndRecord)
	g.Get("/stats", h.handleGetStats)
}

type checkBody struct {
	Key         string `json:"key"`
	WindowMS    int64  `json:"window_ms"`
	MaxRequests int    `json:"max_requests"`
}

func (h *Handlers) handleCheckAndRecord(c *mizu.Ctx) error {
	var body checkBody
	if err := c.Bind(&body, 4<<10); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": err.Error()})
	}
	if body.Key == "" || body.WindowMS <= 0 || body.MaxRequests <= 0 {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "key, window_ms and max_requests are required"})
	}
	result := h.Limiter.CheckAndRecord(body.Key, body.WindowMS, body.MaxRequests)
	return c.JSON(http.StatusOK, result)
}

func (h *Handlers) handleGetStats(c *mizu.Ctx) error {
	key := c.Query("key")
	windowMS := c.QueryInt("window_ms", 0)
	maxRequests := c.QueryInt("max_requests", 0)
	if key == "" || windowMS <= 0 || maxRequests <= 0 {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "key, window_ms and max_requests are required"})
	}
	stats := h.Limiter.GetStats(key, int64(windowMS), maxRequests)
	return c.JSON(http.StatusOK, stats)
}
