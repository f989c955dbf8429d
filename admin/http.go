package admin

import (
	"net/http"

	mizu "github.com/or3/workspacesync"
	"github.com/or3/workspacesync/internal/authz"
)

func statusFor(err error) int {
	switch err {
	case authz.ErrUnauthorized:
		return http.StatusUnauthorized
	case authz.ErrForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(c *mizu.Ctx, err error) error {
	return c.JSON(statusFor(err), map[string]any{"error": err.Error()})
}

// Handlers wires a Service onto a mizu.Router as the workspace/member/
// settings administration routes.
type Handlers struct {
	Service  *Service
	Resolver authz.IdentityResolver
}

// NewHandlers builds a Handlers.
func NewHandlers(service *Service, resolver authz.IdentityResolver) *Handlers {
	return &Handlers{Service: service, Resolver: resolver}
}

// Mount registers the admin routes under r, rooted at prefix (e.g.
// "/api/admin").
func (h *Handlers) Mount(r *mizu.Router, prefix string) {
	g := r.Prefix(prefix)
	g.Post("/workspaces", h.handleCreateWorkspace)
	g.Patch("/workspaces/{id}", h.handleRenameWorkspace)
	g.Delete("/workspaces/{id}", h.handleDeleteWorkspace)
	g.Get("/workspaces/{id}/members", h.handleListMembers)
	g.Post("/workspaces/{id}/members", h.handleUpsertMember)
	g.Delete("/workspaces/{id}/members/{userId}", h.handleRemoveMember)
	g.Put("/workspaces/{id}/settings/{key}", h.handlePutSetting)
}

func (h *Handlers) identity(c *mizu.Ctx) (authz.Identity, bool) {
	return h.Resolver(c.Context())
}

type createWorkspaceBody struct {
	Name string `json:"name"`
}

func (h *Handlers) handleCreateWorkspace(c *mizu.Ctx) error {
	id, ok := h.identity(c)
	if !ok {
		return writeErr(c, authz.ErrUnauthorized)
	}
	var body createWorkspaceBody
	if err := c.Bind(&body, 4<<10); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": err.Error()})
	}
	w, err := h.Service.CreateWorkspace(c.Context(), id.UserID, body.Name)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handlers) handleRenameWorkspace(c *mizu.Ctx) error {
	var body createWorkspaceBody
	if err := c.Bind(&body, 4<<10); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": err.Error()})
	}
	if err := h.Service.RenameWorkspace(c.Context(), c.Param("id"), body.Name); err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (h *Handlers) handleDeleteWorkspace(c *mizu.Ctx) error {
	if err := h.Service.DeleteWorkspace(c.Context(), c.Param("id")); err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (h *Handlers) handleListMembers(c *mizu.Ctx) error {
	members, err := h.Service.ListMembers(c.Context(), c.Param("id"))
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"members": members})
}

type upsertMemberBody struct {
	UserID string     `json:"user_id"`
	Role   authz.Role `json:"role"`
}

func (h *Handlers) handleUpsertMember(c *mizu.Ctx) error {
	var body upsertMemberBody
	if err := c.Bind(&body, 4<<10); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": err.Error()})
	}
	if err := h.Service.UpsertMember(c.Context(), c.Param("id"), body.UserID, body.Role); err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (h *Handlers) handleRemoveMember(c *mizu.Ctx) error {
	if err := h.Service.RemoveMember(c.Context(), c.Param("id"), c.Param("userId")); err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

type putSettingBody struct {
	Value any `json:"value"`
}

func (h *Handlers) handlePutSetting(c *mizu.Ctx) error {
	var body putSettingBody
	if err := c.Bind(&body, 64<<10); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": err.Error()})
	}
	if err := h.Service.PutSetting(c.Context(), c.Param("id"), c.Param("key"), body.Value); err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}
