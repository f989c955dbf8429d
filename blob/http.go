package blob

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	mizu "github.com/or3/workspacesync"
)

// DeviceIdentityFunc resolves the workspace a blob request acts
// within. Like sync.DeviceIdentityFunc, but it returns only the
// workspace id.
type DeviceIdentityFunc func(c *mizu.Ctx) (workspaceID string)

// DefaultDeviceIdentity reads the conventional X-Workspace-Id header.
func DefaultDeviceIdentity(c *mizu.Ctx) string {
	return c.Request().Header.Get("X-Workspace-Id")
}

// maxObjectBytes bounds an upload this gateway will buffer in memory
// to verify its hash before persisting it; larger blobs belong behind
// a real object storage Provider that verifies its own integrity.
const maxObjectBytes = 64 << 20

var (
	errUnauthorized    = errors.New("blob: missing workspace identity")
	errMissingHash     = errors.New("blob: hash is required")
	errNoLocalProvider = errors.New("blob: no local object storage configured")
)

// Handlers wires a Gateway onto a mizu.Router as the upload-url/
// commit/file-url RPC endpoints, plus (when local is non-nil) the
// object PUT/GET routes a LocalProvider's presigned URLs point at.
type Handlers struct {
	Gateway  *Gateway
	Local    *LocalProvider // optional; nil if fronted by real object storage
	Identity DeviceIdentityFunc
}

// NewHandlers builds a Handlers, defaulting Identity to
// DefaultDeviceIdentity when fn is nil.
func NewHandlers(gateway *Gateway, local *LocalProvider, fn DeviceIdentityFunc) *Handlers {
	if fn == nil {
		fn = DefaultDeviceIdentity
	}
	return &Handlers{Gateway: gateway, Local: local, Identity: fn}
}

// Mount registers the blob routes under r, rooted at prefix (e.g.
// "/api/blob").
func (h *Handlers) Mount(r *mizu.Router, prefix string) {
	g := r.Prefix(prefix)
	g.Post("/upload-url", h.handleGenerateUploadURL)
	g.Post("/commit", h.handleCommitUpload)
	g.Get("/file-url", h.handleGetFileURL)
	g.Put("/objects/{id}", h.handlePutObject)
	g.Get("/objects/{id}", h.handleGetObject)
}

func writeErr(c *mizu.Ctx, status int, err error) error {
	return c.JSON(status, map[string]any{"error": err.Error()})
}

type uploadURLBody struct {
	Hash string `json:"hash"`
	Mime string `json:"mime"`
	Size int64  `json:"size"`
}

func (h *Handlers) handleGenerateUploadURL(c *mizu.Ctx) error {
	workspaceID := h.Identity(c)
	if workspaceID == "" {
		return writeErr(c, http.StatusUnauthorized, errUnauthorized)
	}
	var body uploadURLBody
	if err := c.Bind(&body, 4<<10); err != nil {
		return writeErr(c, http.StatusBadRequest, err)
	}
	if body.Hash == "" {
		return writeErr(c, http.StatusBadRequest, errMissingHash)
	}
	url, token, storageID, err := h.Gateway.GenerateUploadURL(c.Context(), workspaceID, body.Hash, body.Mime, body.Size)
	if err != nil {
		return writeErr(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"url": url, "token": token, "storage_id": storageID,
	})
}

type commitBody struct {
	Hash       string `json:"hash"`
	StorageID  string `json:"storage_id"`
	ProviderID string `json:"provider_id"`
	MimeType   string `json:"mime_type"`
	SizeBytes  int64  `json:"size_bytes"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	PageCount  int    `json:"page_count"`
}

func (h *Handlers) handleCommitUpload(c *mizu.Ctx) error {
	workspaceID := h.Identity(c)
	if workspaceID == "" {
		return writeErr(c, http.StatusUnauthorized, errUnauthorized)
	}
	var body commitBody
	if err := c.Bind(&body, 4<<10); err != nil {
		return writeErr(c, http.StatusBadRequest, err)
	}
	if body.Hash == "" || body.StorageID == "" {
		return writeErr(c, http.StatusBadRequest, errMissingHash)
	}
	err := h.Gateway.CommitUpload(c.Context(), Meta{
		WorkspaceID: workspaceID,
		Hash:        body.Hash,
		StorageID:   body.StorageID,
		ProviderID:  body.ProviderID,
		MimeType:    body.MimeType,
		SizeBytes:   body.SizeBytes,
		Name:        body.Name,
		Kind:        Kind(body.Kind),
		Width:       body.Width,
		Height:      body.Height,
		PageCount:   body.PageCount,
	})
	if err != nil {
		return writeErr(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (h *Handlers) handleGetFileURL(c *mizu.Ctx) error {
	workspaceID := h.Identity(c)
	if workspaceID == "" {
		return writeErr(c, http.StatusUnauthorized, errUnauthorized)
	}
	hash := c.Query("hash")
	if hash == "" {
		return writeErr(c, http.StatusBadRequest, errMissingHash)
	}
	url, err := h.Gateway.GetFileURL(c.Context(), workspaceID, hash)
	if err == ErrNotFound {
		return c.JSON(http.StatusOK, map[string]any{"url": nil})
	}
	if err != nil {
		return writeErr(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"url": url})
}

// handlePutObject accepts the raw bytes for a LocalProvider-backed
// upload. token is the same one minted by generateUploadUrl; its
// bound hash must match the uploaded content, or the write is
// rejected and nothing touches disk.
func (h *Handlers) handlePutObject(c *mizu.Ctx) error {
	if h.Local == nil {
		return writeErr(c, http.StatusNotImplemented, errNoLocalProvider)
	}
	_, hash, err := h.Gateway.VerifyToken(c.Query("token"))
	if err != nil {
		return writeErr(c, http.StatusForbidden, err)
	}

	data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxObjectBytes+1))
	if err != nil {
		return writeErr(c, http.StatusBadRequest, err)
	}
	if len(data) > maxObjectBytes {
		return writeErr(c, http.StatusRequestEntityTooLarge, errors.New("blob: object exceeds maximum size"))
	}
	if err := h.Gateway.VerifyUploadHash(hash, bytes.NewReader(data)); err != nil {
		return writeErr(c, http.StatusBadRequest, err)
	}
	if err := h.Local.Save(c.Param("id"), bytes.NewReader(data)); err != nil {
		return writeErr(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (h *Handlers) handleGetObject(c *mizu.Ctx) error {
	if h.Local == nil {
		return writeErr(c, http.StatusNotImplemented, errNoLocalProvider)
	}
	if _, _, err := h.Gateway.VerifyToken(c.Query("token")); err != nil {
		return writeErr(c, http.StatusForbidden, err)
	}
	return c.File(http.StatusOK, h.Local.Path(c.Param("id")))
}
