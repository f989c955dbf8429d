// Package blob implements the content-addressed file plane: presigned
// upload/download URLs bound to file_meta rows keyed by content hash.
package blob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/or3/workspacesync/pkg/ulid"
)

// DefaultPresignTTL is how long a generated upload/download URL remains
// valid.
const DefaultPresignTTL = 60 * time.Second

// DefaultGCLimit bounds how many deleted file_meta rows a single
// gcDeletedFiles invocation removes.
const DefaultGCLimit = 25

// Kind classifies the content a file_meta row describes.
type Kind string

const (
	KindImage Kind = "image"
	KindPDF   Kind = "pdf"
)

// Meta is the durable record of one content-addressed blob within a
// workspace.
type Meta struct {
	WorkspaceID string
	Hash        string
	StorageID   string
	ProviderID  string
	MimeType    string
	SizeBytes   int64
	Name        string
	Kind        Kind
	Width       int
	Height      int
	PageCount   int
	RefCount    int
	Deleted     bool
	DeletedAt   time.Time
}

// Store persists file_meta rows. It does not talk to the underlying
// blob storage provider; that's Provider's job.
type Store interface {
	Get(ctx context.Context, workspaceID, hash string) (Meta, bool, error)
	Put(ctx context.Context, m Meta) error
	// ListDeleted returns up to limit rows with Deleted=true and
	// RefCount=0 whose DeletedAt is at or before cutoff.
	ListDeleted(ctx context.Context, workspaceID string, cutoff time.Time, limit int) ([]Meta, error)
	Remove(ctx context.Context, workspaceID, hash string) error
}

// Provider is the external object storage backing blob bytes: it knows
// how to mint presigned PUT/GET URLs and delete an object by storage
// id, but has no notion of workspace or ref counting.
type Provider interface {
	PresignPut(ctx context.Context, storageID string, ttl time.Duration) (string, error)
	PresignGet(ctx context.Context, storageID string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, storageID string) error
}

// ErrNotFound is returned by GetFileURL when a hash has no file_meta
// row or no backing storage object.
var ErrNotFound = errors.New("blob: not found")

// ErrHashMismatch is returned by VerifyUploadHash when the bytes
// actually received don't hash to the claimed content address.
var ErrHashMismatch = errors.New("blob: uploaded content does not match claimed hash")

// Gateway is the server-side entry point for the file plane.
type Gateway struct {
	store    Store
	provider Provider
	secret   []byte
	ttl      time.Duration
	gcLimit  int
	now      func() time.Time
}

// Options configures a Gateway.
type Options struct {
	Store    Store
	Provider Provider
	Secret   []byte // HMAC key signing presign tokens
	TTL      time.Duration
	GCLimit  int
	Now      func() time.Time
}

// NewGateway builds a Gateway from Options.
func NewGateway(opts Options) *Gateway {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	limit := opts.GCLimit
	if limit <= 0 {
		limit = DefaultGCLimit
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Gateway{store: opts.Store, provider: opts.Provider, secret: opts.Secret, ttl: ttl, gcLimit: limit, now: now}
}

// tokenPayload is the JSON body signed into a presign token.
type tokenPayload struct {
	WorkspaceID string `json:"workspaceId"`
	Hash        string `json:"hash"`
	MimeType    string `json:"mimeType,omitempty"`
	SizeBytes   int64  `json:"sizeBytes,omitempty"`
	Disposition string `json:"disposition,omitempty"`
	Exp         int64  `json:"exp"`
}

func (g *Gateway) sign(p tokenPayload) (string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	key, err := DerivePresignSecret(g.secret, p.WorkspaceID)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	sig := mac.Sum(nil)
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(body) + "." + hex.EncodeToString(sig), nil
}

// VerifyToken recomputes and checks a token's signature and expiry,
// returning its payload fields.
func (g *Gateway) VerifyToken(token string) (workspaceID, hash string, err error) {
	i := indexByte(token, '.')
	if i < 0 {
		return "", "", errors.New("blob: malformed token")
	}
	body, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(token[:i])
	if err != nil {
		return "", "", errors.New("blob: malformed token encoding")
	}
	sig, err := hex.DecodeString(token[i+1:])
	if err != nil {
		return "", "", errors.New("blob: malformed token signature")
	}
	var p tokenPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return "", "", errors.New("blob: malformed token payload")
	}
	if p.WorkspaceID == "" || p.Hash == "" || p.Exp == 0 {
		return "", "", errors.New("blob: incomplete token payload")
	}
	key, err := DerivePresignSecret(g.secret, p.WorkspaceID)
	if err != nil {
		return "", "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	want := mac.Sum(nil)
	if !hmac.Equal(sig, want) {
		return "", "", errors.New("blob: invalid token signature")
	}
	if g.now().Unix() > p.Exp {
		return "", "", errors.New("blob: expired token")
	}
	return p.WorkspaceID, p.Hash, nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// GenerateUploadURL mints a presigned PUT URL and a signed token
// binding it to (workspace, hash, mime, size). Callers are expected to
// check workspace membership before calling this. A hash already
// backed by an existing file_meta row reuses its storage id, so a
// re-upload of identical content never allocates a second object; a
// new hash gets a fresh ULID-based storage id, which keeps objects
// within a provider bucket roughly time-ordered.
func (g *Gateway) GenerateUploadURL(ctx context.Context, workspaceID, hash, mime string, size int64) (url, token, storageID string, err error) {
	storageID, err = g.storageIDFor(ctx, workspaceID, hash)
	if err != nil {
		return "", "", "", err
	}
	url, err = g.provider.PresignPut(ctx, storageID, g.ttl)
	if err != nil {
		return "", "", "", err
	}
	token, err = g.sign(tokenPayload{
		WorkspaceID: workspaceID, Hash: hash, MimeType: mime, SizeBytes: size,
		Exp: g.now().Add(g.ttl).Unix(),
	})
	return url, token, storageID, err
}

// storageIDFor returns the storage key an upload for (workspaceID,
// hash) should use: the existing row's key if one is already on file,
// or a fresh ULID otherwise, so repeat uploads of identical content
// never mint a second object.
func (g *Gateway) storageIDFor(ctx context.Context, workspaceID, hash string) (string, error) {
	existing, ok, err := g.store.Get(ctx, workspaceID, hash)
	if err != nil {
		return "", err
	}
	if ok && existing.StorageID != "" {
		return existing.StorageID, nil
	}
	return ulid.New(), nil
}

// VerifyUploadHash hashes r and confirms it matches hash, the content
// address the upload was presigned against. It is meant to run on the
// server's own copy of the bytes (e.g. a local-disk Provider's object
// route) before Put persists anything; a Provider that proxies
// directly to external object storage has no bytes to check here and
// relies on the storage layer's own integrity guarantees instead.
func (g *Gateway) VerifyUploadHash(hash string, r io.Reader) error {
	got, err := HashContent(r)
	if err != nil {
		return err
	}
	if got != hash {
		return ErrHashMismatch
	}
	return nil
}

// CommitUpload upserts the file_meta row once a client has confirmed
// its upload landed. Pre-existing rows are updated in place; a brand
// new row starts with ref_count=1, since a blob is only committed in
// service of some referrer (a message attachment, a document asset).
func (g *Gateway) CommitUpload(ctx context.Context, m Meta) error {
	existing, ok, err := g.store.Get(ctx, m.WorkspaceID, m.Hash)
	if err != nil {
		return err
	}
	if ok {
		m.RefCount = existing.RefCount
	} else if m.RefCount == 0 {
		m.RefCount = 1
	}
	m.Deleted = false
	return g.store.Put(ctx, m)
}

// GetFileURL returns a presigned GET URL for the blob at hash, or
// ErrNotFound if there is no file_meta row or no backing object.
func (g *Gateway) GetFileURL(ctx context.Context, workspaceID, hash string) (string, error) {
	m, ok, err := g.store.Get(ctx, workspaceID, hash)
	if err != nil {
		return "", err
	}
	if !ok || m.Deleted || m.StorageID == "" {
		return "", ErrNotFound
	}
	return g.provider.PresignGet(ctx, m.StorageID, g.ttl)
}

// GCDeletedFiles removes up to limit (defaulting to DefaultGCLimit)
// file_meta rows that are deleted, unreferenced, and older than
// retention, deleting the backing storage object before its file_meta
// row so a crash between the two never leaves a stored object that no
// row refers to.
func (g *Gateway) GCDeletedFiles(ctx context.Context, workspaceID string, retention time.Duration, limit int) (int, error) {
	if limit <= 0 {
		limit = g.gcLimit
	}
	cutoff := g.now().Add(-retention)
	rows, err := g.store.ListDeleted(ctx, workspaceID, cutoff, limit)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range rows {
		if m.StorageID != "" {
			if err := g.provider.Delete(ctx, m.StorageID); err != nil {
				return removed, err
			}
		}
		if err := g.store.Remove(ctx, m.WorkspaceID, m.Hash); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
