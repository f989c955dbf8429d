package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// LocalProvider implements Provider over the local filesystem, self-
// serving presigned URLs as routes this package also mounts. It is the
// --dev / single-node Provider; a deployment fronted by real object
// storage supplies its own Provider instead.
type LocalProvider struct {
	basePath string
	baseURL  string
}

// NewLocalProvider builds a LocalProvider rooted at basePath, minting
// presigned URLs under baseURL (e.g. "http://localhost:8080/api/blob/objects").
func NewLocalProvider(basePath, baseURL string) (*LocalProvider, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create blob storage dir: %w", err)
	}
	return &LocalProvider{basePath: basePath, baseURL: baseURL}, nil
}

func (p *LocalProvider) path(storageID string) string {
	return filepath.Join(p.basePath, storageID)
}

// Path returns the on-disk path for storageID's object file, for
// handlers that want to serve it directly (e.g. via an HTTP
// ServeContent-based route).
func (p *LocalProvider) Path(storageID string) string {
	return p.path(storageID)
}

// PresignPut implements Provider. ttl isn't enforced by the URL
// itself; the gateway's own signed token carries the expiry and is
// checked by the object route before any bytes move.
func (p *LocalProvider) PresignPut(_ context.Context, storageID string, _ time.Duration) (string, error) {
	return p.baseURL + "/" + storageID, nil
}

// PresignGet implements Provider.
func (p *LocalProvider) PresignGet(_ context.Context, storageID string, _ time.Duration) (string, error) {
	return p.baseURL + "/" + storageID, nil
}

// Delete implements Provider.
func (p *LocalProvider) Delete(_ context.Context, storageID string) error {
	err := os.Remove(p.path(storageID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Save writes r to storageID's object file, overwriting any existing
// content.
func (p *LocalProvider) Save(storageID string, r io.Reader) error {
	f, err := os.Create(p.path(storageID))
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, r)
	return err
}

// Open opens storageID's object file for reading.
func (p *LocalProvider) Open(storageID string) (io.ReadCloser, error) {
	return os.Open(p.path(storageID))
}
