package blob

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HashContent reads r to completion and returns its content hash,
// hex-encoded, for use as a file_meta primary key. MD5 is used here
// only as a content-addressing digest, not for anything that needs
// collision resistance against an adversary.
func HashContent(r io.Reader) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DerivePresignSecret derives a per-workspace HMAC key from a single
// master secret via HKDF, so rotating or scoping the signing key per
// workspace never requires storing more than one secret at rest.
func DerivePresignSecret(masterSecret []byte, workspaceID string) ([]byte, error) {
	reader := hkdf.New(sha256.New, masterSecret, nil, []byte("workspacesync-presign:"+workspaceID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
