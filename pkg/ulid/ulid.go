// Package ulid generates sortable, lexically-ordered ids for records
// where insertion order should survive in the id itself — workspace
// ids and blob storage keys, in particular.
package ulid

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// New generates a new ULID for the current time.
func New() string {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewAt generates a new ULID for t, for tests that need deterministic
// ordering without depending on wall-clock time.
func NewAt(t time.Time) string {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Time extracts the embedded timestamp from id, or the zero time if id
// is not a valid ULID.
func Time(id string) time.Time {
	u, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(u.Time())
}

// IsValid reports whether id parses as a ULID.
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}
