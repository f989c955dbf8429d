package sync

import "github.com/google/uuid"

// NewOpID generates a new idempotency key for a client-originated
// mutation. Clients are expected to generate one per operation and
// retry pushes with the same id, letting the engine dedupe retries
// without double-applying them.
func NewOpID() string {
	return uuid.New().String()
}
