package sync

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// logicalBits is the number of bits reserved for the logical counter
// within a single millisecond. Once the counter for a given wall clock
// millisecond would overflow this width, Next returns ErrClockDrift.
const logicalBits = 20

const maxLogical = 1<<logicalBits - 1

// HLC is a hybrid logical clock timestamp: a wall-clock millisecond, a
// logical counter disambiguating events within the same millisecond,
// and the device that stamped it. Comparisons ignore DeviceID; it only
// breaks ties when converting to a wire string for display purposes.
type HLC struct {
	WallMS   int64
	Logical  uint32
	DeviceID string
}

// Clock returns a single monotonically-comparable scalar combining
// WallMS and Logical, used as the LWW resolution key.
func (h HLC) Clock() int64 {
	return h.WallMS<<logicalBits | int64(h.Logical)
}

// Less reports whether h sorts strictly before o by Clock.
func (h HLC) Less(o HLC) bool { return h.Clock() < o.Clock() }

// String renders the wire format "<wall_ms:013>.<logical:06>.<device_id>".
func (h HLC) String() string {
	return fmt.Sprintf("%013d.%06d.%s", h.WallMS, h.Logical, h.DeviceID)
}

// ParseHLC parses the wire format produced by String.
func ParseHLC(s string) (HLC, error) {
	parts := strings.SplitN(s, ".", 3)
	if len(parts) != 3 {
		return HLC{}, NewError(CodeInvalidPayload, "malformed hlc timestamp: "+s)
	}
	wall, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return HLC{}, NewError(CodeInvalidPayload, "malformed hlc wall_ms: "+s)
	}
	logical, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return HLC{}, NewError(CodeInvalidPayload, "malformed hlc logical: "+s)
	}
	if parts[2] == "" {
		return HLC{}, NewError(CodeInvalidPayload, "malformed hlc device_id: "+s)
	}
	return HLC{WallMS: wall, Logical: uint32(logical), DeviceID: parts[2]}, nil
}

// ClockSource generates strictly-increasing HLC timestamps for a single
// device, tolerating clock skew between the local wall clock and
// previously observed remote timestamps (Observe).
//
// A ClockSource is safe for concurrent use.
type ClockSource struct {
	mu       sync.Mutex
	deviceID string
	now      func() time.Time
	last     HLC
}

// NewClockSource builds a ClockSource for deviceID. now defaults to
// time.Now when nil.
func NewClockSource(deviceID string, now func() time.Time) *ClockSource {
	if now == nil {
		now = time.Now
	}
	return &ClockSource{deviceID: deviceID, now: now}
}

// Next produces the next HLC timestamp, advancing the logical counter
// when the wall clock has not moved past the last stamped millisecond.
// It returns ErrClockDrift if the logical counter would overflow.
func (c *ClockSource) Next() (HLC, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := c.now().UnixMilli()
	next := HLC{WallMS: wall, DeviceID: c.deviceID}
	if wall <= c.last.WallMS {
		next.WallMS = c.last.WallMS
		next.Logical = c.last.Logical + 1
		if next.Logical > maxLogical {
			return HLC{}, ErrClockDrift
		}
	}
	c.last = next
	return next, nil
}

// Observe folds a remote timestamp into the clock so that Next never
// produces a value that would compare less than one already seen,
// which is what makes the clock "hybrid" rather than purely local.
func (c *ClockSource) Observe(remote HLC) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if remote.Clock() > c.last.Clock() {
		c.last = HLC{WallMS: remote.WallMS, Logical: remote.Logical, DeviceID: c.deviceID}
	}
}
