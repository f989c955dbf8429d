package sync

import (
	"context"
	"log/slog"
	"time"
)

// DefaultRetention is how long change log and tombstone history is
// kept once no device cursor can still need it.
const DefaultRetention = 30 * 24 * time.Hour

// DefaultGCBatchSize bounds how many rows a single GC pass deletes
// from one table before yielding, so a large backlog cannot hold a
// storage transaction open indefinitely.
const DefaultGCBatchSize = 100

// gcContinuationDelay is how soon a GC pass that made progress
// reschedules itself, versus the discovery interval used when a
// workspace's backlog is already clear.
const gcContinuationDelay = 60 * time.Second

// gcDiscoveryStagger spaces out the per-workspace GC kickoffs in a
// discovery sweep so a large fleet doesn't hit storage in one burst.
const gcDiscoveryStagger = time.Second

// GCOptions configures a Collector.
type GCOptions struct {
	Log        ChangeLog
	Tombstones TombstoneStore
	Cursors    CursorStore
	Workspaces WorkspaceLister
	Retention  time.Duration // default DefaultRetention
	BatchSize  int           // default DefaultGCBatchSize
	Now        func() time.Time
	Logger     *slog.Logger
}

// Collector reclaims change log entries and tombstones that have
// fallen behind every device's cursor AND aged past the retention
// window: both bounds must hold before a row is eligible, so a quiet
// workspace whose only device dropped off the network never loses
// history sooner than retention allows, and history some device has not
// yet consumed is never reclaimed, however old it is.
type Collector struct {
	log        ChangeLog
	tombstones TombstoneStore
	cursors    CursorStore
	workspaces WorkspaceLister
	retention  time.Duration
	batchSize  int
	now        func() time.Time
	logger     *slog.Logger
}

// NewCollector builds a Collector from GCOptions.
func NewCollector(opts GCOptions) *Collector {
	retention := opts.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = DefaultGCBatchSize
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		log:        opts.Log,
		tombstones: opts.Tombstones,
		cursors:    opts.Cursors,
		workspaces: opts.Workspaces,
		retention:  retention,
		batchSize:  batch,
		now:        now,
		logger:     logger,
	}
}

// CollectWorkspace runs one bounded GC batch for workspaceID, deleting
// up to BatchSize change log entries and BatchSize tombstones whose
// server_version is at or below the min-cursor bound AND whose age
// exceeds the retention window. It returns the number of rows
// removed across both, so a caller can decide whether to reschedule
// immediately (more work likely remains) or back off.
func (c *Collector) CollectWorkspace(ctx context.Context, workspaceID string) (removed int, err error) {
	minCursor, ok, err := c.cursors.MinVersion(ctx, workspaceID)
	if err != nil {
		return 0, err
	}
	if !ok {
		// No device has ever pulled; nothing is safe to drop.
		return 0, nil
	}

	head, err := c.log.CurrentVersion(ctx, workspaceID)
	if err != nil {
		return 0, err
	}

	versionCutoff := minCursor
	if versionCutoff > head {
		versionCutoff = head
	}
	timeCutoff := c.now().Add(-c.retention)

	n, err := c.log.DeleteThrough(ctx, workspaceID, versionCutoff, timeCutoff, c.batchSize)
	if err != nil {
		return removed, err
	}
	removed += n

	tn, err := c.tombstones.DeleteOlderThan(ctx, workspaceID, versionCutoff, timeCutoff, c.batchSize)
	if err != nil {
		return removed, err
	}
	removed += tn

	c.logger.Debug("gc pass complete",
		slog.String("workspace_id", workspaceID),
		slog.Int64("version_cutoff", versionCutoff),
		slog.Time("time_cutoff", timeCutoff),
		slog.Int("removed", removed),
	)
	return removed, nil
}

// RunWorkspace drives CollectWorkspace for a single workspace to
// completion, self-rescheduling after gcContinuationDelay as long as
// each pass makes progress, and stopping (without error) once a pass
// removes nothing or ctx is canceled.
func (c *Collector) RunWorkspace(ctx context.Context, workspaceID string) error {
	for {
		removed, err := c.CollectWorkspace(ctx, workspaceID)
		if err != nil {
			return err
		}
		if removed == 0 {
			return nil
		}
		select {
		case <-time.After(gcContinuationDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunDiscovery lists every workspace with replication history and
// kicks off RunWorkspace for each, staggered by gcDiscoveryStagger so a
// large fleet doesn't all hit storage in the same instant. It returns
// once every workspace's GC run has completed or ctx is canceled.
func (c *Collector) RunDiscovery(ctx context.Context) error {
	workspaces, err := c.workspaces.ListWorkspaces(ctx)
	if err != nil {
		return err
	}

	errs := make(chan error, len(workspaces))
	for i, ws := range workspaces {
		delay := time.Duration(i) * gcDiscoveryStagger
		go func(workspaceID string, delay time.Duration) {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
			errs <- c.RunWorkspace(ctx, workspaceID)
		}(ws, delay)
	}

	var first error
	for range workspaces {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
	}
	return first
}
