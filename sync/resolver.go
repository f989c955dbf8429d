package sync

import (
	"context"
	"time"
)

// resolve applies a single Mutation against the current Store/
// TombstoneStore state using last-write-wins semantics: a write wins
// if its clock is greater than or equal to both the stored row's clock
// and any existing tombstone's clock. Equal clocks favor the
// arriving write over whatever is already recorded, since the engine
// only ever calls resolve with ops it hasn't applied yet: the op
// "already there" for a tie is by definition the earlier arrival, so
// last-to-arrive wins.
//
// It returns the OpOutcome and, when applied, the Change to append to
// the log. now is the wall-clock time stamped onto created_at/
// updated_at/deleted_at when the payload does not specify its own.
func resolve(ctx context.Context, store Store, tombstones TombstoneStore, tables *TableRegistry, workspaceID string, m Mutation, stamp HLC, serverVersion int64, now time.Time) (OpOutcome, Change, error) {
	if m.Data == nil && !m.Deleted {
		return "", Change{}, NewError(CodeInvalidPayload, "mutation must set data or deleted")
	}

	existingRow, hasRow, err := store.Get(ctx, workspaceID, m.Table, m.PK)
	if err != nil {
		return "", Change{}, err
	}
	tombstone, hasTombstone, err := tombstones.Get(ctx, workspaceID, m.Table, m.PK)
	if err != nil {
		return "", Change{}, err
	}

	var existingClock int64
	var hasExisting bool
	if hasRow {
		existingClock, hasExisting = existingRow.Clock, true
	}
	if hasTombstone && (!hasExisting || tombstone.Clock > existingClock) {
		existingClock, hasExisting = tombstone.Clock, true
	}

	clock := stamp.Clock()
	if hasExisting && clock < existingClock {
		return OpConflict, Change{}, nil
	}

	sanitized := sanitizePayload(tables, m.Table, m.Data)
	if m.Table == "file_meta" && !m.Deleted {
		if _, ok := sanitized["ref_count"]; !ok {
			sanitized["ref_count"] = 0
		}
	}

	change := Change{
		WorkspaceID:   workspaceID,
		ServerVersion: serverVersion,
		Table:         m.Table,
		PK:            m.PK,
		Deleted:       m.Deleted,
		Data:          sanitized,
		HLC:           stamp.String(),
		Clock:         clock,
		OpID:          m.OpID,
		CreatedAt:     now,
	}

	if m.Deleted {
		deletedAt := now
		if v, ok := timestampField(sanitized, "deleted_at"); ok {
			deletedAt = v
		}
		row := Row{
			WorkspaceID: workspaceID, Table: m.Table, PK: m.PK,
			Data: mergeData(existingRow.Data, sanitized), Clock: clock, HLC: stamp.String(), ServerVersion: serverVersion,
			Deleted: true, DeletedAt: deletedAt, UpdatedAt: now,
		}
		if hasRow {
			row.CreatedAt = existingRow.CreatedAt
		} else {
			row.CreatedAt = now
		}
		if err := store.Delete(ctx, row); err != nil {
			return "", Change{}, err
		}
		err = tombstones.Put(ctx, Tombstone{
			WorkspaceID: workspaceID, Table: m.Table, PK: m.PK,
			Clock: clock, HLC: stamp.String(), ServerVersion: serverVersion, DeletedAt: deletedAt,
		})
		if err != nil {
			return "", Change{}, err
		}
		return OpApplied, change, nil
	}

	createdAt := now
	if hasRow {
		createdAt = existingRow.CreatedAt
	} else if v, ok := timestampField(sanitized, "created_at"); ok {
		createdAt = v
	}
	updatedAt := now
	if v, ok := timestampField(sanitized, "updated_at"); ok {
		updatedAt = v
	} else if !hasRow {
		updatedAt = createdAt
	}

	err = store.Put(ctx, Row{
		WorkspaceID: workspaceID, Table: m.Table, PK: m.PK,
		Data: sanitized, Clock: clock, HLC: stamp.String(), ServerVersion: serverVersion,
		Deleted: false, CreatedAt: createdAt, UpdatedAt: updatedAt,
	})
	if err != nil {
		return "", Change{}, err
	}
	return OpApplied, change, nil
}

// sanitizePayload strips workspace_id and the table's internal primary
// key field from data before it is stored or logged: neither is ever
// client-supplied content, both are already carried structurally on
// Row/Change, and a client echoing them back must never let them leak
// into the stored payload (invariant: no replicated payload carries
// workspace_id or the server-assigned row identifier).
func sanitizePayload(tables *TableRegistry, table string, data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	pk := "id"
	if tables != nil {
		pk = tables.PKField(table)
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if k == "workspace_id" || k == pk {
			continue
		}
		out[k] = v
	}
	return out
}

// mergeData returns existing overlaid with patch, used when patching a
// row to deleted=true: the prior field values survive the tombstone
// patch unless the delete payload explicitly overrides one of them.
func mergeData(existing, patch map[string]any) map[string]any {
	if len(existing) == 0 {
		return patch
	}
	out := make(map[string]any, len(existing)+len(patch))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// timestampField reads key from data as epoch milliseconds, the wire
// representation created_at/updated_at/deleted_at use, same as HLC's
// WallMS.
func timestampField(data map[string]any, key string) (time.Time, bool) {
	if data == nil {
		return time.Time{}, false
	}
	v, ok := data[key]
	if !ok {
		return time.Time{}, false
	}
	switch n := v.(type) {
	case float64:
		return time.UnixMilli(int64(n)), true
	case int64:
		return time.UnixMilli(n), true
	case int:
		return time.UnixMilli(int64(n)), true
	}
	return time.Time{}, false
}
