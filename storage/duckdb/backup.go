package duckdb

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/or3/workspacesync/backup"
)

// inboundRow is the wire shape for a plain-object (inbound-keyed)
// backup row: the sanitized payload plus the bookkeeping fields every
// replicated row carries.
type inboundRow struct {
	PK        string         `json:"-"`
	Data      map[string]any `json:"-"`
	Clock     int64          `json:"clock"`
	HLC       string         `json:"hlc"`
	Deleted   bool           `json:"deleted"`
	DeletedAt *time.Time     `json:"deleted_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// RowSource implements backup.TableSource over one workspace-scoped
// table's rows, keyset-paginated by pk.
type RowSource struct {
	db          *sql.DB
	workspaceID string
	table       string
	pkField     string
	inbound     bool
}

// NewRowSource builds a RowSource for table in workspaceID. pkField is
// the table's primary key field name ("hash" for file_meta, "id"
// otherwise); inbound controls the exported row shape (plain object vs
// {key, value} tuple for the kv table).
func NewRowSource(db *sql.DB, workspaceID, table, pkField string, inbound bool) *RowSource {
	return &RowSource{db: db, workspaceID: workspaceID, table: table, pkField: pkField, inbound: inbound}
}

func (s *RowSource) Name() string  { return s.table }
func (s *RowSource) Inbound() bool { return s.inbound }

func (s *RowSource) RowCount() int {
	var n int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM rows WHERE workspace_id = ? AND table_name = ?`, s.workspaceID, s.table).Scan(&n)
	return n
}

func (s *RowSource) Page(afterKey string, limit int) ([]json.RawMessage, string, bool, error) {
	rows, err := s.db.Query(`
		SELECT pk, data, clock, hlc, deleted, deleted_at, created_at, updated_at
		FROM rows WHERE workspace_id = ? AND table_name = ? AND pk > ?
		ORDER BY pk LIMIT ?
	`, s.workspaceID, s.table, afterKey, limit+1)
	if err != nil {
		return nil, "", false, err
	}
	defer rows.Close()

	var out []json.RawMessage
	var lastKey string
	scanned := 0
	for rows.Next() {
		var (
			pk, dataJSON, hlc string
			clock             int64
			deleted           bool
			deletedAt         sql.NullTime
			createdAt         time.Time
			updatedAt         time.Time
		)
		if err := rows.Scan(&pk, &dataJSON, &clock, &hlc, &deleted, &deletedAt, &createdAt, &updatedAt); err != nil {
			return nil, "", false, err
		}
		if scanned >= limit {
			return out, lastKey, true, rows.Err()
		}
		scanned++
		lastKey = pk

		var data map[string]any
		if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
			return nil, "", false, err
		}

		raw, err := s.marshalRow(pk, data, clock, hlc, deleted, deletedAt, createdAt, updatedAt)
		if err != nil {
			return nil, "", false, err
		}
		out = append(out, raw)
	}
	return out, lastKey, false, rows.Err()
}

func (s *RowSource) marshalRow(pk string, data map[string]any, clock int64, hlc string, deleted bool, deletedAt sql.NullTime, createdAt, updatedAt time.Time) (json.RawMessage, error) {
	if !s.inbound {
		value, _ := json.Marshal(data["value"])
		return json.Marshal(backup.KeyValueRow{Key: pk, Value: value})
	}
	obj := map[string]any{
		s.pkField:    pk,
		"clock":      clock,
		"hlc":        hlc,
		"deleted":    deleted,
		"created_at": createdAt,
		"updated_at": updatedAt,
	}
	if deletedAt.Valid {
		obj["deleted_at"] = deletedAt.Time
	}
	for k, v := range data {
		obj[k] = v
	}
	return json.Marshal(obj)
}

// RowSink implements backup.TableSink over one workspace-scoped
// table's rows.
type RowSink struct {
	db          *sql.DB
	workspaceID string
	table       string
	pkField     string
	inbound     bool
}

// NewRowSink builds a RowSink for table in workspaceID.
func NewRowSink(db *sql.DB, workspaceID, table, pkField string, inbound bool) *RowSink {
	return &RowSink{db: db, workspaceID: workspaceID, table: table, pkField: pkField, inbound: inbound}
}

func (s *RowSink) Clear() error {
	_, err := s.db.Exec(`DELETE FROM rows WHERE workspace_id = ? AND table_name = ?`, s.workspaceID, s.table)
	return err
}

func (s *RowSink) Put(rows []json.RawMessage, policy backup.ConflictPolicy) error {
	for _, raw := range rows {
		pk, clock, hlc, deleted, deletedAt, createdAt, updatedAt, data, err := s.decodeRow(raw)
		if err != nil {
			return err
		}
		if policy != backup.OverwriteValues {
			var exists int
			if err := s.db.QueryRow(`SELECT COUNT(*) FROM rows WHERE workspace_id = ? AND table_name = ? AND pk = ?`,
				s.workspaceID, s.table, pk).Scan(&exists); err != nil {
				return err
			}
			if exists > 0 {
				return &backup.ConflictError{Table: s.table, Key: pk}
			}
		}
		dataJSON, err := json.Marshal(data)
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(`
			INSERT INTO rows (workspace_id, table_name, pk, data, clock, hlc, server_version, deleted, deleted_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
			ON CONFLICT (workspace_id, table_name, pk) DO UPDATE SET
				data = EXCLUDED.data, clock = EXCLUDED.clock, hlc = EXCLUDED.hlc,
				deleted = EXCLUDED.deleted, deleted_at = EXCLUDED.deleted_at, updated_at = EXCLUDED.updated_at
		`, s.workspaceID, s.table, pk, string(dataJSON), clock, hlc, deleted, deletedAt, createdAt, updatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (s *RowSink) decodeRow(raw json.RawMessage) (pk string, clock int64, hlc string, deleted bool, deletedAt, createdAt, updatedAt any, data map[string]any, err error) {
	if !s.inbound {
		var kv backup.KeyValueRow
		if err = json.Unmarshal(raw, &kv); err != nil {
			return
		}
		var value any
		_ = json.Unmarshal(kv.Value, &value)
		return kv.Key, 0, "", false, nil, time.Time{}, time.Time{}, map[string]any{"key": kv.Key, "value": value}, nil
	}

	var obj map[string]any
	if err = json.Unmarshal(raw, &obj); err != nil {
		return
	}
	pk, _ = obj[s.pkField].(string)
	if c, ok := obj["clock"].(float64); ok {
		clock = int64(c)
	}
	hlc, _ = obj["hlc"].(string)
	deleted, _ = obj["deleted"].(bool)
	if da, ok := obj["deleted_at"].(string); ok {
		if t, perr := time.Parse(time.RFC3339, da); perr == nil {
			deletedAt = t
		}
	}
	createdAt = parseRowTime(obj["created_at"])
	updatedAt = parseRowTime(obj["updated_at"])

	data = make(map[string]any, len(obj))
	for k, v := range obj {
		switch k {
		case s.pkField, "clock", "hlc", "deleted", "deleted_at", "created_at", "updated_at":
			continue
		}
		data[k] = v
	}
	return pk, clock, hlc, deleted, deletedAt, createdAt, updatedAt, data, nil
}

func parseRowTime(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
