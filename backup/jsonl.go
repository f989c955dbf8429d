// Package backup implements the or3-backup-stream JSONL export/import
// format: a line-delimited JSON stream mirroring the replication data
// model, used for full-workspace backup and restore.
package backup

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// FormatName identifies this stream format in the header; import
// rejects anything else.
const FormatName = "or3-backup-stream"

// FormatVersion is the current wire version.
const FormatVersion = 1

// MaxRowsPerBatch bounds how many rows a single "rows" line may carry,
// keeping file_blobs lines (which embed base64 blob data) under the
// ~256 KiB target line size.
const MaxRowsPerBatch = 20

// TableInfo describes one table in the header's manifest.
type TableInfo struct {
	Name     string `json:"name"`
	RowCount int    `json:"rowCount"`
	Inbound  bool   `json:"inbound"`
}

// Meta is the stream's first line.
type Meta struct {
	Type            string      `json:"type"` // "meta"
	Format          string      `json:"format"`
	Version         int         `json:"version"`
	DatabaseName    string      `json:"databaseName"`
	DatabaseVersion int         `json:"databaseVersion"`
	CreatedAt       string      `json:"createdAt"`
	Tables          []TableInfo `json:"tables"`
}

type tableStartLine struct {
	Type  string `json:"type"` // "table-start"
	Table string `json:"table"`
}

type rowsLine struct {
	Type  string            `json:"type"` // "rows"
	Table string            `json:"table"`
	Rows  []json.RawMessage `json:"rows"`
}

type tableEndLine struct {
	Type  string `json:"type"` // "table-end"
	Table string `json:"table"`
}

type endLine struct {
	Type string `json:"type"` // "end"
}

// typeProbe reads just the "type" discriminator off a line.
type typeProbe struct {
	Type string `json:"type"`
}

// Blob is the payload shape for a file_blobs row.
type Blob struct {
	Data string `json:"data"` // base64
	Type string `json:"type"` // mime type
}

// FileBlobRow is one file_blobs row: {hash, blob: {data, type}}.
type FileBlobRow struct {
	Hash string `json:"hash"`
	Blob Blob   `json:"blob"`
}

// KeyValueRow is the shape used for outbound-keyed tables.
type KeyValueRow struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// ErrUnsupportedFormat is returned by Import on a header format/version
// mismatch.
var ErrUnsupportedFormat = errors.New("backup: unsupported format or version")

// TableSource supplies one table's rows to Export in pages, in
// ascending key order, for keyset pagination over a backing store.
type TableSource interface {
	// Name is the table name for the header manifest.
	Name() string
	// Inbound reports whether this table's rows are plain objects
	// (true) or {key, value} tuples (false).
	Inbound() bool
	// RowCount is the total row count reported in the header.
	RowCount() int
	// Page returns up to limit rows with key > afterKey, marshaled
	// already into the wire row shape, and the last key in the page
	// (for the next call), or ok=false once exhausted.
	Page(afterKey string, limit int) (rows []json.RawMessage, lastKey string, ok bool, err error)
}

// Export streams every table in sources to w in or3-backup-stream
// format, using keyset pagination so no table is held in memory at
// once.
func Export(w io.Writer, databaseName string, databaseVersion int, now func() time.Time, sources []TableSource) error {
	enc := json.NewEncoder(w)

	tables := make([]TableInfo, len(sources))
	for i, s := range sources {
		tables[i] = TableInfo{Name: s.Name(), RowCount: s.RowCount(), Inbound: s.Inbound()}
	}
	if err := enc.Encode(Meta{
		Type: "meta", Format: FormatName, Version: FormatVersion,
		DatabaseName: databaseName, DatabaseVersion: databaseVersion,
		CreatedAt: now().UTC().Format(time.RFC3339), Tables: tables,
	}); err != nil {
		return err
	}

	for _, s := range sources {
		if err := enc.Encode(tableStartLine{Type: "table-start", Table: s.Name()}); err != nil {
			return err
		}
		after := ""
		for {
			rows, lastKey, ok, err := s.Page(after, MaxRowsPerBatch)
			if err != nil {
				return err
			}
			if len(rows) > 0 {
				if err := enc.Encode(rowsLine{Type: "rows", Table: s.Name(), Rows: rows}); err != nil {
					return err
				}
			}
			if !ok {
				break
			}
			after = lastKey
		}
		if err := enc.Encode(tableEndLine{Type: "table-end", Table: s.Name()}); err != nil {
			return err
		}
	}

	return enc.Encode(endLine{Type: "end"})
}

// ConflictPolicy governs how Import reconciles incoming rows against
// existing ones.
type ConflictPolicy int

const (
	// ClearTables truncates each table present in the backup before
	// loading its rows.
	ClearTables ConflictPolicy = iota
	// OverwriteValues bulk-puts incoming rows over any existing value
	// for the same key, rather than rejecting on collision.
	OverwriteValues
)

// TableSink receives imported rows for one table.
type TableSink interface {
	// Clear truncates the table, used under ClearTables.
	Clear() error
	// Put writes rows, bulk-put under OverwriteValues or bulk-add
	// otherwise. Under bulk-add, a key collision must return a
	// ConflictError naming the offending table.
	Put(rows []json.RawMessage, policy ConflictPolicy) error
}

// ConflictError reports a bulk-add key collision, so the caller can
// surface a user-actionable error naming the offending table.
type ConflictError struct {
	Table string
	Key   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("backup: key conflict in table %q during bulk-add import", e.Table)
}

// Import reads an or3-backup-stream from r, dispatching rows to the
// TableSink named by each table-start/rows/table-end section. It
// rejects a header whose format or version does not match exactly, or
// whose databaseName differs, or whose databaseVersion exceeds
// currentDatabaseVersion.
func Import(r io.Reader, databaseName string, currentDatabaseVersion int, sinks map[string]TableSink, policy ConflictPolicy) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if !sc.Scan() {
		return errors.New("backup: empty stream")
	}
	var meta Meta
	if err := json.Unmarshal(sc.Bytes(), &meta); err != nil {
		return fmt.Errorf("backup: malformed header: %w", err)
	}
	if meta.Type != "meta" || meta.Format != FormatName || meta.Version != FormatVersion {
		return ErrUnsupportedFormat
	}
	if meta.DatabaseName != databaseName {
		return ErrUnsupportedFormat
	}
	if meta.DatabaseVersion > currentDatabaseVersion {
		return ErrUnsupportedFormat
	}

	cleared := map[string]bool{}
	for sc.Scan() {
		line := sc.Bytes()
		var probe typeProbe
		if err := json.Unmarshal(line, &probe); err != nil {
			return fmt.Errorf("backup: malformed line: %w", err)
		}

		switch probe.Type {
		case "table-start":
			var l tableStartLine
			if err := json.Unmarshal(line, &l); err != nil {
				return err
			}
			if policy == ClearTables && !cleared[l.Table] {
				sink, ok := sinks[l.Table]
				if ok {
					if err := sink.Clear(); err != nil {
						return err
					}
				}
				cleared[l.Table] = true
			}
		case "rows":
			var l rowsLine
			if err := json.Unmarshal(line, &l); err != nil {
				return err
			}
			sink, ok := sinks[l.Table]
			if !ok {
				continue // table not requested for import; skip its rows
			}
			if err := sink.Put(l.Rows, policy); err != nil {
				return err
			}
		case "table-end":
			// nothing to do; rows are dispatched per-table already.
		case "end":
			return sc.Err()
		default:
			return fmt.Errorf("backup: unknown line type %q", probe.Type)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return errors.New("backup: stream truncated before end marker")
}
