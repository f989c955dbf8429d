package cli

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/or3/workspacesync/storage/duckdb"
	"github.com/or3/workspacesync/sync"
)

// NewGC creates the gc command.
func NewGC() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Reclaim change log history",
		Long: `Runs one garbage collection discovery pass over every workspace
in the database, reclaiming change log entries and tombstones that
have fallen behind every device's cursor and aged past the retention
window.

The serve command also runs this on a timer in the background; gc is
for operators who want to reclaim space ad hoc, e.g. before a backup.`,
		RunE: runGC,
	}
}

func runGC(cmd *cobra.Command, args []string) error {
	ui := NewUI()

	ui.Header(iconInfo, "Running Workspace Sync Garbage Collection")
	ui.Blank()

	ui.StartSpinner("Opening database...")
	start := time.Now()

	db, err := sql.Open("duckdb", dbPath())
	if err != nil {
		ui.StopSpinnerError("Failed to open database")
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ui.StopSpinner("Database ready", time.Since(start))

	ui.StartSpinner("Collecting...")
	start = time.Now()

	changeLog := duckdb.NewChangeLog(db)
	collector := sync.NewCollector(sync.GCOptions{
		Log:        changeLog,
		Tombstones: duckdb.NewTombstoneStore(db),
		Cursors:    duckdb.NewCursorStore(db),
		Workspaces: changeLog,
	})

	if err := collector.RunDiscovery(cmd.Context()); err != nil {
		ui.StopSpinnerError("Garbage collection failed")
		return fmt.Errorf("run discovery: %w", err)
	}

	ui.StopSpinner("Garbage collection complete", time.Since(start))

	fmt.Println()
	fmt.Printf("%s Reclaimed history for every eligible workspace\n", successStyle.Render(iconCheck))
	return nil
}
