package cli

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/or3/workspacesync/backup"
	"github.com/or3/workspacesync/storage/duckdb"
	"github.com/or3/workspacesync/sync"
)

// pkFieldOf returns td's primary key field, defaulting to "id" the
// same way sync.TableRegistry does internally.
func pkFieldOf(td sync.TableDescriptor) string {
	if td.PKField == "" {
		return "id"
	}
	return td.PKField
}

const backupDatabaseName = "workspacesync"
const backupDatabaseVersion = 1

var (
	backupWorkspaceID string
	backupFile        string
	backupOverwrite   bool
)

// NewBackup creates the backup command and its export/import children.
func NewBackup() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export or import a workspace's replicated tables",
	}
	cmd.PersistentFlags().StringVar(&backupWorkspaceID, "workspace", "", "Workspace id (required)")
	cmd.PersistentFlags().StringVar(&backupFile, "file", "", "Backup file path (defaults to stdout/stdin)")
	cmd.AddCommand(newBackupExport(), newBackupImport())
	return cmd
}

func newBackupExport() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Stream a workspace's tables as an or3-backup-stream",
		RunE:  runBackupExport,
	}
}

func newBackupImport() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Restore a workspace's tables from an or3-backup-stream",
		RunE:  runBackupImport,
	}
	cmd.Flags().BoolVar(&backupOverwrite, "overwrite", false, "Bulk-put over existing rows instead of clearing tables first")
	return cmd
}

func runBackupExport(cmd *cobra.Command, args []string) error {
	if backupWorkspaceID == "" {
		return fmt.Errorf("--workspace is required")
	}

	db, err := sql.Open("duckdb", dbPath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	out := os.Stdout
	if backupFile != "" {
		f, err := os.Create(backupFile)
		if err != nil {
			return fmt.Errorf("create backup file: %w", err)
		}
		defer f.Close()
		out = f
	}

	sources := make([]backup.TableSource, 0, len(defaultTables()))
	for _, td := range defaultTables() {
		sources = append(sources, duckdb.NewRowSource(db, backupWorkspaceID, td.Name, pkFieldOf(td), td.Name != "kv"))
	}

	if err := backup.Export(out, backupDatabaseName, backupDatabaseVersion, time.Now, sources); err != nil {
		return fmt.Errorf("export: %w", err)
	}

	fmt.Fprintf(os.Stderr, "%s Exported workspace %s\n", successStyle.Render(iconCheck), backupWorkspaceID)
	return nil
}

func runBackupImport(cmd *cobra.Command, args []string) error {
	if backupWorkspaceID == "" {
		return fmt.Errorf("--workspace is required")
	}

	db, err := sql.Open("duckdb", dbPath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	in := os.Stdin
	if backupFile != "" {
		f, err := os.Open(backupFile)
		if err != nil {
			return fmt.Errorf("open backup file: %w", err)
		}
		defer f.Close()
		in = f
	}

	policy := backup.ClearTables
	if backupOverwrite {
		policy = backup.OverwriteValues
	}

	sinks := make(map[string]backup.TableSink, len(defaultTables()))
	for _, td := range defaultTables() {
		sinks[td.Name] = duckdb.NewRowSink(db, backupWorkspaceID, td.Name, pkFieldOf(td), td.Name != "kv")
	}

	if err := backup.Import(in, backupDatabaseName, backupDatabaseVersion, sinks, policy); err != nil {
		return fmt.Errorf("import: %w", err)
	}

	fmt.Fprintf(os.Stderr, "%s Imported workspace %s\n", successStyle.Render(iconCheck), backupWorkspaceID)
	return nil
}
