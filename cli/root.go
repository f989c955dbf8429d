// Package cli provides the syncd command-line interface.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

// Version information (set at build time via ldflags).
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Global flags.
var (
	dataDir       string
	addr          string
	presignSecret string
	dev           bool
)

// defaultDataDir returns the default data directory ($HOME/data/workspacesync).
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, "data", "workspacesync")
}

// Execute runs the CLI with the given context.
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:   "syncd",
		Short: "Workspace sync server",
		Long: `syncd is the server side of a workspace synchronization engine:
devices push local mutations and pull the replicated change log
through an HTTP API backed by DuckDB.

Features include:
  - Last-write-wins replication with hybrid logical clocks
  - Per-workspace append-only change log with cursor-based pull/watch
  - Content-addressed blob storage with presigned upload/download URLs
  - Workspace membership and role-based authorization
  - Backup export/import and change-log garbage collection`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.SetVersionTemplate("syncd {{.Version}}\n")
	root.Version = versionString()
	root.PersistentFlags().StringVar(&dataDir, "data", defaultDataDir(), "Data directory")
	root.PersistentFlags().StringVar(&addr, "addr", ":8080", "Server address")
	root.PersistentFlags().StringVar(&presignSecret, "presign-secret", "", "Master secret for blob presign tokens (serve uses a built-in development secret when empty)")
	root.PersistentFlags().BoolVar(&dev, "dev", false, "Development mode")

	root.AddCommand(
		NewServe(),
		NewInit(),
		NewGC(),
		NewBackup(),
	)

	if err := fang.Execute(ctx, root,
		fang.WithVersion(Version),
		fang.WithCommit(Commit),
	); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(iconCross+" "+err.Error()))
		return err
	}
	return nil
}

func versionString() string {
	if strings.TrimSpace(Version) != "" && Version != "dev" {
		return Version
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		if bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			return bi.Main.Version
		}
	}
	return "dev"
}

func dbPath() string {
	return filepath.Join(dataDir, "workspacesync.duckdb")
}
