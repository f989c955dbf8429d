package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	mizu "github.com/or3/workspacesync"
	"github.com/or3/workspacesync/admin"
	"github.com/or3/workspacesync/blob"
	"github.com/or3/workspacesync/internal/authz"
	"github.com/or3/workspacesync/middlewares/bearerauth"
	"github.com/or3/workspacesync/ratelimit"
	"github.com/or3/workspacesync/storage/duckdb"
	"github.com/or3/workspacesync/sync"
	"github.com/or3/workspacesync/sync/watchws"
)

// gcDiscoveryInterval is how often the in-process background
// collector re-scans for workspaces with reclaimable history. Ad hoc
// cron-driven collection is also available via the gc subcommand.
const gcDiscoveryInterval = 10 * time.Minute

func runGCLoop(ctx context.Context, collector *sync.Collector, logger *slog.Logger) {
	ticker := time.NewTicker(gcDiscoveryInterval)
	defer ticker.Stop()
	for {
		if err := collector.RunDiscovery(ctx); err != nil && ctx.Err() == nil {
			logger.Error("gc discovery pass failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// NewServe creates the serve command.
func NewServe() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the sync server",
		Long: `Starts the HTTP server for the workspace sync engine.

The server exposes the push/pull/watch replication API, a streaming
WebSocket watch endpoint, and runs the change-log garbage collector in
the background.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ui := NewUI()

	ui.Header(iconServer, "Starting Workspace Sync Server")
	ui.Blank()

	ui.StartSpinner("Opening database...")
	start := time.Now()

	db, err := sql.Open("duckdb", dbPath())
	if err != nil {
		ui.StopSpinnerError("Failed to open database")
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	store, err := duckdb.New(db)
	if err != nil {
		ui.StopSpinnerError("Failed to create store")
		return fmt.Errorf("create store: %w", err)
	}
	if err := store.Ensure(cmd.Context()); err != nil {
		ui.StopSpinnerError("Failed to run migrations")
		return fmt.Errorf("ensure schema: %w", err)
	}

	ui.StopSpinner("Database ready", time.Since(start))

	ui.StartSpinner("Building engine...")
	start = time.Now()

	app := mizu.New()

	tables := sync.NewTableRegistry(defaultTables()...)
	memberships := duckdb.NewMembershipStore(db)
	checker := authz.NewChecker(memberships, authz.BearerIdentityResolver)

	changeLog := duckdb.NewChangeLog(db)
	engine := sync.NewEngine(sync.Options{
		Store:      duckdb.NewRowStore(db),
		Tombstones: duckdb.NewTombstoneStore(db),
		Cursors:    duckdb.NewCursorStore(db),
		Log:        changeLog,
		OpIDs:      duckdb.NewOpIDIndex(db),
		Tables:     tables,
		Authorizer: checker.SyncAuthorizer(),
		Logger:     app.Logger(),
	})
	clock := sync.NewClockSource("syncd-"+dbPath(), time.Now)

	// Bearer auth is installed whenever --presign-secret is set, since
	// that flag is the signal an operator is running this outside of
	// --dev. --dev with no secret stays open, matching init's lack of
	// any auth setup.
	if presignSecret != "" {
		app.Use(bearerauth.WithOptions(bearerauth.Options{
			ValidatorWithContext: func(token string) (any, bool) {
				return resolveDeviceToken(token)
			},
		}))
	}

	handlers := sync.NewHandlers(engine, clock, nil)
	handlers.Mount(app.Router, "/api/sync")
	watchws.NewHandler(engine, nil, app.Logger()).Mount(app.Router, "/api/sync")

	adminSvc := admin.NewService(admin.Options{
		Checker:     checker,
		Memberships: memberships,
		Workspaces:  duckdb.NewWorkspaceStore(db),
		Engine:      engine,
		Clock:       sync.NewClockSource("syncd-admin", time.Now),
	})
	admin.NewHandlers(adminSvc, authz.BearerIdentityResolver).Mount(app.Router, "/api/admin")

	blobSecret := []byte(presignSecret)
	if len(blobSecret) == 0 {
		blobSecret = []byte("dev-insecure-blob-secret")
	}
	blobDir := filepath.Join(dataDir, "blobs")
	localProvider, err := blob.NewLocalProvider(blobDir, "http://"+addr+"/api/blob/objects")
	if err != nil {
		ui.StopSpinnerError("Failed to create blob storage")
		return fmt.Errorf("create blob storage: %w", err)
	}
	gateway := blob.NewGateway(blob.Options{
		Store:    duckdb.NewFileMetaStore(db),
		Provider: localProvider,
		Secret:   blobSecret,
		Now:      time.Now,
	})
	blob.NewHandlers(gateway, localProvider, nil).Mount(app.Router, "/api/blob")

	limiter := ratelimit.NewLimiter(time.Now)
	ratelimit.NewHandlers(limiter).Mount(app.Router, "/api/ratelimit")
	go runRateLimitCleanupLoop(cmd.Context(), limiter, app.Logger())

	collector := sync.NewCollector(sync.GCOptions{
		Log:        changeLog,
		Tombstones: duckdb.NewTombstoneStore(db),
		Cursors:    duckdb.NewCursorStore(db),
		Workspaces: changeLog,
		Logger:     app.Logger(),
	})
	go runGCLoop(cmd.Context(), collector, app.Logger())

	ui.StopSpinner("Engine ready", time.Since(start))

	ui.Summary([][2]string{
		{"Address", addr},
		{"Data Dir", dataDir},
		{"Mode", modeString(dev)},
	})

	ui.Blank()
	ui.Hint("Press Ctrl+C to stop the server")
	ui.Blank()
	ui.Step("Listening on " + addr)

	return app.Listen(addr)
}

// rateLimitCleanupInterval is how often expired rate-limit windows are
// purged. Windows older than ratelimit.DefaultCleanupRetention are
// dropped each pass.
const rateLimitCleanupInterval = 24 * time.Hour

func runRateLimitCleanupLoop(ctx context.Context, limiter *ratelimit.Limiter, logger *slog.Logger) {
	ticker := time.NewTicker(rateLimitCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := limiter.Cleanup(ratelimit.DefaultCleanupRetention, ratelimit.DefaultCleanupBatch, ratelimit.DefaultCleanupMaxPasses)
			if n > 0 {
				logger.Info("rate limit cleanup pass", slog.Int("purged", n))
			}
		}
	}
}

func modeString(dev bool) string {
	if dev {
		return "development"
	}
	return "production"
}

// defaultTables is the fixed allowlist of workspace-scoped tables this
// deployment replicates. Extending the synced schema means adding an
// entry here and to storage/duckdb's migration, not changing client
// behavior.
func defaultTables() []sync.TableDescriptor {
	return []sync.TableDescriptor{
		{Name: "threads", Columns: []string{"title", "archived"}},
		{Name: "messages", Columns: []string{"thread_id", "index", "order_key", "role", "body"}},
		{Name: "projects", Columns: []string{"name", "description"}},
		{Name: "posts", Columns: []string{"title", "body", "project_id"}},
		{Name: "kv", Columns: []string{"key", "value"}},
		{Name: "file_meta", PKField: "hash", Columns: []string{"storage_id", "provider_id", "mime_type", "size_bytes", "name", "kind", "width", "height", "page_count", "ref_count"}},
	}
}

// resolveDeviceToken is a placeholder identity resolver: it treats the
// bearer token itself as the authenticated user id. A real deployment
// would verify a signed session token here; swapping this one function
// out is the extension point.
func resolveDeviceToken(token string) (any, bool) {
	if token == "" {
		return nil, false
	}
	return authz.Identity{UserID: token}, true
}
