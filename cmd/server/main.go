/*
main.go - Application entry point

PURPOSE:
  Builds every collaborator once, wires them into the HTTP surface and
  tears them down on shutdown. Nothing is held in package-level state.

STARTUP SEQUENCE:
  1. Parse command-line flags (env fallbacks for secrets)
  2. Open the table store and provision one table per record type
  3. Open the blob store
  4. Build snapshot cache, coordinator, catalog and metrics
  5. Start the integrity scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port          HTTP server port (default: 8080)
  -driver        Table store: sqlite | postgres | memory (default: sqlite)
  -db            SQLite database path (default: records.db)
  -dsn           Postgres DSN (default: $RECORDS_POSTGRES_DSN)
  -blob          Blob store: memory | s3 (default: memory)
  -cache-ttl     Snapshot staleness bound, must be positive (default: 60s)
  -strict-ids    Serialize allocation and compare-and-append (default: true)
  -admin-secret  Privileged view secret (default: $RECORDS_ADMIN_SECRET)
  -origins       Comma-separated CORS origins
  -integrity-interval  Identifier check interval, 0 disables (default: 15m)

ENVIRONMENT:
  RECORDS_POSTGRES_DSN, RECORDS_ADMIN_SECRET
  RECORDS_S3_BUCKET, RECORDS_S3_REGION, RECORDS_S3_ENDPOINT,
  RECORDS_S3_PATH_STYLE, RECORDS_S3_PREFIX, RECORDS_S3_PUBLIC_URL

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the integrity scheduler
  4. Close the table store
  5. Exit

EXAMPLES:
  ./server -db="./data/records.db"
  ./server -driver=postgres -dsn="postgres://localhost/records?sslmode=disable"
  RECORDS_S3_BUCKET=qms-attachments ./server -blob=s3
  ./server -strict-ids=false   # loose allocation, duplicate IDs possible
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/warp/record-intake/api"
	"github.com/warp/record-intake/record"
	"github.com/warp/record-intake/record/store"
	"github.com/warp/record-intake/store/postgres"
	"github.com/warp/record-intake/store/s3"
	"github.com/warp/record-intake/store/sqlite"
)

// devAdminSecret is used when no secret is configured. Development only.
const devAdminSecret = "qaadmin123"

type tableStore interface {
	record.TableStore
	CreateTable(ctx context.Context, key string, header record.Row) error
}

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	driver := flag.String("driver", "sqlite", "table store: sqlite | postgres | memory")
	dbPath := flag.String("db", "records.db", "SQLite database path")
	dsn := flag.String("dsn", os.Getenv("RECORDS_POSTGRES_DSN"), "Postgres DSN")
	blobDriver := flag.String("blob", "memory", "blob store: memory | s3")
	cacheTTL := flag.Duration("cache-ttl", record.DefaultTTL, "snapshot staleness bound, must be positive")
	strict := flag.Bool("strict-ids", true, "serialize identifier allocation and compare-and-append")
	adminSecret := flag.String("admin-secret", os.Getenv("RECORDS_ADMIN_SECRET"), "privileged view secret")
	origins := flag.String("origins", "", "comma-separated CORS origins")
	integrityInterval := flag.Duration("integrity-interval", 15*time.Minute, "identifier integrity check interval, 0 disables")
	flag.Parse()

	if err := checkCacheTTL(*cacheTTL); err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()

	// Table store
	tables, err := openTables(ctx, *driver, *dbPath, *dsn)
	if err != nil {
		log.Fatalf("Failed to initialize table store: %v", err)
	}
	if c, ok := tables.(io.Closer); ok {
		defer c.Close()
	}
	for _, t := range record.Types() {
		if err := tables.CreateTable(ctx, t.StoreKey, t.Header()); err != nil {
			log.Fatalf("Failed to provision table %s: %v", t.StoreKey, err)
		}
	}

	// Blob store
	blobs, err := openBlobs(ctx, *blobDriver)
	if err != nil {
		log.Fatalf("Failed to initialize blob store: %v", err)
	}

	if *adminSecret == "" {
		log.Printf("Warning: no admin secret configured, using development default")
		*adminSecret = devAdminSecret
	}
	if !*strict {
		log.Printf("Warning: strict-ids disabled, concurrent submissions may share a record ID")
	}

	// Domain wiring
	metrics := api.NewMetrics()
	cache := record.NewSnapshotCache(tables, *cacheTTL, nil)
	cache.OnFetch = metrics.ObserveFetch

	coord := record.NewCoordinator(record.Config{
		Tables: tables,
		Blobs:  blobs,
		Cache:  cache,
		Strict: *strict,
		Hooks:  metrics.Hooks(),
	})
	catalog := &record.Catalog{Cache: cache, Gate: record.AccessGate{Secret: *adminSecret}}

	handler := api.NewHandler(coord, catalog, metrics)
	if *integrityInterval > 0 {
		checks := api.NewIntegrityScheduler(cache)
		checks.CheckInterval = *integrityInterval
		checks.OnRun = metrics.ObserveIntegrity
		handler.Integrity = checks
		checks.Start()
		defer checks.Stop()
	}
	router := api.NewRouter(handler, splitList(*origins))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("[Server] listening on http://localhost:%d (tables=%s blobs=%s strict=%t ttl=%s)",
			*port, *driver, *blobDriver, *strict, *cacheTTL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func openTables(ctx context.Context, driver, dbPath, dsn string) (tableStore, error) {
	switch driver {
	case "sqlite":
		return sqlite.New(dbPath)
	case "postgres":
		return postgres.New(ctx, dsn)
	case "memory":
		return store.NewTable(), nil
	default:
		return nil, fmt.Errorf("unknown table driver %q", driver)
	}
}

func openBlobs(ctx context.Context, driver string) (record.BlobStore, error) {
	switch driver {
	case "memory":
		return store.NewBlob(), nil
	case "s3":
		return s3.OpenFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unknown blob driver %q", driver)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// checkCacheTTL rejects a staleness bound the cache would silently replace
// with the default.
func checkCacheTTL(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("-cache-ttl must be positive, got %v", d)
	}
	return nil
}
