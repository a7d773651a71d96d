/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the BuddyImagine credit service. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize the store (SQLite or PostgreSQL)
  3. Create ledger, billing, and API handler
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port     HTTP server port (default: 8080)
  -driver   Storage driver: sqlite or postgres (default: sqlite)
  -db       SQLite database path (default: credits.db)
            Use ":memory:" for an in-memory database
  -dsn      PostgreSQL DSN (required with -driver=postgres;
            falls back to DATABASE_URL)
  -packages Path to a JSON package catalog overriding the built-in one

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the store
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/credits.db"

  # Run against PostgreSQL
  ./server -driver=postgres -dsn="postgres://localhost/buddyimagine"

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite, store/postgres: Database implementations
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/OxFrancesco/BuddyImagine/api"
	"github.com/OxFrancesco/BuddyImagine/credit"
	"github.com/OxFrancesco/BuddyImagine/imagine"
	"github.com/OxFrancesco/BuddyImagine/store/postgres"
	"github.com/OxFrancesco/BuddyImagine/store/sqlite"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	driver := flag.String("driver", "sqlite", "storage driver: sqlite or postgres")
	dbPath := flag.String("db", "credits.db", "SQLite database path")
	dsn := flag.String("dsn", os.Getenv("DATABASE_URL"), "PostgreSQL DSN")
	packagesPath := flag.String("packages", "", "JSON package catalog override")
	flag.Parse()

	// Initialize store
	var (
		store   credit.Store
		cleanup func()
	)
	switch *driver {
	case "sqlite":
		st, err := sqlite.New(*dbPath)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		store = st
		cleanup = func() { st.Close() }
	case "postgres":
		if *dsn == "" {
			log.Fatal("postgres driver requires -dsn or DATABASE_URL")
		}
		st, err := postgres.New(context.Background(), *dsn)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		store = st
		cleanup = func() { st.Close() }
	default:
		log.Fatalf("Unknown driver: %s", *driver)
	}
	defer cleanup()

	// Optional catalog override
	catalog := imagine.DefaultCatalog
	if *packagesPath != "" {
		data, err := os.ReadFile(*packagesPath)
		if err != nil {
			log.Fatalf("Failed to read package catalog: %v", err)
		}
		catalog, err = imagine.ParseCatalog(data)
		if err != nil {
			log.Fatalf("Failed to parse package catalog: %v", err)
		}
	}

	// Wire services
	ledger := credit.NewLedger(store)
	billing := imagine.NewBilling(ledger, catalog)
	handler := api.NewHandler(ledger, billing)
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Credit service starting on http://localhost:%d (driver=%s)", *port, *driver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
