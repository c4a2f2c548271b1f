/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, YAML, .env, LEAVE_*, flags)
  2. Build the root slog logger
  3. Open the SQLite or Postgres store
  4. Seed the catalog when a path is configured
  5. Wire notifier, calendar gateway and handler
  6. Start the year-end scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (default: $LEAVE_CONFIG)
  -port    HTTP server port, overrides config
  -db      SQLite database path, overrides config
           Use ":memory:" for in-memory database
  -seed    Catalog file (YAML or JSON) to load at startup

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the store
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/leave.db"

  # Run with in-memory database and a demo catalog
  ./server -db=":memory:" -seed=catalog.yaml

  # Run against Postgres
  LEAVE_DB_DRIVER=postgres ./server -config=config.yaml

SEE ALSO:
  - config/config.go: Settings and environment variables
  - api/server.go: Router configuration
  - cmd/migrate: Postgres schema migrations
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/calendar"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/notify"
	"github.com/warp/leave-engine/store/postgres"
	"github.com/warp/leave-engine/store/sqlite"
)

// store is what both drivers provide.
type store interface {
	api.Store
	notify.EventSink
}

func main() {
	// Flags
	configPath := flag.String("config", os.Getenv("LEAVE_CONFIG"), "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	seedPath := flag.String("seed", "", "Catalog file to load at startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.SQLitePath = *dbPath
	}
	if *seedPath != "" {
		cfg.Seed.CatalogPath = *seedPath
	}

	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx := context.Background()

	// Initialize store
	st, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to initialize database", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	if cfg.Seed.CatalogPath != "" {
		if err := seed(ctx, cfg.Seed.CatalogPath, st, logger); err != nil {
			logger.Error("failed to seed catalog", "path", cfg.Seed.CatalogPath, "error", err)
			os.Exit(1)
		}
	}

	// Initialize handler
	notifier := notify.Fanout{notify.NewLogger(logger), notify.NewOutbox(st)}
	handler := api.NewHandler(st, calendar.NewGateway(st, cfg.Scheduler.CompanyID), notifier, api.Options{
		MinDaysNotice:  cfg.Validation.MinDaysNotice,
		MaxRetries:     cfg.Ledger.MaxRetries,
		Eligibility:    cfg.Directory.Eligibility(),
		Parallelism:    cfg.CarryOver.Parallelism,
		MaxParallelism: cfg.CarryOver.MaxParallelism,
		CarryOverActor: cfg.CarryOver.Actor,
		Logger:         logger,
	})

	scheduler := api.NewYearEndScheduler(handler.YearEnd, st)
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.CheckInterval = cfg.Scheduler.CheckInterval
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(handler, cfg.Server.AllowedOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", "addr", server.Addr, "driver", cfg.Database.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store, func(), error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return postgres.New(pool), pool.Close, nil
	default:
		st, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil
	}
}

func seed(ctx context.Context, path string, sink factory.Sink, logger *slog.Logger) error {
	catalog, err := factory.LoadFile(path)
	if err != nil {
		return err
	}
	summary, err := factory.Apply(ctx, catalog, sink)
	if err != nil {
		return err
	}
	logger.Info("catalog seeded", "path", path,
		"leave_types", summary.LeaveTypes, "rules", summary.Rules,
		"holidays", summary.Holidays, "employees", summary.Employees)
	return nil
}
