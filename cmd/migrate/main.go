/*
main.go - Postgres schema migrations

PURPOSE:
  Applies the versioned migrations in store/postgres/migrations. The SQLite
  store migrates itself on open and does not need this command.

USAGE:
  migrate [-config path] [-dir path] [up|down|drop|version]

  The action defaults to "up". Connection settings come from the same
  config file and LEAVE_* environment as the server.

SEE ALSO:
  - store/postgres/migrations: Schema files
  - config/config.go: Database settings and DSN
*/
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/warp/leave-engine/config"
)

func main() {
	var (
		configPath    = flag.String("config", os.Getenv("LEAVE_CONFIG"), "path to config file")
		migrationsDir = flag.String("dir", "store/postgres/migrations", "directory containing migration files")
	)
	flag.Parse()

	action := "up"
	if flag.NArg() > 0 {
		action = flag.Arg(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Database.Driver != config.DriverPostgres {
		slog.Error("migrations apply to the postgres driver only", "driver", cfg.Database.Driver)
		os.Exit(1)
	}

	if err := runMigration(action, *migrationsDir, cfg.Database.DSN()); err != nil {
		slog.Error("migration failed", "action", action, "error", err)
		os.Exit(1)
	}
	slog.Info("migration completed", "action", action)
}

func runMigration(action, dir, dsn string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve path for %s: %w", dir, err)
	}

	m, err := migrate.New("file://"+filepath.ToSlash(absDir), dsn)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	switch action {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		return nil
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		return nil
	case "drop":
		return m.Drop()
	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			slog.Info("no migration applied")
			return nil
		}
		if err != nil {
			return err
		}
		slog.Info("current version", "version", version, "dirty", dirty)
		return nil
	default:
		return fmt.Errorf("unsupported action %q", action)
	}
}
