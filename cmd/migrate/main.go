// Package main provides the schema migration CLI. Migrations live in the
// migrations/ directory and are tracked in the schema_migrations table.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/iwasthesword/dpm-v0-sub001/internal/config"
)

const defaultTimeout = 5 * time.Minute

func main() {
	var (
		path    = flag.String("path", envOr("MIGRATIONS_PATH", "migrations"), "Path to migrations directory")
		timeout = flag.Duration("timeout", defaultTimeout, "Timeout per migration")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [args]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Schema migrations for the dental practice auth service.\n")
		fmt.Fprintf(os.Stderr, "Database settings come from the DB_* environment variables.\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  up [N]       Apply all or N pending migrations\n")
		fmt.Fprintf(os.Stderr, "  down [N]     Roll back all or N migrations\n")
		fmt.Fprintf(os.Stderr, "  version      Print current migration version\n")
		fmt.Fprintf(os.Stderr, "  force V      Set version V without running migrations\n")
		fmt.Fprintf(os.Stderr, "  drop         Drop all tables (asks for confirmation)\n")
		fmt.Fprintf(os.Stderr, "  create NAME  Create a new migration file pair\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	if err := run(cfg.Database.URL(), *path, *timeout, args[0], args[1:]); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run(dbURL, path string, timeout time.Duration, cmd string, args []string) error {
	if cmd == "create" {
		if len(args) < 1 {
			return errors.New("create requires a migration name")
		}
		return createMigration(path, args[0])
	}

	m, err := newMigrate(dbURL, path, timeout)
	if err != nil {
		return err
	}
	defer m.Close()

	switch cmd {
	case "up":
		steps, err := optionalSteps(args)
		if err != nil {
			return err
		}
		return apply(m, steps, false)
	case "down":
		steps, err := optionalSteps(args)
		if err != nil {
			return err
		}
		return apply(m, steps, true)
	case "version":
		return showVersion(m)
	case "force":
		if len(args) < 1 {
			return errors.New("force requires a version number")
		}
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version: %s", args[0])
		}
		log.Printf("Forcing version to %d (no migrations will run)", v)
		return m.Force(v)
	case "drop":
		return drop(m)
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func optionalSteps(args []string) (int, error) {
	if len(args) == 0 {
		return 0, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid number of steps: %s", args[0])
	}
	return n, nil
}

func apply(m *migrate.Migrate, steps int, down bool) error {
	from, _, _ := m.Version()

	var err error
	switch {
	case steps > 0 && down:
		err = m.Steps(-steps)
	case steps > 0:
		err = m.Steps(steps)
	case down:
		err = m.Down()
	default:
		err = m.Up()
	}

	if err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("No change")
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}

	to, _, _ := m.Version()
	log.Printf("Migrated: %d -> %d", from, to)
	return nil
}

func showVersion(m *migrate.Migrate) error {
	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Println("No migrations applied yet")
			return nil
		}
		return err
	}
	suffix := ""
	if dirty {
		suffix = " (dirty)"
	}
	log.Printf("Current version: %d%s", version, suffix)
	return nil
}

func drop(m *migrate.Migrate) error {
	log.Println("WARNING: this drops ALL tables in the database. Type 'yes' to confirm:")
	var confirm string
	if _, err := fmt.Scanln(&confirm); err != nil || confirm != "yes" {
		log.Println("Aborted")
		return nil
	}
	if err := m.Drop(); err != nil {
		return fmt.Errorf("drop failed: %w", err)
	}
	log.Println("All tables dropped")
	return nil
}

func createMigration(path, name string) error {
	next, err := nextMigrationNumber(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create migrations directory: %w", err)
	}

	stamp := time.Now().Format(time.RFC3339)
	for _, f := range []struct{ suffix, header string }{
		{"up", fmt.Sprintf("-- Migration: %s\n-- Created: %s\n", name, stamp)},
		{"down", fmt.Sprintf("-- Migration: %s (rollback)\n-- Created: %s\n", name, stamp)},
	} {
		file := filepath.Join(path, fmt.Sprintf("%06d_%s.%s.sql", next, name, f.suffix))
		if err := os.WriteFile(file, []byte(f.header), 0o644); err != nil {
			return fmt.Errorf("create %s migration: %w", f.suffix, err)
		}
		log.Printf("Created %s", file)
	}
	return nil
}

func nextMigrationNumber(path string) (int, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, err
	}

	max := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &n); err == nil && n > max {
			max = n
		}
	}
	return max + 1, nil
}

func newMigrate(dbURL, path string, timeout time.Duration) (*migrate.Migrate, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create database driver: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve migrations path: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+abs, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	m.LockTimeout = timeout
	return m, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
