// Package main applies the database migrations.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/archon-research/carbon-dex/db/migrator"
	"github.com/archon-research/carbon-dex/internal/adapters/outbound/postgres"
	"github.com/archon-research/carbon-dex/internal/pkg/env"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_ = godotenv.Load(".env")

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}
}

type cliConfig struct {
	dbURL  string
	dir    string
	status bool
}

func parseConfig(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dbURL := fs.String("db", "", "PostgreSQL connection URL")
	dir := fs.String("dir", "", "Migrations directory (default ./db/migrations)")
	status := fs.Bool("status", false, "List applied and pending migrations without applying")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	cfg := cliConfig{dbURL: *dbURL, dir: *dir, status: *status}
	if cfg.dbURL == "" {
		cfg.dbURL = env.Get("DATABASE_URL", "")
	}
	if cfg.dbURL == "" {
		return cliConfig{}, fmt.Errorf("database URL not provided (use -db flag or DATABASE_URL env var)")
	}
	if cfg.dir == "" {
		cfg.dir = env.Get("MIGRATIONS_DIR", "./db/migrations")
	}
	return cfg, nil
}

func run(ctx context.Context, args []string) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return err
	}
	logger := env.NewLogger("carbon-migrate", slog.LevelInfo)

	dbCfg := postgres.DefaultDBConfig(cfg.dbURL)
	dbCfg.MinConns = 1
	pool, err := postgres.OpenPool(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	m := migrator.New(pool, cfg.dir, logger)
	if cfg.status {
		pending, err := m.Pending(ctx)
		if err != nil {
			return err
		}
		applied, err := m.ListApplied(ctx)
		if err != nil {
			// The migrations table does not exist before the first run.
			applied = nil
		}
		logger.Info("migration status", "applied", len(applied), "pending", len(pending))
		for _, f := range pending {
			logger.Info("pending migration", "file", f)
		}
		return nil
	}

	if err := m.ApplyAll(ctx); err != nil {
		return err
	}
	logger.Info("all migrations up to date")
	return nil
}
