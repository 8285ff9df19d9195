// Package main implements the entry point for the txtasks server, which
// accepts job requests over HTTP and dispatches each job only after the
// database transaction that recorded it has committed.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/phrazzld/txtasks/internal/config"
	"github.com/phrazzld/txtasks/internal/platform/logger"
	"github.com/phrazzld/txtasks/internal/platform/postgres"
	"github.com/phrazzld/txtasks/internal/redact"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("txtasks server: %v", err)
	}
}

// run loads configuration, connects dependencies and serves until ctx is
// cancelled.
func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	l.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"database_url", redact.URL(cfg.Database.URL),
		"database_alias", cfg.Database.Alias,
		"broker_backend", cfg.Broker.Backend)

	db, err := setupAppDatabase(ctx, cfg, l)
	if err != nil {
		return err
	}

	if err := postgres.Migrate(ctx, db, l); err != nil {
		_ = db.Close()
		return err
	}

	app, err := newApplication(cfg, l, db, defaultRegistry(l))
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	slog.Info("txtasks server starting")
	return app.Run(ctx)
}
