package infra

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/samber/oops"

	"github.com/pet-saude/authsvc/internal/infra/migrations"
)

// gooseUp is a seam for tests.
var gooseUp = func(ctx context.Context, db *sql.DB, dir string) error {
	return goose.UpContext(ctx, db, dir)
}

// Migrate applies the embedded schema migrations to the database at url.
func Migrate(ctx context.Context, url string) error {
	if url == "" {
		return oops.Errorf("database url is required")
	}

	db, err := sql.Open("pgx", url)
	if err != nil {
		return oops.With("operation", "open migration connection").Wrap(err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return oops.With("operation", "ping postgres").Wrap(err)
	}
	return RunMigrations(ctx, db)
}

// RunMigrations runs goose with the embedded migrations against db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("pgx"); err != nil {
		return oops.With("operation", "set goose dialect").Wrap(err)
	}
	if err := gooseUp(ctx, db, "."); err != nil {
		return oops.With("operation", "apply migrations").Wrap(err)
	}
	return nil
}
