package postgres

import (
	"context"
	"database/sql"
	"embed"

	// Registers the "pgx" database/sql driver used by goose.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/samber/oops"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate applies the embedded migrations to the database at dsn.
func Migrate(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "open database").Wrap(err)
	}
	defer db.Close()

	return RunMigrations(ctx, db)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("pgx"); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "set dialect").Wrap(err)
	}
	if err := gooseUpContext(ctx, db, "migrations"); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "goose up").Wrap(err)
	}
	return nil
}
