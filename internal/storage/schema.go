package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const migrationsTable = "orbwatch_schema_migrations"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// EnsureSchema applies the embedded migrations. Running it against an
// up-to-date database is a no-op.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.connString == "" {
		return ErrNotConfigured
	}

	db, err := sql.Open("pgx", s.connString)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping for migrations: %w", ErrConnection, err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := runUp(ctx, m)
	sourceErr, dbErr := m.Close()

	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	if sourceErr != nil {
		return fmt.Errorf("close migration source: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("close migration database: %w", dbErr)
	}
	return nil
}

func runUp(ctx context.Context, m *migrate.Migrate) error {
	done := make(chan error, 1)
	go func() {
		done <- m.Up()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		m.GracefulStop <- true
		<-done
		return ctx.Err()
	}
}
