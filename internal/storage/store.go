package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"orbwatch/internal/config"
)

const (
	pgInvalidCatalogName = "3D000"
	pgDuplicateDatabase  = "42P04"
	pgUndefinedTable     = "42P01"
	maintenanceDatabase  = "postgres"
)

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	dsn := cfg.ConnString()
	if dsn == "" {
		return nil, fmt.Errorf("database dsn or host is required")
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// Open builds a pool, verifies connectivity and, when allowed, creates the
// target database if Postgres reports it missing.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	store, err := open(ctx, cfg)
	if err == nil {
		return store, nil
	}
	if !cfg.CreateDatabase || !isMissingDatabase(err) {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	if err := CreateDatabase(ctx, cfg.ConnString()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	store, err = open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return store, nil
}

func open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return NewStore(pool, cfg.ConnString()), nil
}

// CreateDatabase creates the database named in dsn through the maintenance
// database. An existing database is not an error.
func CreateDatabase(ctx context.Context, dsn string) error {
	connConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parse database dsn: %w", err)
	}

	name := connConfig.Database
	if name == "" || name == maintenanceDatabase {
		return nil
	}
	connConfig.Database = maintenanceDatabase

	conn, err := pgx.ConnectConfig(ctx, connConfig)
	if err != nil {
		return fmt.Errorf("connect maintenance database: %w", err)
	}
	defer conn.Close(context.Background())

	var exists bool
	if err := conn.QueryRow(ctx, databaseExistsSQL, name).Scan(&exists); err != nil {
		return fmt.Errorf("check database %s: %w", name, err)
	}
	if exists {
		return nil
	}

	if _, err := conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize()); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgDuplicateDatabase {
			return nil
		}
		return fmt.Errorf("create database %s: %w", name, err)
	}
	return nil
}

func isMissingDatabase(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgInvalidCatalogName
}

// isUndefinedTable reports a read against a database whose schema has not
// been migrated yet.
func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable
}

// PoolConnector opens a fresh Store for every scrape cycle.
type PoolConnector struct {
	cfg    config.DatabaseConfig
	logger zerolog.Logger
}

// NewPoolConnector builds a connector for the configured database.
func NewPoolConnector(cfg config.DatabaseConfig, logger zerolog.Logger) *PoolConnector {
	return &PoolConnector{cfg: cfg, logger: logger.With().Str("component", "storage").Logger()}
}

// Connect opens and verifies a new Store.
func (c *PoolConnector) Connect(ctx context.Context) (ObservationStore, error) {
	start := time.Now()
	store, err := Open(ctx, c.cfg)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Dur("elapsed", time.Since(start)).Msg("database connected")
	return store, nil
}

var _ Connector = (*PoolConnector)(nil)
