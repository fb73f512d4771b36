package persistence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/till-ledger/internal/config"
)

// Querier supports database operations for both pool and transactions
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Ensure interfaces are satisfied (compile-time check)
var _ Querier = (*pgxpool.Pool)(nil)
var _ Querier = (pgx.Tx)(nil)

// PostgresDB is the pool behind the PostgreSQL remote store. Migrations run
// on the first successful Ping instead of at construction.
type PostgresDB struct {
	pool     *pgxpool.Pool
	migrated *Bootstrap
	logger   *slog.Logger
}

// NewPostgresDB builds the pool without dialing. An unreachable server is not
// an error here; Ping reports it.
func NewPostgresDB(ctx context.Context, logger *slog.Logger, cfg *config.PostgresConfig) (*PostgresDB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL connection string: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = cfg.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL connection pool: %w", err)
	}

	logger = logger.With("component", "postgres")
	url, path := cfg.URL, cfg.MigrationsPath
	migrate := func(context.Context) error {
		version, err := ApplyMigrations(url, path)
		if err != nil {
			return err
		}
		logger.Info("PostgreSQL schema ready", "version", version)
		return nil
	}

	logger.Info("PostgreSQL pool created", "host", poolConfig.ConnConfig.Host, "database", poolConfig.ConnConfig.Database)
	return newPostgresDB(logger, pool, migrate), nil
}

func newPostgresDB(logger *slog.Logger, pool *pgxpool.Pool, migrate Preparer) *PostgresDB {
	return &PostgresDB{
		pool:     pool,
		migrated: NewBootstrap(logger, "postgres migrations", migrate),
		logger:   logger,
	}
}

// Ping checks the server answers and, the first time it does, applies migrations
func (db *PostgresDB) Ping(ctx context.Context) error {
	if err := db.pool.Ping(ctx); err != nil {
		return err
	}
	return db.migrated.Ensure(ctx)
}

// Migrated reports whether the schema has been brought up to date
func (db *PostgresDB) Migrated() bool {
	return db.migrated.Done()
}

func (db *PostgresDB) Pool() *pgxpool.Pool {
	return db.pool
}

func (db *PostgresDB) Close() {
	db.pool.Close()
	db.logger.Info("Closed PostgreSQL connection")
}
