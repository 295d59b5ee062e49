package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mrv/lifecycle"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	Pool *pgxpool.Pool
}

// conn is satisfied by both *pgxpool.Pool and pgx.Tx. Begin on a pgx.Tx
// opens a savepoint, so store methods that need their own transaction nest
// cleanly inside RunInTx.
type conn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("database connection established")
	return &DB{Pool: pool}, nil
}

// Projects returns a project store bound to the pool.
func (db *DB) Projects() *ProjectStore {
	return &ProjectStore{conn: db.Pool}
}

// Registry returns a registry store bound to the pool.
func (db *DB) Registry() *RegistryStore {
	return &RegistryStore{conn: db.Pool}
}

// RunInTx runs fn inside one PostgreSQL transaction. The project update and
// the registry append made through stores commit or roll back together.
func (db *DB) RunInTx(ctx context.Context, fn func(stores lifecycle.Stores) error) error {
	err := pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
		return fn(lifecycle.Stores{
			Projects: &ProjectStore{conn: tx},
			Registry: &RegistryStore{conn: tx},
		})
	})
	return unavailable(err)
}

// Health pings the pool.
func (db *DB) Health(ctx context.Context) error {
	return unavailable(db.Pool.Ping(ctx))
}

func (db *DB) Close() {
	db.Pool.Close()
	slog.Info("database connection closed")
}
