// Package postgres implements the goAccounts storage contract on PostgreSQL
// using a pgx connection pool. The schema ships as embedded goose migrations;
// call [Migrate] (or run cmd/accounts-migrate) before first use.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"time"

	goAccounts "github.com/MrEthical07/goAccounts"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Storage is a PostgreSQL-backed [goAccounts.DatabaseInterface].
type Storage struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// Option configures a Storage.
type Option func(*Storage)

// WithClock overrides the time source used for timestamps and session ids.
func WithClock(now func() time.Time) Option {
	return func(s *Storage) {
		if now != nil {
			s.now = now
		}
	}
}

// New connects to dbURL and verifies the connection.
func New(ctx context.Context, dbURL string, opts ...Option) (*Storage, error) {
	const op = "storage.postgres.New"

	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	db, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return NewWithPool(db, opts...), nil
}

// NewWithPool wraps an existing pool. The caller keeps ownership of it.
func NewWithPool(db *pgxpool.Pool, opts ...Option) *Storage {
	s := &Storage{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the connection pool.
func (s *Storage) Close() {
	s.db.Close()
}

// Migrate applies every pending embedded migration to the database behind pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const op = "storage.postgres.Migrate"

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SchemaVersion returns the latest applied migration version.
func SchemaVersion(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	const op = "storage.postgres.SchemaVersion"

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	v, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}

var _ goAccounts.DatabaseInterface = (*Storage)(nil)
