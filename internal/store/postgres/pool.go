// Package postgres implements the store interfaces on PostgreSQL (Supabase).
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crmhub/crmhub/internal/store"
)

// PgxPool is the subset of *pgxpool.Pool the store uses.
// It is implemented by *pgxpool.Pool and pgxmock.PgxPoolIface.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store implements store.Store on a pgx pool.
type Store struct {
	Pool PgxPool
	now  func() time.Time
}

var _ store.Store = (*Store)(nil)

// New connects a pool to dsn. maxConns <= 0 keeps the pgx default.
func New(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewWithPool(pool), nil
}

// NewWithPool wraps an existing pool; tests pass a pgxmock pool.
func NewWithPool(pool PgxPool) *Store {
	return &Store{Pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error { return s.Pool.Ping(ctx) }

// Close closes the underlying pool.
func (s *Store) Close() error {
	s.Pool.Close()
	return nil
}

// isUniqueViolation reports whether the error is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pg *pgconn.PgError
	return errors.As(err, &pg) && pg.Code == "23505"
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
