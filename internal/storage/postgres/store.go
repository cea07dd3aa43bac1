package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/versecatch/internal/achievement"
	"github.com/MrWong99/versecatch/internal/identity"
	"github.com/MrWong99/versecatch/internal/ledger"
)

// Compile-time interface checks.
var (
	_ ledger.Store       = (*Store)(nil)
	_ achievement.Store  = (*Store)(nil)
	_ identity.Directory = (*Store)(nil)
)

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is the PostgreSQL backend. All methods are safe for concurrent use.
type Store struct {
	db   DB
	pool *pgxpool.Pool
}

// Option configures [NewStore].
type Option func(*pgxpool.Config)

// WithMaxConns caps the pool size. Values <= 0 keep the pgx default.
func WithMaxConns(n int32) Option {
	return func(c *pgxpool.Config) {
		if n > 0 {
			c.MaxConns = n
		}
	}
}

// NewStore connects to dsn, verifies the connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	for _, o := range opts {
		o(cfg)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{db: pool, pool: pool}, nil
}

// New wraps an existing connection or pool. The caller owns db and is
// responsible for running [Migrate].
func New(db DB) *Store {
	return &Store{db: db}
}

// Ping verifies that the database answers queries.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("postgres: ping: %w", classify(err))
	}
	return nil
}

// Close releases the pool opened by [NewStore]. It is a no-op for stores
// created with [New].
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// transientCodes lists SQLSTATEs raised before the statement committed:
// serialization_failure, deadlock_detected and lock_not_available.
// Connection-level failures are excluded: the server may already have
// committed an increment whose reply was lost.
var transientCodes = map[string]bool{
	"40001": true,
	"40P01": true,
	"55P03": true,
}

// classify marks retryable failures with [ledger.MarkTransient].
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if transientCodes[pgErr.Code] {
			return ledger.MarkTransient(err)
		}
		return err
	}
	// SafeToRetry only holds when nothing was sent to the server.
	if pgconn.SafeToRetry(err) {
		return ledger.MarkTransient(err)
	}
	return err
}

// isDuplicateKeyError reports whether err is a unique-violation error (23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
