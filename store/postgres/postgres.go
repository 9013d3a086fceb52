/*
Package postgres provides a PostgreSQL implementation of booking.Store.

PURPOSE:
  Production store for multi-instance deployments. Same schema and
  constraints as store/sqlite, but concurrency is left to the database:
  transactions run at READ COMMITTED, the active ledger row is taken with
  SELECT ... FOR UPDATE, and counters move through conditional UPDATEs.

ERROR MAPPING:
  23505 unique_violation       -> ErrAlreadyBooked / ErrAlreadyReplenished by constraint
  23514 check_violation        -> InvariantError
  40001 serialization_failure  -> ErrConflict (retried by the caller)
  40P01 deadlock_detected      -> ErrConflict
  55P03 lock_not_available     -> ErrConflict

MIGRATION:
  Migrate applies the embedded goose migrations through a database/sql
  handle borrowed from the pool.

USAGE:
  pool, err := postgres.Connect(ctx, dsn)
  if err != nil { ... }
  defer pool.Close()
  if err := postgres.Migrate(ctx, pool); err != nil { ... }
  store := postgres.New(pool)

SEE ALSO:
  - booking/store.go: interface definitions
  - store/sqlite: single-file implementation
*/
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/warp/reservation-engine/booking"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	_ booking.Store              = (*Store)(nil)
	_ booking.SubscriptionSource = (*Store)(nil)
	_ booking.FeatureToggle      = (*Store)(nil)
	_ booking.Tx                 = (*ops)(nil)
)

// Pool is the subset of *pgxpool.Pool the store uses. pgxmock pools satisfy it.
type Pool interface {
	querier
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements booking.Store on PostgreSQL. Methods called outside
// WithTx run as single auto-committed statements.
type Store struct {
	*ops
	pool Pool
}

func New(pool Pool) *Store {
	return &Store{ops: &ops{q: pool}, pool: pool}
}

// Connect opens a pool and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return pool, nil
}

// Migrate applies pending migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (booking.Store interface)
// =============================================================================

// WithTx executes fn within a READ COMMITTED transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx booking.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}

	// Rollback after Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&ops{q: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapError(fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// OpenLedger runs in its own transaction so the deactivate and insert land together.
func (s *Store) OpenLedger(ctx context.Context, e booking.LedgerEntry) error {
	return s.WithTx(ctx, func(tx booking.Tx) error { return tx.OpenLedger(ctx, e) })
}

// Reset deletes all rows and restores the default feature flags.
// Development and demo use only.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `
		TRUNCATE audit_log, reservations, replenishments, ledger_entries, slots, subscriptions
	`); err != nil {
		return fmt.Errorf("failed to truncate: %w", err)
	}
	_, err := s.pool.Exec(ctx, `UPDATE feature_flags SET enabled = TRUE WHERE name = $1`, booking.FeatureWeeklyRefill)
	return err
}

// ops implements booking.Tx against a pool or a transaction.
type ops struct {
	q    querier
	inTx bool
}

// forUpdate returns the row-lock suffix when running inside a transaction.
func (o *ops) forUpdate() string {
	if o.inTx {
		return " FOR UPDATE"
	}
	return ""
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

const (
	constraintOneConfirmed  = "idx_reservations_one_confirmed"
	constraintOneActive     = "idx_ledger_one_active"
	constraintCycleUnique   = "replenishments_subscriber_cycle_key"
	codeUniqueViolation     = "23505"
	codeCheckViolation      = "23514"
	codeSerializationFailed = "40001"
	codeDeadlockDetected    = "40P01"
	codeLockNotAvailable    = "55P03"
)

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeSerializationFailed, codeDeadlockDetected, codeLockNotAvailable:
		return fmt.Errorf("%w: %v", booking.ErrConflict, err)
	case codeCheckViolation:
		return &booking.InvariantError{Constraint: pgErr.ConstraintName, Err: err}
	}
	return err
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		pgErr.Code == codeUniqueViolation &&
		pgErr.ConstraintName == constraint
}
