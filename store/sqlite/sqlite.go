/*
Package sqlite provides a SQLite-backed implementation of booking.Store.

PURPOSE:
  Implements the ledger, slot, reservation, replenishment and audit stores,
  plus the local subscription and feature-flag projections, on SQLite.

CONSTRAINTS ENFORCED BY THE SCHEMA:
  idx_ledger_one_active:          one active ledger entry per subscriber
  idx_reservations_one_confirmed: one confirmed reservation per (subscriber, slot)
  replenishments UNIQUE:          one record per (subscriber, cycle_date)
  CHECK constraints:              balance >= 0, 0 <= occupancy <= capacity

CONCURRENCY:
  SQLite allows a single writer. The pool is pinned to one connection and
  writers serialize on sync.RWMutex, so a transaction sees no interleaved
  writes. Conditional updates still guard every counter.

WAL MODE:
  Opened with WAL so readers do not block the writer on file databases.

MIGRATION:
  Versioned SQL migrations under migrations/ are embedded and applied with
  goose on New().

USAGE:
  store, err := sqlite.New("./data/reservations.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - booking/store.go: interface definitions
  - store/postgres: PostgreSQL implementation
  - booking/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/warp/reservation-engine/booking"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeLayout has fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

var (
	_ booking.Store              = (*Store)(nil)
	_ booking.SubscriptionSource = (*Store)(nil)
	_ booking.FeatureToggle      = (*Store)(nil)
	_ booking.Tx                 = (*ops)(nil)
)

// Store implements booking.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// ":memory:" databases live and die with their connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return err
	}
	_, err = provider.Up(ctx)
	return err
}

// Reset deletes all rows and restores the default feature flags.
// Development and demo use only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM audit_log;
		DELETE FROM reservations;
		DELETE FROM replenishments;
		DELETE FROM ledger_entries;
		DELETE FROM slots;
		DELETE FROM subscriptions;
		UPDATE feature_flags SET enabled = 1 WHERE name = 'weekly_pilates_refill_enabled';
	`)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (booking.Store interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx booking.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&ops{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return mapError(fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ops implements booking.Tx against a querier.
type ops struct {
	q querier
}

// read runs fn outside a transaction under the read lock.
func (s *Store) read(fn func(o *ops) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&ops{q: s.db})
}

// write runs fn outside a transaction under the write lock.
func (s *Store) write(fn func(o *ops) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&ops{q: s.db})
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatDate(t time.Time) string {
	return booking.DateOf(t).Format(time.DateOnly)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func parseDate(s string) (time.Time, error) {
	return booking.ParseDate(s)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// mapError translates SQLite errors into booking sentinels. Unique
// violations are resolved by the caller, which knows the table.
func mapError(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	switch {
	case se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked:
		return fmt.Errorf("%w: %v", booking.ErrConflict, err)
	case se.ExtendedCode == sqlite3.ErrConstraintCheck:
		return &booking.InvariantError{Constraint: constraintName(se.Error()), Err: err}
	}
	return err
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func constraintName(msg string) string {
	if i := strings.Index(msg, "constraint failed: "); i >= 0 {
		return msg[i+len("constraint failed: "):]
	}
	return msg
}
