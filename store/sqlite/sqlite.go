/*
Package sqlite provides a SQLite-backed implementation of engine.Repository.

PURPOSE:
  Persists scheme versions, approval records, the product/dealer catalog,
  dealer targets, the append-only transaction ledger and payout breakdowns.
  In production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on transactions, scheme_approvals or payouts
  - Corrections are new transactions pointing at the original (reverses)
  - A transaction can be reversed once: unique index on reverses

KEY TABLES:
  schemes:          One row per (scheme_id, version); full snapshot in config_json
  scheme_approvals: Audit log of workflow transitions
  products:         Catalog with dealer price and MRP
  dealers:          Dealer master data
  dealer_targets:   Per-dealer, per-scheme period targets
  transactions:     Immutable ledger; seq is the recording order
  payouts:          Stored PayoutResult per transaction with its fingerprint

INDEXES:
  - idx_schemes_one_active: at most one active version per scheme id
  - idx_transactions_dealer_date: period-to-date aggregation (hot path)
  - idx_transactions_reverses: single reversal per transaction

CONCURRENCY:
  The database is opened with a single connection. Every statement and every
  WithTx block is therefore serialized, and BEGIN IMMEDIATE (_txlock) takes
  the write lock up front so a transaction never upgrades mid-way. Code
  running inside WithTx must only use the Repository it is given.

USAGE:
  store, err := sqlite.New("./data/incentives.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  payouts := engine.NewPayoutService(store, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/incentive-engine/engine"
)

const timeLayout = time.RFC3339Nano

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ops implements every Repository method against a queryer.
type ops struct {
	q queryer
}

// Store implements engine.Repository using SQLite.
type Store struct {
	ops
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	store := &Store{ops: ops{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Scheme versions
	CREATE TABLE IF NOT EXISTS schemes (
		scheme_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		name TEXT NOT NULL,
		state TEXT NOT NULL,
		valid_from TEXT NOT NULL,
		valid_to TEXT NOT NULL,
		config_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (scheme_id, version)
	);

	-- CRITICAL: at most one active version per scheme id
	CREATE UNIQUE INDEX IF NOT EXISTS idx_schemes_one_active
		ON schemes(scheme_id) WHERE state = 'active';

	CREATE INDEX IF NOT EXISTS idx_schemes_state
		ON schemes(state);

	-- Approval audit log (append-only)
	CREATE TABLE IF NOT EXISTS scheme_approvals (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		scheme_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		action TEXT NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		actor TEXT NOT NULL,
		comment TEXT,
		at TEXT NOT NULL,
		FOREIGN KEY (scheme_id, version) REFERENCES schemes(scheme_id, version)
	);

	CREATE INDEX IF NOT EXISTS idx_scheme_approvals_ref
		ON scheme_approvals(scheme_id, version);

	-- Catalog
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		code TEXT,
		category TEXT,
		subcategory TEXT,
		attributes_json TEXT,
		dealer_price TEXT NOT NULL,
		mrp TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS dealers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		code TEXT,
		dealer_type TEXT,
		tier TEXT,
		region TEXT,
		state TEXT,
		city TEXT,
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS dealer_targets (
		id TEXT PRIMARY KEY,
		dealer_id TEXT NOT NULL REFERENCES dealers(id),
		scheme_id TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		target_quantity INTEGER NOT NULL,
		target_value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_dealer_targets_dealer
		ON dealer_targets(dealer_id);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		dealer_id TEXT NOT NULL,
		tx_date TEXT NOT NULL,
		lines_json TEXT NOT NULL,
		trade_in_json TEXT,
		reverses TEXT REFERENCES transactions(id),
		reason TEXT,
		source TEXT NOT NULL,
		recorded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_dealer_date
		ON transactions(dealer_id, tx_date, seq);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_reverses
		ON transactions(reverses) WHERE reverses IS NOT NULL;

	-- Payout breakdowns, one per transaction
	CREATE TABLE IF NOT EXISTS payouts (
		transaction_id TEXT PRIMARY KEY REFERENCES transactions(id),
		outcome TEXT NOT NULL,
		total TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		result_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(engine.Repository) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{ops: ops{q: sqlTx}}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore is the Repository handed to WithTx callbacks.
type txStore struct {
	ops
}

// WithTx inside a transaction joins it.
func (ts *txStore) WithTx(ctx context.Context, fn func(engine.Repository) error) error {
	return fn(ts)
}

// Reset deletes all data. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{"payouts", "transactions", "dealer_targets", "scheme_approvals", "schemes", "dealers", "products"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

var (
	_ engine.Repository = (*Store)(nil)
	_ engine.Repository = (*txStore)(nil)
)

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseDate(s string) (engine.Date, error) {
	return engine.ParseDate(s)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// violates reports whether err is a unique violation on the given column.
func violates(err error, column string) bool {
	return isUniqueConstraintError(err) && strings.Contains(err.Error(), column)
}
