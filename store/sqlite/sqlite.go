/*
Package sqlite provides a SQLite-backed implementation of core.TxStore.

PURPOSE:
  Persists employees, employments, the probation log, funding sources and
  allocations, payroll revisions, tax reference data and transition runs.
  In production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

APPEND-ONLY ENFORCEMENT:
  - probation_records: the only UPDATE clears is_current
  - funding_allocations: the only UPDATE moves an active row to
    historical/terminated (WHERE status = 'active')
  - payroll_records: no UPDATE; corrections are new revisions

KEY TABLES:
  employees, employments:  directory slice read by the engine
  probation_records:       append-only probation log
  funding_sources:         grant lines and their optimistic version
  funding_allocations:     fte splits with validity windows
  payroll_records:         one row per (employment, allocation, month, revision)
  tax_brackets, tax_settings: year-scoped reference data
  transition_runs:         audit of daily processor invocations

INDEXES:
  - idx_probation_current: at most one current record per employment
  - idx_allocations_employment_status / idx_allocations_source_status: hot paths
  - idx_payroll_unique: revision uniqueness

VALUES:
  Dates are TEXT "YYYY-MM-DD"; money, fte and rates are decimal TEXT so no
  value passes through float64. Sums are done in Go.

CONCURRENCY:
  The pool holds a single connection. Units of work (WithTx) and standalone
  calls are serialized on it, which gives every unit of work exclusive
  access for its duration. Inside fn only the Store passed to fn may be
  used; calling the outer Store there would wait on the held connection.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - core/store.go: interface definitions
  - core/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/core"
)

// Store implements core.TxStore using SQLite.
type Store struct {
	queries
	db *sql.DB
}

var _ core.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: serializes units of work and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	store := &Store{queries: queries{q: db}, db: db}
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
	-- Directory slice
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT,
		marital_status TEXT NOT NULL DEFAULT 'single',
		child_count INTEGER NOT NULL DEFAULT 0,
		social_security_enrolled BOOLEAN NOT NULL DEFAULT FALSE,
		provident_fund_rate TEXT NOT NULL DEFAULT '0',
		health_welfare_enrolled BOOLEAN NOT NULL DEFAULT FALSE,
		thirteenth_month_eligible BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS employments (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		probation_end_date TEXT,
		probation_salary TEXT,
		salary TEXT NOT NULL,
		department TEXT,
		position TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_employments_probation_date
		ON employments(probation_end_date) WHERE end_date IS NULL;

	-- Probation log (append-only)
	CREATE TABLE IF NOT EXISTS probation_records (
		id TEXT PRIMARY KEY,
		employment_id TEXT NOT NULL REFERENCES employments(id),
		kind TEXT NOT NULL,
		event_date TEXT NOT NULL,
		decision_date TEXT,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		previous_end TEXT,
		sequence INTEGER NOT NULL,
		reason TEXT,
		notes TEXT,
		approved_by TEXT,
		is_current BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_probation_employment
		ON probation_records(employment_id);

	-- CRITICAL: at most one current record per employment
	CREATE UNIQUE INDEX IF NOT EXISTS idx_probation_current
		ON probation_records(employment_id) WHERE is_current = 1;

	-- Funding
	CREATE TABLE IF NOT EXISTS funding_sources (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		grant_code TEXT,
		capacity_fte TEXT,
		version INTEGER NOT NULL DEFAULT 0
	);

	-- funding_source_id has no FK: the organization sentinel has no row.
	CREATE TABLE IF NOT EXISTS funding_allocations (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		employment_id TEXT NOT NULL REFERENCES employments(id),
		funding_source_id TEXT NOT NULL,
		fte TEXT NOT NULL,
		amount TEXT NOT NULL,
		is_override BOOLEAN NOT NULL DEFAULT FALSE,
		tier TEXT NOT NULL,
		status TEXT NOT NULL,
		valid_from TEXT NOT NULL,
		valid_to TEXT,
		supersedes_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_allocations_employment_status
		ON funding_allocations(employment_id, status);
	CREATE INDEX IF NOT EXISTS idx_allocations_source_status
		ON funding_allocations(funding_source_id, status);

	-- Payroll (append-only per revision)
	CREATE TABLE IF NOT EXISTS payroll_records (
		id TEXT PRIMARY KEY,
		employment_id TEXT NOT NULL REFERENCES employments(id),
		employee_id TEXT NOT NULL,
		allocation_id TEXT NOT NULL,
		funding_source_id TEXT NOT NULL,
		period TEXT NOT NULL,
		revision INTEGER NOT NULL,
		fte TEXT NOT NULL,
		gross_salary TEXT NOT NULL,
		bonus TEXT NOT NULL,
		thirteenth_month TEXT NOT NULL,
		provident_fund_employee TEXT NOT NULL,
		social_security_employee TEXT NOT NULL,
		health_welfare_employee TEXT NOT NULL,
		income_tax TEXT NOT NULL,
		provident_fund_employer TEXT NOT NULL,
		social_security_employer TEXT NOT NULL,
		health_welfare_employer TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_payroll_unique
		ON payroll_records(employment_id, allocation_id, period, revision);

	-- Tax reference data
	CREATE TABLE IF NOT EXISTS tax_brackets (
		year INTEGER NOT NULL,
		bracket_order INTEGER NOT NULL,
		min_income TEXT NOT NULL,
		max_income TEXT,
		rate TEXT NOT NULL,
		PRIMARY KEY (year, bracket_order)
	);

	CREATE TABLE IF NOT EXISTS tax_settings (
		year INTEGER NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		setting_type TEXT NOT NULL,
		PRIMARY KEY (year, key)
	);

	-- Transition runs (audit)
	CREATE TABLE IF NOT EXISTS transition_runs (
		id TEXT PRIMARY KEY,
		as_of TEXT NOT NULL,
		status TEXT NOT NULL,
		candidates INTEGER NOT NULL DEFAULT 0,
		passed INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		errors_json TEXT,
		started_at TEXT NOT NULL,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_transition_runs_started
		ON transition_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (core.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store core.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"payroll_records", "funding_allocations", "probation_records",
		"funding_sources", "employments", "employees",
		"tax_settings", "tax_brackets", "transition_runs",
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, table := range tables {
		if _, err := sqlTx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return sqlTx.Commit()
}

// =============================================================================
// QUERIES - Bound to either the database or one transaction
// =============================================================================

// querier is the subset of *sql.DB and *sql.Tx the queries use.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements core.Store on top of a querier.
type queries struct {
	q querier
}

var _ core.Store = (*queries)(nil)

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout keeps a fixed width so stored instants sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatDate(d core.Date) string { return d.String() }

func formatDatePtr(d *core.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseDate(s string) (core.Date, error) {
	return core.ParseDate(s)
}

func parseDatePtr(s sql.NullString) (*core.Date, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := core.ParseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func formatDecimalPtr(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseDecimalPtr(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// isUniqueConstraintError reports a UNIQUE or PRIMARY KEY violation.
func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// decimals parses a fixed list of decimal columns in one pass.
type decimals struct {
	err error
}

func (p *decimals) parse(s string) decimal.Decimal {
	if p.err != nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		p.err = fmt.Errorf("invalid decimal %q: %w", s, err)
		return decimal.Zero
	}
	return d
}
