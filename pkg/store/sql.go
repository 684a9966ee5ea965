package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/mcclellann/fredCollect/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Supported driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// SQLStore implements Storage on database/sql. Queries are written with '?'
// placeholders and rebound for the active dialect.
type SQLStore struct {
	db     *sql.DB
	q      querier
	driver string
	inTx   bool
	log    *zap.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database and initializes the schema.
func NewSQLiteStore(dataSourceName string, log *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open(DriverSQLite, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	for _, pragma := range []string{"PRAGMA foreign_keys = ON;", "PRAGMA journal_mode = WAL;", "PRAGMA busy_timeout = 5000;"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run %q: %w", pragma, err)
		}
	}
	return openSQLStore(db, DriverSQLite, log)
}

// NewPostgresStore connects to PostgreSQL and initializes the schema.
func NewPostgresStore(dataSourceName string, log *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open(DriverPostgres, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	return openSQLStore(db, DriverPostgres, log)
}

func openSQLStore(db *sql.DB, driver string, log *zap.Logger) (*SQLStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}
	s := &SQLStore{db: db, q: db, driver: driver, log: log}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	log.Info("database connection established and schema initialized", zap.String("driver", driver))
	return s, nil
}

var schemaTypes = map[string]*strings.Replacer{
	DriverSQLite:   strings.NewReplacer("{uuid}", "TEXT", "{money}", "TEXT", "{ts}", "DATETIME"),
	DriverPostgres: strings.NewReplacer("{uuid}", "UUID", "{money}", "NUMERIC(20,4)", "{ts}", "TIMESTAMPTZ"),
}

// initSchema creates the tables if they don't exist. Money is TEXT on SQLite so
// no precision is lost.
func (s *SQLStore) initSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS customers (
		id {uuid} PRIMARY KEY,
		customer_code TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		created_at {ts} NOT NULL,
		updated_at {ts} NOT NULL
	);
	CREATE TABLE IF NOT EXISTS users (
		id {uuid} PRIMARY KEY,
		display_name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		reporting_manager_id {uuid} REFERENCES users(id),
		is_active BOOLEAN NOT NULL,
		created_at {ts} NOT NULL,
		updated_at {ts} NOT NULL
	);
	CREATE TABLE IF NOT EXISTS loan_accounts (
		id {uuid} PRIMARY KEY,
		account_number TEXT NOT NULL UNIQUE,
		customer_id {uuid} NOT NULL REFERENCES customers(id),
		product_vertical TEXT NOT NULL DEFAULT '',
		principal_outstanding {money} NOT NULL,
		interest_outstanding {money} NOT NULL,
		penalty_outstanding {money} NOT NULL,
		total_outstanding {money} NOT NULL,
		original_principal {money} NOT NULL,
		original_interest {money} NOT NULL,
		original_penalty {money} NOT NULL,
		days_past_due INTEGER NOT NULL,
		current_bucket TEXT NOT NULL,
		last_payment_date {ts},
		last_payment_amount {money} NOT NULL,
		total_amount_paid {money} NOT NULL,
		last_synced_at {ts},
		version INTEGER NOT NULL,
		created_at {ts} NOT NULL,
		updated_at {ts} NOT NULL
	);
	CREATE TABLE IF NOT EXISTS collection_cases (
		id {uuid} PRIMARY KEY,
		case_number TEXT NOT NULL UNIQUE,
		loan_account_id {uuid} NOT NULL UNIQUE REFERENCES loan_accounts(id),
		customer_id {uuid} NOT NULL REFERENCES customers(id),
		status TEXT NOT NULL,
		current_bucket TEXT NOT NULL,
		previous_bucket TEXT,
		last_bucket_change_at {ts},
		days_past_due INTEGER NOT NULL,
		total_outstanding {money} NOT NULL,
		principal_outstanding {money} NOT NULL,
		interest_outstanding {money} NOT NULL,
		penalty_outstanding {money} NOT NULL,
		priority INTEGER NOT NULL,
		collection_score {money} NOT NULL,
		probability_of_payment DOUBLE PRECISION,
		assigned_to_user_id {uuid} REFERENCES users(id),
		last_assigned_at {ts},
		opened_at {ts} NOT NULL,
		closed_at {ts},
		resolution_type TEXT NOT NULL DEFAULT '',
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at {ts} NOT NULL,
		updated_at {ts} NOT NULL
	);
	CREATE TABLE IF NOT EXISTS case_status_history (
		id {uuid} PRIMARY KEY,
		collection_case_id {uuid} NOT NULL REFERENCES collection_cases(id) ON DELETE CASCADE,
		from_status TEXT NOT NULL,
		to_status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		changed_by_user_id {uuid},
		changed_at {ts} NOT NULL,
		seq INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS case_assignment_history (
		id {uuid} PRIMARY KEY,
		collection_case_id {uuid} NOT NULL REFERENCES collection_cases(id) ON DELETE CASCADE,
		from_user_id {uuid},
		to_user_id {uuid} NOT NULL,
		assignment_type TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		assigned_by_user_id {uuid},
		assigned_at {ts} NOT NULL,
		seq INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS case_notes (
		id {uuid} PRIMARY KEY,
		collection_case_id {uuid} NOT NULL REFERENCES collection_cases(id) ON DELETE CASCADE,
		text TEXT NOT NULL,
		note_type TEXT NOT NULL DEFAULT '',
		is_pinned BOOLEAN NOT NULL DEFAULT FALSE,
		created_by_user_id {uuid},
		created_at {ts} NOT NULL
	);
	CREATE TABLE IF NOT EXISTS promises_to_pay (
		id {uuid} PRIMARY KEY,
		ptp_number TEXT NOT NULL UNIQUE,
		collection_case_id {uuid} NOT NULL REFERENCES collection_cases(id),
		customer_id {uuid} NOT NULL REFERENCES customers(id),
		promised_amount {money} NOT NULL,
		promised_date {ts} NOT NULL,
		payment_mode TEXT NOT NULL,
		status TEXT NOT NULL,
		parent_ptp_id {uuid} REFERENCES promises_to_pay(id),
		is_split BOOLEAN NOT NULL DEFAULT FALSE,
		split_sequence INTEGER NOT NULL DEFAULT 0,
		total_splits INTEGER NOT NULL DEFAULT 0,
		confidence_level INTEGER NOT NULL,
		linked_payment_id {uuid},
		actual_payment_date {ts},
		actual_payment_amount {money},
		reminders_sent INTEGER NOT NULL DEFAULT 0,
		last_reminder_at {ts},
		cancellation_reason TEXT NOT NULL DEFAULT '',
		created_by_user_id {uuid},
		created_at {ts} NOT NULL,
		updated_at {ts} NOT NULL
	);
	CREATE TABLE IF NOT EXISTS ptp_follow_ups (
		id {uuid} PRIMARY KEY,
		ptp_id {uuid} NOT NULL REFERENCES promises_to_pay(id),
		follow_up_date {ts} NOT NULL,
		channel TEXT NOT NULL,
		status TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		completed_at {ts},
		created_at {ts} NOT NULL,
		updated_at {ts} NOT NULL
	);
	CREATE TABLE IF NOT EXISTS payments (
		id {uuid} PRIMARY KEY,
		payment_reference_number TEXT NOT NULL UNIQUE,
		loan_account_id {uuid} NOT NULL REFERENCES loan_accounts(id),
		customer_id {uuid} NOT NULL REFERENCES customers(id),
		collection_case_id {uuid},
		ptp_id {uuid},
		field_visit_id {uuid},
		payment_link_id {uuid},
		amount {money} NOT NULL,
		mode TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_date {ts} NOT NULL,
		interest_amount {money} NOT NULL,
		penalty_amount {money} NOT NULL,
		principal_amount {money} NOT NULL,
		excess_amount {money} NOT NULL,
		transaction_id TEXT NOT NULL DEFAULT '',
		bank_reference_number TEXT NOT NULL DEFAULT '',
		upi_reference_number TEXT NOT NULL DEFAULT '',
		cheque_number TEXT NOT NULL DEFAULT '',
		cheque_date {ts},
		collected_by_user_id {uuid},
		is_reconciled BOOLEAN NOT NULL DEFAULT FALSE,
		reconciled_at {ts},
		settlement_at {ts},
		reversal_reason TEXT NOT NULL DEFAULT '',
		reversed_at {ts},
		bounce_reason TEXT NOT NULL DEFAULT '',
		bounced_at {ts},
		posted_to_lms_at {ts},
		lms_transaction_id TEXT NOT NULL DEFAULT '',
		created_at {ts} NOT NULL,
		updated_at {ts} NOT NULL
	);
	CREATE TABLE IF NOT EXISTS payment_links (
		id {uuid} PRIMARY KEY,
		link_id TEXT NOT NULL UNIQUE,
		loan_account_id {uuid} NOT NULL REFERENCES loan_accounts(id),
		customer_id {uuid} NOT NULL REFERENCES customers(id),
		collection_case_id {uuid},
		amount {money} NOT NULL,
		allow_partial_payment BOOLEAN NOT NULL DEFAULT FALSE,
		url TEXT NOT NULL,
		valid_from {ts} NOT NULL,
		valid_to {ts} NOT NULL,
		is_active BOOLEAN NOT NULL,
		used_at {ts},
		payment_id {uuid},
		delivery_channel TEXT NOT NULL DEFAULT '',
		sent_at {ts},
		created_at {ts} NOT NULL,
		updated_at {ts} NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cases_assignee ON collection_cases(assigned_to_user_id);
	CREATE INDEX IF NOT EXISTS idx_ptp_case ON promises_to_pay(collection_case_id);
	CREATE INDEX IF NOT EXISTS idx_payments_loan ON payments(loan_account_id);
	`
	// Both drivers accept a multi-statement string when no arguments are bound.
	_, err := s.q.ExecContext(ctx, schemaTypes[s.driver].Replace(schema))
	return err
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	if s.inTx {
		return errors.New("close called inside a transaction")
	}
	return s.db.Close()
}

// RunInTx runs fn inside a database transaction, committing on success and
// rolling back on any error.
func (s *SQLStore) RunInTx(ctx context.Context, fn func(st Storage) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txStore := &SQLStore{db: s.db, q: tx, driver: s.driver, inTx: true, log: s.log}
	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback tx: %w (original error: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// rebind rewrites '?' placeholders to the dialect's form.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := s.q.ExecContext(ctx, s.rebind(query), args...)
	return res, translateErr(err)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, s.rebind(query), args...)
}

// likeOp is the case-insensitive LIKE for the dialect.
func (s *SQLStore) likeOp() string {
	if s.driver == DriverPostgres {
		return "ILIKE"
	}
	return "LIKE"
}

// execOne runs an UPDATE and reports ErrNotFound when no row matched.
func (s *SQLStore) execOne(ctx context.Context, what string, query string, args ...any) error {
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for %s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", models.ErrNotFound, what)
	}
	return nil
}

func (s *SQLStore) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.queryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// translateErr maps driver unique-key violations onto ErrDuplicateKey.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && (liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return fmt.Errorf("%w: %v", models.ErrDuplicateKey, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %v", models.ErrDuplicateKey, err)
	}
	return err
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", models.ErrNotFound, what)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

// whereBuilder accumulates AND-ed conditions and their arguments.
type whereBuilder struct {
	conds []string
	args  []any
}

func (w *whereBuilder) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *whereBuilder) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func limitClause(p models.Page) string {
	if p.PageSize <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", p.PageSize, p.Offset())
}

// Nullable column helpers.

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func uuidPtr(n uuid.NullUUID) *uuid.UUID {
	if !n.Valid {
		return nil
	}
	id := n.UUID
	return &id
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time.UTC()
	return &t
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := n.Decimal
	return &d
}
