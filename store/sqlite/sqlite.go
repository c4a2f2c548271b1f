/*
Package sqlite provides a SQLite-backed implementation of the leave stores.

PURPOSE:
  Implements every persistence interface the engine and its collaborators
  read through, using SQLite. The postgres package carries the same
  contract for multi-node deployments; only dialect details differ.

INTERFACES IMPLEMENTED:
  leave.TxStore:          Catalog, ledger, audit and applications
  leave.Directory:        Employee lookups for initialization and validation
  leave.EmployeeStore:    Directory records
  leave.RunStore:         Year-end run records
  calendar.HolidayStore:  Holidays behind the calendar gateway
  notify.EventSink:       Outbox of domain events

KEY TABLES:
  leave_types:        Catalog
  carry_over_rules:   One optional rule per leave type
  leave_balances:     One row per (employee, leave type, year) with a version
  balance_audit:      Append-only trail of every balance change
  leave_applications: Applications, no uniqueness on ranges
  employees, holidays, domain_events, year_end_runs

VERSIONED WRITES:
  UpdateBalance issues UPDATE ... WHERE version = ?. Zero rows affected on
  an existing key means another writer won; the caller gets a
  generic.VersionConflictError and re-reads. InsertBalance uses
  INSERT ... ON CONFLICT DO NOTHING so racing initializers converge.

DECIMALS:
  Day amounts are stored as TEXT and parsed with shopspring/decimal, so
  half days never pass through float64.

CONCURRENCY:
  The pool is capped at one connection: SQLite has a single writer, and
  ":memory:" databases are per connection. WithTx holds that connection
  for the duration of fn, so fn must only use the Store it is given.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Readers don't block the writer
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). The postgres store uses versioned
  golang-migrate migrations instead (see cmd/migrate).

SEE ALSO:
  - leave/store.go: Interface definitions
  - store/memory: In-memory implementation for tests
  - store/postgres: pgx implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/leave-engine/calendar"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// timeLayout has fixed-width fractions so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const dateLayout = "2006-01-02"

// Store implements all storage interfaces using SQLite.
type Store struct {
	*queries
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every statement; Store runs them on the pool and WithTx on a transaction.
type queries struct {
	q querier
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: &queries{q: db}, db: db}
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

// Ping checks the connection for health endpoints.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS leave_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		default_allocation TEXT NOT NULL,
		requires_documentation INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS carry_over_rules (
		leave_type_id TEXT PRIMARY KEY REFERENCES leave_types(id),
		max_carry_over TEXT NOT NULL,
		expiry_months INTEGER NOT NULL DEFAULT 0,
		requires_approval INTEGER NOT NULL DEFAULT 0
	);

	-- One ledger row per key; version guards read-modify-write
	CREATE TABLE IF NOT EXISTS leave_balances (
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		total_days TEXT NOT NULL,
		used_days TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (employee_id, leave_type_id, year)
	);

	CREATE INDEX IF NOT EXISTS idx_leave_balances_year
		ON leave_balances(year, leave_type_id);

	-- Append-only: no UPDATE or DELETE is ever issued against this table
	CREATE TABLE IF NOT EXISTS balance_audit (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		adjustment_type TEXT NOT NULL,
		field TEXT NOT NULL,
		amount TEXT NOT NULL,
		previous_value TEXT NOT NULL,
		new_value TEXT NOT NULL,
		reason TEXT,
		actor TEXT NOT NULL,
		application_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_balance_audit_key
		ON balance_audit(employee_id, leave_type_id, year);

	CREATE TABLE IF NOT EXISTS leave_applications (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		business_days TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT,
		document_ref TEXT,
		decided_by TEXT,
		comments TEXT,
		decided_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Overlap checks (hot path of validation)
	CREATE INDEX IF NOT EXISTS idx_leave_applications_employee_range
		ON leave_applications(employee_id, start_date, end_date);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		employment_type TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		hire_date TEXT
	);

	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		name TEXT NOT NULL,
		recurring INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_holidays_company ON holidays(company_id);

	CREATE TABLE IF NOT EXISTS domain_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		employee_id TEXT,
		leave_type_id TEXT,
		year INTEGER NOT NULL DEFAULT 0,
		application_id TEXT,
		payload_json TEXT
	);

	CREATE TABLE IF NOT EXISTS year_end_runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		leave_type_id TEXT NOT NULL DEFAULT '',
		year INTEGER NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		actor TEXT,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_year_end_runs_lookup
		ON year_end_runs(kind, leave_type_id, year);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (leave.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store leave.Store) error) error {
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

// =============================================================================
// CATALOG STORE
// =============================================================================

func (s *queries) GetLeaveType(ctx context.Context, id leave.LeaveTypeID) (leave.LeaveType, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, name, default_allocation, requires_documentation, active
		FROM leave_types WHERE id = ?`, id)

	lt, err := scanLeaveType(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.LeaveType{}, generic.ErrNotFound
	}
	return lt, err
}

func (s *queries) ListLeaveTypes(ctx context.Context, activeOnly bool) ([]leave.LeaveType, error) {
	query := `SELECT id, name, default_allocation, requires_documentation, active FROM leave_types`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY id ASC`

	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list leave types: %w", err)
	}
	defer rows.Close()

	var out []leave.LeaveType
	for rows.Next() {
		lt, err := scanLeaveType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lt)
	}
	return out, rows.Err()
}

func (s *queries) SaveLeaveType(ctx context.Context, lt leave.LeaveType) error {
	query := `
		INSERT INTO leave_types (id, name, default_allocation, requires_documentation, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			default_allocation = excluded.default_allocation,
			requires_documentation = excluded.requires_documentation,
			active = excluded.active
	`
	_, err := s.q.ExecContext(ctx, query,
		lt.ID, lt.Name, lt.DefaultAllocation.Value.String(), lt.RequiresDocumentation, lt.Active)
	if err != nil {
		return fmt.Errorf("failed to save leave type: %w", err)
	}
	return nil
}

func (s *queries) GetCarryOverRule(ctx context.Context, id leave.LeaveTypeID) (leave.CarryOverRule, error) {
	var (
		rule     leave.CarryOverRule
		maxCarry string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT leave_type_id, max_carry_over, expiry_months, requires_approval
		FROM carry_over_rules WHERE leave_type_id = ?`, id,
	).Scan(&rule.LeaveTypeID, &maxCarry, &rule.ExpiryMonths, &rule.RequiresApproval)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.CarryOverRule{}, generic.ErrNotFound
	}
	if err != nil {
		return leave.CarryOverRule{}, fmt.Errorf("failed to read carry-over rule: %w", err)
	}
	if rule.MaxCarryOver, err = parseDays("max_carry_over", maxCarry); err != nil {
		return leave.CarryOverRule{}, err
	}
	return rule, nil
}

func (s *queries) SaveCarryOverRule(ctx context.Context, rule leave.CarryOverRule) error {
	query := `
		INSERT INTO carry_over_rules (leave_type_id, max_carry_over, expiry_months, requires_approval)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(leave_type_id) DO UPDATE SET
			max_carry_over = excluded.max_carry_over,
			expiry_months = excluded.expiry_months,
			requires_approval = excluded.requires_approval
	`
	_, err := s.q.ExecContext(ctx, query,
		rule.LeaveTypeID, rule.MaxCarryOver.Value.String(), rule.ExpiryMonths, rule.RequiresApproval)
	if isForeignKeyError(err) {
		return fmt.Errorf("leave type %s: %w", rule.LeaveTypeID, generic.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to save carry-over rule: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLeaveType(row scanner) (leave.LeaveType, error) {
	var (
		lt         leave.LeaveType
		allocation string
	)
	if err := row.Scan(&lt.ID, &lt.Name, &allocation, &lt.RequiresDocumentation, &lt.Active); err != nil {
		return leave.LeaveType{}, err
	}
	var err error
	if lt.DefaultAllocation, err = parseDays("default_allocation", allocation); err != nil {
		return leave.LeaveType{}, err
	}
	return lt, nil
}

// =============================================================================
// BALANCE STORE
// =============================================================================

const balanceColumns = `employee_id, leave_type_id, year, total_days, used_days, version, created_at, updated_at`

func (s *queries) GetBalance(ctx context.Context, key leave.BalanceKey) (leave.LeaveBalance, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+balanceColumns+` FROM leave_balances
		 WHERE employee_id = ? AND leave_type_id = ? AND year = ?`,
		key.EmployeeID, key.LeaveTypeID, key.Year)

	b, err := scanBalance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.LeaveBalance{}, generic.ErrNotFound
	}
	if err != nil {
		return leave.LeaveBalance{}, fmt.Errorf("failed to read balance: %w", err)
	}
	return b, nil
}

// InsertBalance stores b with version 1 unless the key exists.
func (s *queries) InsertBalance(ctx context.Context, b leave.LeaveBalance) (leave.LeaveBalance, bool, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO leave_balances (`+balanceColumns+`)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(employee_id, leave_type_id, year) DO NOTHING`,
		b.EmployeeID, b.LeaveTypeID, b.Year,
		b.TotalDays.Value.String(), b.UsedDays.Value.String(),
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	if err != nil {
		return leave.LeaveBalance{}, false, fmt.Errorf("failed to insert balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return leave.LeaveBalance{}, false, err
	}

	stored, err := s.GetBalance(ctx, b.BalanceKey)
	if err != nil {
		return leave.LeaveBalance{}, false, err
	}
	return stored, n == 1, nil
}

// UpdateBalance writes the amounts if the stored version still equals b.Version.
func (s *queries) UpdateBalance(ctx context.Context, b leave.LeaveBalance) (leave.LeaveBalance, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE leave_balances
		SET total_days = ?, used_days = ?, version = version + 1, updated_at = ?
		WHERE employee_id = ? AND leave_type_id = ? AND year = ? AND version = ?`,
		b.TotalDays.Value.String(), b.UsedDays.Value.String(), formatTime(b.UpdatedAt),
		b.EmployeeID, b.LeaveTypeID, b.Year, b.Version,
	)
	if err != nil {
		return leave.LeaveBalance{}, fmt.Errorf("failed to update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return leave.LeaveBalance{}, err
	}
	if n == 0 {
		if _, err := s.GetBalance(ctx, b.BalanceKey); err != nil {
			return leave.LeaveBalance{}, err
		}
		return leave.LeaveBalance{}, &generic.VersionConflictError{Key: b.BalanceKey.String(), Expected: b.Version}
	}
	return s.GetBalance(ctx, b.BalanceKey)
}

func (s *queries) ListBalances(ctx context.Context, filter leave.BalanceFilter) ([]leave.LeaveBalance, error) {
	var (
		where []string
		args  []any
	)
	if filter.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, filter.EmployeeID)
	}
	if filter.LeaveTypeID != "" {
		where = append(where, "leave_type_id = ?")
		args = append(args, filter.LeaveTypeID)
	}
	if filter.Year != 0 {
		where = append(where, "year = ?")
		args = append(args, filter.Year)
	}

	query := `SELECT ` + balanceColumns + ` FROM leave_balances` + whereClause(where) +
		` ORDER BY employee_id ASC, leave_type_id ASC, year ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer rows.Close()

	var out []leave.LeaveBalance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBalance(row scanner) (leave.LeaveBalance, error) {
	var (
		b                    leave.LeaveBalance
		total, used          string
		createdAt, updatedAt string
	)
	err := row.Scan(&b.EmployeeID, &b.LeaveTypeID, &b.Year, &total, &used, &b.Version, &createdAt, &updatedAt)
	if err != nil {
		return leave.LeaveBalance{}, err
	}
	if b.TotalDays, err = parseDays("total_days", total); err != nil {
		return leave.LeaveBalance{}, err
	}
	if b.UsedDays, err = parseDays("used_days", used); err != nil {
		return leave.LeaveBalance{}, err
	}
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return b, nil
}

// =============================================================================
// AUDIT STORE (append-only)
// =============================================================================

func (s *queries) AppendAudit(ctx context.Context, e leave.BalanceAuditEntry) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO balance_audit
		(id, employee_id, leave_type_id, year, adjustment_type, field, amount,
		 previous_value, new_value, reason, actor, application_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EmployeeID, e.LeaveTypeID, e.Year, e.AdjustmentType, e.Field,
		e.Amount.Value.String(), e.PreviousValue.Value.String(), e.NewValue.Value.String(),
		nullString(e.Reason), e.Actor, nullString(string(e.ApplicationID)), formatTime(e.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("audit entry %s: %w", e.ID, generic.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// QueryAudit returns entries oldest first; Limit keeps the newest.
func (s *queries) QueryAudit(ctx context.Context, filter leave.AuditFilter) ([]leave.BalanceAuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if filter.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, filter.EmployeeID)
	}
	if filter.LeaveTypeID != "" {
		where = append(where, "leave_type_id = ?")
		args = append(args, filter.LeaveTypeID)
	}
	if filter.Year != 0 {
		where = append(where, "year = ?")
		args = append(args, filter.Year)
	}
	if filter.Actor != "" {
		where = append(where, "actor = ?")
		args = append(args, filter.Actor)
	}
	if filter.ApplicationID != "" {
		where = append(where, "application_id = ?")
		args = append(args, filter.ApplicationID)
	}

	inner := `SELECT seq, id, employee_id, leave_type_id, year, adjustment_type, field, amount,
		previous_value, new_value, reason, actor, application_id, created_at
		FROM balance_audit` + whereClause(where) + ` ORDER BY seq DESC`
	if filter.Limit > 0 {
		inner += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	query := `SELECT id, employee_id, leave_type_id, year, adjustment_type, field, amount,
		previous_value, new_value, reason, actor, application_id, created_at
		FROM (` + inner + `) ORDER BY seq ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit: %w", err)
	}
	defer rows.Close()

	var out []leave.BalanceAuditEntry
	for rows.Next() {
		var (
			e                     leave.BalanceAuditEntry
			amount, prev, next    string
			reason, applicationID sql.NullString
			createdAt             string
		)
		err := rows.Scan(&e.ID, &e.EmployeeID, &e.LeaveTypeID, &e.Year, &e.AdjustmentType, &e.Field,
			&amount, &prev, &next, &reason, &e.Actor, &applicationID, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if e.Amount, err = parseDays("amount", amount); err != nil {
			return nil, err
		}
		if e.PreviousValue, err = parseDays("previous_value", prev); err != nil {
			return nil, err
		}
		if e.NewValue, err = parseDays("new_value", next); err != nil {
			return nil, err
		}
		e.Reason = reason.String
		e.ApplicationID = leave.ApplicationID(applicationID.String)
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// APPLICATION STORE
// =============================================================================

const applicationColumns = `id, employee_id, leave_type_id, start_date, end_date, business_days, status,
	reason, document_ref, decided_by, comments, decided_at, created_at, updated_at`

func (s *queries) SaveApplication(ctx context.Context, a leave.LeaveApplication) error {
	var decidedAt sql.NullString
	if a.DecidedAt != nil {
		decidedAt = nullString(formatTime(*a.DecidedAt))
	}

	query := `
		INSERT INTO leave_applications (` + applicationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			employee_id = excluded.employee_id,
			leave_type_id = excluded.leave_type_id,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			business_days = excluded.business_days,
			status = excluded.status,
			reason = excluded.reason,
			document_ref = excluded.document_ref,
			decided_by = excluded.decided_by,
			comments = excluded.comments,
			decided_at = excluded.decided_at,
			updated_at = excluded.updated_at
	`
	_, err := s.q.ExecContext(ctx, query,
		a.ID, a.EmployeeID, a.LeaveTypeID,
		formatDate(a.Start), formatDate(a.End), a.BusinessDays.Value.String(), a.Status,
		nullString(a.Reason), nullString(a.DocumentRef), nullString(a.DecidedBy), nullString(a.Comments),
		decidedAt, formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save application: %w", err)
	}
	return nil
}

func (s *queries) GetApplication(ctx context.Context, id leave.ApplicationID) (leave.LeaveApplication, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM leave_applications WHERE id = ?`, id)
	a, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.LeaveApplication{}, generic.ErrNotFound
	}
	if err != nil {
		return leave.LeaveApplication{}, fmt.Errorf("failed to read application: %w", err)
	}
	return a, nil
}

func (s *queries) FindOverlapping(ctx context.Context, employeeID leave.EmployeeID, period generic.Period, excludeID leave.ApplicationID) ([]leave.LeaveApplication, error) {
	query := `SELECT ` + applicationColumns + ` FROM leave_applications
		WHERE employee_id = ?
		  AND status IN ('pending', 'approved')
		  AND start_date <= ? AND end_date >= ?
		  AND id <> ?
		ORDER BY start_date ASC, created_at ASC, id ASC`

	return s.queryApplications(ctx, query,
		employeeID, formatDate(period.End), formatDate(period.Start), excludeID)
}

func (s *queries) ListApplications(ctx context.Context, filter leave.ApplicationFilter) ([]leave.LeaveApplication, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.EmployeeIDs) > 0 {
		where = append(where, "employee_id IN ("+placeholders(len(filter.EmployeeIDs))+")")
		for _, id := range filter.EmployeeIDs {
			args = append(args, id)
		}
	}
	if filter.LeaveTypeID != "" {
		where = append(where, "leave_type_id = ?")
		args = append(args, filter.LeaveTypeID)
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, st)
		}
	}
	if filter.Range != nil {
		where = append(where, "start_date <= ? AND end_date >= ?")
		args = append(args, formatDate(filter.Range.End), formatDate(filter.Range.Start))
	}

	query := `SELECT ` + applicationColumns + ` FROM leave_applications` + whereClause(where) +
		` ORDER BY start_date ASC, created_at ASC, id ASC`
	return s.queryApplications(ctx, query, args...)
}

func (s *queries) queryApplications(ctx context.Context, query string, args ...any) ([]leave.LeaveApplication, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query applications: %w", err)
	}
	defer rows.Close()

	var out []leave.LeaveApplication
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanApplication(row scanner) (leave.LeaveApplication, error) {
	var (
		a                              leave.LeaveApplication
		start, end, businessDays       string
		reason, documentRef, decidedBy sql.NullString
		comments, decidedAt            sql.NullString
		createdAt, updatedAt           string
	)
	err := row.Scan(&a.ID, &a.EmployeeID, &a.LeaveTypeID, &start, &end, &businessDays, &a.Status,
		&reason, &documentRef, &decidedBy, &comments, &decidedAt, &createdAt, &updatedAt)
	if err != nil {
		return leave.LeaveApplication{}, err
	}
	a.Start = parseDate(start)
	a.End = parseDate(end)
	if a.BusinessDays, err = parseDays("business_days", businessDays); err != nil {
		return leave.LeaveApplication{}, err
	}
	a.Reason = reason.String
	a.DocumentRef = documentRef.String
	a.DecidedBy = decidedBy.String
	a.Comments = comments.String
	if decidedAt.Valid {
		t := parseTime(decidedAt.String)
		a.DecidedAt = &t
	}
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return a, nil
}

// =============================================================================
// EMPLOYEE STORE & DIRECTORY
// =============================================================================

func (s *queries) SaveEmployee(ctx context.Context, e leave.Employee) error {
	var hireDate sql.NullString
	if !e.HireDate.IsZero() {
		hireDate = nullString(formatDate(e.HireDate))
	}
	query := `
		INSERT INTO employees (id, name, email, employment_type, active, hire_date)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			employment_type = excluded.employment_type,
			active = excluded.active,
			hire_date = excluded.hire_date
	`
	_, err := s.q.ExecContext(ctx, query, e.ID, e.Name, nullString(e.Email), e.EmploymentType, e.Active, hireDate)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

func (s *queries) GetEmployee(ctx context.Context, id leave.EmployeeID) (leave.Employee, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, name, email, employment_type, active, hire_date FROM employees WHERE id = ?`, id)
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.Employee{}, generic.ErrNotFound
	}
	if err != nil {
		return leave.Employee{}, fmt.Errorf("failed to read employee: %w", err)
	}
	return e, nil
}

func (s *queries) ListEmployees(ctx context.Context, activeOnly bool) ([]leave.Employee, error) {
	query := `SELECT id, name, email, employment_type, active, hire_date FROM employees`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY id ASC`

	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	defer rows.Close()

	var out []leave.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEmployee(row scanner) (leave.Employee, error) {
	var (
		e               leave.Employee
		email, hireDate sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Name, &email, &e.EmploymentType, &e.Active, &hireDate); err != nil {
		return leave.Employee{}, err
	}
	e.Email = email.String
	if hireDate.Valid {
		e.HireDate = parseDate(hireDate.String)
	}
	return e, nil
}

func (s *queries) EmployeeExists(ctx context.Context, id leave.EmployeeID) (bool, error) {
	var count int
	err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM employees WHERE id = ?", id).Scan(&count)
	return count > 0, err
}

func (s *queries) EmploymentType(ctx context.Context, id leave.EmployeeID) (leave.EmploymentType, error) {
	var t leave.EmploymentType
	err := s.q.QueryRowContext(ctx, "SELECT employment_type FROM employees WHERE id = ?", id).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", leave.ErrEmployeeNotFound, id)
	}
	return t, err
}

func (s *queries) ActiveEmployees(ctx context.Context) ([]leave.EmployeeID, error) {
	emps, err := s.ListEmployees(ctx, true)
	if err != nil {
		return nil, err
	}
	ids := make([]leave.EmployeeID, len(emps))
	for i, e := range emps {
		ids[i] = e.ID
	}
	return ids, nil
}

// =============================================================================
// HOLIDAY CALENDAR IMPLEMENTATION
// =============================================================================

// SaveHoliday inserts or replaces a holiday by id.
func (s *queries) SaveHoliday(ctx context.Context, h generic.Holiday) error {
	if h.ID == "" {
		return fmt.Errorf("holiday id is required")
	}
	query := `
		INSERT INTO holidays (id, company_id, date, name, recurring)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			company_id = excluded.company_id,
			date = excluded.date,
			name = excluded.name,
			recurring = excluded.recurring
	`
	_, err := s.q.ExecContext(ctx, query, h.ID, h.CompanyID, formatDate(h.Date), h.Name, h.Recurring)
	if err != nil {
		return fmt.Errorf("failed to save holiday: %w", err)
	}
	return nil
}

// DeleteHoliday deletes a holiday by ID.
func (s *queries) DeleteHoliday(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, "DELETE FROM holidays WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete holiday: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.ErrNotFound
	}
	return nil
}

// ListHolidays returns company-specific and global holidays, unexpanded.
func (s *queries) ListHolidays(ctx context.Context, companyID string) ([]generic.Holiday, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, company_id, date, name, recurring
		FROM holidays
		WHERE company_id = ? OR company_id = ''
		ORDER BY date ASC, id ASC`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list holidays: %w", err)
	}
	defer rows.Close()

	var holidays []generic.Holiday
	for rows.Next() {
		var (
			h       generic.Holiday
			dateStr string
		)
		if err := rows.Scan(&h.ID, &h.CompanyID, &dateStr, &h.Name, &h.Recurring); err != nil {
			return nil, err
		}
		h.Date = parseDate(dateStr)
		holidays = append(holidays, h)
	}
	return holidays, rows.Err()
}

// HolidaysBetween expands recurring holidays into the concrete dates in [from, to].
func (s *queries) HolidaysBetween(ctx context.Context, companyID string, from, to generic.TimePoint) ([]generic.Holiday, error) {
	all, err := s.ListHolidays(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return calendar.Expand(all, companyID, generic.Period{Start: from, End: to}), nil
}

// =============================================================================
// EVENT OUTBOX
// =============================================================================

// AppendEvent stores a domain event for later delivery.
func (s *queries) AppendEvent(ctx context.Context, ev leave.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO domain_events
		(id, type, occurred_at, employee_id, leave_type_id, year, application_id, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Type, formatTime(ev.OccurredAt),
		nullString(string(ev.EmployeeID)), nullString(string(ev.LeaveTypeID)), ev.Year,
		nullString(string(ev.ApplicationID)), string(payload),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("event %s: %w", ev.ID, generic.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// Events returns the outbox in append order. Payload numbers decode as float64.
func (s *queries) Events(ctx context.Context) ([]leave.Event, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, type, occurred_at, employee_id, leave_type_id, year, application_id, payload_json
		FROM domain_events ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var out []leave.Event
	for rows.Next() {
		var (
			ev                             leave.Event
			occurredAt                     string
			employeeID, leaveTypeID, appID sql.NullString
			payload                        sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.Type, &occurredAt, &employeeID, &leaveTypeID, &ev.Year, &appID, &payload); err != nil {
			return nil, err
		}
		ev.OccurredAt = parseTime(occurredAt)
		ev.EmployeeID = leave.EmployeeID(employeeID.String)
		ev.LeaveTypeID = leave.LeaveTypeID(leaveTypeID.String)
		ev.ApplicationID = leave.ApplicationID(appID.String)
		if payload.Valid && payload.String != "" && payload.String != "null" {
			if err := json.Unmarshal([]byte(payload.String), &ev.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode event payload: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// =============================================================================
// YEAR-END RUNS
// =============================================================================

const runColumns = `id, kind, leave_type_id, year, processed, failed, actor, started_at, finished_at`

func (s *queries) FindRun(ctx context.Context, kind leave.RunKind, leaveTypeID leave.LeaveTypeID, year int) (leave.YearEndRun, bool, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+runColumns+` FROM year_end_runs
		WHERE kind = ? AND leave_type_id = ? AND year = ?
		ORDER BY finished_at DESC LIMIT 1`, kind, leaveTypeID, year)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.YearEndRun{}, false, nil
	}
	if err != nil {
		return leave.YearEndRun{}, false, fmt.Errorf("failed to read year-end run: %w", err)
	}
	return run, true, nil
}

func (s *queries) RecordRun(ctx context.Context, run leave.YearEndRun) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO year_end_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.LeaveTypeID, run.Year, run.Processed, run.Failed,
		nullString(run.Actor), formatTime(run.StartedAt), formatTime(run.FinishedAt))
	if isUniqueConstraintError(err) {
		return fmt.Errorf("year-end run %s: %w", run.ID, generic.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to record year-end run: %w", err)
	}
	return nil
}

func (s *queries) ListRuns(ctx context.Context, limit int) ([]leave.YearEndRun, error) {
	query := `SELECT ` + runColumns + ` FROM year_end_runs ORDER BY finished_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list year-end runs: %w", err)
	}
	defer rows.Close()

	var out []leave.YearEndRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanRun(row scanner) (leave.YearEndRun, error) {
	var (
		run                   leave.YearEndRun
		actor                 sql.NullString
		startedAt, finishedAt string
	)
	err := row.Scan(&run.ID, &run.Kind, &run.LeaveTypeID, &run.Year, &run.Processed, &run.Failed,
		&actor, &startedAt, &finishedAt)
	if err != nil {
		return leave.YearEndRun{}, err
	}
	run.Actor = actor.String
	run.StartedAt = parseTime(startedAt)
	run.FinishedAt = parseTime(finishedAt)
	return run, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// parseDays reads a stored day column. A value that is not a decimal is
// reported, never read as zero.
func parseDays(column, value string) (generic.Amount, error) {
	d, err := generic.ParseDays(value)
	if err != nil {
		return generic.Amount{}, fmt.Errorf("corrupt %s %q: %w", column, value, err)
	}
	return d, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func formatDate(tp generic.TimePoint) string {
	return tp.Time.Format(dateLayout)
}

func parseDate(s string) generic.TimePoint {
	tp, _ := generic.ParseDate(s)
	return tp
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
