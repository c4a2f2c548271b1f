/*
Package postgres provides a pgx-backed implementation of the leave stores.

PURPOSE:
  Same contract as store/sqlite for deployments that share one database
  across several engine instances. Schema is managed by versioned
  migrations in ./migrations, applied with cmd/migrate.

VERSIONED WRITES:
  UpdateBalance is UPDATE ... WHERE version = $n RETURNING. No returned
  row on an existing key is a lost race: generic.VersionConflictError.
  InsertBalance is INSERT ... ON CONFLICT DO NOTHING RETURNING; when
  nothing is returned the stored row is read back with created=false.

DECIMALS:
  Day columns are NUMERIC. Values are written as decimal strings and read
  back with ::text so they never pass through float64.

SEE ALSO:
  - store/sqlite: Single-node implementation of the same interfaces
  - transaction.go: WithTx over pgx transactions
*/
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/warp/leave-engine/calendar"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

const (
	uniqueViolationCode     = "23505"
	foreignKeyViolationCode = "23503"
)

// Store implements leave.TxStore, leave.Directory, leave.EmployeeStore,
// leave.RunStore, calendar.HolidayStore and an event outbox.
type Store struct {
	*queries
	pool Pool
}

type queries struct {
	q Queryer
}

func New(pool Pool) *Store {
	return &Store{queries: &queries{q: pool}, pool: pool}
}

// Ping checks connectivity when the pool supports it.
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.pool.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// =============================================================================
// CATALOG
// =============================================================================

const (
	selectLeaveTypeSQL = `SELECT id, name, default_allocation::text, requires_documentation, active
  FROM leave_types WHERE id = $1`

	listLeaveTypesSQL = `SELECT id, name, default_allocation::text, requires_documentation, active
  FROM leave_types`

	upsertLeaveTypeSQL = `INSERT INTO leave_types (id, name, default_allocation, requires_documentation, active)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
  name = EXCLUDED.name,
  default_allocation = EXCLUDED.default_allocation,
  requires_documentation = EXCLUDED.requires_documentation,
  active = EXCLUDED.active`

	selectCarryOverRuleSQL = `SELECT leave_type_id, max_carry_over::text, expiry_months, requires_approval
  FROM carry_over_rules WHERE leave_type_id = $1`

	upsertCarryOverRuleSQL = `INSERT INTO carry_over_rules (leave_type_id, max_carry_over, expiry_months, requires_approval)
VALUES ($1, $2, $3, $4)
ON CONFLICT (leave_type_id) DO UPDATE SET
  max_carry_over = EXCLUDED.max_carry_over,
  expiry_months = EXCLUDED.expiry_months,
  requires_approval = EXCLUDED.requires_approval`
)

func (s *queries) GetLeaveType(ctx context.Context, id leave.LeaveTypeID) (leave.LeaveType, error) {
	lt, err := scanLeaveType(s.q.QueryRow(ctx, selectLeaveTypeSQL, string(id)))
	if err != nil {
		return leave.LeaveType{}, translatePgError(err)
	}
	return lt, nil
}

func (s *queries) ListLeaveTypes(ctx context.Context, activeOnly bool) ([]leave.LeaveType, error) {
	query := listLeaveTypesSQL
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY id`

	rows, err := s.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list leave types: %w", err)
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
	_, err := s.q.Exec(ctx, upsertLeaveTypeSQL,
		string(lt.ID), lt.Name, lt.DefaultAllocation.Value.String(), lt.RequiresDocumentation, lt.Active)
	if err != nil {
		return fmt.Errorf("postgres: save leave type: %w", translatePgError(err))
	}
	return nil
}

func (s *queries) GetCarryOverRule(ctx context.Context, id leave.LeaveTypeID) (leave.CarryOverRule, error) {
	var (
		typeID, maxCarry string
		rule             leave.CarryOverRule
	)
	err := s.q.QueryRow(ctx, selectCarryOverRuleSQL, string(id)).
		Scan(&typeID, &maxCarry, &rule.ExpiryMonths, &rule.RequiresApproval)
	if err != nil {
		return leave.CarryOverRule{}, translatePgError(err)
	}
	rule.LeaveTypeID = leave.LeaveTypeID(typeID)
	if rule.MaxCarryOver, err = parseDays("max_carry_over", maxCarry); err != nil {
		return leave.CarryOverRule{}, err
	}
	return rule, nil
}

func (s *queries) SaveCarryOverRule(ctx context.Context, rule leave.CarryOverRule) error {
	_, err := s.q.Exec(ctx, upsertCarryOverRuleSQL,
		string(rule.LeaveTypeID), rule.MaxCarryOver.Value.String(), rule.ExpiryMonths, rule.RequiresApproval)
	if err != nil {
		return fmt.Errorf("postgres: save carry-over rule %s: %w", rule.LeaveTypeID, translatePgError(err))
	}
	return nil
}

func scanLeaveType(row pgx.Row) (leave.LeaveType, error) {
	var (
		id, name, allocation string
		lt                   leave.LeaveType
	)
	if err := row.Scan(&id, &name, &allocation, &lt.RequiresDocumentation, &lt.Active); err != nil {
		return leave.LeaveType{}, err
	}
	lt.ID = leave.LeaveTypeID(id)
	lt.Name = name
	var err error
	if lt.DefaultAllocation, err = parseDays("default_allocation", allocation); err != nil {
		return leave.LeaveType{}, err
	}
	return lt, nil
}

// =============================================================================
// BALANCES
// =============================================================================

const balanceColumns = `employee_id, leave_type_id, year, total_days::text, used_days::text, version, created_at, updated_at`

const (
	selectBalanceSQL = `SELECT ` + balanceColumns + `
  FROM leave_balances
 WHERE employee_id = $1 AND leave_type_id = $2 AND year = $3`

	insertBalanceSQL = `INSERT INTO leave_balances (employee_id, leave_type_id, year, total_days, used_days, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 1, $6, $7)
ON CONFLICT (employee_id, leave_type_id, year) DO NOTHING
RETURNING ` + balanceColumns

	updateBalanceSQL = `UPDATE leave_balances
   SET total_days = $1, used_days = $2, version = version + 1, updated_at = $3
 WHERE employee_id = $4 AND leave_type_id = $5 AND year = $6 AND version = $7
RETURNING ` + balanceColumns
)

func (s *queries) GetBalance(ctx context.Context, key leave.BalanceKey) (leave.LeaveBalance, error) {
	b, err := scanBalance(s.q.QueryRow(ctx, selectBalanceSQL, string(key.EmployeeID), string(key.LeaveTypeID), key.Year))
	if err != nil {
		return leave.LeaveBalance{}, translatePgError(err)
	}
	return b, nil
}

func (s *queries) InsertBalance(ctx context.Context, b leave.LeaveBalance) (leave.LeaveBalance, bool, error) {
	row := s.q.QueryRow(ctx, insertBalanceSQL,
		string(b.EmployeeID), string(b.LeaveTypeID), b.Year,
		b.TotalDays.Value.String(), b.UsedDays.Value.String(),
		b.CreatedAt, b.UpdatedAt)

	created, err := scanBalance(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return leave.LeaveBalance{}, false, fmt.Errorf("postgres: insert balance: %w", translatePgError(err))
	}

	stored, err := s.GetBalance(ctx, b.BalanceKey)
	if err != nil {
		return leave.LeaveBalance{}, false, err
	}
	return stored, false, nil
}

func (s *queries) UpdateBalance(ctx context.Context, b leave.LeaveBalance) (leave.LeaveBalance, error) {
	row := s.q.QueryRow(ctx, updateBalanceSQL,
		b.TotalDays.Value.String(), b.UsedDays.Value.String(), b.UpdatedAt,
		string(b.EmployeeID), string(b.LeaveTypeID), b.Year, b.Version)

	saved, err := scanBalance(row)
	if err == nil {
		return saved, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return leave.LeaveBalance{}, fmt.Errorf("postgres: update balance: %w", err)
	}

	if _, err := s.GetBalance(ctx, b.BalanceKey); err != nil {
		return leave.LeaveBalance{}, err
	}
	return leave.LeaveBalance{}, &generic.VersionConflictError{Key: b.BalanceKey.String(), Expected: b.Version}
}

func (s *queries) ListBalances(ctx context.Context, filter leave.BalanceFilter) ([]leave.LeaveBalance, error) {
	var w where
	if filter.EmployeeID != "" {
		w.add("employee_id = %s", string(filter.EmployeeID))
	}
	if filter.LeaveTypeID != "" {
		w.add("leave_type_id = %s", string(filter.LeaveTypeID))
	}
	if filter.Year != 0 {
		w.add("year = %s", filter.Year)
	}

	query := `SELECT ` + balanceColumns + ` FROM leave_balances` + w.String() +
		` ORDER BY employee_id, leave_type_id, year`

	rows, err := s.q.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list balances: %w", err)
	}
	defer rows.Close()

	var out []leave.LeaveBalance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBalance(row pgx.Row) (leave.LeaveBalance, error) {
	var (
		emp, typ    string
		total, used string
		b           leave.LeaveBalance
	)
	err := row.Scan(&emp, &typ, &b.Year, &total, &used, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return leave.LeaveBalance{}, err
	}
	b.EmployeeID = leave.EmployeeID(emp)
	b.LeaveTypeID = leave.LeaveTypeID(typ)
	if b.TotalDays, err = parseDays("total_days", total); err != nil {
		return leave.LeaveBalance{}, err
	}
	if b.UsedDays, err = parseDays("used_days", used); err != nil {
		return leave.LeaveBalance{}, err
	}
	return b, nil
}

// =============================================================================
// AUDIT (append-only)
// =============================================================================

const (
	insertAuditSQL = `INSERT INTO balance_audit
  (id, employee_id, leave_type_id, year, adjustment_type, field, amount, previous_value, new_value, reason, actor, application_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	auditColumns = `id, employee_id, leave_type_id, year, adjustment_type, field, amount::text,
       previous_value::text, new_value::text, reason, actor, application_id, created_at`
)

func (s *queries) AppendAudit(ctx context.Context, e leave.BalanceAuditEntry) error {
	_, err := s.q.Exec(ctx, insertAuditSQL,
		e.ID, string(e.EmployeeID), string(e.LeaveTypeID), e.Year,
		string(e.AdjustmentType), string(e.Field),
		e.Amount.Value.String(), e.PreviousValue.Value.String(), e.NewValue.Value.String(),
		nullString(e.Reason), e.Actor, nullString(string(e.ApplicationID)), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: append audit: %w", translatePgError(err))
	}
	return nil
}

func (s *queries) QueryAudit(ctx context.Context, filter leave.AuditFilter) ([]leave.BalanceAuditEntry, error) {
	var w where
	if filter.EmployeeID != "" {
		w.add("employee_id = %s", string(filter.EmployeeID))
	}
	if filter.LeaveTypeID != "" {
		w.add("leave_type_id = %s", string(filter.LeaveTypeID))
	}
	if filter.Year != 0 {
		w.add("year = %s", filter.Year)
	}
	if filter.Actor != "" {
		w.add("actor = %s", filter.Actor)
	}
	if filter.ApplicationID != "" {
		w.add("application_id = %s", string(filter.ApplicationID))
	}

	inner := `SELECT seq, ` + auditColumns + ` FROM balance_audit` + w.String() + ` ORDER BY seq DESC`
	if filter.Limit > 0 {
		inner += ` LIMIT ` + w.param(filter.Limit)
	}
	query := `SELECT ` + auditColumns + ` FROM (` + inner + `) recent ORDER BY seq`

	rows, err := s.q.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query audit: %w", err)
	}
	defer rows.Close()

	var out []leave.BalanceAuditEntry
	for rows.Next() {
		var (
			e                        leave.BalanceAuditEntry
			emp, typ, adjType, field string
			amount, prev, next       string
			reason, applicationID    sql.NullString
		)
		err := rows.Scan(&e.ID, &emp, &typ, &e.Year, &adjType, &field, &amount, &prev, &next,
			&reason, &e.Actor, &applicationID, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		e.EmployeeID = leave.EmployeeID(emp)
		e.LeaveTypeID = leave.LeaveTypeID(typ)
		e.AdjustmentType = leave.AdjustmentType(adjType)
		e.Field = leave.BalanceField(field)
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
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// APPLICATIONS
// =============================================================================

const applicationColumns = `id, employee_id, leave_type_id, start_date, end_date, business_days::text, status,
       reason, document_ref, decided_by, comments, decided_at, created_at, updated_at`

const (
	upsertApplicationSQL = `INSERT INTO leave_applications
  (id, employee_id, leave_type_id, start_date, end_date, business_days, status,
   reason, document_ref, decided_by, comments, decided_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO UPDATE SET
  employee_id = EXCLUDED.employee_id,
  leave_type_id = EXCLUDED.leave_type_id,
  start_date = EXCLUDED.start_date,
  end_date = EXCLUDED.end_date,
  business_days = EXCLUDED.business_days,
  status = EXCLUDED.status,
  reason = EXCLUDED.reason,
  document_ref = EXCLUDED.document_ref,
  decided_by = EXCLUDED.decided_by,
  comments = EXCLUDED.comments,
  decided_at = EXCLUDED.decided_at,
  updated_at = EXCLUDED.updated_at`

	selectApplicationSQL = `SELECT ` + applicationColumns + ` FROM leave_applications WHERE id = $1`

	overlappingSQL = `SELECT ` + applicationColumns + ` FROM leave_applications
 WHERE employee_id = $1
   AND status IN ('pending', 'approved')
   AND start_date <= $2 AND end_date >= $3
   AND id <> $4
 ORDER BY start_date, created_at, id`
)

func (s *queries) SaveApplication(ctx context.Context, a leave.LeaveApplication) error {
	_, err := s.q.Exec(ctx, upsertApplicationSQL,
		string(a.ID), string(a.EmployeeID), string(a.LeaveTypeID),
		a.Start.Time, a.End.Time, a.BusinessDays.Value.String(), string(a.Status),
		nullString(a.Reason), nullString(a.DocumentRef), nullString(a.DecidedBy), nullString(a.Comments),
		nullTime(a.DecidedAt), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save application: %w", translatePgError(err))
	}
	return nil
}

func (s *queries) GetApplication(ctx context.Context, id leave.ApplicationID) (leave.LeaveApplication, error) {
	a, err := scanApplication(s.q.QueryRow(ctx, selectApplicationSQL, string(id)))
	if err != nil {
		return leave.LeaveApplication{}, translatePgError(err)
	}
	return a, nil
}

func (s *queries) FindOverlapping(ctx context.Context, employeeID leave.EmployeeID, period generic.Period, excludeID leave.ApplicationID) ([]leave.LeaveApplication, error) {
	return s.queryApplications(ctx, overlappingSQL,
		string(employeeID), period.End.Time, period.Start.Time, string(excludeID))
}

func (s *queries) ListApplications(ctx context.Context, filter leave.ApplicationFilter) ([]leave.LeaveApplication, error) {
	var w where
	if len(filter.EmployeeIDs) > 0 {
		ids := make([]string, len(filter.EmployeeIDs))
		for i, id := range filter.EmployeeIDs {
			ids[i] = string(id)
		}
		w.add("employee_id = ANY(%s)", ids)
	}
	if filter.LeaveTypeID != "" {
		w.add("leave_type_id = %s", string(filter.LeaveTypeID))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		w.add("status = ANY(%s)", statuses)
	}
	if filter.Range != nil {
		w.add("start_date <= %s", filter.Range.End.Time)
		w.add("end_date >= %s", filter.Range.Start.Time)
	}

	query := `SELECT ` + applicationColumns + ` FROM leave_applications` + w.String() +
		` ORDER BY start_date, created_at, id`
	return s.queryApplications(ctx, query, w.args...)
}

func (s *queries) queryApplications(ctx context.Context, query string, args ...any) ([]leave.LeaveApplication, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query applications: %w", err)
	}
	defer rows.Close()

	var out []leave.LeaveApplication
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanApplication(row pgx.Row) (leave.LeaveApplication, error) {
	var (
		a                                        leave.LeaveApplication
		id, emp, typ, status, businessDays       string
		start, end                               time.Time
		reason, documentRef, decidedBy, comments sql.NullString
		decidedAt                                sql.NullTime
	)
	err := row.Scan(&id, &emp, &typ, &start, &end, &businessDays, &status,
		&reason, &documentRef, &decidedBy, &comments, &decidedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return leave.LeaveApplication{}, err
	}
	a.ID = leave.ApplicationID(id)
	a.EmployeeID = leave.EmployeeID(emp)
	a.LeaveTypeID = leave.LeaveTypeID(typ)
	a.Start = generic.DateOf(start)
	a.End = generic.DateOf(end)
	if a.BusinessDays, err = parseDays("business_days", businessDays); err != nil {
		return leave.LeaveApplication{}, err
	}
	a.Status = leave.ApplicationStatus(status)
	a.Reason = reason.String
	a.DocumentRef = documentRef.String
	a.DecidedBy = decidedBy.String
	a.Comments = comments.String
	if decidedAt.Valid {
		t := decidedAt.Time
		a.DecidedAt = &t
	}
	return a, nil
}

// =============================================================================
// EMPLOYEES & DIRECTORY
// =============================================================================

const (
	upsertEmployeeSQL = `INSERT INTO employees (id, name, email, employment_type, active, hire_date)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
  name = EXCLUDED.name,
  email = EXCLUDED.email,
  employment_type = EXCLUDED.employment_type,
  active = EXCLUDED.active,
  hire_date = EXCLUDED.hire_date`

	employeeColumns = `id, name, email, employment_type, active, hire_date`

	employmentTypeSQL = `SELECT employment_type FROM employees WHERE id = $1`
)

func (s *queries) SaveEmployee(ctx context.Context, e leave.Employee) error {
	var hire *time.Time
	if !e.HireDate.IsZero() {
		hire = &e.HireDate.Time
	}
	_, err := s.q.Exec(ctx, upsertEmployeeSQL,
		string(e.ID), e.Name, nullString(e.Email), string(e.EmploymentType), e.Active, nullTime(hire))
	if err != nil {
		return fmt.Errorf("postgres: save employee: %w", translatePgError(err))
	}
	return nil
}

func (s *queries) GetEmployee(ctx context.Context, id leave.EmployeeID) (leave.Employee, error) {
	e, err := scanEmployee(s.q.QueryRow(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = $1`, string(id)))
	if err != nil {
		return leave.Employee{}, translatePgError(err)
	}
	return e, nil
}

func (s *queries) ListEmployees(ctx context.Context, activeOnly bool) ([]leave.Employee, error) {
	query := `SELECT ` + employeeColumns + ` FROM employees`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY id`

	rows, err := s.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list employees: %w", err)
	}
	defer rows.Close()

	var out []leave.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEmployee(row pgx.Row) (leave.Employee, error) {
	var (
		e           leave.Employee
		id, empType string
		email       sql.NullString
		hireDate    sql.NullTime
	)
	if err := row.Scan(&id, &e.Name, &email, &empType, &e.Active, &hireDate); err != nil {
		return leave.Employee{}, err
	}
	e.ID = leave.EmployeeID(id)
	e.Email = email.String
	e.EmploymentType = leave.EmploymentType(empType)
	if hireDate.Valid {
		e.HireDate = generic.DateOf(hireDate.Time)
	}
	return e, nil
}

func (s *queries) EmployeeExists(ctx context.Context, id leave.EmployeeID) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM employees WHERE id = $1)`, string(id)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: employee exists: %w", err)
	}
	return exists, nil
}

func (s *queries) EmploymentType(ctx context.Context, id leave.EmployeeID) (leave.EmploymentType, error) {
	var t string
	err := s.q.QueryRow(ctx, employmentTypeSQL, string(id)).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", leave.ErrEmployeeNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("postgres: employment type: %w", err)
	}
	return leave.EmploymentType(t), nil
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
// HOLIDAYS
// =============================================================================

const (
	upsertHolidaySQL = `INSERT INTO holidays (id, company_id, date, name, recurring)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
  company_id = EXCLUDED.company_id,
  date = EXCLUDED.date,
  name = EXCLUDED.name,
  recurring = EXCLUDED.recurring`

	listHolidaysSQL = `SELECT id, company_id, date, name, recurring
  FROM holidays
 WHERE company_id = $1 OR company_id = ''
 ORDER BY date, id`
)

func (s *queries) SaveHoliday(ctx context.Context, h generic.Holiday) error {
	if h.ID == "" {
		return fmt.Errorf("postgres: holiday id is required")
	}
	_, err := s.q.Exec(ctx, upsertHolidaySQL, h.ID, h.CompanyID, h.Date.Time, h.Name, h.Recurring)
	if err != nil {
		return fmt.Errorf("postgres: save holiday: %w", translatePgError(err))
	}
	return nil
}

func (s *queries) DeleteHoliday(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM holidays WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete holiday: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return generic.ErrNotFound
	}
	return nil
}

func (s *queries) ListHolidays(ctx context.Context, companyID string) ([]generic.Holiday, error) {
	rows, err := s.q.Query(ctx, listHolidaysSQL, companyID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list holidays: %w", err)
	}
	defer rows.Close()

	var out []generic.Holiday
	for rows.Next() {
		var (
			h    generic.Holiday
			date time.Time
		)
		if err := rows.Scan(&h.ID, &h.CompanyID, &date, &h.Name, &h.Recurring); err != nil {
			return nil, err
		}
		h.Date = generic.DateOf(date)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *queries) HolidaysBetween(ctx context.Context, companyID string, from, to generic.TimePoint) ([]generic.Holiday, error) {
	all, err := s.ListHolidays(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return calendar.Expand(all, companyID, generic.Period{Start: from, End: to}), nil
}

// =============================================================================
// EVENT OUTBOX & YEAR-END RUNS
// =============================================================================

const (
	insertEventSQL = `INSERT INTO domain_events (id, type, occurred_at, employee_id, leave_type_id, year, application_id, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	runColumns = `id, kind, leave_type_id, year, processed, failed, actor, started_at, finished_at`

	findRunSQL = `SELECT ` + runColumns + ` FROM year_end_runs
 WHERE kind = $1 AND leave_type_id = $2 AND year = $3
 ORDER BY finished_at DESC
 LIMIT 1`

	insertRunSQL = `INSERT INTO year_end_runs (` + runColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
)

func (s *queries) AppendEvent(ctx context.Context, ev leave.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("postgres: encode event payload: %w", err)
	}
	_, err = s.q.Exec(ctx, insertEventSQL,
		ev.ID, string(ev.Type), ev.OccurredAt,
		nullString(string(ev.EmployeeID)), nullString(string(ev.LeaveTypeID)), ev.Year,
		nullString(string(ev.ApplicationID)), payload)
	if err != nil {
		return fmt.Errorf("postgres: append event: %w", translatePgError(err))
	}
	return nil
}

func (s *queries) FindRun(ctx context.Context, kind leave.RunKind, leaveTypeID leave.LeaveTypeID, year int) (leave.YearEndRun, bool, error) {
	run, err := scanRun(s.q.QueryRow(ctx, findRunSQL, string(kind), string(leaveTypeID), year))
	if errors.Is(err, pgx.ErrNoRows) {
		return leave.YearEndRun{}, false, nil
	}
	if err != nil {
		return leave.YearEndRun{}, false, fmt.Errorf("postgres: find run: %w", err)
	}
	return run, true, nil
}

func (s *queries) RecordRun(ctx context.Context, run leave.YearEndRun) error {
	_, err := s.q.Exec(ctx, insertRunSQL,
		run.ID, string(run.Kind), string(run.LeaveTypeID), run.Year, run.Processed, run.Failed,
		nullString(run.Actor), run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("postgres: record run: %w", translatePgError(err))
	}
	return nil
}

func (s *queries) ListRuns(ctx context.Context, limit int) ([]leave.YearEndRun, error) {
	query := `SELECT ` + runColumns + ` FROM year_end_runs ORDER BY finished_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
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

func scanRun(row pgx.Row) (leave.YearEndRun, error) {
	var (
		run       leave.YearEndRun
		kind, typ string
		actor     sql.NullString
	)
	err := row.Scan(&run.ID, &kind, &typ, &run.Year, &run.Processed, &run.Failed, &actor, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		return leave.YearEndRun{}, err
	}
	run.Kind = leave.RunKind(kind)
	run.LeaveTypeID = leave.LeaveTypeID(typ)
	run.Actor = actor.String
	return run, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// where accumulates AND-ed conditions with numbered placeholders.
type where struct {
	conds []string
	args  []any
}

// add appends cond with its %s replaced by the next placeholder.
func (w *where) add(cond string, arg any) {
	w.conds = append(w.conds, fmt.Sprintf(cond, w.param(arg)))
}

func (w *where) param(arg any) string {
	w.args = append(w.args, arg)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func translatePgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return generic.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolationCode:
			return fmt.Errorf("%w: %s", generic.ErrDuplicate, pgErr.ConstraintName)
		case foreignKeyViolationCode:
			return fmt.Errorf("%w: %s", generic.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
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
