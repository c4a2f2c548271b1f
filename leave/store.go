/*
store.go - Persistence interfaces for the leave engine

PURPOSE:
  Defines the boundary between the engine and its store of record. The
  engine holds no state of its own; every operation reads and writes
  through these interfaces.

KEY INTERFACES:
  CatalogStore:     Leave types and carry-over rules
  BalanceStore:     Ledger rows with optimistic versioning
  AuditStore:       Append-only audit trail
  ApplicationStore: Leave applications
  Store:            All of the above
  TxStore:          Store plus atomic multi-table writes
  EmployeeStore:    Directory records behind the Directory interface
  RunStore:         Year-end run records used for external deduplication

VERSIONED WRITES:
  InsertBalance is insert-if-absent: when two callers race to initialize
  the same key, both get the single stored row back. UpdateBalance writes
  only if the stored version equals b.Version and returns the row with
  the version incremented; otherwise it fails with
  generic.ErrConcurrentModification and the caller re-reads.

APPEND-ONLY AUDIT:
  AuditStore has no update or delete. Audit rows survive ledger rows.

IMPLEMENTATIONS:
  - store/memory: In-memory for tests and dev
  - store/sqlite: Default single-node store
  - store/postgres: pgx-backed store

SEE ALSO:
  - ledger.go: Higher-level ledger built on BalanceStore
  - adjustment.go: Uses TxStore to pair writes with audit rows
*/
package leave

import (
	"context"
	"time"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// STORE INTERFACES
// =============================================================================

type CatalogStore interface {
	// GetLeaveType returns generic.ErrNotFound for unknown ids.
	GetLeaveType(ctx context.Context, id LeaveTypeID) (LeaveType, error)
	ListLeaveTypes(ctx context.Context, activeOnly bool) ([]LeaveType, error)
	SaveLeaveType(ctx context.Context, lt LeaveType) error

	// GetCarryOverRule returns generic.ErrNotFound when no rule is configured.
	GetCarryOverRule(ctx context.Context, id LeaveTypeID) (CarryOverRule, error)
	SaveCarryOverRule(ctx context.Context, rule CarryOverRule) error
}

type BalanceStore interface {
	// GetBalance returns generic.ErrNotFound when the row does not exist.
	GetBalance(ctx context.Context, key BalanceKey) (LeaveBalance, error)

	// InsertBalance stores b unless the key exists. It returns the stored row
	// and whether this call created it.
	InsertBalance(ctx context.Context, b LeaveBalance) (LeaveBalance, bool, error)

	// UpdateBalance writes TotalDays/UsedDays if the stored version equals
	// b.Version. Returns the row with the new version.
	UpdateBalance(ctx context.Context, b LeaveBalance) (LeaveBalance, error)

	ListBalances(ctx context.Context, filter BalanceFilter) ([]LeaveBalance, error)
}

type AuditStore interface {
	AppendAudit(ctx context.Context, entry BalanceAuditEntry) error

	// QueryAudit returns entries oldest first.
	QueryAudit(ctx context.Context, filter AuditFilter) ([]BalanceAuditEntry, error)
}

type ApplicationStore interface {
	// SaveApplication inserts or replaces by id.
	SaveApplication(ctx context.Context, a LeaveApplication) error

	// GetApplication returns generic.ErrNotFound for unknown ids.
	GetApplication(ctx context.Context, id ApplicationID) (LeaveApplication, error)

	// FindOverlapping returns the employee's pending or approved applications
	// intersecting period (inclusive bounds), excluding excludeID.
	FindOverlapping(ctx context.Context, employeeID EmployeeID, period generic.Period, excludeID ApplicationID) ([]LeaveApplication, error)

	// ListApplications returns matches in a stable order (start date, then creation).
	ListApplications(ctx context.Context, filter ApplicationFilter) ([]LeaveApplication, error)
}

// Store is the full persistence surface used by the services.
type Store interface {
	CatalogStore
	BalanceStore
	AuditStore
	ApplicationStore
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// SUPPORTING STORES - Directory records and year-end runs
// =============================================================================

// EmployeeStore keeps the directory records the stores answer Directory with.
type EmployeeStore interface {
	SaveEmployee(ctx context.Context, e Employee) error

	// GetEmployee returns generic.ErrNotFound for unknown ids.
	GetEmployee(ctx context.Context, id EmployeeID) (Employee, error)
	ListEmployees(ctx context.Context, activeOnly bool) ([]Employee, error)
}

type RunKind string

const (
	RunInitialize RunKind = "initialize"
	RunCarryOver  RunKind = "carry_over"
)

// YearEndRun records one completed year-end routine. LeaveTypeID is empty
// for initialization runs; Year is the initialized year or the carry-over
// source year.
type YearEndRun struct {
	ID          string
	Kind        RunKind
	LeaveTypeID LeaveTypeID
	Year        int
	Processed   int
	Failed      int
	Actor       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

type RunStore interface {
	// FindRun reports whether a run of kind exists for (leaveTypeID, year).
	FindRun(ctx context.Context, kind RunKind, leaveTypeID LeaveTypeID, year int) (YearEndRun, bool, error)
	RecordRun(ctx context.Context, run YearEndRun) error

	// ListRuns returns runs newest first, at most limit when limit > 0.
	ListRuns(ctx context.Context, limit int) ([]YearEndRun, error)
}
