// Package leave implements the leave balance ledger, the application
// validation pipeline, the adjustment audit trail, year-end carry-over and
// usage analytics on top of the primitives in package generic.
package leave

import (
	"fmt"
	"time"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type LeaveTypeID string
type ApplicationID string

// =============================================================================
// LEAVE TYPE - Catalog entry
// =============================================================================

// LeaveType is referenced by balances and applications, never owned by them.
type LeaveType struct {
	ID                    LeaveTypeID
	Name                  string
	DefaultAllocation     generic.Amount
	RequiresDocumentation bool
	Active                bool
}

// CarryOverRule configures year-end transfer for one leave type.
// ExpiryMonths is informational: nothing in this package expires carried days.
type CarryOverRule struct {
	LeaveTypeID      LeaveTypeID
	MaxCarryOver     generic.Amount
	ExpiryMonths     int
	RequiresApproval bool
}

// =============================================================================
// LEAVE BALANCE - The ledger row
// =============================================================================

// BalanceKey identifies one ledger row.
type BalanceKey struct {
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	Year        int
}

func (k BalanceKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.EmployeeID, k.LeaveTypeID, k.Year)
}

// LeaveBalance is the allocated vs used days for one key.
// Version increases by one on every write and guards read-modify-write.
type LeaveBalance struct {
	BalanceKey
	TotalDays generic.Amount
	UsedDays  generic.Amount
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Remaining is max(0, TotalDays - UsedDays). It is never stored.
func (b LeaveBalance) Remaining() generic.Amount {
	return Remaining(b)
}

// Overdrawn reports UsedDays > TotalDays, possible only through approval.
func (b LeaveBalance) Overdrawn() bool {
	return b.UsedDays.GreaterThan(b.TotalDays)
}

// Remaining is max(0, TotalDays - UsedDays).
func Remaining(b LeaveBalance) generic.Amount {
	return b.TotalDays.Sub(b.UsedDays).FloorAtZero()
}

// BalanceLookup is the result of reading a ledger row that may not exist yet.
// Use Found() to branch; Ledger.resolve is the only place an absent row
// becomes a balance.
type BalanceLookup struct {
	Key     BalanceKey
	balance LeaveBalance
	found   bool
}

func Found(b LeaveBalance) BalanceLookup { return BalanceLookup{Key: b.BalanceKey, balance: b, found: true} }
func Absent(k BalanceKey) BalanceLookup  { return BalanceLookup{Key: k} }

// Found returns the stored balance and true, or a zero balance and false.
func (l BalanceLookup) Found() (LeaveBalance, bool) { return l.balance, l.found }

// =============================================================================
// LEAVE APPLICATION
// =============================================================================

type ApplicationStatus string

const (
	StatusPending   ApplicationStatus = "pending"
	StatusApproved  ApplicationStatus = "approved"
	StatusRejected  ApplicationStatus = "rejected"
	StatusWithdrawn ApplicationStatus = "withdrawn"
)

// Blocking statuses count as overlap candidates.
func (s ApplicationStatus) Blocking() bool {
	return s == StatusPending || s == StatusApproved
}

func (s ApplicationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusWithdrawn:
		return true
	}
	return false
}

// LeaveApplication is a request for days off. BusinessDays is computed once
// at submission and excludes weekends and holidays.
type LeaveApplication struct {
	ID           ApplicationID
	EmployeeID   EmployeeID
	LeaveTypeID  LeaveTypeID
	Start        generic.TimePoint
	End          generic.TimePoint
	BusinessDays generic.Amount
	Status       ApplicationStatus
	Reason       string
	DocumentRef  string

	// Decision metadata, set once when status leaves pending.
	DecidedBy string
	Comments  string
	DecidedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a LeaveApplication) Period() generic.Period {
	return generic.Period{Start: a.Start, End: a.End}
}

// BalanceKey is the ledger row this application draws on: the year of its start date.
func (a LeaveApplication) BalanceKey() BalanceKey {
	return BalanceKey{EmployeeID: a.EmployeeID, LeaveTypeID: a.LeaveTypeID, Year: a.Start.Year()}
}

// ApplicationFilter narrows ListApplications. Zero fields do not filter.
// Range matches applications whose [Start,End] intersects it.
type ApplicationFilter struct {
	EmployeeIDs []EmployeeID
	LeaveTypeID LeaveTypeID
	Statuses    []ApplicationStatus
	Range       *generic.Period
}

// Matches applies the filter in memory.
func (f ApplicationFilter) Matches(a LeaveApplication) bool {
	if len(f.EmployeeIDs) > 0 && !containsEmployee(f.EmployeeIDs, a.EmployeeID) {
		return false
	}
	if f.LeaveTypeID != "" && f.LeaveTypeID != a.LeaveTypeID {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if s == a.Status {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Range != nil && !f.Range.Overlaps(a.Period()) {
		return false
	}
	return true
}

func containsEmployee(ids []EmployeeID, id EmployeeID) bool {
	for _, e := range ids {
		if e == id {
			return true
		}
	}
	return false
}

// =============================================================================
// AUDIT TRAIL
// =============================================================================

type AdjustmentType string

const (
	AdjustIncrease AdjustmentType = "increase"
	AdjustDecrease AdjustmentType = "decrease"
	AdjustSet      AdjustmentType = "set"
)

func (t AdjustmentType) Valid() bool {
	return t == AdjustIncrease || t == AdjustDecrease || t == AdjustSet
}

// BalanceField names which column of the ledger row an audit entry moved.
type BalanceField string

const (
	FieldTotalDays BalanceField = "total_days"
	FieldUsedDays  BalanceField = "used_days"
)

// BalanceAuditEntry is append-only. Amount is the requested delta (or target
// for set) before clamping; PreviousValue/NewValue are what was stored.
type BalanceAuditEntry struct {
	ID             string
	EmployeeID     EmployeeID
	LeaveTypeID    LeaveTypeID
	Year           int
	AdjustmentType AdjustmentType
	Field          BalanceField
	Amount         generic.Amount
	PreviousValue  generic.Amount
	NewValue       generic.Amount
	Reason         string
	Actor          string
	ApplicationID  ApplicationID
	CreatedAt      time.Time
}

// AuditFilter narrows QueryAudit. Zero fields do not filter.
type AuditFilter struct {
	EmployeeID    EmployeeID
	LeaveTypeID   LeaveTypeID
	Year          int
	Actor         string
	ApplicationID ApplicationID

	// Limit keeps only the most recent entries when > 0.
	Limit int
}

func (f AuditFilter) Matches(e BalanceAuditEntry) bool {
	if f.EmployeeID != "" && f.EmployeeID != e.EmployeeID {
		return false
	}
	if f.LeaveTypeID != "" && f.LeaveTypeID != e.LeaveTypeID {
		return false
	}
	if f.Year != 0 && f.Year != e.Year {
		return false
	}
	if f.Actor != "" && f.Actor != e.Actor {
		return false
	}
	if f.ApplicationID != "" && f.ApplicationID != e.ApplicationID {
		return false
	}
	return true
}

// BalanceFilter narrows ListBalances. Zero fields do not filter.
type BalanceFilter struct {
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	Year        int
}

func (f BalanceFilter) Matches(b LeaveBalance) bool {
	if f.EmployeeID != "" && f.EmployeeID != b.EmployeeID {
		return false
	}
	if f.LeaveTypeID != "" && f.LeaveTypeID != b.LeaveTypeID {
		return false
	}
	if f.Year != 0 && f.Year != b.Year {
		return false
	}
	return true
}

// =============================================================================
// DIRECTORY RECORDS
// =============================================================================

type EmploymentType string

const (
	EmploymentFullTime   EmploymentType = "full_time"
	EmploymentPartTime   EmploymentType = "part_time"
	EmploymentContractor EmploymentType = "contractor"
	EmploymentIntern     EmploymentType = "intern"
)

// Employee is the directory record the stores keep for Directory lookups.
type Employee struct {
	ID             EmployeeID
	Name           string
	Email          string
	EmploymentType EmploymentType
	Active         bool
	HireDate       generic.TimePoint
}
