package leave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/warp/leave-engine/generic"
)

// DefaultMaxRetries bounds re-reads after a lost optimistic write.
const DefaultMaxRetries = 5

// ErrDirectoryRequired is returned by BulkInitializeYear when no Directory is wired.
var ErrDirectoryRequired = errors.New("ledger: directory is required")

// =============================================================================
// BALANCE LEDGER
// =============================================================================

// Ledger owns the per-(employee, leave type, year) rows. It stores what it is
// told: sufficiency is the Validation Pipeline's job unless UsageChecked is
// requested explicitly.
type Ledger struct {
	Store       Store
	Directory   Directory   // required by BulkInitializeYear only
	Eligibility Eligibility // employment types that receive balances
	Clock       generic.Clock
	MaxRetries  int
	Logger      *slog.Logger
}

func NewLedger(store Store) *Ledger {
	return &Ledger{
		Store:       store,
		Eligibility: DefaultEligibility,
		Clock:       generic.SystemClock{},
		MaxRetries:  DefaultMaxRetries,
	}
}

// withStore returns a copy bound to s, used inside WithTx.
func (l *Ledger) withStore(s Store) *Ledger {
	cp := *l
	cp.Store = s
	return &cp
}

// Lookup reads a row without initializing it.
func (l *Ledger) Lookup(ctx context.Context, key BalanceKey) (BalanceLookup, error) {
	b, err := l.Store.GetBalance(ctx, key)
	if errors.Is(err, generic.ErrNotFound) {
		return Absent(key), nil
	}
	if err != nil {
		return BalanceLookup{}, fmt.Errorf("read balance %s: %w", key, err)
	}
	return Found(b), nil
}

// resolve turns a lookup into a balance. An absent row becomes the leave
// type's default allocation with nothing used; stored reports which case.
func (l *Ledger) resolve(ctx context.Context, lookup BalanceLookup) (b LeaveBalance, stored bool, err error) {
	if b, ok := lookup.Found(); ok {
		return b, true, nil
	}
	lt, err := l.leaveType(ctx, lookup.Key.LeaveTypeID)
	if err != nil {
		return LeaveBalance{}, false, err
	}
	ts := now(l.Clock)
	return LeaveBalance{
		BalanceKey: lookup.Key,
		TotalDays:  lt.DefaultAllocation,
		UsedDays:   generic.Days(0),
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}, false, nil
}

func (l *Ledger) leaveType(ctx context.Context, id LeaveTypeID) (LeaveType, error) {
	lt, err := l.Store.GetLeaveType(ctx, id)
	if errors.Is(err, generic.ErrNotFound) {
		return LeaveType{}, fmt.Errorf("%w: %s", ErrUnknownLeaveType, id)
	}
	if err != nil {
		return LeaveType{}, fmt.Errorf("read leave type %s: %w", id, err)
	}
	return lt, nil
}

// Current returns the row, or what GetOrInitialize would create, without writing.
func (l *Ledger) Current(ctx context.Context, key BalanceKey) (LeaveBalance, error) {
	lookup, err := l.Lookup(ctx, key)
	if err != nil {
		return LeaveBalance{}, err
	}
	b, _, err := l.resolve(ctx, lookup)
	return b, err
}

// GetOrInitialize returns the row, creating it at the default allocation if
// absent. Concurrent callers converge on one row.
func (l *Ledger) GetOrInitialize(ctx context.Context, key BalanceKey) (LeaveBalance, error) {
	lookup, err := l.Lookup(ctx, key)
	if err != nil {
		return LeaveBalance{}, err
	}
	b, stored, err := l.resolve(ctx, lookup)
	if err != nil || stored {
		return b, err
	}
	got, _, err := l.Store.InsertBalance(ctx, b)
	if err != nil {
		return LeaveBalance{}, fmt.Errorf("initialize balance %s: %w", key, err)
	}
	return got, nil
}

// =============================================================================
// USAGE
// =============================================================================

type UsageMode int

const (
	// UsageForced stores the increment regardless of remaining days.
	UsageForced UsageMode = iota
	// UsageChecked rejects increments larger than the remaining days.
	UsageChecked
)

// ApplyUsage increments UsedDays by days.
func (l *Ledger) ApplyUsage(ctx context.Context, key BalanceKey, days generic.Amount, mode UsageMode) (LeaveBalance, error) {
	if days.IsNegative() {
		return LeaveBalance{}, fmt.Errorf("%w: negative usage %s", ErrInvalidAdjustment, days)
	}
	return withRetry(ctx, l.MaxRetries, func() (LeaveBalance, error) {
		b, err := l.GetOrInitialize(ctx, key)
		if err != nil {
			return LeaveBalance{}, err
		}
		if mode == UsageChecked && b.Remaining().LessThan(days) {
			return LeaveBalance{}, &InsufficientBalanceError{Key: key, Available: b.Remaining(), Requested: days}
		}
		b.UsedDays = b.UsedDays.Add(days)
		b.UpdatedAt = now(l.Clock)
		return l.Store.UpdateBalance(ctx, b)
	})
}

// =============================================================================
// BULK INITIALIZATION
// =============================================================================

// BulkInitializeYear creates the missing rows for every active, eligible
// employee and every active leave type. Returns how many rows were created.
func (l *Ledger) BulkInitializeYear(ctx context.Context, year int) (int, error) {
	if l.Directory == nil {
		return 0, ErrDirectoryRequired
	}
	employees, err := l.Directory.ActiveEmployees(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active employees: %w", err)
	}
	types, err := l.Store.ListLeaveTypes(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("list leave types: %w", err)
	}

	created := 0
	ts := now(l.Clock)
	for _, emp := range employees {
		et, err := l.Directory.EmploymentType(ctx, emp)
		if err != nil {
			return created, fmt.Errorf("employment type of %s: %w", emp, err)
		}
		if !l.Eligibility.Allows(et) {
			continue
		}
		for _, lt := range types {
			row := LeaveBalance{
				BalanceKey: BalanceKey{EmployeeID: emp, LeaveTypeID: lt.ID, Year: year},
				TotalDays:  lt.DefaultAllocation,
				UsedDays:   generic.Days(0),
				CreatedAt:  ts,
				UpdatedAt:  ts,
			}
			_, ok, err := l.Store.InsertBalance(ctx, row)
			if err != nil {
				return created, fmt.Errorf("initialize %s: %w", row.BalanceKey, err)
			}
			if ok {
				created++
			}
		}
	}

	loggerOrDefault(l.Logger).Info("year initialized",
		"year", year, "employees", len(employees), "leave_types", len(types), "created", created)
	return created, nil
}

// =============================================================================
// RETRY
// =============================================================================

// withRetry re-runs fn while it fails with a lost optimistic write.
func withRetry[T any](ctx context.Context, attempts int, fn func() (T, error)) (T, error) {
	if attempts < 1 {
		attempts = 1
	}
	var (
		out T
		err error
	)
	for i := 0; i < attempts; i++ {
		if cerr := ctx.Err(); cerr != nil {
			return out, cerr
		}
		out, err = fn()
		if !errors.Is(err, generic.ErrConcurrentModification) {
			return out, err
		}
	}
	return out, err
}
