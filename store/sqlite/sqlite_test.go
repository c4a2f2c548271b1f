package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/calendar"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	_ leave.TxStore         = (*sqlite.Store)(nil)
	_ leave.Directory       = (*sqlite.Store)(nil)
	_ leave.EmployeeStore   = (*sqlite.Store)(nil)
	_ leave.RunStore        = (*sqlite.Store)(nil)
	_ calendar.HolidayStore = (*sqlite.Store)(nil)
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.SaveLeaveType(context.Background(), leave.LeaveType{
		ID: "annual", Name: "Annual Leave", DefaultAllocation: generic.Days(20), Active: true,
	}))
	return store
}

var key = leave.BalanceKey{EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2025}

func seedBalance(t *testing.T, store *sqlite.Store, total, used float64) leave.LeaveBalance {
	t.Helper()
	ts := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	b, created, err := store.InsertBalance(context.Background(), leave.LeaveBalance{
		BalanceKey: key,
		TotalDays:  generic.Days(total),
		UsedDays:   generic.Days(used),
		CreatedAt:  ts,
		UpdatedAt:  ts,
	})
	require.NoError(t, err)
	require.True(t, created)
	return b
}

// =============================================================================
// CATALOG
// =============================================================================

func TestCatalog_RoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveLeaveType(ctx, leave.LeaveType{
		ID: "sick", Name: "Sick Leave", DefaultAllocation: generic.Days(7.5), RequiresDocumentation: true,
	}))

	lt, err := store.GetLeaveType(ctx, "sick")
	require.NoError(t, err)
	assert.True(t, lt.DefaultAllocation.Equal(generic.Days(7.5)))
	assert.True(t, lt.RequiresDocumentation)
	assert.False(t, lt.Active)

	active, err := store.ListLeaveTypes(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, leave.LeaveTypeID("annual"), active[0].ID)

	_, err = store.GetLeaveType(ctx, "sabbatical")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestCarryOverRule_RequiresLeaveType(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.GetCarryOverRule(ctx, "annual")
	assert.ErrorIs(t, err, generic.ErrNotFound)

	rule := leave.CarryOverRule{LeaveTypeID: "annual", MaxCarryOver: generic.Days(5), ExpiryMonths: 3, RequiresApproval: true}
	require.NoError(t, store.SaveCarryOverRule(ctx, rule))
	got, err := store.GetCarryOverRule(ctx, "annual")
	require.NoError(t, err)
	assert.True(t, got.MaxCarryOver.Equal(generic.Days(5)))
	assert.Equal(t, 3, got.ExpiryMonths)
	assert.True(t, got.RequiresApproval)

	err = store.SaveCarryOverRule(ctx, leave.CarryOverRule{LeaveTypeID: "sabbatical", MaxCarryOver: generic.Days(1)})
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

// =============================================================================
// VERSIONED BALANCES
// =============================================================================

func TestInsertBalance_SecondInsertReturnsStoredRow(t *testing.T) {
	// GIVEN: A row already initialized with 20 days
	// WHEN: Another initializer inserts the same key with 15
	// THEN: It gets the stored 20-day row back and created=false

	store := newStore(t)
	first := seedBalance(t, store, 20, 0)
	assert.Equal(t, int64(1), first.Version)

	again, created, err := store.InsertBalance(context.Background(), leave.LeaveBalance{
		BalanceKey: key, TotalDays: generic.Days(15), UsedDays: generic.Days(0),
	})

	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, again.TotalDays.Equal(generic.Days(20)))
}

func TestUpdateBalance_VersionCheck(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	b := seedBalance(t, store, 20, 0)

	b.UsedDays = generic.Days(2.5)
	saved, err := store.UpdateBalance(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)
	assert.True(t, saved.UsedDays.Equal(generic.Days(2.5)))
	assert.True(t, saved.CreatedAt.Equal(b.CreatedAt))

	// b still carries version 1: the write must lose.
	_, err = store.UpdateBalance(ctx, b)
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
	var conflict *generic.VersionConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, int64(1), conflict.Expected)

	missing := b
	missing.Year = 2030
	_, err = store.UpdateBalance(ctx, missing)
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestGetBalance_CorruptDaysIsAnError(t *testing.T) {
	// GIVEN: A stored row whose total_days is not a decimal
	// WHEN: The row is read back
	// THEN: The read fails instead of reporting zero days

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "leave.db")
	store, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.SaveLeaveType(ctx, leave.LeaveType{ID: "annual", Name: "Annual Leave", DefaultAllocation: generic.Days(20), Active: true}))

	key := leave.BalanceKey{EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2025}
	_, _, err = store.InsertBalance(ctx, leave.LeaveBalance{BalanceKey: key, TotalDays: generic.Days(20), UsedDays: generic.Days(0)})
	require.NoError(t, err)

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.ExecContext(ctx, `UPDATE leave_balances SET total_days = 'twenty' WHERE employee_id = 'emp-1'`)
	require.NoError(t, err)

	_, err = store.GetBalance(ctx, key)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "total_days")
	assert.False(t, errors.Is(err, generic.ErrNotFound))
}

func TestListBalances_FilterAndOrder(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	for _, k := range []leave.BalanceKey{
		{EmployeeID: "emp-2", LeaveTypeID: "annual", Year: 2025},
		{EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2025},
		{EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2024},
	} {
		_, _, err := store.InsertBalance(ctx, leave.LeaveBalance{BalanceKey: k, TotalDays: generic.Days(20), UsedDays: generic.Days(0)})
		require.NoError(t, err)
	}

	all, err := store.ListBalances(ctx, leave.BalanceFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 2024, all[0].Year)
	assert.Equal(t, leave.EmployeeID("emp-2"), all[2].EmployeeID)

	year, err := store.ListBalances(ctx, leave.BalanceFilter{Year: 2025})
	require.NoError(t, err)
	assert.Len(t, year, 2)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction that updates a balance and then fails
	// WHEN: WithTx returns
	// THEN: Neither the update nor the audit entry is visible

	store := newStore(t)
	ctx := context.Background()
	b := seedBalance(t, store, 20, 0)

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx leave.Store) error {
		b.TotalDays = generic.Days(99)
		if _, err := tx.UpdateBalance(ctx, b); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, leave.BalanceAuditEntry{ID: "a1", EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2025, Actor: "hr"}); err != nil {
			return err
		}
		return boom
	})

	assert.ErrorIs(t, err, boom)
	got, err := store.GetBalance(ctx, key)
	require.NoError(t, err)
	assert.True(t, got.TotalDays.Equal(generic.Days(20)))
	assert.Equal(t, int64(1), got.Version)
	entries, err := store.QueryAudit(ctx, leave.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAdjustments_ConcurrentIncreasesOnSQLite(t *testing.T) {
	// GIVEN: The adjustment service on a SQLite store
	// WHEN: 10 increases of one day run concurrently
	// THEN: The row ends at 30 with 10 audit entries

	store := newStore(t)
	ctx := context.Background()
	ledger := leave.NewLedger(store)
	svc := leave.NewAdjustmentService(store, ledger, leave.NopNotifier{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AdjustBalance(ctx, leave.AdjustmentRequest{
				EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2025,
				Type: leave.AdjustIncrease, Amount: generic.Days(1), Reason: "bonus", Actor: "hr",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	b, err := store.GetBalance(ctx, key)
	require.NoError(t, err)
	assert.True(t, b.TotalDays.Equal(generic.Days(30)), "got %s", b.TotalDays)
	entries, err := store.QueryAudit(ctx, leave.AuditFilter{EmployeeID: "emp-1"})
	require.NoError(t, err)
	assert.Len(t, entries, 10)
}

// =============================================================================
// AUDIT
// =============================================================================

func TestQueryAudit_OrderAndLimit(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"a1", "a2", "a3"} {
		require.NoError(t, store.AppendAudit(ctx, leave.BalanceAuditEntry{
			ID: id, EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2025,
			AdjustmentType: leave.AdjustIncrease, Field: leave.FieldTotalDays,
			Amount: generic.Days(0.5), PreviousValue: generic.Days(20), NewValue: generic.Days(20.5),
			Actor: "hr", CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := store.QueryAudit(ctx, leave.AuditFilter{EmployeeID: "emp-1"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a1", all[0].ID)
	assert.True(t, all[0].Amount.Equal(generic.Days(0.5)))

	recent, err := store.QueryAudit(ctx, leave.AuditFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "a2", recent[0].ID)
	assert.Equal(t, "a3", recent[1].ID)

	err = store.AppendAudit(ctx, leave.BalanceAuditEntry{ID: "a1", Actor: "hr"})
	assert.ErrorIs(t, err, generic.ErrDuplicate)
}

// =============================================================================
// APPLICATIONS
// =============================================================================

func application(id, emp, start, end string, status leave.ApplicationStatus) leave.LeaveApplication {
	created := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	return leave.LeaveApplication{
		ID:           leave.ApplicationID(id),
		EmployeeID:   leave.EmployeeID(emp),
		LeaveTypeID:  "annual",
		Start:        generic.MustParseDate(start),
		End:          generic.MustParseDate(end),
		BusinessDays: generic.Days(1),
		Status:       status,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
}

func TestApplications_OverlapQuery(t *testing.T) {
	// GIVEN: emp-1 has approved 06-10..06-12, rejected 06-13, pending 06-20
	// WHEN: Looking for overlaps with 06-12..06-13
	// THEN: Only the approved one matches; boundary days count

	store := newStore(t)
	ctx := context.Background()
	for _, a := range []leave.LeaveApplication{
		application("a1", "emp-1", "2025-06-10", "2025-06-12", leave.StatusApproved),
		application("a2", "emp-1", "2025-06-13", "2025-06-13", leave.StatusRejected),
		application("a3", "emp-1", "2025-06-20", "2025-06-20", leave.StatusPending),
		application("a4", "emp-2", "2025-06-12", "2025-06-12", leave.StatusPending),
	} {
		require.NoError(t, store.SaveApplication(ctx, a))
	}

	period := generic.Period{Start: generic.MustParseDate("2025-06-12"), End: generic.MustParseDate("2025-06-13")}
	got, err := store.FindOverlapping(ctx, "emp-1", period, "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, leave.ApplicationID("a1"), got[0].ID)

	got, err = store.FindOverlapping(ctx, "emp-1", period, "a1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestApplications_SaveReplacesAndFilters(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	a := application("a1", "emp-1", "2025-06-10", "2025-06-12", leave.StatusPending)
	require.NoError(t, store.SaveApplication(ctx, a))

	decided := time.Date(2025, 5, 2, 15, 30, 0, 0, time.UTC)
	a.Status = leave.StatusApproved
	a.DecidedBy = "manager-1"
	a.DecidedAt = &decided
	a.BusinessDays = generic.Days(2.5)
	require.NoError(t, store.SaveApplication(ctx, a))

	got, err := store.GetApplication(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, got.Status)
	assert.Equal(t, "manager-1", got.DecidedBy)
	require.NotNil(t, got.DecidedAt)
	assert.True(t, got.DecidedAt.Equal(decided))
	assert.True(t, got.BusinessDays.Equal(generic.Days(2.5)))
	assert.Equal(t, "2025-06-10", got.Start.String())

	require.NoError(t, store.SaveApplication(ctx, application("a2", "emp-2", "2025-01-06", "2025-01-06", leave.StatusPending)))
	list, err := store.ListApplications(ctx, leave.ApplicationFilter{
		Statuses: []leave.ApplicationStatus{leave.StatusPending, leave.StatusApproved},
	})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, leave.ApplicationID("a2"), list[0].ID, "ordered by start date")

	june := generic.Period{Start: generic.MustParseDate("2025-06-01"), End: generic.MustParseDate("2025-06-30")}
	list, err = store.ListApplications(ctx, leave.ApplicationFilter{EmployeeIDs: []leave.EmployeeID{"emp-1", "emp-2"}, Range: &june})
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = store.GetApplication(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

// =============================================================================
// DIRECTORY, HOLIDAYS, RUNS, EVENTS
// =============================================================================

func TestDirectory(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveEmployee(ctx, leave.Employee{ID: "emp-1", Name: "Ada", EmploymentType: leave.EmploymentFullTime, Active: true, HireDate: generic.MustParseDate("2020-02-03")}))
	require.NoError(t, store.SaveEmployee(ctx, leave.Employee{ID: "emp-2", Name: "Bob", EmploymentType: leave.EmploymentContractor}))

	ok, err := store.EmployeeExists(ctx, "emp-2")
	require.NoError(t, err)
	assert.True(t, ok)

	et, err := store.EmploymentType(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, leave.EmploymentFullTime, et)

	_, err = store.EmploymentType(ctx, "nobody")
	assert.ErrorIs(t, err, leave.ErrEmployeeNotFound)

	active, err := store.ActiveEmployees(ctx)
	require.NoError(t, err)
	assert.Equal(t, []leave.EmployeeID{"emp-1"}, active)

	e, err := store.GetEmployee(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, "2020-02-03", e.HireDate.String())
}

func TestHolidays_RecurringExpansion(t *testing.T) {
	// GIVEN: A recurring global Christmas and a one-off company holiday
	// WHEN: Asking for the holidays of Dec 2024 .. Dec 2025
	// THEN: Christmas appears once per year, the other company's holiday never

	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveHoliday(ctx, generic.Holiday{ID: "xmas", Date: generic.MustParseDate("2000-12-25"), Name: "Christmas", Recurring: true}))
	require.NoError(t, store.SaveHoliday(ctx, generic.Holiday{ID: "acme", CompanyID: "acme", Date: generic.MustParseDate("2025-03-14"), Name: "Founders Day"}))
	require.NoError(t, store.SaveHoliday(ctx, generic.Holiday{ID: "other", CompanyID: "other", Date: generic.MustParseDate("2025-04-01"), Name: "Other Day"}))

	got, err := store.HolidaysBetween(ctx, "acme", generic.MustParseDate("2024-12-01"), generic.MustParseDate("2025-12-31"))
	require.NoError(t, err)

	dates := make([]string, len(got))
	for i, h := range got {
		dates[i] = h.Date.String()
	}
	assert.ElementsMatch(t, []string{"2024-12-25", "2025-03-14", "2025-12-25"}, dates)

	listed, err := store.ListHolidays(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	require.NoError(t, store.DeleteHoliday(ctx, "acme"))
	assert.ErrorIs(t, store.DeleteHoliday(ctx, "acme"), generic.ErrNotFound)
}

func TestRuns_NewestFirst(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)

	require.NoError(t, store.RecordRun(ctx, leave.YearEndRun{ID: "r1", Kind: leave.RunInitialize, Year: 2026, Processed: 3, StartedAt: base, FinishedAt: base}))
	require.NoError(t, store.RecordRun(ctx, leave.YearEndRun{ID: "r2", Kind: leave.RunCarryOver, LeaveTypeID: "annual", Year: 2025, Processed: 2, Failed: 1, StartedAt: base, FinishedAt: base.Add(time.Minute)}))

	run, ok, err := store.FindRun(ctx, leave.RunCarryOver, "annual", 2025)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, run.Failed)

	_, ok, err = store.FindRun(ctx, leave.RunCarryOver, "annual", 2024)
	require.NoError(t, err)
	assert.False(t, ok)

	runs, err := store.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "r2", runs[0].ID)
}

func TestEvents_Outbox(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendEvent(ctx, leave.Event{
		ID: "ev-1", Type: leave.EventCarryOverCompleted, OccurredAt: time.Now(),
		LeaveTypeID: "annual", Year: 2025, Payload: map[string]any{"transferred": 2},
	}))

	events, err := store.Events(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, leave.EventCarryOverCompleted, events[0].Type)
	assert.Equal(t, float64(2), events[0].Payload["transferred"])
}
