package leave_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/calendar"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	annual leave.LeaveTypeID = "annual"
	sick   leave.LeaveTypeID = "sick"
)

// today is Sunday 2025-06-01.
var today = generic.FixedDate(2025, time.June, 1)

type fixture struct {
	store       *memory.Memory
	ledger      *leave.Ledger
	pipeline    *leave.Pipeline
	adjustments *leave.AdjustmentService
	carryOver   *leave.CarryOverEngine
	apps        *leave.ApplicationService
	analytics   *leave.Aggregator
	events      *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	return newFixtureWith(t, store, store)
}

// newFixtureWith wires the services on tx while seeding through seed.
func newFixtureWith(t *testing.T, seed *memory.Memory, tx leave.TxStore) *fixture {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, seed.SaveLeaveType(ctx, leave.LeaveType{ID: annual, Name: "Annual Leave", DefaultAllocation: generic.Days(20), Active: true}))
	require.NoError(t, seed.SaveLeaveType(ctx, leave.LeaveType{ID: sick, Name: "Sick Leave", DefaultAllocation: generic.Days(10), RequiresDocumentation: true, Active: true}))
	for _, e := range []leave.Employee{
		{ID: "emp-1", Name: "Ada", EmploymentType: leave.EmploymentFullTime, Active: true},
		{ID: "emp-2", Name: "Grace", EmploymentType: leave.EmploymentFullTime, Active: true},
		{ID: "emp-3", Name: "Linus", EmploymentType: leave.EmploymentContractor, Active: true},
	} {
		require.NoError(t, seed.SaveEmployee(ctx, e))
	}

	events := &recorder{}
	ledger := leave.NewLedger(tx)
	ledger.Directory = seed
	ledger.Clock = today

	gateway := calendar.NewGateway(seed, "")
	pipeline := leave.NewPipeline(tx, ledger, gateway, today)
	pipeline.Directory = seed

	adjustments := leave.NewAdjustmentService(tx, ledger, events)
	return &fixture{
		store:       seed,
		ledger:      ledger,
		pipeline:    pipeline,
		adjustments: adjustments,
		carryOver:   leave.NewCarryOverEngine(tx, adjustments, events),
		apps:        leave.NewApplicationService(tx, pipeline, adjustments, events),
		analytics:   leave.NewAggregator(tx),
		events:      events,
	}
}

func (f *fixture) seedBalance(t *testing.T, emp leave.EmployeeID, lt leave.LeaveTypeID, year int, total, used float64) {
	t.Helper()
	_, created, err := f.store.InsertBalance(context.Background(), leave.LeaveBalance{
		BalanceKey: leave.BalanceKey{EmployeeID: emp, LeaveTypeID: lt, Year: year},
		TotalDays:  generic.Days(total),
		UsedDays:   generic.Days(used),
	})
	require.NoError(t, err)
	require.True(t, created)
}

func (f *fixture) seedApplication(t *testing.T, id string, emp leave.EmployeeID, start, end string, status leave.ApplicationStatus, days float64) leave.LeaveApplication {
	t.Helper()
	app := leave.LeaveApplication{
		ID:           leave.ApplicationID(id),
		EmployeeID:   emp,
		LeaveTypeID:  annual,
		Start:        generic.MustParseDate(start),
		End:          generic.MustParseDate(end),
		BusinessDays: generic.Days(days),
		Status:       status,
		CreatedAt:    today.Now(),
	}
	require.NoError(t, f.store.SaveApplication(context.Background(), app))
	return app
}

func (f *fixture) balance(t *testing.T, emp leave.EmployeeID, lt leave.LeaveTypeID, year int) leave.LeaveBalance {
	t.Helper()
	b, err := f.store.GetBalance(context.Background(), leave.BalanceKey{EmployeeID: emp, LeaveTypeID: lt, Year: year})
	require.NoError(t, err)
	return b
}

func proposal(emp leave.EmployeeID, start, end string, days float64) leave.Proposal {
	return leave.Proposal{
		EmployeeID:   emp,
		LeaveTypeID:  annual,
		Start:        generic.MustParseDate(start),
		End:          generic.MustParseDate(end),
		BusinessDays: generic.Days(days),
	}
}

func days(n float64) generic.Amount { return generic.Days(n) }

// =============================================================================
// FAKES
// =============================================================================

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []leave.Event
}

func (r *recorder) Notify(_ context.Context, ev leave.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) ofType(t leave.EventType) []leave.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []leave.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// hookedStore intercepts writes made inside transactions.
type hookedStore struct {
	*memory.Memory
	onUpdate func(b leave.LeaveBalance) error
	onAudit  func(e leave.BalanceAuditEntry) error
}

func (h *hookedStore) WithTx(ctx context.Context, fn func(leave.Store) error) error {
	return h.Memory.WithTx(ctx, func(tx leave.Store) error {
		return fn(&hookedTx{Store: tx, hooks: h})
	})
}

type hookedTx struct {
	leave.Store
	hooks *hookedStore
}

func (t *hookedTx) UpdateBalance(ctx context.Context, b leave.LeaveBalance) (leave.LeaveBalance, error) {
	if t.hooks.onUpdate != nil {
		if err := t.hooks.onUpdate(b); err != nil {
			return leave.LeaveBalance{}, err
		}
	}
	return t.Store.UpdateBalance(ctx, b)
}

func (t *hookedTx) AppendAudit(ctx context.Context, e leave.BalanceAuditEntry) error {
	if t.hooks.onAudit != nil {
		if err := t.hooks.onAudit(e); err != nil {
			return err
		}
	}
	return t.Store.AppendAudit(ctx, e)
}
