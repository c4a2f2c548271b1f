// Package memory provides an in-memory leave.TxStore for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/leave-engine/calendar"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements leave.TxStore, leave.Directory, leave.EmployeeStore,
// leave.RunStore, calendar.HolidayStore and an event outbox.
type Memory struct {
	mu sync.RWMutex
	s  *state
}

type state struct {
	leaveTypes map[leave.LeaveTypeID]leave.LeaveType
	rules      map[leave.LeaveTypeID]leave.CarryOverRule
	balances   map[leave.BalanceKey]leave.LeaveBalance
	audit      []leave.BalanceAuditEntry
	apps       map[leave.ApplicationID]leave.LeaveApplication
	employees  map[leave.EmployeeID]leave.Employee
	holidays   map[string]generic.Holiday
	events     []leave.Event
	runs       []leave.YearEndRun
}

func New() *Memory {
	return &Memory{s: newState()}
}

func newState() *state {
	return &state{
		leaveTypes: make(map[leave.LeaveTypeID]leave.LeaveType),
		rules:      make(map[leave.LeaveTypeID]leave.CarryOverRule),
		balances:   make(map[leave.BalanceKey]leave.LeaveBalance),
		apps:       make(map[leave.ApplicationID]leave.LeaveApplication),
		employees:  make(map[leave.EmployeeID]leave.Employee),
		holidays:   make(map[string]generic.Holiday),
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(leave.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.s.clone()
	if err := fn(txView{m.s}); err != nil {
		m.s = snapshot
		return err
	}
	return nil
}

// txView runs against the state while WithTx holds the lock.
type txView struct {
	*state
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.leaveTypes {
		c.leaveTypes[k] = v
	}
	for k, v := range s.rules {
		c.rules[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.apps {
		c.apps[k] = v
	}
	for k, v := range s.employees {
		c.employees[k] = v
	}
	for k, v := range s.holidays {
		c.holidays[k] = v
	}
	c.audit = append([]leave.BalanceAuditEntry(nil), s.audit...)
	c.events = append([]leave.Event(nil), s.events...)
	c.runs = append([]leave.YearEndRun(nil), s.runs...)
	return c
}

// =============================================================================
// LOCKED ENTRY POINTS
// =============================================================================

func (m *Memory) GetLeaveType(ctx context.Context, id leave.LeaveTypeID) (leave.LeaveType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetLeaveType(ctx, id)
}

func (m *Memory) ListLeaveTypes(ctx context.Context, activeOnly bool) ([]leave.LeaveType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListLeaveTypes(ctx, activeOnly)
}

func (m *Memory) SaveLeaveType(ctx context.Context, lt leave.LeaveType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveLeaveType(ctx, lt)
}

func (m *Memory) GetCarryOverRule(ctx context.Context, id leave.LeaveTypeID) (leave.CarryOverRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetCarryOverRule(ctx, id)
}

func (m *Memory) SaveCarryOverRule(ctx context.Context, rule leave.CarryOverRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveCarryOverRule(ctx, rule)
}

func (m *Memory) GetBalance(ctx context.Context, key leave.BalanceKey) (leave.LeaveBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetBalance(ctx, key)
}

func (m *Memory) InsertBalance(ctx context.Context, b leave.LeaveBalance) (leave.LeaveBalance, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.InsertBalance(ctx, b)
}

func (m *Memory) UpdateBalance(ctx context.Context, b leave.LeaveBalance) (leave.LeaveBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.UpdateBalance(ctx, b)
}

func (m *Memory) ListBalances(ctx context.Context, filter leave.BalanceFilter) ([]leave.LeaveBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListBalances(ctx, filter)
}

func (m *Memory) AppendAudit(ctx context.Context, entry leave.BalanceAuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.AppendAudit(ctx, entry)
}

func (m *Memory) QueryAudit(ctx context.Context, filter leave.AuditFilter) ([]leave.BalanceAuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.QueryAudit(ctx, filter)
}

func (m *Memory) SaveApplication(ctx context.Context, a leave.LeaveApplication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveApplication(ctx, a)
}

func (m *Memory) GetApplication(ctx context.Context, id leave.ApplicationID) (leave.LeaveApplication, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetApplication(ctx, id)
}

func (m *Memory) FindOverlapping(ctx context.Context, employeeID leave.EmployeeID, period generic.Period, excludeID leave.ApplicationID) ([]leave.LeaveApplication, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.FindOverlapping(ctx, employeeID, period, excludeID)
}

func (m *Memory) ListApplications(ctx context.Context, filter leave.ApplicationFilter) ([]leave.LeaveApplication, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListApplications(ctx, filter)
}

func (m *Memory) SaveEmployee(ctx context.Context, e leave.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveEmployee(ctx, e)
}

func (m *Memory) GetEmployee(ctx context.Context, id leave.EmployeeID) (leave.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetEmployee(ctx, id)
}

func (m *Memory) ListEmployees(ctx context.Context, activeOnly bool) ([]leave.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListEmployees(ctx, activeOnly)
}

func (m *Memory) EmployeeExists(ctx context.Context, id leave.EmployeeID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.s.employees[id]
	return ok, nil
}

func (m *Memory) EmploymentType(ctx context.Context, id leave.EmployeeID) (leave.EmploymentType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.s.employees[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", leave.ErrEmployeeNotFound, id)
	}
	return e.EmploymentType, nil
}

func (m *Memory) ActiveEmployees(ctx context.Context) ([]leave.EmployeeID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	emps, _ := m.s.ListEmployees(ctx, true)
	ids := make([]leave.EmployeeID, len(emps))
	for i, e := range emps {
		ids[i] = e.ID
	}
	return ids, nil
}

func (m *Memory) SaveHoliday(ctx context.Context, h generic.Holiday) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.ID == "" {
		return fmt.Errorf("holiday id is required")
	}
	m.s.holidays[h.ID] = h
	return nil
}

func (m *Memory) DeleteHoliday(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.s.holidays[id]; !ok {
		return generic.ErrNotFound
	}
	delete(m.s.holidays, id)
	return nil
}

func (m *Memory) ListHolidays(ctx context.Context, companyID string) ([]generic.Holiday, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.companyHolidays(companyID), nil
}

func (m *Memory) HolidaysBetween(ctx context.Context, companyID string, from, to generic.TimePoint) ([]generic.Holiday, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return calendar.Expand(m.s.companyHolidays(companyID), companyID, generic.Period{Start: from, End: to}), nil
}

// AppendEvent stores an event in the outbox.
func (m *Memory) AppendEvent(_ context.Context, ev leave.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.events = append(m.s.events, ev)
	return nil
}

// Events returns the outbox in append order.
func (m *Memory) Events() []leave.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]leave.Event(nil), m.s.events...)
}

func (m *Memory) FindRun(_ context.Context, kind leave.RunKind, leaveTypeID leave.LeaveTypeID, year int) (leave.YearEndRun, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.s.runs {
		if r.Kind == kind && r.LeaveTypeID == leaveTypeID && r.Year == year {
			return r, true, nil
		}
	}
	return leave.YearEndRun{}, false, nil
}

func (m *Memory) RecordRun(_ context.Context, run leave.YearEndRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.runs = append(m.s.runs, run)
	return nil
}

func (m *Memory) ListRuns(_ context.Context, limit int) ([]leave.YearEndRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]leave.YearEndRun, 0, len(m.s.runs))
	for i := len(m.s.runs) - 1; i >= 0; i-- {
		out = append(out, m.s.runs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// =============================================================================
// STATE - Unlocked implementation shared by Memory and txView
// =============================================================================

func (s *state) GetLeaveType(_ context.Context, id leave.LeaveTypeID) (leave.LeaveType, error) {
	lt, ok := s.leaveTypes[id]
	if !ok {
		return leave.LeaveType{}, generic.ErrNotFound
	}
	return lt, nil
}

func (s *state) ListLeaveTypes(_ context.Context, activeOnly bool) ([]leave.LeaveType, error) {
	var out []leave.LeaveType
	for _, lt := range s.leaveTypes {
		if activeOnly && !lt.Active {
			continue
		}
		out = append(out, lt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) SaveLeaveType(_ context.Context, lt leave.LeaveType) error {
	s.leaveTypes[lt.ID] = lt
	return nil
}

func (s *state) GetCarryOverRule(_ context.Context, id leave.LeaveTypeID) (leave.CarryOverRule, error) {
	r, ok := s.rules[id]
	if !ok {
		return leave.CarryOverRule{}, generic.ErrNotFound
	}
	return r, nil
}

func (s *state) SaveCarryOverRule(_ context.Context, rule leave.CarryOverRule) error {
	if _, ok := s.leaveTypes[rule.LeaveTypeID]; !ok {
		return fmt.Errorf("%w: %s", leave.ErrUnknownLeaveType, rule.LeaveTypeID)
	}
	s.rules[rule.LeaveTypeID] = rule
	return nil
}

func (s *state) GetBalance(_ context.Context, key leave.BalanceKey) (leave.LeaveBalance, error) {
	b, ok := s.balances[key]
	if !ok {
		return leave.LeaveBalance{}, generic.ErrNotFound
	}
	return b, nil
}

func (s *state) InsertBalance(_ context.Context, b leave.LeaveBalance) (leave.LeaveBalance, bool, error) {
	if existing, ok := s.balances[b.BalanceKey]; ok {
		return existing, false, nil
	}
	b.Version = 1
	s.balances[b.BalanceKey] = b
	return b, true, nil
}

func (s *state) UpdateBalance(_ context.Context, b leave.LeaveBalance) (leave.LeaveBalance, error) {
	stored, ok := s.balances[b.BalanceKey]
	if !ok {
		return leave.LeaveBalance{}, generic.ErrNotFound
	}
	if stored.Version != b.Version {
		return leave.LeaveBalance{}, &generic.VersionConflictError{Key: b.BalanceKey.String(), Expected: b.Version}
	}
	b.Version++
	b.CreatedAt = stored.CreatedAt
	s.balances[b.BalanceKey] = b
	return b, nil
}

func (s *state) ListBalances(_ context.Context, filter leave.BalanceFilter) ([]leave.LeaveBalance, error) {
	var out []leave.LeaveBalance
	for _, b := range s.balances {
		if filter.Matches(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.EmployeeID != b.EmployeeID {
			return a.EmployeeID < b.EmployeeID
		}
		if a.LeaveTypeID != b.LeaveTypeID {
			return a.LeaveTypeID < b.LeaveTypeID
		}
		return a.Year < b.Year
	})
	return out, nil
}

func (s *state) AppendAudit(_ context.Context, entry leave.BalanceAuditEntry) error {
	s.audit = append(s.audit, entry)
	return nil
}

func (s *state) QueryAudit(_ context.Context, filter leave.AuditFilter) ([]leave.BalanceAuditEntry, error) {
	var out []leave.BalanceAuditEntry
	for _, e := range s.audit {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}

func (s *state) SaveApplication(_ context.Context, a leave.LeaveApplication) error {
	s.apps[a.ID] = a
	return nil
}

func (s *state) GetApplication(_ context.Context, id leave.ApplicationID) (leave.LeaveApplication, error) {
	a, ok := s.apps[id]
	if !ok {
		return leave.LeaveApplication{}, generic.ErrNotFound
	}
	return a, nil
}

func (s *state) FindOverlapping(ctx context.Context, employeeID leave.EmployeeID, period generic.Period, excludeID leave.ApplicationID) ([]leave.LeaveApplication, error) {
	apps, _ := s.ListApplications(ctx, leave.ApplicationFilter{
		EmployeeIDs: []leave.EmployeeID{employeeID},
		Statuses:    []leave.ApplicationStatus{leave.StatusPending, leave.StatusApproved},
		Range:       &period,
	})
	out := apps[:0]
	for _, a := range apps {
		if a.ID != excludeID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *state) ListApplications(_ context.Context, filter leave.ApplicationFilter) ([]leave.LeaveApplication, error) {
	var out []leave.LeaveApplication
	for _, a := range s.apps {
		if filter.Matches(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (s *state) SaveEmployee(_ context.Context, e leave.Employee) error {
	s.employees[e.ID] = e
	return nil
}

func (s *state) GetEmployee(_ context.Context, id leave.EmployeeID) (leave.Employee, error) {
	e, ok := s.employees[id]
	if !ok {
		return leave.Employee{}, generic.ErrNotFound
	}
	return e, nil
}

func (s *state) ListEmployees(_ context.Context, activeOnly bool) ([]leave.Employee, error) {
	var out []leave.Employee
	for _, e := range s.employees {
		if activeOnly && !e.Active {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) companyHolidays(companyID string) []generic.Holiday {
	var out []generic.Holiday
	for _, h := range s.holidays {
		if h.CompanyID == "" || h.CompanyID == companyID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
