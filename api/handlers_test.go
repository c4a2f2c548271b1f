/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Catalog and employee endpoints
- Validation dry-run and the application lifecycle
- Status mapping of the leave error taxonomy
- Adjustments, audit, carry-over and year initialization
- Year-end scheduler passes
- Analytics query parsing, holidays, seeding and health
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/calendar"
	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/notify"
	"github.com/warp/leave-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// Monday 2025-06-02.
var testClock = generic.FixedDate(2025, time.June, 2)

type testServer struct {
	store   *memory.Memory
	handler *Handler
	router  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	require.NoError(t, store.SaveLeaveType(ctx, leave.LeaveType{ID: "annual", Name: "Annual Leave", DefaultAllocation: generic.Days(20), Active: true}))
	require.NoError(t, store.SaveLeaveType(ctx, leave.LeaveType{ID: "sick", Name: "Sick Leave", DefaultAllocation: generic.Days(10), RequiresDocumentation: true, Active: true}))
	require.NoError(t, store.SaveEmployee(ctx, leave.Employee{ID: "emp-1", Name: "Ada", EmploymentType: leave.EmploymentFullTime, Active: true}))
	require.NoError(t, store.SaveEmployee(ctx, leave.Employee{ID: "emp-2", Name: "Grace", EmploymentType: leave.EmploymentPartTime, Active: true}))
	require.NoError(t, store.SaveHoliday(ctx, generic.Holiday{ID: "juneteenth", Date: generic.MustParseDate("2025-06-19"), Name: "Juneteenth"}))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	notifier := notify.Fanout{notify.NewLogger(logger), notify.NewOutbox(store)}
	h := NewHandler(store, calendar.NewGateway(store, ""), notifier, Options{Clock: testClock, Logger: logger})

	return &testServer{store: store, handler: h, router: NewRouter(h, nil)}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func application(employee, leaveType, start, end string) ApplicationRequest {
	return ApplicationRequest{EmployeeID: employee, LeaveTypeID: leaveType, StartDate: start, EndDate: end}
}

func (s *testServer) submit(t *testing.T, req ApplicationRequest) ApplicationDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/applications", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[ApplicationDTO](t, rec)
}

// =============================================================================
// CATALOG & EMPLOYEES
// =============================================================================

func TestLeaveTypes_CreateWithCarryOverRule(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: A new leave type with a carry-over rule
	rec := s.do(t, http.MethodPost, "/api/leave-types", CreateLeaveTypeRequest{ID: "study", DefaultAllocation: 3})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodPut, "/api/leave-types/study/carry-over-rule", CarryOverRuleRequest{MaxCarryOver: 1.5, ExpiryMonths: 3})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// WHEN: Listing the catalog
	rec = s.do(t, http.MethodGet, "/api/leave-types", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	types := decode[[]LeaveTypeDTO](t, rec)

	// THEN: The rule is attached and the name defaulted to the id
	var study *LeaveTypeDTO
	for i := range types {
		if types[i].ID == "study" {
			study = &types[i]
		}
	}
	require.NotNil(t, study)
	assert.Equal(t, "study", study.Name)
	assert.True(t, study.Active)
	require.NotNil(t, study.CarryOver)
	assert.Equal(t, 1.5, study.CarryOver.MaxCarryOver)
}

func TestCarryOverRule_UnknownLeaveTypeIs404(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPut, "/api/leave-types/missing/carry-over-rule", CarryOverRuleRequest{MaxCarryOver: 5})

	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
}

func TestEmployees_RejectsUnknownEmploymentType(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/employees", CreateEmployeeRequest{ID: "emp-9", EmploymentType: "volunteer"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmployeeBalances_ShowDefaultsWithoutWriting(t *testing.T) {
	s := newTestServer(t)

	// WHEN: Reading balances no row exists for
	rec := s.do(t, http.MethodGet, "/api/employees/emp-1/balances?year=2025", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	balances := decode[[]BalanceDTO](t, rec)

	// THEN: Each active type shows its default allocation, and nothing is stored
	require.Len(t, balances, 2)
	for _, b := range balances {
		assert.Equal(t, b.TotalDays, b.Remaining)
		assert.Zero(t, b.UsedDays)
	}
	rows, err := s.store.ListBalances(context.Background(), leave.BalanceFilter{EmployeeID: "emp-1"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEmployeeBalances_UnknownEmployeeIs404(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/employees/nobody/balances", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestValidate_ValidApplicationCountsBusinessDays(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/applications/validate", application("emp-1", "annual", "2025-06-09", "2025-06-11"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[ValidationResultDTO](t, rec)
	assert.True(t, result.Valid)
	assert.Equal(t, 3.0, result.BusinessDays)
	assert.Nil(t, result.Failure)
}

func TestValidate_HolidayIsReportedAsFailure(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: A range covering Juneteenth (Thursday)
	rec := s.do(t, http.MethodPost, "/api/applications/validate", application("emp-1", "annual", "2025-06-18", "2025-06-20"))

	// THEN: 200 with the offending day, not an HTTP error
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[ValidationResultDTO](t, rec)
	assert.False(t, result.Valid)
	require.NotNil(t, result.Failure)
	assert.Equal(t, string(leave.CodeNonBusinessDay), result.Failure.Code)
	require.Len(t, result.Failure.NonBusinessDays, 1)
	assert.Contains(t, result.Failure.NonBusinessDays[0], "2025-06-19")
}

func TestValidate_BackdatedFailsFirst(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/applications/validate", application("emp-1", "annual", "2025-05-26", "2025-05-27"))

	result := decode[ValidationResultDTO](t, rec)
	require.NotNil(t, result.Failure)
	assert.Equal(t, string(leave.CodeBackdated), result.Failure.Code)
	assert.Equal(t, "2025-06-02", result.Failure.Today)
}

func TestValidate_NoticeOverride(t *testing.T) {
	s := newTestServer(t)
	req := application("emp-1", "annual", "2025-06-03", "2025-06-03")

	// WHEN: Tomorrow with the default two-day notice
	rec := s.do(t, http.MethodPost, "/api/applications/validate", req)
	result := decode[ValidationResultDTO](t, rec)
	require.NotNil(t, result.Failure)
	assert.Equal(t, string(leave.CodeInsufficientNotice), result.Failure.Code)
	require.NotNil(t, result.Failure.NoticeDays)
	assert.Equal(t, 1, *result.Failure.NoticeDays)

	// WHEN: The request lowers the minimum to one day
	one := 1
	req.Options.MinDaysNotice = &one
	rec = s.do(t, http.MethodPost, "/api/applications/validate", req)
	assert.True(t, decode[ValidationResultDTO](t, rec).Valid)
}

func TestValidate_UnknownLeaveTypeIs404(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/applications/validate", application("emp-1", "bogus", "2025-06-09", "2025-06-10"))

	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
}

func TestValidate_MalformedDateIs400(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/applications/validate", application("emp-1", "annual", "09/06/2025", "2025-06-10"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// APPLICATION LIFECYCLE
// =============================================================================

func TestApplication_SubmitApproveRecordsUsage(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: A submitted application
	app := s.submit(t, application("emp-1", "annual", "2025-06-09", "2025-06-11"))
	assert.Equal(t, string(leave.StatusPending), app.Status)
	assert.Equal(t, 3.0, app.BusinessDays)

	// WHEN: A manager approves it
	rec := s.do(t, http.MethodPost, "/api/applications/"+app.ID+"/approve", DecisionRequest{DecidedBy: "mgr-1", Comments: "enjoy"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decode[ApplicationDTO](t, rec)

	// THEN: The decision is stored and usage is on the ledger
	assert.Equal(t, string(leave.StatusApproved), approved.Status)
	assert.Equal(t, "mgr-1", approved.DecidedBy)
	assert.NotEmpty(t, approved.DecidedAt)

	rec = s.do(t, http.MethodGet, "/api/employees/emp-1/balances", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	for _, b := range decode[[]BalanceDTO](t, rec) {
		if b.LeaveTypeID == "annual" {
			assert.Equal(t, 3.0, b.UsedDays)
			assert.Equal(t, 17.0, b.Remaining)
		}
	}

	// AND: The audit names the application
	rec = s.do(t, http.MethodGet, "/api/admin/audit?application_id="+app.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]AuditEntryDTO](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "used_days", entries[0].Field)
	assert.Equal(t, "mgr-1", entries[0].Actor)

	// AND: Deciding twice conflicts
	rec = s.do(t, http.MethodPost, "/api/applications/"+app.ID+"/reject", DecisionRequest{DecidedBy: "mgr-2"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestApplication_OverlapIs422WithConflict(t *testing.T) {
	s := newTestServer(t)
	first := s.submit(t, application("emp-1", "annual", "2025-06-09", "2025-06-11"))

	rec := s.do(t, http.MethodPost, "/api/applications", application("emp-1", "annual", "2025-06-11", "2025-06-12"))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	resp := decode[struct {
		Code    string               `json:"code"`
		Details ValidationFailureDTO `json:"details"`
	}](t, rec)
	assert.Equal(t, string(leave.CodeOverlapping), resp.Code)
	require.NotNil(t, resp.Details.Conflict)
	assert.Equal(t, first.ID, resp.Details.Conflict.ID)
}

func TestApplication_InsufficientBalanceIs422(t *testing.T) {
	s := newTestServer(t)
	req := application("emp-1", "annual", "2025-06-09", "2025-06-11")
	days := 25.0
	req.BusinessDays = &days

	rec := s.do(t, http.MethodPost, "/api/applications", req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, string(leave.CodeInsufficientBal), resp.Code)
}

func TestApplication_DocumentationRequiredIs400(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/applications", application("emp-1", "sick", "2025-06-09", "2025-06-09"))

	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestApplication_UnknownEmployeeIs404(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/applications", application("ghost", "annual", "2025-06-09", "2025-06-10"))

	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
}

func TestApplication_UpdateExcludesItselfFromOverlap(t *testing.T) {
	s := newTestServer(t)
	app := s.submit(t, application("emp-1", "annual", "2025-06-09", "2025-06-11"))

	// WHEN: Shifting the application by one day, overlapping its old dates
	rec := s.do(t, http.MethodPut, "/api/applications/"+app.ID, ApplicationRequest{StartDate: "2025-06-10", EndDate: "2025-06-12"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[ApplicationDTO](t, rec)
	assert.Equal(t, "emp-1", updated.EmployeeID)
	assert.Equal(t, "annual", updated.LeaveTypeID)
	assert.Equal(t, "2025-06-10", updated.StartDate)
}

func TestApplication_WithdrawThenList(t *testing.T) {
	s := newTestServer(t)
	app := s.submit(t, application("emp-1", "annual", "2025-06-09", "2025-06-10"))
	s.submit(t, application("emp-2", "annual", "2025-06-09", "2025-06-10"))

	rec := s.do(t, http.MethodPost, "/api/applications/"+app.ID+"/withdraw", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(leave.StatusWithdrawn), decode[ApplicationDTO](t, rec).Status)

	rec = s.do(t, http.MethodGet, "/api/applications?status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decode[[]ApplicationDTO](t, rec)
	require.Len(t, pending, 1)
	assert.Equal(t, "emp-2", pending[0].EmployeeID)

	rec = s.do(t, http.MethodGet, "/api/applications?status=lost", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApplication_DecisionRequiresDecidedBy(t *testing.T) {
	s := newTestServer(t)
	app := s.submit(t, application("emp-1", "annual", "2025-06-09", "2025-06-10"))

	rec := s.do(t, http.MethodPost, "/api/applications/"+app.ID+"/approve", DecisionRequest{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApplication_GetUnknownIs404(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/applications/nope", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestAdjustment_ClampsAndAudits(t *testing.T) {
	s := newTestServer(t)

	// WHEN: Decreasing more than allocated
	rec := s.do(t, http.MethodPost, "/api/admin/adjustments", AdjustmentRequest{
		EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2025,
		Type: "decrease", Amount: 30, Reason: "correction", Actor: "hr-1",
	})

	// THEN: Total floors at zero and the audit keeps the requested amount
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[AdjustmentResultDTO](t, rec)
	assert.True(t, res.Clamped)
	assert.Zero(t, res.Balance.TotalDays)
	assert.Equal(t, 30.0, res.Audit.Amount)
	assert.Equal(t, 20.0, res.Audit.PreviousValue)

	rec = s.do(t, http.MethodGet, "/api/admin/audit?actor=hr-1&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]AuditEntryDTO](t, rec), 1)
}

func TestAdjustment_InvalidTypeIs400(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/admin/adjustments", AdjustmentRequest{
		EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2025, Type: "double", Amount: 1, Actor: "hr-1",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCarryOver_RecordedRunIsRefusedUnlessForced(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	// GIVEN: A 2024 row with 8 days left and a 5-day cap
	require.NoError(t, s.store.SaveCarryOverRule(ctx, leave.CarryOverRule{LeaveTypeID: "annual", MaxCarryOver: generic.Days(5)}))
	rec := s.do(t, http.MethodPost, "/api/admin/adjustments", AdjustmentRequest{
		EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2024, Type: "set", Amount: 8, Actor: "hr-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// WHEN: Carrying 2024 over
	rec = s.do(t, http.MethodPost, "/api/admin/carry-over", CarryOverRequest{LeaveTypeID: "annual", FromYear: 2024})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[struct {
		Report CarryOverReportDTO `json:"report"`
		Run    YearEndRunDTO      `json:"run"`
	}](t, rec)

	// THEN: The cap applies and the run is recorded
	assert.Equal(t, 1, resp.Report.Transferred)
	assert.Equal(t, 5.0, resp.Report.TotalDays)
	assert.Equal(t, string(leave.RunCarryOver), resp.Run.Kind)
	assert.Equal(t, leave.DefaultCarryOverActor, resp.Run.Actor)

	// AND: A second trigger conflicts, force runs it again
	rec = s.do(t, http.MethodPost, "/api/admin/carry-over", CarryOverRequest{LeaveTypeID: "annual", FromYear: 2024})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/admin/carry-over", CarryOverRequest{LeaveTypeID: "annual", FromYear: 2024, Force: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	b, err := s.store.GetBalance(ctx, leave.BalanceKey{EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2025})
	require.NoError(t, err)
	assert.True(t, b.TotalDays.Equal(generic.Days(30)), "20 default + 5 + 5, got %s", b.TotalDays)
}

func TestCarryOver_ApprovalRequired(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.store.SaveCarryOverRule(context.Background(), leave.CarryOverRule{
		LeaveTypeID: "annual", MaxCarryOver: generic.Days(5), RequiresApproval: true,
	}))

	rec := s.do(t, http.MethodPost, "/api/admin/carry-over", CarryOverRequest{LeaveTypeID: "annual", FromYear: 2024})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/admin/carry-over", CarryOverRequest{LeaveTypeID: "annual", FromYear: 2024, ApprovedBy: "cfo"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestCarryOver_NoRuleIs404(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/admin/carry-over", CarryOverRequest{LeaveTypeID: "sick", FromYear: 2024})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInitializeYear_RunsOnce(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/admin/years/2026/initialize", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decode[YearEndRunDTO](t, rec)
	assert.Equal(t, 4, run.Processed, "two employees times two leave types")

	rec = s.do(t, http.MethodPost, "/api/admin/years/2026/initialize", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/admin/years/2026/initialize?force=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[YearEndRunDTO](t, rec).Processed, "rows already exist")

	rec = s.do(t, http.MethodGet, "/api/admin/year-end-runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]YearEndRunDTO](t, rec), 2)
}

func TestInitializeYear_InvalidYear(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/admin/years/next/initialize", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSeed_YAMLCatalog(t *testing.T) {
	s := newTestServer(t)
	body := `
leave_types:
  - id: parental
    name: Parental Leave
    default_allocation: 60
employees:
  - id: emp-7
    name: Barbara
    employment_type: full_time
`
	req := httptest.NewRequest(http.MethodPost, "/api/admin/seed", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/yaml")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decode[factory.Summary](t, rec)
	assert.Equal(t, 1, summary.LeaveTypes)
	assert.Equal(t, 1, summary.Employees)

	_, err := s.store.GetLeaveType(context.Background(), "parental")
	assert.NoError(t, err)
}

// =============================================================================
// SCHEDULER
// =============================================================================

func TestScheduler_RunNowInitializesAndCarriesOverOnce(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.store.SaveCarryOverRule(ctx, leave.CarryOverRule{LeaveTypeID: "annual", MaxCarryOver: generic.Days(5)}))
	require.NoError(t, s.store.SaveCarryOverRule(ctx, leave.CarryOverRule{LeaveTypeID: "sick", MaxCarryOver: generic.Days(2), RequiresApproval: true}))
	_, err := s.handler.Adjustments.AdjustBalance(ctx, leave.AdjustmentRequest{
		EmployeeID: "emp-2", LeaveTypeID: "annual", Year: 2024, Type: leave.AdjustSet, Amount: generic.Days(3), Actor: "hr-1",
	})
	require.NoError(t, err)

	scheduler := NewYearEndScheduler(s.handler.YearEnd, s.store)

	// WHEN: The first pass runs
	first := scheduler.RunNow(ctx)

	// THEN: 2025 is initialized, annual carries over, sick waits for approval
	assert.Empty(t, first.Errors)
	assert.True(t, first.Initialized)
	assert.Equal(t, []leave.LeaveTypeID{"annual"}, first.CarriedOver)

	b, err := s.store.GetBalance(ctx, leave.BalanceKey{EmployeeID: "emp-2", LeaveTypeID: "annual", Year: 2025})
	require.NoError(t, err)
	assert.True(t, b.TotalDays.Equal(generic.Days(23)), "got %s", b.TotalDays)

	// WHEN: The next pass runs
	second := scheduler.RunNow(ctx)

	// THEN: Nothing is repeated
	assert.False(t, second.Initialized)
	assert.Empty(t, second.CarriedOver)
	b, err = s.store.GetBalance(ctx, leave.BalanceKey{EmployeeID: "emp-2", LeaveTypeID: "annual", Year: 2025})
	require.NoError(t, err)
	assert.True(t, b.TotalDays.Equal(generic.Days(23)))
}

func TestScheduler_DisabledDoesNotStart(t *testing.T) {
	s := newTestServer(t)
	scheduler := NewYearEndScheduler(s.handler.YearEnd, s.store)
	scheduler.Enabled = false

	scheduler.Start()
	scheduler.Stop()

	runs, err := s.store.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

// =============================================================================
// ANALYTICS, HOLIDAYS, HEALTH
// =============================================================================

func TestAnalytics_UsageAndTeamCalendar(t *testing.T) {
	s := newTestServer(t)
	app := s.submit(t, application("emp-1", "annual", "2025-06-09", "2025-06-10"))
	s.submit(t, application("emp-2", "annual", "2025-07-07", "2025-07-07"))
	rec := s.do(t, http.MethodPost, "/api/applications/"+app.ID+"/approve", DecisionRequest{DecidedBy: "mgr-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/analytics/usage?from=2025-06-01&to=2025-07-31", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	usage := decode[UsageReportDTO](t, rec)
	assert.Equal(t, 2, usage.Applications)
	assert.Equal(t, 1, usage.ByStatus["approved"])
	assert.Equal(t, 3.0, usage.TotalDays)
	assert.Equal(t, 2.0, usage.ApprovedDays)
	assert.Equal(t, "annual", usage.MostPopular)

	rec = s.do(t, http.MethodGet, "/api/analytics/team-calendar?from=2025-06-01&to=2025-06-30&employees=emp-1,emp-2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]CalendarEntryDTO](t, rec)
	require.Len(t, entries, 2)
	assert.Equal(t, "2025-06-09", entries[0].Date)

	rec = s.do(t, http.MethodGet, "/api/analytics/trends?from=2025-01-01&to=2025-12-31&granularity=quarter", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]TrendBucketDTO](t, rec), 4)
}

func TestAnalytics_BadQueries(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{
		"/api/analytics/usage?from=2025-06-01",
		"/api/analytics/usage?from=2025-07-01&to=2025-06-01",
		"/api/analytics/trends?from=2025-01-01&to=2025-12-31&granularity=week",
		"/api/analytics/balances?year=abc",
	} {
		rec := s.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestHolidays_CreateListDelete(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/holidays", CreateHolidayRequest{CompanyID: "acme", Date: "2025-08-01", Name: "Summer Day"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[HolidayDTO](t, rec)
	assert.NotEmpty(t, created.ID)

	rec = s.do(t, http.MethodGet, "/api/holidays?company_id=acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode[map[string][]HolidayDTO](t, rec)
	assert.Len(t, listed["holidays"], 2, "company holiday plus the global one")

	rec = s.do(t, http.MethodDelete, "/api/holidays/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodDelete, "/api/holidays/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}
