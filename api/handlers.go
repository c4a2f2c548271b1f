/*
handlers.go - HTTP API handlers for the leave engine

PURPOSE:

	Exposes the leave engine via REST API. Handles HTTP request/response,
	JSON serialization, and delegates to the leave services.

ENDPOINTS:

	Catalog:
	  GET    /api/leave-types                       List leave types
	  POST   /api/leave-types                       Create or replace a leave type
	  PUT    /api/leave-types/{id}/carry-over-rule  Configure carry-over

	Employees:
	  GET    /api/employees                  List employees
	  POST   /api/employees                  Create or replace an employee
	  GET    /api/employees/{id}/balances    Balances per active leave type

	Applications:
	  POST   /api/applications/validate      Dry-run the validation pipeline
	  GET    /api/applications               List applications
	  POST   /api/applications               Submit
	  GET    /api/applications/{id}          Get one
	  PUT    /api/applications/{id}          Edit a pending application
	  POST   /api/applications/{id}/withdraw
	  POST   /api/applications/{id}/approve
	  POST   /api/applications/{id}/reject

	Admin:
	  POST   /api/admin/adjustments          Manual balance adjustment
	  GET    /api/admin/audit                Audit history
	  POST   /api/admin/carry-over           Trigger one carry-over batch
	  POST   /api/admin/years/{year}/initialize
	  GET    /api/admin/year-end-runs
	  POST   /api/admin/seed                 Load a YAML or JSON catalog

	Analytics:
	  GET    /api/analytics/usage|balances|trends|team-calendar

	Holidays:
	  GET    /api/holidays
	  POST   /api/holidays
	  DELETE /api/holidays/{id}

REQUEST FLOW:
 1. Parse HTTP request
 2. Convert DTOs to leave types
 3. Call the leave service
 4. Serialize response
 5. Map errors through writeDomainError

ERROR HANDLING:
  - 400: Malformed input, invalid adjustment or query
  - 404: Unknown resource, unknown leave type or employee
  - 409: Wrong application state, concurrent modification, year-end run
    already recorded
  - 422: Validation failure or insufficient balance, with details
  - 503: A collaborator failed during validation; retry later
  - 500: Anything else

SECURITY NOTE:

	No authentication or authorization. Decisions trust decided_by.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scheduler.go: Year-end routines shared with the admin endpoints
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warp/leave-engine/calendar"
	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is everything the API reads and writes.
type Store interface {
	leave.TxStore
	leave.EmployeeStore
	leave.Directory
	leave.RunStore
	calendar.HolidayStore
}

// Options tunes the services NewHandler builds. Zero values keep the
// leave package defaults.
type Options struct {
	MinDaysNotice  int
	MaxRetries     int
	Eligibility    leave.Eligibility
	Parallelism    int
	MaxParallelism int
	CarryOverActor string
	Clock          generic.Clock
	Logger         *slog.Logger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        Store
	Ledger       *leave.Ledger
	Pipeline     *leave.Pipeline
	Adjustments  *leave.AdjustmentService
	CarryOver    *leave.CarryOverEngine
	Applications *leave.ApplicationService
	Analytics    *leave.Aggregator
	YearEnd      *YearEnd

	Clock  generic.Clock
	Logger *slog.Logger
}

// NewHandler wires the leave services over one store.
func NewHandler(store Store, cal leave.CalendarGateway, notifier leave.Notifier, opts Options) *Handler {
	if opts.Clock == nil {
		opts.Clock = generic.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if notifier == nil {
		notifier = leave.NopNotifier{}
	}

	ledger := leave.NewLedger(store)
	ledger.Directory = store
	ledger.Clock = opts.Clock
	ledger.Logger = opts.Logger
	if len(opts.Eligibility) > 0 {
		ledger.Eligibility = opts.Eligibility
	}
	if opts.MaxRetries > 0 {
		ledger.MaxRetries = opts.MaxRetries
	}

	pipeline := leave.NewPipeline(store, ledger, cal, opts.Clock)
	pipeline.Directory = store
	if opts.MinDaysNotice > 0 {
		pipeline.MinDaysNotice = opts.MinDaysNotice
	}

	adjustments := leave.NewAdjustmentService(store, ledger, notifier)
	adjustments.Clock = opts.Clock
	adjustments.Logger = opts.Logger

	carryOver := leave.NewCarryOverEngine(store, adjustments, notifier)
	if opts.Parallelism > 0 {
		carryOver.Parallelism = opts.Parallelism
	}
	if opts.MaxParallelism > 0 {
		carryOver.MaxParallelism = opts.MaxParallelism
	}

	return &Handler{
		Store:        store,
		Ledger:       ledger,
		Pipeline:     pipeline,
		Adjustments:  adjustments,
		CarryOver:    carryOver,
		Applications: leave.NewApplicationService(store, pipeline, adjustments, notifier),
		Analytics:    leave.NewAggregator(store),
		YearEnd: &YearEnd{
			Runs:            store,
			Ledger:          ledger,
			CarryOverEngine: carryOver,
			Clock:           opts.Clock,
			Logger:          opts.Logger,
			Actor:           opts.CarryOverActor,
		},
		Clock:  opts.Clock,
		Logger: opts.Logger,
	}
}

// =============================================================================
// LEAVE TYPE HANDLERS
// =============================================================================

// ListLeaveTypes returns the catalog. ?active=true hides inactive types.
func (h *Handler) ListLeaveTypes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	activeOnly := r.URL.Query().Get("active") == "true"

	types, err := h.Store.ListLeaveTypes(ctx, activeOnly)
	if err != nil {
		h.writeDomainError(w, "Failed to list leave types", err)
		return
	}

	dtos := make([]LeaveTypeDTO, 0, len(types))
	for _, lt := range types {
		dto := toLeaveTypeDTO(lt)
		rule, err := h.Store.GetCarryOverRule(ctx, lt.ID)
		switch {
		case err == nil:
			ruleDTO := toCarryOverRuleDTO(rule)
			dto.CarryOver = &ruleDTO
		case !errors.Is(err, generic.ErrNotFound):
			h.writeDomainError(w, "Failed to read carry-over rule", err)
			return
		}
		dtos = append(dtos, dto)
	}

	writeJSON(w, http.StatusOK, dtos)
}

// CreateLeaveType creates or replaces a leave type.
func (h *Handler) CreateLeaveType(w http.ResponseWriter, r *http.Request) {
	var req CreateLeaveTypeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required", nil)
		return
	}
	if req.DefaultAllocation < 0 {
		writeError(w, http.StatusBadRequest, "default_allocation must not be negative", nil)
		return
	}

	lt := leave.LeaveType{
		ID:                    leave.LeaveTypeID(req.ID),
		Name:                  req.Name,
		DefaultAllocation:     generic.Days(req.DefaultAllocation),
		RequiresDocumentation: req.RequiresDocumentation,
		Active:                req.Active == nil || *req.Active,
	}
	if lt.Name == "" {
		lt.Name = req.ID
	}

	if err := h.Store.SaveLeaveType(r.Context(), lt); err != nil {
		h.writeDomainError(w, "Failed to save leave type", err)
		return
	}

	writeJSON(w, http.StatusCreated, toLeaveTypeDTO(lt))
}

// PutCarryOverRule configures carry-over for an existing leave type.
func (h *Handler) PutCarryOverRule(w http.ResponseWriter, r *http.Request) {
	id := leave.LeaveTypeID(chi.URLParam(r, "id"))

	var req CarryOverRuleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.MaxCarryOver < 0 || req.ExpiryMonths < 0 {
		writeError(w, http.StatusBadRequest, "max_carry_over and expiry_months must not be negative", nil)
		return
	}

	rule := leave.CarryOverRule{
		LeaveTypeID:      id,
		MaxCarryOver:     generic.Days(req.MaxCarryOver),
		ExpiryMonths:     req.ExpiryMonths,
		RequiresApproval: req.RequiresApproval,
	}
	if err := h.Store.SaveCarryOverRule(r.Context(), rule); err != nil {
		h.writeDomainError(w, "Failed to save carry-over rule", err)
		return
	}

	writeJSON(w, http.StatusOK, toCarryOverRuleDTO(rule))
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees. ?active=true hides inactive ones.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		h.writeDomainError(w, "Failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}

	writeJSON(w, http.StatusOK, dtos)
}

// CreateEmployee creates or replaces a directory record.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required", nil)
		return
	}

	emp := leave.Employee{
		ID:             leave.EmployeeID(req.ID),
		Name:           req.Name,
		Email:          req.Email,
		EmploymentType: leave.EmploymentType(req.EmploymentType),
		Active:         req.Active == nil || *req.Active,
	}
	switch emp.EmploymentType {
	case "":
		emp.EmploymentType = leave.EmploymentFullTime
	case leave.EmploymentFullTime, leave.EmploymentPartTime, leave.EmploymentContractor, leave.EmploymentIntern:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown employment_type %q", req.EmploymentType), nil)
		return
	}
	if req.HireDate != "" {
		hireDate, err := generic.ParseDate(req.HireDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid hire_date format (use YYYY-MM-DD)", err)
			return
		}
		emp.HireDate = hireDate
	}

	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		h.writeDomainError(w, "Failed to create employee", err)
		return
	}

	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// GetEmployeeBalances returns one balance per active leave type for ?year=
// (default: the current year). Rows not yet stored show what initialization
// would create; nothing is written.
func (h *Handler) GetEmployeeBalances(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := leave.EmployeeID(chi.URLParam(r, "id"))

	year, ok := queryYear(w, r, h.currentYear())
	if !ok {
		return
	}

	if _, err := h.Store.GetEmployee(ctx, id); err != nil {
		h.writeDomainError(w, "Failed to get employee", err)
		return
	}

	types, err := h.Store.ListLeaveTypes(ctx, true)
	if err != nil {
		h.writeDomainError(w, "Failed to list leave types", err)
		return
	}

	dtos := make([]BalanceDTO, 0, len(types))
	for _, lt := range types {
		b, err := h.Ledger.Current(ctx, leave.BalanceKey{EmployeeID: id, LeaveTypeID: lt.ID, Year: year})
		if err != nil {
			h.writeDomainError(w, "Failed to read balance", err)
			return
		}
		dtos = append(dtos, toBalanceDTO(b))
	}

	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// APPLICATION HANDLERS
// =============================================================================

// ValidateApplication runs the pipeline without saving anything. A failed
// check is a normal result here: 200 with valid=false and the failure.
func (h *Handler) ValidateApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ApplicationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	draft, ok := h.parseDraft(ctx, w, req)
	if !ok {
		return
	}

	proposal := leave.Proposal{
		EmployeeID:   draft.EmployeeID,
		LeaveTypeID:  draft.LeaveTypeID,
		Start:        draft.Start,
		End:          draft.End,
		BusinessDays: draft.BusinessDays,
	}
	result := ValidationResultDTO{Valid: true, BusinessDays: days(draft.BusinessDays)}

	err := h.Pipeline.Validate(ctx, proposal, toValidationOptions(req.Options))
	var verr *leave.ValidationError
	switch {
	case err == nil:
	case errors.As(err, &verr):
		result.Valid = false
		result.Failure = toValidationFailureDTO(verr)
	default:
		h.writeDomainError(w, "Validation could not complete", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListApplications filters by ?employee_id=a,b &leave_type_id= &status=a,b
// &from= &to=.
func (h *Handler) ListApplications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := leave.ApplicationFilter{LeaveTypeID: leave.LeaveTypeID(q.Get("leave_type_id"))}
	for _, id := range splitList(q.Get("employee_id")) {
		filter.EmployeeIDs = append(filter.EmployeeIDs, leave.EmployeeID(id))
	}
	for _, s := range splitList(q.Get("status")) {
		status := leave.ApplicationStatus(s)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown status %q", s), nil)
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	if q.Get("from") != "" || q.Get("to") != "" {
		period, ok := queryPeriod(w, r)
		if !ok {
			return
		}
		filter.Range = &period
	}

	apps, err := h.Applications.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, "Failed to list applications", err)
		return
	}

	dtos := make([]ApplicationDTO, len(apps))
	for i, a := range apps {
		dtos[i] = toApplicationDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SubmitApplication validates and stores a pending application.
func (h *Handler) SubmitApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ApplicationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	draft, ok := parseDraftDates(w, req, false)
	if !ok {
		return
	}

	app, err := h.Applications.Submit(ctx, draft, toValidationOptions(req.Options))
	if err != nil {
		h.writeDomainError(w, "Application rejected", err)
		return
	}

	writeJSON(w, http.StatusCreated, toApplicationDTO(app))
}

// GetApplication returns one application.
func (h *Handler) GetApplication(w http.ResponseWriter, r *http.Request) {
	app, err := h.Applications.Get(r.Context(), leave.ApplicationID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to get application", err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicationDTO(app))
}

// UpdateApplication re-validates and replaces a pending application's dates,
// type, reason or document. The employee cannot change.
func (h *Handler) UpdateApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := leave.ApplicationID(chi.URLParam(r, "id"))

	var req ApplicationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	draft, ok := parseDraftDates(w, req, true)
	if !ok {
		return
	}

	app, err := h.Applications.Update(ctx, id, draft, toValidationOptions(req.Options))
	if err != nil {
		h.writeDomainError(w, "Update rejected", err)
		return
	}

	writeJSON(w, http.StatusOK, toApplicationDTO(app))
}

// WithdrawApplication cancels a pending application.
func (h *Handler) WithdrawApplication(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	app, err := h.Applications.Withdraw(r.Context(), leave.ApplicationID(chi.URLParam(r, "id")), req.Actor)
	if err != nil {
		h.writeDomainError(w, "Failed to withdraw application", err)
		return
	}

	writeJSON(w, http.StatusOK, toApplicationDTO(app))
}

// ApproveApplication approves and records usage in one transaction.
func (h *Handler) ApproveApplication(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, true)
}

// RejectApplication rejects a pending application.
func (h *Handler) RejectApplication(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, false)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, approve bool) {
	var req DecisionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.DecidedBy == "" {
		writeError(w, http.StatusBadRequest, "decided_by is required", nil)
		return
	}

	app, err := h.Applications.Decide(r.Context(), leave.ApplicationID(chi.URLParam(r, "id")), leave.Decision{
		Approve:   approve,
		DecidedBy: req.DecidedBy,
		Comments:  req.Comments,
	})
	if err != nil {
		h.writeDomainError(w, "Decision failed", err)
		return
	}

	writeJSON(w, http.StatusOK, toApplicationDTO(app))
}

// parseDraftDates converts the request without touching the calendar. Edits
// keep the stored owner and may keep the stored leave type.
func parseDraftDates(w http.ResponseWriter, req ApplicationRequest, edit bool) (leave.Draft, bool) {
	if !edit && (req.EmployeeID == "" || req.LeaveTypeID == "") {
		writeError(w, http.StatusBadRequest, "employee_id and leave_type_id are required", nil)
		return leave.Draft{}, false
	}
	start, err := generic.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
		return leave.Draft{}, false
	}
	end, err := generic.ParseDate(req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date format (use YYYY-MM-DD)", err)
		return leave.Draft{}, false
	}

	draft := leave.Draft{
		EmployeeID:  leave.EmployeeID(req.EmployeeID),
		LeaveTypeID: leave.LeaveTypeID(req.LeaveTypeID),
		Start:       start,
		End:         end,
		Reason:      req.Reason,
		DocumentRef: req.DocumentRef,
	}
	if req.BusinessDays != nil {
		if *req.BusinessDays < 0 {
			writeError(w, http.StatusBadRequest, "business_days must not be negative", nil)
			return leave.Draft{}, false
		}
		draft.BusinessDays = generic.Days(*req.BusinessDays)
	}
	return draft, true
}

// parseDraft also fills BusinessDays from the calendar when omitted.
func (h *Handler) parseDraft(ctx context.Context, w http.ResponseWriter, req ApplicationRequest) (leave.Draft, bool) {
	draft, ok := parseDraftDates(w, req, false)
	if !ok || !draft.BusinessDays.IsZero() {
		return draft, ok
	}
	n, err := h.Applications.BusinessDays(ctx, draft.Start, draft.End)
	if err != nil {
		h.writeDomainError(w, "Failed to count business days", err)
		return leave.Draft{}, false
	}
	draft.BusinessDays = generic.Days(float64(n))
	return draft, true
}

func toValidationOptions(o ValidationOptionsDTO) leave.ValidationOptions {
	return leave.ValidationOptions{
		SkipBackdate:     o.SkipBackdate,
		SkipNotice:       o.SkipNotice,
		SkipOverlap:      o.SkipOverlap,
		SkipBusinessDays: o.SkipBusinessDays,
		SkipBalance:      o.SkipBalance,
		MinDaysNotice:    o.MinDaysNotice,
	}
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CreateAdjustment applies a manual increase, decrease or set to TotalDays.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Year == 0 {
		req.Year = h.currentYear()
	}

	res, err := h.Adjustments.AdjustBalance(r.Context(), leave.AdjustmentRequest{
		EmployeeID:  leave.EmployeeID(req.EmployeeID),
		LeaveTypeID: leave.LeaveTypeID(req.LeaveTypeID),
		Year:        req.Year,
		Type:        leave.AdjustmentType(req.Type),
		Amount:      generic.Days(req.Amount),
		Reason:      req.Reason,
		Actor:       req.Actor,
	})
	if err != nil {
		h.writeDomainError(w, "Adjustment failed", err)
		return
	}

	writeJSON(w, http.StatusOK, AdjustmentResultDTO{
		Balance: toBalanceDTO(res.Balance),
		Audit:   toAuditEntryDTO(res.Entry),
		Clamped: res.Clamped,
	})
}

// ListAudit returns audit entries oldest first, filtered by ?employee_id=
// &leave_type_id= &year= &actor= &application_id= &limit=.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := leave.AuditFilter{
		EmployeeID:    leave.EmployeeID(q.Get("employee_id")),
		LeaveTypeID:   leave.LeaveTypeID(q.Get("leave_type_id")),
		Actor:         q.Get("actor"),
		ApplicationID: leave.ApplicationID(q.Get("application_id")),
	}
	var ok bool
	if filter.Year, ok = queryInt(w, r, "year", 0); !ok {
		return
	}
	if filter.Limit, ok = queryInt(w, r, "limit", 0); !ok {
		return
	}

	entries, err := h.Adjustments.History(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, "Failed to query audit", err)
		return
	}

	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// TriggerCarryOver runs one carry-over batch. A batch already recorded for
// the same leave type and year is refused unless force is set.
func (h *Handler) TriggerCarryOver(w http.ResponseWriter, r *http.Request) {
	var req CarryOverRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.LeaveTypeID == "" {
		writeError(w, http.StatusBadRequest, "leave_type_id is required", nil)
		return
	}
	if req.FromYear == 0 {
		req.FromYear = h.currentYear() - 1
	}

	report, run, err := h.YearEnd.CarryOver(r.Context(), leave.CarryOverRequest{
		LeaveTypeID: leave.LeaveTypeID(req.LeaveTypeID),
		FromYear:    req.FromYear,
		Actor:       req.Actor,
		ApprovedBy:  req.ApprovedBy,
		Parallelism: req.Parallelism,
	}, req.Force)
	if err != nil {
		h.writeDomainError(w, "Carry-over failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"report": toCarryOverReportDTO(report),
		"run":    toYearEndRunDTO(run),
	})
}

// InitializeYear creates the missing balance rows of {year}. ?force=true
// runs again after a recorded run.
func (h *Handler) InitializeYear(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 1 {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}
	force := r.URL.Query().Get("force") == "true"

	run, err := h.YearEnd.InitializeYear(r.Context(), year, r.URL.Query().Get("actor"), force)
	if err != nil {
		h.writeDomainError(w, "Initialization failed", err)
		return
	}

	writeJSON(w, http.StatusOK, toYearEndRunDTO(run))
}

// ListYearEndRuns returns recorded runs, newest first, at most ?limit=.
func (h *Handler) ListYearEndRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 50)
	if !ok {
		return
	}

	runs, err := h.Store.ListRuns(r.Context(), limit)
	if err != nil {
		h.writeDomainError(w, "Failed to list runs", err)
		return
	}

	dtos := make([]YearEndRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toYearEndRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Seed loads a catalog. The body is JSON when Content-Type says so, YAML
// otherwise.
func (h *Handler) Seed(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}

	format := factory.FormatYAML
	if strings.Contains(r.Header.Get("Content-Type"), "json") {
		format = factory.FormatJSON
	}

	catalog, err := factory.ParseCatalog(data, format)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid catalog", err)
		return
	}

	summary, err := factory.Apply(r.Context(), catalog, h.Store)
	if err != nil {
		h.writeDomainError(w, "Failed to apply catalog", err)
		return
	}

	h.Logger.Info("catalog seeded",
		"leave_types", summary.LeaveTypes, "rules", summary.Rules,
		"holidays", summary.Holidays, "employees", summary.Employees)
	writeJSON(w, http.StatusOK, summary)
}

// =============================================================================
// ANALYTICS HANDLERS
// =============================================================================

// UsageReport summarizes applications in ?from= &to=, optionally for one
// ?employee_id= or ?leave_type_id=.
func (h *Handler) UsageReport(w http.ResponseWriter, r *http.Request) {
	period, ok := queryPeriod(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	report, err := h.Analytics.Usage(r.Context(), leave.UsageQuery{
		From:        period.Start,
		To:          period.End,
		EmployeeID:  leave.EmployeeID(q.Get("employee_id")),
		LeaveTypeID: leave.LeaveTypeID(q.Get("leave_type_id")),
	})
	if err != nil {
		h.writeDomainError(w, "Failed to build usage report", err)
		return
	}

	dto := UsageReportDTO{
		From:             report.Period.Start.String(),
		To:               report.Period.End.String(),
		Applications:     report.Applications,
		ByStatus:         make(map[string]int, len(report.ByStatus)),
		TotalDays:        days(report.TotalDays),
		ApprovedDays:     days(report.ApprovedDays),
		MostPopular:      string(report.MostPopular),
		MostPopularCount: report.MostPopularCount,
		PeakMonths:       make([]KeyCountDTO, 0, len(report.PeakMonths)),
	}
	for status, n := range report.ByStatus {
		dto.ByStatus[string(status)] = n
	}
	for _, kc := range report.PeakMonths {
		dto.PeakMonths = append(dto.PeakMonths, KeyCountDTO{Key: kc.Key, Count: kc.Count})
	}
	writeJSON(w, http.StatusOK, dto)
}

// BalanceReport rolls up the stored rows of ?year= (default: current year),
// optionally for one ?employee_id=.
func (h *Handler) BalanceReport(w http.ResponseWriter, r *http.Request) {
	year, ok := queryYear(w, r, h.currentYear())
	if !ok {
		return
	}

	report, err := h.Analytics.Balances(r.Context(), year, leave.EmployeeID(r.URL.Query().Get("employee_id")))
	if err != nil {
		h.writeDomainError(w, "Failed to build balance report", err)
		return
	}

	dto := BalanceReportDTO{
		Year:        report.Year,
		EmployeeID:  string(report.EmployeeID),
		Totals:      toBalanceRollupDTO(report.BalanceRollup),
		ByLeaveType: make([]BalanceRollupDTO, 0, len(report.ByLeaveType)),
	}
	for _, rollup := range report.ByLeaveType {
		dto.ByLeaveType = append(dto.ByLeaveType, toBalanceRollupDTO(rollup))
	}
	writeJSON(w, http.StatusOK, dto)
}

// Trends buckets applications in ?from= &to= by ?granularity=month|quarter.
func (h *Handler) Trends(w http.ResponseWriter, r *http.Request) {
	period, ok := queryPeriod(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	granularity := generic.BucketGranularity(q.Get("granularity"))
	switch granularity {
	case "":
		granularity = generic.BucketMonth
	case generic.BucketMonth, generic.BucketQuarter:
	default:
		writeError(w, http.StatusBadRequest, "granularity must be month or quarter", nil)
		return
	}

	buckets, err := h.Analytics.Trends(r.Context(), leave.TrendQuery{
		From:        period.Start,
		To:          period.End,
		Granularity: granularity,
		LeaveTypeID: leave.LeaveTypeID(q.Get("leave_type_id")),
	})
	if err != nil {
		h.writeDomainError(w, "Failed to build trends", err)
		return
	}

	dtos := make([]TrendBucketDTO, len(buckets))
	for i, b := range buckets {
		rate, _ := b.ApprovalRate.Float64()
		dtos[i] = TrendBucketDTO{
			Key:           b.Key,
			From:          b.Period.Start.String(),
			To:            b.Period.End.String(),
			Applications:  b.Applications,
			RequestedDays: days(b.RequestedDays),
			ApprovedDays:  days(b.ApprovedDays),
			ApprovalRate:  rate,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// TeamCalendar lists who is off on each date of approved applications in
// ?from= &to=, optionally for ?employees=a,b.
func (h *Handler) TeamCalendar(w http.ResponseWriter, r *http.Request) {
	period, ok := queryPeriod(w, r)
	if !ok {
		return
	}
	var employees []leave.EmployeeID
	for _, id := range splitList(r.URL.Query().Get("employees")) {
		employees = append(employees, leave.EmployeeID(id))
	}

	entries, err := h.Analytics.TeamCalendar(r.Context(), period.Start, period.End, employees)
	if err != nil {
		h.writeDomainError(w, "Failed to build team calendar", err)
		return
	}

	dtos := make([]CalendarEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = CalendarEntryDTO{
			Date:          e.Date.String(),
			EmployeeID:    string(e.EmployeeID),
			LeaveTypeID:   string(e.LeaveTypeID),
			ApplicationID: string(e.ApplicationID),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HOLIDAY HANDLERS
// =============================================================================

// ListHolidays returns the holidays of ?company_id=, global ones included.
// GET /api/holidays
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	holidays, err := h.Store.ListHolidays(r.Context(), r.URL.Query().Get("company_id"))
	if err != nil {
		h.writeDomainError(w, "Failed to get holidays", err)
		return
	}

	dtos := make([]HolidayDTO, 0, len(holidays))
	for _, hol := range holidays {
		dtos = append(dtos, toHolidayDTO(hol))
	}

	writeJSON(w, http.StatusOK, map[string]any{"holidays": dtos})
}

// CreateHoliday creates a new holiday.
// POST /api/holidays
func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var req CreateHolidayRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if req.Date == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "Date and name are required", nil)
		return
	}

	date, err := generic.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	holiday := generic.Holiday{
		ID:        req.ID,
		CompanyID: req.CompanyID,
		Date:      date,
		Name:      req.Name,
		Recurring: req.Recurring,
	}
	if holiday.ID == "" {
		holiday.ID = "holiday-" + uuid.NewString()
	}

	if err := h.Store.SaveHoliday(r.Context(), holiday); err != nil {
		h.writeDomainError(w, "Failed to create holiday", err)
		return
	}

	writeJSON(w, http.StatusCreated, toHolidayDTO(holiday))
}

// DeleteHoliday deletes a holiday.
// DELETE /api/holidays/{id}
func (h *Handler) DeleteHoliday(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteHoliday(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, "Failed to delete holiday", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the leave error taxonomy to a status.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	var verr *leave.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   verr.Message,
			Code:    string(verr.Code),
			Details: toValidationFailureDTO(verr),
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, leave.ErrValidationUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, ErrAlreadyRun),
		errors.Is(err, generic.ErrDuplicate),
		leave.IsConflict(err):
		status = http.StatusConflict
	case leave.IsIntegrityError(err), leave.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, leave.ErrInsufficientBalance):
		status = http.StatusUnprocessableEntity
	case leave.IsClientError(err):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		h.Logger.Error(message, "err", err)
	}
	writeError(w, status, message, err)
}

func (h *Handler) currentYear() int {
	return generic.Today(h.Clock).Year()
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// decodeOptionalBody accepts an empty body.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s", name), err)
		return 0, false
	}
	return n, true
}

func queryYear(w http.ResponseWriter, r *http.Request, fallback int) (int, bool) {
	year, ok := queryInt(w, r, "year", fallback)
	if ok && year == 0 {
		return fallback, true
	}
	return year, ok
}

// queryPeriod reads the required ?from= and ?to= dates.
func queryPeriod(w http.ResponseWriter, r *http.Request) (generic.Period, bool) {
	q := r.URL.Query()
	from, err := generic.ParseDate(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date (use YYYY-MM-DD)", err)
		return generic.Period{}, false
	}
	to, err := generic.ParseDate(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date (use YYYY-MM-DD)", err)
		return generic.Period{}, false
	}
	period, err := generic.NewPeriod(from, to)
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must not be after to", err)
		return generic.Period{}, false
	}
	return period, true
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
