/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the leave package's model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DAYS AND DATES:
  Day amounts travel as JSON numbers (2.5), dates as YYYY-MM-DD strings and
  timestamps as RFC 3339.

VALIDATION:
  Validation is done in handlers and in the leave services, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - leave/types.go: Domain model
*/
package api

import (
	"time"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// CATALOG
// =============================================================================

type LeaveTypeDTO struct {
	ID                    string            `json:"id"`
	Name                  string            `json:"name"`
	DefaultAllocation     float64           `json:"default_allocation"`
	RequiresDocumentation bool              `json:"requires_documentation"`
	Active                bool              `json:"active"`
	CarryOver             *CarryOverRuleDTO `json:"carry_over,omitempty"`
}

type CreateLeaveTypeRequest struct {
	ID                    string  `json:"id"`
	Name                  string  `json:"name"`
	DefaultAllocation     float64 `json:"default_allocation"`
	RequiresDocumentation bool    `json:"requires_documentation"`
	Active                *bool   `json:"active,omitempty"`
}

type CarryOverRuleDTO struct {
	LeaveTypeID      string  `json:"leave_type_id"`
	MaxCarryOver     float64 `json:"max_carry_over"`
	ExpiryMonths     int     `json:"expiry_months"`
	RequiresApproval bool    `json:"requires_approval"`
}

type CarryOverRuleRequest struct {
	MaxCarryOver     float64 `json:"max_carry_over"`
	ExpiryMonths     int     `json:"expiry_months"`
	RequiresApproval bool    `json:"requires_approval"`
}

// =============================================================================
// EMPLOYEES & BALANCES
// =============================================================================

type EmployeeDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email,omitempty"`
	EmploymentType string `json:"employment_type"`
	Active         bool   `json:"active"`
	HireDate       string `json:"hire_date,omitempty"`
}

type CreateEmployeeRequest struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	EmploymentType string `json:"employment_type"`
	Active         *bool  `json:"active,omitempty"`
	HireDate       string `json:"hire_date"`
}

type BalanceDTO struct {
	EmployeeID  string  `json:"employee_id"`
	LeaveTypeID string  `json:"leave_type_id"`
	Year        int     `json:"year"`
	TotalDays   float64 `json:"total_days"`
	UsedDays    float64 `json:"used_days"`
	Remaining   float64 `json:"remaining"`
	Overdrawn   bool    `json:"overdrawn,omitempty"`
	Version     int64   `json:"version"`
}

// =============================================================================
// APPLICATIONS
// =============================================================================

// ApplicationRequest is the body of validate, submit and update.
// BusinessDays is computed from the calendar when omitted.
type ApplicationRequest struct {
	EmployeeID   string               `json:"employee_id"`
	LeaveTypeID  string               `json:"leave_type_id"`
	StartDate    string               `json:"start_date"`
	EndDate      string               `json:"end_date"`
	BusinessDays *float64             `json:"business_days,omitempty"`
	Reason       string               `json:"reason,omitempty"`
	DocumentRef  string               `json:"document_ref,omitempty"`
	Options      ValidationOptionsDTO `json:"options"`
}

type ValidationOptionsDTO struct {
	SkipBackdate     bool `json:"skip_backdate,omitempty"`
	SkipNotice       bool `json:"skip_notice,omitempty"`
	SkipOverlap      bool `json:"skip_overlap,omitempty"`
	SkipBusinessDays bool `json:"skip_business_days,omitempty"`
	SkipBalance      bool `json:"skip_balance,omitempty"`
	MinDaysNotice    *int `json:"min_days_notice,omitempty"`
}

type ApplicationDTO struct {
	ID           string  `json:"id"`
	EmployeeID   string  `json:"employee_id"`
	LeaveTypeID  string  `json:"leave_type_id"`
	StartDate    string  `json:"start_date"`
	EndDate      string  `json:"end_date"`
	BusinessDays float64 `json:"business_days"`
	Status       string  `json:"status"`
	Reason       string  `json:"reason,omitempty"`
	DocumentRef  string  `json:"document_ref,omitempty"`
	DecidedBy    string  `json:"decided_by,omitempty"`
	Comments     string  `json:"comments,omitempty"`
	DecidedAt    string  `json:"decided_at,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

type ValidationResultDTO struct {
	Valid        bool                  `json:"valid"`
	BusinessDays float64               `json:"business_days"`
	Failure      *ValidationFailureDTO `json:"failure,omitempty"`
}

// ValidationFailureDTO carries the fields relevant to Code only.
type ValidationFailureDTO struct {
	Code            string          `json:"code"`
	Message         string          `json:"message"`
	Today           string          `json:"today,omitempty"`
	NoticeDays      *int            `json:"notice_days,omitempty"`
	MinDaysNotice   *int            `json:"min_days_notice,omitempty"`
	Conflict        *ApplicationDTO `json:"conflict,omitempty"`
	NonBusinessDays []string        `json:"non_business_days,omitempty"`
	Available       *float64        `json:"available,omitempty"`
	Requested       *float64        `json:"requested,omitempty"`
}

type DecisionRequest struct {
	DecidedBy string `json:"decided_by"`
	Comments  string `json:"comments"`
}

type WithdrawRequest struct {
	Actor string `json:"actor"`
}

// =============================================================================
// ADMIN
// =============================================================================

type AdjustmentRequest struct {
	EmployeeID  string  `json:"employee_id"`
	LeaveTypeID string  `json:"leave_type_id"`
	Year        int     `json:"year"`
	Type        string  `json:"type"`
	Amount      float64 `json:"amount"`
	Reason      string  `json:"reason"`
	Actor       string  `json:"actor"`
}

type AdjustmentResultDTO struct {
	Balance BalanceDTO    `json:"balance"`
	Audit   AuditEntryDTO `json:"audit"`
	Clamped bool          `json:"clamped"`
}

type AuditEntryDTO struct {
	ID             string  `json:"id"`
	EmployeeID     string  `json:"employee_id"`
	LeaveTypeID    string  `json:"leave_type_id"`
	Year           int     `json:"year"`
	AdjustmentType string  `json:"adjustment_type"`
	Field          string  `json:"field"`
	Amount         float64 `json:"amount"`
	PreviousValue  float64 `json:"previous_value"`
	NewValue       float64 `json:"new_value"`
	Reason         string  `json:"reason,omitempty"`
	Actor          string  `json:"actor"`
	ApplicationID  string  `json:"application_id,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

// CarryOverRequest triggers one batch. Force runs it even when a run for
// the same leave type and year is already recorded.
type CarryOverRequest struct {
	LeaveTypeID string `json:"leave_type_id"`
	FromYear    int    `json:"from_year"`
	Actor       string `json:"actor"`
	ApprovedBy  string `json:"approved_by"`
	Parallelism int    `json:"parallelism"`
	Force       bool   `json:"force"`
}

type CarryOverTransferDTO struct {
	EmployeeID string  `json:"employee_id"`
	Remaining  float64 `json:"remaining"`
	Amount     float64 `json:"amount"`
	AuditID    string  `json:"audit_id"`
}

type CarryOverFailureDTO struct {
	EmployeeID string `json:"employee_id"`
	Error      string `json:"error"`
}

type CarryOverReportDTO struct {
	LeaveTypeID string                 `json:"leave_type_id"`
	FromYear    int                    `json:"from_year"`
	ToYear      int                    `json:"to_year"`
	Rule        CarryOverRuleDTO       `json:"rule"`
	Scanned     int                    `json:"scanned"`
	Transferred int                    `json:"transferred"`
	Skipped     int                    `json:"skipped"`
	TotalDays   float64                `json:"total_days"`
	Transfers   []CarryOverTransferDTO `json:"transfers"`
	Failures    []CarryOverFailureDTO  `json:"failures"`
}

type YearEndRunDTO struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	LeaveTypeID string `json:"leave_type_id,omitempty"`
	Year        int    `json:"year"`
	Processed   int    `json:"processed"`
	Failed      int    `json:"failed"`
	Actor       string `json:"actor,omitempty"`
	StartedAt   string `json:"started_at"`
	FinishedAt  string `json:"finished_at"`
}

// =============================================================================
// ANALYTICS
// =============================================================================

type KeyCountDTO struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type UsageReportDTO struct {
	From             string         `json:"from"`
	To               string         `json:"to"`
	Applications     int            `json:"applications"`
	ByStatus         map[string]int `json:"by_status"`
	TotalDays        float64        `json:"total_days"`
	ApprovedDays     float64        `json:"approved_days"`
	MostPopular      string         `json:"most_popular,omitempty"`
	MostPopularCount int            `json:"most_popular_count"`
	PeakMonths       []KeyCountDTO  `json:"peak_months"`
}

type BalanceRollupDTO struct {
	LeaveTypeID string  `json:"leave_type_id,omitempty"`
	Name        string  `json:"name,omitempty"`
	Rows        int     `json:"rows"`
	Allocated   float64 `json:"allocated"`
	Used        float64 `json:"used"`
	Remaining   float64 `json:"remaining"`
	Utilization float64 `json:"utilization"`
}

type BalanceReportDTO struct {
	Year        int                `json:"year"`
	EmployeeID  string             `json:"employee_id,omitempty"`
	Totals      BalanceRollupDTO   `json:"totals"`
	ByLeaveType []BalanceRollupDTO `json:"by_leave_type"`
}

type TrendBucketDTO struct {
	Key           string  `json:"key"`
	From          string  `json:"from"`
	To            string  `json:"to"`
	Applications  int     `json:"applications"`
	RequestedDays float64 `json:"requested_days"`
	ApprovedDays  float64 `json:"approved_days"`
	ApprovalRate  float64 `json:"approval_rate"`
}

type CalendarEntryDTO struct {
	Date          string `json:"date"`
	EmployeeID    string `json:"employee_id"`
	LeaveTypeID   string `json:"leave_type_id"`
	ApplicationID string `json:"application_id"`
}

// =============================================================================
// HOLIDAYS & ERRORS
// =============================================================================

type HolidayDTO struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	Date      string `json:"date"`
	Name      string `json:"name"`
	Recurring bool   `json:"recurring"`
}

type CreateHolidayRequest struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	Date      string `json:"date"`
	Name      string `json:"name"`
	Recurring bool   `json:"recurring"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func days(a generic.Amount) float64 { return a.Float64() }

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toLeaveTypeDTO(lt leave.LeaveType) LeaveTypeDTO {
	return LeaveTypeDTO{
		ID:                    string(lt.ID),
		Name:                  lt.Name,
		DefaultAllocation:     days(lt.DefaultAllocation),
		RequiresDocumentation: lt.RequiresDocumentation,
		Active:                lt.Active,
	}
}

func toCarryOverRuleDTO(r leave.CarryOverRule) CarryOverRuleDTO {
	return CarryOverRuleDTO{
		LeaveTypeID:      string(r.LeaveTypeID),
		MaxCarryOver:     days(r.MaxCarryOver),
		ExpiryMonths:     r.ExpiryMonths,
		RequiresApproval: r.RequiresApproval,
	}
}

func toEmployeeDTO(e leave.Employee) EmployeeDTO {
	dto := EmployeeDTO{
		ID:             string(e.ID),
		Name:           e.Name,
		Email:          e.Email,
		EmploymentType: string(e.EmploymentType),
		Active:         e.Active,
	}
	if !e.HireDate.IsZero() {
		dto.HireDate = e.HireDate.String()
	}
	return dto
}

func toBalanceDTO(b leave.LeaveBalance) BalanceDTO {
	return BalanceDTO{
		EmployeeID:  string(b.EmployeeID),
		LeaveTypeID: string(b.LeaveTypeID),
		Year:        b.Year,
		TotalDays:   days(b.TotalDays),
		UsedDays:    days(b.UsedDays),
		Remaining:   days(b.Remaining()),
		Overdrawn:   b.Overdrawn(),
		Version:     b.Version,
	}
}

func toApplicationDTO(a leave.LeaveApplication) ApplicationDTO {
	dto := ApplicationDTO{
		ID:           string(a.ID),
		EmployeeID:   string(a.EmployeeID),
		LeaveTypeID:  string(a.LeaveTypeID),
		StartDate:    a.Start.String(),
		EndDate:      a.End.String(),
		BusinessDays: days(a.BusinessDays),
		Status:       string(a.Status),
		Reason:       a.Reason,
		DocumentRef:  a.DocumentRef,
		DecidedBy:    a.DecidedBy,
		Comments:     a.Comments,
		CreatedAt:    formatTime(a.CreatedAt),
		UpdatedAt:    formatTime(a.UpdatedAt),
	}
	if a.DecidedAt != nil {
		dto.DecidedAt = formatTime(*a.DecidedAt)
	}
	return dto
}

func toValidationFailureDTO(v *leave.ValidationError) *ValidationFailureDTO {
	dto := &ValidationFailureDTO{Code: string(v.Code), Message: v.Message}
	d := v.Detail
	switch v.Code {
	case leave.CodeBackdated:
		dto.Today = d.Today.String()
	case leave.CodeInsufficientNotice:
		dto.Today = d.Today.String()
		notice, minNotice := d.NoticeDays, d.MinDaysNotice
		dto.NoticeDays, dto.MinDaysNotice = &notice, &minNotice
	case leave.CodeOverlapping:
		if d.Conflict != nil {
			conflict := toApplicationDTO(*d.Conflict)
			dto.Conflict = &conflict
		}
	case leave.CodeNonBusinessDay:
		for _, nb := range d.NonBusinessDays {
			dto.NonBusinessDays = append(dto.NonBusinessDays, nb.String())
		}
	case leave.CodeInsufficientBal:
		available, requested := days(d.Available), days(d.Requested)
		dto.Available, dto.Requested = &available, &requested
	}
	return dto
}

func toAuditEntryDTO(e leave.BalanceAuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:             e.ID,
		EmployeeID:     string(e.EmployeeID),
		LeaveTypeID:    string(e.LeaveTypeID),
		Year:           e.Year,
		AdjustmentType: string(e.AdjustmentType),
		Field:          string(e.Field),
		Amount:         days(e.Amount),
		PreviousValue:  days(e.PreviousValue),
		NewValue:       days(e.NewValue),
		Reason:         e.Reason,
		Actor:          e.Actor,
		ApplicationID:  string(e.ApplicationID),
		CreatedAt:      formatTime(e.CreatedAt),
	}
}

func toCarryOverReportDTO(r leave.CarryOverReport) CarryOverReportDTO {
	dto := CarryOverReportDTO{
		LeaveTypeID: string(r.LeaveTypeID),
		FromYear:    r.FromYear,
		ToYear:      r.ToYear,
		Rule:        toCarryOverRuleDTO(r.Rule),
		Scanned:     r.Scanned,
		Transferred: r.Transferred,
		Skipped:     r.Skipped,
		TotalDays:   days(r.TotalDays),
		Transfers:   make([]CarryOverTransferDTO, 0, len(r.Transfers)),
		Failures:    make([]CarryOverFailureDTO, 0, len(r.Failures)),
	}
	for _, t := range r.Transfers {
		dto.Transfers = append(dto.Transfers, CarryOverTransferDTO{
			EmployeeID: string(t.EmployeeID),
			Remaining:  days(t.Remaining),
			Amount:     days(t.Amount),
			AuditID:    t.AuditID,
		})
	}
	for _, f := range r.Failures {
		dto.Failures = append(dto.Failures, CarryOverFailureDTO{EmployeeID: string(f.EmployeeID), Error: f.Err.Error()})
	}
	return dto
}

func toYearEndRunDTO(r leave.YearEndRun) YearEndRunDTO {
	return YearEndRunDTO{
		ID:          r.ID,
		Kind:        string(r.Kind),
		LeaveTypeID: string(r.LeaveTypeID),
		Year:        r.Year,
		Processed:   r.Processed,
		Failed:      r.Failed,
		Actor:       r.Actor,
		StartedAt:   formatTime(r.StartedAt),
		FinishedAt:  formatTime(r.FinishedAt),
	}
}

func toBalanceRollupDTO(r leave.BalanceRollup) BalanceRollupDTO {
	utilization, _ := r.Utilization.Float64()
	return BalanceRollupDTO{
		LeaveTypeID: string(r.LeaveTypeID),
		Name:        r.Name,
		Rows:        r.Rows,
		Allocated:   days(r.Allocated),
		Used:        days(r.Used),
		Remaining:   days(r.Remaining),
		Utilization: utilization,
	}
}

func toHolidayDTO(h generic.Holiday) HolidayDTO {
	return HolidayDTO{
		ID:        h.ID,
		CompanyID: h.CompanyID,
		Date:      h.Date.String(),
		Name:      h.Name,
		Recurring: h.Recurring,
	}
}
