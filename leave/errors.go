/*
errors.go - Error taxonomy for the leave engine

ERROR CATEGORIES:
  1. Validation failures - the request was invalid. Expected, user-facing,
     carry a message plus structured detail. Never logged as errors.
  2. Collaborator failures - a store or calendar read failed during
     validation. Surfaced as one UnavailableError, safe to retry.
  3. Integrity failures - unknown leave type, missing employee. The system
     is misconfigured, not the request.
  4. Lifecycle failures - the application is in the wrong state.

USAGE:
  err := pipeline.Validate(ctx, proposal, opts)
  var verr *leave.ValidationError
  switch {
  case errors.As(err, &verr):
      // show verr.Message
  case leave.IsRetryable(err):
      // try again later
  case leave.IsIntegrityError(err):
      // page someone
  }

SEE ALSO:
  - generic/errors.go: Store-level sentinels
  - api/handlers.go: HTTP status mapping
*/
package leave

import (
	"errors"
	"fmt"
	"strings"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidationFailed matches every *ValidationError.
	ErrValidationFailed = errors.New("leave application is invalid")

	ErrBackdated           = errors.New("backdated application")
	ErrInsufficientNotice  = errors.New("insufficient notice")
	ErrOverlapping         = errors.New("overlapping application")
	ErrNonBusinessDay      = errors.New("non-business day included")
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrValidationUnavailable matches every *UnavailableError.
	ErrValidationUnavailable = errors.New("validation unavailable")

	// ErrUnknownLeaveType is an integrity error: the leave type id is not in the catalog.
	ErrUnknownLeaveType = errors.New("unknown leave type")

	// ErrEmployeeNotFound is an integrity error: the directory has no such employee.
	ErrEmployeeNotFound = errors.New("employee not found")

	ErrApplicationNotFound    = errors.New("application not found")
	ErrApplicationNotPending  = errors.New("application is not pending")
	ErrApplicationNotApproved = errors.New("application is not approved")
	ErrUsageAlreadyRecorded   = errors.New("usage already recorded for application")
	ErrDocumentationRequired  = errors.New("leave type requires supporting documentation")

	ErrInvalidAdjustment    = errors.New("invalid adjustment")
	ErrInvalidApplication   = errors.New("invalid application")
	ErrInvalidQuery         = errors.New("invalid analytics query")
	ErrCarryOverNotApproved = errors.New("carry-over rule requires approval")
	ErrNoCarryOverRule      = errors.New("no carry-over rule for leave type")
)

// =============================================================================
// VALIDATION FAILURES
// =============================================================================

type FailureCode string

const (
	CodeBackdated          FailureCode = "backdated_application"
	CodeInsufficientNotice FailureCode = "insufficient_notice"
	CodeOverlapping        FailureCode = "overlapping_application"
	CodeNonBusinessDay     FailureCode = "non_business_day_included"
	CodeInsufficientBal    FailureCode = "insufficient_balance"
)

var codeSentinels = map[FailureCode]error{
	CodeBackdated:          ErrBackdated,
	CodeInsufficientNotice: ErrInsufficientNotice,
	CodeOverlapping:        ErrOverlapping,
	CodeNonBusinessDay:     ErrNonBusinessDay,
	CodeInsufficientBal:    ErrInsufficientBalance,
}

// NonBusinessDay names one offending date. Holiday is empty for weekends.
type NonBusinessDay struct {
	Date    generic.TimePoint
	Weekend bool
	Holiday string
}

func (d NonBusinessDay) String() string {
	switch {
	case d.Holiday != "":
		return fmt.Sprintf("%s (%s)", d.Date, d.Holiday)
	case d.Weekend:
		return fmt.Sprintf("%s (weekend)", d.Date)
	default:
		return d.Date.String()
	}
}

// FailureDetail carries the structured data behind a validation failure.
// Only the fields relevant to the failure code are set.
type FailureDetail struct {
	Today         generic.TimePoint
	Start         generic.TimePoint
	MinDaysNotice int
	NoticeDays    int

	Conflict *LeaveApplication

	NonBusinessDays []NonBusinessDay

	Available generic.Amount
	Requested generic.Amount
}

// ValidationError is an expected, user-facing rejection.
type ValidationError struct {
	Code    FailureCode
	Message string
	Detail  FailureDetail
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches ErrValidationFailed and the code's own sentinel.
func (e *ValidationError) Is(target error) bool {
	if target == ErrValidationFailed {
		return true
	}
	return codeSentinels[e.Code] == target
}

func backdated(today, start generic.TimePoint) *ValidationError {
	return &ValidationError{
		Code:    CodeBackdated,
		Message: fmt.Sprintf("start date %s is before today (%s)", start, today),
		Detail:  FailureDetail{Today: today, Start: start},
	}
}

func insufficientNotice(today, start generic.TimePoint, notice, minNotice int) *ValidationError {
	return &ValidationError{
		Code: CodeInsufficientNotice,
		Message: fmt.Sprintf("applications need %d days notice; %s is only %d days away",
			minNotice, start, notice),
		Detail: FailureDetail{Today: today, Start: start, NoticeDays: notice, MinDaysNotice: minNotice},
	}
}

func overlapping(conflict LeaveApplication) *ValidationError {
	return &ValidationError{
		Code: CodeOverlapping,
		Message: fmt.Sprintf("overlaps %s application %s for %s to %s",
			conflict.Status, conflict.ID, conflict.Start, conflict.End),
		Detail: FailureDetail{Conflict: &conflict},
	}
}

func nonBusinessDays(days []NonBusinessDay) *ValidationError {
	names := make([]string, len(days))
	for i, d := range days {
		names[i] = d.String()
	}
	return &ValidationError{
		Code:    CodeNonBusinessDay,
		Message: "range includes non-business days: " + strings.Join(names, ", "),
		Detail:  FailureDetail{NonBusinessDays: days},
	}
}

func insufficientBalance(available, requested generic.Amount) *ValidationError {
	return &ValidationError{
		Code: CodeInsufficientBal,
		Message: fmt.Sprintf("insufficient balance: available %s days, requested %s days",
			available, requested),
		Detail: FailureDetail{Available: available, Requested: requested},
	}
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// UnavailableError wraps a collaborator failure observed during validation.
type UnavailableError struct {
	Check string
	Err   error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("validation unavailable during %s: %v", e.Check, e.Err)
}

func (e *UnavailableError) Unwrap() []error {
	return []error{ErrValidationUnavailable, e.Err}
}

// InsufficientBalanceError is returned by checked ledger usage.
type InsufficientBalanceError struct {
	Key       BalanceKey
	Available generic.Amount
	Requested generic.Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %s, requested %s",
		e.Key, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// CarryOverFailure is one employee's failed transfer. Failures never abort a batch.
type CarryOverFailure struct {
	EmployeeID EmployeeID
	Err        error
}

func (f CarryOverFailure) Error() string {
	return fmt.Sprintf("carry-over for %s: %v", f.EmployeeID, f.Err)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrValidationUnavailable) ||
		errors.Is(err, generic.ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidationFailed) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidAdjustment) ||
		errors.Is(err, ErrInvalidApplication) ||
		errors.Is(err, ErrInvalidQuery) ||
		errors.Is(err, ErrDocumentationRequired) ||
		errors.Is(err, generic.ErrInvalidPeriod)
}

// IsIntegrityError returns true when the failure points at configuration or
// catalog data rather than at the request.
func IsIntegrityError(err error) bool {
	return errors.Is(err, ErrUnknownLeaveType) ||
		errors.Is(err, ErrEmployeeNotFound)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrApplicationNotFound) ||
		errors.Is(err, ErrNoCarryOverRule) ||
		errors.Is(err, generic.ErrNotFound)
}

// IsConflict returns true if the operation clashed with current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrApplicationNotPending) ||
		errors.Is(err, ErrApplicationNotApproved) ||
		errors.Is(err, ErrUsageAlreadyRecorded) ||
		errors.Is(err, ErrCarryOverNotApproved) ||
		errors.Is(err, generic.ErrConcurrentModification)
}
