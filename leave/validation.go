/*
validation.go - Fail-fast validation of a proposed leave application

PURPOSE:
  Decides whether an application may be accepted, producing either nil or
  the single first failure. The pipeline only reads: overlap query,
  calendar query and balance read. It never writes.

CHECK ORDER (fixed):
  1. not_backdated   start >= today
  2. notice_period   start - today >= min days notice
  3. no_overlap      no pending/approved application intersects [start,end]
  4. business_days   every date in [start,end] is a business day
  5. balance         remaining(year of start) >= business days

  Each check can be skipped through ValidationOptions. Administrative
  override flows skip some checks and keep the rest.

FAILURES:
  Rule violations return *ValidationError. A failed collaborator read
  returns *UnavailableError so the caller can retry; nothing is ever
  partially committed.

SEE ALSO:
  - errors.go: ValidationError, UnavailableError
  - application.go: Submit/Update run this before persisting
*/
package leave

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/leave-engine/generic"
)

// DefaultMinDaysNotice applies when neither the pipeline nor the options set one.
const DefaultMinDaysNotice = 2

// Proposal is the application under validation.
type Proposal struct {
	EmployeeID   EmployeeID
	LeaveTypeID  LeaveTypeID
	Start        generic.TimePoint
	End          generic.TimePoint
	BusinessDays generic.Amount
}

func (p Proposal) Period() generic.Period { return generic.Period{Start: p.Start, End: p.End} }

func (p Proposal) BalanceKey() BalanceKey {
	return BalanceKey{EmployeeID: p.EmployeeID, LeaveTypeID: p.LeaveTypeID, Year: p.Start.Year()}
}

// ValidationOptions selects which checks run.
type ValidationOptions struct {
	SkipBackdate     bool
	SkipNotice       bool
	SkipOverlap      bool
	SkipBusinessDays bool
	SkipBalance      bool

	// MinDaysNotice overrides the pipeline default when set.
	MinDaysNotice *int

	// ExcludeApplicationID removes the application being edited from the overlap check.
	ExcludeApplicationID ApplicationID
}

// =============================================================================
// PIPELINE
// =============================================================================

type Pipeline struct {
	Catalog       CatalogStore
	Applications  ApplicationStore
	Ledger        *Ledger
	Calendar      CalendarGateway
	Directory     Directory // optional
	Clock         generic.Clock
	MinDaysNotice int
}

func NewPipeline(store Store, ledger *Ledger, calendar CalendarGateway, clock generic.Clock) *Pipeline {
	return &Pipeline{
		Catalog:       store,
		Applications:  store,
		Ledger:        ledger,
		Calendar:      calendar,
		Clock:         clock,
		MinDaysNotice: DefaultMinDaysNotice,
	}
}

// validation is the state shared by the checks of one run.
type validation struct {
	proposal Proposal
	opts     ValidationOptions
	today    generic.TimePoint
}

type check struct {
	name    string
	skipped func(ValidationOptions) bool
	run     func(context.Context, *validation) error
}

func (p *Pipeline) checks() []check {
	return []check{
		{"not_backdated", func(o ValidationOptions) bool { return o.SkipBackdate }, p.checkNotBackdated},
		{"notice_period", func(o ValidationOptions) bool { return o.SkipNotice }, p.checkNotice},
		{"no_overlap", func(o ValidationOptions) bool { return o.SkipOverlap }, p.checkOverlap},
		{"business_days", func(o ValidationOptions) bool { return o.SkipBusinessDays }, p.checkBusinessDays},
		{"balance", func(o ValidationOptions) bool { return o.SkipBalance }, p.checkBalance},
	}
}

// runChecks evaluates checks in order and returns the first failure.
func runChecks(ctx context.Context, checks []check, v *validation) error {
	for _, c := range checks {
		if c.skipped(v.opts) {
			continue
		}
		if err := c.run(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

// Validate returns nil when the proposal passes every enabled check.
func (p *Pipeline) Validate(ctx context.Context, proposal Proposal, opts ValidationOptions) error {
	if err := p.precheck(ctx, proposal); err != nil {
		return err
	}
	v := &validation{proposal: proposal, opts: opts, today: generic.Today(p.Clock)}
	return runChecks(ctx, p.checks(), v)
}

// precheck rejects malformed proposals and integrity problems before any rule runs.
func (p *Pipeline) precheck(ctx context.Context, prop Proposal) error {
	if prop.Start.IsZero() || prop.End.IsZero() {
		return fmt.Errorf("%w: start and end dates are required", ErrInvalidApplication)
	}
	if _, err := generic.NewPeriod(prop.Start, prop.End); err != nil {
		return err
	}
	// A zero-day range is left to the business-day check.
	if prop.BusinessDays.IsNegative() {
		return fmt.Errorf("%w: business days must not be negative", ErrInvalidApplication)
	}

	lt, err := p.Catalog.GetLeaveType(ctx, prop.LeaveTypeID)
	switch {
	case errors.Is(err, generic.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrUnknownLeaveType, prop.LeaveTypeID)
	case err != nil:
		return &UnavailableError{Check: "leave_type", Err: err}
	case !lt.Active:
		return fmt.Errorf("%w: %s is inactive", ErrUnknownLeaveType, prop.LeaveTypeID)
	}

	if p.Directory != nil {
		ok, err := p.Directory.EmployeeExists(ctx, prop.EmployeeID)
		if err != nil {
			return &UnavailableError{Check: "directory", Err: err}
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrEmployeeNotFound, prop.EmployeeID)
		}
	}
	return nil
}

// =============================================================================
// CHECKS
// =============================================================================

func (p *Pipeline) checkNotBackdated(_ context.Context, v *validation) error {
	if v.proposal.Start.Before(v.today) {
		return backdated(v.today, v.proposal.Start)
	}
	return nil
}

func (p *Pipeline) checkNotice(_ context.Context, v *validation) error {
	minNotice := p.MinDaysNotice
	if v.opts.MinDaysNotice != nil {
		minNotice = *v.opts.MinDaysNotice
	}
	notice := generic.DaysBetween(v.today, v.proposal.Start)
	if notice < minNotice {
		return insufficientNotice(v.today, v.proposal.Start, notice, minNotice)
	}
	return nil
}

func (p *Pipeline) checkOverlap(ctx context.Context, v *validation) error {
	existing, err := p.Applications.FindOverlapping(ctx, v.proposal.EmployeeID, v.proposal.Period(), v.opts.ExcludeApplicationID)
	if err != nil {
		return &UnavailableError{Check: "no_overlap", Err: err}
	}
	for _, a := range existing {
		if a.ID == v.opts.ExcludeApplicationID || !a.Status.Blocking() {
			continue
		}
		if a.Period().Overlaps(v.proposal.Period()) {
			return overlapping(a)
		}
	}
	return nil
}

func (p *Pipeline) checkBusinessDays(ctx context.Context, v *validation) error {
	if p.Calendar == nil {
		return &UnavailableError{Check: "business_days", Err: errors.New("no calendar gateway configured")}
	}
	holidays, err := p.Calendar.HolidaysInRange(ctx, v.proposal.Start, v.proposal.End)
	if err != nil {
		return &UnavailableError{Check: "business_days", Err: err}
	}

	var offending []NonBusinessDay
	for _, day := range v.proposal.Period().Days() {
		ok, err := p.Calendar.IsBusinessDay(ctx, day)
		if err != nil {
			return &UnavailableError{Check: "business_days", Err: err}
		}
		if ok {
			continue
		}
		nb := NonBusinessDay{Date: day, Weekend: day.IsWeekend()}
		for _, h := range holidays {
			if h.OccursOn(day) {
				nb.Holiday = h.Name
				break
			}
		}
		offending = append(offending, nb)
	}
	if len(offending) > 0 {
		return nonBusinessDays(offending)
	}
	return nil
}

func (p *Pipeline) checkBalance(ctx context.Context, v *validation) error {
	b, err := p.Ledger.Current(ctx, v.proposal.BalanceKey())
	if errors.Is(err, ErrUnknownLeaveType) {
		return err
	}
	if err != nil {
		return &UnavailableError{Check: "balance", Err: err}
	}
	available := b.Remaining()
	if available.LessThan(v.proposal.BusinessDays) {
		return insufficientBalance(available, v.proposal.BusinessDays)
	}
	return nil
}
