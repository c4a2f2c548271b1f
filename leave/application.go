/*
application.go - Leave application lifecycle

PURPOSE:
  The surrounding service's view of applications: submit, edit, withdraw
  and decide. Every entry point that creates or changes dates runs the
  validation pipeline first; approval records usage on the ledger.

STATE MACHINE:
  pending ──▶ approved   (terminal, usage recorded)
          ──▶ rejected   (terminal)
          ──▶ withdrawn  (terminal, by the employee)

  Only pending applications can be edited, withdrawn or decided. There is
  no reopening.

APPROVAL:
  Decide(approve) flips the status and adds BusinessDays to UsedDays in one
  store transaction. It does not re-run validation, so a balance that
  shrank since submission can go overdrawn (see adjustment.go).

SEE ALSO:
  - validation.go: Pipeline run by Submit and Update
  - adjustment.go: recordUsageIn performs the ledger write
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/warp/leave-engine/generic"
)

// Draft is the employee-supplied part of an application.
// Zero BusinessDays is computed from the calendar.
type Draft struct {
	EmployeeID   EmployeeID
	LeaveTypeID  LeaveTypeID
	Start        generic.TimePoint
	End          generic.TimePoint
	BusinessDays generic.Amount
	Reason       string
	DocumentRef  string
}

func (d Draft) proposal() Proposal {
	return Proposal{
		EmployeeID:   d.EmployeeID,
		LeaveTypeID:  d.LeaveTypeID,
		Start:        d.Start,
		End:          d.End,
		BusinessDays: d.BusinessDays,
	}
}

type Decision struct {
	Approve   bool
	DecidedBy string
	Comments  string
}

// =============================================================================
// APPLICATION SERVICE
// =============================================================================

type ApplicationService struct {
	Store       TxStore
	Pipeline    *Pipeline
	Adjustments *AdjustmentService
	Calendar    CalendarGateway
	Notifier    Notifier
	Clock       generic.Clock
	Logger      *slog.Logger
}

func NewApplicationService(store TxStore, pipeline *Pipeline, adjustments *AdjustmentService, notifier Notifier) *ApplicationService {
	return &ApplicationService{
		Store:       store,
		Pipeline:    pipeline,
		Adjustments: adjustments,
		Calendar:    pipeline.Calendar,
		Notifier:    notifier,
		Clock:       pipeline.Clock,
		Logger:      adjustments.Logger,
	}
}

// BusinessDays counts business days in [start, end] per the calendar gateway.
func (s *ApplicationService) BusinessDays(ctx context.Context, start, end generic.TimePoint) (int, error) {
	period, err := generic.NewPeriod(start, end)
	if err != nil {
		return 0, err
	}
	if s.Calendar == nil {
		return 0, &UnavailableError{Check: "business_days", Err: errors.New("no calendar gateway configured")}
	}
	n, err := CountBusinessDays(ctx, s.Calendar, period)
	if err != nil {
		return 0, &UnavailableError{Check: "business_days", Err: err}
	}
	return n, nil
}

// Submit validates the draft and stores it as a pending application.
func (s *ApplicationService) Submit(ctx context.Context, d Draft, opts ValidationOptions) (LeaveApplication, error) {
	d, err := s.prepare(ctx, d)
	if err != nil {
		return LeaveApplication{}, err
	}
	if err := s.Pipeline.Validate(ctx, d.proposal(), opts); err != nil {
		return LeaveApplication{}, err
	}
	if err := s.checkDocumentation(ctx, d); err != nil {
		return LeaveApplication{}, err
	}

	ts := now(s.Clock)
	app := LeaveApplication{
		ID:           ApplicationID(uuid.NewString()),
		EmployeeID:   d.EmployeeID,
		LeaveTypeID:  d.LeaveTypeID,
		Start:        d.Start,
		End:          d.End,
		BusinessDays: d.BusinessDays,
		Status:       StatusPending,
		Reason:       d.Reason,
		DocumentRef:  d.DocumentRef,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	if err := s.Store.SaveApplication(ctx, app); err != nil {
		return LeaveApplication{}, fmt.Errorf("save application: %w", err)
	}

	s.emitApplication(ctx, EventApplicationReceived, app)
	return app, nil
}

// Update replaces the dates and details of a pending application and
// revalidates it against everything but itself.
func (s *ApplicationService) Update(ctx context.Context, id ApplicationID, d Draft, opts ValidationOptions) (LeaveApplication, error) {
	app, err := s.Get(ctx, id)
	if err != nil {
		return LeaveApplication{}, err
	}
	if app.Status != StatusPending {
		return LeaveApplication{}, fmt.Errorf("%w: %s is %s", ErrApplicationNotPending, id, app.Status)
	}

	// The owner and leave type come from the stored application.
	d.EmployeeID = app.EmployeeID
	if d.LeaveTypeID == "" {
		d.LeaveTypeID = app.LeaveTypeID
	}
	d, err = s.prepare(ctx, d)
	if err != nil {
		return LeaveApplication{}, err
	}
	opts.ExcludeApplicationID = id
	if err := s.Pipeline.Validate(ctx, d.proposal(), opts); err != nil {
		return LeaveApplication{}, err
	}
	if err := s.checkDocumentation(ctx, d); err != nil {
		return LeaveApplication{}, err
	}

	app.LeaveTypeID = d.LeaveTypeID
	app.Start = d.Start
	app.End = d.End
	app.BusinessDays = d.BusinessDays
	app.Reason = d.Reason
	app.DocumentRef = d.DocumentRef
	app.UpdatedAt = now(s.Clock)
	if err := s.Store.SaveApplication(ctx, app); err != nil {
		return LeaveApplication{}, fmt.Errorf("save application: %w", err)
	}
	return app, nil
}

// Withdraw is the employee cancelling a pending application.
func (s *ApplicationService) Withdraw(ctx context.Context, id ApplicationID, actor string) (LeaveApplication, error) {
	app, err := s.Get(ctx, id)
	if err != nil {
		return LeaveApplication{}, err
	}
	if app.Status != StatusPending {
		return LeaveApplication{}, fmt.Errorf("%w: %s is %s", ErrApplicationNotPending, id, app.Status)
	}
	ts := now(s.Clock)
	app.Status = StatusWithdrawn
	app.DecidedBy = actor
	app.DecidedAt = &ts
	app.UpdatedAt = ts
	if err := s.Store.SaveApplication(ctx, app); err != nil {
		return LeaveApplication{}, fmt.Errorf("save application: %w", err)
	}
	return app, nil
}

// Decide approves or rejects a pending application. Approval records the
// usage in the same transaction as the status change.
func (s *ApplicationService) Decide(ctx context.Context, id ApplicationID, dec Decision) (LeaveApplication, error) {
	if dec.DecidedBy == "" {
		return LeaveApplication{}, fmt.Errorf("%w: decided by is required", ErrInvalidApplication)
	}

	type decided struct {
		app   LeaveApplication
		usage *AdjustmentResult
	}
	out, err := withRetry(ctx, s.Adjustments.Ledger.MaxRetries, func() (decided, error) {
		var out decided
		err := s.Store.WithTx(ctx, func(tx Store) error {
			app, err := getApplication(ctx, tx, id)
			if err != nil {
				return err
			}
			if app.Status != StatusPending {
				return fmt.Errorf("%w: %s is %s", ErrApplicationNotPending, id, app.Status)
			}

			ts := now(s.Clock)
			app.Status = StatusRejected
			if dec.Approve {
				app.Status = StatusApproved
			}
			app.DecidedBy = dec.DecidedBy
			app.Comments = dec.Comments
			app.DecidedAt = &ts
			app.UpdatedAt = ts
			if err := tx.SaveApplication(ctx, app); err != nil {
				return fmt.Errorf("save application: %w", err)
			}
			out.app = app

			if dec.Approve {
				res, err := s.Adjustments.recordUsageIn(ctx, tx, app, dec.DecidedBy)
				if err != nil {
					return err
				}
				out.usage = &res
			}
			return nil
		})
		return out, err
	})
	if err != nil {
		return LeaveApplication{}, err
	}

	if out.usage != nil {
		s.Adjustments.emitAdjusted(ctx, *out.usage)
	}
	s.emitApplication(ctx, EventApplicationDecided, out.app)
	return out.app, nil
}

func (s *ApplicationService) Get(ctx context.Context, id ApplicationID) (LeaveApplication, error) {
	return getApplication(ctx, s.Store, id)
}

func (s *ApplicationService) List(ctx context.Context, filter ApplicationFilter) ([]LeaveApplication, error) {
	return s.Store.ListApplications(ctx, filter)
}

func getApplication(ctx context.Context, store ApplicationStore, id ApplicationID) (LeaveApplication, error) {
	app, err := store.GetApplication(ctx, id)
	if errors.Is(err, generic.ErrNotFound) {
		return LeaveApplication{}, fmt.Errorf("%w: %s", ErrApplicationNotFound, id)
	}
	if err != nil {
		return LeaveApplication{}, fmt.Errorf("read application %s: %w", id, err)
	}
	return app, nil
}

// prepare fills BusinessDays from the calendar when the draft leaves it zero.
func (s *ApplicationService) prepare(ctx context.Context, d Draft) (Draft, error) {
	if d.EmployeeID == "" || d.LeaveTypeID == "" {
		return d, fmt.Errorf("%w: employee and leave type are required", ErrInvalidApplication)
	}
	if d.Start.IsZero() || d.End.IsZero() {
		return d, fmt.Errorf("%w: start and end dates are required", ErrInvalidApplication)
	}
	if !d.BusinessDays.IsZero() {
		return d, nil
	}
	n, err := s.BusinessDays(ctx, d.Start, d.End)
	if err != nil {
		return d, err
	}
	d.BusinessDays = generic.Days(float64(n))
	return d, nil
}

func (s *ApplicationService) checkDocumentation(ctx context.Context, d Draft) error {
	lt, err := s.Store.GetLeaveType(ctx, d.LeaveTypeID)
	if err != nil {
		return fmt.Errorf("read leave type %s: %w", d.LeaveTypeID, err)
	}
	if lt.RequiresDocumentation && d.DocumentRef == "" {
		return fmt.Errorf("%w: %s", ErrDocumentationRequired, lt.Name)
	}
	return nil
}

func (s *ApplicationService) emitApplication(ctx context.Context, t EventType, app LeaveApplication) {
	emit(ctx, s.Notifier, s.Logger, s.Clock, Event{
		Type:          t,
		EmployeeID:    app.EmployeeID,
		LeaveTypeID:   app.LeaveTypeID,
		Year:          app.Start.Year(),
		ApplicationID: app.ID,
		Payload: map[string]any{
			"status":        string(app.Status),
			"start":         app.Start.String(),
			"end":           app.End.String(),
			"business_days": app.BusinessDays.String(),
			"decided_by":    app.DecidedBy,
			"comments":      app.Comments,
		},
	})
}
