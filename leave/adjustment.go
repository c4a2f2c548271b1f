/*
adjustment.go - The only writer to the ledger outside bulk initialization

PURPOSE:
  Every change to TotalDays or UsedDays goes through this service and is
  paired, in the same store transaction, with an immutable audit entry.

OPERATIONS:
  AdjustBalance:         set / increase / decrease TotalDays, floored at 0
  RecordUsageOnApproval: add an approved application's business days to UsedDays
  History:               read the audit trail

CLAMPING:
  A decrease below zero succeeds and stores 0. The audit entry keeps the
  requested amount so the true delta survives for forensics.

OVERDRAFT:
  RecordUsageOnApproval never refuses. Approval is gated upstream by the
  validation pipeline; balances that changed in between can end up with
  UsedDays > TotalDays, and the write still proceeds (a warning is logged).

CONCURRENCY:
  Each operation is read -> compute -> versioned write inside WithTx. A
  lost write (generic.ErrConcurrentModification) re-runs the whole
  transaction up to Ledger.MaxRetries times.

SEE ALSO:
  - ledger.go: Lookup/resolve used for reads
  - carryover.go: Transfers are increase adjustments
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

// AdjustmentRequest changes TotalDays of one ledger row.
type AdjustmentRequest struct {
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	Year        int
	Type        AdjustmentType
	Amount      generic.Amount
	Reason      string
	Actor       string
}

func (r AdjustmentRequest) key() BalanceKey {
	return BalanceKey{EmployeeID: r.EmployeeID, LeaveTypeID: r.LeaveTypeID, Year: r.Year}
}

func (r AdjustmentRequest) validate() error {
	switch {
	case !r.Type.Valid():
		return fmt.Errorf("%w: unknown adjustment type %q", ErrInvalidAdjustment, r.Type)
	case r.Amount.IsNegative():
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidAdjustment)
	case r.EmployeeID == "" || r.LeaveTypeID == "" || r.Year == 0:
		return fmt.Errorf("%w: employee, leave type and year are required", ErrInvalidAdjustment)
	case r.Actor == "":
		return fmt.Errorf("%w: actor is required", ErrInvalidAdjustment)
	}
	return nil
}

// AdjustmentResult is the stored row and its audit entry.
type AdjustmentResult struct {
	Balance LeaveBalance
	Entry   BalanceAuditEntry
	Clamped bool
}

// =============================================================================
// ADJUSTMENT SERVICE
// =============================================================================

type AdjustmentService struct {
	Store    TxStore
	Ledger   *Ledger
	Notifier Notifier
	Clock    generic.Clock
	Logger   *slog.Logger
}

func NewAdjustmentService(store TxStore, ledger *Ledger, notifier Notifier) *AdjustmentService {
	return &AdjustmentService{
		Store:    store,
		Ledger:   ledger,
		Notifier: notifier,
		Clock:    ledger.Clock,
		Logger:   ledger.Logger,
	}
}

// AdjustBalance applies an administrative set/increase/decrease to TotalDays.
// UsedDays is never touched here.
func (s *AdjustmentService) AdjustBalance(ctx context.Context, req AdjustmentRequest) (AdjustmentResult, error) {
	if err := req.validate(); err != nil {
		return AdjustmentResult{}, err
	}

	res, err := withRetry(ctx, s.Ledger.MaxRetries, func() (AdjustmentResult, error) {
		var res AdjustmentResult
		err := s.Store.WithTx(ctx, func(tx Store) error {
			var err error
			res, err = s.adjustIn(ctx, tx, req)
			return err
		})
		return res, err
	})
	if err != nil {
		return AdjustmentResult{}, err
	}

	s.emitAdjusted(ctx, res)
	return res, nil
}

func (s *AdjustmentService) adjustIn(ctx context.Context, tx Store, req AdjustmentRequest) (AdjustmentResult, error) {
	ledger := s.Ledger.withStore(tx)
	if _, err := ledger.leaveType(ctx, req.LeaveTypeID); err != nil {
		return AdjustmentResult{}, err
	}
	lookup, err := ledger.Lookup(ctx, req.key())
	if err != nil {
		return AdjustmentResult{}, err
	}
	current, stored, err := ledger.resolve(ctx, lookup)
	if err != nil {
		return AdjustmentResult{}, err
	}

	previous := current.TotalDays
	var next generic.Amount
	switch req.Type {
	case AdjustSet:
		next = req.Amount
	case AdjustIncrease:
		next = previous.Add(req.Amount)
	case AdjustDecrease:
		next = previous.Sub(req.Amount)
	}
	clamped := next.IsNegative()
	next = next.FloorAtZero()

	ts := now(s.Clock)
	current.TotalDays = next
	current.UpdatedAt = ts

	saved, err := writeBalance(ctx, tx, current, stored)
	if err != nil {
		return AdjustmentResult{}, err
	}

	entry := BalanceAuditEntry{
		ID:             uuid.NewString(),
		EmployeeID:     req.EmployeeID,
		LeaveTypeID:    req.LeaveTypeID,
		Year:           req.Year,
		AdjustmentType: req.Type,
		Field:          FieldTotalDays,
		Amount:         req.Amount,
		PreviousValue:  previous,
		NewValue:       next,
		Reason:         req.Reason,
		Actor:          req.Actor,
		CreatedAt:      ts,
	}
	if err := tx.AppendAudit(ctx, entry); err != nil {
		return AdjustmentResult{}, fmt.Errorf("append audit: %w", err)
	}
	return AdjustmentResult{Balance: saved, Entry: entry, Clamped: clamped}, nil
}

// writeBalance updates a stored row or inserts a fresh one. Losing the insert
// race is reported as a conflict so the caller re-reads.
func writeBalance(ctx context.Context, tx Store, b LeaveBalance, stored bool) (LeaveBalance, error) {
	if stored {
		return tx.UpdateBalance(ctx, b)
	}
	saved, created, err := tx.InsertBalance(ctx, b)
	if err != nil {
		return LeaveBalance{}, err
	}
	if !created {
		return LeaveBalance{}, &generic.VersionConflictError{Key: b.BalanceKey.String()}
	}
	return saved, nil
}

// =============================================================================
// USAGE ON APPROVAL
// =============================================================================

// RecordUsageOnApproval adds an approved application's business days to
// UsedDays of the row for the year of its start date. Usage is recorded once
// per application: Decide already records it on approval, and a repeated
// call fails with ErrUsageAlreadyRecorded.
func (s *AdjustmentService) RecordUsageOnApproval(ctx context.Context, id ApplicationID, actor string) (AdjustmentResult, error) {
	app, err := s.Store.GetApplication(ctx, id)
	if errors.Is(err, generic.ErrNotFound) {
		return AdjustmentResult{}, fmt.Errorf("%w: %s", ErrApplicationNotFound, id)
	}
	if err != nil {
		return AdjustmentResult{}, fmt.Errorf("read application %s: %w", id, err)
	}
	if app.Status != StatusApproved {
		return AdjustmentResult{}, fmt.Errorf("%w: %s is %s", ErrApplicationNotApproved, id, app.Status)
	}

	res, err := withRetry(ctx, s.Ledger.MaxRetries, func() (AdjustmentResult, error) {
		var res AdjustmentResult
		err := s.Store.WithTx(ctx, func(tx Store) error {
			var err error
			res, err = s.recordUsageIn(ctx, tx, app, actor)
			return err
		})
		return res, err
	})
	if err != nil {
		return AdjustmentResult{}, err
	}

	s.emitAdjusted(ctx, res)
	return res, nil
}

func (s *AdjustmentService) recordUsageIn(ctx context.Context, tx Store, app LeaveApplication, actor string) (AdjustmentResult, error) {
	prior, err := tx.QueryAudit(ctx, AuditFilter{ApplicationID: app.ID})
	if err != nil {
		return AdjustmentResult{}, fmt.Errorf("read audit for %s: %w", app.ID, err)
	}
	for _, e := range prior {
		if e.Field == FieldUsedDays {
			return AdjustmentResult{}, fmt.Errorf("%w: %s (audit %s)", ErrUsageAlreadyRecorded, app.ID, e.ID)
		}
	}

	ledger := s.Ledger.withStore(tx)
	b, err := ledger.GetOrInitialize(ctx, app.BalanceKey())
	if err != nil {
		return AdjustmentResult{}, err
	}

	previous := b.UsedDays
	ts := now(s.Clock)
	b.UsedDays = previous.Add(app.BusinessDays)
	b.UpdatedAt = ts

	saved, err := tx.UpdateBalance(ctx, b)
	if err != nil {
		return AdjustmentResult{}, err
	}
	if saved.Overdrawn() {
		loggerOrDefault(s.Logger).Warn("balance overdrawn by approval",
			"key", saved.BalanceKey.String(),
			"application_id", app.ID,
			"total_days", saved.TotalDays.String(),
			"used_days", saved.UsedDays.String())
	}

	entry := BalanceAuditEntry{
		ID:             uuid.NewString(),
		EmployeeID:     app.EmployeeID,
		LeaveTypeID:    app.LeaveTypeID,
		Year:           app.Start.Year(),
		AdjustmentType: AdjustIncrease,
		Field:          FieldUsedDays,
		Amount:         app.BusinessDays,
		PreviousValue:  previous,
		NewValue:       saved.UsedDays,
		Reason:         fmt.Sprintf("Approved application %s", app.ID),
		Actor:          actor,
		ApplicationID:  app.ID,
		CreatedAt:      ts,
	}
	if err := tx.AppendAudit(ctx, entry); err != nil {
		return AdjustmentResult{}, fmt.Errorf("append audit: %w", err)
	}
	return AdjustmentResult{Balance: saved, Entry: entry}, nil
}

// =============================================================================
// HISTORY
// =============================================================================

// History returns audit entries oldest first.
func (s *AdjustmentService) History(ctx context.Context, filter AuditFilter) ([]BalanceAuditEntry, error) {
	return s.Store.QueryAudit(ctx, filter)
}

func (s *AdjustmentService) emitAdjusted(ctx context.Context, res AdjustmentResult) {
	emit(ctx, s.Notifier, s.Logger, s.Clock, Event{
		Type:          EventBalanceAdjusted,
		EmployeeID:    res.Entry.EmployeeID,
		LeaveTypeID:   res.Entry.LeaveTypeID,
		Year:          res.Entry.Year,
		ApplicationID: res.Entry.ApplicationID,
		Payload: map[string]any{
			"adjustment_type": string(res.Entry.AdjustmentType),
			"field":           string(res.Entry.Field),
			"amount":          res.Entry.Amount.String(),
			"previous":        res.Entry.PreviousValue.String(),
			"new":             res.Entry.NewValue.String(),
			"reason":          res.Entry.Reason,
			"actor":           res.Entry.Actor,
		},
	})
}
