/*
carryover.go - Year-end transfer of unused balance

PURPOSE:
  Moves each employee's unused days of one leave type from fromYear into
  fromYear+1, capped by the leave type's CarryOverRule.

STAGES (one invocation, not resumable mid-batch):
  Scan:     every fromYear row of the leave type
  Compute:  carry = min(remaining, rule.MaxCarryOver); rows with carry <= 0
            are skipped with no audit entry
  Transfer: an increase adjustment on the toYear row, reason
            "Carry-over from {fromYear}"; absent rows are initialized at the
            default allocation first
  Audit:    implicit in the adjustment; the engine writes no extra entry

RE-RUNS:
  The engine does not deduplicate. Running it twice for the same year
  transfers twice. Callers that may re-run (after a partial failure, say)
  must check for prior transfers themselves, e.g. by querying the audit
  trail for CarryOverReason(fromYear). The year-end scheduler keeps run
  records for exactly this.

EXPIRY:
  rule.ExpiryMonths is reported but never enforced. Once merged into
  TotalDays, carried days are indistinguishable from the normal allocation.

FAILURES:
  A failed transfer for one employee is recorded in the report and the
  batch continues.

SEE ALSO:
  - adjustment.go: AdjustBalance performs each transfer
  - api/scheduler.go: Invokes Run once per leave type at the year boundary
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/warp/leave-engine/generic"
)

// DefaultCarryOverActor is recorded on transfers when the request names no actor.
const DefaultCarryOverActor = "system:carry-over"

// CarryOverReason is the deterministic audit reason for transfers out of fromYear.
func CarryOverReason(fromYear int) string {
	return fmt.Sprintf("Carry-over from %d", fromYear)
}

type CarryOverRequest struct {
	LeaveTypeID LeaveTypeID
	FromYear    int

	// Rule overrides the stored rule when set.
	Rule *CarryOverRule

	Actor      string
	ApprovedBy string // required when the rule requires approval

	// Parallelism 1 transfers sequentially; zero uses the engine default.
	// The engine caps it at MaxParallelism and at the number of transfers.
	Parallelism int
}

type CarryOverTransfer struct {
	EmployeeID EmployeeID
	Remaining  generic.Amount
	Amount     generic.Amount
	AuditID    string
}

type CarryOverReport struct {
	LeaveTypeID LeaveTypeID
	FromYear    int
	ToYear      int
	Rule        CarryOverRule
	Scanned     int
	Transferred int
	Skipped     int
	TotalDays   generic.Amount
	Transfers   []CarryOverTransfer
	Failures    []CarryOverFailure
}

// =============================================================================
// CARRY-OVER ENGINE
// =============================================================================

type CarryOverEngine struct {
	Store       Store
	Adjustments *AdjustmentService
	Notifier    Notifier
	Clock       generic.Clock
	Logger      *slog.Logger

	// Parallelism applies when a request leaves it unset.
	Parallelism int

	// MaxParallelism caps any requested worker count.
	MaxParallelism int
}

// DefaultMaxParallelism bounds carry-over workers when no ceiling is configured.
const DefaultMaxParallelism = 16

func NewCarryOverEngine(store Store, adjustments *AdjustmentService, notifier Notifier) *CarryOverEngine {
	return &CarryOverEngine{
		Store:          store,
		Adjustments:    adjustments,
		Notifier:       notifier,
		Clock:          adjustments.Clock,
		Logger:         adjustments.Logger,
		Parallelism:    1,
		MaxParallelism: DefaultMaxParallelism,
	}
}

// planned is one computed transfer awaiting execution.
type planned struct {
	employee  EmployeeID
	remaining generic.Amount
	amount    generic.Amount
}

type outcome struct {
	transfer CarryOverTransfer
	err      error
}

// Run executes one carry-over batch for a leave type.
func (e *CarryOverEngine) Run(ctx context.Context, req CarryOverRequest) (CarryOverReport, error) {
	rule, err := e.rule(ctx, req)
	if err != nil {
		return CarryOverReport{}, err
	}
	if rule.RequiresApproval && req.ApprovedBy == "" {
		return CarryOverReport{}, fmt.Errorf("%w: %s", ErrCarryOverNotApproved, req.LeaveTypeID)
	}

	// Scan
	rows, err := e.Store.ListBalances(ctx, BalanceFilter{LeaveTypeID: req.LeaveTypeID, Year: req.FromYear})
	if err != nil {
		return CarryOverReport{}, fmt.Errorf("scan %s/%d: %w", req.LeaveTypeID, req.FromYear, err)
	}

	report := CarryOverReport{
		LeaveTypeID: req.LeaveTypeID,
		FromYear:    req.FromYear,
		ToYear:      req.FromYear + 1,
		Rule:        rule,
		Scanned:     len(rows),
		TotalDays:   generic.Days(0),
	}

	// Compute
	var plan []planned
	for _, b := range rows {
		carry := b.Remaining().Min(rule.MaxCarryOver)
		if !carry.IsPositive() {
			report.Skipped++
			continue
		}
		plan = append(plan, planned{employee: b.EmployeeID, remaining: b.Remaining(), amount: carry})
	}

	// Transfer
	for _, o := range e.transferAll(ctx, req, plan, e.workers(req.Parallelism, len(plan))) {
		if o.err != nil {
			report.Failures = append(report.Failures, CarryOverFailure{EmployeeID: o.transfer.EmployeeID, Err: o.err})
			continue
		}
		report.Transferred++
		report.TotalDays = report.TotalDays.Add(o.transfer.Amount)
		report.Transfers = append(report.Transfers, o.transfer)
	}

	logger := loggerOrDefault(e.Logger)
	logger.Info("carry-over completed",
		"leave_type", req.LeaveTypeID, "from_year", req.FromYear,
		"scanned", report.Scanned, "transferred", report.Transferred,
		"skipped", report.Skipped, "failed", len(report.Failures),
		"total_days", report.TotalDays.String())
	for _, f := range report.Failures {
		logger.Error("carry-over transfer failed", "employee_id", f.EmployeeID, "err", f.Err)
	}

	emit(ctx, e.Notifier, e.Logger, e.Clock, Event{
		Type:        EventCarryOverCompleted,
		LeaveTypeID: req.LeaveTypeID,
		Year:        report.ToYear,
		Payload: map[string]any{
			"from_year":     report.FromYear,
			"transferred":   report.Transferred,
			"skipped":       report.Skipped,
			"failed":        len(report.Failures),
			"total_days":    report.TotalDays.String(),
			"expiry_months": rule.ExpiryMonths,
		},
	})
	return report, nil
}

func (e *CarryOverEngine) rule(ctx context.Context, req CarryOverRequest) (CarryOverRule, error) {
	if req.Rule != nil {
		return *req.Rule, nil
	}
	rule, err := e.Store.GetCarryOverRule(ctx, req.LeaveTypeID)
	if errors.Is(err, generic.ErrNotFound) {
		return CarryOverRule{}, fmt.Errorf("%w: %s", ErrNoCarryOverRule, req.LeaveTypeID)
	}
	if err != nil {
		return CarryOverRule{}, fmt.Errorf("read carry-over rule %s: %w", req.LeaveTypeID, err)
	}
	return rule, nil
}

// workers resolves the pool size: the request's value or the engine default,
// capped by MaxParallelism and by the number of transfers.
func (e *CarryOverEngine) workers(requested, jobs int) int {
	n := requested
	if n <= 0 {
		n = e.Parallelism
	}
	ceiling := e.MaxParallelism
	if ceiling <= 0 {
		ceiling = DefaultMaxParallelism
	}
	return max(1, min(n, ceiling, jobs))
}

// transferAll returns outcomes in plan order regardless of worker count.
func (e *CarryOverEngine) transferAll(ctx context.Context, req CarryOverRequest, plan []planned, workers int) []outcome {
	out := make([]outcome, len(plan))
	if workers <= 1 {
		for i, p := range plan {
			out[i] = e.transfer(ctx, req, p)
		}
		return out
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out[i] = e.transfer(ctx, req, plan[i])
			}
		}()
	}
	for i := range plan {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return out
}

func (e *CarryOverEngine) transfer(ctx context.Context, req CarryOverRequest, p planned) outcome {
	actor := req.Actor
	if actor == "" {
		actor = DefaultCarryOverActor
	}
	res, err := e.Adjustments.AdjustBalance(ctx, AdjustmentRequest{
		EmployeeID:  p.employee,
		LeaveTypeID: req.LeaveTypeID,
		Year:        req.FromYear + 1,
		Type:        AdjustIncrease,
		Amount:      p.amount,
		Reason:      CarryOverReason(req.FromYear),
		Actor:       actor,
	})
	t := CarryOverTransfer{EmployeeID: p.employee, Remaining: p.remaining, Amount: p.amount}
	if err != nil {
		return outcome{transfer: t, err: err}
	}
	t.AuditID = res.Entry.ID
	return outcome{transfer: t}
}
