package leave

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// CALENDAR GATEWAY - Weekend / holiday answers
// =============================================================================

// CalendarGateway answers business-day questions. The engine never computes a
// calendar itself.
type CalendarGateway interface {
	IsBusinessDay(ctx context.Context, date generic.TimePoint) (bool, error)
	HolidaysInRange(ctx context.Context, start, end generic.TimePoint) ([]generic.Holiday, error)
}

// CountBusinessDays counts the business days in [start,end] per the gateway.
func CountBusinessDays(ctx context.Context, cal CalendarGateway, period generic.Period) (int, error) {
	n := 0
	for _, day := range period.Days() {
		ok, err := cal.IsBusinessDay(ctx, day)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// =============================================================================
// DIRECTORY - Who is this employee
// =============================================================================

type Directory interface {
	EmployeeExists(ctx context.Context, id EmployeeID) (bool, error)

	// EmploymentType returns ErrEmployeeNotFound for unknown ids.
	EmploymentType(ctx context.Context, id EmployeeID) (EmploymentType, error)

	ActiveEmployees(ctx context.Context) ([]EmployeeID, error)
}

// Eligibility decides which employment types receive balances.
// An empty set means every type is eligible.
type Eligibility []EmploymentType

func (e Eligibility) Allows(t EmploymentType) bool {
	if len(e) == 0 {
		return true
	}
	for _, allowed := range e {
		if allowed == t {
			return true
		}
	}
	return false
}

// DefaultEligibility grants balances to salaried staff.
var DefaultEligibility = Eligibility{EmploymentFullTime, EmploymentPartTime}

// =============================================================================
// NOTIFICATION TRIGGER - Domain events
// =============================================================================

type EventType string

const (
	EventBalanceAdjusted     EventType = "balance.adjusted"
	EventCarryOverCompleted  EventType = "carryover.completed"
	EventApplicationDecided  EventType = "application.decided"
	EventApplicationReceived EventType = "application.submitted"
)

// Event signals that a notification is warranted. Formatting and delivery
// belong to whoever consumes it.
type Event struct {
	ID            string
	Type          EventType
	OccurredAt    time.Time
	EmployeeID    EmployeeID
	LeaveTypeID   LeaveTypeID
	Year          int
	ApplicationID ApplicationID
	Payload       map[string]any
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) error { return nil }

// emit fills the envelope and delivers the event. Delivery failures are
// logged and never propagate to the operation that raised the event.
func emit(ctx context.Context, n Notifier, logger *slog.Logger, clock generic.Clock, ev Event) {
	if n == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = now(clock)
	}
	if err := n.Notify(ctx, ev); err != nil {
		loggerOrDefault(logger).Warn("event delivery failed",
			"event", ev.Type, "event_id", ev.ID, "err", err)
	}
}

func now(c generic.Clock) time.Time {
	if c == nil {
		c = generic.SystemClock{}
	}
	return c.Now()
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
