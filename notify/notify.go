/*
Package notify delivers the leave engine's domain events.

NOTIFIERS:
  Logger: writes each event as one structured log line
  Outbox: persists events for a downstream mailer or webhook relay
  Fanout: delivers to several notifiers, continuing past failures

The engine only raises events; formatting and delivery of messages to
people happens downstream of the outbox.
*/
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/warp/leave-engine/leave"
)

// Logger writes events to a structured logger.
type Logger struct {
	Log   *slog.Logger
	Level slog.Level
}

func NewLogger(l *slog.Logger) *Logger {
	return &Logger{Log: l, Level: slog.LevelInfo}
}

func (n *Logger) Notify(ctx context.Context, ev leave.Event) error {
	l := n.Log
	if l == nil {
		l = slog.Default()
	}
	attrs := []any{
		"event_id", ev.ID,
		"type", string(ev.Type),
		"occurred_at", ev.OccurredAt,
	}
	if ev.EmployeeID != "" {
		attrs = append(attrs, "employee_id", ev.EmployeeID)
	}
	if ev.LeaveTypeID != "" {
		attrs = append(attrs, "leave_type", ev.LeaveTypeID)
	}
	if ev.Year != 0 {
		attrs = append(attrs, "year", ev.Year)
	}
	if ev.ApplicationID != "" {
		attrs = append(attrs, "application_id", ev.ApplicationID)
	}
	if len(ev.Payload) > 0 {
		attrs = append(attrs, "payload", ev.Payload)
	}
	l.Log(ctx, n.Level, "domain event", attrs...)
	return nil
}

// EventSink is implemented by stores that keep an outbox table.
type EventSink interface {
	AppendEvent(ctx context.Context, ev leave.Event) error
}

// Outbox persists events through a sink.
type Outbox struct {
	Sink EventSink
}

func NewOutbox(sink EventSink) *Outbox {
	return &Outbox{Sink: sink}
}

func (o *Outbox) Notify(ctx context.Context, ev leave.Event) error {
	if err := o.Sink.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("append %s to outbox: %w", ev.Type, err)
	}
	return nil
}

// Fanout delivers to every notifier and joins their errors.
type Fanout []leave.Notifier

func (f Fanout) Notify(ctx context.Context, ev leave.Event) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
