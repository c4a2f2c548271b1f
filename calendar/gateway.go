// Package calendar answers business-day questions for the leave engine from
// weekends plus a company's stored holidays.
package calendar

import (
	"context"
	"sort"
	"time"

	"github.com/warp/leave-engine/generic"
)

// HolidaySource returns the holidays of a company, plus the global ones
// (empty CompanyID), occurring in [from, to]. Recurring holidays are
// returned once per occurrence with the concrete date.
type HolidaySource interface {
	HolidaysBetween(ctx context.Context, companyID string, from, to generic.TimePoint) ([]generic.Holiday, error)
}

// HolidayStore is the administrative side of a source.
type HolidayStore interface {
	HolidaySource
	SaveHoliday(ctx context.Context, h generic.Holiday) error

	// DeleteHoliday returns generic.ErrNotFound for unknown ids.
	DeleteHoliday(ctx context.Context, id string) error

	// ListHolidays returns the stored rows, recurring ones unexpanded.
	ListHolidays(ctx context.Context, companyID string) ([]generic.Holiday, error)
}

// DefaultWeekend is Saturday and Sunday.
var DefaultWeekend = []time.Weekday{time.Saturday, time.Sunday}

// =============================================================================
// GATEWAY
// =============================================================================

// Gateway implements leave.CalendarGateway.
type Gateway struct {
	Source    HolidaySource
	CompanyID string
	Weekend   []time.Weekday
}

func NewGateway(source HolidaySource, companyID string) *Gateway {
	return &Gateway{Source: source, CompanyID: companyID, Weekend: DefaultWeekend}
}

func (g *Gateway) IsBusinessDay(ctx context.Context, date generic.TimePoint) (bool, error) {
	if g.isWeekend(date) {
		return false, nil
	}
	if g.Source == nil {
		return true, nil
	}
	hs, err := g.Source.HolidaysBetween(ctx, g.CompanyID, date, date)
	if err != nil {
		return false, err
	}
	return len(hs) == 0, nil
}

// HolidaysInRange returns holiday occurrences in [start, end] ordered by date.
func (g *Gateway) HolidaysInRange(ctx context.Context, start, end generic.TimePoint) ([]generic.Holiday, error) {
	if g.Source == nil {
		return nil, nil
	}
	hs, err := g.Source.HolidaysBetween(ctx, g.CompanyID, start, end)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(hs, func(i, j int) bool { return hs[i].Date.Before(hs[j].Date) })
	return hs, nil
}

func (g *Gateway) isWeekend(date generic.TimePoint) bool {
	weekend := g.Weekend
	if weekend == nil {
		weekend = DefaultWeekend
	}
	wd := date.Weekday()
	for _, d := range weekend {
		if d == wd {
			return true
		}
	}
	return false
}

// =============================================================================
// STATIC SOURCE
// =============================================================================

// Static is a fixed holiday list, used for tests and for catalogs loaded
// without a store.
type Static []generic.Holiday

func (s Static) HolidaysBetween(_ context.Context, companyID string, from, to generic.TimePoint) ([]generic.Holiday, error) {
	return Expand(s, companyID, generic.Period{Start: from, End: to}), nil
}

// Expand filters holidays to a company (plus global ones) and expands each
// into its occurrences inside p. Stores use it after loading candidate rows.
func Expand(holidays []generic.Holiday, companyID string, p generic.Period) []generic.Holiday {
	var out []generic.Holiday
	for _, h := range holidays {
		if h.CompanyID != "" && h.CompanyID != companyID {
			continue
		}
		out = append(out, h.OccurrencesIn(p)...)
	}
	return out
}
