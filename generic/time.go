package generic

import (
	"time"
)

// =============================================================================
// TIME POINT - Date abstraction (leave is booked in whole days)
// =============================================================================

type TimePoint struct {
	Time        time.Time
	Granularity Granularity
}

type Granularity int

const (
	GranularityDay Granularity = iota
	GranularityHour
	GranularityMinute
)

const dateLayout = "2006-01-02"

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC), Granularity: GranularityDay}
}

// DateOf truncates t to its calendar date in UTC.
func DateOf(t time.Time) TimePoint {
	u := t.UTC()
	return NewTimePoint(u.Year(), u.Month(), u.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (TimePoint, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return TimePoint{}, err
	}
	return DateOf(t), nil
}

// MustParseDate panics on malformed input. Intended for tests and fixtures.
func MustParseDate(s string) TimePoint {
	tp, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return tp
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.normalize().Before(other.normalize()) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.normalize().Equal(other.normalize()) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.normalize().After(other.normalize()) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return tp.Before(other) || tp.Equal(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return tp.After(other) || tp.Equal(other) }

func (tp TimePoint) normalize() time.Time {
	switch tp.Granularity {
	case GranularityDay:
		return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), 0, 0, 0, 0, time.UTC)
	case GranularityHour:
		return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), tp.Time.Hour(), 0, 0, 0, time.UTC)
	default:
		return tp.Time
	}
}

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint {
	return TimePoint{Time: tp.Time.AddDate(0, 0, n), Granularity: tp.Granularity}
}
func (tp TimePoint) AddMonths(n int) TimePoint {
	return TimePoint{Time: tp.Time.AddDate(0, n, 0), Granularity: tp.Granularity}
}

// Properties
func (tp TimePoint) Year() int             { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month     { return tp.Time.Month() }
func (tp TimePoint) Day() int              { return tp.Time.Day() }
func (tp TimePoint) Weekday() time.Weekday { return tp.Time.Weekday() }
func (tp TimePoint) IsWeekend() bool       { wd := tp.Weekday(); return wd == time.Saturday || wd == time.Sunday }
func (tp TimePoint) IsZero() bool          { return tp.Time.IsZero() }

// Quarter returns 1..4.
func (tp TimePoint) Quarter() int { return (int(tp.Month())-1)/3 + 1 }

func (tp TimePoint) String() string {
	switch tp.Granularity {
	case GranularityDay:
		return tp.Time.Format(dateLayout)
	case GranularityHour:
		return tp.Time.Format("2006-01-02 15:00")
	default:
		return tp.Time.Format(time.RFC3339)
	}
}

// =============================================================================
// CLOCK - Injected "today"
// =============================================================================

// Clock supplies the current instant. Services never call time.Now directly.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }

// FixedDate is a FixedClock at midnight UTC of the given date.
func FixedDate(year int, month time.Month, day int) FixedClock {
	return FixedClock{At: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// Today returns the calendar date of the clock. A nil clock uses SystemClock.
func Today(c Clock) TimePoint {
	if c == nil {
		c = SystemClock{}
	}
	return DateOf(c.Now())
}

// =============================================================================
// HOLIDAY CALENDAR - Company-specific holidays
// =============================================================================

// Holiday represents a public or company holiday.
type Holiday struct {
	ID        string
	CompanyID string    // Empty string = global/default holidays
	Date      TimePoint // The holiday date
	Name      string    // e.g., "Christmas Day", "Independence Day"
	Recurring bool      // true = same month/day every year
}

// OccursOn reports whether the holiday falls on date, expanding recurring entries.
func (h Holiday) OccursOn(date TimePoint) bool {
	if h.Recurring {
		return h.Date.Month() == date.Month() && h.Date.Day() == date.Day()
	}
	return h.Date.Equal(date)
}

// InYear returns the concrete occurrence of the holiday in year.
// Non-recurring holidays are returned unchanged.
func (h Holiday) InYear(year int) Holiday {
	if !h.Recurring {
		return h
	}
	out := h
	out.Date = NewTimePoint(year, h.Date.Month(), h.Date.Day())
	return out
}

// OccurrencesIn returns the concrete dates of the holiday inside p, one per
// year for recurring holidays. A recurring Feb 29 only occurs in leap years.
func (h Holiday) OccurrencesIn(p Period) []Holiday {
	if !h.Recurring {
		if p.Contains(h.Date) {
			return []Holiday{h}
		}
		return nil
	}
	var out []Holiday
	for y := p.Start.Year(); y <= p.End.Year(); y++ {
		occ := h.InYear(y)
		if occ.Date.Month() != h.Date.Month() {
			continue
		}
		if p.Contains(occ.Date) {
			out = append(out, occ)
		}
	}
	return out
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

func DaysBetween(from, to TimePoint) int { return int(to.normalize().Sub(from.normalize()).Hours() / 24) }
func StartOfYear(year int) TimePoint     { return NewTimePoint(year, time.January, 1) }
func EndOfYear(year int) TimePoint       { return NewTimePoint(year, time.December, 31) }
func StartOfMonth(year int, month time.Month) TimePoint {
	return NewTimePoint(year, month, 1)
}
func EndOfMonth(year int, month time.Month) TimePoint {
	t := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	return TimePoint{Time: t, Granularity: GranularityDay}
}
