package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - Inclusive date range
// =============================================================================

// Period is the closed interval [Start, End]. Leave applications, analytics
// windows and year boundaries are all periods.
type Period struct {
	Start TimePoint
	End   TimePoint
}

// NewPeriod returns ErrInvalidPeriod when end precedes start.
func NewPeriod(start, end TimePoint) (Period, error) {
	if end.Before(start) {
		return Period{}, fmt.Errorf("%w: %s..%s", ErrInvalidPeriod, start, end)
	}
	return Period{Start: start, End: end}, nil
}

// YearPeriod is Jan 1 - Dec 31 of year.
func YearPeriod(year int) Period {
	return Period{Start: StartOfYear(year), End: EndOfYear(year)}
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Overlaps uses inclusive bounds: sharing a single boundary day counts.
func (p Period) Overlaps(other Period) bool {
	return p.Start.BeforeOrEqual(other.End) && p.End.AfterOrEqual(other.Start)
}

// Days returns all days in the period as a slice of TimePoints.
func (p Period) Days() []TimePoint {
	var days []TimePoint
	current := p.Start
	for current.BeforeOrEqual(p.End) {
		days = append(days, current)
		current = current.AddDays(1)
	}
	return days
}

// Len is the number of calendar days in the period.
func (p Period) Len() int {
	if p.End.Before(p.Start) {
		return 0
	}
	return DaysBetween(p.Start, p.End) + 1
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// BUCKETS - Month / quarter grouping keys
// =============================================================================

type BucketGranularity string

const (
	BucketMonth   BucketGranularity = "month"
	BucketQuarter BucketGranularity = "quarter"
)

// BucketKey labels the bucket containing tp, e.g. "2025-06" or "2025-Q2".
func BucketKey(tp TimePoint, g BucketGranularity) string {
	if g == BucketQuarter {
		return fmt.Sprintf("%d-Q%d", tp.Year(), tp.Quarter())
	}
	return fmt.Sprintf("%d-%02d", tp.Year(), int(tp.Month()))
}

// BucketPeriod returns the full period of the bucket containing tp.
func BucketPeriod(tp TimePoint, g BucketGranularity) Period {
	if g == BucketQuarter {
		first := time.Month((tp.Quarter()-1)*3 + 1)
		return Period{Start: StartOfMonth(tp.Year(), first), End: EndOfMonth(tp.Year(), first+2)}
	}
	return Period{Start: StartOfMonth(tp.Year(), tp.Month()), End: EndOfMonth(tp.Year(), tp.Month())}
}
