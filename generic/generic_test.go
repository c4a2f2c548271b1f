package generic_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// AMOUNT
// =============================================================================

func TestAmount_FloorAtZero(t *testing.T) {
	remaining := generic.Days(8).Sub(generic.Days(10)).FloorAtZero()
	if !remaining.IsZero() {
		t.Errorf("expected 0, got %s", remaining)
	}

	remaining = generic.Days(10).Sub(generic.Days(7.5)).FloorAtZero()
	if !remaining.Equal(generic.Days(2.5)) {
		t.Errorf("expected 2.5, got %s", remaining)
	}
}

func TestAmount_MinMax(t *testing.T) {
	a, b := generic.Days(5), generic.Days(8)
	if got := a.Min(b); !got.Equal(a) {
		t.Errorf("Min: expected 5, got %s", got)
	}
	if got := a.Max(b); !got.Equal(b) {
		t.Errorf("Max: expected 8, got %s", got)
	}
}

func TestAmount_ZeroValueTakesOtherUnit(t *testing.T) {
	var sum generic.Amount
	sum = sum.Add(generic.Days(1.5))
	if sum.Unit != generic.UnitDays {
		t.Errorf("expected unit days, got %q", sum.Unit)
	}
}

func TestParseDays(t *testing.T) {
	got, err := generic.ParseDays("12.5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(generic.Days(12.5)) {
		t.Errorf("expected 12.5, got %s", got)
	}

	if _, err := generic.ParseDays("twelve"); err == nil {
		t.Error("expected error for non-numeric input")
	}
}

func TestPercent(t *testing.T) {
	tests := []struct {
		part, whole string
		want        string
	}{
		{"5", "20", "25"},
		{"1", "3", "33.33"},
		{"4", "0", "0"},
	}
	for _, tt := range tests {
		got := generic.Percent(decimal.RequireFromString(tt.part), decimal.RequireFromString(tt.whole))
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("Percent(%s, %s) = %s, want %s", tt.part, tt.whole, got, tt.want)
		}
	}
}

// =============================================================================
// TIME POINT
// =============================================================================

func TestParseDate(t *testing.T) {
	tp, err := generic.ParseDate("2025-06-19")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp.String() != "2025-06-19" {
		t.Errorf("expected 2025-06-19, got %s", tp)
	}
	if tp.Weekday() != time.Thursday {
		t.Errorf("expected Thursday, got %s", tp.Weekday())
	}

	if _, err := generic.ParseDate("19/06/2025"); err == nil {
		t.Error("expected error for wrong layout")
	}
}

func TestToday_TruncatesClock(t *testing.T) {
	clock := generic.FixedClock{At: time.Date(2025, time.June, 1, 23, 59, 0, 0, time.UTC)}
	today := generic.Today(clock)
	if !today.Equal(generic.NewTimePoint(2025, time.June, 1)) {
		t.Errorf("expected 2025-06-01, got %s", today)
	}
}

func TestDaysBetween(t *testing.T) {
	from := generic.MustParseDate("2025-06-01")
	if got := generic.DaysBetween(from, generic.MustParseDate("2025-06-03")); got != 2 {
		t.Errorf("expected 2, got %d", got)
	}
	if got := generic.DaysBetween(from, generic.MustParseDate("2025-05-30")); got != -2 {
		t.Errorf("expected -2, got %d", got)
	}
}

func TestEndOfMonth(t *testing.T) {
	if got := generic.EndOfMonth(2024, time.February); got.Day() != 29 {
		t.Errorf("expected Feb 29 in 2024, got %s", got)
	}
	if got := generic.EndOfMonth(2025, time.December); got.String() != "2025-12-31" {
		t.Errorf("expected 2025-12-31, got %s", got)
	}
}

// =============================================================================
// PERIOD
// =============================================================================

func TestNewPeriod_RejectsReversedRange(t *testing.T) {
	_, err := generic.NewPeriod(generic.MustParseDate("2025-06-10"), generic.MustParseDate("2025-06-09"))
	if !errors.Is(err, generic.ErrInvalidPeriod) {
		t.Errorf("expected ErrInvalidPeriod, got %v", err)
	}

	p, err := generic.NewPeriod(generic.MustParseDate("2025-06-10"), generic.MustParseDate("2025-06-10"))
	if err != nil {
		t.Fatalf("single-day period: %v", err)
	}
	if p.Len() != 1 {
		t.Errorf("expected length 1, got %d", p.Len())
	}
}

func TestPeriod_OverlapsInclusive(t *testing.T) {
	booked := generic.Period{Start: generic.MustParseDate("2025-06-10"), End: generic.MustParseDate("2025-06-12")}

	sharedBoundary := generic.Period{Start: generic.MustParseDate("2025-06-12"), End: generic.MustParseDate("2025-06-13")}
	if !booked.Overlaps(sharedBoundary) {
		t.Error("ranges sharing a boundary day should overlap")
	}

	adjacent := generic.Period{Start: generic.MustParseDate("2025-06-13"), End: generic.MustParseDate("2025-06-14")}
	if booked.Overlaps(adjacent) {
		t.Error("adjacent ranges should not overlap")
	}
}

func TestPeriod_Days(t *testing.T) {
	p := generic.Period{Start: generic.MustParseDate("2025-12-30"), End: generic.MustParseDate("2026-01-02")}
	days := p.Days()
	if len(days) != 4 {
		t.Fatalf("expected 4 days, got %d", len(days))
	}
	if days[3].String() != "2026-01-02" {
		t.Errorf("expected last day 2026-01-02, got %s", days[3])
	}
}

func TestBucketKey(t *testing.T) {
	tp := generic.MustParseDate("2025-08-15")
	if got := generic.BucketKey(tp, generic.BucketMonth); got != "2025-08" {
		t.Errorf("month bucket: got %s", got)
	}
	if got := generic.BucketKey(tp, generic.BucketQuarter); got != "2025-Q3" {
		t.Errorf("quarter bucket: got %s", got)
	}

	q := generic.BucketPeriod(tp, generic.BucketQuarter)
	if q.Start.String() != "2025-07-01" || q.End.String() != "2025-09-30" {
		t.Errorf("quarter period: got %s", q)
	}
}

// =============================================================================
// HOLIDAYS
// =============================================================================

func TestHoliday_RecurringOccurrences(t *testing.T) {
	newYear := generic.Holiday{ID: "ny", Date: generic.MustParseDate("2000-01-01"), Name: "New Year", Recurring: true}
	p := generic.Period{Start: generic.MustParseDate("2024-12-01"), End: generic.MustParseDate("2026-01-31")}

	occ := newYear.OccurrencesIn(p)
	if len(occ) != 2 {
		t.Fatalf("expected 2 occurrences, got %d", len(occ))
	}
	if occ[0].Date.String() != "2025-01-01" || occ[1].Date.String() != "2026-01-01" {
		t.Errorf("unexpected dates: %s, %s", occ[0].Date, occ[1].Date)
	}
	if !newYear.OccursOn(generic.MustParseDate("2031-01-01")) {
		t.Error("recurring holiday should occur on any year's Jan 1")
	}
}

func TestHoliday_LeapDaySkipsCommonYears(t *testing.T) {
	leap := generic.Holiday{ID: "leap", Date: generic.MustParseDate("2024-02-29"), Recurring: true}
	p := generic.Period{Start: generic.MustParseDate("2025-01-01"), End: generic.MustParseDate("2028-12-31")}

	occ := leap.OccurrencesIn(p)
	if len(occ) != 1 || occ[0].Date.String() != "2028-02-29" {
		t.Errorf("expected only 2028-02-29, got %v", occ)
	}
}
