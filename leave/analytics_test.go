package leave_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// BALANCE ANALYTICS
// =============================================================================

func TestBalances_UtilizationWithZeroAllocation(t *testing.T) {
	// GIVEN: A row with allocated=0, used=0
	// WHEN: Balance analytics run
	// THEN: Utilization is 0, not a division error

	f := newFixture(t)
	f.seedBalance(t, "emp-1", sick, 2025, 0, 0)

	report, err := f.analytics.Balances(context.Background(), 2025, "")

	require.NoError(t, err)
	assert.True(t, report.Utilization.IsZero())
	require.Len(t, report.ByLeaveType, 1)
	assert.True(t, report.ByLeaveType[0].Utilization.IsZero())
}

func TestBalances_Rollups(t *testing.T) {
	f := newFixture(t)
	f.seedBalance(t, "emp-1", annual, 2025, 20, 5)
	f.seedBalance(t, "emp-2", annual, 2025, 20, 25)
	f.seedBalance(t, "emp-1", sick, 2025, 10, 1)
	f.seedBalance(t, "emp-1", annual, 2024, 20, 20)
	ctx := context.Background()

	report, err := f.analytics.Balances(ctx, 2025, "")
	require.NoError(t, err)

	assert.True(t, report.Allocated.Equal(days(50)))
	assert.True(t, report.Used.Equal(days(31)))
	assert.True(t, report.Remaining.Equal(days(24)), "overdrawn rows contribute zero remaining")
	assert.True(t, report.Utilization.Equal(decimal.RequireFromString("62")))

	require.Len(t, report.ByLeaveType, 2)
	assert.Equal(t, annual, report.ByLeaveType[0].LeaveTypeID)
	assert.Equal(t, "Annual Leave", report.ByLeaveType[0].Name)
	assert.Equal(t, 2, report.ByLeaveType[0].Rows)
	assert.True(t, report.ByLeaveType[0].Utilization.Equal(decimal.RequireFromString("75")))

	one, err := f.analytics.Balances(ctx, 2025, "emp-1")
	require.NoError(t, err)
	assert.True(t, one.Allocated.Equal(days(30)))
	assert.True(t, one.Utilization.Equal(decimal.RequireFromString("20")))
}

// =============================================================================
// USAGE ANALYTICS
// =============================================================================

func TestUsage_CountsAndPeaks(t *testing.T) {
	// GIVEN: Applications across four months
	// WHEN: Usage is computed for the year
	// THEN: Status counts, totals and the three busiest months are reported,
	//       with ties in first-seen order

	f := newFixture(t)
	f.seedApplication(t, "a1", "emp-1", "2025-02-03", "2025-02-04", leave.StatusApproved, 2)
	f.seedApplication(t, "a2", "emp-2", "2025-03-03", "2025-03-03", leave.StatusApproved, 1)
	f.seedApplication(t, "a3", "emp-1", "2025-03-10", "2025-03-12", leave.StatusRejected, 3)
	f.seedApplication(t, "a4", "emp-2", "2025-04-07", "2025-04-08", leave.StatusPending, 2)
	f.seedApplication(t, "a5", "emp-1", "2025-07-01", "2025-07-01", leave.StatusApproved, 1)
	f.seedApplication(t, "a6", "emp-2", "2025-07-02", "2025-07-03", leave.StatusApproved, 2)
	sickApp := f.seedApplication(t, "a7", "emp-1", "2025-07-21", "2025-07-21", leave.StatusApproved, 1)
	sickApp.LeaveTypeID = sick
	require.NoError(t, f.store.SaveApplication(context.Background(), sickApp))

	report, err := f.analytics.Usage(context.Background(), leave.UsageQuery{
		From: generic.MustParseDate("2025-01-01"),
		To:   generic.MustParseDate("2025-12-31"),
	})

	require.NoError(t, err)
	assert.Equal(t, 7, report.Applications)
	assert.Equal(t, 5, report.ByStatus[leave.StatusApproved])
	assert.Equal(t, 1, report.ByStatus[leave.StatusRejected])
	assert.Equal(t, 1, report.ByStatus[leave.StatusPending])
	assert.True(t, report.TotalDays.Equal(days(12)))
	assert.True(t, report.ApprovedDays.Equal(days(7)))
	assert.Equal(t, annual, report.MostPopular)
	assert.Equal(t, 6, report.MostPopularCount)

	require.Len(t, report.PeakMonths, 3)
	assert.Equal(t, leave.KeyCount{Key: "2025-07", Count: 3}, report.PeakMonths[0])
	assert.Equal(t, leave.KeyCount{Key: "2025-03", Count: 2}, report.PeakMonths[1])
	assert.Equal(t, leave.KeyCount{Key: "2025-02", Count: 1}, report.PeakMonths[2], "ties keep first-seen order")
}

func TestUsage_Empty(t *testing.T) {
	f := newFixture(t)

	report, err := f.analytics.Usage(context.Background(), leave.UsageQuery{
		From: generic.MustParseDate("2025-01-01"),
		To:   generic.MustParseDate("2025-12-31"),
	})

	require.NoError(t, err)
	assert.Zero(t, report.Applications)
	assert.Empty(t, report.MostPopular)
	assert.Empty(t, report.PeakMonths)
}

// =============================================================================
// TRENDS
// =============================================================================

func TestTrends_QuarterBuckets(t *testing.T) {
	f := newFixture(t)
	f.seedApplication(t, "a1", "emp-1", "2025-02-03", "2025-02-06", leave.StatusApproved, 4)
	f.seedApplication(t, "a2", "emp-2", "2025-03-03", "2025-03-03", leave.StatusRejected, 1)
	f.seedApplication(t, "a3", "emp-1", "2025-08-04", "2025-08-05", leave.StatusPending, 2)

	buckets, err := f.analytics.Trends(context.Background(), leave.TrendQuery{
		From:        generic.MustParseDate("2025-01-01"),
		To:          generic.MustParseDate("2025-12-31"),
		Granularity: generic.BucketQuarter,
	})

	require.NoError(t, err)
	require.Len(t, buckets, 4)
	assert.Equal(t, "2025-Q1", buckets[0].Key)
	assert.Equal(t, 2, buckets[0].Applications)
	assert.True(t, buckets[0].RequestedDays.Equal(days(5)))
	assert.True(t, buckets[0].ApprovalRate.Equal(decimal.RequireFromString("80")))
	assert.True(t, buckets[1].ApprovalRate.IsZero(), "empty bucket has no rate")
	assert.Equal(t, "2025-Q3", buckets[2].Key)
	assert.True(t, buckets[2].ApprovalRate.IsZero())
}

func TestTrends_MonthBucketsAndValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	buckets, err := f.analytics.Trends(ctx, leave.TrendQuery{
		From: generic.MustParseDate("2025-01-15"),
		To:   generic.MustParseDate("2025-03-10"),
	})
	require.NoError(t, err)
	keys := make([]string, len(buckets))
	for i, b := range buckets {
		keys[i] = b.Key
	}
	assert.Equal(t, []string{"2025-01", "2025-02", "2025-03"}, keys)

	_, err = f.analytics.Trends(ctx, leave.TrendQuery{
		From:        generic.MustParseDate("2025-01-01"),
		To:          generic.MustParseDate("2025-12-31"),
		Granularity: "week",
	})
	assert.ErrorIs(t, err, leave.ErrInvalidQuery)
}

// =============================================================================
// TEAM CALENDAR
// =============================================================================

func TestTeamCalendar_ExpandsApprovedApplications(t *testing.T) {
	// GIVEN: An approved 3-day application, a pending one and another employee's
	// WHEN: The team calendar for emp-1 is built
	// THEN: Only the approved application appears, one entry per day

	f := newFixture(t)
	f.seedApplication(t, "a1", "emp-1", "2025-06-10", "2025-06-12", leave.StatusApproved, 3)
	f.seedApplication(t, "a2", "emp-1", "2025-06-20", "2025-06-20", leave.StatusPending, 1)
	f.seedApplication(t, "a3", "emp-2", "2025-06-11", "2025-06-11", leave.StatusApproved, 1)

	entries, err := f.analytics.TeamCalendar(context.Background(),
		generic.MustParseDate("2025-06-11"), generic.MustParseDate("2025-06-30"), []leave.EmployeeID{"emp-1"})

	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, want := range []string{"2025-06-10", "2025-06-11", "2025-06-12"} {
		assert.Equal(t, want, entries[i].Date.String())
		assert.Equal(t, leave.ApplicationID("a1"), entries[i].ApplicationID)
	}
}
