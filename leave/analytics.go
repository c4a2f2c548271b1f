package leave

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
)

// PeakMonthCount is how many months Usage reports as peak months.
const PeakMonthCount = 3

// =============================================================================
// ANALYTICS AGGREGATOR - Read-only projections
// =============================================================================

// Aggregator derives reports from applications and balances. It never writes.
// Grouping happens in memory over one fetch; ties keep first-seen order.
type Aggregator struct {
	Store Store
}

func NewAggregator(store Store) *Aggregator {
	return &Aggregator{Store: store}
}

// counter tallies keys and remembers the order they were first seen in.
type counter struct {
	order  []string
	counts map[string]int
}

func newCounter() *counter { return &counter{counts: map[string]int{}} }

func (c *counter) add(key string) {
	if _, ok := c.counts[key]; !ok {
		c.order = append(c.order, key)
	}
	c.counts[key]++
}

// ranked returns keys by descending count. The sort is stable so equal
// counts stay in first-seen order.
func (c *counter) ranked() []KeyCount {
	out := make([]KeyCount, len(c.order))
	for i, k := range c.order {
		out[i] = KeyCount{Key: k, Count: c.counts[k]}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

type KeyCount struct {
	Key   string
	Count int
}

// =============================================================================
// USAGE
// =============================================================================

type UsageQuery struct {
	From        generic.TimePoint
	To          generic.TimePoint
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
}

type UsageReport struct {
	Period       generic.Period
	Applications int
	ByStatus     map[ApplicationStatus]int
	TotalDays    generic.Amount
	ApprovedDays generic.Amount

	// MostPopular is the leave type with the most applications; empty when none.
	MostPopular      LeaveTypeID
	MostPopularCount int

	// PeakMonths holds up to three "YYYY-MM" keys of start dates, busiest first.
	PeakMonths []KeyCount
}

// Usage summarizes applications intersecting [From, To].
func (a *Aggregator) Usage(ctx context.Context, q UsageQuery) (UsageReport, error) {
	period, err := generic.NewPeriod(q.From, q.To)
	if err != nil {
		return UsageReport{}, err
	}
	filter := ApplicationFilter{LeaveTypeID: q.LeaveTypeID, Range: &period}
	if q.EmployeeID != "" {
		filter.EmployeeIDs = []EmployeeID{q.EmployeeID}
	}
	apps, err := a.Store.ListApplications(ctx, filter)
	if err != nil {
		return UsageReport{}, fmt.Errorf("list applications: %w", err)
	}

	report := UsageReport{
		Period:       period,
		Applications: len(apps),
		ByStatus:     map[ApplicationStatus]int{},
		TotalDays:    generic.Days(0),
		ApprovedDays: generic.Days(0),
	}
	types := newCounter()
	months := newCounter()
	for _, app := range apps {
		report.ByStatus[app.Status]++
		report.TotalDays = report.TotalDays.Add(app.BusinessDays)
		if app.Status == StatusApproved {
			report.ApprovedDays = report.ApprovedDays.Add(app.BusinessDays)
		}
		types.add(string(app.LeaveTypeID))
		months.add(generic.BucketKey(app.Start, generic.BucketMonth))
	}

	if ranked := types.ranked(); len(ranked) > 0 {
		report.MostPopular = LeaveTypeID(ranked[0].Key)
		report.MostPopularCount = ranked[0].Count
	}
	peaks := months.ranked()
	if len(peaks) > PeakMonthCount {
		peaks = peaks[:PeakMonthCount]
	}
	report.PeakMonths = peaks
	return report, nil
}

// =============================================================================
// BALANCES
// =============================================================================

type BalanceRollup struct {
	LeaveTypeID LeaveTypeID
	Name        string
	Rows        int
	Allocated   generic.Amount
	Used        generic.Amount
	Remaining   generic.Amount
	Utilization decimal.Decimal // percent, two places
}

func (r *BalanceRollup) add(b LeaveBalance) {
	r.Rows++
	r.Allocated = r.Allocated.Add(b.TotalDays)
	r.Used = r.Used.Add(b.UsedDays)
	r.Remaining = r.Remaining.Add(b.Remaining())
}

func (r *BalanceRollup) finish() {
	r.Utilization = generic.Percent(r.Used.Value, r.Allocated.Value)
}

type BalanceReport struct {
	Year       int
	EmployeeID EmployeeID // empty for all employees
	BalanceRollup
	ByLeaveType []BalanceRollup
}

// Balances rolls up the stored rows of year. Rows never initialized are not counted.
func (a *Aggregator) Balances(ctx context.Context, year int, employeeID EmployeeID) (BalanceReport, error) {
	rows, err := a.Store.ListBalances(ctx, BalanceFilter{EmployeeID: employeeID, Year: year})
	if err != nil {
		return BalanceReport{}, fmt.Errorf("list balances: %w", err)
	}

	report := BalanceReport{Year: year, EmployeeID: employeeID, BalanceRollup: emptyRollup("")}
	index := map[LeaveTypeID]int{}
	for _, b := range rows {
		report.BalanceRollup.add(b)
		i, ok := index[b.LeaveTypeID]
		if !ok {
			i = len(report.ByLeaveType)
			index[b.LeaveTypeID] = i
			report.ByLeaveType = append(report.ByLeaveType, emptyRollup(b.LeaveTypeID))
		}
		report.ByLeaveType[i].add(b)
	}
	report.BalanceRollup.finish()
	for i := range report.ByLeaveType {
		r := &report.ByLeaveType[i]
		r.finish()
		if lt, err := a.Store.GetLeaveType(ctx, r.LeaveTypeID); err == nil {
			r.Name = lt.Name
		}
	}
	return report, nil
}

func emptyRollup(id LeaveTypeID) BalanceRollup {
	return BalanceRollup{
		LeaveTypeID: id,
		Allocated:   generic.Days(0),
		Used:        generic.Days(0),
		Remaining:   generic.Days(0),
		Utilization: decimal.Zero,
	}
}

// =============================================================================
// TRENDS
// =============================================================================

type TrendQuery struct {
	From        generic.TimePoint
	To          generic.TimePoint
	Granularity generic.BucketGranularity
	LeaveTypeID LeaveTypeID
}

type TrendBucket struct {
	Key           string
	Period        generic.Period
	Applications  int
	RequestedDays generic.Amount
	ApprovedDays  generic.Amount
	ApprovalRate  decimal.Decimal // approved/requested days, percent
}

// Trends buckets applications by start date. Every bucket between From and To
// is returned, empty ones included, in chronological order.
func (a *Aggregator) Trends(ctx context.Context, q TrendQuery) ([]TrendBucket, error) {
	period, err := generic.NewPeriod(q.From, q.To)
	if err != nil {
		return nil, err
	}
	g := q.Granularity
	if g == "" {
		g = generic.BucketMonth
	}
	if g != generic.BucketMonth && g != generic.BucketQuarter {
		return nil, fmt.Errorf("%w: unknown granularity %q", ErrInvalidQuery, g)
	}

	apps, err := a.Store.ListApplications(ctx, ApplicationFilter{LeaveTypeID: q.LeaveTypeID, Range: &period})
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}

	var buckets []TrendBucket
	index := map[string]int{}
	for cur := generic.BucketPeriod(period.Start, g); cur.Start.BeforeOrEqual(period.End); cur = generic.BucketPeriod(cur.End.AddDays(1), g) {
		key := generic.BucketKey(cur.Start, g)
		index[key] = len(buckets)
		buckets = append(buckets, TrendBucket{
			Key:           key,
			Period:        cur,
			RequestedDays: generic.Days(0),
			ApprovedDays:  generic.Days(0),
			ApprovalRate:  decimal.Zero,
		})
	}

	for _, app := range apps {
		if !period.Contains(app.Start) {
			continue
		}
		b := &buckets[index[generic.BucketKey(app.Start, g)]]
		b.Applications++
		b.RequestedDays = b.RequestedDays.Add(app.BusinessDays)
		if app.Status == StatusApproved {
			b.ApprovedDays = b.ApprovedDays.Add(app.BusinessDays)
		}
	}
	for i := range buckets {
		buckets[i].ApprovalRate = generic.Percent(buckets[i].ApprovedDays.Value, buckets[i].RequestedDays.Value)
	}
	return buckets, nil
}

// =============================================================================
// TEAM CALENDAR
// =============================================================================

// CalendarEntry is one employee absent on one date.
type CalendarEntry struct {
	Date          generic.TimePoint
	EmployeeID    EmployeeID
	LeaveTypeID   LeaveTypeID
	ApplicationID ApplicationID
}

// TeamCalendar expands every approved application intersecting [from, to]
// into one entry per date of the application, [start, end] inclusive.
// Entries are not clipped to the query range.
func (a *Aggregator) TeamCalendar(ctx context.Context, from, to generic.TimePoint, employees []EmployeeID) ([]CalendarEntry, error) {
	period, err := generic.NewPeriod(from, to)
	if err != nil {
		return nil, err
	}
	apps, err := a.Store.ListApplications(ctx, ApplicationFilter{
		EmployeeIDs: employees,
		Statuses:    []ApplicationStatus{StatusApproved},
		Range:       &period,
	})
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}

	var entries []CalendarEntry
	for _, app := range apps {
		for _, day := range app.Period().Days() {
			entries = append(entries, CalendarEntry{
				Date:          day,
				EmployeeID:    app.EmployeeID,
				LeaveTypeID:   app.LeaveTypeID,
				ApplicationID: app.ID,
			})
		}
	}
	return entries, nil
}
