/*
scheduler.go - Year-end initialization and carry-over scheduler

PURPOSE:

	Periodically checks whether the current year has been initialized and
	whether each leave type's carry-over out of the previous year has run,
	and runs whatever is missing.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Every completed routine is recorded as a leave.YearEndRun
  - A recorded run is never repeated; carry-over transfers are not
    idempotent, so the run records are what keeps them single-shot
  - Rules that require approval are left for an administrator

ORDER ON EACH TICK:
 1. Initialize the current year if no initialize run is recorded
 2. For each active leave type with a carry-over rule, carry the previous
    year over unless a carry_over run is recorded for (type, year)

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:

	scheduler := NewYearEndScheduler(yearEnd, store)
	scheduler.Start()
	// ... later
	scheduler.Stop()

SEE ALSO:
  - handlers.go: Manual carry-over and initialization endpoints
  - leave/carryover.go: CarryOverEngine
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// ErrAlreadyRun is returned when a year-end routine is already recorded.
var ErrAlreadyRun = errors.New("year-end routine already recorded")

// =============================================================================
// YEAR-END ROUTINES - Shared by the scheduler and the admin endpoints
// =============================================================================

// YearEnd runs initialization and carry-over and records each run.
type YearEnd struct {
	Runs            leave.RunStore
	Ledger          *leave.Ledger
	CarryOverEngine *leave.CarryOverEngine
	Clock           generic.Clock
	Logger          *slog.Logger

	// Actor is recorded on runs started without one.
	Actor string

	// Serializes routines within this process.
	mu sync.Mutex
}

// InitializeYear creates the missing balance rows of year. Unless force is
// set, a recorded initialize run for year fails with ErrAlreadyRun.
func (y *YearEnd) InitializeYear(ctx context.Context, year int, actor string, force bool) (leave.YearEndRun, error) {
	y.mu.Lock()
	defer y.mu.Unlock()

	if !force {
		if _, found, err := y.Runs.FindRun(ctx, leave.RunInitialize, "", year); err != nil {
			return leave.YearEndRun{}, err
		} else if found {
			return leave.YearEndRun{}, fmt.Errorf("%w: initialize %d", ErrAlreadyRun, year)
		}
	}

	started := y.now()
	created, err := y.Ledger.BulkInitializeYear(ctx, year)
	if err != nil {
		return leave.YearEndRun{}, err
	}

	run := leave.YearEndRun{
		ID:         uuid.NewString(),
		Kind:       leave.RunInitialize,
		Year:       year,
		Processed:  created,
		Actor:      y.actor(actor),
		StartedAt:  started,
		FinishedAt: y.now(),
	}
	if err := y.Runs.RecordRun(ctx, run); err != nil {
		return run, fmt.Errorf("record run: %w", err)
	}
	return run, nil
}

// CarryOver runs one carry-over batch and records it. Unless force is set,
// a recorded run for (leave type, from year) fails with ErrAlreadyRun.
func (y *YearEnd) CarryOver(ctx context.Context, req leave.CarryOverRequest, force bool) (leave.CarryOverReport, leave.YearEndRun, error) {
	y.mu.Lock()
	defer y.mu.Unlock()

	if !force {
		if _, found, err := y.Runs.FindRun(ctx, leave.RunCarryOver, req.LeaveTypeID, req.FromYear); err != nil {
			return leave.CarryOverReport{}, leave.YearEndRun{}, err
		} else if found {
			return leave.CarryOverReport{}, leave.YearEndRun{},
				fmt.Errorf("%w: carry-over %s from %d", ErrAlreadyRun, req.LeaveTypeID, req.FromYear)
		}
	}

	req.Actor = y.actor(req.Actor)
	started := y.now()
	report, err := y.CarryOverEngine.Run(ctx, req)
	if err != nil {
		return leave.CarryOverReport{}, leave.YearEndRun{}, err
	}

	run := leave.YearEndRun{
		ID:          uuid.NewString(),
		Kind:        leave.RunCarryOver,
		LeaveTypeID: req.LeaveTypeID,
		Year:        req.FromYear,
		Processed:   report.Transferred,
		Failed:      len(report.Failures),
		Actor:       req.Actor,
		StartedAt:   started,
		FinishedAt:  y.now(),
	}
	if err := y.Runs.RecordRun(ctx, run); err != nil {
		return report, run, fmt.Errorf("record run: %w", err)
	}
	return report, run, nil
}

func (y *YearEnd) actor(a string) string {
	if a != "" {
		return a
	}
	if y.Actor != "" {
		return y.Actor
	}
	return leave.DefaultCarryOverActor
}

func (y *YearEnd) now() time.Time {
	if y.Clock == nil {
		return time.Now().UTC()
	}
	return y.Clock.Now()
}

func (y *YearEnd) logger() *slog.Logger {
	if y.Logger == nil {
		return slog.Default()
	}
	return y.Logger
}

// =============================================================================
// SCHEDULER
// =============================================================================

// YearEndScheduler handles automated year-end routines.
type YearEndScheduler struct {
	YearEnd       *YearEnd
	Catalog       leave.CatalogStore
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// TickResult summarizes one scheduler pass.
type TickResult struct {
	Year        int
	Initialized bool
	CarriedOver []leave.LeaveTypeID
	Skipped     int
	Errors      []error
}

func NewYearEndScheduler(yearEnd *YearEnd, catalog leave.CatalogStore) *YearEndScheduler {
	return &YearEndScheduler{
		YearEnd:       yearEnd,
		Catalog:       catalog,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (s *YearEndScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.YearEnd.logger()
	if !s.Enabled {
		log.Info("[Scheduler] Disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run()

	log.Info("[Scheduler] Started", "check_interval", s.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight pass.
func (s *YearEndScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.YearEnd.logger().Info("[Scheduler] Stopped")
	}
}

func (s *YearEndScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.RunNow(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunNow performs one pass for the current year.
func (s *YearEndScheduler) RunNow(ctx context.Context) TickResult {
	ye := s.YearEnd
	log := ye.logger()
	year := ye.now().Year()
	res := TickResult{Year: year}

	log.Debug("[Scheduler] Checking year-end routines", "year", year)

	if _, err := ye.InitializeYear(ctx, year, "", false); err == nil {
		res.Initialized = true
	} else if errors.Is(err, ErrAlreadyRun) {
		res.Skipped++
	} else {
		log.Error("[Scheduler] Initialization failed", "year", year, "err", err)
		res.Errors = append(res.Errors, err)
	}

	types, err := s.Catalog.ListLeaveTypes(ctx, true)
	if err != nil {
		log.Error("[Scheduler] Listing leave types failed", "err", err)
		res.Errors = append(res.Errors, err)
		return res
	}

	for _, lt := range types {
		rule, err := s.Catalog.GetCarryOverRule(ctx, lt.ID)
		if errors.Is(err, generic.ErrNotFound) {
			continue
		}
		if err != nil {
			log.Error("[Scheduler] Reading carry-over rule failed", "leave_type", lt.ID, "err", err)
			res.Errors = append(res.Errors, err)
			continue
		}
		if rule.RequiresApproval {
			log.Info("[Scheduler] Carry-over awaits approval", "leave_type", lt.ID, "from_year", year-1)
			res.Skipped++
			continue
		}

		report, _, err := ye.CarryOver(ctx, leave.CarryOverRequest{LeaveTypeID: lt.ID, FromYear: year - 1}, false)
		switch {
		case errors.Is(err, ErrAlreadyRun):
			res.Skipped++
		case err != nil:
			log.Error("[Scheduler] Carry-over failed", "leave_type", lt.ID, "from_year", year-1, "err", err)
			res.Errors = append(res.Errors, err)
		default:
			res.CarriedOver = append(res.CarriedOver, lt.ID)
			log.Info("[Scheduler] Carry-over processed",
				"leave_type", lt.ID, "from_year", year-1,
				"transferred", report.Transferred, "total_days", report.TotalDays.String())
		}
	}

	if res.Initialized || len(res.CarriedOver) > 0 {
		log.Info("[Scheduler] Completed",
			"initialized", res.Initialized, "carried_over", len(res.CarriedOver), "skipped", res.Skipped)
	}
	return res
}

// NextRunTime returns when the next scheduled check will occur.
func (s *YearEndScheduler) NextRunTime() time.Time {
	return s.YearEnd.now().Add(s.CheckInterval)
}
