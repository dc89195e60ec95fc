package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/dronexam-api/internal/dto"
	"github.com/noah-isme/dronexam-api/internal/models"
	"github.com/noah-isme/dronexam-api/internal/repository"
	"github.com/noah-isme/dronexam-api/pkg/clock"
	appErrors "github.com/noah-isme/dronexam-api/pkg/errors"
)

const (
	defaultStartOfDay = models.TimeOfDay(9 * time.Hour)
	defaultEndOfDay   = models.TimeOfDay(17 * time.Hour)

	// maxRolloverDays bounds how far a batch may spill past exam_date.
	maxRolloverDays = 31
	maxSlotMinutes  = 480
)

// BatchPlan is a validated, ordered set of placements that has not been
// persisted yet.
type BatchPlan struct {
	PrincipalID string
	Venue       models.Venue
	Product     models.ExamProduct
	Activity    models.ActivityType
	Proposals   []models.Schedule

	// seen records candidate statuses observed while proposing; commit
	// rejects the plan if any of them moved in the meantime.
	seen map[int64]models.CandidateStatus
}

// Lanes returns the distinct lanes touched by the plan in lock order.
func (p *BatchPlan) Lanes() []models.Lane {
	lanes := make([]models.Lane, 0, len(p.Proposals))
	for _, s := range p.Proposals {
		lanes = append(lanes, s.Lane())
	}
	return sortLanes(lanes)
}

// SchedulerService places batches of candidates onto a venue calendar.
type SchedulerService struct {
	store     txStore
	guard     *AccessGuard
	events    EventPublisher
	clock     clock.Clock
	retry     RetryPolicy
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSchedulerService wires scheduler dependencies.
func NewSchedulerService(store txStore, guard *AccessGuard, events EventPublisher, clk clock.Clock, retry RetryPolicy, validate *validator.Validate, logger *zap.Logger) *SchedulerService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = nopPublisher{}
	}
	if clk == nil {
		clk = clock.Real()
	}
	if guard == nil {
		guard = NewAccessGuard(nil, events, clk, logger)
	}
	retry = withAlerts(retry, events, clk, logger)
	return &SchedulerService{
		store:     store,
		guard:     guard,
		events:    events,
		clock:     clk,
		retry:     retry,
		validator: validate,
		logger:    logger,
	}
}

// ScheduleBatch proposes and commits a batch. Either every candidate is
// placed or nothing is persisted.
func (s *SchedulerService) ScheduleBatch(ctx context.Context, principal models.Principal, req dto.BatchScheduleRequest) ([]models.Schedule, error) {
	plan, err := s.Propose(ctx, principal, req)
	if err != nil {
		return nil, err
	}
	return s.Commit(ctx, plan)
}

// Propose validates the request and computes placements without writing.
func (s *SchedulerService) Propose(ctx context.Context, principal models.Principal, req dto.BatchScheduleRequest) (*BatchPlan, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid batch schedule payload")
	}
	if err := s.guard.Authorize(ctx, principal, ActionScheduleWrite, Resource{}); err != nil {
		return nil, err
	}

	date, err := models.ParseDate(req.ExamDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "exam_date must be YYYY-MM-DD")
	}
	startOfDay, endOfDay, err := dayBounds(req.StartOfDay, req.EndOfDay)
	if err != nil {
		return nil, err
	}
	if err := uniqueIDs(req.CandidateIDs); err != nil {
		return nil, err
	}

	venue, err := s.store.GetVenue(ctx, req.VenueID)
	if err != nil {
		return nil, loadError(err, "venue")
	}
	if !venue.Schedulable() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("venue %d is not schedulable", venue.ID))
	}
	product, err := s.store.GetProduct(ctx, req.ExamProductID)
	if err != nil {
		return nil, loadError(err, "exam product")
	}
	activity, ok := product.ActivityAt(venue.Kind)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("venue kind %s does not host product kind %s", venue.Kind, product.Kind))
	}
	duration := req.Policy.PerCandidateDurationMin
	if duration == 0 {
		duration = product.DurationFor(activity)
	}
	if duration < 1 || duration > maxSlotMinutes {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("per candidate duration must be between 1 and %d minutes", maxSlotMinutes))
	}

	candidates, err := s.store.GetCandidates(ctx, req.CandidateIDs)
	if err != nil {
		return nil, loadError(err, "candidates")
	}
	if len(candidates) != len(req.CandidateIDs) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "one or more candidates not found")
	}

	plan := &BatchPlan{
		PrincipalID: principal.ID,
		Venue:       *venue,
		Product:     *product,
		Activity:    activity,
		seen:        make(map[int64]models.CandidateStatus, len(candidates)),
	}
	busy := make(map[int64][]models.Schedule, len(candidates))
	checkedInstitutions := map[int64]bool{}
	for _, c := range candidates {
		if err := s.guard.Authorize(ctx, principal, ActionScheduleWrite, Resource{InstitutionID: c.InstitutionID, CandidateID: c.ID}); err != nil {
			return nil, err
		}
		if c.ExamProductID != product.ID {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("candidate %d is registered for another exam product", c.ID))
		}
		if !checkedInstitutions[c.InstitutionID] {
			inst, err := s.store.GetInstitution(ctx, c.InstitutionID)
			if err != nil {
				return nil, loadError(err, "institution")
			}
			if inst.Status != models.StatusActive {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("institution %d is inactive", inst.ID))
			}
			checkedInstitutions[c.InstitutionID] = true
		}

		own, err := s.store.ListSchedulesByCandidate(ctx, c.ID)
		if err != nil {
			return nil, loadError(err, "candidate schedules")
		}
		if err := ensureEligible(c, *product, activity, own); err != nil {
			return nil, err
		}
		busy[c.ID] = own
		plan.seen[c.ID] = c.Status
	}

	orderCandidates(candidates, req.Policy.GroupByInstitution)

	p := placement{
		venue:      *venue,
		activity:   activity,
		loc:        venue.Location(),
		startOfDay: startOfDay,
		endOfDay:   endOfDay,
		duration:   time.Duration(duration) * time.Minute,
		gap:        time.Duration(req.Policy.GapMin) * time.Minute,
		maxPerDay:  req.Policy.MaxPerDay,
		rollover:   req.Policy.AllowRolloverDays,
		load: func(day time.Time) ([]models.Schedule, error) {
			return s.store.ListVenueDay(ctx, venue.ID, day)
		},
	}
	proposals, err := p.run(date, candidates, busy)
	if err != nil {
		return nil, err
	}
	for i := range proposals {
		proposals[i].ExamProductID = product.ID
	}
	plan.Proposals = proposals
	return plan, nil
}

// Commit re-checks every proposal against the live calendar inside one
// transaction and inserts them in proposal order. A slot taken by a
// concurrent writer aborts the whole batch with CONFLICT after retries.
func (s *SchedulerService) Commit(ctx context.Context, plan *BatchPlan) ([]models.Schedule, error) {
	if plan == nil || len(plan.Proposals) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "empty batch plan")
	}
	var (
		created []models.Schedule
		snaps   []laneSnapshot
	)
	now := s.clock.Now()
	err := s.retry.Do(ctx, "schedule batch", func(ctx context.Context) error {
		created = make([]models.Schedule, 0, len(plan.Proposals))
		snaps = snaps[:0]
		return s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			for _, day := range plan.dates() {
				if err := tx.LockCalendar(ctx, plan.Venue.ID, day); err != nil {
					return err
				}
			}
			lanes := plan.Lanes()
			for _, lane := range lanes {
				if err := tx.LockLane(ctx, lane); err != nil {
					return err
				}
			}

			ids := plan.candidateIDs()
			locked, err := tx.LoadCandidatesForUpdate(ctx, ids)
			if err != nil {
				return loadError(err, "candidates")
			}
			byID := make(map[int64]models.Candidate, len(locked))
			for _, c := range locked {
				byID[c.ID] = c
			}
			for _, id := range ids {
				c, ok := byID[id]
				if !ok || c.Status != plan.seen[id] {
					return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("candidate %d changed while scheduling", id))
				}
			}

			for _, proposal := range plan.Proposals {
				row := proposal
				existing, err := tx.LoadSchedulesInWindow(ctx, row.VenueID, row.ExamDate, row.StartTime, row.EndTime)
				if err != nil {
					return loadError(err, "venue calendar")
				}
				if !IsFree(plan.Venue, existing, row.StartTime, row.EndTime, row.ActivityType) {
					return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("slot %s at venue %d is no longer free", row.StartTime.Format(time.RFC3339), row.VenueID))
				}
				own, err := tx.ListSchedulesByCandidate(ctx, row.CandidateID)
				if err != nil {
					return loadError(err, "candidate schedules")
				}
				if !CandidateFree(own, row.StartTime, row.EndTime) {
					return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("candidate %d already holds an overlapping slot", row.CandidateID))
				}
				if err := tx.InsertSchedule(ctx, &row); err != nil {
					return writeError(err, "insert schedule")
				}
				created = append(created, row)
			}

			for _, id := range ids {
				c := byID[id]
				if !c.Status.CanAdvance(models.CandidateScheduled) {
					continue
				}
				c.Status = models.CandidateScheduled
				if err := tx.UpdateCandidateStatus(ctx, &c); err != nil {
					return writeError(err, "update candidate status")
				}
			}

			for _, lane := range lanes {
				snap, err := recomputeLane(ctx, tx, lane, now)
				if err != nil {
					return err
				}
				snaps = append(snaps, snap)
			}
			return nil
		})
	})
	if err != nil {
		s.logger.Warn("batch schedule failed", zap.Int64("venue_id", plan.Venue.ID), zap.Int("size", len(plan.Proposals)), zap.Error(err))
		return nil, err
	}

	for i := range created {
		for _, snap := range snaps {
			if pos, ok := snap.Positions[created[i].ID]; ok {
				created[i].QueuePosition = intPtr(pos)
				created[i].EstimatedWaitMin = intPtr(snap.Waits[created[i].ID])
			}
		}
	}
	s.publishBatch(plan, created, snaps)
	s.logger.Info("batch scheduled", zap.Int64("venue_id", plan.Venue.ID), zap.Int("size", len(created)), zap.String("principal", plan.PrincipalID))
	return created, nil
}

func (s *SchedulerService) publishBatch(plan *BatchPlan, created []models.Schedule, snaps []laneSnapshot) {
	now := s.clock.Now()
	counts := map[string]int{}
	for _, row := range created {
		counts[row.Lane().Key()]++
	}
	events := make([]models.Event, 0, 2*len(snaps))
	for _, snap := range snaps {
		events = append(events,
			models.Event{ID: uuid.NewString(), Type: models.EventBatchScheduled, OccurredAt: now, PrincipalID: plan.PrincipalID, Lane: lanePtr(snap.Lane), Count: counts[snap.Lane.Key()]},
			models.Event{ID: uuid.NewString(), Type: models.EventLaneRecomputed, OccurredAt: now, PrincipalID: plan.PrincipalID, Lane: lanePtr(snap.Lane), Count: snap.Changed},
		)
	}
	s.events.Publish(events...)
}

func (p *BatchPlan) dates() []time.Time {
	seen := map[time.Time]bool{}
	var out []time.Time
	for _, s := range p.Proposals {
		if !seen[s.ExamDate] {
			seen[s.ExamDate] = true
			out = append(out, s.ExamDate)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (p *BatchPlan) candidateIDs() []int64 {
	ids := make([]int64, 0, len(p.Proposals))
	for _, s := range p.Proposals {
		ids = append(ids, s.CandidateID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func dayBounds(rawStart, rawEnd string) (models.TimeOfDay, models.TimeOfDay, error) {
	start, end := defaultStartOfDay, defaultEndOfDay
	var err error
	if rawStart != "" {
		if start, err = models.ParseTimeOfDay(rawStart); err != nil {
			return 0, 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "start_of_day must be HH:MM")
		}
	}
	if rawEnd != "" {
		if end, err = models.ParseTimeOfDay(rawEnd); err != nil {
			return 0, 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "end_of_day must be HH:MM")
		}
	}
	if end <= start {
		return 0, 0, appErrors.Clone(appErrors.ErrValidation, "end_of_day must be after start_of_day")
	}
	return start, end, nil
}

func uniqueIDs(ids []int64) error {
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("candidate %d listed twice", id))
		}
		seen[id] = true
	}
	return nil
}

// ensureEligible accepts PendingSchedule candidates, and Scheduled
// candidates of combined products that still lack this activity.
func ensureEligible(c models.Candidate, product models.ExamProduct, activity models.ActivityType, own []models.Schedule) error {
	switch c.Status {
	case models.CandidatePendingSchedule:
	case models.CandidateScheduled:
		if product.Kind != models.ProductTheoryPlusPractical {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("candidate %d is not pending schedule", c.ID))
		}
	default:
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("candidate %d is not pending schedule", c.ID))
	}
	for _, s := range own {
		if s.ActivityType != activity {
			continue
		}
		switch s.Status {
		case models.ScheduleCancelled, models.ScheduleNoShow:
		default:
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("candidate %d already holds a %s schedule", c.ID, activity))
		}
	}
	return nil
}

func orderCandidates(candidates []models.Candidate, groupByInstitution bool) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if groupByInstitution && candidates[i].InstitutionID != candidates[j].InstitutionID {
			return candidates[i].InstitutionID < candidates[j].InstitutionID
		}
		return candidates[i].ID < candidates[j].ID
	})
}

// placement walks a cursor through venue days and emits one slot per
// candidate.
type placement struct {
	venue      models.Venue
	activity   models.ActivityType
	loc        *time.Location
	startOfDay models.TimeOfDay
	endOfDay   models.TimeOfDay
	duration   time.Duration
	gap        time.Duration
	maxPerDay  int
	rollover   bool
	load       func(day time.Time) ([]models.Schedule, error)
}

func (p placement) run(examDate time.Time, candidates []models.Candidate, busy map[int64][]models.Schedule) ([]models.Schedule, error) {
	var (
		day         = examDate
		offset      = 0
		cursor      = p.startOfDay.On(day, p.loc)
		dayEnd      = p.endOfDay.On(day, p.loc)
		placedToday = 0
		calendar    = map[time.Time][]models.Schedule{}
		proposals   = make([]models.Schedule, 0, len(candidates))
	)

	advance := func(reason string) error {
		if !p.rollover {
			return appErrors.Clone(appErrors.ErrCapacity, fmt.Sprintf("%s on %s and rollover is disabled", reason, models.FormatDate(day)))
		}
		offset++
		if offset > maxRolloverDays {
			return appErrors.Clone(appErrors.ErrCapacity, fmt.Sprintf("no free slot within %d days of %s", maxRolloverDays, models.FormatDate(examDate)))
		}
		day = day.AddDate(0, 0, 1)
		cursor = p.startOfDay.On(day, p.loc)
		dayEnd = p.endOfDay.On(day, p.loc)
		placedToday = 0
		return nil
	}

	for _, c := range candidates {
		for {
			if p.maxPerDay > 0 && placedToday >= p.maxPerDay {
				if err := advance("max_per_day reached"); err != nil {
					return nil, err
				}
				continue
			}
			if cursor.Add(p.duration).After(dayEnd) {
				if err := advance("day is full"); err != nil {
					return nil, err
				}
				continue
			}

			existing, ok := calendar[day]
			if !ok {
				rows, err := p.load(day)
				if err != nil {
					return nil, loadError(err, "venue calendar")
				}
				existing = rows
			}
			start, found := NextFreeStart(p.venue, existing, busy[c.ID], cursor, dayEnd, p.duration, p.activity)
			if !found {
				calendar[day] = existing
				if err := advance("no free window left"); err != nil {
					return nil, err
				}
				continue
			}

			slot := models.Schedule{
				CandidateID:  c.ID,
				VenueID:      p.venue.ID,
				ExamDate:     day,
				StartTime:    start,
				EndTime:      start.Add(p.duration),
				ActivityType: p.activity,
				Status:       models.SchedulePending,
			}
			proposals = append(proposals, slot)
			calendar[day] = append(existing, slot)
			busy[c.ID] = append(busy[c.ID], slot)
			cursor = slot.EndTime.Add(p.gap)
			placedToday++
			break
		}
	}
	return proposals, nil
}
