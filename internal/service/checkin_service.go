package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/dronexam-api/internal/models"
	"github.com/noah-isme/dronexam-api/internal/repository"
	"github.com/noah-isme/dronexam-api/pkg/clock"
	appErrors "github.com/noah-isme/dronexam-api/pkg/errors"
	"github.com/noah-isme/dronexam-api/pkg/qrtoken"
)

// DefaultCheckInEarlyWindow is how long before start_time a scan is accepted.
const DefaultCheckInEarlyWindow = 30 * time.Minute

type tokenCodec interface {
	Encode(scheduleID, candidateID int64, now time.Time) (string, qrtoken.Claims, error)
	Decode(token string, now time.Time) (qrtoken.Claims, error)
}

// CheckInConfig tunes the check-in window.
type CheckInConfig struct {
	EarlyWindow time.Duration
}

// CheckInService drives schedules through check-in, service and completion
// while keeping every lane's queue consistent.
type CheckInService struct {
	store       txStore
	codec       tokenCodec
	guard       *AccessGuard
	events      EventPublisher
	clock       clock.Clock
	retry       RetryPolicy
	earlyWindow time.Duration
	logger      *zap.Logger
}

// NewCheckInService wires check-in dependencies.
func NewCheckInService(store txStore, codec tokenCodec, guard *AccessGuard, events EventPublisher, clk clock.Clock, retry RetryPolicy, cfg CheckInConfig, logger *zap.Logger) *CheckInService {
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
	if cfg.EarlyWindow <= 0 {
		cfg.EarlyWindow = DefaultCheckInEarlyWindow
	}
	retry = withAlerts(retry, events, clk, logger)
	return &CheckInService{
		store:       store,
		codec:       codec,
		guard:       guard,
		events:      events,
		clock:       clk,
		retry:       retry,
		earlyWindow: cfg.EarlyWindow,
		logger:      logger,
	}
}

// Scan checks in the candidate bound to token.
func (s *CheckInService) Scan(ctx context.Context, staff models.Principal, token string) (*models.CheckInResult, error) {
	if err := s.guard.Authorize(ctx, staff, ActionCheckIn, Resource{}); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	claims, err := s.codec.Decode(token, now)
	if err != nil {
		return nil, err
	}
	lane, err := s.laneOf(ctx, claims.ScheduleID)
	if err != nil {
		return nil, err
	}

	var (
		result *models.CheckInResult
		snap   laneSnapshot
	)
	err = s.retry.Do(ctx, "scan", func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			if err := tx.LockLane(ctx, lane); err != nil {
				return err
			}
			res, err := s.checkIn(ctx, tx, staff, claims, now)
			if err != nil {
				return err
			}
			if snap, err = recomputeLane(ctx, tx, lane, now); err != nil {
				return err
			}
			result = res
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	applyQueue(result, snap)
	s.events.Publish(checkedInEvent(staff, result, lane, now), recomputedEvent(staff, snap, now))
	return result, nil
}

// BatchScan checks in many tokens. Tokens are processed independently but
// grouped by lane so each lane is recomputed once. Per-token failures are
// reported in the outcome list; the call itself fails only on access.
func (s *CheckInService) BatchScan(ctx context.Context, staff models.Principal, tokens []string) ([]models.ScanOutcome, error) {
	if err := s.guard.Authorize(ctx, staff, ActionCheckIn, Resource{}); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	outcomes := make([]models.ScanOutcome, len(tokens))

	type item struct {
		index  int
		claims qrtoken.Claims
	}
	groups := map[string][]item{}
	lanes := make([]models.Lane, 0)
	for i, token := range tokens {
		outcomes[i].Index = i
		claims, err := s.codec.Decode(token, now)
		if err != nil {
			outcomes[i].Error = outcomeError(err)
			continue
		}
		lane, err := s.laneOf(ctx, claims.ScheduleID)
		if err != nil {
			outcomes[i].Error = outcomeError(err)
			continue
		}
		key := lane.Key()
		if _, ok := groups[key]; !ok {
			lanes = append(lanes, lane)
		}
		groups[key] = append(groups[key], item{index: i, claims: claims})
	}

	var events []models.Event
	for _, lane := range sortLanes(lanes) {
		items := groups[lane.Key()]
		var (
			results map[int]*models.CheckInResult
			errs    map[int]error
			snap    laneSnapshot
		)
		err := s.retry.Do(ctx, "batch scan", func(ctx context.Context) error {
			results = map[int]*models.CheckInResult{}
			errs = map[int]error{}
			return s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
				if err := tx.LockLane(ctx, lane); err != nil {
					return err
				}
				for _, it := range items {
					res, err := s.checkIn(ctx, tx, staff, it.claims, now)
					if err != nil {
						if appErrors.Retryable(err) || appErrors.KindOf(err) == appErrors.KindInternal {
							return err
						}
						errs[it.index] = err
						continue
					}
					results[it.index] = res
				}
				if len(results) == 0 {
					return nil
				}
				var err error
				snap, err = recomputeLane(ctx, tx, lane, now)
				return err
			})
		})
		for _, it := range items {
			switch {
			case err != nil:
				outcomes[it.index].Error = outcomeError(err)
			case errs[it.index] != nil:
				outcomes[it.index].Error = outcomeError(errs[it.index])
			default:
				res := results[it.index]
				applyQueue(res, snap)
				outcomes[it.index].Result = res
				events = append(events, checkedInEvent(staff, res, lane, now))
			}
		}
		if err == nil && len(results) > 0 {
			events = append(events, recomputedEvent(staff, snap, now))
		}
	}
	s.events.Publish(events...)
	return outcomes, nil
}

// checkIn validates and applies one scan inside tx. The lane lock is held by
// the caller.
func (s *CheckInService) checkIn(ctx context.Context, tx repository.Tx, staff models.Principal, claims qrtoken.Claims, now time.Time) (*models.CheckInResult, error) {
	schedule, err := tx.LoadScheduleForUpdate(ctx, claims.ScheduleID)
	if err != nil {
		return nil, loadError(err, "schedule")
	}
	if err := s.guard.Authorize(ctx, staff, ActionCheckIn, Resource{VenueID: schedule.VenueID}); err != nil {
		return nil, err
	}
	if schedule.CandidateID != claims.CandidateID {
		return nil, appErrors.ErrWrongCandidate
	}
	candidate, err := tx.LoadCandidateForUpdate(ctx, claims.CandidateID)
	if err != nil {
		return nil, loadError(err, "candidate")
	}
	if !schedule.Status.CanTransition(models.ScheduleCheckedIn) {
		return nil, statusError(schedule.Status)
	}
	venue, err := tx.GetVenue(ctx, schedule.VenueID)
	if err != nil {
		return nil, loadError(err, "venue")
	}
	if !models.Date(now, venue.Location()).Equal(schedule.ExamDate) {
		return nil, appErrors.ErrWrongDay
	}
	if now.Before(schedule.StartTime.Add(-s.earlyWindow)) {
		return nil, appErrors.ErrTooEarly
	}
	if !now.Before(schedule.EndTime) {
		return nil, appErrors.ErrTooLate
	}

	waiting, ok := models.WaitingFor(schedule.ActivityType)
	if !ok || !candidate.Status.CanAdvance(waiting) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransit, fmt.Sprintf("candidate cannot move from %s to %s", candidate.Status, waiting))
	}

	checkInAt := now
	schedule.Status = models.ScheduleCheckedIn
	schedule.CheckInAt = &checkInAt
	if err := tx.UpdateScheduleStatus(ctx, schedule); err != nil {
		return nil, writeError(err, "check in schedule")
	}
	venueID := schedule.VenueID
	candidate.Status = waiting
	candidate.CurrentVenueID = &venueID
	if err := tx.UpdateCandidateStatus(ctx, candidate); err != nil {
		return nil, writeError(err, "update candidate status")
	}

	lateness := now.Sub(schedule.StartTime)
	if lateness < 0 {
		lateness = 0
	}
	return &models.CheckInResult{
		ScheduleID:          schedule.ID,
		CandidateID:         candidate.ID,
		CandidateNameMasked: models.MaskName(candidate.FullName),
		ActivityType:        schedule.ActivityType,
		VenueID:             schedule.VenueID,
		CheckInAt:           checkInAt,
		LatenessSeconds:     int64(lateness / time.Second),
	}, nil
}

// MarkInProgress starts service for a checked-in schedule.
func (s *CheckInService) MarkInProgress(ctx context.Context, staff models.Principal, scheduleID int64) (*models.Schedule, error) {
	return s.transition(ctx, staff, ActionScheduleOperate, scheduleID, models.EventInProgress, func(ctx context.Context, tx repository.Tx, schedule *models.Schedule, now time.Time) error {
		if !schedule.Status.CanTransition(models.ScheduleInProgress) {
			if schedule.Status == models.SchedulePending {
				return appErrors.Clone(appErrors.ErrInvalidTransit, "schedule has not been checked in")
			}
			return statusError(schedule.Status)
		}
		venue, err := tx.GetVenue(ctx, schedule.VenueID)
		if err != nil {
			return loadError(err, "venue")
		}
		capacity := venue.Capacity
		if venue.Kind == models.VenuePractical || capacity < 1 {
			capacity = 1
		}
		busy, err := tx.CountLaneStatus(ctx, schedule.Lane(), models.ScheduleInProgress)
		if err != nil {
			return loadError(err, "lane")
		}
		if busy >= capacity {
			return appErrors.ErrLaneBusy
		}

		candidate, err := tx.LoadCandidateForUpdate(ctx, schedule.CandidateID)
		if err != nil {
			return loadError(err, "candidate")
		}
		target, ok := models.InProgressFor(schedule.ActivityType)
		if !ok || !candidate.Status.CanAdvance(target) {
			return appErrors.Clone(appErrors.ErrInvalidTransit, fmt.Sprintf("candidate cannot move from %s to %s", candidate.Status, target))
		}

		startedAt := now
		schedule.Status = models.ScheduleInProgress
		schedule.StartedAt = &startedAt
		if err := tx.UpdateScheduleStatus(ctx, schedule); err != nil {
			return writeError(err, "start schedule")
		}
		if err := clearQueue(ctx, tx, schedule); err != nil {
			return err
		}
		venueID := schedule.VenueID
		candidate.Status = target
		candidate.CurrentVenueID = &venueID
		if err := tx.UpdateCandidateStatus(ctx, candidate); err != nil {
			return writeError(err, "update candidate status")
		}
		return nil
	})
}

// Complete finishes an in-progress schedule.
func (s *CheckInService) Complete(ctx context.Context, staff models.Principal, scheduleID int64) (*models.Schedule, error) {
	return s.transition(ctx, staff, ActionScheduleOperate, scheduleID, models.EventCompleted, func(ctx context.Context, tx repository.Tx, schedule *models.Schedule, now time.Time) error {
		if !schedule.Status.CanTransition(models.ScheduleCompleted) {
			if schedule.Status == models.SchedulePending || schedule.Status == models.ScheduleCheckedIn {
				return appErrors.Clone(appErrors.ErrInvalidTransit, "schedule is not in progress")
			}
			return statusError(schedule.Status)
		}
		finishedAt := now
		schedule.Status = models.ScheduleCompleted
		schedule.FinishedAt = &finishedAt
		return s.finish(ctx, tx, schedule, "complete schedule")
	})
}

// NoShow closes a pending schedule whose slot has ended without a check-in.
func (s *CheckInService) NoShow(ctx context.Context, staff models.Principal, scheduleID int64) (*models.Schedule, error) {
	return s.transition(ctx, staff, ActionScheduleNoShow, scheduleID, models.EventNoShow, func(ctx context.Context, tx repository.Tx, schedule *models.Schedule, now time.Time) error {
		if !schedule.Status.CanTransition(models.ScheduleNoShow) {
			return statusError(schedule.Status)
		}
		if now.Before(schedule.EndTime) {
			return appErrors.ErrNoShowTooEarly
		}
		schedule.Status = models.ScheduleNoShow
		return s.finish(ctx, tx, schedule, "mark no-show")
	})
}

// CancelSchedule cancels one non-terminal schedule.
func (s *CheckInService) CancelSchedule(ctx context.Context, principal models.Principal, scheduleID int64) (*models.Schedule, error) {
	current, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, loadError(err, "schedule")
	}
	owner, err := s.store.GetCandidate(ctx, current.CandidateID)
	if err != nil {
		return nil, loadError(err, "candidate")
	}
	res := Resource{InstitutionID: owner.InstitutionID, CandidateID: owner.ID, VenueID: current.VenueID}
	if err := s.guard.Authorize(ctx, principal, ActionScheduleWrite, res); err != nil {
		return nil, err
	}
	return s.transition(ctx, principal, ActionScheduleWrite, scheduleID, models.EventCancelled, func(ctx context.Context, tx repository.Tx, schedule *models.Schedule, now time.Time) error {
		if !schedule.Status.CanTransition(models.ScheduleCancelled) {
			return statusError(schedule.Status)
		}
		schedule.Status = models.ScheduleCancelled
		return s.finish(ctx, tx, schedule, "cancel schedule")
	})
}

// CancelCandidate withdraws a candidate and cancels every open schedule.
func (s *CheckInService) CancelCandidate(ctx context.Context, principal models.Principal, candidateID int64) (*models.Candidate, error) {
	current, err := s.store.GetCandidate(ctx, candidateID)
	if err != nil {
		return nil, loadError(err, "candidate")
	}
	if err := s.guard.Authorize(ctx, principal, ActionCandidateWrite, Resource{InstitutionID: current.InstitutionID, CandidateID: current.ID}); err != nil {
		return nil, err
	}
	owned, err := s.store.ListSchedulesByCandidate(ctx, candidateID)
	if err != nil {
		return nil, loadError(err, "candidate schedules")
	}
	var lanes []models.Lane
	for _, sc := range owned {
		if !sc.Status.Terminal() {
			lanes = append(lanes, sc.Lane())
		}
	}
	lanes = sortLanes(lanes)

	now := s.clock.Now()
	var (
		candidate *models.Candidate
		cancelled []models.Schedule
		snaps     []laneSnapshot
	)
	err = s.retry.Do(ctx, "cancel candidate", func(ctx context.Context) error {
		cancelled = cancelled[:0]
		snaps = snaps[:0]
		return s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			for _, lane := range lanes {
				if err := tx.LockLane(ctx, lane); err != nil {
					return err
				}
			}
			c, err := tx.LoadCandidateForUpdate(ctx, candidateID)
			if err != nil {
				return loadError(err, "candidate")
			}
			if !c.Status.CanAdvance(models.CandidateCancelled) {
				return appErrors.Clone(appErrors.ErrInvalidTransit, fmt.Sprintf("candidate is already %s", c.Status))
			}
			schedules, err := tx.ListSchedulesByCandidate(ctx, candidateID)
			if err != nil {
				return loadError(err, "candidate schedules")
			}
			for _, sc := range schedules {
				if sc.Status.Terminal() {
					continue
				}
				if !containsLane(lanes, sc.Lane()) {
					return appErrors.Clone(appErrors.ErrConflict, "candidate schedules changed while cancelling")
				}
				row, err := tx.LoadScheduleForUpdate(ctx, sc.ID)
				if err != nil {
					return loadError(err, "schedule")
				}
				if !row.Status.CanTransition(models.ScheduleCancelled) {
					return appErrors.Clone(appErrors.ErrConflict, "candidate schedules changed while cancelling")
				}
				row.Status = models.ScheduleCancelled
				if err := tx.UpdateScheduleStatus(ctx, row); err != nil {
					return writeError(err, "cancel schedule")
				}
				if err := clearQueue(ctx, tx, row); err != nil {
					return err
				}
				cancelled = append(cancelled, *row)
			}
			c.Status = models.CandidateCancelled
			c.CurrentVenueID = nil
			if err := tx.UpdateCandidateStatus(ctx, c); err != nil {
				return writeError(err, "cancel candidate")
			}
			for _, lane := range lanes {
				snap, err := recomputeLane(ctx, tx, lane, now)
				if err != nil {
					return err
				}
				snaps = append(snaps, snap)
			}
			candidate = c
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	events := make([]models.Event, 0, len(cancelled)+len(snaps))
	for _, sc := range cancelled {
		events = append(events, models.Event{ID: uuid.NewString(), Type: models.EventCancelled, OccurredAt: now, PrincipalID: principal.ID, ScheduleID: sc.ID, CandidateID: sc.CandidateID, Lane: lanePtr(sc.Lane())})
	}
	for _, snap := range snaps {
		events = append(events, recomputedEvent(principal, snap, now))
	}
	s.events.Publish(events...)
	s.logger.Info("candidate cancelled", zap.Int64("candidate_id", candidateID), zap.Int("schedules", len(cancelled)), zap.String("principal", principal.ID))
	return candidate, nil
}

// IssueToken signs a QR token for a pending schedule.
func (s *CheckInService) IssueToken(ctx context.Context, principal models.Principal, scheduleID int64) (*models.IssuedToken, error) {
	schedule, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, loadError(err, "schedule")
	}
	owner, err := s.store.GetCandidate(ctx, schedule.CandidateID)
	if err != nil {
		return nil, loadError(err, "candidate")
	}
	res := Resource{InstitutionID: owner.InstitutionID, CandidateID: owner.ID, VenueID: schedule.VenueID}
	if err := s.guard.Authorize(ctx, principal, ActionTokenIssue, res); err != nil {
		return nil, err
	}
	if !schedule.Status.CanTransition(models.ScheduleCheckedIn) {
		return nil, statusError(schedule.Status)
	}
	token, claims, err := s.codec.Encode(schedule.ID, schedule.CandidateID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	return &models.IssuedToken{ScheduleID: schedule.ID, Token: token, IssuedAt: claims.IssuedAt, ExpiresAt: claims.ExpiresAt}, nil
}

// IssueQR renders a freshly issued token as a PNG QR code.
func (s *CheckInService) IssueQR(ctx context.Context, principal models.Principal, scheduleID int64, size int) ([]byte, *models.IssuedToken, error) {
	issued, err := s.IssueToken(ctx, principal, scheduleID)
	if err != nil {
		return nil, nil, err
	}
	png, err := qrtoken.PNG(issued.Token, size)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render qr code")
	}
	return png, issued, nil
}

type transitionFunc func(ctx context.Context, tx repository.Tx, schedule *models.Schedule, now time.Time) error

// transition runs apply on one schedule under its lane lock, recomputes the
// lane and publishes the resulting events.
func (s *CheckInService) transition(ctx context.Context, principal models.Principal, action Action, scheduleID int64, eventType models.EventType, apply transitionFunc) (*models.Schedule, error) {
	if err := s.guard.Authorize(ctx, principal, action, Resource{}); err != nil {
		return nil, err
	}
	lane, err := s.laneOf(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()

	var (
		updated *models.Schedule
		snap    laneSnapshot
	)
	err = s.retry.Do(ctx, string(eventType), func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			if err := tx.LockLane(ctx, lane); err != nil {
				return err
			}
			schedule, err := tx.LoadScheduleForUpdate(ctx, scheduleID)
			if err != nil {
				return loadError(err, "schedule")
			}
			if err := s.guard.Authorize(ctx, principal, action, Resource{VenueID: schedule.VenueID}); err != nil {
				return err
			}
			if err := apply(ctx, tx, schedule, now); err != nil {
				return err
			}
			if snap, err = recomputeLane(ctx, tx, lane, now); err != nil {
				return err
			}
			updated = schedule
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(
		models.Event{ID: uuid.NewString(), Type: eventType, OccurredAt: now, PrincipalID: principal.ID, ScheduleID: updated.ID, CandidateID: updated.CandidateID, Lane: lanePtr(lane)},
		recomputedEvent(principal, snap, now),
	)
	return updated, nil
}

// finish persists a terminal schedule status and settles the candidate.
func (s *CheckInService) finish(ctx context.Context, tx repository.Tx, schedule *models.Schedule, action string) error {
	if err := tx.UpdateScheduleStatus(ctx, schedule); err != nil {
		return writeError(err, action)
	}
	if err := clearQueue(ctx, tx, schedule); err != nil {
		return err
	}
	candidate, err := tx.LoadCandidateForUpdate(ctx, schedule.CandidateID)
	if err != nil {
		return loadError(err, "candidate")
	}
	return settleCandidate(ctx, tx, candidate)
}

func (s *CheckInService) laneOf(ctx context.Context, scheduleID int64) (models.Lane, error) {
	schedule, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return models.Lane{}, loadError(err, "schedule")
	}
	return schedule.Lane(), nil
}

// statusError maps a schedule status that blocks the requested move.
func statusError(status models.ScheduleStatus) error {
	switch status {
	case models.ScheduleCheckedIn, models.ScheduleInProgress:
		return appErrors.ErrAlreadyCheckedIn
	case models.ScheduleCancelled:
		return appErrors.ErrScheduleCancelled
	case models.ScheduleCompleted:
		return appErrors.ErrScheduleCompleted
	case models.ScheduleNoShow:
		return appErrors.ErrScheduleNoShow
	}
	return appErrors.Clone(appErrors.ErrInvalidTransit, fmt.Sprintf("schedule is %s", status))
}

func containsLane(lanes []models.Lane, lane models.Lane) bool {
	for _, l := range lanes {
		if l.Key() == lane.Key() {
			return true
		}
	}
	return false
}

func applyQueue(result *models.CheckInResult, snap laneSnapshot) {
	if result == nil {
		return
	}
	if pos, ok := snap.Positions[result.ScheduleID]; ok {
		result.QueuePosition = intPtr(pos)
		result.EstimatedWaitMin = intPtr(snap.Waits[result.ScheduleID])
	}
}

func outcomeError(err error) *models.OutcomeError {
	appErr := appErrors.FromError(err)
	return &models.OutcomeError{Code: appErr.Code, Message: appErr.Message}
}

func checkedInEvent(staff models.Principal, res *models.CheckInResult, lane models.Lane, now time.Time) models.Event {
	return models.Event{
		ID:          uuid.NewString(),
		Type:        models.EventCheckedIn,
		OccurredAt:  now,
		PrincipalID: staff.ID,
		ScheduleID:  res.ScheduleID,
		CandidateID: res.CandidateID,
		Lane:        lanePtr(lane),
		Lateness:    time.Duration(res.LatenessSeconds) * time.Second,
	}
}

func recomputedEvent(p models.Principal, snap laneSnapshot, now time.Time) models.Event {
	return models.Event{
		ID:          uuid.NewString(),
		Type:        models.EventLaneRecomputed,
		OccurredAt:  now,
		PrincipalID: p.ID,
		Lane:        lanePtr(snap.Lane),
		Count:       snap.Changed,
	}
}
