package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/noah-isme/dronexam-api/internal/models"
	"github.com/noah-isme/dronexam-api/internal/repository"
	appErrors "github.com/noah-isme/dronexam-api/pkg/errors"
)

// laneSnapshot is the outcome of one lane recompute.
type laneSnapshot struct {
	Lane      models.Lane
	Positions map[int64]int
	Waits     map[int64]int
	Changed   int
}

// recomputeLane renumbers the Pending and CheckedIn schedules of lane as a
// dense 1..N sequence in start_time order and refreshes their wait estimate.
// The caller must hold the lane lock. Only changed rows are written.
func recomputeLane(ctx context.Context, tx repository.Tx, lane models.Lane, now time.Time) (laneSnapshot, error) {
	snap := laneSnapshot{Lane: lane, Positions: map[int64]int{}, Waits: map[int64]int{}}
	rows, err := tx.LoadLaneForUpdate(ctx, lane)
	if err != nil {
		return snap, loadError(err, "lane")
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].StartTime.Equal(rows[j].StartTime) {
			return rows[i].StartTime.Before(rows[j].StartTime)
		}
		return rows[i].ID < rows[j].ID
	})

	service, err := averageServiceMinutes(ctx, tx, lane, rows)
	if err != nil {
		return snap, err
	}
	for i, s := range rows {
		position := i + 1
		wait := i * service
		if s.Status == models.SchedulePending {
			if untilStart := minutesUntil(now, s.StartTime); untilStart > wait {
				wait = untilStart
			}
		}
		snap.Positions[s.ID] = position
		snap.Waits[s.ID] = wait

		if sameIntPtr(s.QueuePosition, &position) && sameIntPtr(s.EstimatedWaitMin, &wait) {
			continue
		}
		if err := tx.UpdateQueue(ctx, s.ID, intPtr(position), intPtr(wait)); err != nil {
			return snap, writeError(err, "update queue position")
		}
		snap.Changed++
	}
	return snap, nil
}

// clearQueue drops queue fields from a schedule that left its lane.
func clearQueue(ctx context.Context, tx repository.Tx, s *models.Schedule) error {
	if s.QueuePosition == nil && s.EstimatedWaitMin == nil {
		return nil
	}
	if err := tx.UpdateQueue(ctx, s.ID, nil, nil); err != nil {
		return writeError(err, "clear queue position")
	}
	s.QueuePosition = nil
	s.EstimatedWaitMin = nil
	return nil
}

// averageServiceMinutes averages the product slot length of the lane's
// activity over its rows. Rows whose product has no duration for the
// activity count with their own slot length.
func averageServiceMinutes(ctx context.Context, tx repository.Tx, lane models.Lane, rows []models.Schedule) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	perSlot := map[int64]int{}
	total := 0
	for _, s := range rows {
		minutes, ok := perSlot[s.ExamProductID]
		if !ok {
			product, err := tx.GetProduct(ctx, s.ExamProductID)
			if err != nil {
				return 0, loadError(err, "exam product")
			}
			minutes = product.DurationFor(lane.Activity)
			perSlot[s.ExamProductID] = minutes
		}
		if minutes <= 0 {
			minutes = s.DurationMin()
		}
		total += minutes
	}
	return (total + len(rows) - 1) / len(rows), nil
}

func minutesUntil(now, t time.Time) int {
	if !t.After(now) {
		return 0
	}
	d := t.Sub(now)
	return int((d + time.Minute - 1) / time.Minute)
}

// settleCandidate derives the candidate status from its schedules after one
// of them reached a terminal state. The most advanced open schedule wins;
// with none open the candidate goes back to PendingSchedule while a product
// activity lacks a completed schedule, otherwise it is Completed.
func settleCandidate(ctx context.Context, tx repository.Tx, candidate *models.Candidate) error {
	if candidate.Status.Terminal() {
		return nil
	}
	product, err := tx.GetProduct(ctx, candidate.ExamProductID)
	if err != nil {
		return loadError(err, "exam product")
	}
	schedules, err := tx.ListSchedulesByCandidate(ctx, candidate.ID)
	if err != nil {
		return loadError(err, "candidate schedules")
	}

	next, venueID := deriveCandidateStatus(*product, schedules)
	if next == candidate.Status && sameInt64Ptr(venueID, candidate.CurrentVenueID) {
		return nil
	}
	if err := checkCandidateMove(candidate.Status, next); err != nil {
		return err
	}
	candidate.Status = next
	candidate.CurrentVenueID = venueID
	if err := tx.UpdateCandidateStatus(ctx, candidate); err != nil {
		return writeError(err, "update candidate status")
	}
	return nil
}

// checkCandidateMove accepts a forward move or an explicit reset. Staying in
// the same status is allowed so that only the current venue changes.
func checkCandidateMove(from, to models.CandidateStatus) error {
	if from == to || from.CanAdvance(to) || from.CanReset(to) {
		return nil
	}
	return appErrors.Clone(appErrors.ErrInvalidTransit, fmt.Sprintf("candidate cannot move from %s to %s", from, to))
}

func deriveCandidateStatus(product models.ExamProduct, schedules []models.Schedule) (models.CandidateStatus, *int64) {
	var head *models.Schedule
	rank := func(s models.ScheduleStatus) int {
		switch s {
		case models.ScheduleInProgress:
			return 3
		case models.ScheduleCheckedIn:
			return 2
		case models.SchedulePending:
			return 1
		}
		return 0
	}
	completed := map[models.ActivityType]bool{}
	for i := range schedules {
		s := &schedules[i]
		if s.Status == models.ScheduleCompleted {
			completed[s.ActivityType] = true
		}
		if rank(s.Status) > 0 && (head == nil || rank(s.Status) > rank(head.Status)) {
			head = s
		}
	}

	if head != nil {
		venueID := head.VenueID
		switch head.Status {
		case models.ScheduleInProgress:
			if st, ok := models.InProgressFor(head.ActivityType); ok {
				return st, &venueID
			}
		case models.ScheduleCheckedIn:
			if st, ok := models.WaitingFor(head.ActivityType); ok {
				return st, &venueID
			}
		}
		return models.CandidateScheduled, nil
	}
	for _, activity := range product.Activities() {
		if !completed[activity] {
			return models.CandidatePendingSchedule, nil
		}
	}
	return models.CandidateCompleted, nil
}

func sameInt64Ptr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// sortLanes orders lanes for lock acquisition.
func sortLanes(lanes []models.Lane) []models.Lane {
	seen := map[string]bool{}
	out := make([]models.Lane, 0, len(lanes))
	for _, l := range lanes {
		if seen[l.Key()] {
			continue
		}
		seen[l.Key()] = true
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
