package service

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/dronexam-api/internal/models"
	"github.com/noah-isme/dronexam-api/internal/repository"
	"github.com/noah-isme/dronexam-api/pkg/clock"
)

// BoardWaitingLimit caps the waiting list shown on a board.
const BoardWaitingLimit = 10

// QueueView builds the public, masked venue board.
type QueueView struct {
	store  repository.Reader
	guard  *AccessGuard
	cache  *CacheService
	clock  clock.Clock
	logger *zap.Logger
}

// NewQueueView constructs the board reader. cache may be nil.
func NewQueueView(store repository.Reader, guard *AccessGuard, cache *CacheService, clk clock.Clock, logger *zap.Logger) *QueueView {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueView{store: store, guard: guard, cache: cache, clock: clk, logger: logger}
}

// Today returns the venue-local exam date of now.
func (v *QueueView) Today(ctx context.Context, venueID int64) (time.Time, error) {
	venue, err := v.store.GetVenue(ctx, venueID)
	if err != nil {
		return time.Time{}, loadError(err, "venue")
	}
	return models.Date(v.clock.Now(), venue.Location()), nil
}

// VenueBoard returns the board of one venue day.
func (v *QueueView) VenueBoard(ctx context.Context, principal models.Principal, venueID int64, date time.Time) (*models.VenueBoard, error) {
	if err := v.guard.Authorize(ctx, principal, ActionVenueBoardRead, Resource{VenueID: venueID}); err != nil {
		return nil, err
	}

	key := BoardCacheKey(venueID, date)
	var cached models.VenueBoard
	if v.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	venue, err := v.store.GetVenue(ctx, venueID)
	if err != nil {
		return nil, loadError(err, "venue")
	}
	day, err := v.store.ListVenueDay(ctx, venueID, date)
	if err != nil {
		return nil, loadError(err, "venue day")
	}

	ids := make([]int64, 0, len(day))
	for _, s := range day {
		ids = append(ids, s.CandidateID)
	}
	candidates, err := v.store.GetCandidates(ctx, ids)
	if err != nil {
		return nil, loadError(err, "candidates")
	}
	names := make(map[int64]string, len(candidates))
	for _, c := range candidates {
		names[c.ID] = models.MaskName(c.FullName)
	}

	board := buildBoard(*venue, date, day, names)
	board.GeneratedAt = v.clock.Now()
	v.cache.Set(ctx, key, board, 0)
	return board, nil
}

func buildBoard(venue models.Venue, date time.Time, day []models.Schedule, names map[int64]string) *models.VenueBoard {
	board := &models.VenueBoard{
		VenueID:   venue.ID,
		VenueName: venue.Name,
		Date:      models.FormatDate(date),
		Waiting:   []models.BoardEntry{},
	}

	var waiting []models.Schedule
	for _, s := range day {
		switch s.Status {
		case models.ScheduleInProgress:
			board.InProgressCount++
			if board.Current == nil {
				entry := boardEntry(s, names)
				board.Current = &entry
			}
		case models.SchedulePending, models.ScheduleCheckedIn:
			waiting = append(waiting, s)
		case models.ScheduleCompleted:
			board.CompletedToday++
		}
	}

	sort.SliceStable(waiting, func(i, j int) bool {
		pi, pj := positionOr(waiting[i]), positionOr(waiting[j])
		if pi != pj {
			return pi < pj
		}
		if !waiting[i].StartTime.Equal(waiting[j].StartTime) {
			return waiting[i].StartTime.Before(waiting[j].StartTime)
		}
		return waiting[i].ID < waiting[j].ID
	})
	board.TotalWaiting = len(waiting)
	for i, s := range waiting {
		if i == BoardWaitingLimit {
			break
		}
		board.Waiting = append(board.Waiting, boardEntry(s, names))
	}
	return board
}

func boardEntry(s models.Schedule, names map[int64]string) models.BoardEntry {
	return models.BoardEntry{
		ScheduleID:       s.ID,
		CandidateName:    names[s.CandidateID],
		ActivityType:     s.ActivityType,
		Status:           s.Status,
		QueuePosition:    s.QueuePosition,
		CheckedIn:        s.Status == models.ScheduleCheckedIn,
		EstimatedWaitMin: s.EstimatedWaitMin,
		StartTime:        s.StartTime,
		EndTime:          s.EndTime,
	}
}

// positionOr sorts unnumbered rows after numbered ones.
func positionOr(s models.Schedule) int {
	if s.QueuePosition == nil {
		return int(^uint(0) >> 1)
	}
	return *s.QueuePosition
}
