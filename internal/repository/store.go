package repository

import (
	"context"
	"time"

	"github.com/noah-isme/dronexam-api/internal/models"
)

// Reader exposes the read queries the engine needs. Lookups of a single
// entity return sql.ErrNoRows when it does not exist.
type Reader interface {
	GetInstitution(ctx context.Context, id int64) (*models.Institution, error)
	GetProduct(ctx context.Context, id int64) (*models.ExamProduct, error)
	GetVenue(ctx context.Context, id int64) (*models.Venue, error)
	GetCandidate(ctx context.Context, id int64) (*models.Candidate, error)
	GetCandidates(ctx context.Context, ids []int64) ([]models.Candidate, error)
	GetSchedule(ctx context.Context, id int64) (*models.Schedule, error)

	// ListCandidatesPending returns candidates in PendingSchedule without a
	// non-cancelled schedule on date, ordered by id.
	ListCandidatesPending(ctx context.Context, date time.Time, filter models.CandidateFilter) ([]models.Candidate, error)
	// LoadSchedulesInWindow returns non-cancelled schedules at the venue on
	// date whose window intersects [t0, t1).
	LoadSchedulesInWindow(ctx context.Context, venueID int64, date, t0, t1 time.Time) ([]models.Schedule, error)
	// LoadWaitingInLane returns Pending and CheckedIn schedules of the lane
	// ordered by start_time, then id.
	LoadWaitingInLane(ctx context.Context, lane models.Lane) ([]models.Schedule, error)
	CountLaneStatus(ctx context.Context, lane models.Lane, status models.ScheduleStatus) (int, error)
	ListSchedulesByCandidate(ctx context.Context, candidateID int64) ([]models.Schedule, error)
	// ListVenueDay returns every schedule at the venue on date ordered by start_time, then id.
	ListVenueDay(ctx context.Context, venueID int64, date time.Time) ([]models.Schedule, error)
	ListSchedules(ctx context.Context, filter models.ScheduleFilter) ([]models.Schedule, int, error)
	ListCandidates(ctx context.Context, filter models.CandidateFilter) ([]models.Candidate, int, error)
	// ListDueNoShows returns Pending schedules whose end_time is at or before now.
	ListDueNoShows(ctx context.Context, now time.Time, limit int) ([]models.Schedule, error)
}

// Tx is the mutation surface available inside Store.WithTx.
type Tx interface {
	Reader

	// LockCalendar serializes placement on (venue, date).
	LockCalendar(ctx context.Context, venueID int64, date time.Time) error
	// LockLane serializes mutations of one lane.
	LockLane(ctx context.Context, lane models.Lane) error

	LoadScheduleForUpdate(ctx context.Context, id int64) (*models.Schedule, error)
	LoadCandidateForUpdate(ctx context.Context, id int64) (*models.Candidate, error)
	// LoadCandidatesForUpdate locks candidates in ascending id order.
	LoadCandidatesForUpdate(ctx context.Context, ids []int64) ([]models.Candidate, error)
	// LoadLaneForUpdate locks the lane's Pending and CheckedIn rows in
	// ascending id order and returns them ordered by start_time, then id.
	LoadLaneForUpdate(ctx context.Context, lane models.Lane) ([]models.Schedule, error)

	InsertSchedule(ctx context.Context, schedule *models.Schedule) error
	UpdateScheduleStatus(ctx context.Context, schedule *models.Schedule) error
	UpdateQueue(ctx context.Context, scheduleID int64, position, waitMin *int) error
	UpdateCandidateStatus(ctx context.Context, candidate *models.Candidate) error
}

// Store is the sole mutator of persistent state.
type Store interface {
	Reader
	// WithTx runs fn in one serializable transaction. Any error returned by
	// fn rolls the transaction back. Serialization failures surface as
	// CONFLICT and connection failures as SERVICE_UNAVAILABLE.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return page, size
}
