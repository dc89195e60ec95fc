package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/dronexam-api/internal/models"
	appErrors "github.com/noah-isme/dronexam-api/pkg/errors"
)

func newStoreMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	cleanup := func() {
		_ = sqlxDB.Close()
	}
	return NewPostgresStore(sqlxDB), mock, cleanup
}

var scheduleColumnNames = []string{"id", "candidate_id", "venue_id", "exam_product_id", "exam_date", "start_time", "end_time", "activity_type", "status", "check_in_at", "started_at", "finished_at", "queue_position", "estimated_wait_min", "created_at", "updated_at"}

func scheduleRow(rows *sqlmock.Rows, id, candidateID int64, start time.Time, status models.ScheduleStatus, position interface{}) *sqlmock.Rows {
	date := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	return rows.AddRow(id, candidateID, int64(7), int64(3), date, start, start.Add(15*time.Minute), string(models.ActivityPracticalExam), string(status), nil, nil, nil, position, nil, start, start)
}

func TestPostgresStoreLoadWaitingInLane(t *testing.T) {
	store, mock, cleanup := newStoreMock(t)
	defer cleanup()

	date := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(scheduleColumnNames)
	scheduleRow(rows, 1, 10, start, models.ScheduleCheckedIn, int64(1))
	scheduleRow(rows, 2, 11, start.Add(15*time.Minute), models.SchedulePending, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT ` + scheduleColumns + ` FROM schedules s WHERE s.venue_id = $1 AND s.exam_date = $2 AND s.activity_type = $3 AND s.status IN ('PENDING', 'CHECKED_IN')`)).
		WithArgs(int64(7), date, models.ActivityPracticalExam).
		WillReturnRows(rows)

	lane := models.Lane{VenueID: 7, ExamDate: date, Activity: models.ActivityPracticalExam}
	schedules, err := store.LoadWaitingInLane(context.Background(), lane)
	require.NoError(t, err)
	require.Len(t, schedules, 2)
	assert.Equal(t, models.ScheduleCheckedIn, schedules[0].Status)
	require.NotNil(t, schedules[0].QueuePosition)
	assert.Equal(t, 1, *schedules[0].QueuePosition)
	assert.Nil(t, schedules[1].QueuePosition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreListSchedulesFilters(t *testing.T) {
	store, mock, cleanup := newStoreMock(t)
	defer cleanup()

	date := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(scheduleColumnNames)
	scheduleRow(rows, 5, 10, date.Add(9*time.Hour), models.SchedulePending, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM schedules s JOIN candidates c ON c.id = s.candidate_id WHERE 1=1 AND s.venue_id = $1 AND c.institution_id = $2 AND s.exam_date = $3 AND s.status = $4 ORDER BY s.start_time ASC, s.id ASC LIMIT 20 OFFSET 0`)).
		WithArgs(int64(7), int64(2), date, models.SchedulePending).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM schedules s JOIN candidates c`)).
		WithArgs(int64(7), int64(2), date, models.SchedulePending).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	items, total, err := store.ListSchedules(context.Background(), models.ScheduleFilter{VenueID: 7, InstitutionID: 2, Date: &date, Status: models.SchedulePending})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, int64(5), items[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGetVenueNotFound(t *testing.T) {
	store, mock, cleanup := newStoreMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, name, kind, capacity, status, timezone FROM venues WHERE id = $1`)).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetVenue(context.Background(), 99)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestPostgresStoreWithTxCommits(t *testing.T) {
	store, mock, cleanup := newStoreMock(t)
	defer cleanup()

	date := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	start := date.Add(9 * time.Hour)
	created := time.Date(2025, 2, 20, 8, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock($1)`)).
		WithArgs(advisoryKey("calendar:7:2025-03-01")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO schedules (candidate_id, venue_id, exam_product_id, exam_date, start_time, end_time, activity_type, status)`)).
		WithArgs(int64(10), int64(7), int64(3), date, start, start.Add(15*time.Minute), models.ActivityPracticalExam, models.SchedulePending).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(41), created, created))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE candidates SET status = $1, current_venue_id = $2, updated_at = NOW() WHERE id = $3`)).
		WithArgs(models.CandidateScheduled, nil, int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	schedule := &models.Schedule{
		CandidateID:   10,
		VenueID:       7,
		ExamProductID: 3,
		ExamDate:      date,
		StartTime:     start,
		EndTime:       start.Add(15 * time.Minute),
		ActivityType:  models.ActivityPracticalExam,
		Status:        models.SchedulePending,
	}
	err := store.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		if err := tx.LockCalendar(ctx, 7, date); err != nil {
			return err
		}
		if err := tx.InsertSchedule(ctx, schedule); err != nil {
			return err
		}
		return tx.UpdateCandidateStatus(ctx, &models.Candidate{ID: 10, Status: models.CandidateScheduled})
	})
	require.NoError(t, err)
	assert.Equal(t, int64(41), schedule.ID)
	assert.Equal(t, created, schedule.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreWithTxMapsSerializationFailure(t *testing.T) {
	store, mock, cleanup := newStoreMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE schedules SET queue_position = $1`)).
		WithArgs(1, nil, int64(5)).
		WillReturnError(&pq.Error{Code: "40001", Message: "could not serialize access"})
	mock.ExpectRollback()

	one := 1
	err := store.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.UpdateQueue(ctx, 5, &one, nil)
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
	assert.True(t, appErrors.Retryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreWithTxKeepsDomainErrors(t *testing.T) {
	store, mock, cleanup := newStoreMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return appErrors.ErrTooEarly
	})
	assert.True(t, errors.Is(err, appErrors.ErrTooEarly))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreUpdateMissingRow(t *testing.T) {
	store, mock, cleanup := newStoreMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE schedules SET status = $1`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.UpdateScheduleStatus(ctx, &models.Schedule{ID: 404, Status: models.ScheduleCheckedIn})
	})
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code string
	}{
		{"serialization", &pq.Error{Code: "40001"}, appErrors.ErrConflict.Code},
		{"deadlock", fmt.Errorf("lock lane: %w", &pq.Error{Code: "40P01"}), appErrors.ErrConflict.Code},
		{"exclusion", &pq.Error{Code: "23P01"}, appErrors.ErrConflict.Code},
		{"connection", &pq.Error{Code: "08006"}, appErrors.ErrUnavailable.Code},
		{"admin shutdown", &pq.Error{Code: "57P01"}, appErrors.ErrUnavailable.Code},
		{"bad conn", driver.ErrBadConn, appErrors.ErrUnavailable.Code},
		{"deadline", context.DeadlineExceeded, appErrors.ErrTimeout.Code},
		{"syntax", &pq.Error{Code: "42601"}, appErrors.ErrInternal.Code},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, appErrors.FromError(MapError(tc.err)).Code)
		})
	}
	assert.Nil(t, MapError(nil))
}
