package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/dronexam-api/internal/models"
	appErrors "github.com/noah-isme/dronexam-api/pkg/errors"
)

const (
	scheduleColumns  = `s.id, s.candidate_id, s.venue_id, s.exam_product_id, s.exam_date, s.start_time, s.end_time, s.activity_type, s.status, s.check_in_at, s.started_at, s.finished_at, s.queue_position, s.estimated_wait_min, s.created_at, s.updated_at`
	candidateColumns = `c.id, c.id_number, c.full_name, c.institution_id, c.exam_product_id, c.status, c.current_venue_id, c.created_at, c.updated_at`
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	pgQueries
	db *sqlx.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{pgQueries: pgQueries{ext: db}, db: db}
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return MapError(fmt.Errorf("ping database: %w", err))
	}
	return nil
}

// WithTx runs fn in a SERIALIZABLE transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return MapError(fmt.Errorf("begin tx: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(ctx, &pgTx{pgQueries: pgQueries{ext: tx}}); err != nil {
		return MapError(err)
	}
	if err = tx.Commit(); err != nil {
		return MapError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// MapError translates driver failures into the engine taxonomy. Errors that
// already carry a code pass through untouched.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return appErrors.Wrap(err, appErrors.ErrTimeout.Code, appErrors.ErrTimeout.Status, appErrors.ErrTimeout.Message)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "40", pqErr.Code == "55P03", pqErr.Code == "23505", pqErr.Code == "23P01":
			return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "concurrent update, retry")
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "57":
			return appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, appErrors.ErrUnavailable.Message)
		}
		return err
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		return appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, appErrors.ErrUnavailable.Message)
	}
	return err
}

// pgQueries holds the read queries shared by the pool and transactions.
type pgQueries struct {
	ext sqlx.ExtContext
}

func (q pgQueries) GetInstitution(ctx context.Context, id int64) (*models.Institution, error) {
	const query = `SELECT id, name, code, status, created_at FROM institutions WHERE id = $1`
	var inst models.Institution
	if err := sqlx.GetContext(ctx, q.ext, &inst, query, id); err != nil {
		return nil, err
	}
	return &inst, nil
}

func (q pgQueries) GetProduct(ctx context.Context, id int64) (*models.ExamProduct, error) {
	const query = `SELECT id, code, name, kind, theory_duration_min, practical_duration_min FROM exam_products WHERE id = $1`
	var product models.ExamProduct
	if err := sqlx.GetContext(ctx, q.ext, &product, query, id); err != nil {
		return nil, err
	}
	return &product, nil
}

func (q pgQueries) GetVenue(ctx context.Context, id int64) (*models.Venue, error) {
	const query = `SELECT id, name, kind, capacity, status, timezone FROM venues WHERE id = $1`
	var venue models.Venue
	if err := sqlx.GetContext(ctx, q.ext, &venue, query, id); err != nil {
		return nil, err
	}
	return &venue, nil
}

func (q pgQueries) GetCandidate(ctx context.Context, id int64) (*models.Candidate, error) {
	query := `SELECT ` + candidateColumns + ` FROM candidates c WHERE c.id = $1`
	var candidate models.Candidate
	if err := sqlx.GetContext(ctx, q.ext, &candidate, query, id); err != nil {
		return nil, err
	}
	return &candidate, nil
}

func (q pgQueries) GetCandidates(ctx context.Context, ids []int64) ([]models.Candidate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + candidateColumns + ` FROM candidates c WHERE c.id = ANY($1) ORDER BY c.id`
	var candidates []models.Candidate
	if err := sqlx.SelectContext(ctx, q.ext, &candidates, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("get candidates: %w", err)
	}
	return candidates, nil
}

func (q pgQueries) GetSchedule(ctx context.Context, id int64) (*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules s WHERE s.id = $1`
	var schedule models.Schedule
	if err := sqlx.GetContext(ctx, q.ext, &schedule, query, id); err != nil {
		return nil, err
	}
	return &schedule, nil
}

func (q pgQueries) ListCandidatesPending(ctx context.Context, date time.Time, filter models.CandidateFilter) ([]models.Candidate, error) {
	conditions, args := candidateConditions(filter, []interface{}{models.CandidatePendingSchedule, date})
	query := `SELECT ` + candidateColumns + ` FROM candidates c WHERE c.status = $1 AND NOT EXISTS (SELECT 1 FROM schedules s WHERE s.candidate_id = c.id AND s.exam_date = $2 AND s.status <> 'CANCELLED')`
	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY c.id"
	var candidates []models.Candidate
	if err := sqlx.SelectContext(ctx, q.ext, &candidates, query, args...); err != nil {
		return nil, fmt.Errorf("list pending candidates: %w", err)
	}
	return candidates, nil
}

func (q pgQueries) LoadSchedulesInWindow(ctx context.Context, venueID int64, date, t0, t1 time.Time) ([]models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules s WHERE s.venue_id = $1 AND s.exam_date = $2 AND s.status <> 'CANCELLED' AND s.start_time < $4 AND s.end_time > $3 ORDER BY s.start_time, s.id`
	var schedules []models.Schedule
	if err := sqlx.SelectContext(ctx, q.ext, &schedules, query, venueID, date, t0, t1); err != nil {
		return nil, fmt.Errorf("load schedules in window: %w", err)
	}
	return schedules, nil
}

func (q pgQueries) LoadWaitingInLane(ctx context.Context, lane models.Lane) ([]models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules s WHERE s.venue_id = $1 AND s.exam_date = $2 AND s.activity_type = $3 AND s.status IN ('PENDING', 'CHECKED_IN') ORDER BY s.start_time, s.id`
	var schedules []models.Schedule
	if err := sqlx.SelectContext(ctx, q.ext, &schedules, query, lane.VenueID, lane.ExamDate, lane.Activity); err != nil {
		return nil, fmt.Errorf("load waiting in lane: %w", err)
	}
	return schedules, nil
}

func (q pgQueries) CountLaneStatus(ctx context.Context, lane models.Lane, status models.ScheduleStatus) (int, error) {
	const query = `SELECT COUNT(*) FROM schedules WHERE venue_id = $1 AND exam_date = $2 AND activity_type = $3 AND status = $4`
	var total int
	if err := sqlx.GetContext(ctx, q.ext, &total, query, lane.VenueID, lane.ExamDate, lane.Activity, status); err != nil {
		return 0, fmt.Errorf("count lane status: %w", err)
	}
	return total, nil
}

func (q pgQueries) ListSchedulesByCandidate(ctx context.Context, candidateID int64) ([]models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules s WHERE s.candidate_id = $1 ORDER BY s.start_time, s.id`
	var schedules []models.Schedule
	if err := sqlx.SelectContext(ctx, q.ext, &schedules, query, candidateID); err != nil {
		return nil, fmt.Errorf("list schedules by candidate: %w", err)
	}
	return schedules, nil
}

func (q pgQueries) ListVenueDay(ctx context.Context, venueID int64, date time.Time) ([]models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules s WHERE s.venue_id = $1 AND s.exam_date = $2 ORDER BY s.start_time, s.id`
	var schedules []models.Schedule
	if err := sqlx.SelectContext(ctx, q.ext, &schedules, query, venueID, date); err != nil {
		return nil, fmt.Errorf("list venue day: %w", err)
	}
	return schedules, nil
}

func (q pgQueries) ListSchedules(ctx context.Context, filter models.ScheduleFilter) ([]models.Schedule, int, error) {
	base := "FROM schedules s JOIN candidates c ON c.id = s.candidate_id WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.VenueID != 0 {
		conditions = append(conditions, fmt.Sprintf("s.venue_id = $%d", len(args)+1))
		args = append(args, filter.VenueID)
	}
	if filter.CandidateID != 0 {
		conditions = append(conditions, fmt.Sprintf("s.candidate_id = $%d", len(args)+1))
		args = append(args, filter.CandidateID)
	}
	if filter.InstitutionID != 0 {
		conditions = append(conditions, fmt.Sprintf("c.institution_id = $%d", len(args)+1))
		args = append(args, filter.InstitutionID)
	}
	if filter.Date != nil {
		conditions = append(conditions, fmt.Sprintf("s.exam_date = $%d", len(args)+1))
		args = append(args, *filter.Date)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("s.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page, size := normalizePage(filter.Page, filter.PageSize)
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY s.start_time ASC, s.id ASC LIMIT %d OFFSET %d", scheduleColumns, base, size, offset)
	var schedules []models.Schedule
	if err := sqlx.SelectContext(ctx, q.ext, &schedules, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list schedules: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := sqlx.GetContext(ctx, q.ext, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count schedules: %w", err)
	}
	return schedules, total, nil
}

func (q pgQueries) ListCandidates(ctx context.Context, filter models.CandidateFilter) ([]models.Candidate, int, error) {
	conditions, args := candidateConditions(filter, nil)
	base := "FROM candidates c WHERE 1=1"
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page, size := normalizePage(filter.Page, filter.PageSize)
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY c.id ASC LIMIT %d OFFSET %d", candidateColumns, base, size, offset)
	var candidates []models.Candidate
	if err := sqlx.SelectContext(ctx, q.ext, &candidates, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list candidates: %w", err)
	}

	var total int
	if err := sqlx.GetContext(ctx, q.ext, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count candidates: %w", err)
	}
	return candidates, total, nil
}

func (q pgQueries) ListDueNoShows(ctx context.Context, now time.Time, limit int) ([]models.Schedule, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `SELECT ` + scheduleColumns + ` FROM schedules s WHERE s.status = 'PENDING' AND s.end_time <= $1 ORDER BY s.start_time, s.id LIMIT $2`
	var schedules []models.Schedule
	if err := sqlx.SelectContext(ctx, q.ext, &schedules, query, now, limit); err != nil {
		return nil, fmt.Errorf("list due no-shows: %w", err)
	}
	return schedules, nil
}

func candidateConditions(filter models.CandidateFilter, args []interface{}) ([]string, []interface{}) {
	var conditions []string
	if filter.InstitutionID != 0 {
		conditions = append(conditions, fmt.Sprintf("c.institution_id = $%d", len(args)+1))
		args = append(args, filter.InstitutionID)
	}
	if filter.ExamProductID != 0 {
		conditions = append(conditions, fmt.Sprintf("c.exam_product_id = $%d", len(args)+1))
		args = append(args, filter.ExamProductID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("c.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if len(filter.IDs) > 0 {
		conditions = append(conditions, fmt.Sprintf("c.id = ANY($%d)", len(args)+1))
		args = append(args, pq.Array(filter.IDs))
	}
	return conditions, args
}

// pgTx is the transaction-bound Tx.
type pgTx struct {
	pgQueries
}

func (t *pgTx) LockCalendar(ctx context.Context, venueID int64, date time.Time) error {
	return t.advisoryLock(ctx, fmt.Sprintf("calendar:%d:%s", venueID, models.FormatDate(date)))
}

func (t *pgTx) LockLane(ctx context.Context, lane models.Lane) error {
	return t.advisoryLock(ctx, "lane:"+lane.Key())
}

func (t *pgTx) advisoryLock(ctx context.Context, key string) error {
	if _, err := t.ext.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryKey(key)); err != nil {
		return fmt.Errorf("advisory lock %s: %w", key, err)
	}
	return nil
}

func advisoryKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

func (t *pgTx) LoadScheduleForUpdate(ctx context.Context, id int64) (*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules s WHERE s.id = $1 FOR UPDATE`
	var schedule models.Schedule
	if err := sqlx.GetContext(ctx, t.ext, &schedule, query, id); err != nil {
		return nil, err
	}
	return &schedule, nil
}

func (t *pgTx) LoadCandidateForUpdate(ctx context.Context, id int64) (*models.Candidate, error) {
	query := `SELECT ` + candidateColumns + ` FROM candidates c WHERE c.id = $1 FOR UPDATE`
	var candidate models.Candidate
	if err := sqlx.GetContext(ctx, t.ext, &candidate, query, id); err != nil {
		return nil, err
	}
	return &candidate, nil
}

func (t *pgTx) LoadCandidatesForUpdate(ctx context.Context, ids []int64) ([]models.Candidate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + candidateColumns + ` FROM candidates c WHERE c.id = ANY($1) ORDER BY c.id FOR UPDATE`
	var candidates []models.Candidate
	if err := sqlx.SelectContext(ctx, t.ext, &candidates, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("lock candidates: %w", err)
	}
	return candidates, nil
}

func (t *pgTx) LoadLaneForUpdate(ctx context.Context, lane models.Lane) ([]models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules s WHERE s.venue_id = $1 AND s.exam_date = $2 AND s.activity_type = $3 AND s.status IN ('PENDING', 'CHECKED_IN') ORDER BY s.id FOR UPDATE`
	var schedules []models.Schedule
	if err := sqlx.SelectContext(ctx, t.ext, &schedules, query, lane.VenueID, lane.ExamDate, lane.Activity); err != nil {
		return nil, fmt.Errorf("lock lane: %w", err)
	}
	sort.SliceStable(schedules, func(i, j int) bool {
		if !schedules[i].StartTime.Equal(schedules[j].StartTime) {
			return schedules[i].StartTime.Before(schedules[j].StartTime)
		}
		return schedules[i].ID < schedules[j].ID
	})
	return schedules, nil
}

func (t *pgTx) InsertSchedule(ctx context.Context, schedule *models.Schedule) error {
	const query = `INSERT INTO schedules (candidate_id, venue_id, exam_product_id, exam_date, start_time, end_time, activity_type, status) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id, created_at, updated_at`
	row := t.ext.QueryRowxContext(ctx, query,
		schedule.CandidateID,
		schedule.VenueID,
		schedule.ExamProductID,
		schedule.ExamDate,
		schedule.StartTime,
		schedule.EndTime,
		schedule.ActivityType,
		schedule.Status,
	)
	if err := row.Scan(&schedule.ID, &schedule.CreatedAt, &schedule.UpdatedAt); err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateScheduleStatus(ctx context.Context, schedule *models.Schedule) error {
	const query = `UPDATE schedules SET status = $1, check_in_at = $2, started_at = $3, finished_at = $4, updated_at = NOW() WHERE id = $5`
	res, err := t.ext.ExecContext(ctx, query, schedule.Status, schedule.CheckInAt, schedule.StartedAt, schedule.FinishedAt, schedule.ID)
	if err != nil {
		return fmt.Errorf("update schedule status: %w", err)
	}
	return expectOne(res)
}

func (t *pgTx) UpdateQueue(ctx context.Context, scheduleID int64, position, waitMin *int) error {
	const query = `UPDATE schedules SET queue_position = $1, estimated_wait_min = $2, updated_at = NOW() WHERE id = $3`
	res, err := t.ext.ExecContext(ctx, query, position, waitMin, scheduleID)
	if err != nil {
		return fmt.Errorf("update queue: %w", err)
	}
	return expectOne(res)
}

func (t *pgTx) UpdateCandidateStatus(ctx context.Context, candidate *models.Candidate) error {
	const query = `UPDATE candidates SET status = $1, current_venue_id = $2, updated_at = NOW() WHERE id = $3`
	res, err := t.ext.ExecContext(ctx, query, candidate.Status, candidate.CurrentVenueID, candidate.ID)
	if err != nil {
		return fmt.Errorf("update candidate status: %w", err)
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
