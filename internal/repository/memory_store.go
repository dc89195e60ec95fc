package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/noah-isme/dronexam-api/internal/models"
)

// memoryState is an immutable snapshot once published. Transactions work on
// a clone and publish it on success.
type memoryState struct {
	institutions map[int64]models.Institution
	products     map[int64]models.ExamProduct
	venues       map[int64]models.Venue
	candidates   map[int64]models.Candidate
	schedules    map[int64]models.Schedule
}

func newMemoryState() *memoryState {
	return &memoryState{
		institutions: map[int64]models.Institution{},
		products:     map[int64]models.ExamProduct{},
		venues:       map[int64]models.Venue{},
		candidates:   map[int64]models.Candidate{},
		schedules:    map[int64]models.Schedule{},
	}
}

func (s *memoryState) clone() *memoryState {
	next := &memoryState{
		institutions: make(map[int64]models.Institution, len(s.institutions)),
		products:     make(map[int64]models.ExamProduct, len(s.products)),
		venues:       make(map[int64]models.Venue, len(s.venues)),
		candidates:   make(map[int64]models.Candidate, len(s.candidates)),
		schedules:    make(map[int64]models.Schedule, len(s.schedules)),
	}
	for k, v := range s.institutions {
		next.institutions[k] = v
	}
	for k, v := range s.products {
		next.products[k] = v
	}
	for k, v := range s.venues {
		next.venues[k] = v
	}
	for k, v := range s.candidates {
		next.candidates[k] = cloneCandidate(v)
	}
	for k, v := range s.schedules {
		next.schedules[k] = cloneSchedule(v)
	}
	return next
}

func cloneCandidate(c models.Candidate) models.Candidate {
	c.CurrentVenueID = cloneInt64(c.CurrentVenueID)
	return c
}

func cloneSchedule(s models.Schedule) models.Schedule {
	s.CheckInAt = cloneTime(s.CheckInAt)
	s.StartedAt = cloneTime(s.StartedAt)
	s.FinishedAt = cloneTime(s.FinishedAt)
	s.QueuePosition = cloneInt(s.QueuePosition)
	s.EstimatedWaitMin = cloneInt(s.EstimatedWaitMin)
	return s
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

// MemoryStore is an in-process Store. Writers are serialized by a single
// mutex; readers see the last published snapshot without locking.
type MemoryStore struct {
	mu    sync.Mutex
	state atomic.Pointer[memoryState]
	seq   atomic.Int64
	now   func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{now: func() time.Time { return time.Now().UTC() }}
	s.state.Store(newMemoryState())
	return s
}

func (s *MemoryStore) view() *memoryState { return s.state.Load() }

func (s *MemoryStore) nextID() int64 { return s.seq.Add(1) }

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// WithTx runs fn against a private clone and publishes it when fn succeeds.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.view().clone()
	if err := fn(ctx, &memoryTx{memoryReader: memoryReader{state: work}, store: s}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state.Store(work)
	return nil
}

// Seed helpers. They assign ids when zero and publish immediately.

// AddInstitution stores an institution.
func (s *MemoryStore) AddInstitution(inst models.Institution) models.Institution {
	return seed(s, func(st *memoryState) models.Institution {
		if inst.ID == 0 {
			inst.ID = s.nextID()
		}
		if inst.Status == "" {
			inst.Status = models.StatusActive
		}
		st.institutions[inst.ID] = inst
		return inst
	})
}

// AddProduct stores an exam product.
func (s *MemoryStore) AddProduct(p models.ExamProduct) models.ExamProduct {
	return seed(s, func(st *memoryState) models.ExamProduct {
		if p.ID == 0 {
			p.ID = s.nextID()
		}
		st.products[p.ID] = p
		return p
	})
}

// AddVenue stores a venue.
func (s *MemoryStore) AddVenue(v models.Venue) models.Venue {
	return seed(s, func(st *memoryState) models.Venue {
		if v.ID == 0 {
			v.ID = s.nextID()
		}
		if v.Status == "" {
			v.Status = models.StatusActive
		}
		if v.Capacity == 0 {
			v.Capacity = 1
		}
		st.venues[v.ID] = v
		return v
	})
}

// AddCandidate stores a candidate.
func (s *MemoryStore) AddCandidate(c models.Candidate) models.Candidate {
	return seed(s, func(st *memoryState) models.Candidate {
		if c.ID == 0 {
			c.ID = s.nextID()
		}
		if c.Status == "" {
			c.Status = models.CandidatePendingSchedule
		}
		c.CreatedAt = s.now()
		c.UpdatedAt = c.CreatedAt
		st.candidates[c.ID] = c
		return c
	})
}

// AddSchedule stores a schedule as is.
func (s *MemoryStore) AddSchedule(sc models.Schedule) models.Schedule {
	return seed(s, func(st *memoryState) models.Schedule {
		if sc.ID == 0 {
			sc.ID = s.nextID()
		}
		if sc.Status == "" {
			sc.Status = models.SchedulePending
		}
		sc.CreatedAt = s.now()
		sc.UpdatedAt = sc.CreatedAt
		st.schedules[sc.ID] = cloneSchedule(sc)
		return sc
	})
}

func seed[T any](s *MemoryStore, apply func(*memoryState) T) T {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.view().clone()
	out := apply(work)
	if id := s.maxID(work); id > s.seq.Load() {
		s.seq.Store(id)
	}
	s.state.Store(work)
	return out
}

func (s *MemoryStore) maxID(st *memoryState) int64 {
	var highest int64
	for id := range st.institutions {
		if id > highest {
			highest = id
		}
	}
	for id := range st.products {
		if id > highest {
			highest = id
		}
	}
	for id := range st.venues {
		if id > highest {
			highest = id
		}
	}
	for id := range st.candidates {
		if id > highest {
			highest = id
		}
	}
	for id := range st.schedules {
		if id > highest {
			highest = id
		}
	}
	return highest
}

// Reader delegation over the published snapshot.

func (s *MemoryStore) GetInstitution(ctx context.Context, id int64) (*models.Institution, error) {
	return s.reader().GetInstitution(ctx, id)
}

func (s *MemoryStore) GetProduct(ctx context.Context, id int64) (*models.ExamProduct, error) {
	return s.reader().GetProduct(ctx, id)
}

func (s *MemoryStore) GetVenue(ctx context.Context, id int64) (*models.Venue, error) {
	return s.reader().GetVenue(ctx, id)
}

func (s *MemoryStore) GetCandidate(ctx context.Context, id int64) (*models.Candidate, error) {
	return s.reader().GetCandidate(ctx, id)
}

func (s *MemoryStore) GetCandidates(ctx context.Context, ids []int64) ([]models.Candidate, error) {
	return s.reader().GetCandidates(ctx, ids)
}

func (s *MemoryStore) GetSchedule(ctx context.Context, id int64) (*models.Schedule, error) {
	return s.reader().GetSchedule(ctx, id)
}

func (s *MemoryStore) ListCandidatesPending(ctx context.Context, date time.Time, filter models.CandidateFilter) ([]models.Candidate, error) {
	return s.reader().ListCandidatesPending(ctx, date, filter)
}

func (s *MemoryStore) LoadSchedulesInWindow(ctx context.Context, venueID int64, date, t0, t1 time.Time) ([]models.Schedule, error) {
	return s.reader().LoadSchedulesInWindow(ctx, venueID, date, t0, t1)
}

func (s *MemoryStore) LoadWaitingInLane(ctx context.Context, lane models.Lane) ([]models.Schedule, error) {
	return s.reader().LoadWaitingInLane(ctx, lane)
}

func (s *MemoryStore) CountLaneStatus(ctx context.Context, lane models.Lane, status models.ScheduleStatus) (int, error) {
	return s.reader().CountLaneStatus(ctx, lane, status)
}

func (s *MemoryStore) ListSchedulesByCandidate(ctx context.Context, candidateID int64) ([]models.Schedule, error) {
	return s.reader().ListSchedulesByCandidate(ctx, candidateID)
}

func (s *MemoryStore) ListVenueDay(ctx context.Context, venueID int64, date time.Time) ([]models.Schedule, error) {
	return s.reader().ListVenueDay(ctx, venueID, date)
}

func (s *MemoryStore) ListSchedules(ctx context.Context, filter models.ScheduleFilter) ([]models.Schedule, int, error) {
	return s.reader().ListSchedules(ctx, filter)
}

func (s *MemoryStore) ListCandidates(ctx context.Context, filter models.CandidateFilter) ([]models.Candidate, int, error) {
	return s.reader().ListCandidates(ctx, filter)
}

func (s *MemoryStore) ListDueNoShows(ctx context.Context, now time.Time, limit int) ([]models.Schedule, error) {
	return s.reader().ListDueNoShows(ctx, now, limit)
}

func (s *MemoryStore) reader() memoryReader { return memoryReader{state: s.view()} }

type memoryReader struct {
	state *memoryState
}

func (r memoryReader) GetInstitution(_ context.Context, id int64) (*models.Institution, error) {
	inst, ok := r.state.institutions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &inst, nil
}

func (r memoryReader) GetProduct(_ context.Context, id int64) (*models.ExamProduct, error) {
	p, ok := r.state.products[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &p, nil
}

func (r memoryReader) GetVenue(_ context.Context, id int64) (*models.Venue, error) {
	v, ok := r.state.venues[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &v, nil
}

func (r memoryReader) GetCandidate(_ context.Context, id int64) (*models.Candidate, error) {
	c, ok := r.state.candidates[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	c = cloneCandidate(c)
	return &c, nil
}

func (r memoryReader) GetCandidates(_ context.Context, ids []int64) ([]models.Candidate, error) {
	out := make([]models.Candidate, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.state.candidates[id]; ok {
			out = append(out, cloneCandidate(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memoryReader) GetSchedule(_ context.Context, id int64) (*models.Schedule, error) {
	s, ok := r.state.schedules[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	s = cloneSchedule(s)
	return &s, nil
}

func (r memoryReader) ListCandidatesPending(_ context.Context, date time.Time, filter models.CandidateFilter) ([]models.Candidate, error) {
	busy := map[int64]bool{}
	for _, s := range r.state.schedules {
		if s.Status.Active() && s.ExamDate.Equal(date) {
			busy[s.CandidateID] = true
		}
	}
	var out []models.Candidate
	for _, c := range r.state.candidates {
		if c.Status != models.CandidatePendingSchedule || busy[c.ID] {
			continue
		}
		if !matchCandidate(c, filter) {
			continue
		}
		out = append(out, cloneCandidate(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memoryReader) LoadSchedulesInWindow(_ context.Context, venueID int64, date, t0, t1 time.Time) ([]models.Schedule, error) {
	var out []models.Schedule
	for _, s := range r.state.schedules {
		if s.VenueID == venueID && s.ExamDate.Equal(date) && s.Status.Active() && s.Overlaps(t0, t1) {
			out = append(out, cloneSchedule(s))
		}
	}
	sortByStart(out)
	return out, nil
}

func (r memoryReader) LoadWaitingInLane(_ context.Context, lane models.Lane) ([]models.Schedule, error) {
	var out []models.Schedule
	for _, s := range r.state.schedules {
		if inLane(s, lane) && s.Status.InLane() {
			out = append(out, cloneSchedule(s))
		}
	}
	sortByStart(out)
	return out, nil
}

func (r memoryReader) CountLaneStatus(_ context.Context, lane models.Lane, status models.ScheduleStatus) (int, error) {
	n := 0
	for _, s := range r.state.schedules {
		if inLane(s, lane) && s.Status == status {
			n++
		}
	}
	return n, nil
}

func (r memoryReader) ListSchedulesByCandidate(_ context.Context, candidateID int64) ([]models.Schedule, error) {
	var out []models.Schedule
	for _, s := range r.state.schedules {
		if s.CandidateID == candidateID {
			out = append(out, cloneSchedule(s))
		}
	}
	sortByStart(out)
	return out, nil
}

func (r memoryReader) ListVenueDay(_ context.Context, venueID int64, date time.Time) ([]models.Schedule, error) {
	var out []models.Schedule
	for _, s := range r.state.schedules {
		if s.VenueID == venueID && s.ExamDate.Equal(date) {
			out = append(out, cloneSchedule(s))
		}
	}
	sortByStart(out)
	return out, nil
}

func (r memoryReader) ListSchedules(_ context.Context, filter models.ScheduleFilter) ([]models.Schedule, int, error) {
	var matched []models.Schedule
	for _, s := range r.state.schedules {
		if filter.VenueID != 0 && s.VenueID != filter.VenueID {
			continue
		}
		if filter.CandidateID != 0 && s.CandidateID != filter.CandidateID {
			continue
		}
		if filter.Date != nil && !s.ExamDate.Equal(*filter.Date) {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if filter.InstitutionID != 0 && r.state.candidates[s.CandidateID].InstitutionID != filter.InstitutionID {
			continue
		}
		matched = append(matched, cloneSchedule(s))
	}
	sortByStart(matched)
	page, size := normalizePage(filter.Page, filter.PageSize)
	return paginate(matched, page, size), len(matched), nil
}

func (r memoryReader) ListCandidates(_ context.Context, filter models.CandidateFilter) ([]models.Candidate, int, error) {
	var matched []models.Candidate
	for _, c := range r.state.candidates {
		if matchCandidate(c, filter) {
			matched = append(matched, cloneCandidate(c))
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	page, size := normalizePage(filter.Page, filter.PageSize)
	return paginate(matched, page, size), len(matched), nil
}

func (r memoryReader) ListDueNoShows(_ context.Context, now time.Time, limit int) ([]models.Schedule, error) {
	var out []models.Schedule
	for _, s := range r.state.schedules {
		if s.Status == models.SchedulePending && !s.EndTime.After(now) {
			out = append(out, cloneSchedule(s))
		}
	}
	sortByStart(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryTx struct {
	memoryReader
	store *MemoryStore
}

// Locks are implicit: the store admits one transaction at a time.

func (t *memoryTx) LockCalendar(context.Context, int64, time.Time) error { return nil }

func (t *memoryTx) LockLane(context.Context, models.Lane) error { return nil }

func (t *memoryTx) LoadScheduleForUpdate(ctx context.Context, id int64) (*models.Schedule, error) {
	return t.GetSchedule(ctx, id)
}

func (t *memoryTx) LoadCandidateForUpdate(ctx context.Context, id int64) (*models.Candidate, error) {
	return t.GetCandidate(ctx, id)
}

func (t *memoryTx) LoadCandidatesForUpdate(ctx context.Context, ids []int64) ([]models.Candidate, error) {
	return t.GetCandidates(ctx, ids)
}

func (t *memoryTx) LoadLaneForUpdate(ctx context.Context, lane models.Lane) ([]models.Schedule, error) {
	return t.LoadWaitingInLane(ctx, lane)
}

func (t *memoryTx) InsertSchedule(_ context.Context, schedule *models.Schedule) error {
	if schedule.ID == 0 {
		schedule.ID = t.store.nextID()
	}
	if _, exists := t.state.schedules[schedule.ID]; exists {
		return fmt.Errorf("insert schedule: duplicate id %d", schedule.ID)
	}
	now := t.store.now()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now
	t.state.schedules[schedule.ID] = cloneSchedule(*schedule)
	return nil
}

func (t *memoryTx) UpdateScheduleStatus(_ context.Context, schedule *models.Schedule) error {
	current, ok := t.state.schedules[schedule.ID]
	if !ok {
		return sql.ErrNoRows
	}
	current.Status = schedule.Status
	current.CheckInAt = cloneTime(schedule.CheckInAt)
	current.StartedAt = cloneTime(schedule.StartedAt)
	current.FinishedAt = cloneTime(schedule.FinishedAt)
	current.UpdatedAt = t.store.now()
	schedule.UpdatedAt = current.UpdatedAt
	t.state.schedules[schedule.ID] = current
	return nil
}

func (t *memoryTx) UpdateQueue(_ context.Context, scheduleID int64, position, waitMin *int) error {
	current, ok := t.state.schedules[scheduleID]
	if !ok {
		return sql.ErrNoRows
	}
	current.QueuePosition = cloneInt(position)
	current.EstimatedWaitMin = cloneInt(waitMin)
	current.UpdatedAt = t.store.now()
	t.state.schedules[scheduleID] = current
	return nil
}

func (t *memoryTx) UpdateCandidateStatus(_ context.Context, candidate *models.Candidate) error {
	current, ok := t.state.candidates[candidate.ID]
	if !ok {
		return sql.ErrNoRows
	}
	current.Status = candidate.Status
	current.CurrentVenueID = cloneInt64(candidate.CurrentVenueID)
	current.UpdatedAt = t.store.now()
	candidate.UpdatedAt = current.UpdatedAt
	t.state.candidates[candidate.ID] = current
	return nil
}

func inLane(s models.Schedule, lane models.Lane) bool {
	return s.VenueID == lane.VenueID && s.ExamDate.Equal(lane.ExamDate) && s.ActivityType == lane.Activity
}

func matchCandidate(c models.Candidate, filter models.CandidateFilter) bool {
	if filter.InstitutionID != 0 && c.InstitutionID != filter.InstitutionID {
		return false
	}
	if filter.ExamProductID != 0 && c.ExamProductID != filter.ExamProductID {
		return false
	}
	if filter.Status != "" && c.Status != filter.Status {
		return false
	}
	if len(filter.IDs) > 0 {
		found := false
		for _, id := range filter.IDs {
			if id == c.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func sortByStart(schedules []models.Schedule) {
	sort.Slice(schedules, func(i, j int) bool {
		if !schedules[i].StartTime.Equal(schedules[j].StartTime) {
			return schedules[i].StartTime.Before(schedules[j].StartTime)
		}
		return schedules[i].ID < schedules[j].ID
	})
}

func paginate[T any](items []T, page, size int) []T {
	start := (page - 1) * size
	if start >= len(items) {
		return []T{}
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
