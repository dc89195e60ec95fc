package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/dronexam-api/internal/dto"
	"github.com/noah-isme/dronexam-api/internal/models"
	"github.com/noah-isme/dronexam-api/internal/repository"
	"github.com/noah-isme/dronexam-api/pkg/clock"
	"github.com/noah-isme/dronexam-api/pkg/qrtoken"
)

const (
	instA int64 = 100
	instB int64 = 101

	productPractical int64 = 200
	productTheory    int64 = 201
	productCombined  int64 = 202

	venueField  int64 = 300
	venueRoom   int64 = 301
	venueLobby  int64 = 302
	venueField2 int64 = 303
)

const fixtureSecret = "0123456789abcdef0123456789abcdef"

var examDay = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Publish(events ...models.Event) {
	p.mu.Lock()
	p.events = append(p.events, events...)
	p.mu.Unlock()
}

func (p *recordingPublisher) ofType(t models.EventType) []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type engineFixture struct {
	store     *repository.MemoryStore
	clock     *clock.FakeClock
	events    *recordingPublisher
	guard     *AccessGuard
	codec     *qrtoken.Codec
	scheduler *SchedulerService
	checkin   *CheckInService
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	store := repository.NewMemoryStore()
	clk := clock.NewFake(time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC))
	events := &recordingPublisher{}
	guard := NewAccessGuard(nil, events, clk, nil)

	ring, err := qrtoken.NewRing(fixtureSecret)
	require.NoError(t, err)
	codec, err := qrtoken.NewCodec(ring, time.Hour, qrtoken.DefaultClockSkew)
	require.NoError(t, err)

	retry := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}

	store.AddInstitution(models.Institution{ID: instA, Name: "Alpha Aero", Code: "ALPHA"})
	store.AddInstitution(models.Institution{ID: instB, Name: "Bravo Flight", Code: "BRAVO"})
	store.AddProduct(models.ExamProduct{ID: productPractical, Code: "P15", Name: "Practical", Kind: models.ProductPractical, PracticalDurationMin: 15})
	store.AddProduct(models.ExamProduct{ID: productTheory, Code: "T45", Name: "Theory", Kind: models.ProductTheory, TheoryDurationMin: 45})
	store.AddProduct(models.ExamProduct{ID: productCombined, Code: "TP", Name: "Theory and practical", Kind: models.ProductTheoryPlusPractical, TheoryDurationMin: 45, PracticalDurationMin: 20})
	store.AddVenue(models.Venue{ID: venueField, Name: "Field A", Kind: models.VenuePractical, Capacity: 1})
	store.AddVenue(models.Venue{ID: venueRoom, Name: "Room 1", Kind: models.VenueTheory, Capacity: 3})
	store.AddVenue(models.Venue{ID: venueLobby, Name: "Lobby", Kind: models.VenueWaiting, Capacity: 50})
	store.AddVenue(models.Venue{ID: venueField2, Name: "Field B", Kind: models.VenuePractical, Capacity: 1})

	return &engineFixture{
		store:     store,
		clock:     clk,
		events:    events,
		guard:     guard,
		codec:     codec,
		scheduler: NewSchedulerService(store, guard, events, clk, retry, nil, nil),
		checkin:   NewCheckInService(store, codec, guard, events, clk, retry, CheckInConfig{}, nil),
	}
}

func (f *engineFixture) addCandidates(t *testing.T, institution, product int64, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		f.store.AddCandidate(models.Candidate{
			ID:            id,
			IDNumber:      fmt.Sprintf("ID-%06d", id),
			FullName:      "Pilot Number",
			InstitutionID: institution,
			ExamProductID: product,
		})
	}
}

// addPending seeds a Pending schedule for a Scheduled candidate.
func (f *engineFixture) addPending(t *testing.T, candidateID, venueID int64, activity models.ActivityType, start time.Time, minutes int) models.Schedule {
	t.Helper()
	c, err := f.store.GetCandidate(context.Background(), candidateID)
	require.NoError(t, err)
	if c.Status == models.CandidatePendingSchedule {
		f.store.AddCandidate(models.Candidate{
			ID:            c.ID,
			IDNumber:      c.IDNumber,
			FullName:      c.FullName,
			InstitutionID: c.InstitutionID,
			ExamProductID: c.ExamProductID,
			Status:        models.CandidateScheduled,
		})
	}
	return f.store.AddSchedule(models.Schedule{
		CandidateID:   candidateID,
		VenueID:       venueID,
		ExamProductID: c.ExamProductID,
		ExamDate:      models.Date(start, time.UTC),
		StartTime:     start,
		EndTime:       start.Add(time.Duration(minutes) * time.Minute),
		ActivityType:  activity,
	})
}

func (f *engineFixture) token(t *testing.T, s models.Schedule) string {
	t.Helper()
	token, _, err := f.codec.Encode(s.ID, s.CandidateID, f.clock.Now())
	require.NoError(t, err)
	return token
}

func (f *engineFixture) schedule(t *testing.T, id int64) models.Schedule {
	t.Helper()
	s, err := f.store.GetSchedule(context.Background(), id)
	require.NoError(t, err)
	return *s
}

func (f *engineFixture) candidate(t *testing.T, id int64) models.Candidate {
	t.Helper()
	c, err := f.store.GetCandidate(context.Background(), id)
	require.NoError(t, err)
	return *c
}

func batchRequest(venue, product int64, ids ...int64) dto.BatchScheduleRequest {
	return dto.BatchScheduleRequest{
		CandidateIDs:  ids,
		ExamProductID: product,
		VenueID:       venue,
		ExamDate:      models.FormatDate(examDay),
		Policy:        dto.SchedulePolicy{MaxPerDay: 100},
	}
}

func at(hour, minute int) time.Time {
	return examDay.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

var (
	adminPrincipal = models.Principal{ID: "admin-1", Role: models.RoleExamAdmin}
	superPrincipal = models.Principal{ID: "root", Role: models.RoleSuperAdmin}
	staffPrincipal = models.Principal{ID: "staff-1", Role: models.RoleStaff}
)

func institutionPrincipal(id int64) models.Principal {
	return models.Principal{ID: "inst-user", Role: models.RoleInstitutionUser, InstitutionID: &id}
}

func candidatePrincipal(id int64) models.Principal {
	return models.Principal{ID: "cand-user", Role: models.RoleCandidate, CandidateID: &id}
}

func venueStaff(id int64) models.Principal {
	return models.Principal{ID: "staff-venue", Role: models.RoleStaff, VenueID: &id}
}
