package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/dronexam-api/internal/models"
)

func slot(id, venue int64, start time.Time, minutes int, status models.ScheduleStatus) models.Schedule {
	return models.Schedule{
		ID:        id,
		VenueID:   venue,
		StartTime: start,
		EndTime:   start.Add(time.Duration(minutes) * time.Minute),
		Status:    status,
	}
}

func TestIsFreePractical(t *testing.T) {
	field := models.Venue{ID: venueField, Kind: models.VenuePractical, Capacity: 1}
	existing := []models.Schedule{
		slot(1, venueField, at(9, 0), 15, models.SchedulePending),
		slot(2, venueField, at(9, 30), 15, models.ScheduleCancelled),
	}

	assert.False(t, IsFree(field, existing, at(9, 10), at(9, 25), models.ActivityPracticalExam))
	assert.True(t, IsFree(field, existing, at(9, 15), at(9, 30), models.ActivityPracticalExam), "half-open windows touch")
	assert.True(t, IsFree(field, existing, at(9, 30), at(9, 45), models.ActivityPracticalExam), "cancelled rows free their slot")
	assert.False(t, IsFree(field, existing, at(10, 0), at(10, 15), models.ActivityTheoryExam))
	assert.False(t, IsFree(field, nil, at(10, 0), at(10, 0), models.ActivityPracticalExam))
}

func TestIsFreeTheory(t *testing.T) {
	room := models.Venue{ID: venueRoom, Kind: models.VenueTheory, Capacity: 2}
	existing := []models.Schedule{slot(1, venueRoom, at(9, 0), 45, models.SchedulePending)}

	assert.True(t, IsFree(room, existing, at(9, 0), at(9, 45), models.ActivityTheoryExam))
	assert.False(t, IsFree(room, existing, at(9, 15), at(10, 0), models.ActivityTheoryExam), "overlap with a different window")
	assert.True(t, IsFree(room, existing, at(9, 45), at(10, 30), models.ActivityTheoryExam))

	full := append(existing, slot(2, venueRoom, at(9, 0), 45, models.SchedulePending))
	assert.False(t, IsFree(room, full, at(9, 0), at(9, 45), models.ActivityTheoryExam))

	lobby := models.Venue{ID: venueLobby, Kind: models.VenueWaiting, Capacity: 100}
	assert.False(t, IsFree(lobby, nil, at(9, 0), at(9, 45), models.ActivityTheoryExam))
}

func TestNextFreeStart(t *testing.T) {
	field := models.Venue{ID: venueField, Kind: models.VenuePractical, Capacity: 1}
	existing := []models.Schedule{
		slot(1, venueField, at(9, 0), 30, models.SchedulePending),
		slot(2, venueField, at(9, 40), 20, models.SchedulePending),
	}
	d := 15 * time.Minute

	start, ok := NextFreeStart(field, existing, nil, at(9, 0), at(17, 0), d, models.ActivityPracticalExam)
	assert.True(t, ok)
	assert.True(t, start.Equal(at(10, 0)), "09:30 gap is too short, got %s", start)

	start, ok = NextFreeStart(field, existing, nil, at(9, 0), at(17, 0), 10*time.Minute, models.ActivityPracticalExam)
	assert.True(t, ok)
	assert.True(t, start.Equal(at(9, 30)))

	own := []models.Schedule{slot(9, venueRoom, at(10, 0), 45, models.SchedulePending)}
	start, ok = NextFreeStart(field, existing, own, at(9, 0), at(17, 0), d, models.ActivityPracticalExam)
	assert.True(t, ok)
	assert.True(t, start.Equal(at(10, 45)), "candidate is busy elsewhere until 10:45, got %s", start)

	_, ok = NextFreeStart(field, existing, nil, at(9, 0), at(10, 10), d, models.ActivityPracticalExam)
	assert.False(t, ok)
}

func TestCandidateFree(t *testing.T) {
	own := []models.Schedule{
		slot(1, venueRoom, at(9, 0), 45, models.ScheduleCompleted),
		slot(2, venueField, at(11, 0), 15, models.ScheduleCancelled),
	}
	assert.False(t, CandidateFree(own, at(9, 30), at(9, 50)))
	assert.True(t, CandidateFree(own, at(9, 45), at(10, 0)))
	assert.True(t, CandidateFree(own, at(11, 0), at(11, 15)))
}
