package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleTransitions(t *testing.T) {
	all := []ScheduleStatus{SchedulePending, ScheduleCheckedIn, ScheduleInProgress, ScheduleCompleted, ScheduleCancelled, ScheduleNoShow}
	allowed := map[[2]ScheduleStatus]bool{
		{SchedulePending, ScheduleCheckedIn}:     true,
		{SchedulePending, ScheduleCancelled}:     true,
		{SchedulePending, ScheduleNoShow}:        true,
		{ScheduleCheckedIn, ScheduleInProgress}:  true,
		{ScheduleCheckedIn, ScheduleCancelled}:   true,
		{ScheduleInProgress, ScheduleCompleted}:  true,
		{ScheduleInProgress, ScheduleCancelled}:  true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]ScheduleStatus{from, to}], from.CanTransition(to), "%s -> %s", from, to)
		}
	}
	assert.True(t, ScheduleCompleted.Terminal())
	assert.True(t, ScheduleNoShow.Terminal())
	assert.False(t, ScheduleCheckedIn.Terminal())
}

func TestCandidateTransitions(t *testing.T) {
	assert.True(t, CandidatePendingSchedule.CanAdvance(CandidateScheduled))
	assert.True(t, CandidateScheduled.CanAdvance(CandidatePracticalWaiting))
	assert.False(t, CandidateScheduled.CanAdvance(CandidatePracticalInProgress))
	assert.False(t, CandidateCompleted.CanAdvance(CandidateScheduled))
	assert.True(t, CandidateTheoryInProgress.CanAdvance(CandidateCancelled))
	assert.False(t, CandidateCancelled.CanAdvance(CandidateCancelled))

	assert.True(t, CandidateScheduled.CanReset(CandidatePendingSchedule))
	assert.False(t, CandidateCompleted.CanReset(CandidatePendingSchedule))
	assert.False(t, CandidatePendingSchedule.CanReset(CandidateScheduled))
}

func TestMaskName(t *testing.T) {
	assert.Equal(t, "B****", MaskName("Budi "))
	assert.Equal(t, "S*****", MaskName("Sétiaw"))
	assert.Equal(t, "A", MaskName("A"))
	assert.Equal(t, "", MaskName(""))
}

func TestDateHelpers(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*3600)
	instant := time.Date(2025, 2, 28, 18, 30, 0, 0, time.UTC)
	assert.Equal(t, "2025-03-01", FormatDate(Date(instant, jakarta)))
	assert.Equal(t, "2025-02-28", FormatDate(Date(instant, time.UTC)))

	date, err := ParseDate("2025-03-01")
	require.NoError(t, err)
	nine, err := ParseTimeOfDay("09:00")
	require.NoError(t, err)
	assert.Equal(t, "09:00", nine.String())
	assert.Equal(t, time.Date(2025, 3, 1, 2, 0, 0, 0, time.UTC), nine.On(date, jakarta))
}

func TestProductActivities(t *testing.T) {
	both := ExamProduct{Kind: ProductTheoryPlusPractical, TheoryDurationMin: 60, PracticalDurationMin: 15}
	activity, ok := both.ActivityAt(VenuePractical)
	require.True(t, ok)
	assert.Equal(t, ActivityPracticalExam, activity)
	assert.Equal(t, 15, both.DurationFor(activity))

	theory := ExamProduct{Kind: ProductTheory, TheoryDurationMin: 60}
	_, ok = theory.ActivityAt(VenuePractical)
	assert.False(t, ok)
	_, ok = theory.ActivityAt(VenueWaiting)
	assert.False(t, ok)
}

func TestPrincipalValidate(t *testing.T) {
	inst := int64(3)
	assert.NoError(t, Principal{ID: "u1", Role: RoleInstitutionUser, InstitutionID: &inst}.Validate())
	assert.Error(t, Principal{ID: "u1", Role: RoleInstitutionUser}.Validate())
	assert.Error(t, Principal{ID: "u2", Role: RoleCandidate}.Validate())
	assert.Error(t, Principal{ID: "u3", Role: "GUEST"}.Validate())
	assert.NoError(t, SystemPrincipal().Validate())
}
