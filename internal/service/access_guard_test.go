package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/dronexam-api/internal/models"
	appErrors "github.com/noah-isme/dronexam-api/pkg/errors"
)

func TestRoleMatrix(t *testing.T) {
	own := Resource{InstitutionID: instA, CandidateID: 1, VenueID: venueField}
	foreign := Resource{InstitutionID: instB, CandidateID: 2, VenueID: venueField2}

	tests := []struct {
		name      string
		principal models.Principal
		action    Action
		res       Resource
		want      bool
	}{
		{"super admin writes candidates", superPrincipal, ActionCandidateWrite, foreign, true},
		{"exam admin schedules", adminPrincipal, ActionScheduleWrite, foreign, true},
		{"exam admin cannot check in", adminPrincipal, ActionCheckIn, own, false},
		{"exam admin cannot withdraw candidates", adminPrincipal, ActionCandidateWrite, own, false},
		{"institution schedules own", institutionPrincipal(instA), ActionScheduleWrite, own, true},
		{"institution cannot schedule foreign", institutionPrincipal(instA), ActionScheduleWrite, foreign, false},
		{"institution reads boards", institutionPrincipal(instA), ActionVenueBoardRead, foreign, true},
		{"institution cannot check in", institutionPrincipal(instA), ActionCheckIn, own, false},
		{"staff checks in anywhere", staffPrincipal, ActionCheckIn, foreign, true},
		{"venue staff checks in own venue", venueStaff(venueField), ActionCheckIn, own, true},
		{"venue staff blocked elsewhere", venueStaff(venueField), ActionCheckIn, foreign, false},
		{"staff cannot schedule", staffPrincipal, ActionScheduleWrite, own, false},
		{"staff reads candidates", staffPrincipal, ActionCandidateRead, foreign, true},
		{"candidate reads own schedule", candidatePrincipal(1), ActionScheduleRead, own, true},
		{"candidate cannot read foreign schedule", candidatePrincipal(1), ActionScheduleRead, foreign, false},
		{"candidate cannot check in", candidatePrincipal(1), ActionCheckIn, own, false},
		{"candidate reads boards", candidatePrincipal(1), ActionVenueBoardRead, foreign, true},
		{"unknown role", models.Principal{ID: "x", Role: "PILOT"}, ActionVenueBoardRead, own, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RoleMatrix(tc.principal, tc.action, tc.res))
		})
	}
}

func TestAccessGuardAuthorize(t *testing.T) {
	events := &recordingPublisher{}
	guard := NewAccessGuard(nil, events, nil, nil)
	ctx := context.Background()

	require.NoError(t, guard.Authorize(ctx, adminPrincipal, ActionScheduleRead, Resource{}))

	err := guard.Authorize(ctx, staffPrincipal, ActionCandidateWrite, Resource{CandidateID: 9})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, codeOf(err))
	assert.False(t, appErrors.Retryable(err))
	denied := events.ofType(models.EventAccessDenied)
	require.Len(t, denied, 1)
	assert.Equal(t, string(ActionCandidateWrite), denied[0].Action)
	assert.Equal(t, staffPrincipal.ID, denied[0].PrincipalID)

	err = guard.Authorize(ctx, models.Principal{ID: "i", Role: models.RoleInstitutionUser}, ActionVenueBoardRead, Resource{})
	assert.Equal(t, appErrors.ErrUnauthorized.Code, codeOf(err))
}

func TestAccessGuardCustomPermit(t *testing.T) {
	guard := NewAccessGuard(func(models.Principal, Action, Resource) bool { return false }, nil, nil, nil)
	err := guard.Authorize(context.Background(), superPrincipal, ActionVenueBoardRead, Resource{})
	assert.Equal(t, appErrors.KindAccessDenied, appErrors.KindOf(err))
}

func TestAccessGuardScoping(t *testing.T) {
	guard := NewAccessGuard(nil, nil, nil, nil)

	filter := models.ScheduleFilter{VenueID: venueField}
	guard.ScopeScheduleFilter(institutionPrincipal(instA), &filter)
	assert.Equal(t, instA, filter.InstitutionID)

	filter = models.ScheduleFilter{CandidateID: 5}
	guard.ScopeScheduleFilter(candidatePrincipal(1), &filter)
	assert.Equal(t, int64(1), filter.CandidateID)

	filter = models.ScheduleFilter{}
	guard.ScopeScheduleFilter(venueStaff(venueField2), &filter)
	assert.Equal(t, venueField2, filter.VenueID)

	schedules := []models.Schedule{
		{ID: 1, CandidateID: 1, VenueID: venueField},
		{ID: 2, CandidateID: 2, VenueID: venueField},
		{ID: 3, CandidateID: 3, VenueID: venueField2},
	}
	owners := map[int64]int64{1: instA, 2: instB}
	ids := func(rows []models.Schedule) []int64 {
		out := []int64{}
		for _, r := range rows {
			out = append(out, r.ID)
		}
		return out
	}
	assert.Equal(t, []int64{1}, ids(guard.FilterSchedules(institutionPrincipal(instA), schedules, owners)))
	assert.Equal(t, []int64{2}, ids(guard.FilterSchedules(candidatePrincipal(2), schedules, owners)))
	assert.Equal(t, []int64{3}, ids(guard.FilterSchedules(venueStaff(venueField2), schedules, owners)))
	assert.Len(t, guard.FilterSchedules(adminPrincipal, schedules, owners), 3)

	candidates := []models.Candidate{
		{ID: 1, FullName: "Ayu Lestari", IDNumber: "3174", InstitutionID: instA},
		{ID: 2, FullName: "Budi", IDNumber: "9981", InstitutionID: instB},
	}
	masked := guard.FilterCandidates(staffPrincipal, candidates)
	require.Len(t, masked, 2)
	assert.Equal(t, "A**********", masked[0].FullName)
	assert.Equal(t, "3***", masked[0].IDNumber)

	scoped := guard.FilterCandidates(institutionPrincipal(instB), candidates)
	require.Len(t, scoped, 1)
	assert.Equal(t, "Budi", scoped[0].FullName)
}
