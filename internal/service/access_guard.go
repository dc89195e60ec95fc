package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/dronexam-api/internal/models"
	"github.com/noah-isme/dronexam-api/pkg/clock"
	appErrors "github.com/noah-isme/dronexam-api/pkg/errors"
)

// Action is an operation checked by the AccessGuard.
type Action string

const (
	ActionScheduleRead    Action = "Schedule.read"
	ActionScheduleWrite   Action = "Schedule.write"
	ActionScheduleOperate Action = "Schedule.operate"
	ActionScheduleNoShow  Action = "Schedule.noShow"
	ActionCheckIn         Action = "CheckIn"
	ActionCandidateRead   Action = "Candidate.read"
	ActionCandidateWrite  Action = "Candidate.write"
	ActionVenueBoardRead  Action = "VenueBoard.read"
	ActionTokenIssue      Action = "Token.issue"
)

// Resource carries the ownership attributes a decision may depend on. Zero
// values mean "not bound to a specific owner", as for list endpoints.
type Resource struct {
	InstitutionID int64
	CandidateID   int64
	VenueID       int64
}

// PermitFunc is the policy predicate consulted for every entry point.
type PermitFunc func(p models.Principal, action Action, res Resource) bool

// RoleMatrix is the built-in policy.
func RoleMatrix(p models.Principal, action Action, res Resource) bool {
	switch p.Role {
	case models.RoleSuperAdmin:
		return true
	case models.RoleExamAdmin:
		switch action {
		case ActionScheduleRead, ActionScheduleWrite, ActionScheduleNoShow, ActionCandidateRead, ActionVenueBoardRead, ActionTokenIssue:
			return true
		}
		return false
	case models.RoleInstitutionUser:
		switch action {
		case ActionVenueBoardRead:
			return true
		case ActionScheduleRead, ActionScheduleWrite, ActionCandidateRead, ActionCandidateWrite, ActionTokenIssue:
			return ownsInstitution(p, res)
		}
		return false
	case models.RoleStaff:
		switch action {
		case ActionVenueBoardRead, ActionCandidateRead, ActionScheduleNoShow:
			return true
		case ActionScheduleRead, ActionCheckIn, ActionScheduleOperate, ActionTokenIssue:
			return inVenue(p, res)
		}
		return false
	case models.RoleCandidate:
		switch action {
		case ActionVenueBoardRead:
			return true
		case ActionScheduleRead, ActionCandidateRead, ActionTokenIssue:
			return p.CandidateID != nil && (res.CandidateID == 0 || res.CandidateID == *p.CandidateID)
		}
		return false
	}
	return false
}

func ownsInstitution(p models.Principal, res Resource) bool {
	return p.InstitutionID != nil && (res.InstitutionID == 0 || res.InstitutionID == *p.InstitutionID)
}

func inVenue(p models.Principal, res Resource) bool {
	return p.VenueID == nil || res.VenueID == 0 || res.VenueID == *p.VenueID
}

// AccessGuard wraps every engine entry point with the permit predicate and
// scopes list results for institution and candidate principals.
type AccessGuard struct {
	permit PermitFunc
	events EventPublisher
	clock  clock.Clock
	audit  *zap.Logger
}

// NewAccessGuard constructs the guard. A nil permit falls back to RoleMatrix.
func NewAccessGuard(permit PermitFunc, events EventPublisher, clk clock.Clock, logger *zap.Logger) *AccessGuard {
	if permit == nil {
		permit = RoleMatrix
	}
	if events == nil {
		events = nopPublisher{}
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessGuard{permit: permit, events: events, clock: clk, audit: logger.Named("audit")}
}

// Authorize fails with FORBIDDEN unless p may perform action on res.
func (g *AccessGuard) Authorize(ctx context.Context, p models.Principal, action Action, res Resource) error {
	if err := p.Validate(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid principal")
	}
	if g.permit(p, action, res) {
		return nil
	}

	g.audit.Warn("access denied",
		zap.String("principal", p.ID),
		zap.String("role", string(p.Role)),
		zap.String("action", string(action)),
		zap.Int64("institution_id", res.InstitutionID),
		zap.Int64("candidate_id", res.CandidateID),
		zap.Int64("venue_id", res.VenueID),
	)
	g.events.Publish(models.Event{
		ID:          uuid.NewString(),
		Type:        models.EventAccessDenied,
		OccurredAt:  g.clock.Now(),
		PrincipalID: p.ID,
		CandidateID: res.CandidateID,
		Action:      string(action),
	})
	return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("%s not permitted for role %s", action, p.Role))
}

// ScopeScheduleFilter narrows a list query to what p may see.
func (g *AccessGuard) ScopeScheduleFilter(p models.Principal, filter *models.ScheduleFilter) {
	switch p.Role {
	case models.RoleInstitutionUser:
		if p.InstitutionID != nil {
			filter.InstitutionID = *p.InstitutionID
		}
	case models.RoleCandidate:
		if p.CandidateID != nil {
			filter.CandidateID = *p.CandidateID
		}
	case models.RoleStaff:
		if p.VenueID != nil {
			filter.VenueID = *p.VenueID
		}
	}
}

// ScopeCandidateFilter narrows a candidate query to what p may see.
func (g *AccessGuard) ScopeCandidateFilter(p models.Principal, filter *models.CandidateFilter) {
	switch p.Role {
	case models.RoleInstitutionUser:
		if p.InstitutionID != nil {
			filter.InstitutionID = *p.InstitutionID
		}
	case models.RoleCandidate:
		if p.CandidateID != nil {
			filter.IDs = []int64{*p.CandidateID}
		}
	}
}

// FilterSchedules drops every schedule p may not read. owners maps
// candidate id to institution id.
func (g *AccessGuard) FilterSchedules(p models.Principal, schedules []models.Schedule, owners map[int64]int64) []models.Schedule {
	out := make([]models.Schedule, 0, len(schedules))
	for _, s := range schedules {
		res := Resource{InstitutionID: owners[s.CandidateID], CandidateID: s.CandidateID, VenueID: s.VenueID}
		if p.Role == models.RoleInstitutionUser && res.InstitutionID == 0 {
			continue
		}
		if g.permit(p, ActionScheduleRead, res) {
			out = append(out, s)
		}
	}
	return out
}

// FilterCandidates drops candidates p may not read and masks personal
// fields for staff.
func (g *AccessGuard) FilterCandidates(p models.Principal, candidates []models.Candidate) []models.Candidate {
	out := make([]models.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if !g.permit(p, ActionCandidateRead, Resource{InstitutionID: c.InstitutionID, CandidateID: c.ID}) {
			continue
		}
		if p.Role == models.RoleStaff {
			c = c.Masked()
		}
		out = append(out, c)
	}
	return out
}
