package service

import (
	"context"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/dronexam-api/internal/dto"
	"github.com/noah-isme/dronexam-api/internal/models"
	"github.com/noah-isme/dronexam-api/internal/repository"
	appErrors "github.com/noah-isme/dronexam-api/pkg/errors"
)

// ScheduleQueryService answers the scoped read endpoints.
type ScheduleQueryService struct {
	store     repository.Reader
	guard     *AccessGuard
	validator *validator.Validate
	logger    *zap.Logger
}

// NewScheduleQueryService constructs the read service.
func NewScheduleQueryService(store repository.Reader, guard *AccessGuard, validate *validator.Validate, logger *zap.Logger) *ScheduleQueryService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleQueryService{store: store, guard: guard, validator: validate, logger: logger}
}

// ListSchedules returns one page of schedules visible to principal.
func (s *ScheduleQueryService) ListSchedules(ctx context.Context, principal models.Principal, query dto.ScheduleQuery) ([]models.Schedule, *models.Pagination, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule query")
	}
	if err := s.guard.Authorize(ctx, principal, ActionScheduleRead, Resource{VenueID: query.VenueID, CandidateID: query.CandidateID}); err != nil {
		return nil, nil, err
	}

	filter := models.ScheduleFilter{
		VenueID:     query.VenueID,
		CandidateID: query.CandidateID,
		Status:      models.ScheduleStatus(query.Status),
		Page:        query.Page,
		PageSize:    query.PageSize,
	}
	if query.Date != "" {
		date, err := models.ParseDate(query.Date)
		if err != nil {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD")
		}
		filter.Date = &date
	}
	s.guard.ScopeScheduleFilter(principal, &filter)

	schedules, total, err := s.store.ListSchedules(ctx, filter)
	if err != nil {
		return nil, nil, loadError(err, "schedules")
	}
	owners, err := s.owners(ctx, schedules)
	if err != nil {
		return nil, nil, err
	}
	schedules = s.guard.FilterSchedules(principal, schedules, owners)

	page, size := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return schedules, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// GetSchedule returns one schedule if principal may read it.
func (s *ScheduleQueryService) GetSchedule(ctx context.Context, principal models.Principal, id int64) (*models.Schedule, error) {
	schedule, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, loadError(err, "schedule")
	}
	candidate, err := s.store.GetCandidate(ctx, schedule.CandidateID)
	if err != nil {
		return nil, loadError(err, "candidate")
	}
	res := Resource{InstitutionID: candidate.InstitutionID, CandidateID: candidate.ID, VenueID: schedule.VenueID}
	if err := s.guard.Authorize(ctx, principal, ActionScheduleRead, res); err != nil {
		return nil, err
	}
	return schedule, nil
}

// ListPendingCandidates returns candidates still waiting for a slot on date.
func (s *ScheduleQueryService) ListPendingCandidates(ctx context.Context, principal models.Principal, query dto.PendingCandidatesQuery) ([]models.Candidate, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid pending candidates query")
	}
	if err := s.guard.Authorize(ctx, principal, ActionCandidateRead, Resource{InstitutionID: query.InstitutionID}); err != nil {
		return nil, err
	}
	date, err := models.ParseDate(query.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD")
	}

	filter := models.CandidateFilter{InstitutionID: query.InstitutionID, ExamProductID: query.ExamProductID}
	s.guard.ScopeCandidateFilter(principal, &filter)
	candidates, err := s.store.ListCandidatesPending(ctx, date, filter)
	if err != nil {
		return nil, loadError(err, "pending candidates")
	}
	return s.guard.FilterCandidates(principal, candidates), nil
}

func (s *ScheduleQueryService) owners(ctx context.Context, schedules []models.Schedule) (map[int64]int64, error) {
	ids := make([]int64, 0, len(schedules))
	seen := make(map[int64]struct{}, len(schedules))
	for _, sc := range schedules {
		if _, ok := seen[sc.CandidateID]; ok {
			continue
		}
		seen[sc.CandidateID] = struct{}{}
		ids = append(ids, sc.CandidateID)
	}
	candidates, err := s.store.GetCandidates(ctx, ids)
	if err != nil {
		return nil, loadError(err, "candidates")
	}
	owners := make(map[int64]int64, len(candidates))
	for _, c := range candidates {
		owners[c.ID] = c.InstitutionID
	}
	return owners, nil
}
