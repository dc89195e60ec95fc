package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/dronexam-api/internal/dto"
	"github.com/noah-isme/dronexam-api/internal/models"
	"github.com/noah-isme/dronexam-api/internal/service"
	"github.com/noah-isme/dronexam-api/pkg/response"
)

type batchScheduler interface {
	Propose(ctx context.Context, principal models.Principal, req dto.BatchScheduleRequest) (*service.BatchPlan, error)
	Commit(ctx context.Context, plan *service.BatchPlan) ([]models.Schedule, error)
}

type scheduleQueries interface {
	ListSchedules(ctx context.Context, principal models.Principal, query dto.ScheduleQuery) ([]models.Schedule, *models.Pagination, error)
	GetSchedule(ctx context.Context, principal models.Principal, id int64) (*models.Schedule, error)
	ListPendingCandidates(ctx context.Context, principal models.Principal, query dto.PendingCandidatesQuery) ([]models.Candidate, error)
}

// SchedulerHandler exposes batch placement and schedule queries.
type SchedulerHandler struct {
	scheduler batchScheduler
	queries   scheduleQueries
}

// NewSchedulerHandler constructs the handler.
func NewSchedulerHandler(scheduler *service.SchedulerService, queries *service.ScheduleQueryService) *SchedulerHandler {
	return &SchedulerHandler{scheduler: scheduler, queries: queries}
}

// Batch godoc
// @Summary Schedule a batch of candidates
// @Description Places every candidate or none. With dry_run=true the placements are returned without being persisted.
// @Tags Scheduling
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param dry_run query bool false "Preview only"
// @Param payload body dto.BatchScheduleRequest true "Batch payload"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /schedules/batch [post]
func (h *SchedulerHandler) Batch(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	var req dto.BatchScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid batch schedule payload"))
		return
	}

	plan, err := h.scheduler.Propose(c.Request.Context(), principal, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if c.Query("dry_run") == "true" {
		proposals := make([]dto.ScheduleProposal, 0, len(plan.Proposals))
		for _, s := range plan.Proposals {
			proposals = append(proposals, dto.ScheduleProposal{
				CandidateID:  s.CandidateID,
				VenueID:      s.VenueID,
				ExamDate:     models.FormatDate(s.ExamDate),
				StartTime:    s.StartTime,
				EndTime:      s.EndTime,
				ActivityType: string(s.ActivityType),
			})
		}
		response.JSON(c, http.StatusOK, proposals, nil, map[string]interface{}{"mode": "preview"})
		return
	}

	created, err := h.scheduler.Commit(c.Request.Context(), plan)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created, map[string]interface{}{"mode": "committed", "count": len(created)})
}

// List godoc
// @Summary List schedules visible to the caller
// @Tags Scheduling
// @Produce json
// @Security BearerAuth
// @Param venue_id query int false "Venue"
// @Param candidate_id query int false "Candidate"
// @Param date query string false "Exam date (YYYY-MM-DD)"
// @Param status query string false "Schedule status"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /schedules [get]
func (h *SchedulerHandler) List(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	var query dto.ScheduleQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, bindError(err, "invalid schedule query"))
		return
	}
	schedules, page, err := h.queries.ListSchedules(c.Request.Context(), principal, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, schedules, page)
}

// Get godoc
// @Summary Get one schedule
// @Tags Scheduling
// @Produce json
// @Security BearerAuth
// @Param id path int true "Schedule ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /schedules/{id} [get]
func (h *SchedulerHandler) Get(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	schedule, err := h.queries.GetSchedule(c.Request.Context(), principal, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, schedule, nil)
}

// Pending godoc
// @Summary List candidates still waiting for a slot
// @Tags Scheduling
// @Produce json
// @Security BearerAuth
// @Param date query string true "Exam date (YYYY-MM-DD)"
// @Param institution_id query int false "Institution"
// @Param exam_product_id query int false "Exam product"
// @Success 200 {object} response.Envelope
// @Router /candidates/pending [get]
func (h *SchedulerHandler) Pending(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	var query dto.PendingCandidatesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, bindError(err, "invalid pending candidates query"))
		return
	}
	candidates, err := h.queries.ListPendingCandidates(c.Request.Context(), principal, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, candidates, nil)
}
