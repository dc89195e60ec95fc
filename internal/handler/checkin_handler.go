package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/dronexam-api/internal/dto"
	"github.com/noah-isme/dronexam-api/internal/models"
	"github.com/noah-isme/dronexam-api/internal/service"
	appErrors "github.com/noah-isme/dronexam-api/pkg/errors"
	"github.com/noah-isme/dronexam-api/pkg/qrtoken"
	"github.com/noah-isme/dronexam-api/pkg/response"
)

type checkInEngine interface {
	Scan(ctx context.Context, staff models.Principal, token string) (*models.CheckInResult, error)
	BatchScan(ctx context.Context, staff models.Principal, tokens []string) ([]models.ScanOutcome, error)
	MarkInProgress(ctx context.Context, staff models.Principal, scheduleID int64) (*models.Schedule, error)
	Complete(ctx context.Context, staff models.Principal, scheduleID int64) (*models.Schedule, error)
	NoShow(ctx context.Context, staff models.Principal, scheduleID int64) (*models.Schedule, error)
	CancelSchedule(ctx context.Context, principal models.Principal, scheduleID int64) (*models.Schedule, error)
	CancelCandidate(ctx context.Context, principal models.Principal, candidateID int64) (*models.Candidate, error)
	IssueToken(ctx context.Context, principal models.Principal, scheduleID int64) (*models.IssuedToken, error)
	IssueQR(ctx context.Context, principal models.Principal, scheduleID int64, size int) ([]byte, *models.IssuedToken, error)
}

// CheckInHandler exposes scanning and schedule lifecycle endpoints.
type CheckInHandler struct {
	engine checkInEngine
}

// NewCheckInHandler constructs the handler.
func NewCheckInHandler(engine *service.CheckInService) *CheckInHandler {
	return &CheckInHandler{engine: engine}
}

// Scan godoc
// @Summary Check in a candidate by QR token
// @Tags Check-in
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.ScanRequest true "Scanned token"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /checkin/scan [post]
func (h *CheckInHandler) Scan(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	var req dto.ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		response.Error(c, bindError(err, "token is required"))
		return
	}
	result, err := h.engine.Scan(c.Request.Context(), principal, req.Token)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// BatchScan godoc
// @Summary Check in tokens collected offline
// @Description Each token succeeds or fails on its own; outcomes keep request order.
// @Tags Check-in
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.BatchScanRequest true "Scanned tokens"
// @Success 200 {object} response.Envelope
// @Router /checkin/batch-scan [post]
func (h *CheckInHandler) BatchScan(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	var req dto.BatchScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid batch scan payload"))
		return
	}
	if len(req.Tokens) == 0 || len(req.Tokens) > 200 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "tokens must hold between 1 and 200 entries"))
		return
	}
	outcomes, err := h.engine.BatchScan(c.Request.Context(), principal, req.Tokens)
	if err != nil {
		response.Error(c, err)
		return
	}
	failed := 0
	for _, o := range outcomes {
		if o.Error != nil {
			failed++
		}
	}
	response.JSON(c, http.StatusOK, outcomes, nil, map[string]interface{}{"checked_in": len(outcomes) - failed, "failed": failed})
}

type scheduleTransition func(ctx context.Context, principal models.Principal, scheduleID int64) (*models.Schedule, error)

func (h *CheckInHandler) transition(c *gin.Context, apply scheduleTransition) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	schedule, err := apply(c.Request.Context(), principal, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, schedule, nil)
}

// InProgress godoc
// @Summary Start serving a checked-in candidate
// @Tags Check-in
// @Produce json
// @Security BearerAuth
// @Param id path int true "Schedule ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /schedules/{id}/in-progress [post]
func (h *CheckInHandler) InProgress(c *gin.Context) {
	h.transition(c, h.engine.MarkInProgress)
}

// Complete godoc
// @Summary Complete an in-progress schedule
// @Tags Check-in
// @Produce json
// @Security BearerAuth
// @Param id path int true "Schedule ID"
// @Success 200 {object} response.Envelope
// @Router /schedules/{id}/complete [post]
func (h *CheckInHandler) Complete(c *gin.Context) {
	h.transition(c, h.engine.Complete)
}

// NoShow godoc
// @Summary Mark a pending schedule as no-show
// @Tags Check-in
// @Produce json
// @Security BearerAuth
// @Param id path int true "Schedule ID"
// @Success 200 {object} response.Envelope
// @Router /schedules/{id}/no-show [post]
func (h *CheckInHandler) NoShow(c *gin.Context) {
	h.transition(c, h.engine.NoShow)
}

// CancelSchedule godoc
// @Summary Cancel one schedule
// @Tags Scheduling
// @Produce json
// @Security BearerAuth
// @Param id path int true "Schedule ID"
// @Success 200 {object} response.Envelope
// @Router /schedules/{id}/cancel [post]
func (h *CheckInHandler) CancelSchedule(c *gin.Context) {
	h.transition(c, h.engine.CancelSchedule)
}

// CancelCandidate godoc
// @Summary Withdraw a candidate and cancel their open schedules
// @Tags Scheduling
// @Produce json
// @Security BearerAuth
// @Param id path int true "Candidate ID"
// @Success 200 {object} response.Envelope
// @Router /candidates/{id}/cancel [post]
func (h *CheckInHandler) CancelCandidate(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	candidate, err := h.engine.CancelCandidate(c.Request.Context(), principal, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, candidate, nil)
}

// Token godoc
// @Summary Issue a QR token for a pending schedule
// @Tags Check-in
// @Produce json
// @Security BearerAuth
// @Param id path int true "Schedule ID"
// @Success 200 {object} response.Envelope
// @Router /schedules/{id}/token [get]
func (h *CheckInHandler) Token(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	issued, err := h.engine.IssueToken(c.Request.Context(), principal, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, issued, nil)
}

// QR godoc
// @Summary Render a fresh QR token as PNG
// @Tags Check-in
// @Produce png
// @Security BearerAuth
// @Param id path int true "Schedule ID"
// @Param size query int false "Image size in pixels (128-1024)"
// @Success 200 {file} binary
// @Router /schedules/{id}/qr [get]
func (h *CheckInHandler) QR(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var query dto.QRQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, bindError(err, "invalid qr query"))
		return
	}
	if query.Size != 0 && (query.Size < 128 || query.Size > 1024) {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "size must be within 128..1024"))
		return
	}
	if query.Size == 0 {
		query.Size = qrtoken.DefaultQRSize
	}

	png, issued, err := h.engine.IssueQR(c.Request.Context(), principal, id, query.Size)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Header("X-Token-Expires-At", issued.ExpiresAt.UTC().Format(http.TimeFormat))
	c.Header("X-Schedule-ID", strconv.FormatInt(issued.ScheduleID, 10))
	c.Data(http.StatusOK, "image/png", png)
}
