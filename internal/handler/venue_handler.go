package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/dronexam-api/internal/dto"
	"github.com/noah-isme/dronexam-api/internal/models"
	"github.com/noah-isme/dronexam-api/internal/service"
	appErrors "github.com/noah-isme/dronexam-api/pkg/errors"
	"github.com/noah-isme/dronexam-api/pkg/response"
)

const (
	streamWriteTimeout = 5 * time.Second
	streamFetchTimeout = 5 * time.Second
	streamPingInterval = 30 * time.Second
)

type boardReader interface {
	Today(ctx context.Context, venueID int64) (time.Time, error)
	VenueBoard(ctx context.Context, principal models.Principal, venueID int64, date time.Time) (*models.VenueBoard, error)
}

type rosterExporter interface {
	Export(ctx context.Context, principal models.Principal, venueID int64, date time.Time, format string) (*service.RosterFile, error)
}

type boardNotifier interface {
	Subscribe(venueID int64) *service.BoardSubscription
	Unsubscribe(sub *service.BoardSubscription)
}

// BoardFrame is one message on the board stream.
type BoardFrame struct {
	Type  string             `json:"type"`
	Board *models.VenueBoard `json:"board,omitempty"`
	Error *appErrors.Error   `json:"error,omitempty"`
}

// VenueHandler exposes venue boards and rosters.
type VenueHandler struct {
	boards  boardReader
	rosters rosterExporter
	hub     boardNotifier
	origins []string
	logger  *zap.Logger
}

// NewVenueHandler constructs the handler. origins are websocket origin
// patterns accepted by the board stream.
func NewVenueHandler(boards *service.QueueView, rosters *service.RosterService, hub *service.BoardHub, origins []string, logger *zap.Logger) *VenueHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VenueHandler{boards: boards, rosters: rosters, hub: hub, origins: origins, logger: logger}
}

// Board godoc
// @Summary Venue board
// @Description Masked queue of one venue day: the schedule in service, the next ten waiting and counters.
// @Tags Venues
// @Produce json
// @Security BearerAuth
// @Param id path int true "Venue ID"
// @Param date query string false "Exam date (YYYY-MM-DD), defaults to today at the venue"
// @Success 200 {object} response.Envelope
// @Router /venues/{id}/board [get]
func (h *VenueHandler) Board(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	venueID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var query dto.BoardQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, bindError(err, "invalid board query"))
		return
	}
	ctx := c.Request.Context()
	date, ok := dateOrToday(c, query.Date, func() (time.Time, error) { return h.boards.Today(ctx, venueID) })
	if !ok {
		return
	}
	board, err := h.boards.VenueBoard(ctx, principal, venueID, date)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, board, nil)
}

// Roster godoc
// @Summary Download the day roster of a venue
// @Tags Venues
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param id path int true "Venue ID"
// @Param date query string false "Exam date (YYYY-MM-DD), defaults to today at the venue"
// @Param format query string false "csv or pdf" Enums(csv, pdf)
// @Success 200 {file} binary
// @Router /venues/{id}/roster [get]
func (h *VenueHandler) Roster(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	venueID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var query dto.RosterQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, bindError(err, "invalid roster query"))
		return
	}
	if query.Format == "" {
		query.Format = service.RosterFormatCSV
	}
	ctx := c.Request.Context()
	date, ok := dateOrToday(c, query.Date, func() (time.Time, error) { return h.boards.Today(ctx, venueID) })
	if !ok {
		return
	}
	file, err := h.rosters.Export(ctx, principal, venueID, date, query.Format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}

// Stream godoc
// @Summary Live venue board over websocket
// @Description Sends the board on connect and again after every change to the venue day. Browsers may pass the bearer token as access_token.
// @Tags Venues
// @Security BearerAuth
// @Param id path int true "Venue ID"
// @Param date query string false "Exam date (YYYY-MM-DD)"
// @Success 101
// @Router /venues/{id}/board/stream [get]
func (h *VenueHandler) Stream(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	venueID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var query dto.BoardQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, bindError(err, "invalid board query"))
		return
	}
	date, ok := dateOrToday(c, query.Date, func() (time.Time, error) { return h.boards.Today(c.Request.Context(), venueID) })
	if !ok {
		return
	}

	// Authorize and load before upgrading so failures stay plain HTTP.
	board, err := h.boards.VenueBoard(c.Request.Context(), principal, venueID, date)
	if err != nil {
		response.Error(c, err)
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Debug("board stream upgrade failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sub := h.hub.Subscribe(venueID)
	defer h.hub.Unsubscribe(sub)

	if err := h.write(ctx, conn, BoardFrame{Type: "board", Board: board}); err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
		return
	}

	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()
	day := models.FormatDate(date)
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-ping.C:
			pingCtx, cancelPing := context.WithTimeout(ctx, streamWriteTimeout)
			err := conn.Ping(pingCtx)
			cancelPing()
			if err != nil {
				_ = conn.Close(websocket.StatusGoingAway, "ping_failed")
				return
			}
		case notice, open := <-sub.C:
			if !open {
				_ = conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if notice.Date != day {
				continue
			}
			frame := h.refresh(ctx, principal, venueID, date)
			if err := h.write(ctx, conn, frame); err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}

func (h *VenueHandler) refresh(ctx context.Context, principal models.Principal, venueID int64, date time.Time) BoardFrame {
	fetchCtx, cancel := context.WithTimeout(ctx, streamFetchTimeout)
	defer cancel()
	board, err := h.boards.VenueBoard(fetchCtx, principal, venueID, date)
	if err != nil {
		h.logger.Warn("board refresh failed", zap.Int64("venue_id", venueID), zap.Error(err))
		return BoardFrame{Type: "error", Error: appErrors.FromError(err)}
	}
	return BoardFrame{Type: "board", Board: board}
}

func (h *VenueHandler) write(ctx context.Context, conn *websocket.Conn, frame BoardFrame) error {
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, frame)
}
