package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/dronexam-api/internal/models"
	"github.com/noah-isme/dronexam-api/internal/service"
	appErrors "github.com/noah-isme/dronexam-api/pkg/errors"
)

var venueToday = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

type fakeBoards struct {
	mu        sync.Mutex
	completed int
	lastDate  time.Time
	err       error
}

func (f *fakeBoards) Today(context.Context, int64) (time.Time, error) {
	return venueToday, nil
}

func (f *fakeBoards) VenueBoard(_ context.Context, _ models.Principal, venueID int64, date time.Time) (*models.VenueBoard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastDate = date
	if f.err != nil {
		return nil, f.err
	}
	return &models.VenueBoard{VenueID: venueID, Date: models.FormatDate(date), CompletedToday: f.completed, Waiting: []models.BoardEntry{}}, nil
}

func (f *fakeBoards) complete() {
	f.mu.Lock()
	f.completed++
	f.mu.Unlock()
}

type fakeRoster struct {
	format string
	err    error
}

func (f *fakeRoster) Export(_ context.Context, _ models.Principal, venueID int64, date time.Time, format string) (*service.RosterFile, error) {
	f.format = format
	if f.err != nil {
		return nil, f.err
	}
	return &service.RosterFile{
		Filename:    "roster-300-" + models.FormatDate(date) + "." + format,
		ContentType: "text/csv",
		Body:        []byte("Pos,Start\n1,09:00\n"),
		Rows:        1,
	}, nil
}

func venueRouter(principal *models.Principal, boards *fakeBoards, roster *fakeRoster, hub *service.BoardHub) http.Handler {
	h := &VenueHandler{boards: boards, rosters: roster, hub: hub, logger: zap.NewNop()}
	r := newTestRouter(principal)
	r.GET("/venues/:id/board", h.Board)
	r.GET("/venues/:id/roster", h.Roster)
	r.GET("/venues/:id/board/stream", h.Stream)
	return r
}

func TestVenueHandlerBoardDefaultsToVenueToday(t *testing.T) {
	boards := &fakeBoards{}
	rec := doRequest(venueRouter(&staffCaller, boards, &fakeRoster{}, service.NewBoardHub(nil, nil)), http.MethodGet, "/venues/300/board", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, boards.lastDate.Equal(venueToday))
}

func TestVenueHandlerBoardExplicitDate(t *testing.T) {
	boards := &fakeBoards{}
	r := venueRouter(&staffCaller, boards, &fakeRoster{}, service.NewBoardHub(nil, nil))

	rec := doRequest(r, http.MethodGet, "/venues/300/board?date=2025-03-04", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2025-03-04", models.FormatDate(boards.lastDate))

	rec = doRequest(r, http.MethodGet, "/venues/300/board?date=04-03-2025", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestVenueHandlerRoster(t *testing.T) {
	roster := &fakeRoster{}
	r := venueRouter(&adminCaller, &fakeBoards{}, roster, service.NewBoardHub(nil, nil))

	rec := doRequest(r, http.MethodGet, "/venues/300/roster?date=2025-03-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.RosterFormatCSV, roster.format)
	assert.Equal(t, `attachment; filename="roster-300-2025-03-01.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "Pos,Start\n1,09:00\n", rec.Body.String())

	roster.err = appErrors.Clone(appErrors.ErrValidation, `unsupported roster format "xlsx"`)
	rec = doRequest(r, http.MethodGet, "/venues/300/roster?format=xlsx", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "xlsx", roster.format)
}

func TestVenueHandlerStreamDeniedBeforeUpgrade(t *testing.T) {
	boards := &fakeBoards{err: appErrors.ErrForbidden}
	rec := doRequest(venueRouter(&staffCaller, boards, &fakeRoster{}, service.NewBoardHub(nil, nil)), http.MethodGet, "/venues/300/board/stream", "")

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestVenueHandlerStreamPushesBoardOnLaneChange(t *testing.T) {
	boards := &fakeBoards{}
	hub := service.NewBoardHub(nil, nil)
	srv := httptest.NewServer(venueRouter(&staffCaller, boards, &fakeRoster{}, hub))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, srv.URL+"/venues/300/board/stream?date=2025-03-01", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusInternalError, "test ended")

	var first BoardFrame
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	assert.Equal(t, "board", first.Type)
	require.NotNil(t, first.Board)
	assert.Equal(t, 0, first.Board.CompletedToday)
	assert.Equal(t, 1, hub.Subscribers(300))

	boards.complete()
	lane := models.Lane{VenueID: 300, ExamDate: venueToday, Activity: models.ActivityPracticalExam}
	require.NoError(t, hub.HandleEvent(ctx, models.Event{Type: models.EventCompleted, Lane: &lane}))

	var second BoardFrame
	require.NoError(t, wsjson.Read(ctx, conn, &second))
	require.NotNil(t, second.Board)
	assert.Equal(t, 1, second.Board.CompletedToday)

	_ = conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return hub.Subscribers(300) == 0 }, 2*time.Second, 10*time.Millisecond)
}
