package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/dronexam-api/internal/models"
	appErrors "github.com/noah-isme/dronexam-api/pkg/errors"
	"github.com/noah-isme/dronexam-api/pkg/qrtoken"
)

type fakeCheckInEngine struct {
	scanErr    error
	lastToken  string
	lastTokens []string
	calls      []string
	lastID     int64
	lastSize   int
	transErr   error
}

func (f *fakeCheckInEngine) Scan(_ context.Context, _ models.Principal, token string) (*models.CheckInResult, error) {
	f.lastToken = token
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	return &models.CheckInResult{ScheduleID: 9, CandidateNameMasked: "P**********"}, nil
}

func (f *fakeCheckInEngine) BatchScan(_ context.Context, _ models.Principal, tokens []string) ([]models.ScanOutcome, error) {
	f.lastTokens = tokens
	out := make([]models.ScanOutcome, len(tokens))
	for i, tok := range tokens {
		out[i] = models.ScanOutcome{Index: i}
		if strings.HasPrefix(tok, "bad") {
			out[i].Error = &models.OutcomeError{Code: appErrors.ErrTokenMalformed.Code, Message: "token malformed"}
			continue
		}
		out[i].Result = &models.CheckInResult{ScheduleID: int64(i + 1)}
	}
	return out, nil
}

func (f *fakeCheckInEngine) record(name string, id int64) (*models.Schedule, error) {
	f.calls = append(f.calls, name)
	f.lastID = id
	if f.transErr != nil {
		return nil, f.transErr
	}
	return &models.Schedule{ID: id}, nil
}

func (f *fakeCheckInEngine) MarkInProgress(_ context.Context, _ models.Principal, id int64) (*models.Schedule, error) {
	return f.record("in-progress", id)
}

func (f *fakeCheckInEngine) Complete(_ context.Context, _ models.Principal, id int64) (*models.Schedule, error) {
	return f.record("complete", id)
}

func (f *fakeCheckInEngine) NoShow(_ context.Context, _ models.Principal, id int64) (*models.Schedule, error) {
	return f.record("no-show", id)
}

func (f *fakeCheckInEngine) CancelSchedule(_ context.Context, _ models.Principal, id int64) (*models.Schedule, error) {
	return f.record("cancel", id)
}

func (f *fakeCheckInEngine) CancelCandidate(_ context.Context, _ models.Principal, id int64) (*models.Candidate, error) {
	f.calls = append(f.calls, "cancel-candidate")
	f.lastID = id
	return &models.Candidate{ID: id, Status: models.CandidateCancelled}, nil
}

func (f *fakeCheckInEngine) IssueToken(_ context.Context, _ models.Principal, id int64) (*models.IssuedToken, error) {
	f.lastID = id
	return &models.IssuedToken{ScheduleID: id, Token: "tok"}, nil
}

func (f *fakeCheckInEngine) IssueQR(_ context.Context, _ models.Principal, id int64, size int) ([]byte, *models.IssuedToken, error) {
	f.lastID = id
	f.lastSize = size
	return []byte{0x89, 'P', 'N', 'G'}, &models.IssuedToken{ScheduleID: id, ExpiresAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}, nil
}

func checkInRouter(principal *models.Principal, engine *fakeCheckInEngine) http.Handler {
	h := &CheckInHandler{engine: engine}
	r := newTestRouter(principal)
	r.POST("/checkin/scan", h.Scan)
	r.POST("/checkin/batch-scan", h.BatchScan)
	r.POST("/schedules/:id/in-progress", h.InProgress)
	r.POST("/schedules/:id/complete", h.Complete)
	r.POST("/schedules/:id/no-show", h.NoShow)
	r.POST("/schedules/:id/cancel", h.CancelSchedule)
	r.POST("/candidates/:id/cancel", h.CancelCandidate)
	r.GET("/schedules/:id/token", h.Token)
	r.GET("/schedules/:id/qr", h.QR)
	return r
}

func TestCheckInHandlerScan(t *testing.T) {
	engine := &fakeCheckInEngine{}
	r := checkInRouter(&staffCaller, engine)

	rec := doRequest(r, http.MethodPost, "/checkin/scan", `{"token":"abc.def"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc.def", engine.lastToken)
	var result models.CheckInResult
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &result))
	assert.Equal(t, int64(9), result.ScheduleID)

	rec = doRequest(r, http.MethodPost, "/checkin/scan", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckInHandlerScanMapsErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   appErrors.Kind
	}{
		{appErrors.ErrTokenExpired, http.StatusBadRequest, appErrors.KindToken},
		{appErrors.ErrAlreadyCheckedIn, http.StatusConflict, appErrors.KindStateViolation},
		{appErrors.ErrForbidden, http.StatusForbidden, appErrors.KindAccessDenied},
		{appErrors.ErrUnavailable, http.StatusServiceUnavailable, appErrors.KindUnavailable},
	}
	for _, tc := range cases {
		t.Run(appErrors.FromError(tc.err).Code, func(t *testing.T) {
			rec := doRequest(checkInRouter(&staffCaller, &fakeCheckInEngine{scanErr: tc.err}), http.MethodPost, "/checkin/scan", `{"token":"x"}`)
			require.Equal(t, tc.status, rec.Code)
			assert.Equal(t, string(tc.kind), decodeEnvelope(t, rec).Meta["kind"])
		})
	}
}

func TestCheckInHandlerBatchScan(t *testing.T) {
	engine := &fakeCheckInEngine{}
	r := checkInRouter(&staffCaller, engine)

	rec := doRequest(r, http.MethodPost, "/checkin/batch-scan", `{"tokens":["a","bad-1","b"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, float64(2), env.Meta["checked_in"])
	assert.Equal(t, float64(1), env.Meta["failed"])
	assert.Equal(t, []string{"a", "bad-1", "b"}, engine.lastTokens)

	rec = doRequest(r, http.MethodPost, "/checkin/batch-scan", `{"tokens":[]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	tokens := make([]string, 201)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("%q", "t")
	}
	rec = doRequest(r, http.MethodPost, "/checkin/batch-scan", `{"tokens":[`+strings.Join(tokens, ",")+`]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCheckInHandlerTransitions(t *testing.T) {
	engine := &fakeCheckInEngine{}
	r := checkInRouter(&staffCaller, engine)

	for _, path := range []string{"in-progress", "complete", "no-show", "cancel"} {
		rec := doRequest(r, http.MethodPost, "/schedules/12/"+path, "")
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
	assert.Equal(t, []string{"in-progress", "complete", "no-show", "cancel"}, engine.calls)
	assert.Equal(t, int64(12), engine.lastID)

	rec := doRequest(r, http.MethodPost, "/schedules/0/complete", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	engine.transErr = appErrors.ErrNoShowTooEarly
	rec = doRequest(r, http.MethodPost, "/schedules/12/no-show", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NO_SHOW_TOO_EARLY", decodeEnvelope(t, rec).Error.Code)
}

func TestCheckInHandlerCancelCandidate(t *testing.T) {
	engine := &fakeCheckInEngine{}
	rec := doRequest(checkInRouter(&adminCaller, engine), http.MethodPost, "/candidates/5/cancel", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var candidate models.Candidate
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &candidate))
	assert.Equal(t, models.CandidateCancelled, candidate.Status)
	assert.Equal(t, int64(5), engine.lastID)
}

func TestCheckInHandlerQR(t *testing.T) {
	engine := &fakeCheckInEngine{}
	r := checkInRouter(&adminCaller, engine)

	rec := doRequest(r, http.MethodGet, "/schedules/8/qr", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "8", rec.Header().Get("X-Schedule-ID"))
	assert.Equal(t, "Sat, 01 Mar 2025 10:00:00 GMT", rec.Header().Get("X-Token-Expires-At"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, qrtoken.DefaultQRSize, engine.lastSize)

	rec = doRequest(r, http.MethodGet, "/schedules/8/qr?size=512", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 512, engine.lastSize)

	rec = doRequest(r, http.MethodGet, "/schedules/8/qr?size=64", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCheckInHandlerToken(t *testing.T) {
	rec := doRequest(checkInRouter(&adminCaller, &fakeCheckInEngine{}), http.MethodGet, "/schedules/3/token", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var issued models.IssuedToken
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &issued))
	assert.Equal(t, int64(3), issued.ScheduleID)
	assert.Equal(t, "tok", issued.Token)
}
