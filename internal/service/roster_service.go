package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/dronexam-api/internal/models"
	"github.com/noah-isme/dronexam-api/internal/repository"
	appErrors "github.com/noah-isme/dronexam-api/pkg/errors"
	"github.com/noah-isme/dronexam-api/pkg/export"
)

// Roster formats.
const (
	RosterFormatCSV = "csv"
	RosterFormatPDF = "pdf"
)

type sheetRenderer interface {
	Render(sheet export.Sheet) ([]byte, error)
	ContentType() string
}

// RosterFile is a rendered venue day sheet.
type RosterFile struct {
	Filename    string
	ContentType string
	Body        []byte
	Rows        int
}

// RosterService renders the schedules of one venue day.
type RosterService struct {
	store     repository.Reader
	guard     *AccessGuard
	renderers map[string]sheetRenderer
	logger    *zap.Logger
}

// NewRosterService constructs the roster exporter.
func NewRosterService(store repository.Reader, guard *AccessGuard, logger *zap.Logger) *RosterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RosterService{
		store: store,
		guard: guard,
		renderers: map[string]sheetRenderer{
			RosterFormatCSV: export.NewCSVExporter(),
			RosterFormatPDF: export.NewPDFExporter(),
		},
		logger: logger,
	}
}

var rosterColumns = []export.Column{
	{Key: "position", Header: "Pos", Width: 12},
	{Key: "start", Header: "Start", Width: 20},
	{Key: "end", Header: "End", Width: 20},
	{Key: "schedule_id", Header: "Schedule", Width: 22},
	{Key: "candidate", Header: "Candidate"},
	{Key: "id_number", Header: "ID Number", Width: 36},
	{Key: "activity", Header: "Activity", Width: 36},
	{Key: "status", Header: "Status", Width: 28},
	{Key: "check_in", Header: "Check-in", Width: 20},
}

// Export renders the roster in format.
func (s *RosterService) Export(ctx context.Context, principal models.Principal, venueID int64, date time.Time, format string) (*RosterFile, error) {
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported roster format %q", format))
	}
	if err := s.guard.Authorize(ctx, principal, ActionScheduleRead, Resource{VenueID: venueID}); err != nil {
		return nil, err
	}

	venue, err := s.store.GetVenue(ctx, venueID)
	if err != nil {
		return nil, loadError(err, "venue")
	}
	day, err := s.store.ListVenueDay(ctx, venueID, date)
	if err != nil {
		return nil, loadError(err, "venue day")
	}
	ids := make([]int64, 0, len(day))
	for _, sc := range day {
		ids = append(ids, sc.CandidateID)
	}
	candidates, err := s.store.GetCandidates(ctx, ids)
	if err != nil {
		return nil, loadError(err, "candidates")
	}
	byID := make(map[int64]models.Candidate, len(candidates))
	owners := make(map[int64]int64, len(candidates))
	for _, c := range candidates {
		if principal.Role == models.RoleStaff {
			c = c.Masked()
		}
		byID[c.ID] = c
		owners[c.ID] = c.InstitutionID
	}
	day = s.guard.FilterSchedules(principal, day, owners)

	loc := venue.Location()
	sheet := export.Sheet{
		Title:    venue.Name,
		Subtitle: fmt.Sprintf("Roster %s (%s)", models.FormatDate(date), loc.String()),
		Columns:  rosterColumns,
		Rows:     make([]map[string]string, 0, len(day)),
	}
	for _, sc := range day {
		c := byID[sc.CandidateID]
		row := map[string]string{
			"start":       sc.StartTime.In(loc).Format("15:04"),
			"end":         sc.EndTime.In(loc).Format("15:04"),
			"schedule_id": strconv.FormatInt(sc.ID, 10),
			"candidate":   c.FullName,
			"id_number":   c.IDNumber,
			"activity":    string(sc.ActivityType),
			"status":      string(sc.Status),
		}
		if sc.QueuePosition != nil {
			row["position"] = strconv.Itoa(*sc.QueuePosition)
		}
		if sc.CheckInAt != nil {
			row["check_in"] = sc.CheckInAt.In(loc).Format("15:04")
		}
		sheet.Rows = append(sheet.Rows, row)
	}

	body, err := renderer.Render(sheet)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
	}
	s.logger.Debug("roster exported", zap.Int64("venue_id", venueID), zap.String("format", format), zap.Int("rows", len(sheet.Rows)))
	return &RosterFile{
		Filename:    fmt.Sprintf("roster-%d-%s.%s", venueID, models.FormatDate(date), format),
		ContentType: renderer.ContentType(),
		Body:        body,
		Rows:        len(sheet.Rows),
	}, nil
}
