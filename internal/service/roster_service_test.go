package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/dronexam-api/internal/models"
	appErrors "github.com/noah-isme/dronexam-api/pkg/errors"
)

func TestRosterExportCSV(t *testing.T) {
	f := newEngineFixture(t)
	f.addCandidates(t, instA, productPractical, 1, 2)
	f.addPending(t, 2, venueField, models.ActivityPracticalExam, at(9, 15), 15)
	f.addPending(t, 1, venueField, models.ActivityPracticalExam, at(9, 0), 15)
	roster := NewRosterService(f.store, f.guard, nil)

	file, err := roster.Export(context.Background(), staffPrincipal, venueField, examDay, RosterFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "roster-300-2025-03-01.csv", file.Filename)
	assert.Equal(t, "text/csv; charset=utf-8", file.ContentType)
	assert.Equal(t, 2, file.Rows)

	records, err := csv.NewReader(bytes.NewReader(file.Body)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "Pos", records[0][0])
	assert.Equal(t, "09:00", records[1][1])
	assert.Equal(t, "09:15", records[1][2])
	assert.Equal(t, "P***********", records[1][4])
	assert.Equal(t, "I********", records[1][5])
	assert.Equal(t, string(models.SchedulePending), records[1][7])
	assert.Equal(t, "09:15", records[2][1])
}

func TestRosterExportScopesInstitutions(t *testing.T) {
	f := newEngineFixture(t)
	f.addCandidates(t, instA, productPractical, 1)
	f.addCandidates(t, instB, productPractical, 2)
	f.addPending(t, 1, venueField, models.ActivityPracticalExam, at(9, 0), 15)
	f.addPending(t, 2, venueField, models.ActivityPracticalExam, at(9, 15), 15)
	roster := NewRosterService(f.store, f.guard, nil)

	file, err := roster.Export(context.Background(), institutionPrincipal(instB), venueField, examDay, RosterFormatPDF)
	require.NoError(t, err)
	assert.Equal(t, 1, file.Rows)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.True(t, bytes.HasPrefix(file.Body, []byte("%PDF")))

	file, err = roster.Export(context.Background(), adminPrincipal, venueField, examDay, RosterFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, 2, file.Rows)
	assert.Contains(t, string(file.Body), "Pilot Number", "admins see full names")
}

func TestRosterExportRejects(t *testing.T) {
	f := newEngineFixture(t)
	roster := NewRosterService(f.store, f.guard, nil)

	_, err := roster.Export(context.Background(), adminPrincipal, venueField, examDay, "xlsx")
	assert.Equal(t, appErrors.ErrValidation.Code, codeOf(err))

	_, err = roster.Export(context.Background(), venueStaff(venueField2), venueField, examDay, RosterFormatCSV)
	assert.Equal(t, appErrors.ErrForbidden.Code, codeOf(err))

	_, err = roster.Export(context.Background(), adminPrincipal, 9999, examDay, RosterFormatCSV)
	assert.Equal(t, appErrors.ErrNotFound.Code, codeOf(err))
}
