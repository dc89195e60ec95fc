package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/dronexam-api/internal/models"
	appErrors "github.com/noah-isme/dronexam-api/pkg/errors"
)

func TestPrincipalVerifierRoundTrip(t *testing.T) {
	verifier := NewPrincipalVerifier("edge-secret", "dronexam-edge")
	venue := venueField
	staff := models.Principal{ID: "staff-9", Role: models.RoleStaff, VenueID: &venue}

	token, err := verifier.Sign(staff, time.Now(), time.Minute)
	require.NoError(t, err)

	got, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "staff-9", got.ID)
	assert.Equal(t, models.RoleStaff, got.Role)
	require.NotNil(t, got.VenueID)
	assert.Equal(t, venueField, *got.VenueID)
}

func TestPrincipalVerifierRejects(t *testing.T) {
	verifier := NewPrincipalVerifier("edge-secret", "dronexam-edge")

	expired, err := verifier.Sign(adminPrincipal, time.Now().Add(-time.Hour), time.Minute)
	require.NoError(t, err)
	_, err = verifier.Verify(expired)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, codeOf(err))

	foreign, err := NewPrincipalVerifier("other-secret", "dronexam-edge").Sign(adminPrincipal, time.Now(), time.Minute)
	require.NoError(t, err)
	_, err = verifier.Verify(foreign)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, codeOf(err))

	otherIssuer, err := NewPrincipalVerifier("edge-secret", "someone-else").Sign(adminPrincipal, time.Now(), time.Minute)
	require.NoError(t, err)
	_, err = verifier.Verify(otherIssuer)
	assert.Error(t, err)

	_, err = verifier.Verify("not-a-jwt")
	assert.Error(t, err)

	_, err = verifier.Sign(models.Principal{ID: "c", Role: models.RoleCandidate}, time.Now(), time.Minute)
	assert.Error(t, err)
}
