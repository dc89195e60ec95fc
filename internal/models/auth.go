package models

import "github.com/golang-jwt/jwt/v5"

// PrincipalClaims is the bearer token payload minted by the identity edge.
// The subject is the principal id.
type PrincipalClaims struct {
	Role          Role   `json:"role"`
	InstitutionID *int64 `json:"institution_id,omitempty"`
	CandidateID   *int64 `json:"candidate_id,omitempty"`
	VenueID       *int64 `json:"venue_id,omitempty"`
	jwt.RegisteredClaims
}

// Principal converts the claims into the engine's caller identity.
func (c PrincipalClaims) Principal() Principal {
	return Principal{
		ID:            c.Subject,
		Role:          c.Role,
		InstitutionID: c.InstitutionID,
		CandidateID:   c.CandidateID,
		VenueID:       c.VenueID,
	}
}
