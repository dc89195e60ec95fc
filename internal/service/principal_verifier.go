package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/dronexam-api/internal/models"
	appErrors "github.com/noah-isme/dronexam-api/pkg/errors"
)

// PrincipalVerifier turns edge-issued HS256 bearer tokens into principals.
// Token issuance belongs to the identity edge; Sign exists for operator
// tooling and tests.
type PrincipalVerifier struct {
	secret []byte
	issuer string
}

// NewPrincipalVerifier constructs a verifier. An empty issuer accepts any.
func NewPrincipalVerifier(secret, issuer string) *PrincipalVerifier {
	return &PrincipalVerifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses tokenString and returns the principal it carries.
func (v *PrincipalVerifier) Verify(tokenString string) (models.Principal, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := &models.PrincipalClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return models.Principal{}, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired access token")
	}

	principal := claims.Principal()
	if err := principal.Validate(); err != nil {
		return models.Principal{}, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "access token carries an invalid principal")
	}
	return principal, nil
}

// Sign mints a token for p valid for ttl from now.
func (v *PrincipalVerifier) Sign(p models.Principal, now time.Time, ttl time.Duration) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	claims := &models.PrincipalClaims{
		Role:          p.Role,
		InstitutionID: p.InstitutionID,
		CandidateID:   p.CandidateID,
		VenueID:       p.VenueID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign principal token: %w", err)
	}
	return signed, nil
}
