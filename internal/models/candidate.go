package models

import (
	"strings"
	"time"
)

// Candidate is a person registered for an exam product.
type Candidate struct {
	ID             int64           `db:"id" json:"id"`
	IDNumber       string          `db:"id_number" json:"id_number"`
	FullName       string          `db:"full_name" json:"full_name"`
	InstitutionID  int64           `db:"institution_id" json:"institution_id"`
	ExamProductID  int64           `db:"exam_product_id" json:"exam_product_id"`
	Status         CandidateStatus `db:"status" json:"status"`
	CurrentVenueID *int64          `db:"current_venue_id" json:"current_venue_id,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// Masked returns a copy with personal fields masked.
func (c Candidate) Masked() Candidate {
	c.FullName = MaskName(c.FullName)
	c.IDNumber = MaskName(c.IDNumber)
	return c
}

// CandidateFilter narrows candidate listings.
type CandidateFilter struct {
	InstitutionID int64
	ExamProductID int64
	Status        CandidateStatus
	IDs           []int64
	Page          int
	PageSize      int
}

// MaskName keeps the first character and replaces every following character with '*'.
func MaskName(name string) string {
	runes := []rune(name)
	if len(runes) == 0 {
		return ""
	}
	return string(runes[0]) + strings.Repeat("*", len(runes)-1)
}
