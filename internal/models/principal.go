package models

import "fmt"

// Role is the access role carried by an authenticated principal.
type Role string

const (
	RoleSuperAdmin      Role = "SUPERADMIN"
	RoleExamAdmin       Role = "EXAM_ADMIN"
	RoleInstitutionUser Role = "INSTITUTION_USER"
	RoleStaff           Role = "STAFF"
	RoleCandidate       Role = "CANDIDATE"
)

// SystemPrincipalID identifies background jobs acting on behalf of the center.
const SystemPrincipalID = "system"

// Principal is an authenticated caller as handed over by the edge.
type Principal struct {
	ID            string `json:"id"`
	Role          Role   `json:"role"`
	InstitutionID *int64 `json:"institution_id,omitempty"`
	CandidateID   *int64 `json:"candidate_id,omitempty"`
	// VenueID scopes staff to a single venue when set.
	VenueID *int64 `json:"venue_id,omitempty"`
}

// SystemPrincipal is used by the no-show sweeper and operator tooling.
func SystemPrincipal() Principal {
	return Principal{ID: SystemPrincipalID, Role: RoleSuperAdmin}
}

// Validate enforces the role bindings.
func (p Principal) Validate() error {
	switch p.Role {
	case RoleSuperAdmin, RoleExamAdmin, RoleStaff:
	case RoleInstitutionUser:
		if p.InstitutionID == nil {
			return fmt.Errorf("institution user %q has no institution", p.ID)
		}
	case RoleCandidate:
		if p.CandidateID == nil {
			return fmt.Errorf("candidate principal %q has no candidate", p.ID)
		}
	default:
		return fmt.Errorf("unknown role %q", p.Role)
	}
	if p.ID == "" {
		return fmt.Errorf("principal id required")
	}
	return nil
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
