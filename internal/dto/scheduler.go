package dto

import "time"

// SchedulePolicy tunes batch placement.
type SchedulePolicy struct {
	GroupByInstitution bool `json:"group_by_institution"`
	// PerCandidateDurationMin overrides the product duration when set.
	PerCandidateDurationMin int  `json:"per_candidate_duration_min" validate:"omitempty,min=1,max=480"`
	GapMin                  int  `json:"gap_min" validate:"min=0,max=480"`
	MaxPerDay               int  `json:"max_per_day" validate:"min=0"`
	AllowRolloverDays       bool `json:"allow_rollover_days"`
}

// BatchScheduleRequest places a set of candidates at one venue.
type BatchScheduleRequest struct {
	CandidateIDs  []int64        `json:"candidate_ids" validate:"required,min=1,max=1000,dive,gt=0"`
	ExamProductID int64          `json:"exam_product_id" validate:"required,gt=0"`
	VenueID       int64          `json:"venue_id" validate:"required,gt=0"`
	ExamDate      string         `json:"exam_date" validate:"required,datetime=2006-01-02"`
	StartOfDay    string         `json:"start_of_day" validate:"omitempty,datetime=15:04"`
	EndOfDay      string         `json:"end_of_day" validate:"omitempty,datetime=15:04"`
	Policy        SchedulePolicy `json:"policy"`
}

// ScheduleProposal is one placement produced before commit.
type ScheduleProposal struct {
	CandidateID  int64     `json:"candidate_id"`
	VenueID      int64     `json:"venue_id"`
	ExamDate     string    `json:"exam_date"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	ActivityType string    `json:"activity_type"`
}

// ScheduleQuery captures GET /schedules filters.
type ScheduleQuery struct {
	VenueID     int64  `form:"venue_id" validate:"omitempty,gt=0"`
	CandidateID int64  `form:"candidate_id" validate:"omitempty,gt=0"`
	Date        string `form:"date" validate:"omitempty,datetime=2006-01-02"`
	Status      string `form:"status" validate:"omitempty,oneof=PENDING CHECKED_IN IN_PROGRESS COMPLETED CANCELLED NO_SHOW"`
	Page        int    `form:"page" validate:"omitempty,min=1"`
	PageSize    int    `form:"page_size" validate:"omitempty,min=1,max=100"`
}

// PendingCandidatesQuery captures GET /candidates/pending filters.
type PendingCandidatesQuery struct {
	Date          string `form:"date" validate:"required,datetime=2006-01-02"`
	InstitutionID int64  `form:"institution_id" validate:"omitempty,gt=0"`
	ExamProductID int64  `form:"exam_product_id" validate:"omitempty,gt=0"`
}
