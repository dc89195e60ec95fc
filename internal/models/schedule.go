package models

import (
	"fmt"
	"time"
)

// Schedule binds a candidate to a slot at a venue.
type Schedule struct {
	ID               int64          `db:"id" json:"id"`
	CandidateID      int64          `db:"candidate_id" json:"candidate_id"`
	VenueID          int64          `db:"venue_id" json:"venue_id"`
	ExamProductID    int64          `db:"exam_product_id" json:"exam_product_id"`
	ExamDate         time.Time      `db:"exam_date" json:"exam_date"`
	StartTime        time.Time      `db:"start_time" json:"start_time"`
	EndTime          time.Time      `db:"end_time" json:"end_time"`
	ActivityType     ActivityType   `db:"activity_type" json:"activity_type"`
	Status           ScheduleStatus `db:"status" json:"status"`
	CheckInAt        *time.Time     `db:"check_in_at" json:"check_in_at,omitempty"`
	StartedAt        *time.Time     `db:"started_at" json:"started_at,omitempty"`
	FinishedAt       *time.Time     `db:"finished_at" json:"finished_at,omitempty"`
	QueuePosition    *int           `db:"queue_position" json:"queue_position,omitempty"`
	EstimatedWaitMin *int           `db:"estimated_wait_min" json:"estimated_wait_min,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

// Lane returns the serialization unit the schedule belongs to.
func (s Schedule) Lane() Lane {
	return Lane{VenueID: s.VenueID, ExamDate: s.ExamDate, Activity: s.ActivityType}
}

// Overlaps reports whether the half-open windows of s and the given bounds intersect.
func (s Schedule) Overlaps(start, end time.Time) bool {
	return s.StartTime.Before(end) && start.Before(s.EndTime)
}

// SameWindow reports whether s occupies exactly [start, end).
func (s Schedule) SameWindow(start, end time.Time) bool {
	return s.StartTime.Equal(start) && s.EndTime.Equal(end)
}

// DurationMin returns the slot length in minutes.
func (s Schedule) DurationMin() int {
	return int(s.EndTime.Sub(s.StartTime) / time.Minute)
}

// ScheduleFilter describes query params for listing schedules.
type ScheduleFilter struct {
	VenueID       int64
	CandidateID   int64
	InstitutionID int64
	Date          *time.Time
	Status        ScheduleStatus
	Page          int
	PageSize      int
}

// Lane is the (venue, date, activity) tuple that check-in and queue
// recomputation serialize on.
type Lane struct {
	VenueID  int64        `json:"venue_id"`
	ExamDate time.Time    `json:"exam_date"`
	Activity ActivityType `json:"activity_type"`
}

// Key returns a stable textual identity for locks and cache keys.
func (l Lane) Key() string {
	return fmt.Sprintf("%d:%s:%s", l.VenueID, FormatDate(l.ExamDate), l.Activity)
}

// Less orders lanes by venue, date and activity.
func (l Lane) Less(o Lane) bool {
	if l.VenueID != o.VenueID {
		return l.VenueID < o.VenueID
	}
	if !l.ExamDate.Equal(o.ExamDate) {
		return l.ExamDate.Before(o.ExamDate)
	}
	return l.Activity < o.Activity
}
